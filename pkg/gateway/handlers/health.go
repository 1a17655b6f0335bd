package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/voicelane/voicelane/pkg/gateway/config"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type ReadyHandler struct {
	Config config.Config
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK           bool     `json:"ok"`
		AuthMode     string   `json:"auth_mode"`
		STTProvider  string   `json:"stt_provider"`
		GenProvider  string   `json:"gen_provider"`
		TTSProvider  string   `json:"tts_provider"`
		CatalogStore string   `json:"catalog_store"`
		Issues       []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	switch h.Config.AuthMode {
	case config.AuthModeRequired, config.AuthModeOptional, config.AuthModeDisabled:
	default:
		issues = append(issues, "invalid auth_mode")
	}
	if h.Config.AuthMode == config.AuthModeRequired && len(h.Config.APIKeys) == 0 {
		issues = append(issues, "auth_mode=required but no api keys configured")
	}

	if h.Config.SilenceEnergy <= 0 || h.Config.SilenceEnergy >= 1 {
		issues = append(issues, "silence energy must be in (0, 1)")
	}
	if h.Config.BargeInEnergy <= h.Config.SilenceEnergy {
		issues = append(issues, "barge-in energy must exceed silence energy")
	}
	if h.Config.SilenceCommitDuration <= 0 || h.Config.MaxBufferedDuration <= 0 {
		issues = append(issues, "audio durations must be > 0")
	}
	if h.Config.TranscribeTimeout <= 0 || h.Config.GenerateTimeout <= 0 || h.Config.SynthesizeTimeout <= 0 {
		issues = append(issues, "stage timeouts must be > 0")
	}
	if h.Config.ContextDepth <= 0 {
		issues = append(issues, "context depth must be > 0")
	}
	if h.Config.LiveMaxAudioFrameBytes <= 0 || h.Config.LiveMaxJSONMessageBytes <= 0 {
		issues = append(issues, "live frame budgets must be > 0")
	}
	if h.Config.SessionIdleTimeout <= 0 || h.Config.SessionReapInterval <= 0 {
		issues = append(issues, "session reaping intervals must be > 0")
	}
	if h.Config.ReadHeaderTimeout <= 0 || h.Config.ReadTimeout <= 0 {
		issues = append(issues, "timeouts must be > 0")
	}

	catalogStore := "memory"
	if h.Config.DatabaseURL != "" {
		catalogStore = "postgres"
	}

	ok := len(issues) == 0
	status := http.StatusOK
	if !ok {
		status = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{
		OK:           ok,
		AuthMode:     string(h.Config.AuthMode),
		STTProvider:  h.Config.STTProvider,
		GenProvider:  h.Config.GenProvider,
		TTSProvider:  h.Config.TTSProvider,
		CatalogStore: catalogStore,
		Issues:       issues,
	})
}
