package handlers

import (
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/voicelane/voicelane/pkg/catalog"
	"github.com/voicelane/voicelane/pkg/core/pipeline"
	"github.com/voicelane/voicelane/pkg/core/types"
	"github.com/voicelane/voicelane/pkg/core/voice/gen"
	"github.com/voicelane/voicelane/pkg/core/voice/stt"
	"github.com/voicelane/voicelane/pkg/core/voice/tts"
	"github.com/voicelane/voicelane/pkg/gateway/config"
	"github.com/voicelane/voicelane/pkg/gateway/metrics"
)

// VoiceQueryHandler serves POST /v1/voice/query: one utterance in, one
// spoken reply out, no persistent session. Each request runs its own
// single-turn pipeline.
type VoiceQueryHandler struct {
	Config  config.Config
	Logger  *slog.Logger
	Catalog catalog.Lookup
	Metrics *metrics.Metrics

	STT stt.Provider
	Gen gen.Provider
	TTS tts.Provider

	// NewPipeline overrides pipeline construction in tests.
	NewPipeline func(cfg pipeline.Config, deps pipeline.Dependencies) (*pipeline.Orchestrator, error)
}

type voiceQueryRequest struct {
	StoreID   string `json:"store_id"`
	ProductID string `json:"product_id,omitempty"`
	AudioB64  string `json:"audio_b64,omitempty"`
	Text      string `json:"text,omitempty"`
	Voice     string `json:"voice,omitempty"`
	Language  string `json:"language,omitempty"`
}

type voiceQueryResponse struct {
	UserText    string `json:"user_text"`
	AgentText   string `json:"agent_text"`
	Status      string `json:"status"`
	Interrupted bool   `json:"interrupted"`
	AudioB64    string `json:"audio_b64,omitempty"`
	StoreName   string `json:"store_name,omitempty"`
}

func (h VoiceQueryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}

	var req voiceQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, r, "invalid JSON body", "")
		return
	}
	if req.StoreID == "" {
		badRequest(w, r, "store_id is required", "store_id")
		return
	}
	if req.AudioB64 == "" && strings.TrimSpace(req.Text) == "" {
		badRequest(w, r, "one of audio_b64 or text is required", "audio_b64")
		return
	}
	if req.AudioB64 != "" && req.Text != "" {
		badRequest(w, r, "audio_b64 and text are mutually exclusive", "text")
		return
	}
	var audio []byte
	if req.AudioB64 != "" {
		var err error
		audio, err = base64.StdEncoding.DecodeString(req.AudioB64)
		if err != nil {
			badRequest(w, r, "audio_b64 is not valid base64", "audio_b64")
			return
		}
	}

	grounding, err := h.Catalog.GroundingFor(r.Context(), req.StoreID, req.ProductID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	pcfg := h.pipelineConfig(req)
	newPipeline := h.NewPipeline
	if newPipeline == nil {
		newPipeline = pipeline.New
	}
	collector := &audioCollector{}
	orch, err := newPipeline(pcfg, pipeline.Dependencies{
		STT:    h.STT,
		Gen:    h.Gen,
		TTS:    h.TTS,
		Logger: h.Logger,
		Events: collector,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	var turn types.Turn
	if req.Text != "" {
		turn, err = orch.RunOnceText(r.Context(), req.Text, grounding)
	} else {
		turn, err = orch.RunOnce(r.Context(), audio, grounding)
	}
	if h.Metrics != nil {
		h.Metrics.RecordTurn(string(turn.Status), turn.CommittedAt.Sub(turn.StartedAt))
		if stage, ok := strings.CutPrefix(string(turn.Status), "failed:"); ok {
			h.Metrics.RecordStageError(stage)
		}
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := voiceQueryResponse{
		UserText:    turn.UserText,
		AgentText:   turn.AgentText,
		Status:      string(turn.Status),
		Interrupted: turn.Interrupted,
		StoreName:   grounding.StoreName,
	}
	if audio := collector.bytes(); len(audio) > 0 {
		resp.AudioB64 = base64.StdEncoding.EncodeToString(audio)
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(resp)
}

// audioCollector buffers synthesized audio so the whole reply can go back
// in one response body. Chunks arrive from the turn's worker goroutine.
type audioCollector struct {
	pipeline.NopEvents
	mu  sync.Mutex
	buf []byte
}

func (c *audioCollector) AudioChunk(chunk []byte) {
	c.mu.Lock()
	c.buf = append(c.buf, chunk...)
	c.mu.Unlock()
}

func (c *audioCollector) bytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf
}

func (h VoiceQueryHandler) pipelineConfig(req voiceQueryRequest) pipeline.Config {
	pcfg := pipeline.DefaultConfig()
	pcfg.TranscribeTimeout = h.Config.TranscribeTimeout
	pcfg.GenerateTimeout = h.Config.GenerateTimeout
	pcfg.SynthesizeTimeout = h.Config.SynthesizeTimeout
	pcfg.ContextDepth = h.Config.ContextDepth
	pcfg.ReplyMaxTokens = h.Config.ReplyMaxTokens
	pcfg.STTOpts.Model = h.Config.STTModel
	pcfg.STTOpts.Language = req.Language
	pcfg.STTOpts.SampleRate = 16000
	pcfg.STTOpts.Channels = 1
	pcfg.TTSOpts.Voice = h.Config.TTSVoice
	if req.Voice != "" {
		pcfg.TTSOpts.Voice = req.Voice
	}
	pcfg.TTSOpts.Format = "pcm"
	pcfg.TTSOpts.SampleRate = 16000
	return pcfg
}
