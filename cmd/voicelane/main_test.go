package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/voicelane/voicelane/pkg/catalog"
	"github.com/voicelane/voicelane/pkg/gateway/config"
	gatewayserver "github.com/voicelane/voicelane/pkg/gateway/server"
)

func TestRunMain_ReturnsNonZeroWhenConfigLoadFails(t *testing.T) {
	t.Parallel()

	var stderr bytes.Buffer
	exitCode := runMain(context.Background(), &stderr, serverDeps{
		loadConfig: func() (config.Config, error) {
			return config.Config{}, errors.New("boom")
		},
		newServer: func(cfg config.Config, logger *slog.Logger, repo catalog.Repository, p gatewayserver.Providers) *gatewayserver.Server {
			t.Fatalf("newServer should not be called when config load fails")
			return nil
		},
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {},
		signalStop:   func(c chan<- os.Signal) {},
	})

	if exitCode != 1 {
		t.Fatalf("exitCode=%d, want 1", exitCode)
	}
	if got := stderr.String(); got == "" {
		t.Fatalf("expected stderr output for startup error")
	}
}

func TestBuildHTTPServer_UsesConfiguredAddress(t *testing.T) {
	t.Parallel()

	cfg := config.Config{
		Addr:              "127.0.0.1:9999",
		ReadHeaderTimeout: 2 * time.Second,
		ReadTimeout:       3 * time.Second,
	}

	srv := buildHTTPServer(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	if srv.Addr != cfg.Addr {
		t.Fatalf("Addr=%q, want %q", srv.Addr, cfg.Addr)
	}
	if srv.ReadHeaderTimeout != cfg.ReadHeaderTimeout {
		t.Fatalf("ReadHeaderTimeout=%v, want %v", srv.ReadHeaderTimeout, cfg.ReadHeaderTimeout)
	}
	if srv.ReadTimeout != cfg.ReadTimeout {
		t.Fatalf("ReadTimeout=%v, want %v", srv.ReadTimeout, cfg.ReadTimeout)
	}
}

func TestBuildProviders_UnknownProvider(t *testing.T) {
	t.Parallel()

	_, err := buildProviders(context.Background(), config.Config{STTProvider: "carrier-pigeon"})
	if err == nil {
		t.Fatal("expected error for unknown stt provider")
	}
}

func TestBuildProviders_DeepgramOpenAI(t *testing.T) {
	t.Parallel()

	p, err := buildProviders(context.Background(), config.Config{
		STTProvider:    "deepgram",
		GenProvider:    "openai",
		TTSProvider:    "deepgram",
		DeepgramAPIKey: "dg_test",
		OpenAIAPIKey:   "sk_test",
	})
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	if p.STT == nil || p.Gen == nil || p.TTS == nil {
		t.Fatalf("providers=%+v", p)
	}
	if p.STT.Name() != "deepgram" {
		t.Fatalf("stt name=%q", p.STT.Name())
	}
}

func TestServerHandlerStack_Smoke(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	providers, err := buildProviders(context.Background(), config.Config{
		STTProvider:    "deepgram",
		GenProvider:    "openai",
		TTSProvider:    "deepgram",
		DeepgramAPIKey: "dg_test",
		OpenAIAPIKey:   "sk_test",
	})
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}

	srv := gatewayserver.New(config.Config{
		AuthMode: config.AuthModeDisabled,
		APIKeys:  map[string]struct{}{},

		CORSAllowedOrigins: map[string]struct{}{},
		ReadHeaderTimeout:  time.Second,
		ReadTimeout:        time.Second,

		SilenceEnergy:           0.02,
		BargeInEnergy:           0.05,
		SilenceCommitDuration:   700 * time.Millisecond,
		MaxBufferedDuration:     10 * time.Second,
		TranscribeTimeout:       8 * time.Second,
		GenerateTimeout:         15 * time.Second,
		SynthesizeTimeout:       20 * time.Second,
		ContextDepth:            6,
		ReplyMaxTokens:          150,
		LiveMaxAudioFrameBytes:  8192,
		LiveMaxJSONMessageBytes: 64 * 1024,
		LiveWSPingInterval:      20 * time.Second,
		LiveWSWriteTimeout:      5 * time.Second,
		LiveHandshakeTimeout:    5 * time.Second,
		SessionIdleTimeout:      5 * time.Minute,
		SessionReapInterval:     30 * time.Second,
	}, logger, catalog.NewMemory(), providers)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	for _, path := range []string{"/healthz", "/readyz", "/metrics", "/v1/stores"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s error: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status=%d, want %d", path, resp.StatusCode, http.StatusOK)
		}
	}
}
