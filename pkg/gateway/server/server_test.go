package server

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/voicelane/voicelane/pkg/catalog"
	"github.com/voicelane/voicelane/pkg/gateway/config"
)

func testConfig() config.Config {
	return config.Config{
		AuthMode: config.AuthModeDisabled,
		APIKeys:  map[string]struct{}{},

		CORSAllowedOrigins: map[string]struct{}{},

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
		ReadHeaderTimeout:       time.Second,
		ReadTimeout:             time.Second,
	}
}

func testServer() *Server {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return New(testConfig(), logger, catalog.NewMemory(), Providers{})
}

func TestServer_UnknownRoute_ReturnsJSON404(t *testing.T) {
	s := testServer()

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/does-not-exist", nil)
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("content-type=%q", ct)
	}
	if !strings.Contains(rr.Body.String(), `"type":"not_found_error"`) {
		t.Fatalf("unexpected body: %q", rr.Body.String())
	}
}

func TestServer_HealthRoutes_Reachable(t *testing.T) {
	s := testServer()

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		s.Handler().ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("GET %s status=%d body=%q", path, rr.Code, rr.Body.String())
		}
	}
}

func TestServer_CatalogRoutes_Reachable(t *testing.T) {
	s := testServer()

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/stores", nil)
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("GET /v1/stores status=%d body=%q", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"stores"`) {
		t.Fatalf("unexpected body: %q", rr.Body.String())
	}
}

func TestServer_VoiceQueryRoute_Reachable(t *testing.T) {
	s := testServer()

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/voice/query", strings.NewReader(`{}`))
	s.Handler().ServeHTTP(rr, req)
	if rr.Code == http.StatusNotFound {
		t.Fatalf("/v1/voice/query unexpectedly returned 404")
	}
}

func TestServer_LiveRoute_Reachable(t *testing.T) {
	s := testServer()

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/live", nil)
	s.Handler().ServeHTTP(rr, req)
	if rr.Code == http.StatusNotFound {
		t.Fatalf("/v1/live unexpectedly returned 404")
	}
}

func TestServer_SessionDrainHelpers(t *testing.T) {
	s := testServer()

	if got := s.LiveSessionCount(); got != 0 {
		t.Fatalf("LiveSessionCount=%d, want 0", got)
	}
	s.WarnLiveSessions()
	s.CancelLiveSessions()
}
