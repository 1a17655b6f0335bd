package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/voicelane/voicelane/pkg/catalog"
	"github.com/voicelane/voicelane/pkg/core/pipeline/sessions"
	"github.com/voicelane/voicelane/pkg/core/voice/gen"
	"github.com/voicelane/voicelane/pkg/core/voice/stt"
	"github.com/voicelane/voicelane/pkg/core/voice/tts"
	"github.com/voicelane/voicelane/pkg/gateway/config"
	"github.com/voicelane/voicelane/pkg/gateway/handlers"
	"github.com/voicelane/voicelane/pkg/gateway/live"
	"github.com/voicelane/voicelane/pkg/gateway/metrics"
	"github.com/voicelane/voicelane/pkg/gateway/mw"
)

// Providers bundles the voice backends the server routes turns through.
type Providers struct {
	STT stt.Provider
	Gen gen.Provider
	TTS tts.Provider
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	repo      catalog.Repository
	providers Providers
	sessions  *sessions.Manager
	metrics   *metrics.Metrics
}

func New(cfg config.Config, logger *slog.Logger, repo catalog.Repository, providers Providers) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		mux:       http.NewServeMux(),
		repo:      repo,
		providers: providers,
		sessions:  sessions.NewManager(),
		metrics:   metrics.New("voicelane"),
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/", handlers.NotFoundHandler{})
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{Config: s.cfg})
	s.mux.Handle("/metrics", s.metrics.Handler())

	s.mux.Handle("/v1/live", live.Handler{
		Config:   s.cfg,
		Logger:   s.logger,
		Sessions: s.sessions,
		Catalog:  s.repo,
		Metrics:  s.metrics,
		STT:      s.providers.STT,
		Gen:      s.providers.Gen,
		TTS:      s.providers.TTS,
	})

	s.mux.Handle("/v1/voice/query", handlers.VoiceQueryHandler{
		Config:  s.cfg,
		Logger:  s.logger,
		Catalog: s.repo,
		Metrics: s.metrics,
		STT:     s.providers.STT,
		Gen:     s.providers.Gen,
		TTS:     s.providers.TTS,
	})

	handlers.CatalogHandler{Repo: s.repo}.Register(s.mux)
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Instrument(s.metrics, h)
	h = mw.Auth(s.cfg, h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// StartReaper evicts idle live sessions until ctx is cancelled.
func (s *Server) StartReaper(ctx context.Context) {
	go s.sessions.RunReaper(ctx, s.cfg.SessionReapInterval, s.cfg.SessionIdleTimeout)
}

// WarnLiveSessions tells connected clients the server is going away.
func (s *Server) WarnLiveSessions() {
	s.sessions.WarnAll("draining", "server is shutting down, please reconnect")
}

// WaitLiveSessions blocks until every live session has ended or ctx
// expires. Reports whether the count reached zero.
func (s *Server) WaitLiveSessions(ctx context.Context) bool {
	return s.sessions.Wait(ctx)
}

// CancelLiveSessions force-cancels whatever is still connected.
func (s *Server) CancelLiveSessions() {
	s.sessions.CancelAll()
}

// LiveSessionCount reports how many sessions are currently registered.
func (s *Server) LiveSessionCount() int {
	return s.sessions.Count()
}
