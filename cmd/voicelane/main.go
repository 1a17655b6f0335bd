package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/voicelane/voicelane/pkg/catalog"
	"github.com/voicelane/voicelane/pkg/core/voice/gen"
	"github.com/voicelane/voicelane/pkg/core/voice/stt"
	"github.com/voicelane/voicelane/pkg/core/voice/tts"
	"github.com/voicelane/voicelane/pkg/gateway/config"
	gatewayserver "github.com/voicelane/voicelane/pkg/gateway/server"
)

type serverDeps struct {
	loadConfig   func() (config.Config, error)
	newServer    func(config.Config, *slog.Logger, catalog.Repository, gatewayserver.Providers) *gatewayserver.Server
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultServerDeps() serverDeps {
	return serverDeps{
		loadConfig: config.LoadFromEnv,
		newServer:  gatewayserver.New,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}
}

func buildProviders(ctx context.Context, cfg config.Config) (gatewayserver.Providers, error) {
	var p gatewayserver.Providers

	switch cfg.STTProvider {
	case "deepgram":
		p.STT = stt.NewDeepgram(cfg.DeepgramAPIKey)
	case "whisper":
		p.STT = stt.NewWhisper(cfg.OpenAIAPIKey)
	default:
		return p, fmt.Errorf("unknown stt provider %q", cfg.STTProvider)
	}

	switch cfg.GenProvider {
	case "openai":
		p.Gen = gen.NewOpenAI(cfg.OpenAIAPIKey, cfg.GenModel)
	case "gemini":
		g, err := gen.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GenModel)
		if err != nil {
			return p, fmt.Errorf("gemini client: %w", err)
		}
		p.Gen = g
	default:
		return p, fmt.Errorf("unknown gen provider %q", cfg.GenProvider)
	}

	switch cfg.TTSProvider {
	case "deepgram":
		p.TTS = tts.NewDeepgram(cfg.DeepgramAPIKey)
	case "openai":
		p.TTS = tts.NewOpenAI(cfg.OpenAIAPIKey)
	default:
		return p, fmt.Errorf("unknown tts provider %q", cfg.TTSProvider)
	}

	return p, nil
}

func buildCatalog(ctx context.Context, cfg config.Config, logger *slog.Logger) (catalog.Repository, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Info("using in-memory catalog")
		return catalog.NewMemory(), func() {}, nil
	}

	pg, err := catalog.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect catalog database: %w", err)
	}
	if err := pg.Migrate(ctx); err != nil {
		pg.Close()
		return nil, nil, fmt.Errorf("migrate catalog database: %w", err)
	}
	logger.Info("using postgres catalog")
	return pg, pg.Close, nil
}

func runServer(ctx context.Context, logger *slog.Logger, deps serverDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.newServer == nil {
		return errors.New("missing newServer dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	providers, err := buildProviders(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build providers: %w", err)
	}

	repo, closeRepo, err := buildCatalog(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRepo()

	srv := deps.newServer(cfg, logger, repo, providers)
	httpSrv := buildHTTPServer(cfg, srv.Handler())

	reaperCtx, stopReaper := context.WithCancel(ctx)
	defer stopReaper()
	srv.StartReaper(reaperCtx)

	logger.Info("starting voicelane", "addr", cfg.Addr, "auth_mode", cfg.AuthMode,
		"stt", cfg.STTProvider, "gen", cfg.GenProvider, "tts", cfg.TTSProvider)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	srv.WarnLiveSessions()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !srv.WaitLiveSessions(waitCtx) {
		srv.CancelLiveSessions()
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("voicelane stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps serverDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(stderr, "voicelane: %v\n", err)
		return 1
	}

	if err := runServer(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "voicelane: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultServerDeps()))
}
