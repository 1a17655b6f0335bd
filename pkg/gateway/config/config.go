package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeOptional AuthMode = "optional"
	AuthModeDisabled AuthMode = "disabled"
)

type Config struct {
	Addr string

	AuthMode AuthMode
	APIKeys  map[string]struct{}

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// DatabaseURL enables the Postgres catalog. Empty runs in-memory.
	DatabaseURL string

	// Provider selection and credentials.
	STTProvider    string
	GenProvider    string
	TTSProvider    string
	DeepgramAPIKey string
	OpenAIAPIKey   string
	GeminiAPIKey   string
	STTModel       string
	GenModel       string
	TTSVoice       string

	// Pipeline tuning.
	SilenceCommitDuration time.Duration
	MaxBufferedDuration   time.Duration
	SeqGapTolerance       int
	SilenceEnergy         float64
	BargeInEnergy         float64
	TranscribeTimeout     time.Duration
	GenerateTimeout       time.Duration
	SynthesizeTimeout     time.Duration
	ContextDepth          int
	ReplyMaxTokens        int

	// Live WebSocket mode (/v1/live).
	LiveMaxAudioFrameBytes  int
	LiveMaxJSONMessageBytes int64
	LiveWSPingInterval      time.Duration
	LiveWSWriteTimeout      time.Duration
	LiveHandshakeTimeout    time.Duration
	SessionIdleTimeout      time.Duration
	SessionReapInterval     time.Duration

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                    envOr("VOICELANE_ADDR", ":8080"),
		AuthMode:                AuthMode(envOr("VOICELANE_AUTH_MODE", string(AuthModeRequired))),
		APIKeys:                 make(map[string]struct{}),
		CORSAllowedOrigins:      make(map[string]struct{}),
		DatabaseURL:             envOr("VOICELANE_DATABASE_URL", ""),
		STTProvider:             envOr("VOICELANE_STT_PROVIDER", "deepgram"),
		GenProvider:             envOr("VOICELANE_GEN_PROVIDER", "openai"),
		TTSProvider:             envOr("VOICELANE_TTS_PROVIDER", "deepgram"),
		DeepgramAPIKey:          envOr("VOICELANE_DEEPGRAM_API_KEY", ""),
		OpenAIAPIKey:            envOr("VOICELANE_OPENAI_API_KEY", ""),
		GeminiAPIKey:            envOr("VOICELANE_GEMINI_API_KEY", ""),
		STTModel:                envOr("VOICELANE_STT_MODEL", ""),
		GenModel:                envOr("VOICELANE_GEN_MODEL", ""),
		TTSVoice:                envOr("VOICELANE_TTS_VOICE", ""),
		SilenceCommitDuration:   envMillisOr("VOICELANE_SILENCE_COMMIT_MS", 700*time.Millisecond),
		MaxBufferedDuration:     envDurationOr("VOICELANE_MAX_BUFFERED_AUDIO", 10*time.Second),
		SeqGapTolerance:         envIntOr("VOICELANE_SEQ_GAP_TOLERANCE", 3),
		SilenceEnergy:           envFloat64Or("VOICELANE_SILENCE_ENERGY", 0.02),
		BargeInEnergy:           envFloat64Or("VOICELANE_BARGE_IN_ENERGY", 0.05),
		TranscribeTimeout:       envDurationOr("VOICELANE_TRANSCRIBE_TIMEOUT", 8*time.Second),
		GenerateTimeout:         envDurationOr("VOICELANE_GENERATE_TIMEOUT", 15*time.Second),
		SynthesizeTimeout:       envDurationOr("VOICELANE_SYNTHESIZE_TIMEOUT", 20*time.Second),
		ContextDepth:            envIntOr("VOICELANE_CONTEXT_DEPTH", 6),
		ReplyMaxTokens:          envIntOr("VOICELANE_REPLY_MAX_TOKENS", 150),
		LiveMaxAudioFrameBytes:  envIntOr("VOICELANE_LIVE_MAX_AUDIO_FRAME_BYTES", 8192),
		LiveMaxJSONMessageBytes: envInt64Or("VOICELANE_LIVE_MAX_JSON_MESSAGE_BYTES", 64*1024),
		LiveWSPingInterval:      envDurationOr("VOICELANE_LIVE_WS_PING_INTERVAL", 20*time.Second),
		LiveWSWriteTimeout:      envDurationOr("VOICELANE_LIVE_WS_WRITE_TIMEOUT", 5*time.Second),
		LiveHandshakeTimeout:    envDurationOr("VOICELANE_LIVE_HANDSHAKE_TIMEOUT", 5*time.Second),
		SessionIdleTimeout:      envDurationOr("VOICELANE_SESSION_IDLE_TIMEOUT", 5*time.Minute),
		SessionReapInterval:     envDurationOr("VOICELANE_SESSION_REAP_INTERVAL", 30*time.Second),
		ReadHeaderTimeout:       envDurationOr("VOICELANE_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:             envDurationOr("VOICELANE_READ_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod:     envDurationOr("VOICELANE_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeOptional, AuthModeDisabled:
	default:
		return Config{}, fmt.Errorf("VOICELANE_AUTH_MODE must be one of required|optional|disabled")
	}

	for _, key := range splitCSV(os.Getenv("VOICELANE_API_KEYS")) {
		cfg.APIKeys[key] = struct{}{}
	}
	for _, origin := range splitCSV(os.Getenv("VOICELANE_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if cfg.AuthMode == AuthModeRequired && len(cfg.APIKeys) == 0 {
		return Config{}, fmt.Errorf("VOICELANE_API_KEYS must be set when VOICELANE_AUTH_MODE=required")
	}

	switch cfg.STTProvider {
	case "deepgram", "whisper":
	default:
		return Config{}, fmt.Errorf("VOICELANE_STT_PROVIDER must be one of deepgram|whisper")
	}
	switch cfg.GenProvider {
	case "openai", "gemini":
	default:
		return Config{}, fmt.Errorf("VOICELANE_GEN_PROVIDER must be one of openai|gemini")
	}
	switch cfg.TTSProvider {
	case "deepgram", "openai":
	default:
		return Config{}, fmt.Errorf("VOICELANE_TTS_PROVIDER must be one of deepgram|openai")
	}

	if cfg.STTProvider == "deepgram" || cfg.TTSProvider == "deepgram" {
		if cfg.DeepgramAPIKey == "" {
			return Config{}, fmt.Errorf("VOICELANE_DEEPGRAM_API_KEY must be set when a deepgram provider is selected")
		}
	}
	if cfg.STTProvider == "whisper" || cfg.GenProvider == "openai" || cfg.TTSProvider == "openai" {
		if cfg.OpenAIAPIKey == "" {
			return Config{}, fmt.Errorf("VOICELANE_OPENAI_API_KEY must be set when an openai provider is selected")
		}
	}
	if cfg.GenProvider == "gemini" && cfg.GeminiAPIKey == "" {
		return Config{}, fmt.Errorf("VOICELANE_GEMINI_API_KEY must be set when VOICELANE_GEN_PROVIDER=gemini")
	}

	if cfg.SilenceCommitDuration <= 0 {
		return Config{}, fmt.Errorf("VOICELANE_SILENCE_COMMIT_MS must be > 0")
	}
	if cfg.MaxBufferedDuration <= 0 {
		return Config{}, fmt.Errorf("VOICELANE_MAX_BUFFERED_AUDIO must be > 0")
	}
	if cfg.SeqGapTolerance < 0 {
		return Config{}, fmt.Errorf("VOICELANE_SEQ_GAP_TOLERANCE must be >= 0")
	}
	if cfg.SilenceEnergy <= 0 || cfg.SilenceEnergy >= 1 {
		return Config{}, fmt.Errorf("VOICELANE_SILENCE_ENERGY must be in (0, 1)")
	}
	if cfg.BargeInEnergy <= cfg.SilenceEnergy || cfg.BargeInEnergy >= 1 {
		return Config{}, fmt.Errorf("VOICELANE_BARGE_IN_ENERGY must be in (silence_energy, 1)")
	}
	if cfg.TranscribeTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICELANE_TRANSCRIBE_TIMEOUT must be > 0")
	}
	if cfg.GenerateTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICELANE_GENERATE_TIMEOUT must be > 0")
	}
	if cfg.SynthesizeTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICELANE_SYNTHESIZE_TIMEOUT must be > 0")
	}
	if cfg.ContextDepth <= 0 {
		return Config{}, fmt.Errorf("VOICELANE_CONTEXT_DEPTH must be > 0")
	}
	if cfg.ReplyMaxTokens <= 0 {
		return Config{}, fmt.Errorf("VOICELANE_REPLY_MAX_TOKENS must be > 0")
	}
	if cfg.LiveMaxAudioFrameBytes <= 0 {
		return Config{}, fmt.Errorf("VOICELANE_LIVE_MAX_AUDIO_FRAME_BYTES must be > 0")
	}
	if cfg.LiveMaxJSONMessageBytes <= 0 {
		return Config{}, fmt.Errorf("VOICELANE_LIVE_MAX_JSON_MESSAGE_BYTES must be > 0")
	}
	if cfg.LiveWSPingInterval <= 0 {
		return Config{}, fmt.Errorf("VOICELANE_LIVE_WS_PING_INTERVAL must be > 0")
	}
	if cfg.LiveWSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICELANE_LIVE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.LiveHandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICELANE_LIVE_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.SessionIdleTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICELANE_SESSION_IDLE_TIMEOUT must be > 0")
	}
	if cfg.SessionReapInterval <= 0 {
		return Config{}, fmt.Errorf("VOICELANE_SESSION_REAP_INTERVAL must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICELANE_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICELANE_READ_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("VOICELANE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

// envMillisOr reads an integer number of milliseconds, matching the _MS
// suffix in the variable name.
func envMillisOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return time.Duration(n) * time.Millisecond
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
