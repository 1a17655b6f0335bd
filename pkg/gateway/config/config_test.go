package config

import (
	"strings"
	"testing"
	"time"
)

var gatewayEnvKeys = []string{
	"VOICELANE_ADDR",
	"VOICELANE_AUTH_MODE",
	"VOICELANE_API_KEYS",
	"VOICELANE_CORS_ORIGINS",
	"VOICELANE_DATABASE_URL",
	"VOICELANE_STT_PROVIDER",
	"VOICELANE_GEN_PROVIDER",
	"VOICELANE_TTS_PROVIDER",
	"VOICELANE_DEEPGRAM_API_KEY",
	"VOICELANE_OPENAI_API_KEY",
	"VOICELANE_GEMINI_API_KEY",
	"VOICELANE_STT_MODEL",
	"VOICELANE_GEN_MODEL",
	"VOICELANE_TTS_VOICE",
	"VOICELANE_SILENCE_COMMIT_MS",
	"VOICELANE_MAX_BUFFERED_AUDIO",
	"VOICELANE_SEQ_GAP_TOLERANCE",
	"VOICELANE_SILENCE_ENERGY",
	"VOICELANE_BARGE_IN_ENERGY",
	"VOICELANE_TRANSCRIBE_TIMEOUT",
	"VOICELANE_GENERATE_TIMEOUT",
	"VOICELANE_SYNTHESIZE_TIMEOUT",
	"VOICELANE_CONTEXT_DEPTH",
	"VOICELANE_REPLY_MAX_TOKENS",
	"VOICELANE_LIVE_MAX_AUDIO_FRAME_BYTES",
	"VOICELANE_LIVE_MAX_JSON_MESSAGE_BYTES",
	"VOICELANE_LIVE_WS_PING_INTERVAL",
	"VOICELANE_LIVE_WS_WRITE_TIMEOUT",
	"VOICELANE_LIVE_HANDSHAKE_TIMEOUT",
	"VOICELANE_SESSION_IDLE_TIMEOUT",
	"VOICELANE_SESSION_REAP_INTERVAL",
	"VOICELANE_READ_HEADER_TIMEOUT",
	"VOICELANE_READ_TIMEOUT",
	"VOICELANE_SHUTDOWN_GRACE_PERIOD",
}

func clearGatewayEnv(t *testing.T) {
	t.Helper()
	for _, key := range gatewayEnvKeys {
		t.Setenv(key, "")
	}
	t.Setenv("VOICELANE_DEEPGRAM_API_KEY", "dg_test")
	t.Setenv("VOICELANE_OPENAI_API_KEY", "sk_test")
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("VOICELANE_API_KEYS", "vl_sk_test")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Addr != ":8080" {
		t.Fatalf("Addr = %q, want :8080", cfg.Addr)
	}
	if cfg.AuthMode != AuthModeRequired {
		t.Fatalf("AuthMode = %q, want %q", cfg.AuthMode, AuthModeRequired)
	}
	if cfg.STTProvider != "deepgram" || cfg.GenProvider != "openai" || cfg.TTSProvider != "deepgram" {
		t.Fatalf("providers = %q/%q/%q, want deepgram/openai/deepgram", cfg.STTProvider, cfg.GenProvider, cfg.TTSProvider)
	}
	if cfg.SilenceCommitDuration != 700*time.Millisecond {
		t.Fatalf("SilenceCommitDuration = %v, want 700ms", cfg.SilenceCommitDuration)
	}
	if cfg.MaxBufferedDuration != 10*time.Second {
		t.Fatalf("MaxBufferedDuration = %v, want 10s", cfg.MaxBufferedDuration)
	}
	if cfg.SeqGapTolerance != 3 {
		t.Fatalf("SeqGapTolerance = %d, want 3", cfg.SeqGapTolerance)
	}
	if cfg.SilenceEnergy != 0.02 {
		t.Fatalf("SilenceEnergy = %v, want 0.02", cfg.SilenceEnergy)
	}
	if cfg.BargeInEnergy != 0.05 {
		t.Fatalf("BargeInEnergy = %v, want 0.05", cfg.BargeInEnergy)
	}
	if cfg.TranscribeTimeout != 8*time.Second {
		t.Fatalf("TranscribeTimeout = %v, want 8s", cfg.TranscribeTimeout)
	}
	if cfg.GenerateTimeout != 15*time.Second {
		t.Fatalf("GenerateTimeout = %v, want 15s", cfg.GenerateTimeout)
	}
	if cfg.SynthesizeTimeout != 20*time.Second {
		t.Fatalf("SynthesizeTimeout = %v, want 20s", cfg.SynthesizeTimeout)
	}
	if cfg.ContextDepth != 6 {
		t.Fatalf("ContextDepth = %d, want 6", cfg.ContextDepth)
	}
	if cfg.ReplyMaxTokens != 150 {
		t.Fatalf("ReplyMaxTokens = %d, want 150", cfg.ReplyMaxTokens)
	}
	if cfg.LiveMaxAudioFrameBytes != 8192 {
		t.Fatalf("LiveMaxAudioFrameBytes = %d, want 8192", cfg.LiveMaxAudioFrameBytes)
	}
	if cfg.SessionIdleTimeout != 5*time.Minute {
		t.Fatalf("SessionIdleTimeout = %v, want 5m", cfg.SessionIdleTimeout)
	}
	if cfg.ShutdownGracePeriod != 30*time.Second {
		t.Fatalf("ShutdownGracePeriod = %v, want 30s", cfg.ShutdownGracePeriod)
	}
}

func TestLoadFromEnv_KeyParsingAndOverrides(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("VOICELANE_ADDR", ":9090")
	t.Setenv("VOICELANE_AUTH_MODE", "optional")
	t.Setenv("VOICELANE_API_KEYS", " k1 , k2 ,")
	t.Setenv("VOICELANE_CORS_ORIGINS", "https://app.example.com")
	t.Setenv("VOICELANE_SILENCE_COMMIT_MS", "500")
	t.Setenv("VOICELANE_GEN_PROVIDER", "gemini")
	t.Setenv("VOICELANE_GEMINI_API_KEY", "g_test")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Addr != ":9090" {
		t.Fatalf("Addr = %q, want :9090", cfg.Addr)
	}
	if len(cfg.APIKeys) != 2 {
		t.Fatalf("APIKeys = %v, want 2 trimmed keys", cfg.APIKeys)
	}
	if _, ok := cfg.APIKeys["k1"]; !ok {
		t.Fatal("k1 missing from APIKeys")
	}
	if _, ok := cfg.CORSAllowedOrigins["https://app.example.com"]; !ok {
		t.Fatal("origin missing from CORSAllowedOrigins")
	}
	if cfg.SilenceCommitDuration != 500*time.Millisecond {
		t.Fatalf("SilenceCommitDuration = %v, want 500ms", cfg.SilenceCommitDuration)
	}
	if cfg.GenProvider != "gemini" {
		t.Fatalf("GenProvider = %q, want gemini", cfg.GenProvider)
	}
}

func TestLoadFromEnv_SilenceCommitMillis(t *testing.T) {
	// The _MS variable takes a plain integer, not a duration string.
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"250", 250 * time.Millisecond},
		{"1200", 1200 * time.Millisecond},
		{"250ms", 700 * time.Millisecond},
		{"garbage", 700 * time.Millisecond},
	}

	for _, tc := range tests {
		t.Run(tc.value, func(t *testing.T) {
			clearGatewayEnv(t)
			t.Setenv("VOICELANE_AUTH_MODE", "disabled")
			t.Setenv("VOICELANE_SILENCE_COMMIT_MS", tc.value)

			cfg, err := LoadFromEnv()
			if err != nil {
				t.Fatalf("LoadFromEnv() error = %v", err)
			}
			if cfg.SilenceCommitDuration != tc.want {
				t.Fatalf("SilenceCommitDuration = %v, want %v", cfg.SilenceCommitDuration, tc.want)
			}
		})
	}
}

func TestLoadFromEnv_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(t *testing.T)
		wantErr string
	}{
		{
			name:    "required auth without keys",
			mutate:  func(t *testing.T) {},
			wantErr: "VOICELANE_API_KEYS",
		},
		{
			name: "bad auth mode",
			mutate: func(t *testing.T) {
				t.Setenv("VOICELANE_AUTH_MODE", "open")
			},
			wantErr: "VOICELANE_AUTH_MODE",
		},
		{
			name: "bad stt provider",
			mutate: func(t *testing.T) {
				t.Setenv("VOICELANE_AUTH_MODE", "disabled")
				t.Setenv("VOICELANE_STT_PROVIDER", "cartesia")
			},
			wantErr: "VOICELANE_STT_PROVIDER",
		},
		{
			name: "missing gemini key",
			mutate: func(t *testing.T) {
				t.Setenv("VOICELANE_AUTH_MODE", "disabled")
				t.Setenv("VOICELANE_GEN_PROVIDER", "gemini")
			},
			wantErr: "VOICELANE_GEMINI_API_KEY",
		},
		{
			name: "barge-in below silence threshold",
			mutate: func(t *testing.T) {
				t.Setenv("VOICELANE_AUTH_MODE", "disabled")
				t.Setenv("VOICELANE_BARGE_IN_ENERGY", "0.01")
			},
			wantErr: "VOICELANE_BARGE_IN_ENERGY",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clearGatewayEnv(t)
			tc.mutate(t)
			_, err := LoadFromEnv()
			if err == nil {
				t.Fatal("LoadFromEnv() = nil error, want validation failure")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error = %v, want mention of %s", err, tc.wantErr)
			}
		})
	}
}
