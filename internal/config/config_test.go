package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BindAddr != ":9090" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":9090")
	}
	if cfg.ConnectTimeout != 30*time.Second {
		t.Fatalf("ConnectTimeout = %v, want 30s", cfg.ConnectTimeout)
	}
	if cfg.SubtitleClearDelay != 3*time.Second {
		t.Fatalf("SubtitleClearDelay = %v, want 3s", cfg.SubtitleClearDelay)
	}
	if cfg.TranscriptCooldown != 5*time.Second {
		t.Fatalf("TranscriptCooldown = %v, want 5s", cfg.TranscriptCooldown)
	}
	if cfg.DatabaseURL != "" {
		t.Fatalf("DatabaseURL = %q, want empty default", cfg.DatabaseURL)
	}
	if cfg.FFmpegBinary != "ffmpeg" {
		t.Fatalf("FFmpegBinary = %q, want %q", cfg.FFmpegBinary, "ffmpeg")
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("VOICE_CONNECT_TIMEOUT", "10s")
	t.Setenv("APP_ALLOW_ANY_ORIGIN", "yes")
	t.Setenv("VOICE_API_KEY", "  secret \n")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ConnectTimeout != 10*time.Second {
		t.Fatalf("ConnectTimeout = %v, want 10s", cfg.ConnectTimeout)
	}
	if !cfg.AllowAnyOrigin {
		t.Fatalf("AllowAnyOrigin = false, want true")
	}
	if cfg.APIKey != "secret" {
		t.Fatalf("APIKey = %q, want trimmed %q", cfg.APIKey, "secret")
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("VOICE_CONNECT_TIMEOUT", "100ms")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() error = nil, want rejection of sub-second connect timeout")
	}

	setCoreEnvEmpty(t)
	t.Setenv("APP_LATENCY_WINDOW_SIZE", "not-a-number")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() error = nil, want parse failure")
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"APP_LATENCY_WINDOW_SIZE",
		"VOICE_ENDPOINT_URL",
		"VOICE_API_KEY",
		"VOICE_MODEL",
		"VOICE_SYSTEM_PROMPT",
		"VOICE_VOICE_ID",
		"VOICE_CONNECT_TIMEOUT",
		"VOICE_SUBTITLE_CLEAR_DELAY",
		"VOICE_TRANSCRIPT_COOLDOWN",
		"AUDIO_FFMPEG_BINARY",
		"AUDIO_FFPLAY_BINARY",
		"AUDIO_RECORDING_PATH",
		"DATABASE_URL",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
