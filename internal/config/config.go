package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the voice call service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	EndpointURL  string
	APIKey       string
	Model        string
	SystemPrompt string
	VoiceID      string

	ConnectTimeout     time.Duration
	SubtitleClearDelay time.Duration
	TranscriptCooldown time.Duration
	LatencyWindowSize  int

	FFmpegBinary string
	FFplayBinary string

	RecordingPath string
	DatabaseURL   string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "taletid"),
		AllowAnyOrigin:   false,
		EndpointURL:      envOrDefault("VOICE_ENDPOINT_URL", "wss://api.taletid.dev/v1/live"),
		APIKey:           stringsTrimSpace("VOICE_API_KEY"),
		Model:            envOrDefault("VOICE_MODEL", "gemini-2.5-flash-native-audio-preview-09-2025"),
		SystemPrompt:     envOrDefault("VOICE_SYSTEM_PROMPT", ""),
		// Default to a warm female voice for the Danish tutor persona.
		VoiceID:            envOrDefault("VOICE_VOICE_ID", "aoede"),
		ConnectTimeout:     30 * time.Second,
		SubtitleClearDelay: 3 * time.Second,
		TranscriptCooldown: 5 * time.Second,
		LatencyWindowSize:  256,
		FFmpegBinary:       envOrDefault("AUDIO_FFMPEG_BINARY", "ffmpeg"),
		FFplayBinary:       envOrDefault("AUDIO_FFPLAY_BINARY", "ffplay"),
		RecordingPath:      stringsTrimSpace("AUDIO_RECORDING_PATH"),
		DatabaseURL:        stringsTrimSpace("DATABASE_URL"),
		ShutdownTimeout:    15 * time.Second,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ConnectTimeout, err = durationFromEnv("VOICE_CONNECT_TIMEOUT", cfg.ConnectTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SubtitleClearDelay, err = durationFromEnv("VOICE_SUBTITLE_CLEAR_DELAY", cfg.SubtitleClearDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.TranscriptCooldown, err = durationFromEnv("VOICE_TRANSCRIPT_COOLDOWN", cfg.TranscriptCooldown)
	if err != nil {
		return Config{}, err
	}
	cfg.LatencyWindowSize, err = intFromEnv("APP_LATENCY_WINDOW_SIZE", cfg.LatencyWindowSize)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.ConnectTimeout < time.Second {
		return Config{}, fmt.Errorf("VOICE_CONNECT_TIMEOUT must be at least 1s")
	}
	if cfg.SubtitleClearDelay <= 0 {
		return Config{}, fmt.Errorf("VOICE_SUBTITLE_CLEAR_DELAY must be positive")
	}
	if cfg.TranscriptCooldown <= 0 {
		return Config{}, fmt.Errorf("VOICE_TRANSCRIPT_COOLDOWN must be positive")
	}
	if cfg.LatencyWindowSize <= 0 {
		return Config{}, fmt.Errorf("APP_LATENCY_WINDOW_SIZE must be positive")
	}
	if cfg.EndpointURL == "" {
		return Config{}, fmt.Errorf("VOICE_ENDPOINT_URL must not be empty")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
