package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the voice relay service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	LogLevel         string

	AllowAnyOrigin bool

	VoiceLiveEndpoint   string
	VoiceLiveAPIKey     string
	VoiceLiveModel      string
	VoiceLiveAPIVersion string

	AzureTenantID           string
	AzureClientID           string
	AzureClientSecret       string
	ManagedIdentityClientID string
	TokenScopes             []string

	VoiceName         string
	VoiceType         string
	VoiceTemperature  float64
	FallbackVoiceName string
	FallbackVoiceType string

	InputTranscriptionModel string

	DatabaseURL     string
	TranscriptStore string

	OutboundMaxPending int
}

// DefaultTokenScopes are tried in order when no API key is configured.
var DefaultTokenScopes = []string{
	"https://cognitiveservices.azure.com/.default",
	"https://ai.azure.com/.default",
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8000"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "voicerelay"),
		LogLevel:         envOrDefault("LOG_LEVEL", "info"),
		AllowAnyOrigin:   false,

		VoiceLiveEndpoint:   stringsTrimSpace("AZURE_VOICE_LIVE_ENDPOINT"),
		VoiceLiveAPIKey:     stringsTrimSpace("AZURE_VOICE_LIVE_API_KEY"),
		VoiceLiveModel:      envOrDefault("VOICE_LIVE_MODEL", "gpt-4o-mini"),
		VoiceLiveAPIVersion: envOrDefault("AZURE_VOICE_LIVE_API_VERSION", "2025-05-01-preview"),

		AzureTenantID:           stringsTrimSpace("AZURE_TENANT_ID"),
		AzureClientID:           stringsTrimSpace("AZURE_CLIENT_ID"),
		AzureClientSecret:       stringsTrimSpace("AZURE_CLIENT_SECRET"),
		ManagedIdentityClientID: stringsTrimSpace("AZURE_USER_ASSIGNED_IDENTITY_CLIENT_ID"),
		TokenScopes:             listFromEnv("AZURE_TOKEN_SCOPES", DefaultTokenScopes),

		// HD multi-talker voice; the fallback is a standard neural voice that
		// synthesizes reliably when the HD engine rejects a request.
		VoiceName:         envOrDefault("VOICE_NAME", "en-US-MultiTalker-Ava-Andrew:DragonHDv1.2Neural"),
		VoiceType:         envOrDefault("VOICE_TYPE", "azure-standard"),
		VoiceTemperature:  0.8,
		FallbackVoiceName: envOrDefault("FALLBACK_VOICE_NAME", "en-US-AvaNeural"),
		FallbackVoiceType: envOrDefault("FALLBACK_VOICE_TYPE", "azure-standard"),

		InputTranscriptionModel: envOrDefault("INPUT_TRANSCRIPTION_MODEL", "azure-speech"),

		DatabaseURL:     stringsTrimSpace("DATABASE_URL"),
		TranscriptStore: strings.ToLower(envOrDefault("TRANSCRIPT_STORE", "auto")),

		ShutdownTimeout:    15 * time.Second,
		OutboundMaxPending: 0,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.VoiceTemperature, err = floatFromEnv("VOICE_TEMPERATURE", cfg.VoiceTemperature)
	if err != nil {
		return Config{}, err
	}
	cfg.OutboundMaxPending, err = intFromEnv("RELAY_OUTBOUND_MAX_PENDING", cfg.OutboundMaxPending)
	if err != nil {
		return Config{}, err
	}

	if cfg.OutboundMaxPending < 0 {
		return Config{}, fmt.Errorf("RELAY_OUTBOUND_MAX_PENDING must be >= 0")
	}
	if cfg.VoiceTemperature < 0 || cfg.VoiceTemperature > 2 {
		return Config{}, fmt.Errorf("VOICE_TEMPERATURE must be within [0, 2]")
	}
	switch cfg.TranscriptStore {
	case "auto", "postgres", "memory", "disabled":
	default:
		return Config{}, fmt.Errorf("invalid TRANSCRIPT_STORE: %q (expected auto|postgres|memory|disabled)", cfg.TranscriptStore)
	}
	if cfg.TranscriptStore == "postgres" && cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("TRANSCRIPT_STORE=postgres requires DATABASE_URL")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func listFromEnv(key string, fallback []string) []string {
	v := stringsTrimSpace(key)
	if v == "" {
		return append([]string(nil), fallback...)
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
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

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
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
