package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8000" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8000")
	}
	if cfg.VoiceLiveModel != "gpt-4o-mini" {
		t.Fatalf("VoiceLiveModel = %q, want %q", cfg.VoiceLiveModel, "gpt-4o-mini")
	}
	if cfg.VoiceLiveEndpoint != "" {
		t.Fatalf("VoiceLiveEndpoint = %q, want empty default", cfg.VoiceLiveEndpoint)
	}
	if cfg.ShutdownTimeout != 15*time.Second {
		t.Fatalf("ShutdownTimeout = %v, want 15s", cfg.ShutdownTimeout)
	}
	if len(cfg.TokenScopes) != 2 || cfg.TokenScopes[0] != DefaultTokenScopes[0] {
		t.Fatalf("TokenScopes = %v, want defaults", cfg.TokenScopes)
	}
	if cfg.TranscriptStore != "auto" {
		t.Fatalf("TranscriptStore = %q, want auto", cfg.TranscriptStore)
	}
	if cfg.OutboundMaxPending != 0 {
		t.Fatalf("OutboundMaxPending = %d, want 0 (unbounded)", cfg.OutboundMaxPending)
	}
}

func TestLoadMissingEndpointIsNotFatal(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("AZURE_VOICE_LIVE_API_KEY", "k")

	if _, err := Load(); err != nil {
		t.Fatalf("Load() error = %v, want nil (endpoint is validated at connect time)", err)
	}
}

func TestLoadParsesScopesList(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("AZURE_TOKEN_SCOPES", " scope-a/.default , ,scope-b/.default")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.TokenScopes) != 2 || cfg.TokenScopes[0] != "scope-a/.default" || cfg.TokenScopes[1] != "scope-b/.default" {
		t.Fatalf("TokenScopes = %v", cfg.TokenScopes)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"APP_SHUTDOWN_TIMEOUT":       "soon",
		"VOICE_TEMPERATURE":          "3.5",
		"RELAY_OUTBOUND_MAX_PENDING": "-1",
		"TRANSCRIPT_STORE":           "cosmos",
		"APP_ALLOW_ANY_ORIGIN":       "maybe",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() with %s=%q error = nil, want error", key, value)
			}
		})
	}
}

func TestLoadPostgresStoreRequiresDatabaseURL(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("TRANSCRIPT_STORE", "postgres")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() error = nil, want error without DATABASE_URL")
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"LOG_LEVEL",
		"AZURE_VOICE_LIVE_ENDPOINT",
		"AZURE_VOICE_LIVE_API_KEY",
		"VOICE_LIVE_MODEL",
		"AZURE_VOICE_LIVE_API_VERSION",
		"AZURE_TENANT_ID",
		"AZURE_CLIENT_ID",
		"AZURE_CLIENT_SECRET",
		"AZURE_USER_ASSIGNED_IDENTITY_CLIENT_ID",
		"AZURE_TOKEN_SCOPES",
		"VOICE_NAME",
		"VOICE_TYPE",
		"VOICE_TEMPERATURE",
		"FALLBACK_VOICE_NAME",
		"FALLBACK_VOICE_TYPE",
		"INPUT_TRANSCRIPTION_MODEL",
		"DATABASE_URL",
		"TRANSCRIPT_STORE",
		"RELAY_OUTBOUND_MAX_PENDING",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
