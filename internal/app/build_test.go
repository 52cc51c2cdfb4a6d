package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ent0n29/voicerelay/internal/auth"
	"github.com/ent0n29/voicerelay/internal/config"
	"github.com/ent0n29/voicerelay/internal/observability"
	"github.com/ent0n29/voicerelay/internal/patient"
)

// promauto registers on the default registry, so tests share one instance.
var testMetrics = observability.NewMetrics("voicerelay_app_test")

func testConfig() config.Config {
	return config.Config{
		VoiceLiveEndpoint: "https://example.cognitiveservices.azure.com",
		VoiceLiveAPIKey:   "k",
		VoiceLiveModel:    "gpt-4o-mini",
		TokenScopes:       config.DefaultTokenScopes,
		VoiceName:         "primary",
		VoiceType:         "azure-standard",
		FallbackVoiceName: "fallback",
		FallbackVoiceType: "azure-standard",
		TranscriptStore:   "memory",
	}
}

func TestBuildWiresServer(t *testing.T) {
	built, err := Build(context.Background(), testConfig(), Options{Metrics: testMetrics})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer built.Cleanup()

	for _, name := range []string{"check_order_status", "schedule_appointment", "get_patient_history", "request_prescription_refill"} {
		if !built.Tools.Has(name) {
			t.Fatalf("tool %q not registered", name)
		}
	}
	if !built.Store.Available() {
		t.Fatalf("Store.Available() = false, want in-memory store")
	}
	if built.Auth.Mode != "api-key" {
		t.Fatalf("Auth.Mode = %q, want api-key", built.Auth.Mode)
	}

	rec := httptest.NewRecorder()
	built.API.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /readyz = %d, want 200", rec.Code)
	}
}

func TestBuildRejectsPostgresWithoutURL(t *testing.T) {
	cfg := testConfig()
	cfg.TranscriptStore = "postgres"
	if _, err := Build(context.Background(), cfg, Options{Metrics: testMetrics}); err == nil {
		t.Fatalf("Build() error = nil, want store init failure")
	}
}

func TestResolveCredentials(t *testing.T) {
	cfg := testConfig()
	cfg.VoiceLiveAPIKey = ""
	_, info := resolveCredentials(cfg)
	if info.Mode != "token" || len(info.Sources) != 1 || info.Sources[0] != "managed-identity" {
		t.Fatalf("resolveCredentials() = %+v, want managed identity only", info)
	}

	cfg.AzureTenantID, cfg.AzureClientID, cfg.AzureClientSecret = "t", "c", "s"
	provider, info := resolveCredentials(cfg)
	if len(info.Sources) != 2 || info.Sources[0] != "client-secret" {
		t.Fatalf("resolveCredentials() = %+v, want client secret first", info)
	}
	chain, ok := provider.Source.(auth.Chain)
	if !ok || len(chain) != 2 {
		t.Fatalf("Source = %T, want two-source chain", provider.Source)
	}
}

func TestPatientLoader(t *testing.T) {
	loader := patientLoader(patient.MockDirectory())
	const id = "PATIENT001"
	doc, err := loader.LoadContext(context.Background(), id)
	if err != nil {
		t.Fatalf("LoadContext() error = %v", err)
	}
	if doc.SubjectID != id || doc.Overview == "" {
		t.Fatalf("LoadContext() = %+v", doc)
	}

	if _, err := loader.LoadContext(context.Background(), "NOPE"); err == nil {
		t.Fatalf("LoadContext(unknown) error = nil, want not found")
	}
}
