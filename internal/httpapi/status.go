package httpapi

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

type statusCheck struct {
	ID     string `json:"id"`
	Status string `json:"status"` // ok|warn|error
	Label  string `json:"label"`
	Detail string `json:"detail,omitempty"`
	Fix    string `json:"fix,omitempty"`
}

type statusResponse struct {
	Model           string        `json:"model"`
	Voice           string        `json:"voice"`
	FallbackVoice   string        `json:"fallback_voice"`
	TranscriptStore string        `json:"transcript_store"`
	ActiveSessions  int           `json:"active_sessions"`
	Checks          []statusCheck `json:"checks"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	checks := make([]statusCheck, 0, 5)
	checks = append(checks, s.endpointCheck(), s.credentialCheck(), s.voiceCheck(), s.storeCheck())

	respondJSON(w, http.StatusOK, statusResponse{
		Model:           s.cfg.VoiceLiveModel,
		Voice:           s.cfg.VoiceName,
		FallbackVoice:   s.cfg.FallbackVoiceName,
		TranscriptStore: s.storeMode(),
		ActiveSessions:  s.activeSessions(),
		Checks:          checks,
	})
}

func (s *Server) endpointCheck() statusCheck {
	endpoint := strings.TrimSpace(s.cfg.VoiceLiveEndpoint)
	if endpoint == "" {
		return statusCheck{
			ID:     "upstream_endpoint",
			Status: "error",
			Label:  "Voice Live endpoint",
			Detail: "AZURE_VOICE_LIVE_ENDPOINT is not set",
			Fix:    "Set AZURE_VOICE_LIVE_ENDPOINT to your Azure AI resource endpoint.",
		}
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return statusCheck{
			ID:     "upstream_endpoint",
			Status: "warn",
			Label:  "Voice Live endpoint",
			Detail: fmt.Sprintf("%q has no scheme; wss:// will be assumed", endpoint),
		}
	}
	return statusCheck{ID: "upstream_endpoint", Status: "ok", Label: "Voice Live endpoint", Detail: u.Host}
}

func (s *Server) credentialCheck() statusCheck {
	switch {
	case s.cfg.VoiceLiveAPIKey != "":
		return statusCheck{ID: "credentials", Status: "ok", Label: "Upstream credentials", Detail: "api key"}
	case s.cfg.AzureTenantID != "" && s.cfg.AzureClientID != "" && s.cfg.AzureClientSecret != "":
		return statusCheck{ID: "credentials", Status: "ok", Label: "Upstream credentials", Detail: "client secret"}
	default:
		return statusCheck{
			ID:     "credentials",
			Status: "warn",
			Label:  "Upstream credentials",
			Detail: "managed identity only",
			Fix:    "Set AZURE_VOICE_LIVE_API_KEY, or AZURE_TENANT_ID/AZURE_CLIENT_ID/AZURE_CLIENT_SECRET outside Azure.",
		}
	}
}

func (s *Server) voiceCheck() statusCheck {
	fallback := strings.TrimSpace(s.cfg.FallbackVoiceName)
	switch {
	case fallback == "":
		return statusCheck{
			ID:     "fallback_voice",
			Status: "warn",
			Label:  "Fallback voice",
			Detail: "not configured",
			Fix:    "Set FALLBACK_VOICE_NAME so synthesis failures can recover.",
		}
	case strings.EqualFold(fallback, s.cfg.VoiceName):
		return statusCheck{
			ID:     "fallback_voice",
			Status: "warn",
			Label:  "Fallback voice",
			Detail: "same as the primary voice",
		}
	default:
		return statusCheck{ID: "fallback_voice", Status: "ok", Label: "Fallback voice", Detail: fallback}
	}
}

func (s *Server) storeCheck() statusCheck {
	switch mode := s.storeMode(); mode {
	case "postgres":
		return statusCheck{ID: "transcript_store", Status: "ok", Label: "Transcript persistence", Detail: mode}
	case "disabled":
		return statusCheck{
			ID:     "transcript_store",
			Status: "warn",
			Label:  "Transcript persistence",
			Detail: mode,
			Fix:    "Set DATABASE_URL to store transcripts.",
		}
	default:
		return statusCheck{
			ID:     "transcript_store",
			Status: "warn",
			Label:  "Transcript persistence",
			Detail: "in-memory only",
			Fix:    "Set DATABASE_URL to persist transcripts across restarts.",
		}
	}
}
