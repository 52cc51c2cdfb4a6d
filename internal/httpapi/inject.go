package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/voicerelay/internal/relay"
	"github.com/ent0n29/voicerelay/internal/session"
)

type injectToolRequest struct {
	SessionID          string         `json:"sessionId"`
	FunctionName       string         `json:"functionName"`
	Arguments          map[string]any `json:"arguments"`
	Output             any            `json:"output"`
	Silent             bool           `json:"silent"`
	ResponseModalities []string       `json:"responseModalities"`
}

type injectToolResponse struct {
	Status    string `json:"status"`
	SessionID string `json:"sessionId"`
	CallID    string `json:"callId"`
}

func (s *Server) handleInjectTool(w http.ResponseWriter, r *http.Request) {
	var req injectToolRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if id := strings.TrimSpace(chi.URLParam(r, "id")); id != "" {
		req.SessionID = id
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "sessionId is required")
		return
	}
	if strings.TrimSpace(req.FunctionName) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "functionName is required")
		return
	}
	if s.sessions == nil {
		respondError(w, http.StatusNotFound, "session_not_found", session.ErrNotFound.Error())
		return
	}

	rel, err := s.sessions.Lookup(req.SessionID)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}

	callID, err := rel.InjectToolResult(r.Context(), relay.InjectRequest{
		FunctionName:       req.FunctionName,
		Arguments:          req.Arguments,
		Output:             req.Output,
		Silent:             req.Silent,
		ResponseModalities: req.ResponseModalities,
	})
	if err != nil {
		var vErr *relay.ValidationError
		if errors.As(err, &vErr) {
			respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		s.logger.Error("tool injection failed", "session_id", req.SessionID, "function", req.FunctionName, "error", err)
		respondError(w, http.StatusInternalServerError, "injection_failed", err.Error())
		return
	}
	s.metrics.IncSessionEvent("tool_injected")
	respondJSON(w, http.StatusOK, injectToolResponse{
		Status:    "ok",
		SessionID: req.SessionID,
		CallID:    callID,
	})
}
