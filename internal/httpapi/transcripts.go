package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/voicerelay/internal/transcript"
)

func (s *Server) handleListTranscripts(w http.ResponseWriter, r *http.Request) {
	if !s.store.Available() {
		respondError(w, http.StatusServiceUnavailable, "transcript_store_disabled", "Transcript storage is disabled.")
		return
	}

	limit := 100
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		if n > 500 {
			n = 500
		}
		limit = n
	}

	docs, err := s.store.List(r.Context(), limit)
	if err != nil {
		s.respondStoreError(w, err, "transcript_list_failed")
		return
	}
	if docs == nil {
		docs = []transcript.Conversation{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"transcripts": docs,
		"count":       len(docs),
	})
}

func (s *Server) handleGetTranscript(w http.ResponseWriter, r *http.Request) {
	if !s.store.Available() {
		respondError(w, http.StatusServiceUnavailable, "transcript_store_disabled", "Transcript storage is disabled.")
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	doc, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.respondStoreError(w, err, "transcript_get_failed")
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteTranscript(w http.ResponseWriter, r *http.Request) {
	if !s.store.Available() {
		respondError(w, http.StatusServiceUnavailable, "transcript_store_disabled", "Transcript storage is disabled.")
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	if err := s.store.Delete(r.Context(), id); err != nil {
		s.respondStoreError(w, err, "transcript_delete_failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "deleted",
		"sessionId": id,
	})
}

func (s *Server) respondStoreError(w http.ResponseWriter, err error, code string) {
	switch {
	case errors.Is(err, transcript.ErrNotFound):
		respondError(w, http.StatusNotFound, "transcript_not_found", err.Error())
	case errors.Is(err, transcript.ErrUnavailable):
		respondError(w, http.StatusServiceUnavailable, "transcript_store_disabled", err.Error())
	default:
		s.logger.Error("transcript store error", "code", code, "error", err)
		respondError(w, http.StatusInternalServerError, code, err.Error())
	}
}
