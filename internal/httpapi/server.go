package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/voicerelay/internal/config"
	"github.com/ent0n29/voicerelay/internal/observability"
	"github.com/ent0n29/voicerelay/internal/relay"
	"github.com/ent0n29/voicerelay/internal/session"
	"github.com/ent0n29/voicerelay/internal/transcript"
)

// RelayFactory builds an unconnected relay that talks back to client.
type RelayFactory func(client relay.ClientSink) *relay.Relay

type Server struct {
	cfg            config.Config
	sessions       *session.Registry[*relay.Relay]
	newRelay       RelayFactory
	store          transcript.Store
	metrics        *observability.Metrics
	logger         *slog.Logger
	upgrader       websocket.Upgrader
	connectTimeout time.Duration
}

func New(cfg config.Config, sessions *session.Registry[*relay.Relay], newRelay RelayFactory, store transcript.Store, metrics *observability.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if store == nil {
		store = transcript.DisabledStore{}
	}
	return &Server{
		cfg:            cfg,
		sessions:       sessions,
		newRelay:       newRelay,
		store:          store,
		metrics:        metrics,
		logger:         logger,
		connectTimeout: 30 * time.Second,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from the same origin.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/status", s.handleStatus)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Get("/web/ws", s.handleClientWS)
	r.Get("/v1/sessions", s.handleListSessions)
	r.Post("/v1/sessions/{id}/tools", s.handleInjectTool)
	r.Post("/api/inject-tool", s.handleInjectTool)

	r.Get("/v1/transcripts", s.handleListTranscripts)
	r.Get("/v1/transcripts/{id}", s.handleGetTranscript)
	r.Delete("/v1/transcripts/{id}", s.handleDeleteTranscript)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"active_sessions":   s.activeSessions(),
		"transcript_store":  s.storeMode(),
		"upstream_endpoint": s.cfg.VoiceLiveEndpoint != "",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if strings.TrimSpace(s.cfg.VoiceLiveEndpoint) == "" {
		respondError(w, http.StatusServiceUnavailable, "not_configured", "AZURE_VOICE_LIVE_ENDPOINT is not set")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":           "ready",
		"transcript_store": s.storeMode(),
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	var infos []session.Info
	if s.sessions != nil {
		infos = s.sessions.List()
	}
	if infos == nil {
		infos = []session.Info{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"sessions": infos})
}

func (s *Server) activeSessions() int {
	if s.sessions == nil {
		return 0
	}
	return s.sessions.Count()
}

func (s *Server) storeMode() string {
	if !s.store.Available() {
		return "disabled"
	}
	switch s.store.(type) {
	case *transcript.PostgresStore:
		return "postgres"
	case *transcript.InMemoryStore:
		return "in-memory"
	default:
		return "custom"
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
