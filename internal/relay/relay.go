package relay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/voicerelay/internal/auth"
	"github.com/ent0n29/voicerelay/internal/observability"
	"github.com/ent0n29/voicerelay/internal/protocol"
	"github.com/ent0n29/voicerelay/internal/readback"
	"github.com/ent0n29/voicerelay/internal/session"
	"github.com/ent0n29/voicerelay/internal/tools"
	"github.com/ent0n29/voicerelay/internal/transcript"
)

// DefaultInstructions is the assistant persona sent with the first session update.
const DefaultInstructions = "You are a helpful customer service AI assistant for an e-commerce company. " +
	"You can help customers check their order status. " +
	"Always respond in English regardless of the user's input language. " +
	"Be friendly, concise, and helpful. " +
	"When customers ask about their orders, use the check_order_status function to look up their order information. " +
	"Wait for the customer to speak first before responding."

// ConnState is owned and transitioned only by the relay.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ClientSink is the client-facing side of a session.
type ClientSink interface {
	SendAudio(pcm []byte) error
	SendJSON(v any) error
}

// ToolInvoker is the name-to-handler lookup used for function calls.
type ToolInvoker interface {
	Definitions() []tools.Definition
	Invoke(ctx context.Context, name string, arguments map[string]any) any
}

// CredentialSource yields the upstream credential at connect time.
type CredentialSource interface {
	Credential(ctx context.Context) (auth.Credential, error)
}

// Options holds per-session upstream settings.
type Options struct {
	Endpoint                string
	Model                   string
	APIVersion              string
	Instructions            string
	Voice                   protocol.Voice
	FallbackVoice           protocol.Voice
	TurnDetection           protocol.TurnDetection
	InputTranscriptionModel string
	// MaxPendingAudio caps queued audio appends. Zero means unbounded.
	MaxPendingAudio int
}

// DefaultTurnDetection is semantic VAD tuned for conversational turns.
func DefaultTurnDetection() protocol.TurnDetection {
	return protocol.TurnDetection{
		Type:              "azure_semantic_vad",
		Threshold:         0.5,
		PrefixPaddingMS:   300,
		SilenceDurationMS: 800,
	}
}

// Deps are the collaborators shared across sessions.
type Deps struct {
	Logger      *slog.Logger
	Metrics     *observability.Metrics
	Tools       ToolInvoker
	Registry    *session.Registry[*Relay]
	Credentials CredentialSource
	Dialer      Dialer
	Client      ClientSink
	Store       transcript.Store
	Loader      ContextLoader
}

// Relay owns one live conversation between a client and the upstream
// realtime service.
type Relay struct {
	opts     Options
	logger   *slog.Logger
	metrics  *observability.Metrics
	tools    ToolInvoker
	registry *session.Registry[*Relay]
	creds    CredentialSource
	dialer   Dialer
	client   ClientSink
	store    transcript.Store
	loader   ContextLoader

	localID    string
	queue      *outboundQueue
	transcript *transcript.Buffer

	ctx    context.Context
	cancel context.CancelFunc

	mu                  sync.Mutex
	state               ConnState
	conn                Conn
	sessionID           string
	greeted             bool
	responseInFlight    bool
	responseOwed        bool
	owedOptions         *protocol.ResponseOptions
	responseRequestedAt time.Time
	awaitingFirstAudio  bool
	speechStoppedAt     time.Time
	voice               voiceState
	pendingReadback     *readback.Readback
	readbackAwaitingID  bool
	readbackResponseID  string
	lastEmail           string
	refresh             refreshState
	subject             subjectContext
	pendingBackground   *protocol.ConversationItemCreate

	closeOnce sync.Once
	done      chan struct{}
}

type voiceState struct {
	primary      protocol.Voice
	fallback     protocol.Voice
	current      protocol.Voice
	fallbackUsed bool
}

// New creates a relay in the Connecting state. Audio enqueued before Connect
// is held and sent after the session configuration.
func New(opts Options, deps Deps) *Relay {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Instructions == "" {
		opts.Instructions = DefaultInstructions
	}
	if opts.TurnDetection.Type == "" {
		opts.TurnDetection = DefaultTurnDetection()
	}
	localID := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	return &Relay{
		opts:       opts,
		logger:     logger.With("relay_id", localID),
		metrics:    deps.Metrics,
		tools:      deps.Tools,
		registry:   deps.Registry,
		creds:      deps.Credentials,
		dialer:     deps.Dialer,
		client:     deps.Client,
		store:      deps.Store,
		loader:     deps.Loader,
		localID:    localID,
		queue:      newOutboundQueue(opts.MaxPendingAudio),
		transcript: transcript.NewBuffer(),
		ctx:        ctx,
		cancel:     cancel,
		state:      StateConnecting,
		voice: voiceState{
			primary:  opts.Voice,
			fallback: opts.FallbackVoice,
			current:  opts.Voice,
		},
		done: make(chan struct{}),
	}
}

// Connect opens the upstream connection, sends the session configuration and
// starts the drain and receive loops. It does not wait for the first upstream
// event. A failed Connect closes the relay.
func (r *Relay) Connect(ctx context.Context) error {
	if err := r.connect(ctx); err != nil {
		r.teardown("connect failed")
		return err
	}
	return nil
}

func (r *Relay) connect(ctx context.Context) error {
	if state := r.State(); state != StateConnecting {
		return fmt.Errorf("connect: relay is %s", state)
	}
	if strings.TrimSpace(r.opts.Endpoint) == "" {
		return &ConfigurationError{Field: "endpoint", Reason: "is required"}
	}
	if strings.TrimSpace(r.opts.Model) == "" {
		return &ConfigurationError{Field: "model", Reason: "is required"}
	}
	if r.creds == nil {
		return &ConfigurationError{Field: "credentials", Reason: "no api key or token source configured"}
	}
	if r.dialer == nil {
		return &ConfigurationError{Field: "dialer", Reason: "is required"}
	}

	rawURL, err := RealtimeURL(r.opts.Endpoint, r.opts.APIVersion, r.opts.Model)
	if err != nil {
		return err
	}
	cred, err := r.creds.Credential(ctx)
	if err != nil {
		return err
	}
	header := http.Header{}
	header.Set("x-ms-client-request-id", uuid.NewString())
	cred.Apply(header)

	conn, err := r.dialer.Dial(ctx, rawURL, header)
	if err != nil {
		return err
	}

	// The drain loop is not running yet, so this write cannot race it.
	update, err := json.Marshal(r.sessionUpdate())
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("encode session update: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, update); err != nil {
		_ = conn.Close()
		return fmt.Errorf("send session update: %w", err)
	}

	r.mu.Lock()
	if r.state != StateConnecting {
		r.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	r.conn = conn
	r.state = StateOpen
	r.mu.Unlock()

	r.metrics.IncSessionEvent("connected")
	r.logger.Info("upstream connected", "model", r.opts.Model, "voice", r.opts.Voice.Name)

	go r.drainLoop(conn)
	go r.receiveLoop(conn)
	return nil
}

func (r *Relay) sessionUpdate() protocol.SessionUpdate {
	voice := r.opts.Voice
	cfg := protocol.SessionConfig{
		Instructions:         r.opts.Instructions,
		TurnDetection:        &r.opts.TurnDetection,
		InputAudioNoiseRed:   &protocol.TypedOption{Type: "azure_deep_noise_suppression"},
		InputAudioEchoCancel: &protocol.TypedOption{Type: "server_echo_cancellation"},
		Voice:                &voice,
	}
	if r.opts.InputTranscriptionModel != "" {
		cfg.InputAudioTranscription = &protocol.InputTranscription{Model: r.opts.InputTranscriptionModel}
	}
	if r.tools != nil {
		for _, def := range r.tools.Definitions() {
			cfg.Tools = append(cfg.Tools, protocol.Tool{
				Type:        "function",
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			})
		}
	}
	return protocol.SessionUpdate{Type: protocol.CommandSessionUpdate, Session: cfg}
}

// EnqueueAudio queues raw client audio for upstream. It reports false when
// the relay is closed or the audio cap dropped the frame.
func (r *Relay) EnqueueAudio(pcm []byte) bool {
	if len(pcm) == 0 {
		return false
	}
	return r.EnqueueAudioBase64(base64.StdEncoding.EncodeToString(pcm))
}

// EnqueueAudioBase64 queues audio that is already base64-encoded.
func (r *Relay) EnqueueAudioBase64(audio string) bool {
	ok := r.queue.Put(outbound{
		payload: protocol.InputAudioAppend{Type: protocol.CommandInputAudioAppend, Audio: audio},
		audio:   true,
	})
	if !ok && r.State() != StateClosed {
		r.metrics.IncOutboundDropped()
	}
	return ok
}

// SendCommand queues an arbitrary upstream command.
func (r *Relay) SendCommand(cmd any) error {
	if !r.queue.Put(outbound{payload: cmd}) {
		return ErrClosed
	}
	return nil
}

func (r *Relay) enqueueLocked(cmd any) bool {
	return r.queue.Put(outbound{payload: cmd})
}

// Close tears the session down. It is safe to call more than once.
func (r *Relay) Close() {
	r.teardown("closed by client")
}

// Done is closed after teardown completes.
func (r *Relay) Done() <-chan struct{} {
	return r.done
}

func (r *Relay) State() ConnState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// SessionID returns the upstream session id, empty until session-created.
func (r *Relay) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionID
}

// LocalID identifies the relay before an upstream session id is bound.
func (r *Relay) LocalID() string {
	return r.localID
}

// Transcript returns a copy of the buffered conversation.
func (r *Relay) Transcript() []transcript.Entry {
	return r.transcript.Entries()
}

func (r *Relay) transcriptID() string {
	if id := r.SessionID(); id != "" {
		return id
	}
	return r.localID
}

func (r *Relay) drainLoop(conn Conn) {
	for {
		item, ok := r.queue.Get()
		if !ok {
			return
		}
		raw, err := json.Marshal(item.payload)
		if err != nil {
			r.logger.Error("dropping unencodable upstream command", "error", err)
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
			r.logger.Warn("upstream send failed", "error", err)
			r.teardown("send failed")
			return
		}
	}
}

func (r *Relay) receiveLoop(conn Conn) {
	defer r.teardown("receive loop ended")
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if r.State() != StateClosed && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				r.logger.Warn("upstream receive failed", "error", err)
			}
			return
		}
		evt, err := protocol.ParseServerEvent(raw)
		if err != nil {
			r.logger.Debug("dropping upstream frame", "error", err)
			continue
		}
		r.metrics.IncUpstreamEvent(string(evt.EventType()))
		r.dispatch(evt)
	}
}

func (r *Relay) teardown(reason string) {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.state = StateClosed
		conn := r.conn
		r.conn = nil
		sessionID := r.sessionID
		if r.refresh.cancel != nil {
			r.refresh.cancel()
			r.refresh.cancel = nil
		}
		r.pendingBackground = nil
		r.mu.Unlock()

		r.cancel()
		r.queue.Close()
		if conn != nil {
			_ = conn.Close()
		}
		if sessionID != "" && r.registry != nil {
			r.registry.Unregister(sessionID, r)
		}
		r.metrics.IncSessionEvent("closed")
		r.logger.Info("session closed", "session_id", sessionID, "reason", reason)
		close(r.done)
	})
}

// UploadTranscript flushes the buffered transcript to the store. It returns
// false when no store is available or the write failed.
func (r *Relay) UploadTranscript(ctx context.Context) bool {
	if r.store == nil || !r.store.Available() {
		r.logger.Info("transcript store unavailable, skipping upload")
		return false
	}
	entries := r.transcript.Entries()
	if len(entries) == 0 {
		return true
	}
	id := r.transcriptID()
	if err := r.store.Upsert(ctx, id, entries); err != nil {
		if errors.Is(err, transcript.ErrUnavailable) {
			r.logger.Info("transcript store unavailable, skipping upload")
		} else {
			r.logger.Error("transcript upload failed", "session_id", id, "error", err)
		}
		return false
	}
	r.logger.Info("transcript uploaded", "session_id", id, "entries", len(entries))
	return true
}
