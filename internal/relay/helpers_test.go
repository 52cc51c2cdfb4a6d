package relay

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/voicerelay/internal/protocol"
	"github.com/ent0n29/voicerelay/internal/tools"
)

type recordingClient struct {
	mu     sync.Mutex
	audio  [][]byte
	frames []any
}

func (c *recordingClient) SendAudio(pcm []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audio = append(c.audio, append([]byte(nil), pcm...))
	return nil
}

func (c *recordingClient) SendJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, v)
	return nil
}

func (c *recordingClient) snapshot() ([][]byte, []any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.audio...), append([]any(nil), c.frames...)
}

type fakeConn struct {
	inbound chan []byte
	writes  chan []byte
	closed  chan struct{}
	once    sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		writes:  make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case raw, ok := <-c.inbound:
		if !ok {
			return 0, nil, io.EOF
		}
		return websocket.TextMessage, raw, nil
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}
	c.writes <- append([]byte(nil), data...)
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

type fakeDialer struct {
	conn   *fakeConn
	err    error
	url    string
	header http.Header
}

func (d *fakeDialer) Dial(_ context.Context, rawURL string, header http.Header) (Conn, error) {
	d.url = rawURL
	d.header = header.Clone()
	if d.err != nil {
		return nil, d.err
	}
	return d.conn, nil
}

func testOptions() Options {
	return Options{
		Endpoint:                "https://example.cognitiveservices.azure.com/",
		Model:                   "gpt-4o-mini",
		APIVersion:              "2025-05-01-preview",
		Voice:                   protocol.Voice{Name: "en-US-Ava:DragonHDLatestNeural", Type: "azure-standard"},
		FallbackVoice:           protocol.Voice{Name: "en-US-AvaNeural", Type: "azure-standard"},
		InputTranscriptionModel: "azure-speech",
	}
}

func orderTools(t *testing.T) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry(nil, nil)
	if err := tools.RegisterOrderTools(reg, tools.MockOrderBook()); err != nil {
		t.Fatalf("RegisterOrderTools() error = %v", err)
	}
	return reg
}

// newOpenRelay returns a relay in the Open state with no loops running, so
// tests can drive dispatch directly and inspect the outbound queue.
func newOpenRelay(t *testing.T, deps Deps) *Relay {
	t.Helper()
	r := New(testOptions(), deps)
	r.state = StateOpen
	t.Cleanup(r.Close)
	return r
}

func drainQueue(r *Relay) []any {
	var out []any
	for {
		item, ok := r.queue.GetNoWait()
		if !ok {
			return out
		}
		out = append(out, item.payload)
	}
}

func responseCreates(items []any) []protocol.ResponseCreate {
	var out []protocol.ResponseCreate
	for _, item := range items {
		if rc, ok := item.(protocol.ResponseCreate); ok {
			out = append(out, rc)
		}
	}
	return out
}

func conversationItems(items []any, typ protocol.ItemType) []protocol.ConversationItem {
	var out []protocol.ConversationItem
	for _, item := range items {
		if c, ok := item.(protocol.ConversationItemCreate); ok && c.Item.Type == typ {
			out = append(out, c.Item)
		}
	}
	return out
}

func sessionUpdates(items []any) []protocol.SessionUpdate {
	var out []protocol.SessionUpdate
	for _, item := range items {
		if su, ok := item.(protocol.SessionUpdate); ok {
			out = append(out, su)
		}
	}
	return out
}

func dispatchRaw(t *testing.T, r *Relay, raw string) {
	t.Helper()
	evt, err := protocol.ParseServerEvent([]byte(raw))
	if err != nil {
		t.Fatalf("ParseServerEvent(%s) error = %v", raw, err)
	}
	r.dispatch(evt)
}

func (r *Relay) inFlight() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.responseInFlight
}

func nextWrite(t *testing.T, c *fakeConn) map[string]any {
	t.Helper()
	select {
	case raw := <-c.writes:
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			t.Fatalf("upstream frame is not JSON: %s", raw)
		}
		return m
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for upstream write")
		return nil
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
