package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/voicerelay/internal/auth"
	"github.com/ent0n29/voicerelay/internal/protocol"
	"github.com/ent0n29/voicerelay/internal/relay"
)

const clientWriteTimeout = 10 * time.Second

// wsClient serializes writes to the browser connection; relay audio and
// upload acknowledgements come from different goroutines.
type wsClient struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsClient) SendAudio(pcm []byte) error {
	return c.write(websocket.BinaryMessage, pcm)
}

func (c *wsClient) SendJSON(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, raw)
}

func (c *wsClient) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(clientWriteTimeout))
	return c.conn.WriteMessage(messageType, data)
}

func (c *wsClient) closeWith(code int, reason string) {
	deadline := time.Now().Add(time.Second)
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = c.conn.Close()
}

func (s *Server) handleClientWS(w http.ResponseWriter, r *http.Request) {
	if s.newRelay == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "relay not configured")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	client := &wsClient{conn: conn}
	rel := s.newRelay(client)
	defer rel.Close()
	s.metrics.IncSessionEvent("client_connected")

	connectCtx, cancel := context.WithTimeout(r.Context(), s.connectTimeout)
	err = rel.Connect(connectCtx)
	cancel()
	if err != nil {
		var cfgErr *relay.ConfigurationError
		var authErr *auth.AuthenticationError
		switch {
		case errors.As(err, &cfgErr):
			s.logger.Error("relay misconfigured", "error", err)
		case errors.As(err, &authErr):
			s.logger.Error("upstream authentication failed", "error", err)
		default:
			s.logger.Error("upstream connect failed", "error", err)
		}
		client.closeWith(websocket.CloseInternalServerErr, "upstream unavailable")
		return
	}

	go func() {
		<-rel.Done()
		client.closeWith(websocket.CloseNormalClosure, "session ended")
	}()

	ctx := r.Context()
	conn.SetReadLimit(2 << 20)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		switch msgType {
		case websocket.BinaryMessage:
			rel.EnqueueAudio(data)
		case websocket.TextMessage:
			s.handleClientCommand(ctx, rel, client, data)
		}
	}
	s.metrics.IncSessionEvent("client_disconnected")
}

func (s *Server) handleClientCommand(ctx context.Context, rel *relay.Relay, client *wsClient, data []byte) {
	cmd, err := protocol.ParseClientCommand(data)
	if err != nil {
		s.logger.Debug("ignoring client frame", "error", err)
		return
	}
	switch cmd.(type) {
	case protocol.UploadTranscript:
		ok := rel.UploadTranscript(ctx)
		ack := protocol.TranscriptUploaded{
			Type:      protocol.TypeTranscriptUploaded,
			SessionID: rel.SessionID(),
			Success:   ok,
		}
		if !ok {
			ack.Detail = "transcript storage unavailable"
		}
		if err := client.SendJSON(ack); err != nil {
			s.logger.Debug("upload ack failed", "error", err)
		}
	}
}
