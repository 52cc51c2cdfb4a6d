package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/voicerelay/internal/reliability"
)

// Conn is the upstream message connection. *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens upstream connections.
type Dialer interface {
	Dial(ctx context.Context, rawURL string, header http.Header) (Conn, error)
}

// WebsocketDialer dials the upstream realtime endpoint, retrying handshakes
// rejected with a retryable HTTP status.
type WebsocketDialer struct {
	HandshakeTimeout time.Duration
	MaxAttempts      int
	BaseBackoff      time.Duration
	MaxBackoff       time.Duration
	Logger           *slog.Logger
}

func (d WebsocketDialer) Dial(ctx context.Context, rawURL string, header http.Header) (Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	if dialer.HandshakeTimeout <= 0 {
		dialer.HandshakeTimeout = 15 * time.Second
	}
	attempts := d.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	base, maxBackoff := d.BaseBackoff, d.MaxBackoff
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	if maxBackoff <= 0 {
		maxBackoff = 2 * time.Second
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	for attempt := 0; ; attempt++ {
		conn, resp, err := dialer.DialContext(ctx, rawURL, header)
		if err == nil {
			return conn, nil
		}
		status := 0
		if resp != nil {
			status = resp.StatusCode
			_ = resp.Body.Close()
		}
		if attempt+1 >= attempts || !reliability.IsRetryableHTTPStatus(status) {
			if status != 0 {
				return nil, fmt.Errorf("dial upstream: handshake status %d: %w", status, err)
			}
			return nil, fmt.Errorf("dial upstream: %w", err)
		}

		wait := reliability.ExponentialBackoff(attempt, base, maxBackoff)
		logger.Warn("upstream handshake rejected, retrying", "status", status, "attempt", attempt+1, "backoff", wait)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// RealtimeURL builds the upstream websocket URL from the service endpoint.
func RealtimeURL(endpoint, apiVersion, model string) (string, error) {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		endpoint = "wss://" + strings.TrimPrefix(endpoint, "https://")
	case strings.HasPrefix(endpoint, "http://"):
		endpoint = "ws://" + strings.TrimPrefix(endpoint, "http://")
	case strings.HasPrefix(endpoint, "wss://"), strings.HasPrefix(endpoint, "ws://"):
	default:
		endpoint = "wss://" + endpoint
	}

	u, err := url.Parse(endpoint + "/voice-live/realtime")
	if err != nil || u.Host == "" {
		return "", &ConfigurationError{Field: "endpoint", Reason: fmt.Sprintf("is not a valid URL: %q", endpoint)}
	}
	q := u.Query()
	q.Set("api-version", apiVersion)
	q.Set("model", model)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
