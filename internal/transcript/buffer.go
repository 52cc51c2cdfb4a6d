package transcript

import (
	"strings"
	"sync"
	"time"
)

// Buffer is the append-only transcript of one live session. It is flushed to a
// Store only on explicit request.
type Buffer struct {
	mu      sync.Mutex
	entries []Entry
	now     func() time.Time
}

func NewBuffer() *Buffer {
	return &Buffer{now: func() time.Time { return time.Now().UTC() }}
}

// Append records text under role. Blank text is ignored.
func (b *Buffer) Append(sessionID string, role Role, text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, Entry{
		Timestamp: b.now(),
		SessionID: sessionID,
		Role:      role,
		Text:      text,
	})
	return true
}

// Entries returns a copy of the buffered entries in arrival order.
func (b *Buffer) Entries() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Entry(nil), b.entries...)
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
