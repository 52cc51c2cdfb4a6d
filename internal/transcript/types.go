package transcript

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound    = errors.New("conversation not found")
	ErrUnavailable = errors.New("transcript store unavailable")
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Entry is a single user or assistant utterance.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"sessionId"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
}

// Conversation is the stored document for one session.
type Conversation struct {
	ID                string    `json:"id"`
	SessionID         string    `json:"sessionId"`
	Timestamp         time.Time `json:"timestamp"`
	Transcripts       []Entry   `json:"transcripts"`
	ConversationStart time.Time `json:"conversationStart"`
	ConversationEnd   time.Time `json:"conversationEnd"`
	MessageCount      int       `json:"messageCount"`
	UserMessages      int       `json:"userMessages"`
	AssistantMessages int       `json:"assistantMessages"`
}

// NewConversation builds the stored document with its summary counters.
func NewConversation(sessionID string, entries []Entry, now time.Time) Conversation {
	c := Conversation{
		ID:                sessionID,
		SessionID:         sessionID,
		Timestamp:         now,
		Transcripts:       append([]Entry{}, entries...),
		ConversationStart: now,
		ConversationEnd:   now,
		MessageCount:      len(entries),
	}
	for i, e := range entries {
		if i == 0 || e.Timestamp.Before(c.ConversationStart) {
			c.ConversationStart = e.Timestamp
		}
		if i == 0 || e.Timestamp.After(c.ConversationEnd) {
			c.ConversationEnd = e.Timestamp
		}
		switch e.Role {
		case RoleUser:
			c.UserMessages++
		case RoleAssistant:
			c.AssistantMessages++
		}
	}
	return c
}

// Store persists conversation transcripts keyed by session id. Callers check
// Available first; an unavailable store fails every call with ErrUnavailable.
type Store interface {
	Available() bool
	Upsert(ctx context.Context, sessionID string, entries []Entry) error
	Get(ctx context.Context, sessionID string) (Conversation, error)
	List(ctx context.Context, limit int) ([]Conversation, error)
	Delete(ctx context.Context, sessionID string) error
	Close() error
}

const defaultListLimit = 100

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return defaultListLimit
	}
	return limit
}
