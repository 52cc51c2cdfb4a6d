package transcript

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryStore is a simple in-process transcript store for local/dev use.
type InMemoryStore struct {
	mu    sync.RWMutex
	docs  map[string]Conversation
	clock func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		docs:  make(map[string]Conversation),
		clock: func() time.Time { return time.Now().UTC() },
	}
}

func (s *InMemoryStore) Available() bool { return true }

func (s *InMemoryStore) Upsert(_ context.Context, sessionID string, entries []Entry) error {
	doc := NewConversation(sessionID, entries, s.clock())
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[sessionID] = doc
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, sessionID string) (Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[sessionID]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return doc, nil
}

// List returns the most recently stored conversations first.
func (s *InMemoryStore) List(_ context.Context, limit int) ([]Conversation, error) {
	limit = normalizeLimit(limit)
	s.mu.RLock()
	out := make([]Conversation, 0, len(s.docs))
	for _, doc := range s.docs {
		out = append(out, doc)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[sessionID]; !ok {
		return ErrNotFound
	}
	delete(s.docs, sessionID)
	return nil
}

func (s *InMemoryStore) Close() error { return nil }
