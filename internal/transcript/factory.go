package transcript

import (
	"context"
	"fmt"
	"strings"
)

// NewStore selects a store by mode. "auto" uses postgres when a database URL
// is configured and disables transcript storage otherwise.
func NewStore(ctx context.Context, mode, databaseURL string) (Store, error) {
	databaseURL = strings.TrimSpace(databaseURL)
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "auto":
		if databaseURL == "" {
			return DisabledStore{}, nil
		}
		return NewPostgresStore(ctx, databaseURL)
	case "postgres":
		return NewPostgresStore(ctx, databaseURL)
	case "memory":
		return NewInMemoryStore(), nil
	case "disabled":
		return DisabledStore{}, nil
	default:
		return nil, fmt.Errorf("unknown transcript store %q", mode)
	}
}

// DisabledStore is used when no transcript backend is configured.
type DisabledStore struct{}

func (DisabledStore) Available() bool { return false }

func (DisabledStore) Upsert(context.Context, string, []Entry) error { return ErrUnavailable }

func (DisabledStore) Get(context.Context, string) (Conversation, error) {
	return Conversation{}, ErrUnavailable
}

func (DisabledStore) List(context.Context, int) ([]Conversation, error) { return nil, ErrUnavailable }

func (DisabledStore) Delete(context.Context, string) error { return ErrUnavailable }

func (DisabledStore) Close() error { return nil }
