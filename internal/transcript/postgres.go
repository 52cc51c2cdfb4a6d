package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists conversation documents in PostgreSQL as JSONB.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("postgres transcript store requires a database URL")
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			message_count INTEGER NOT NULL DEFAULT 0,
			document JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations (updated_at DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Available() bool { return s != nil && s.pool != nil }

func (s *PostgresStore) Upsert(ctx context.Context, sessionID string, entries []Entry) error {
	doc := NewConversation(sessionID, entries, time.Now().UTC())
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode conversation: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO conversations (id, session_id, message_count, document, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET
		   message_count = EXCLUDED.message_count,
		   document = EXCLUDED.document,
		   updated_at = EXCLUDED.updated_at`,
		doc.ID,
		doc.SessionID,
		doc.MessageCount,
		raw,
		doc.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, sessionID string) (Conversation, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT document FROM conversations WHERE id=$1`, sessionID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("read conversation: %w", err)
	}
	return decodeConversation(raw)
}

func (s *PostgresStore) List(ctx context.Context, limit int) ([]Conversation, error) {
	limit = normalizeLimit(limit)
	rows, err := s.pool.Query(ctx,
		`SELECT document FROM conversations ORDER BY updated_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	out := make([]Conversation, 0, limit)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		doc, err := decodeConversation(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Delete(ctx context.Context, sessionID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM conversations WHERE id=$1`, sessionID)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func decodeConversation(raw []byte) (Conversation, error) {
	var doc Conversation
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Conversation{}, fmt.Errorf("decode conversation: %w", err)
	}
	return doc, nil
}
