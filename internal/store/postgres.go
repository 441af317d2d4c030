package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"rejoin/internal/chat"
)

// PostgresStore keeps the same documents as the file layout, one JSONB
// document per row, for setups that want the session to follow the user
// across machines.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
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
		`CREATE TABLE IF NOT EXISTS session_state (
			id BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (id),
			doc JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			doc JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS conversation_responses (
			conversation_id TEXT PRIMARY KEY,
			doc JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context) (chat.SessionState, map[string]chat.Conversation, map[string][]chat.ResponseRecord, error) {
	var state chat.SessionState
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM session_state WHERE id`).Scan(&raw)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// First run, empty state.
	case err != nil:
		return chat.SessionState{}, nil, nil, fmt.Errorf("load state: %w", err)
	default:
		if err := json.Unmarshal(raw, &state); err != nil {
			return chat.SessionState{}, nil, nil, fmt.Errorf("decode state: %w", err)
		}
	}

	convs := make(map[string]chat.Conversation)
	rows, err := s.pool.Query(ctx, `SELECT id, doc FROM conversations`)
	if err != nil {
		return chat.SessionState{}, nil, nil, fmt.Errorf("load conversations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var doc []byte
		if err := rows.Scan(&id, &doc); err != nil {
			return chat.SessionState{}, nil, nil, fmt.Errorf("scan conversation row: %w", err)
		}
		var conv chat.Conversation
		if err := json.Unmarshal(doc, &conv); err != nil {
			continue
		}
		if conv.ID == "" {
			conv.ID = id
		}
		convs[conv.ID] = conv
	}
	if err := rows.Err(); err != nil {
		return chat.SessionState{}, nil, nil, fmt.Errorf("iterate conversation rows: %w", err)
	}

	records := make(map[string][]chat.ResponseRecord)
	respRows, err := s.pool.Query(ctx, `SELECT conversation_id, doc FROM conversation_responses`)
	if err != nil {
		return chat.SessionState{}, nil, nil, fmt.Errorf("load responses: %w", err)
	}
	defer respRows.Close()
	for respRows.Next() {
		var id string
		var doc []byte
		if err := respRows.Scan(&id, &doc); err != nil {
			return chat.SessionState{}, nil, nil, fmt.Errorf("scan response row: %w", err)
		}
		var recs []chat.ResponseRecord
		if err := json.Unmarshal(doc, &recs); err != nil {
			continue
		}
		records[id] = recs
	}
	if err := respRows.Err(); err != nil {
		return chat.SessionState{}, nil, nil, fmt.Errorf("iterate response rows: %w", err)
	}

	return state, convs, records, nil
}

func (s *PostgresStore) SaveState(ctx context.Context, state chat.SessionState) error {
	doc, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO session_state (id, doc, updated_at) VALUES (TRUE, $1::jsonb, now())
		 ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()`,
		string(doc),
	)
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveConversation(ctx context.Context, conv chat.Conversation) error {
	if conv.ID == "" {
		return fmt.Errorf("save conversation: empty id")
	}
	doc, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO conversations (id, doc, updated_at) VALUES ($1, $2::jsonb, now())
		 ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()`,
		conv.ID,
		string(doc),
	)
	if err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveResponses(ctx context.Context, conversationID string, records []chat.ResponseRecord) error {
	if conversationID == "" {
		return fmt.Errorf("save responses: empty conversation id")
	}
	if records == nil {
		records = []chat.ResponseRecord{}
	}
	doc, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshal responses: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO conversation_responses (conversation_id, doc, updated_at) VALUES ($1, $2::jsonb, now())
		 ON CONFLICT (conversation_id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()`,
		conversationID,
		string(doc),
	)
	if err != nil {
		return fmt.Errorf("save responses: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
