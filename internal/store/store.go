package store

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"rejoin/internal/chat"
)

// ErrDeclined is returned when the user refuses creation of the store
// directory on first run.
var ErrDeclined = errors.New("store directory creation declined")

// ConfirmFunc asks whether a missing store directory may be created. A nil
// ConfirmFunc means create without asking.
type ConfirmFunc func(path string) bool

// Store persists session state, conversations, and response records.
// Load returns everything at once; writes are per-document. Implementations
// do not guarantee cross-document atomicity, so Load must tolerate partial
// state (a referenced conversation whose document never flushed).
type Store interface {
	Load(ctx context.Context) (chat.SessionState, map[string]chat.Conversation, map[string][]chat.ResponseRecord, error)
	SaveState(ctx context.Context, state chat.SessionState) error
	SaveConversation(ctx context.Context, conv chat.Conversation) error
	SaveResponses(ctx context.Context, conversationID string, records []chat.ResponseRecord) error
	Close() error
}

// Open creates a postgres-backed store when a database URL is configured,
// otherwise a file-backed store rooted at dir.
func Open(ctx context.Context, databaseURL, dir string, confirm ConfirmFunc, logger *slog.Logger) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewFileStore(dir, confirm, logger)
	}
	return NewPostgresStore(ctx, databaseURL)
}
