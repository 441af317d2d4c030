package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"rejoin/internal/chat"
)

const (
	stateFile        = "state.json"
	conversationsDir = "conversations"
	responsesDir     = "responses"
)

// FileStore keeps every document as a JSON file under a root directory:
// state.json, conversations/<id>.json, responses/<id>.json. This is the
// canonical layout and stays inspectable with a text editor.
type FileStore struct {
	mu     sync.Mutex
	root   string
	logger *slog.Logger
}

func NewFileStore(root string, confirm ConfirmFunc, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if _, err := os.Stat(root); os.IsNotExist(err) {
		if confirm != nil && !confirm(root) {
			return nil, ErrDeclined
		}
	} else if err != nil {
		return nil, fmt.Errorf("stat store root: %w", err)
	}

	for _, dir := range []string{root, filepath.Join(root, conversationsDir), filepath.Join(root, responsesDir)} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create store dir %s: %w", dir, err)
		}
	}

	return &FileStore{root: root, logger: logger}, nil
}

func (s *FileStore) Load(_ context.Context) (chat.SessionState, map[string]chat.Conversation, map[string][]chat.ResponseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.loadState()
	if err != nil {
		return chat.SessionState{}, nil, nil, err
	}

	convs := make(map[string]chat.Conversation)
	for _, path := range s.listJSON(conversationsDir) {
		var conv chat.Conversation
		if !s.readJSON(path, &conv) {
			continue
		}
		if conv.ID == "" {
			conv.ID = stem(path)
		}
		convs[conv.ID] = conv
	}

	records := make(map[string][]chat.ResponseRecord)
	for _, path := range s.listJSON(responsesDir) {
		var recs []chat.ResponseRecord
		if !s.readJSON(path, &recs) {
			continue
		}
		records[stem(path)] = recs
	}

	return state, convs, records, nil
}

// loadState reads state.json. A missing file synthesizes an empty default and
// writes it back; a corrupt one is kept on disk and an empty default is used.
func (s *FileStore) loadState() (chat.SessionState, error) {
	path := filepath.Join(s.root, stateFile)
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		var state chat.SessionState
		if werr := s.writeJSON(path, state); werr != nil {
			return state, fmt.Errorf("initialize state file: %w", werr)
		}
		return state, nil
	}
	if err != nil {
		return chat.SessionState{}, fmt.Errorf("read state file: %w", err)
	}

	var state chat.SessionState
	if err := json.Unmarshal(raw, &state); err != nil {
		s.logger.Warn("state file unreadable, starting empty", "path", path, "error", err)
		return chat.SessionState{}, nil
	}
	return state, nil
}

func (s *FileStore) SaveState(_ context.Context, state chat.SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSON(filepath.Join(s.root, stateFile), state)
}

func (s *FileStore) SaveConversation(_ context.Context, conv chat.Conversation) error {
	if conv.ID == "" {
		return fmt.Errorf("save conversation: empty id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSON(filepath.Join(s.root, conversationsDir, conv.ID+".json"), conv)
}

func (s *FileStore) SaveResponses(_ context.Context, conversationID string, records []chat.ResponseRecord) error {
	if conversationID == "" {
		return fmt.Errorf("save responses: empty conversation id")
	}
	if records == nil {
		records = []chat.ResponseRecord{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSON(filepath.Join(s.root, responsesDir, conversationID+".json"), records)
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) listJSON(dir string) []string {
	entries, err := os.ReadDir(filepath.Join(s.root, dir))
	if err != nil {
		s.logger.Warn("store directory unreadable", "dir", dir, "error", err)
		return nil
	}
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		paths = append(paths, filepath.Join(s.root, dir, e.Name()))
	}
	return paths
}

// readJSON reports whether the document loaded. A corrupt document is logged
// and skipped so one bad file never aborts startup.
func (s *FileStore) readJSON(path string, v any) bool {
	raw, err := os.ReadFile(path)
	if err != nil {
		s.logger.Warn("store document unreadable", "path", path, "error", err)
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		s.logger.Warn("store document corrupt, skipping", "path", path, "error", err)
		return false
	}
	return true
}

// writeJSON writes via a temp file in the same directory then renames, so a
// crash mid-write leaves the previous document intact.
func (s *FileStore) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(tmp), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}

func stem(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".json")
}
