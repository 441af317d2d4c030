package store

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"rejoin/internal/chat"
)

func TestFileStoreFirstRunSynthesizesState(t *testing.T) {
	root := filepath.Join(t.TempDir(), "rejoin")
	s, err := NewFileStore(root, nil, nil)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}

	state, convs, records, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if state.CurrentConversationID != "" || state.Paused {
		t.Fatalf("first-run state = %+v, want zero value", state)
	}
	if len(convs) != 0 || len(records) != 0 {
		t.Fatalf("first run loaded %d conversations, %d record lists, want none", len(convs), len(records))
	}

	if _, err := os.Stat(filepath.Join(root, stateFile)); err != nil {
		t.Fatalf("state file should exist after first load: %v", err)
	}
}

func TestFileStoreDeclinedCreation(t *testing.T) {
	root := filepath.Join(t.TempDir(), "rejoin")
	confirm := func(string) bool { return false }
	if _, err := NewFileStore(root, confirm, nil); err != ErrDeclined {
		t.Fatalf("NewFileStore() error = %v, want ErrDeclined", err)
	}
	if _, err := os.Stat(root); !os.IsNotExist(err) {
		t.Fatalf("declined creation should leave no directory behind")
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	s, err := NewFileStore(filepath.Join(t.TempDir(), "rejoin"), nil, nil)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	ctx := context.Background()

	state := chat.SessionState{
		LastResponseID:        "resp_9",
		Context:               []chat.Message{{Role: chat.RoleUser, Content: "q"}, {Role: chat.RoleAssistant, Content: "a"}},
		CurrentConversationID: "conv_2",
		Paused:                true,
		PausedContext:         []chat.Message{{Role: chat.RoleUser, Content: "old q"}},
		PausedConversationID:  "conv_1",
	}
	conv := chat.Conversation{
		ID:             "conv_2",
		Context:        state.Context,
		CommandHistory: []string{"hello there"},
	}
	recs := []chat.ResponseRecord{
		{ID: "resp_9", Prompt: "q", Response: "a", Timestamp: 1712345678901, ConversationID: "conv_2"},
	}

	if err := s.SaveState(ctx, state); err != nil {
		t.Fatalf("SaveState() error = %v", err)
	}
	if err := s.SaveConversation(ctx, conv); err != nil {
		t.Fatalf("SaveConversation() error = %v", err)
	}
	if err := s.SaveResponses(ctx, conv.ID, recs); err != nil {
		t.Fatalf("SaveResponses() error = %v", err)
	}

	gotState, gotConvs, gotRecs, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !reflect.DeepEqual(gotState, state) {
		t.Fatalf("state round-trip = %+v, want %+v", gotState, state)
	}
	if !reflect.DeepEqual(gotConvs[conv.ID], conv) {
		t.Fatalf("conversation round-trip = %+v, want %+v", gotConvs[conv.ID], conv)
	}
	if !reflect.DeepEqual(gotRecs[conv.ID], recs) {
		t.Fatalf("responses round-trip = %+v, want %+v", gotRecs[conv.ID], recs)
	}
}

func TestFileStoreSkipsCorruptDocuments(t *testing.T) {
	root := filepath.Join(t.TempDir(), "rejoin")
	s, err := NewFileStore(root, nil, nil)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	ctx := context.Background()

	good := chat.Conversation{ID: "conv_1", Context: []chat.Message{{Role: chat.RoleUser, Content: "hi"}}}
	if err := s.SaveConversation(ctx, good); err != nil {
		t.Fatalf("SaveConversation() error = %v", err)
	}
	bad := filepath.Join(root, conversationsDir, "conv_2.json")
	if err := os.WriteFile(bad, []byte("{truncated"), 0o600); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	_, convs, _, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, ok := convs["conv_1"]; !ok {
		t.Fatalf("healthy conversation missing after load")
	}
	if _, ok := convs["conv_2"]; ok {
		t.Fatalf("corrupt conversation should have been skipped")
	}
}

func TestFileStoreCorruptStateStartsEmpty(t *testing.T) {
	root := filepath.Join(t.TempDir(), "rejoin")
	s, err := NewFileStore(root, nil, nil)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, stateFile), []byte("not json"), 0o600); err != nil {
		t.Fatalf("write corrupt state: %v", err)
	}

	state, _, _, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !reflect.DeepEqual(state, chat.SessionState{}) {
		t.Fatalf("corrupt state loaded as %+v, want zero value", state)
	}
}

func TestFileStoreLeavesNoTempFiles(t *testing.T) {
	root := filepath.Join(t.TempDir(), "rejoin")
	s, err := NewFileStore(root, nil, nil)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	if err := s.SaveState(context.Background(), chat.SessionState{CurrentConversationID: "conv_1"}); err != nil {
		t.Fatalf("SaveState() error = %v", err)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Fatalf("temp file %s left behind after save", e.Name())
		}
	}
}
