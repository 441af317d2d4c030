package cli

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"rejoin/internal/chat"
	"rejoin/internal/history"
	"rejoin/internal/llm"
	"rejoin/internal/observability"
	"rejoin/internal/session"
	"rejoin/internal/store"
)

var metricsSeq atomic.Int64

func testMetrics(t *testing.T) *observability.Metrics {
	t.Helper()
	return observability.NewMetrics(fmt.Sprintf("rejoin_cli_test_%d_%d", time.Now().UnixNano(), metricsSeq.Add(1)))
}

// script runs the REPL against the offline mock client, feeding it the given
// input lines, and returns the output and the engine for assertions.
func script(t *testing.T, input string) (string, *session.Engine) {
	t.Helper()

	st, err := store.NewFileStore(t.TempDir(), nil, nil)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	engine := session.NewEngine(chat.SessionState{}, nil, history.NewIndex(0, 0), st, testMetrics(t), nil)

	var out bytes.Buffer
	r := New(engine, llm.NewMockClient(), observability.NewStageWindow(8), Options{
		Model:          "test-model",
		RequestTimeout: 5 * time.Second,
		Plain:          true,
		Input:          strings.NewReader(input),
		Output:         &out,
	})

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	return out.String(), engine
}

func TestScriptedExchangePausesSession(t *testing.T) {
	out, engine := script(t, "hello there\nexit\n")

	if !strings.Contains(out, "You said: hello there") {
		t.Fatalf("output missing assistant reply:\n%s", out)
	}

	state := engine.State()
	if state.Phase() != chat.PhasePaused {
		t.Fatalf("Phase() = %q, want paused after an exchange", state.Phase())
	}
	if len(state.PausedContext) != 2 {
		t.Fatalf("paused context has %d messages, want 2", len(state.PausedContext))
	}
	if state.LastResponseID != "mock_1" {
		t.Fatalf("LastResponseID = %q, want mock_1", state.LastResponseID)
	}
}

func TestScriptedContinueThreadsServerSide(t *testing.T) {
	out, engine := script(t, "hello\ncontinue\nand again\nexit\n")

	// The second prompt follows a resume, so the mock sees the previous
	// response id and echoes it back.
	if !strings.Contains(out, "(continuing from mock_1)") {
		t.Fatalf("second turn did not carry previous response id:\n%s", out)
	}

	state := engine.State()
	if len(state.PausedContext) != 4 {
		t.Fatalf("paused context has %d messages, want 4 after a resumed follow-up", len(state.PausedContext))
	}
	if state.LastResponseID != "mock_2" {
		t.Fatalf("LastResponseID = %q, want mock_2", state.LastResponseID)
	}
}

func TestScriptedPromptWithoutContinueBranches(t *testing.T) {
	_, engine := script(t, "hello\nanother thing\nexit\n")

	// No resume between prompts: the second prompt abandons the first
	// conversation and starts a new one with no server-side thread.
	if got := len(engine.HistoryAll()); got != 2 {
		t.Fatalf("global history has %d records, want 2", got)
	}
	all := engine.HistoryAll()
	if all[0].ConversationID == all[1].ConversationID {
		t.Fatalf("both exchanges landed in %s, want distinct conversations", all[0].ConversationID)
	}
}

func TestScriptedNothingToContinue(t *testing.T) {
	out, _ := script(t, "continue\nexit\n")
	if !strings.Contains(out, "nothing to continue from") {
		t.Fatalf("output missing resume failure notice:\n%s", out)
	}
}

func TestScriptedContinueBadIndex(t *testing.T) {
	out, _ := script(t, "hello\ncontinue 7\nexit\n")
	if !strings.Contains(out, "nothing to continue from") {
		t.Fatalf("output missing resume failure notice:\n%s", out)
	}
}

func TestScriptedHistory(t *testing.T) {
	out, _ := script(t, "hello\nhistory\nexit\n")
	if !strings.Contains(out, "**you:** hello") {
		t.Fatalf("history output missing the recorded prompt:\n%s", out)
	}
}

func TestScriptedHistoryEmpty(t *testing.T) {
	out, _ := script(t, "history\nexit\n")
	if !strings.Contains(out, "no history yet") {
		t.Fatalf("output missing empty-history notice:\n%s", out)
	}
}

func TestScriptedDebug(t *testing.T) {
	out, _ := script(t, "hello\ndebug\nexit\n")
	if !strings.Contains(out, "phase:") || !strings.Contains(out, "paused") {
		t.Fatalf("debug output missing session fields:\n%s", out)
	}
}

func TestScriptedSearchToggle(t *testing.T) {
	out, _ := script(t, "search\nsearch\nexit\n")
	if !strings.Contains(out, "web search on") || !strings.Contains(out, "web search off") {
		t.Fatalf("search toggle notices missing:\n%s", out)
	}
}

func TestStartupContinue(t *testing.T) {
	dir := t.TempDir()
	st, err := store.NewFileStore(dir, nil, nil)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	ix := history.NewIndex(0, 0)
	ix.Rebuild(map[string][]chat.ResponseRecord{
		"conv_old": {{ID: "resp_9", Prompt: "old prompt", Response: "old answer", Timestamp: 9, ConversationID: "conv_old"}},
	})
	engine := session.NewEngine(chat.SessionState{}, nil, ix, st, testMetrics(t), nil)

	var out bytes.Buffer
	r := New(engine, llm.NewMockClient(), nil, Options{
		Model:  "test-model",
		Plain:  true,
		Input:  strings.NewReader("exit\n"),
		Output: &out,
	})
	r.Continue(context.Background(), 0)

	state := engine.State()
	if state.Phase() != chat.PhaseActive {
		t.Fatalf("Phase() = %q, want active after startup continue", state.Phase())
	}
	if state.LastResponseID != "resp_9" {
		t.Fatalf("LastResponseID = %q, want resp_9", state.LastResponseID)
	}
	if state.CurrentConversationID == "conv_old" {
		t.Fatalf("startup continue reopened conv_old, want a fresh branch")
	}
}
