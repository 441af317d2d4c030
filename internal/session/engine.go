package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"rejoin/internal/chat"
	"rejoin/internal/history"
	"rejoin/internal/observability"
	"rejoin/internal/store"
)

var (
	// ErrBusy is returned while a model turn is in flight; session mutations
	// wait until the turn completes.
	ErrBusy = errors.New("a request is already in flight")
	// ErrNothingToResume is returned when no continuation target exists.
	ErrNothingToResume = errors.New("nothing to continue from")
)

// Engine owns the session state, the history index, and every transition
// between them. All mutations run under one mutex; snapshots handed out are
// deep copies.
type Engine struct {
	mu      sync.Mutex
	state   chat.SessionState
	convs   map[string]chat.Conversation
	index   *history.Index
	store   store.Store
	logger  *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time

	busy            bool
	pendingCommands []string
}

func NewEngine(
	state chat.SessionState,
	convs map[string]chat.Conversation,
	index *history.Index,
	st store.Store,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *Engine {
	if convs == nil {
		convs = make(map[string]chat.Conversation)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		state:   state,
		convs:   convs,
		index:   index,
		store:   st,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// BeginTurn marks a model request in flight. While set, Begin, Resolve, and
// further BeginTurn calls fail with ErrBusy, so two requests can never race
// one session state.
func (e *Engine) BeginTurn() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.busy {
		return ErrBusy
	}
	e.busy = true
	e.metrics.TurnsInFlight.Inc()
	return nil
}

// EndTurn clears the in-flight mark. Safe to call after a failed BeginTurn
// pairing; extra calls are ignored.
func (e *Engine) EndTurn() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.busy {
		return
	}
	e.busy = false
	e.metrics.TurnsInFlight.Dec()
}

// Begin makes conversationID current, minting a fresh id when empty. The
// active context and last response id reset; a paused snapshot of another
// conversation stays reachable until the next completed exchange replaces
// it. Nothing is persisted: a conversation that never completes an exchange
// leaves no trace on disk.
func (e *Engine) Begin(conversationID string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.busy {
		return "", ErrBusy
	}

	id := conversationID
	if id == "" {
		id = e.mintConversationIDLocked()
	}
	e.state.CurrentConversationID = id
	e.state.Context = nil
	e.state.LastResponseID = ""
	e.logger.Debug("conversation begun", "conversation_id", id)
	return id, nil
}

// RecordExchange commits one completed prompt/response pair: appends the
// user and assistant turns to the active context (skipping the user turn if
// it is already the final entry, which only happens when the same exchange
// is recorded twice), snapshots the conversation as paused, clears the
// active context, and persists state, conversation, and response records.
// Persistence failures are logged and counted, never fatal; the in-memory
// state stays authoritative.
func (e *Engine) RecordExchange(ctx context.Context, prompt, response, responseID string) (chat.ResponseRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.state.CurrentConversationID
	if id == "" {
		id = e.mintConversationIDLocked()
		e.state.CurrentConversationID = id
	}

	if !duplicateUserTurn(e.state.Context, prompt) {
		e.state.Context = append(e.state.Context, chat.Message{Role: chat.RoleUser, Content: prompt})
	}
	e.state.Context = append(e.state.Context, chat.Message{Role: chat.RoleAssistant, Content: response})

	e.state.PausedContext = chat.CloneContext(e.state.Context)
	e.state.PausedConversationID = id
	e.state.Paused = true
	e.state.Context = nil

	if responseID == "" {
		e.logger.Warn("service returned no response id; next continuation uses client context only",
			"conversation_id", id)
	}
	e.state.LastResponseID = responseID

	conv, ok := e.convs[id]
	if !ok {
		conv = chat.Conversation{ID: id}
	}
	conv.Context = chat.CloneContext(e.state.PausedContext)
	if len(e.pendingCommands) > 0 {
		conv.CommandHistory = append(conv.CommandHistory, e.pendingCommands...)
		e.pendingCommands = nil
	}
	e.convs[id] = conv

	rec := chat.ResponseRecord{
		ID:             responseID,
		Prompt:         prompt,
		Response:       response,
		Timestamp:      e.now().UnixMilli(),
		ConversationID: id,
	}
	e.index.Record(rec)
	e.metrics.Exchanges.Inc()

	e.persistStateLocked(ctx)
	if err := e.store.SaveConversation(ctx, conv.Clone()); err != nil {
		e.metrics.StoreErrors.WithLabelValues("conversation").Inc()
		e.logger.Error("persist conversation", "conversation_id", id, "error", err)
	}
	if err := e.store.SaveResponses(ctx, id, e.index.List(id)); err != nil {
		e.metrics.StoreErrors.WithLabelValues("responses").Inc()
		e.logger.Error("persist responses", "conversation_id", id, "error", err)
	}

	return rec, nil
}

// CommandEntered buffers one command-line history entry. Buffered lines are
// flushed into the conversation record at the next completed exchange, so
// they persist alongside it.
func (e *Engine) CommandEntered(line string) {
	if line == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pendingCommands = append(e.pendingCommands, line)
}

// State returns a deep copy of the session state.
func (e *Engine) State() chat.SessionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

// Conversation returns a deep copy of one conversation record.
func (e *Engine) Conversation(id string) (chat.Conversation, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	conv, ok := e.convs[id]
	if !ok {
		return chat.Conversation{}, false
	}
	return conv.Clone(), true
}

// History lists one conversation's records, most-recent-first.
func (e *Engine) History(conversationID string) []chat.ResponseRecord {
	return e.index.List(conversationID)
}

// HistoryAll lists records across all conversations, most-recent-first.
func (e *Engine) HistoryAll() []chat.ResponseRecord {
	return e.index.ListAll()
}

// Busy reports whether a model turn is in flight.
func (e *Engine) Busy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.busy
}

func (e *Engine) persistStateLocked(ctx context.Context) {
	if err := e.store.SaveState(ctx, e.state.Clone()); err != nil {
		e.metrics.StoreErrors.WithLabelValues("state").Inc()
		e.logger.Error("persist session state", "error", err)
	}
}

// mintConversationIDLocked derives an id from the clock, bumping by a
// millisecond while the id is already taken. Ids are never reused.
func (e *Engine) mintConversationIDLocked() string {
	at := e.now()
	for {
		id := chat.NewConversationID(at)
		if !e.knownLocked(id) {
			return id
		}
		at = at.Add(time.Millisecond)
	}
}

func (e *Engine) knownLocked(id string) bool {
	if _, ok := e.convs[id]; ok {
		return true
	}
	if id == e.state.CurrentConversationID || id == e.state.PausedConversationID {
		return true
	}
	return e.index.Has(id)
}

func duplicateUserTurn(ctx []chat.Message, prompt string) bool {
	if len(ctx) == 0 {
		return false
	}
	last := ctx[len(ctx)-1]
	return last.Role == chat.RoleUser && last.Content == prompt
}
