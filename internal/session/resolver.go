package session

import (
	"context"

	"rejoin/internal/chat"
)

// Selector picks what to continue from. The zero value resumes the latest
// thing available; ResumeIndex targets one exchange of the current
// conversation by its 1-based position in history.
type Selector struct {
	index    int
	explicit bool
}

func ResumeLatest() Selector { return Selector{} }

func ResumeIndex(n int) Selector { return Selector{index: n, explicit: true} }

// Resolution paths, in priority order.
const (
	PathPausedSnapshot = "paused_snapshot"
	PathExplicitIndex  = "explicit_index"
	PathLatestExchange = "latest_exchange"
	PathGlobalFallback = "global_fallback"
)

// Outcome describes a successful continuation.
type Outcome struct {
	Path           string
	ConversationID string
	LastResponseID string
	Restored       int // messages now in the active context
}

// Resolve reattaches the session to a prior exchange. Priority order:
//
//  1. implicit resume restores the paused snapshot exactly as it was;
//  2. an explicit index replays one recorded exchange of the current
//     conversation as a fresh two-message context;
//  3. without a snapshot, the current conversation's most recent record is
//     replayed the same way;
//  4. with no current history at all, the most recent record across all
//     conversations seeds a newly minted conversation (a branch: the old
//     conversation is not reopened);
//  5. otherwise nothing can be resumed.
//
// The work happens on a scratch copy committed only on success, so a failed
// resolve leaves the session state untouched. An explicit index that misses
// is a failure, never a silent fall-through to another path. Every
// successful path consumes the paused snapshot and persists the state.
func (e *Engine) Resolve(ctx context.Context, sel Selector) (Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.busy {
		return Outcome{}, ErrBusy
	}

	next := e.state.Clone()
	var out Outcome

	switch {
	case !sel.explicit && next.Paused:
		next.CurrentConversationID = next.PausedConversationID
		next.Context = chat.CloneContext(next.PausedContext)
		if last, ok := chat.LastAssistant(next.Context); ok {
			// Re-derive the response id in case it was lost over a restart.
			if rec, found := e.index.FindByResponse(next.CurrentConversationID, last); found {
				next.LastResponseID = rec.ID
			}
		}
		clearPaused(&next)
		out = Outcome{Path: PathPausedSnapshot}

	case sel.explicit:
		convID := next.CurrentConversationID
		if convID == "" {
			convID = e.mintConversationIDLocked()
		}
		rec, ok := e.index.At(convID, sel.index)
		if !ok {
			e.countResolveLocked("none")
			return Outcome{}, ErrNothingToResume
		}
		replayRecord(&next, convID, rec)
		out = Outcome{Path: PathExplicitIndex}

	default:
		if rec, ok := e.index.At(next.CurrentConversationID, 1); ok {
			replayRecord(&next, next.CurrentConversationID, rec)
			out = Outcome{Path: PathLatestExchange}
		} else if rec, ok := e.index.LatestGlobal(); ok {
			replayRecord(&next, e.mintConversationIDLocked(), rec)
			out = Outcome{Path: PathGlobalFallback}
		} else {
			e.countResolveLocked("none")
			return Outcome{}, ErrNothingToResume
		}
	}

	e.state = next
	e.persistStateLocked(ctx)
	e.countResolveLocked(out.Path)

	out.ConversationID = next.CurrentConversationID
	out.LastResponseID = next.LastResponseID
	out.Restored = len(next.Context)
	e.logger.Info("continuation resolved",
		"path", out.Path,
		"conversation_id", out.ConversationID,
		"last_response_id", out.LastResponseID,
	)
	return out, nil
}

// replayRecord narrows the session to exactly one recorded exchange: a
// two-message context rebuilt from the record, under the given conversation.
func replayRecord(next *chat.SessionState, conversationID string, rec chat.ResponseRecord) {
	next.CurrentConversationID = conversationID
	next.Context = []chat.Message{
		{Role: chat.RoleUser, Content: rec.Prompt},
		{Role: chat.RoleAssistant, Content: rec.Response},
	}
	next.LastResponseID = rec.ID
	clearPaused(next)
}

func clearPaused(next *chat.SessionState) {
	next.Paused = false
	next.PausedContext = nil
	next.PausedConversationID = ""
}

func (e *Engine) countResolveLocked(path string) {
	e.metrics.ResolverOutcomes.WithLabelValues(path).Inc()
}
