package chat

// Phase describes how the next prompt should treat the session.
type Phase string

const (
	// PhaseEmpty means no conversation exists yet; the next prompt starts one.
	PhaseEmpty Phase = "empty"
	// PhasePaused means the current conversation sits in the paused snapshot;
	// the next prompt starts fresh unless the snapshot is resumed first.
	PhasePaused Phase = "paused"
	// PhaseActive means live context exists and the next prompt extends it.
	PhaseActive Phase = "active"
)

// CloneContext returns an independent copy of a message slice.
func CloneContext(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// Clone returns a deep copy safe to hand outside a lock.
func (s SessionState) Clone() SessionState {
	c := s
	c.Context = CloneContext(s.Context)
	c.PausedContext = CloneContext(s.PausedContext)
	return c
}

// Clone returns a deep copy safe to hand outside a lock.
func (c Conversation) Clone() Conversation {
	out := c
	out.Context = CloneContext(c.Context)
	if c.CommandHistory != nil {
		out.CommandHistory = append([]string(nil), c.CommandHistory...)
	}
	return out
}

// Phase derives the prompt-handling phase from the state.
func (s SessionState) Phase() Phase {
	if s.CurrentConversationID == "" {
		return PhaseEmpty
	}
	if s.Paused && s.PausedConversationID == s.CurrentConversationID && len(s.Context) == 0 {
		return PhasePaused
	}
	return PhaseActive
}

// LastAssistant returns the content of the most recent assistant message.
func LastAssistant(msgs []Message) (string, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleAssistant {
			return msgs[i].Content, true
		}
	}
	return "", false
}
