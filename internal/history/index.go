package history

import (
	"sort"
	"sync"

	"rejoin/internal/chat"
)

const (
	DefaultConversationLimit = 50
	DefaultGlobalLimit       = 250
)

// Index keeps response records most-recent-first, one capped list per
// conversation plus a capped global list across conversations.
type Index struct {
	mu          sync.RWMutex
	perConv     map[string][]chat.ResponseRecord
	global      []chat.ResponseRecord
	convLimit   int
	globalLimit int
}

func NewIndex(convLimit, globalLimit int) *Index {
	if convLimit <= 0 {
		convLimit = DefaultConversationLimit
	}
	if globalLimit <= 0 {
		globalLimit = DefaultGlobalLimit
	}
	return &Index{
		perConv:     make(map[string][]chat.ResponseRecord),
		convLimit:   convLimit,
		globalLimit: globalLimit,
	}
}

// Rebuild replaces the index contents from loaded per-conversation lists.
// Stored lists are most-recent-first already; the merged global list is
// re-sorted descending by timestamp because the lists arrive in arbitrary
// enumeration order. The sort is stable, so equal timestamps keep the
// merge order, which itself is fixed by sorting conversation ids first.
func (ix *Index) Rebuild(records map[string][]chat.ResponseRecord) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	ix.perConv = make(map[string][]chat.ResponseRecord, len(records))
	var global []chat.ResponseRecord
	for _, id := range ids {
		recs := records[id]
		if len(recs) == 0 {
			continue
		}
		kept := make([]chat.ResponseRecord, len(recs))
		copy(kept, recs)
		if len(kept) > ix.convLimit {
			kept = kept[:ix.convLimit]
		}
		ix.perConv[id] = kept
		global = append(global, kept...)
	}

	sort.SliceStable(global, func(i, j int) bool {
		return global[i].Timestamp > global[j].Timestamp
	})
	if len(global) > ix.globalLimit {
		global = global[:ix.globalLimit]
	}
	ix.global = global
}

// Record prepends to the record's conversation list and to the global list,
// evicting past capacity.
func (ix *Index) Record(rec chat.ResponseRecord) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	list := append([]chat.ResponseRecord{rec}, ix.perConv[rec.ConversationID]...)
	if len(list) > ix.convLimit {
		list = list[:ix.convLimit]
	}
	ix.perConv[rec.ConversationID] = list

	ix.global = append([]chat.ResponseRecord{rec}, ix.global...)
	if len(ix.global) > ix.globalLimit {
		ix.global = ix.global[:ix.globalLimit]
	}
}

// List returns a copy of one conversation's records, most-recent-first.
func (ix *Index) List(conversationID string) []chat.ResponseRecord {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return cloneRecords(ix.perConv[conversationID])
}

// ListAll returns a copy of the global list, most-recent-first.
func (ix *Index) ListAll() []chat.ResponseRecord {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return cloneRecords(ix.global)
}

// At returns the nth most recent record of a conversation, 1-based.
func (ix *Index) At(conversationID string, n int) (chat.ResponseRecord, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	list := ix.perConv[conversationID]
	if n < 1 || n > len(list) {
		return chat.ResponseRecord{}, false
	}
	return list[n-1], true
}

// Has reports whether any records exist for a conversation.
func (ix *Index) Has(conversationID string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.perConv[conversationID]) > 0
}

// LatestGlobal returns the most recent record across all conversations.
func (ix *Index) LatestGlobal() (chat.ResponseRecord, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if len(ix.global) == 0 {
		return chat.ResponseRecord{}, false
	}
	return ix.global[0], true
}

// FindByResponse returns the most recent record of a conversation whose
// response text matches exactly.
func (ix *Index) FindByResponse(conversationID, response string) (chat.ResponseRecord, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	for _, rec := range ix.perConv[conversationID] {
		if rec.Response == response {
			return rec, true
		}
	}
	return chat.ResponseRecord{}, false
}

func cloneRecords(recs []chat.ResponseRecord) []chat.ResponseRecord {
	if recs == nil {
		return nil
	}
	out := make([]chat.ResponseRecord, len(recs))
	copy(out, recs)
	return out
}
