package merge

import (
	"sync"

	"github.com/quillchat/chatsync/internal/chat"
	"github.com/quillchat/chatsync/internal/rangeset"
)

// ContextStore holds the per-context window of confirmed events currently
// loaded in memory. It is the single piece of mutable shared state in the
// engine, and every mutation goes through the contiguity-gated Apply path;
// there is no direct assignment of the loaded range.
type ContextStore struct {
	mu     sync.RWMutex
	states map[chat.Context]*contextState
}

type contextState struct {
	events  map[chat.EventIndex]chat.EventWrapper
	loaded  *rangeset.Set
	expired *rangeset.Set
	latest  chat.EventIndex
	hasTip  bool
}

// NewContextStore returns an empty store.
func NewContextStore() *ContextStore {
	return &ContextStore{states: make(map[chat.Context]*contextState)}
}

// Apply merges a batch of confirmed events and expired ranges into the
// context's window. A batch that is not contiguous with the stored range is
// rejected and dropped; the store is left untouched and the caller learns
// only that nothing was applied.
func (store *ContextStore) Apply(target chat.Context, events []chat.EventWrapper, expired []chat.ExpiredRange) bool {
	if len(events) == 0 && len(expired) == 0 {
		return true
	}

	store.mu.Lock()
	defer store.mu.Unlock()

	state := store.states[target]
	if state == nil {
		state = newContextState()
	}

	if !IsContiguous(state.loaded, state.expired, events, expired) {
		return false
	}

	for _, r := range expired {
		state.expired.Add(r.Start, r.End)
	}
	for _, event := range events {
		state.events[event.Index] = event
		state.loaded.Add(event.Index, event.Index)
		if !state.hasTip || event.Index > state.latest {
			state.latest = event.Index
			state.hasTip = true
		}
	}
	store.states[target] = state
	return true
}

// NoteLatestEventIndex records the latest known server index for the context
// without loading any events, e.g. from a chat summary. It never regresses.
func (store *ContextStore) NoteLatestEventIndex(target chat.Context, index chat.EventIndex) {
	store.mu.Lock()
	defer store.mu.Unlock()
	state := store.states[target]
	if state == nil {
		state = newContextState()
		store.states[target] = state
	}
	if !state.hasTip || index > state.latest {
		state.latest = index
		state.hasTip = true
	}
}

// Loaded returns a copy of the context's loaded event-index coverage.
func (store *ContextStore) Loaded(target chat.Context) *rangeset.Set {
	store.mu.RLock()
	defer store.mu.RUnlock()
	state := store.states[target]
	if state == nil {
		return &rangeset.Set{}
	}
	return state.loaded.Clone()
}

// Expired returns a copy of the context's expired-range coverage.
func (store *ContextStore) Expired(target chat.Context) *rangeset.Set {
	store.mu.RLock()
	defer store.mu.RUnlock()
	state := store.states[target]
	if state == nil {
		return &rangeset.Set{}
	}
	return state.expired.Clone()
}

// Events returns the context's loaded events sorted ascending by index.
func (store *ContextStore) Events(target chat.Context) []chat.EventWrapper {
	store.mu.RLock()
	defer store.mu.RUnlock()
	state := store.states[target]
	if state == nil {
		return nil
	}
	events := make([]chat.EventWrapper, 0, len(state.events))
	for _, event := range state.events {
		events = append(events, event)
	}
	chat.SortEvents(events)
	return events
}

// LatestEventIndex returns the highest event index known for the context,
// whether loaded or merely reported by the server.
func (store *ContextStore) LatestEventIndex(target chat.Context) (chat.EventIndex, bool) {
	store.mu.RLock()
	defer store.mu.RUnlock()
	state := store.states[target]
	if state == nil || !state.hasTip {
		return 0, false
	}
	return state.latest, true
}

// UpdateMessage applies fn to the loaded message with the given id, if
// present, replacing the stored copy with the returned payload. Used by peer
// signaling to edit or delete without a log fetch.
func (store *ContextStore) UpdateMessage(target chat.Context, messageID string, fn func(chat.Message) chat.Message) bool {
	store.mu.Lock()
	defer store.mu.Unlock()
	state := store.states[target]
	if state == nil {
		return false
	}
	for index, event := range state.events {
		message, ok := event.AsMessage()
		if !ok || message.MessageID != messageID {
			continue
		}
		event.Payload = fn(message)
		state.events[index] = event
		return true
	}
	return false
}

// Remove forgets everything held for the context. Used when the server
// reports the caller is no longer a member.
func (store *ContextStore) Remove(target chat.Context) {
	store.mu.Lock()
	defer store.mu.Unlock()
	delete(store.states, target)
}

func newContextState() *contextState {
	return &contextState{
		events:  make(map[chat.EventIndex]chat.EventWrapper),
		loaded:  &rangeset.Set{},
		expired: &rangeset.Set{},
	}
}
