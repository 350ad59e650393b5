package merge

import (
	"sort"
	"sync"

	"github.com/quillchat/chatsync/internal/chat"
)

// Unconfirmed holds optimistic, locally originated events that have not yet
// been assigned a confirmed event index, keyed by message id per context.
type Unconfirmed struct {
	mu        sync.RWMutex
	byContext map[chat.Context]map[string]chat.EventWrapper
}

// NewUnconfirmed returns an empty unconfirmed set.
func NewUnconfirmed() *Unconfirmed {
	return &Unconfirmed{byContext: make(map[chat.Context]map[string]chat.EventWrapper)}
}

// Add records an optimistic event. Events without a message payload are
// ignored; only messages take the send round trip.
func (u *Unconfirmed) Add(target chat.Context, event chat.EventWrapper) {
	message, ok := event.AsMessage()
	if !ok || message.MessageID == "" {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	entries, ok := u.byContext[target]
	if !ok {
		entries = make(map[string]chat.EventWrapper)
		u.byContext[target] = entries
	}
	entries[message.MessageID] = event
}

// Delete removes the entry for the message id and reports whether a removal
// actually happened. Deleting twice returns false the second time, which is
// what makes confirmed-batch reconciliation idempotent.
func (u *Unconfirmed) Delete(target chat.Context, messageID string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	entries, ok := u.byContext[target]
	if !ok {
		return false
	}
	if _, present := entries[messageID]; !present {
		return false
	}
	delete(entries, messageID)
	if len(entries) == 0 {
		delete(u.byContext, target)
	}
	return true
}

// Contains reports whether the message id is pending in the context.
func (u *Unconfirmed) Contains(target chat.Context, messageID string) bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	entries, ok := u.byContext[target]
	if !ok {
		return false
	}
	_, present := entries[messageID]
	return present
}

// List returns the pending events for a context, ordered by timestamp so the
// UI can append them after the confirmed window.
func (u *Unconfirmed) List(target chat.Context) []chat.EventWrapper {
	u.mu.RLock()
	defer u.mu.RUnlock()
	entries := u.byContext[target]
	events := make([]chat.EventWrapper, 0, len(entries))
	for _, event := range entries {
		events = append(events, event)
	}
	sortByTimestamp(events)
	return events
}

func sortByTimestamp(events []chat.EventWrapper) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].TimestampMs < events[j].TimestampMs
	})
}
