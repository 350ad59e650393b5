// Package unread maintains the per-context boundary between read and unread
// messages without scanning event content: a monotonic message-index
// watermark, plus an explicit id set for optimistic messages that are read
// before they have a confirmed index.
package unread

import (
	"sync"

	"github.com/quillchat/chatsync/internal/chat"
)

// Tracker owns read state for every context. Thread contexts are tracked
// independently of their parent chat; neither influences the other.
type Tracker struct {
	mu          sync.RWMutex
	watermarks  map[chat.Context]chat.MessageIndex
	readIndices map[chat.Context]map[chat.MessageIndex]struct{}
	readIDs     map[chat.Context]map[string]struct{}
	pinnedRead  map[chat.Scope]int64
	subscribers map[chat.Context]map[int64]chan struct{}
	nextID      int64
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		watermarks:  make(map[chat.Context]chat.MessageIndex),
		readIndices: make(map[chat.Context]map[chat.MessageIndex]struct{}),
		readIDs:     make(map[chat.Context]map[string]struct{}),
		pinnedRead:  make(map[chat.Scope]int64),
		subscribers: make(map[chat.Context]map[int64]chan struct{}),
	}
}

// MarkReadUpTo advances the context's watermark. Calls with an index at or
// below the current watermark are no-ops; the watermark never regresses.
func (t *Tracker) MarkReadUpTo(target chat.Context, messageIndex chat.MessageIndex) {
	t.mu.Lock()
	current, ok := t.watermarks[target]
	if ok && messageIndex <= current {
		t.mu.Unlock()
		return
	}
	t.watermarks[target] = messageIndex
	t.compactLocked(target)
	t.mu.Unlock()
	t.notify(target)
}

// MarkMessageRead marks one message read. Unconfirmed messages (no stable
// index yet) are tracked by id; confirmed ones by index.
func (t *Tracker) MarkMessageRead(target chat.Context, messageIndex chat.MessageIndex, messageID string) {
	t.mu.Lock()
	if messageID != "" {
		ids, ok := t.readIDs[target]
		if !ok {
			ids = make(map[string]struct{})
			t.readIDs[target] = ids
		}
		ids[messageID] = struct{}{}
	}
	if messageIndex >= 0 {
		indices, ok := t.readIndices[target]
		if !ok {
			indices = make(map[chat.MessageIndex]struct{})
			t.readIndices[target] = indices
		}
		indices[messageIndex] = struct{}{}
		t.compactLocked(target)
	}
	t.mu.Unlock()
	t.notify(target)
}

// ConfirmMessage transfers read state from an optimistic message id onto its
// confirmed message index. Safe to call repeatedly; the transfer happens at
// most once because the id entry is consumed.
func (t *Tracker) ConfirmMessage(target chat.Context, messageIndex chat.MessageIndex, messageID string) {
	t.mu.Lock()
	if ids, ok := t.readIDs[target]; ok {
		delete(ids, messageID)
		if len(ids) == 0 {
			delete(t.readIDs, target)
		}
	}
	indices, ok := t.readIndices[target]
	if !ok {
		indices = make(map[chat.MessageIndex]struct{})
		t.readIndices[target] = indices
	}
	indices[messageIndex] = struct{}{}
	t.compactLocked(target)
	t.mu.Unlock()
	t.notify(target)
}

// IsRead reports whether the message is read: its index is at or below the
// watermark, individually marked, or its id was read while unconfirmed.
func (t *Tracker) IsRead(target chat.Context, messageIndex chat.MessageIndex, messageID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if watermark, ok := t.watermarks[target]; ok && messageIndex >= 0 && messageIndex <= watermark {
		return true
	}
	if indices, ok := t.readIndices[target]; ok {
		if _, present := indices[messageIndex]; present {
			return true
		}
	}
	if messageID == "" {
		return false
	}
	ids, ok := t.readIDs[target]
	if !ok {
		return false
	}
	_, present := ids[messageID]
	return present
}

// UnreadCount returns how many messages above the watermark exist given the
// latest message index. Pass a negative latest index for an empty chat.
func (t *Tracker) UnreadCount(target chat.Context, latestMessageIndex chat.MessageIndex) int {
	if latestMessageIndex < 0 {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	watermark, ok := t.watermarks[target]
	if !ok {
		watermark = -1
	}
	if latestMessageIndex <= watermark {
		return 0
	}
	return int(latestMessageIndex - watermark)
}

// Watermark returns the context's read-up-to index, if any message has been
// read at all.
func (t *Tracker) Watermark(target chat.Context) (chat.MessageIndex, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	watermark, ok := t.watermarks[target]
	return watermark, ok
}

// FirstUnread returns the lowest unread message index given the latest known
// index, or false when everything is read.
func (t *Tracker) FirstUnread(target chat.Context, latestMessageIndex chat.MessageIndex) (chat.MessageIndex, bool) {
	if latestMessageIndex < 0 {
		return 0, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	watermark, ok := t.watermarks[target]
	if !ok {
		watermark = -1
	}
	candidate := watermark + 1
	if indices, present := t.readIndices[target]; present {
		for {
			if _, read := indices[candidate]; !read {
				break
			}
			candidate++
		}
	}
	if candidate > latestMessageIndex {
		return 0, false
	}
	return candidate, true
}

// MarkPinnedRead records that the user has seen pinned messages as of the
// given timestamp.
func (t *Tracker) MarkPinnedRead(scope chat.Scope, timestampMs int64) {
	t.mu.Lock()
	if timestampMs > t.pinnedRead[scope] {
		t.pinnedRead[scope] = timestampMs
	}
	t.mu.Unlock()
}

// UnreadPinned reports whether pinned messages changed since the user last
// looked at them.
func (t *Tracker) UnreadPinned(scope chat.Scope, dateLastPinnedMs int64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return dateLastPinnedMs > t.pinnedRead[scope]
}

// Subscribe registers interest in read-state changes for one context. The
// returned channel receives a best-effort signal per change; the cancel
// function unregisters.
func (t *Tracker) Subscribe(target chat.Context) (<-chan struct{}, func()) {
	t.mu.Lock()
	t.nextID++
	id := t.nextID
	stream := make(chan struct{}, 1)
	if _, ok := t.subscribers[target]; !ok {
		t.subscribers[target] = make(map[int64]chan struct{})
	}
	t.subscribers[target][id] = stream
	t.mu.Unlock()

	cancel := func() {
		t.mu.Lock()
		if subs, ok := t.subscribers[target]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(t.subscribers, target)
			}
		}
		t.mu.Unlock()
	}
	return stream, cancel
}

func (t *Tracker) notify(target chat.Context) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, stream := range t.subscribers[target] {
		select {
		case stream <- struct{}{}:
		default:
		}
	}
}

// compactLocked folds individually read indices that now sit contiguously
// above the watermark into the watermark itself.
func (t *Tracker) compactLocked(target chat.Context) {
	indices, ok := t.readIndices[target]
	if !ok {
		return
	}
	watermark, hasWatermark := t.watermarks[target]
	if !hasWatermark {
		watermark = -1
	}
	advanced := false
	for {
		if _, present := indices[watermark+1]; !present {
			break
		}
		watermark++
		delete(indices, watermark)
		advanced = true
	}
	if advanced {
		t.watermarks[target] = watermark
	}
	// Drop indices the watermark has swallowed.
	for index := range indices {
		if index <= watermark {
			delete(indices, index)
		}
	}
	if len(indices) == 0 {
		delete(t.readIndices, target)
	}
}
