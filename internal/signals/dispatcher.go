// Package signals ingests real-time peer signaling (messages sent, deleted,
// edited, reactions, typing) and reconciles it against the loaded windows by
// message id, without a log fetch.
package signals

import (
	"context"
	"sync"

	"github.com/quillchat/chatsync/internal/chat"
)

// EventKind labels a dispatched signal.
type EventKind string

const (
	EventMessageSent     EventKind = "message-sent"
	EventMessageDeleted  EventKind = "message-deleted"
	EventMessageEdited   EventKind = "message-edited"
	EventReactionChanged EventKind = "reaction-changed"
	EventTyping          EventKind = "typing"
)

// Event is one reconciled signal delivered to subscribers of a context.
type Event struct {
	Target    chat.Context
	Kind      EventKind
	MessageID string
	UserID    string
}

// Dispatcher fans reconciled signals out to per-context subscribers.
// Delivery is best effort: a subscriber that cannot keep up misses signals
// rather than blocking the engine.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[chat.Context]map[int64]*subscriber
	nextID      int64
	bufferSize  int
}

type subscriber struct {
	id     int64
	stream chan Event
}

// NewDispatcher returns a dispatcher with a small per-subscriber buffer.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[chat.Context]map[int64]*subscriber),
		bufferSize:  16,
	}
}

// Subscribe registers interest in one context's signals. The subscription
// ends when ctx is done or the returned cancel function runs; either way the
// ctx watcher goroutine exits with it.
func (d *Dispatcher) Subscribe(ctx context.Context, target chat.Context) (<-chan Event, func()) {
	entry := &subscriber{
		id:     d.nextSequence(),
		stream: make(chan Event, d.bufferSize),
	}
	d.register(target, entry)

	stopped := make(chan struct{})
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregister(target, entry.id)
			close(stopped)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cleanup()
		case <-stopped:
		}
	}()
	return entry.stream, cleanup
}

// Publish delivers the event to the context's subscribers without blocking.
func (d *Dispatcher) Publish(event Event) {
	d.mu.RLock()
	entries := d.subscribers[event.Target]
	if len(entries) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*subscriber, 0, len(entries))
	for _, entry := range entries {
		copies = append(copies, entry)
	}
	d.mu.RUnlock()

	for _, entry := range copies {
		select {
		case entry.stream <- event:
		default:
		}
	}
}

func (d *Dispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *Dispatcher) register(target chat.Context, entry *subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[target]; !ok {
		d.subscribers[target] = make(map[int64]*subscriber)
	}
	d.subscribers[target][entry.id] = entry
}

func (d *Dispatcher) unregister(target chat.Context, id int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entries, ok := d.subscribers[target]
	if !ok {
		return
	}
	delete(entries, id)
	if len(entries) == 0 {
		delete(d.subscribers, target)
	}
}
