package signals

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/quillchat/chatsync/internal/chat"
	"github.com/quillchat/chatsync/internal/merge"
)

type recordingReadState struct {
	confirmed []string
	read      map[string]bool
}

func newRecordingReadState() *recordingReadState {
	return &recordingReadState{read: make(map[string]bool)}
}

func (r *recordingReadState) ConfirmMessage(_ chat.Context, _ chat.MessageIndex, messageID string) {
	r.confirmed = append(r.confirmed, messageID)
}

func (r *recordingReadState) IsRead(_ chat.Context, _ chat.MessageIndex, messageID string) bool {
	return r.read[messageID]
}

func (r *recordingReadState) MarkMessageRead(_ chat.Context, _ chat.MessageIndex, messageID string) {
	r.read[messageID] = true
}

func newTestIngestor(t *testing.T) (*Ingestor, *merge.Engine) {
	t.Helper()
	engine, err := merge.NewEngine(merge.EngineConfig{
		ReadState:   newRecordingReadState(),
		LocalUserID: "user-local",
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	ingestor, err := NewIngestor(IngestorConfig{Engine: engine})
	if err != nil {
		t.Fatalf("NewIngestor: %v", err)
	}
	return ingestor, engine
}

func messageEvent(index chat.EventIndex, messageIndex chat.MessageIndex, messageID, sender string) chat.EventWrapper {
	return chat.EventWrapper{
		Index:       index,
		TimestampMs: 1000 + int64(index),
		Payload: chat.Message{
			MessageIndex: messageIndex,
			MessageID:    messageID,
			Sender:       sender,
			Content:      "hello",
		},
	}
}

func TestMessageSentAddsUnconfirmed(t *testing.T) {
	ingestor, engine := newTestIngestor(t)
	target := chat.MainContext(chat.GroupScope("group-1"))

	ingestor.MessageSent(target, messageEvent(7, 3, "msg-peer", "user-peer"))

	if !engine.Unconfirmed().Contains(target, "msg-peer") {
		t.Fatalf("expected peer message to be pending")
	}
}

func TestMessageSentIgnoresLocalEcho(t *testing.T) {
	ingestor, engine := newTestIngestor(t)
	target := chat.MainContext(chat.GroupScope("group-1"))

	original := messageEvent(7, 3, "msg-1", "user-local")
	engine.Unconfirmed().Add(target, original)

	echo := messageEvent(9, 3, "msg-1", "user-local")
	ingestor.MessageSent(target, echo)

	pending := engine.Unconfirmed().List(target)
	if len(pending) != 1 {
		t.Fatalf("pending count = %d, want 1", len(pending))
	}
	if pending[0].Index != original.Index {
		t.Fatalf("echo replaced the original pending event")
	}
}

func TestMessageDeletedReconcilesLoadedCopy(t *testing.T) {
	ingestor, engine := newTestIngestor(t)
	target := chat.MainContext(chat.GroupScope("group-1"))

	if !engine.ApplyConfirmed(target, []chat.EventWrapper{messageEvent(0, 0, "msg-1", "user-peer")}, nil) {
		t.Fatalf("seed batch rejected")
	}

	ingestor.MessageDeleted(target, "msg-1", "user-peer")

	events := engine.Store().Events(target)
	message, ok := events[0].AsMessage()
	if !ok {
		t.Fatalf("expected a message event")
	}
	if !message.Deleted || message.Content != "" {
		t.Fatalf("message = %+v, want deleted with empty content", message)
	}
}

func TestMessageDeletedDiscardsPendingCopy(t *testing.T) {
	ingestor, engine := newTestIngestor(t)
	target := chat.MainContext(chat.GroupScope("group-1"))

	engine.Unconfirmed().Add(target, messageEvent(4, 2, "msg-1", "user-peer"))
	ingestor.MessageDeleted(target, "msg-1", "user-peer")

	if engine.Unconfirmed().Contains(target, "msg-1") {
		t.Fatalf("expected pending copy to be discarded")
	}
}

func TestReactionToggle(t *testing.T) {
	ingestor, engine := newTestIngestor(t)
	target := chat.MainContext(chat.GroupScope("group-1"))

	if !engine.ApplyConfirmed(target, []chat.EventWrapper{messageEvent(0, 0, "msg-1", "user-peer")}, nil) {
		t.Fatalf("seed batch rejected")
	}

	ingestor.ReactionToggled(target, "msg-1", "thumbsup", "user-peer", true)
	ingestor.ReactionToggled(target, "msg-1", "thumbsup", "user-peer", true)

	message, _ := engine.Store().Events(target)[0].AsMessage()
	if got := message.Reactions["thumbsup"]; len(got) != 1 || got[0] != "user-peer" {
		t.Fatalf("reactions after add = %v, want [user-peer]", got)
	}

	ingestor.ReactionToggled(target, "msg-1", "thumbsup", "user-peer", false)

	message, _ = engine.Store().Events(target)[0].AsMessage()
	if _, present := message.Reactions["thumbsup"]; present {
		t.Fatalf("reactions after remove = %v, want empty", message.Reactions)
	}
}

func TestDispatcherDeliversToSubscribers(t *testing.T) {
	ingestor, _ := newTestIngestor(t)
	target := chat.MainContext(chat.GroupScope("group-1"))
	other := chat.MainContext(chat.GroupScope("group-2"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, unsubscribe := ingestor.Dispatcher().Subscribe(ctx, target)
	defer unsubscribe()

	ingestor.Typing(other, "user-peer")
	ingestor.Typing(target, "user-peer")

	select {
	case event := <-stream:
		if event.Kind != EventTyping || event.Target != target {
			t.Fatalf("event = %+v, want typing in %s", event, target.Key())
		}
	case <-time.After(time.Second):
		t.Fatalf("no event delivered")
	}

	select {
	case event := <-stream:
		t.Fatalf("unexpected extra event %+v", event)
	default:
	}
}

func TestDispatcherDropsWhenSubscriberStalls(t *testing.T) {
	dispatcher := NewDispatcher()
	target := chat.MainContext(chat.GroupScope("group-1"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, unsubscribe := dispatcher.Subscribe(ctx, target)
	defer unsubscribe()

	for i := 0; i < 100; i++ {
		dispatcher.Publish(Event{Target: target, Kind: EventTyping})
	}

	if len(stream) == 0 || len(stream) > 16 {
		t.Fatalf("buffered events = %d, want 1..16", len(stream))
	}
}

func TestSubscribeCancelReleasesItsWatcher(t *testing.T) {
	dispatcher := NewDispatcher()
	target := chat.MainContext(chat.GroupScope("group-1"))
	ctx := context.Background()

	before := runtime.NumGoroutine()
	for i := 0; i < 50; i++ {
		_, cancel := dispatcher.Subscribe(ctx, target)
		cancel()
		// A second cancel must stay a no-op.
		cancel()
	}

	waitForGoroutines(t, before+5)

	dispatcher.mu.RLock()
	remaining := len(dispatcher.subscribers)
	dispatcher.mu.RUnlock()
	if remaining != 0 {
		t.Fatalf("subscribers = %d, want 0 after cancel", remaining)
	}
}
