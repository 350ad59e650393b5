package sync

import (
	"context"
	"errors"
	"testing"

	"github.com/quillchat/chatsync/internal/chat"
	"github.com/quillchat/chatsync/internal/merge"
	"github.com/quillchat/chatsync/internal/rangeset"
	"github.com/quillchat/chatsync/internal/remote"
	"github.com/quillchat/chatsync/internal/resolver"
	"github.com/quillchat/chatsync/internal/unread"
)

// fakeCache backs both the resolver and the coordinator's write-through path
// with plain in-memory maps.
type fakeCache struct {
	events    map[string]map[chat.EventIndex]chat.EventWrapper
	byMessage map[string]map[chat.MessageIndex]chat.EventIndex
	expired   map[string]*rangeset.Set
	lastKnown map[string]int64
	writes    int
	readErr   error
	writeErr  error
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		events:    make(map[string]map[chat.EventIndex]chat.EventWrapper),
		byMessage: make(map[string]map[chat.MessageIndex]chat.EventIndex),
		expired:   make(map[string]*rangeset.Set),
		lastKnown: make(map[string]int64),
	}
}

func (f *fakeCache) seed(target chat.Context, events ...chat.EventWrapper) {
	key := target.Key()
	if f.events[key] == nil {
		f.events[key] = make(map[chat.EventIndex]chat.EventWrapper)
		f.byMessage[key] = make(map[chat.MessageIndex]chat.EventIndex)
	}
	for _, event := range events {
		f.events[key][event.Index] = event
		if message, ok := event.AsMessage(); ok {
			f.byMessage[key][message.MessageIndex] = event.Index
		}
	}
}

func (f *fakeCache) ReadIndices(_ context.Context, target chat.Context, indices []chat.EventIndex) ([]chat.EventWrapper, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	var hits []chat.EventWrapper
	for _, index := range indices {
		if event, ok := f.events[target.Key()][index]; ok {
			hits = append(hits, event)
		}
	}
	return hits, nil
}

func (f *fakeCache) ExpiredSpans(_ context.Context, target chat.Context) (*rangeset.Set, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	if spans, ok := f.expired[target.Key()]; ok {
		return spans.Clone(), nil
	}
	return &rangeset.Set{}, nil
}

func (f *fakeCache) EventIndexForMessage(_ context.Context, target chat.Context, messageIndex chat.MessageIndex) (chat.EventIndex, bool, error) {
	if f.readErr != nil {
		return 0, false, f.readErr
	}
	index, ok := f.byMessage[target.Key()][messageIndex]
	return index, ok, nil
}

func (f *fakeCache) Write(_ context.Context, target chat.Context, events []chat.EventWrapper, _ []chat.ExpiredRange, _ chat.EventIndex, timestampMs int64) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes++
	f.seed(target, events...)
	if timestampMs > f.lastKnown[target.Scope.Key()] {
		f.lastKnown[target.Scope.Key()] = timestampMs
	}
	return nil
}

func (f *fakeCache) LastKnownUpdate(_ context.Context, scope chat.Scope) (int64, error) {
	return f.lastKnown[scope.Key()], nil
}

type rangeCall struct {
	startIndex chat.EventIndex
	ascending  bool
}

// fakeRemote returns scripted responses in order and records every call.
type fakeRemote struct {
	responses   []remote.EventsResponse
	byIndex     [][]chat.EventIndex
	ranges      []rangeCall
	windows     []chat.MessageIndex
	beforeReply func()
}

func (f *fakeRemote) next() remote.EventsResponse {
	if f.beforeReply != nil {
		f.beforeReply()
	}
	if len(f.responses) == 0 {
		return remote.EventsFailed{Err: errors.New("no scripted response")}
	}
	response := f.responses[0]
	f.responses = f.responses[1:]
	return response
}

func (f *fakeRemote) EventsByIndex(_ context.Context, _ chat.Context, indices []chat.EventIndex, _ int64) remote.EventsResponse {
	f.byIndex = append(f.byIndex, append([]chat.EventIndex(nil), indices...))
	return f.next()
}

func (f *fakeRemote) EventsRange(_ context.Context, _ chat.Context, startIndex chat.EventIndex, ascending bool, _ remote.PageCaps, _ int64) remote.EventsResponse {
	f.ranges = append(f.ranges, rangeCall{startIndex: startIndex, ascending: ascending})
	return f.next()
}

func (f *fakeRemote) EventsWindow(_ context.Context, _ chat.Context, midpoint chat.MessageIndex, _ remote.PageCaps, _ int64) remote.EventsResponse {
	f.windows = append(f.windows, midpoint)
	return f.next()
}

func newTestCoordinator(t *testing.T, cache *fakeCache, reader *fakeRemote) *Coordinator {
	t.Helper()
	res, err := resolver.New(resolver.Config{Cache: cache})
	if err != nil {
		t.Fatalf("resolver.New: %v", err)
	}
	tracker := unread.NewTracker()
	engine, err := merge.NewEngine(merge.EngineConfig{ReadState: tracker, LocalUserID: "user-local"})
	if err != nil {
		t.Fatalf("merge.NewEngine: %v", err)
	}
	coordinator, err := New(Config{
		Resolver: res,
		Remote:   reader,
		Engine:   engine,
		Tracker:  tracker,
		Cache:    cache,
	})
	if err != nil {
		t.Fatalf("sync.New: %v", err)
	}
	return coordinator
}

func msgEvent(index chat.EventIndex, messageIndex chat.MessageIndex, messageID, sender string) chat.EventWrapper {
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

func contiguousMessages(from, to chat.EventIndex) []chat.EventWrapper {
	var events []chat.EventWrapper
	for index := from; index <= to; index++ {
		events = append(events, msgEvent(index, chat.MessageIndex(index), "", "user-peer"))
	}
	return events
}

func TestColdCacheWindowIssuesOneFullFetch(t *testing.T) {
	cache := newFakeCache()
	reader := &fakeRemote{responses: []remote.EventsResponse{
		remote.EventsSuccess{
			Events:           contiguousMessages(0, 20),
			LatestEventIndex: 20,
			TimestampMs:      5000,
		},
	}}
	coordinator := newTestCoordinator(t, cache, reader)
	target := chat.MainContext(chat.GroupScope("group-1"))
	coordinator.UpdateSummary(target, Summary{LatestEventIndex: 20, LatestMessageIndex: 20})

	response := coordinator.LoadEventWindow(context.Background(), target, 10)

	if _, ok := response.(remote.EventsSuccess); !ok {
		t.Fatalf("response = %T, want EventsSuccess", response)
	}
	if len(reader.windows) != 1 || reader.windows[0] != 10 {
		t.Fatalf("window fetches = %v, want one at midpoint 10", reader.windows)
	}
	if len(reader.byIndex) != 0 {
		t.Fatalf("unexpected point fetches %v", reader.byIndex)
	}
	if got := len(coordinator.Engine().Store().Events(target)); got != 21 {
		t.Fatalf("loaded events = %d, want 21", got)
	}
	if cache.writes != 1 {
		t.Fatalf("cache writes = %d, want 1", cache.writes)
	}
}

func TestPartialCachePatchesOnlyTheGaps(t *testing.T) {
	cache := newFakeCache()
	target := chat.MainContext(chat.GroupScope("group-1"))
	cache.seed(target,
		msgEvent(10, 10, "", "user-peer"),
		msgEvent(11, 11, "", "user-peer"),
		msgEvent(12, 12, "", "user-peer"),
		msgEvent(14, 14, "", "user-peer"),
		msgEvent(15, 15, "", "user-peer"),
	)
	reader := &fakeRemote{responses: []remote.EventsResponse{
		remote.EventsSuccess{
			Events:           []chat.EventWrapper{msgEvent(13, 13, "", "user-peer")},
			LatestEventIndex: 15,
		},
	}}
	coordinator := newTestCoordinator(t, cache, reader)
	coordinator.UpdateSummary(target, Summary{LatestEventIndex: 15, LatestMessageIndex: 15, MinVisibleEventIndex: 10})

	response, more := coordinator.LoadPreviousEvents(context.Background(), target)
	if !more {
		t.Fatalf("expected a page to load")
	}
	success, ok := response.(remote.EventsSuccess)
	if !ok {
		t.Fatalf("response = %T, want EventsSuccess", response)
	}
	if len(reader.byIndex) != 1 || len(reader.byIndex[0]) != 1 || reader.byIndex[0][0] != 13 {
		t.Fatalf("point fetches = %v, want exactly [13]", reader.byIndex)
	}
	if len(success.Events) != 6 {
		t.Fatalf("merged events = %d, want 6", len(success.Events))
	}
	loaded := coordinator.Engine().Store().Loaded(target)
	if !loaded.Covers(10, 15) {
		t.Fatalf("loaded = %s, want coverage of [10..15]", loaded)
	}
}

func TestOlderPageStartsOneBelowTheWindow(t *testing.T) {
	cache := newFakeCache()
	target := chat.MainContext(chat.GroupScope("group-1"))
	reader := &fakeRemote{responses: []remote.EventsResponse{
		remote.EventsSuccess{Events: contiguousMessages(80, 99), LatestEventIndex: 120},
	}}
	coordinator := newTestCoordinator(t, cache, reader)
	coordinator.UpdateSummary(target, Summary{LatestEventIndex: 120, LatestMessageIndex: 120})
	if !coordinator.Engine().ApplyConfirmed(target, contiguousMessages(100, 120), nil) {
		t.Fatalf("seed batch rejected")
	}

	if _, more := coordinator.LoadPreviousEvents(context.Background(), target); !more {
		t.Fatalf("expected an older page")
	}
	if len(reader.ranges) != 1 {
		t.Fatalf("range fetches = %d, want 1 (gap too wide for point patching)", len(reader.ranges))
	}
	if call := reader.ranges[0]; call.startIndex != 99 || call.ascending {
		t.Fatalf("range call = %+v, want start 99 descending", call)
	}
}

func TestNoOlderPageOnceTheFloorIsLoaded(t *testing.T) {
	cache := newFakeCache()
	target := chat.MainContext(chat.GroupScope("group-1"))
	coordinator := newTestCoordinator(t, cache, &fakeRemote{})
	coordinator.UpdateSummary(target, Summary{LatestEventIndex: 10, LatestMessageIndex: 10})
	if !coordinator.Engine().ApplyConfirmed(target, contiguousMessages(0, 10), nil) {
		t.Fatalf("seed batch rejected")
	}

	if _, more := coordinator.LoadPreviousEvents(context.Background(), target); more {
		t.Fatalf("expected no more pages once the window reaches the floor")
	}
}

func TestNonContiguousBatchLeavesWindowUntouched(t *testing.T) {
	cache := newFakeCache()
	target := chat.MainContext(chat.GroupScope("group-1"))
	reader := &fakeRemote{responses: []remote.EventsResponse{
		remote.EventsSuccess{Events: contiguousMessages(30, 35), LatestEventIndex: 35},
	}}
	coordinator := newTestCoordinator(t, cache, reader)
	coordinator.UpdateSummary(target, Summary{LatestEventIndex: 35, LatestMessageIndex: 35})
	if !coordinator.Engine().ApplyConfirmed(target, contiguousMessages(5, 15), nil) {
		t.Fatalf("seed batch rejected")
	}

	response, more := coordinator.LoadNewEvents(context.Background(), target)
	if !more {
		t.Fatalf("expected a page load attempt")
	}

	failed, ok := response.(remote.EventsFailed)
	if !ok {
		t.Fatalf("response = %T, want EventsFailed for a dropped batch", response)
	}
	if !errors.Is(failed.Err, ErrNonContiguous) {
		t.Fatalf("err = %v, want ErrNonContiguous", failed.Err)
	}
	loaded := coordinator.Engine().Store().Loaded(target)
	if !loaded.Covers(5, 15) || loaded.Contains(30) {
		t.Fatalf("loaded = %s, want exactly [5..15]", loaded)
	}
}

func TestIncompletePatchSurfacesAFailure(t *testing.T) {
	cache := newFakeCache()
	target := chat.MainContext(chat.GroupScope("group-1"))
	cache.seed(target,
		msgEvent(10, 10, "", "user-peer"),
		msgEvent(11, 11, "", "user-peer"),
		msgEvent(12, 12, "", "user-peer"),
		msgEvent(15, 15, "", "user-peer"),
	)
	// The remote answers the [13 14] patch with 13 only, leaving a hole at
	// 14 in the merged result.
	reader := &fakeRemote{responses: []remote.EventsResponse{
		remote.EventsSuccess{
			Events:           []chat.EventWrapper{msgEvent(13, 13, "", "user-peer")},
			LatestEventIndex: 15,
		},
	}}
	coordinator := newTestCoordinator(t, cache, reader)
	coordinator.UpdateSummary(target, Summary{LatestEventIndex: 15, LatestMessageIndex: 15, MinVisibleEventIndex: 10})

	response, more := coordinator.LoadPreviousEvents(context.Background(), target)
	if !more {
		t.Fatalf("expected a page load attempt")
	}

	failed, ok := response.(remote.EventsFailed)
	if !ok {
		t.Fatalf("response = %T, want EventsFailed when the patch leaves a hole", response)
	}
	if !errors.Is(failed.Err, ErrNonContiguous) {
		t.Fatalf("err = %v, want ErrNonContiguous", failed.Err)
	}
	if got := len(coordinator.Engine().Store().Events(target)); got != 0 {
		t.Fatalf("loaded events = %d, want 0 when the batch is dropped", got)
	}
}

func TestSendRoundTrip(t *testing.T) {
	cache := newFakeCache()
	target := chat.MainContext(chat.GroupScope("group-1"))
	coordinator := newTestCoordinator(t, cache, &fakeRemote{})
	coordinator.UpdateSummary(target, Summary{LatestEventIndex: 4, LatestMessageIndex: 4})
	if !coordinator.Engine().ApplyConfirmed(target, contiguousMessages(0, 4), nil) {
		t.Fatalf("seed batch rejected")
	}

	event, err := coordinator.SendMessage(target, "optimistic", "")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	message, ok := event.AsMessage()
	if !ok {
		t.Fatalf("sent event is not a message")
	}
	if message.MessageIndex != 5 {
		t.Fatalf("provisional message index = %d, want 5", message.MessageIndex)
	}
	if !coordinator.Tracker().IsRead(target, message.MessageIndex, message.MessageID) {
		t.Fatalf("own message should be read immediately")
	}
	if got := len(coordinator.EventsView(target)); got != 6 {
		t.Fatalf("view size = %d, want 6", got)
	}

	confirmed := msgEvent(5, 5, message.MessageID, "user-local")
	if !coordinator.Engine().ApplyConfirmed(target, []chat.EventWrapper{confirmed}, nil) {
		t.Fatalf("confirmed batch rejected")
	}

	if coordinator.Engine().Unconfirmed().Contains(target, message.MessageID) {
		t.Fatalf("unconfirmed entry should be consumed by the confirmed copy")
	}
	view := coordinator.EventsView(target)
	if len(view) != 6 {
		t.Fatalf("view size after confirm = %d, want 6 (no duplicate)", len(view))
	}
	if !coordinator.Tracker().IsRead(target, 5, "") {
		t.Fatalf("read state should transfer onto the confirmed index")
	}
	if got := coordinator.UnreadCount(target); got != 0 {
		t.Fatalf("unread count = %d, want 0 after sending", got)
	}
}

func TestSupersededFetchIsDiscarded(t *testing.T) {
	cache := newFakeCache()
	target := chat.MainContext(chat.GroupScope("group-1"))
	reader := &fakeRemote{responses: []remote.EventsResponse{
		remote.EventsSuccess{Events: contiguousMessages(0, 9), LatestEventIndex: 9},
	}}
	coordinator := newTestCoordinator(t, cache, reader)
	coordinator.UpdateSummary(target, Summary{LatestEventIndex: 9, LatestMessageIndex: 9})
	reader.beforeReply = func() {
		coordinator.Invalidate(target)
	}

	response := coordinator.LoadEventWindow(context.Background(), target, 5)

	failed, ok := response.(remote.EventsFailed)
	if !ok {
		t.Fatalf("response = %T, want EventsFailed", response)
	}
	if !errors.Is(failed.Err, ErrSuperseded) {
		t.Fatalf("err = %v, want ErrSuperseded", failed.Err)
	}
	if got := len(coordinator.Engine().Store().Events(target)); got != 0 {
		t.Fatalf("loaded events = %d, want 0 after a discarded fetch", got)
	}
}

func TestMembershipLossEvictsTheWindow(t *testing.T) {
	cache := newFakeCache()
	target := chat.MainContext(chat.GroupScope("group-1"))
	reader := &fakeRemote{responses: []remote.EventsResponse{remote.NotAMember{}}}
	coordinator := newTestCoordinator(t, cache, reader)
	coordinator.UpdateSummary(target, Summary{LatestEventIndex: 20, LatestMessageIndex: 20})
	if !coordinator.Engine().ApplyConfirmed(target, contiguousMessages(10, 20), nil) {
		t.Fatalf("seed batch rejected")
	}

	response := coordinator.LoadEventWindow(context.Background(), target, 1)

	if _, ok := response.(remote.NotAMember); !ok {
		t.Fatalf("response = %T, want NotAMember", response)
	}
	if got := len(coordinator.Engine().Store().Events(target)); got != 0 {
		t.Fatalf("loaded events = %d, want 0 after eviction", got)
	}
}

func TestRehydrateOnlyAdjacentIndices(t *testing.T) {
	cache := newFakeCache()
	target := chat.MainContext(chat.GroupScope("group-1"))
	reader := &fakeRemote{responses: []remote.EventsResponse{
		remote.EventsSuccess{Events: []chat.EventWrapper{msgEvent(16, 16, "", "user-peer")}, LatestEventIndex: 16},
	}}
	coordinator := newTestCoordinator(t, cache, reader)
	coordinator.UpdateSummary(target, Summary{LatestEventIndex: 15, LatestMessageIndex: 15})
	if !coordinator.Engine().ApplyConfirmed(target, contiguousMessages(5, 15), nil) {
		t.Fatalf("seed batch rejected")
	}

	if _, fetched := coordinator.RehydrateEvent(context.Background(), target, 40); fetched {
		t.Fatalf("far-future index should not be rehydrated")
	}
	if _, fetched := coordinator.RehydrateEvent(context.Background(), target, 16); !fetched {
		t.Fatalf("adjacent index should be rehydrated")
	}
	if !coordinator.Engine().Store().Loaded(target).Contains(16) {
		t.Fatalf("adjacent event should join the window")
	}
}

func TestRefreshUpdatedEventsIgnoresUnloadedAndForeignThreads(t *testing.T) {
	cache := newFakeCache()
	scope := chat.GroupScope("group-1")
	target := chat.MainContext(scope)
	cache.seed(target, msgEvent(12, 12, "", "user-peer"))
	reader := &fakeRemote{}
	coordinator := newTestCoordinator(t, cache, reader)
	coordinator.UpdateSummary(target, Summary{LatestEventIndex: 15, LatestMessageIndex: 15})
	if !coordinator.Engine().ApplyConfirmed(target, contiguousMessages(10, 15), nil) {
		t.Fatalf("seed batch rejected")
	}

	// Index 12 is loaded and cached, 40 is outside the window, and the
	// threaded update has no selected thread; none should reach the remote.
	coordinator.RefreshUpdatedEvents(context.Background(), scope, []UpdatedEvent{
		{EventIndex: 12},
		{EventIndex: 40},
		{EventIndex: 3, ThreadRoot: 7, Threaded: true},
	})

	if len(reader.byIndex) != 0 || len(reader.ranges) != 0 || len(reader.windows) != 0 {
		t.Fatalf("remote calls = %v/%v/%v, want none", reader.byIndex, reader.ranges, reader.windows)
	}
}
