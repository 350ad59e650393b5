// Package sync orchestrates event-window synchronization per logical request:
// probe the cache, fetch only what is missing, merge, gate, persist, and keep
// read state current. Retry policy stays with the caller; the coordinator
// never retries a failed fetch.
package sync

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/quillchat/chatsync/internal/chat"
	"github.com/quillchat/chatsync/internal/merge"
	"github.com/quillchat/chatsync/internal/rangeset"
	"github.com/quillchat/chatsync/internal/remote"
	"github.com/quillchat/chatsync/internal/resolver"
	"github.com/quillchat/chatsync/internal/unread"
	"github.com/quillchat/chatsync/internal/users"
)

var (
	errMissingResolver = errors.New("sync: resolver is required")
	errMissingRemote   = errors.New("sync: remote log reader is required")
	errMissingEngine   = errors.New("sync: merge engine is required")
	errMissingTracker  = errors.New("sync: unread tracker is required")
	errMissingCache    = errors.New("sync: cache is required")

	// ErrSuperseded reports that the context's selection changed while a
	// fetch was in flight; the result was discarded, not applied.
	ErrSuperseded = errors.New("sync: operation superseded by a newer selection")

	// ErrNonContiguous reports that a fetched batch could not be joined to
	// the loaded window and was dropped rather than returned with a hole.
	ErrNonContiguous = errors.New("sync: fetched events are not contiguous with the loaded window")
)

// Cache is the slice of the local event cache the coordinator writes
// through. Write failures are logged, never propagated; the cache is an
// optimization, not a correctness requirement.
type Cache interface {
	Write(ctx context.Context, target chat.Context, events []chat.EventWrapper, expired []chat.ExpiredRange, latestEventIndex chat.EventIndex, timestampMs int64) error
	LastKnownUpdate(ctx context.Context, scope chat.Scope) (int64, error)
}

// Summary carries the per-context header state the coordinator needs to
// compute bounds and paging criteria. It arrives from chat-list updates
// outside this package.
type Summary struct {
	LatestEventIndex     chat.EventIndex
	LatestMessageIndex   chat.MessageIndex
	MinVisibleEventIndex chat.EventIndex
	LastUpdatedMs        int64
}

// Config carries the coordinator's dependencies.
type Config struct {
	Resolver     *resolver.Resolver
	Remote       remote.LogReader
	Engine       *merge.Engine
	Tracker      *unread.Tracker
	Cache        Cache
	Directory    users.Directory
	Logger       *zap.Logger
	Caps         remote.PageCaps
	FetchTimeout time.Duration
	Clock        func() time.Time
}

// Coordinator runs synchronization operations for every context.
type Coordinator struct {
	resolver     *resolver.Resolver
	remote       remote.LogReader
	engine       *merge.Engine
	tracker      *unread.Tracker
	cache        Cache
	directory    users.Directory
	logger       *zap.Logger
	caps         remote.PageCaps
	fetchTimeout time.Duration
	clock        func() time.Time

	state *coordinatorState
}

// New validates the configuration and returns a Coordinator.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Resolver == nil {
		return nil, errMissingResolver
	}
	if cfg.Remote == nil {
		return nil, errMissingRemote
	}
	if cfg.Engine == nil {
		return nil, errMissingEngine
	}
	if cfg.Tracker == nil {
		return nil, errMissingTracker
	}
	if cfg.Cache == nil {
		return nil, errMissingCache
	}
	directory := cfg.Directory
	if directory == nil {
		directory = users.NopDirectory{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	caps := cfg.Caps
	if caps.Messages <= 0 {
		caps.Messages = 100
	}
	if caps.Events <= 0 {
		caps.Events = 500
	}
	fetchTimeout := cfg.FetchTimeout
	if fetchTimeout <= 0 {
		fetchTimeout = 30 * time.Second
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Coordinator{
		resolver:     cfg.Resolver,
		remote:       cfg.Remote,
		engine:       cfg.Engine,
		tracker:      cfg.Tracker,
		cache:        cfg.Cache,
		directory:    directory,
		logger:       logger,
		caps:         caps,
		fetchTimeout: fetchTimeout,
		clock:        clock,
		state:        newCoordinatorState(),
	}, nil
}

// Engine exposes the merge engine backing this coordinator.
func (c *Coordinator) Engine() *merge.Engine {
	return c.engine
}

// Tracker exposes the unread tracker backing this coordinator.
func (c *Coordinator) Tracker() *unread.Tracker {
	return c.tracker
}

// bounds returns the visible event-index range for the context: from the
// earliest visible index (group history cut-off) to the latest known index.
func (c *Coordinator) bounds(target chat.Context) (rangeset.Span, bool) {
	summary, hasSummary := c.state.summary(target)
	latest, hasLatest := c.engine.Store().LatestEventIndex(target)
	if hasSummary && (!hasLatest || summary.LatestEventIndex > latest) {
		latest = summary.LatestEventIndex
		hasLatest = true
	}
	if !hasLatest {
		return rangeset.Span{}, false
	}
	floor := chat.EventIndex(0)
	if hasSummary {
		floor = summary.MinVisibleEventIndex
	}
	return rangeset.Span{Start: floor, End: latest}, true
}

// lastKnownUpdate returns the freshest server timestamp the client holds for
// the scope, preferring the summary over cache metadata.
func (c *Coordinator) lastKnownUpdate(ctx context.Context, target chat.Context) int64 {
	if summary, ok := c.state.summary(target.Parent()); ok && summary.LastUpdatedMs > 0 {
		return summary.LastUpdatedMs
	}
	timestamp, err := c.cache.LastKnownUpdate(ctx, target.Scope)
	if err != nil {
		c.logger.Debug("cache metadata read failed", zap.String("context", target.Key()), zap.Error(err))
		return 0
	}
	return timestamp
}

// writeCache persists a fetched response. Failures are logged and swallowed.
func (c *Coordinator) writeCache(ctx context.Context, target chat.Context, success remote.EventsSuccess) {
	err := c.cache.Write(ctx, target, success.Events, success.ExpiredEventRanges, success.LatestEventIndex, success.TimestampMs)
	if err != nil {
		c.logger.Warn("error writing cached events",
			zap.String("context", target.Key()),
			zap.Error(err))
	}
}

// apply runs the post-fetch pipeline: contiguity-gated merge into the store,
// latest-index bookkeeping, and the user-id handoff for display hydration.
// The return value reports whether the engine accepted the batch; a rejected
// batch must never reach the caller as a success.
func (c *Coordinator) apply(ctx context.Context, target chat.Context, success remote.EventsSuccess) bool {
	if !c.engine.ApplyConfirmed(target, success.Events, success.ExpiredEventRanges) {
		return false
	}
	if success.LatestEventIndex > 0 || len(success.Events) > 0 {
		c.engine.Store().NoteLatestEventIndex(target, success.LatestEventIndex)
	}
	if ids := chat.UserIDsFromEvents(success.Events); len(ids) > 0 {
		c.directory.RequestUsers(ctx, ids)
	}
	return true
}

// fetch wraps one remote call with the configured timeout and the
// generation check at the resume point. A stale generation discards the
// response and surfaces ErrSuperseded.
func (c *Coordinator) fetch(ctx context.Context, target chat.Context, generation uint64, call func(context.Context) remote.EventsResponse) remote.EventsResponse {
	fetchCtx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	response := call(fetchCtx)

	if c.state.generation(target) != generation {
		c.logger.Debug("discarding superseded fetch result", zap.String("context", target.Key()))
		return remote.EventsFailed{Err: ErrSuperseded}
	}
	return response
}

// UpdateSummary records fresh chat-list header state for the context.
func (c *Coordinator) UpdateSummary(target chat.Context, summary Summary) {
	c.state.setSummary(target, summary)
	c.engine.Store().NoteLatestEventIndex(target, summary.LatestEventIndex)
}

// Invalidate bumps the context's generation, discarding any in-flight fetch
// results for it. Called when the user's selection moves away.
func (c *Coordinator) Invalidate(target chat.Context) {
	c.state.bumpGeneration(target)
}

// SelectThread records which thread is open for the scope, if any. Updated-
// event refreshes only patch the selected thread.
func (c *Coordinator) SelectThread(scope chat.Scope, root chat.MessageIndex) {
	c.state.selectThread(scope, root)
}

// ClearThreadSelection drops the scope's thread selection and invalidates
// the deselected thread context.
func (c *Coordinator) ClearThreadSelection(scope chat.Scope) {
	if root, ok := c.state.selectedThread(scope); ok {
		c.Invalidate(chat.ThreadContext(scope, root))
	}
	c.state.clearThread(scope)
}
