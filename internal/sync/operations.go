package sync

import (
	"context"

	"github.com/quillchat/chatsync/internal/chat"
	"github.com/quillchat/chatsync/internal/merge"
	"github.com/quillchat/chatsync/internal/rangeset"
	"github.com/quillchat/chatsync/internal/remote"
	"github.com/quillchat/chatsync/internal/resolver"
)

// UpdatedEvent names one event a push delta reported as changed, optionally
// inside a thread.
type UpdatedEvent struct {
	EventIndex chat.EventIndex
	ThreadRoot chat.MessageIndex
	Threaded   bool
}

// LoadEventWindow loads a window of events centered on the given message
// index, e.g. when jumping to a search result. A cold or badly fragmented
// cache triggers exactly one full window fetch instead of point patches.
func (c *Coordinator) LoadEventWindow(ctx context.Context, target chat.Context, midpoint chat.MessageIndex) remote.EventsResponse {
	bounds, ok := c.bounds(target)
	if !ok {
		return remote.EventsSuccess{}
	}
	generation := c.state.generation(target)
	lastKnown := c.lastKnownUpdate(ctx, target)

	resolution := c.resolver.ResolveWindow(ctx, target, bounds, midpoint)
	if resolution.CompleteMiss {
		response := c.fetch(ctx, target, generation, func(fetchCtx context.Context) remote.EventsResponse {
			return c.remote.EventsWindow(fetchCtx, target, midpoint, c.caps, lastKnown)
		})
		return c.finishFetched(ctx, target, response)
	}
	return c.patchMissing(ctx, target, generation, resolution, lastKnown)
}

// LoadPreviousEvents pages older events below the currently loaded range.
// The second return value is false when the window already reaches the
// context's earliest visible index and there is nothing further to load.
func (c *Coordinator) LoadPreviousEvents(ctx context.Context, target chat.Context) (remote.EventsResponse, bool) {
	startIndex, ok := c.previousEventsCriteria(target)
	if !ok {
		return nil, false
	}
	return c.loadRange(ctx, target, startIndex, false), true
}

// LoadNewEvents pages newer events above the currently loaded range. The
// second return value is false when the client is already at the latest
// known server index.
func (c *Coordinator) LoadNewEvents(ctx context.Context, target chat.Context) (remote.EventsResponse, bool) {
	startIndex, ascending, ok := c.newEventsCriteria(target)
	if !ok {
		return nil, false
	}
	return c.loadRange(ctx, target, startIndex, ascending), true
}

// RefreshIndices re-fetches explicit event indices, e.g. events a push
// notification named as edited or reacted to. Cached copies satisfy the
// request without a fetch.
func (c *Coordinator) RefreshIndices(ctx context.Context, target chat.Context, indices []chat.EventIndex) remote.EventsResponse {
	if len(indices) == 0 {
		return remote.EventsSuccess{}
	}
	generation := c.state.generation(target)
	lastKnown := c.lastKnownUpdate(ctx, target)

	resolution := c.resolver.ResolveByIndex(ctx, target, indices)
	return c.patchMissing(ctx, target, generation, resolution, lastKnown)
}

// RehydrateEvent fetches a single event index a real-time push announced,
// but only when it is adjacent to (or inside) the loaded contiguous range;
// far-future indices are left for the next directional load so the window
// never becomes disjoint. The second return value reports whether a fetch
// was issued.
func (c *Coordinator) RehydrateEvent(ctx context.Context, target chat.Context, index chat.EventIndex) (remote.EventsResponse, bool) {
	coverage := c.loadedCoverage(target)
	if coverage.IsEmpty() {
		return nil, false
	}
	if !coverage.Contains(index) && !coverage.Contains(index-1) && !coverage.Contains(index+1) {
		return nil, false
	}
	return c.RefreshIndices(ctx, target, []chat.EventIndex{index}), true
}

// RefreshUpdatedEvents re-fetches the events a chat-level push delta named,
// restricted to indices inside the loaded ranges and, for threads, to the
// currently selected thread.
func (c *Coordinator) RefreshUpdatedEvents(ctx context.Context, scope chat.Scope, updated []UpdatedEvent) {
	mainTarget := chat.MainContext(scope)
	mainCoverage := c.loadedCoverage(mainTarget)
	selectedRoot, hasThread := c.state.selectedThread(scope)

	var mainIndices, threadIndices []chat.EventIndex
	for _, update := range updated {
		if update.Threaded {
			if !hasThread || update.ThreadRoot != selectedRoot {
				continue
			}
			threadTarget := chat.ThreadContext(scope, selectedRoot)
			if c.loadedCoverage(threadTarget).Contains(update.EventIndex) {
				threadIndices = append(threadIndices, update.EventIndex)
			}
			continue
		}
		if mainCoverage.Contains(update.EventIndex) {
			mainIndices = append(mainIndices, update.EventIndex)
		}
	}

	if len(mainIndices) > 0 {
		c.RefreshIndices(ctx, mainTarget, mainIndices)
	}
	if len(threadIndices) > 0 {
		c.RefreshIndices(ctx, chat.ThreadContext(scope, selectedRoot), threadIndices)
	}
}

// loadRange runs one directional page load end-to-end.
func (c *Coordinator) loadRange(ctx context.Context, target chat.Context, startIndex chat.EventIndex, ascending bool) remote.EventsResponse {
	bounds, ok := c.bounds(target)
	if !ok {
		return remote.EventsSuccess{}
	}
	generation := c.state.generation(target)
	lastKnown := c.lastKnownUpdate(ctx, target)

	resolution := c.resolver.ResolveRange(ctx, target, bounds, startIndex, ascending)
	if resolution.CompleteMiss {
		response := c.fetch(ctx, target, generation, func(fetchCtx context.Context) remote.EventsResponse {
			return c.remote.EventsRange(fetchCtx, target, startIndex, ascending, c.caps, lastKnown)
		})
		return c.finishFetched(ctx, target, response)
	}
	return c.patchMissing(ctx, target, generation, resolution, lastKnown)
}

// patchMissing completes a partially cached resolution: nothing missing
// means the cache satisfied the request; otherwise the gaps are fetched by
// index in one call and merged with the cached half.
func (c *Coordinator) patchMissing(ctx context.Context, target chat.Context, generation uint64, res resolver.Resolution, lastKnown int64) remote.EventsResponse {
	cachedSuccess := remote.EventsSuccess{
		Events:      res.Events,
		TimestampMs: lastKnown,
	}
	if latest, ok := c.engine.Store().LatestEventIndex(target); ok {
		cachedSuccess.LatestEventIndex = latest
	}

	if len(res.Missing) == 0 {
		if !c.apply(ctx, target, cachedSuccess) {
			return remote.EventsFailed{Err: ErrNonContiguous}
		}
		return cachedSuccess
	}

	response := c.fetch(ctx, target, generation, func(fetchCtx context.Context) remote.EventsResponse {
		return c.remote.EventsByIndex(fetchCtx, target, res.Missing, lastKnown)
	})

	fetched, ok := response.(remote.EventsSuccess)
	if !ok {
		return c.finishFetched(ctx, target, response)
	}

	// The remote may return fewer indices than asked, e.g. when some were
	// pruned server-side without an expired range. The merged result then
	// still has a hole, the engine drops it, and the caller must see a
	// failure instead of a window that the store itself refused.
	c.writeCache(ctx, target, fetched)
	mergedResponse := merge.Success(cachedSuccess, fetched)
	if !c.apply(ctx, target, mergedResponse) {
		return remote.EventsFailed{Err: ErrNonContiguous}
	}
	return mergedResponse
}

// finishFetched applies the post-fetch pipeline to a full-page response.
// Failures pass through unchanged so callers can switch on the exact kind;
// a membership loss additionally evicts the context's window, and a batch
// the engine dropped as non-contiguous surfaces as a tagged failure.
func (c *Coordinator) finishFetched(ctx context.Context, target chat.Context, response remote.EventsResponse) remote.EventsResponse {
	switch concrete := response.(type) {
	case remote.EventsSuccess:
		c.writeCache(ctx, target, concrete)
		if !c.apply(ctx, target, concrete) {
			return remote.EventsFailed{Err: ErrNonContiguous}
		}
		return concrete
	case remote.NotAMember:
		c.engine.Store().Remove(target)
		return concrete
	default:
		return response
	}
}

// previousEventsCriteria computes the start index for an "older" page: one
// below the loaded window, unless the window already touches the earliest
// visible index. An empty window starts from the latest known index.
func (c *Coordinator) previousEventsCriteria(target chat.Context) (chat.EventIndex, bool) {
	bounds, ok := c.bounds(target)
	if !ok {
		return 0, false
	}
	coverage := c.loadedCoverage(target)
	earliestLoaded, ok := coverage.Min()
	if !ok {
		return bounds.End, true
	}
	if earliestLoaded <= bounds.Start {
		return 0, false
	}
	return earliestLoaded - 1, true
}

// newEventsCriteria computes the start index and direction for a "newer"
// page: one above the loaded window ascending, or a descending page from the
// tip when nothing is loaded yet.
func (c *Coordinator) newEventsCriteria(target chat.Context) (chat.EventIndex, bool, bool) {
	bounds, ok := c.bounds(target)
	if !ok {
		return 0, false, false
	}
	coverage := c.loadedCoverage(target)
	loadedUpTo, ok := coverage.Max()
	if !ok {
		return bounds.End, false, true
	}
	if loadedUpTo >= bounds.End {
		return 0, false, false
	}
	return loadedUpTo + 1, true, true
}

// loadedCoverage unions loaded events with expired coverage: both count as
// "known" when computing boundaries and adjacency.
func (c *Coordinator) loadedCoverage(target chat.Context) *rangeset.Set {
	coverage := c.engine.Store().Loaded(target)
	coverage.AddSet(c.engine.Store().Expired(target))
	return coverage
}
