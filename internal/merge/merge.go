// Package merge combines cached and freshly fetched event pages, reconciles
// optimistic local events against their confirmed copies, and gates every
// durable write on the index-contiguity invariant.
package merge

import (
	"github.com/quillchat/chatsync/internal/chat"
	"github.com/quillchat/chatsync/internal/rangeset"
	"github.com/quillchat/chatsync/internal/remote"
)

// Success merges a cache-sourced success and a fetched success for the same
// context. Events are unioned by event index with the fetched copy winning,
// sorted ascending; expired coverage is unioned; the latest event index is
// the maximum of both sides since the cache may be stale.
func Success(cached, fetched remote.EventsSuccess) remote.EventsSuccess {
	byIndex := make(map[chat.EventIndex]chat.EventWrapper, len(cached.Events)+len(fetched.Events))
	for _, event := range cached.Events {
		byIndex[event.Index] = event
	}
	for _, event := range fetched.Events {
		byIndex[event.Index] = event
	}

	events := make([]chat.EventWrapper, 0, len(byIndex))
	for _, event := range byIndex {
		events = append(events, event)
	}
	chat.SortEvents(events)

	expiredEvents := &rangeset.Set{}
	for _, r := range cached.ExpiredEventRanges {
		expiredEvents.Add(r.Start, r.End)
	}
	for _, r := range fetched.ExpiredEventRanges {
		expiredEvents.Add(r.Start, r.End)
	}
	mergedExpired := make([]chat.ExpiredRange, 0)
	for _, span := range expiredEvents.Subranges() {
		mergedExpired = append(mergedExpired, chat.ExpiredRange{Start: span.Start, End: span.End})
	}

	merged := remote.EventsSuccess{
		Events:               events,
		ExpiredEventRanges:   mergedExpired,
		ExpiredMessageRanges: mergeMessageRanges(cached.ExpiredMessageRanges, fetched.ExpiredMessageRanges),
		LatestEventIndex:     cached.LatestEventIndex,
		TimestampMs:          cached.TimestampMs,
	}
	if fetched.LatestEventIndex > merged.LatestEventIndex {
		merged.LatestEventIndex = fetched.LatestEventIndex
	}
	if fetched.TimestampMs > merged.TimestampMs {
		merged.TimestampMs = fetched.TimestampMs
	}
	return merged
}

func mergeMessageRanges(a, b []remote.MessageRange) []remote.MessageRange {
	coverage := &rangeset.Set{}
	for _, r := range a {
		coverage.Add(chat.EventIndex(r.Start), chat.EventIndex(r.End))
	}
	for _, r := range b {
		coverage.Add(chat.EventIndex(r.Start), chat.EventIndex(r.End))
	}
	merged := make([]remote.MessageRange, 0)
	for _, span := range coverage.Subranges() {
		merged = append(merged, remote.MessageRange{Start: chat.MessageIndex(span.Start), End: chat.MessageIndex(span.End)})
	}
	return merged
}

// IsContiguous reports whether applying the batch keeps the stored window a
// single run: the union of already-loaded coverage, expired coverage, the
// batch's expired ranges, and the batch's event indices must collapse to one
// span. A batch that would leave a silent hole is rejected.
func IsContiguous(loaded, expired *rangeset.Set, events []chat.EventWrapper, batchExpired []chat.ExpiredRange) bool {
	if len(events) == 0 && len(batchExpired) == 0 {
		return true
	}

	candidate := &rangeset.Set{}
	if loaded != nil {
		candidate.AddSet(loaded)
	}
	if expired != nil {
		candidate.AddSet(expired)
	}
	for _, r := range batchExpired {
		candidate.Add(r.Start, r.End)
	}
	for _, event := range events {
		candidate.Add(event.Index, event.Index)
	}
	return len(candidate.Subranges()) == 1
}
