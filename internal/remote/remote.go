// Package remote defines the boundary to the authoritative per-chat event
// logs. The engine only ever consumes the LogReader interface; HTTPLogReader
// is the JSON-over-HTTP binding the daemon runs with.
package remote

import (
	"context"

	"github.com/quillchat/chatsync/internal/chat"
)

// EventsResponse is the closed set of outcomes a log fetch can produce.
// Callers switch on the concrete type and must handle every variant.
type EventsResponse interface {
	isEventsResponse()
}

// EventsSuccess carries a fetched slice of the event log.
type EventsSuccess struct {
	Events               []chat.EventWrapper
	ExpiredEventRanges   []chat.ExpiredRange
	ExpiredMessageRanges []MessageRange
	LatestEventIndex     chat.EventIndex
	TimestampMs          int64
}

// NotAMember reports that the caller cannot read this chat. Terminal for the
// context; the caller must not retry.
type NotAMember struct{}

// ReplicaNotUpToDate reports that the queried replica is behind the caller's
// last known update. Transient; the caller may retry after a delay.
type ReplicaNotUpToDate struct {
	ServerTimestampMs int64
}

// EventsFailed reports a generic transient failure (network, timeout, decode).
type EventsFailed struct {
	Err error
}

func (EventsSuccess) isEventsResponse()      {}
func (NotAMember) isEventsResponse()         {}
func (ReplicaNotUpToDate) isEventsResponse() {}
func (EventsFailed) isEventsResponse()       {}

// MessageRange is an inclusive span of message indices.
type MessageRange struct {
	Start chat.MessageIndex
	End   chat.MessageIndex
}

// PageCaps bounds one fetched page. Non-message events count toward Events
// but not toward Messages, which is why both caps exist.
type PageCaps struct {
	Messages int
	Events   int
}

// LogReader fetches pages of a chat's event log from the authoritative
// remote service. Every call carries the caller's last known update timestamp
// so the service can short-circuit when the caller is already current.
type LogReader interface {
	// EventsByIndex fetches the given explicit event indices.
	EventsByIndex(ctx context.Context, target chat.Context, indices []chat.EventIndex, lastKnownUpdateMs int64) EventsResponse

	// EventsRange fetches a page starting at startIndex, walking in the given
	// direction until a cap is hit.
	EventsRange(ctx context.Context, target chat.Context, startIndex chat.EventIndex, ascending bool, caps PageCaps, lastKnownUpdateMs int64) EventsResponse

	// EventsWindow fetches a page centered on the given message index.
	EventsWindow(ctx context.Context, target chat.Context, midpoint chat.MessageIndex, caps PageCaps, lastKnownUpdateMs int64) EventsResponse
}
