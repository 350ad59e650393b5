package chat

import (
	"sort"

	"github.com/google/uuid"
)

// EventIndex is the monotonic, gapless per-context sequence number the remote
// log assigns to every event.
type EventIndex int64

// MessageIndex is the monotonic per-context sequence number assigned only to
// message-kind events. It drives read tracking and user-facing numbering.
type MessageIndex int64

// EventPayload is the closed set of event variants a chat log can carry.
// Matching on the concrete type is exhaustive over this package's variants.
type EventPayload interface {
	isEventPayload()
}

// Message is the payload variant for a user message.
type Message struct {
	MessageIndex MessageIndex
	MessageID    string
	Sender       string
	Content      string
	RepliesTo    string
	Edited       bool
	Deleted      bool
	Reactions    map[string][]string
	Thread       *ThreadSummary
}

// ThreadSummary carries the rolled-up state of a thread hanging off a message.
type ThreadSummary struct {
	ParticipantIDs   []string
	NumReplies       int
	LatestEventIndex EventIndex
	LatestTimestamp  int64
}

// MemberJoined records a user joining the chat.
type MemberJoined struct {
	UserID string
}

// MemberLeft records a user leaving the chat.
type MemberLeft struct {
	UserID string
}

// RoleChanged records a role change applied to one or more members.
type RoleChanged struct {
	UserIDs   []string
	ChangedBy string
	NewRole   string
}

// MessagePinned records a message being pinned in the chat.
type MessagePinned struct {
	MessageIndex MessageIndex
	PinnedBy     string
}

// ChatFrozen records the chat being frozen by a moderator.
type ChatFrozen struct {
	FrozenBy string
	Reason   string
}

func (Message) isEventPayload()       {}
func (MemberJoined) isEventPayload()  {}
func (MemberLeft) isEventPayload()    {}
func (RoleChanged) isEventPayload()   {}
func (MessagePinned) isEventPayload() {}
func (ChatFrozen) isEventPayload()    {}

// EventWrapper is one immutable entry of a chat's event log. ExpiresAtMs of
// zero means the event never expires.
type EventWrapper struct {
	Index       EventIndex
	TimestampMs int64
	ExpiresAtMs int64
	Payload     EventPayload
}

// AsMessage returns the message payload when the event is message-kind.
func (e EventWrapper) AsMessage() (Message, bool) {
	message, ok := e.Payload.(Message)
	return message, ok
}

// ExpiredRange is a span of event indices whose content the remote log has
// discarded but whose existence is still acknowledged. Bounds are inclusive.
type ExpiredRange struct {
	Start EventIndex
	End   EventIndex
}

// NewMessageID issues a client-generated globally unique message identifier.
func NewMessageID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

// SortEvents orders events ascending by event index in place.
func SortEvents(events []EventWrapper) {
	sort.Slice(events, func(i, j int) bool {
		return events[i].Index < events[j].Index
	})
}

// LatestMessage returns the highest-indexed message-kind event, if any.
func LatestMessage(events []EventWrapper) (EventWrapper, bool) {
	var latest EventWrapper
	found := false
	for _, event := range events {
		if _, ok := event.AsMessage(); !ok {
			continue
		}
		if !found || event.Index > latest.Index {
			latest = event
			found = true
		}
	}
	return latest, found
}
