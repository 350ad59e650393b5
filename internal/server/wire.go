package server

import (
	"github.com/quillchat/chatsync/internal/chat"
)

// wireEvent is the JSON shape of one log event on the HTTP surface.
type wireEvent struct {
	Index       int64        `json:"index"`
	TimestampMs int64        `json:"timestamp_ms"`
	ExpiresAtMs int64        `json:"expires_at_ms,omitempty"`
	Kind        string       `json:"kind"`
	Message     *wireMessage `json:"message,omitempty"`
	UserID      string       `json:"user_id,omitempty"`
	UserIDs     []string     `json:"user_ids,omitempty"`
	ActorID     string       `json:"actor_id,omitempty"`
	NewRole     string       `json:"new_role,omitempty"`
	Reason      string       `json:"reason,omitempty"`
	PinnedIndex int64        `json:"pinned_message_index,omitempty"`
}

type wireMessage struct {
	MessageIndex int64               `json:"message_index"`
	MessageID    string              `json:"message_id"`
	Sender       string              `json:"sender"`
	Content      string              `json:"content"`
	RepliesTo    string              `json:"replies_to,omitempty"`
	Edited       bool                `json:"edited,omitempty"`
	Deleted      bool                `json:"deleted,omitempty"`
	Reactions    map[string][]string `json:"reactions,omitempty"`
	Thread       *wireThread         `json:"thread,omitempty"`
}

type wireThread struct {
	ParticipantIDs   []string `json:"participant_ids"`
	NumReplies       int      `json:"num_replies"`
	LatestEventIndex int64    `json:"latest_event_index"`
	LatestTimestamp  int64    `json:"latest_timestamp_ms"`
}

func toWireEvent(event chat.EventWrapper) wireEvent {
	wire := wireEvent{
		Index:       int64(event.Index),
		TimestampMs: event.TimestampMs,
		ExpiresAtMs: event.ExpiresAtMs,
	}
	switch payload := event.Payload.(type) {
	case chat.Message:
		wire.Kind = "message"
		wire.Message = toWireMessage(payload)
	case chat.MemberJoined:
		wire.Kind = "member_joined"
		wire.UserID = payload.UserID
	case chat.MemberLeft:
		wire.Kind = "member_left"
		wire.UserID = payload.UserID
	case chat.RoleChanged:
		wire.Kind = "role_changed"
		wire.UserIDs = payload.UserIDs
		wire.ActorID = payload.ChangedBy
		wire.NewRole = payload.NewRole
	case chat.MessagePinned:
		wire.Kind = "message_pinned"
		wire.ActorID = payload.PinnedBy
		wire.PinnedIndex = int64(payload.MessageIndex)
	case chat.ChatFrozen:
		wire.Kind = "chat_frozen"
		wire.ActorID = payload.FrozenBy
		wire.Reason = payload.Reason
	default:
		wire.Kind = "unknown"
	}
	return wire
}

func toWireMessage(message chat.Message) *wireMessage {
	wire := &wireMessage{
		MessageIndex: int64(message.MessageIndex),
		MessageID:    message.MessageID,
		Sender:       message.Sender,
		Content:      message.Content,
		RepliesTo:    message.RepliesTo,
		Edited:       message.Edited,
		Deleted:      message.Deleted,
		Reactions:    message.Reactions,
	}
	if message.Thread != nil {
		wire.Thread = &wireThread{
			ParticipantIDs:   message.Thread.ParticipantIDs,
			NumReplies:       message.Thread.NumReplies,
			LatestEventIndex: int64(message.Thread.LatestEventIndex),
			LatestTimestamp:  message.Thread.LatestTimestamp,
		}
	}
	return wire
}
