package cache

import (
	"encoding/json"
	"fmt"

	"github.com/quillchat/chatsync/internal/chat"
)

const (
	kindMessage       = "message"
	kindMemberJoined  = "member_joined"
	kindMemberLeft    = "member_left"
	kindRoleChanged   = "role_changed"
	kindMessagePinned = "message_pinned"
	kindChatFrozen    = "chat_frozen"
)

// ErrUnknownEventKind indicates a cached row whose kind this build no longer
// understands. Such rows are skipped, matching the cache-miss error policy.
var ErrUnknownEventKind = fmt.Errorf("cache: unknown event kind")

func encodePayload(payload chat.EventPayload) (kind string, body string, err error) {
	switch concrete := payload.(type) {
	case chat.Message:
		kind = kindMessage
	case chat.MemberJoined:
		kind = kindMemberJoined
	case chat.MemberLeft:
		kind = kindMemberLeft
	case chat.RoleChanged:
		kind = kindRoleChanged
	case chat.MessagePinned:
		kind = kindMessagePinned
	case chat.ChatFrozen:
		kind = kindChatFrozen
	default:
		return "", "", fmt.Errorf("%w: %T", ErrUnknownEventKind, concrete)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", "", err
	}
	return kind, string(raw), nil
}

func decodePayload(kind, body string) (chat.EventPayload, error) {
	switch kind {
	case kindMessage:
		var payload chat.Message
		return payload, json.Unmarshal([]byte(body), &payload)
	case kindMemberJoined:
		var payload chat.MemberJoined
		return payload, json.Unmarshal([]byte(body), &payload)
	case kindMemberLeft:
		var payload chat.MemberLeft
		return payload, json.Unmarshal([]byte(body), &payload)
	case kindRoleChanged:
		var payload chat.RoleChanged
		return payload, json.Unmarshal([]byte(body), &payload)
	case kindMessagePinned:
		var payload chat.MessagePinned
		return payload, json.Unmarshal([]byte(body), &payload)
	case kindChatFrozen:
		var payload chat.ChatFrozen
		return payload, json.Unmarshal([]byte(body), &payload)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventKind, kind)
	}
}

func toRow(contextKey string, event chat.EventWrapper) (cachedEvent, error) {
	kind, body, err := encodePayload(event.Payload)
	if err != nil {
		return cachedEvent{}, err
	}
	row := cachedEvent{
		ContextKey:   contextKey,
		EventIndex:   int64(event.Index),
		TimestampMs:  event.TimestampMs,
		ExpiresAtMs:  event.ExpiresAtMs,
		Kind:         kind,
		PayloadJSON:  body,
		MessageIndex: -1,
	}
	if message, ok := event.AsMessage(); ok {
		row.MessageIndex = int64(message.MessageIndex)
		row.MessageID = message.MessageID
	}
	return row, nil
}

func fromRow(row cachedEvent) (chat.EventWrapper, error) {
	payload, err := decodePayload(row.Kind, row.PayloadJSON)
	if err != nil {
		return chat.EventWrapper{}, err
	}
	return chat.EventWrapper{
		Index:       chat.EventIndex(row.EventIndex),
		TimestampMs: row.TimestampMs,
		ExpiresAtMs: row.ExpiresAtMs,
		Payload:     payload,
	}, nil
}

type expiredSpanJSON struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

func encodeExpired(ranges []chat.ExpiredRange) (string, error) {
	spans := make([]expiredSpanJSON, 0, len(ranges))
	for _, r := range ranges {
		spans = append(spans, expiredSpanJSON{Start: int64(r.Start), End: int64(r.End)})
	}
	raw, err := json.Marshal(spans)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeExpired(body string) ([]chat.ExpiredRange, error) {
	if body == "" {
		return nil, nil
	}
	var spans []expiredSpanJSON
	if err := json.Unmarshal([]byte(body), &spans); err != nil {
		return nil, err
	}
	ranges := make([]chat.ExpiredRange, 0, len(spans))
	for _, span := range spans {
		ranges = append(ranges, chat.ExpiredRange{Start: chat.EventIndex(span.Start), End: chat.EventIndex(span.End)})
	}
	return ranges, nil
}
