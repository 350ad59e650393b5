package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/quillchat/chatsync/internal/chat"
)

const (
	responseKindSuccess      = "success"
	responseKindNotAMember   = "not_a_member"
	responseKindStaleReplica = "replica_not_up_to_date"
)

var errMissingBaseURL = errors.New("remote: base url is required")

// HTTPLogReaderConfig carries the HTTP binding's settings.
type HTTPLogReaderConfig struct {
	BaseURL string
	Client  *http.Client
}

// HTTPLogReader implements LogReader against the chat service's JSON API.
// Transport and decode errors surface as EventsFailed, never as a Go error,
// so callers handle one closed response set.
type HTTPLogReader struct {
	baseURL string
	client  *http.Client
}

// NewHTTPLogReader validates the configuration and returns an HTTPLogReader.
func NewHTTPLogReader(cfg HTTPLogReaderConfig) (*HTTPLogReader, error) {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		return nil, errMissingBaseURL
	}
	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPLogReader{baseURL: baseURL, client: client}, nil
}

type byIndexRequest struct {
	Indices           []int64 `json:"indices"`
	LastKnownUpdateMs int64   `json:"last_known_update_ms"`
}

type rangeRequest struct {
	StartIndex        int64 `json:"start_index"`
	Ascending         bool  `json:"ascending"`
	MaxMessages       int   `json:"max_messages"`
	MaxEvents         int   `json:"max_events"`
	LastKnownUpdateMs int64 `json:"last_known_update_ms"`
}

type windowRequest struct {
	Midpoint          int64 `json:"midpoint"`
	MaxMessages       int   `json:"max_messages"`
	MaxEvents         int   `json:"max_events"`
	LastKnownUpdateMs int64 `json:"last_known_update_ms"`
}

// EventsByIndex implements LogReader.
func (r *HTTPLogReader) EventsByIndex(ctx context.Context, target chat.Context, indices []chat.EventIndex, lastKnownUpdateMs int64) EventsResponse {
	raw := make([]int64, 0, len(indices))
	for _, index := range indices {
		raw = append(raw, int64(index))
	}
	return r.post(ctx, target, "by-index", byIndexRequest{
		Indices:           raw,
		LastKnownUpdateMs: lastKnownUpdateMs,
	})
}

// EventsRange implements LogReader.
func (r *HTTPLogReader) EventsRange(ctx context.Context, target chat.Context, startIndex chat.EventIndex, ascending bool, caps PageCaps, lastKnownUpdateMs int64) EventsResponse {
	return r.post(ctx, target, "range", rangeRequest{
		StartIndex:        int64(startIndex),
		Ascending:         ascending,
		MaxMessages:       caps.Messages,
		MaxEvents:         caps.Events,
		LastKnownUpdateMs: lastKnownUpdateMs,
	})
}

// EventsWindow implements LogReader.
func (r *HTTPLogReader) EventsWindow(ctx context.Context, target chat.Context, midpoint chat.MessageIndex, caps PageCaps, lastKnownUpdateMs int64) EventsResponse {
	return r.post(ctx, target, "window", windowRequest{
		Midpoint:          int64(midpoint),
		MaxMessages:       caps.Messages,
		MaxEvents:         caps.Events,
		LastKnownUpdateMs: lastKnownUpdateMs,
	})
}

func (r *HTTPLogReader) post(ctx context.Context, target chat.Context, operation string, payload any) EventsResponse {
	body, err := json.Marshal(payload)
	if err != nil {
		return EventsFailed{Err: err}
	}
	endpoint := fmt.Sprintf("%s/logs/%s/%s", r.baseURL, url.PathEscape(target.Key()), operation)
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return EventsFailed{Err: err}
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := r.client.Do(request)
	if err != nil {
		return EventsFailed{Err: err}
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return EventsFailed{Err: fmt.Errorf("remote: unexpected status %d from %s", response.StatusCode, operation)}
	}

	var decoded wireResponse
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return EventsFailed{Err: err}
	}
	return decoded.toEventsResponse()
}

type wireResponse struct {
	Kind               string         `json:"kind"`
	Events             []wireLogEvent `json:"events,omitempty"`
	ExpiredEventRanges [][2]int64     `json:"expired_event_ranges,omitempty"`
	ExpiredMsgRanges   [][2]int64     `json:"expired_message_ranges,omitempty"`
	LatestEventIndex   int64          `json:"latest_event_index,omitempty"`
	TimestampMs        int64          `json:"timestamp_ms,omitempty"`
	ServerTimestampMs  int64          `json:"server_timestamp_ms,omitempty"`
	Error              string         `json:"error,omitempty"`
}

type wireLogEvent struct {
	Index       int64           `json:"index"`
	TimestampMs int64           `json:"timestamp_ms"`
	ExpiresAtMs int64           `json:"expires_at_ms,omitempty"`
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
}

type wireMessagePayload struct {
	MessageIndex int64               `json:"message_index"`
	MessageID    string              `json:"message_id"`
	Sender       string              `json:"sender"`
	Content      string              `json:"content"`
	RepliesTo    string              `json:"replies_to,omitempty"`
	Edited       bool                `json:"edited,omitempty"`
	Deleted      bool                `json:"deleted,omitempty"`
	Reactions    map[string][]string `json:"reactions,omitempty"`
}

type wireMemberPayload struct {
	UserID string `json:"user_id"`
}

type wireRolePayload struct {
	UserIDs   []string `json:"user_ids"`
	ChangedBy string   `json:"changed_by"`
	NewRole   string   `json:"new_role"`
}

type wirePinPayload struct {
	MessageIndex int64  `json:"message_index"`
	PinnedBy     string `json:"pinned_by"`
}

type wireFreezePayload struct {
	FrozenBy string `json:"frozen_by"`
	Reason   string `json:"reason,omitempty"`
}

func (w wireResponse) toEventsResponse() EventsResponse {
	switch w.Kind {
	case responseKindSuccess:
		success := EventsSuccess{
			LatestEventIndex: chat.EventIndex(w.LatestEventIndex),
			TimestampMs:      w.TimestampMs,
		}
		for _, span := range w.ExpiredEventRanges {
			success.ExpiredEventRanges = append(success.ExpiredEventRanges, chat.ExpiredRange{
				Start: chat.EventIndex(span[0]),
				End:   chat.EventIndex(span[1]),
			})
		}
		for _, span := range w.ExpiredMsgRanges {
			success.ExpiredMessageRanges = append(success.ExpiredMessageRanges, MessageRange{
				Start: chat.MessageIndex(span[0]),
				End:   chat.MessageIndex(span[1]),
			})
		}
		for _, event := range w.Events {
			decoded, err := event.toEventWrapper()
			if err != nil {
				return EventsFailed{Err: err}
			}
			success.Events = append(success.Events, decoded)
		}
		return success
	case responseKindNotAMember:
		return NotAMember{}
	case responseKindStaleReplica:
		return ReplicaNotUpToDate{ServerTimestampMs: w.ServerTimestampMs}
	default:
		return EventsFailed{Err: fmt.Errorf("remote: unknown response kind %q (%s)", w.Kind, w.Error)}
	}
}

func (w wireLogEvent) toEventWrapper() (chat.EventWrapper, error) {
	event := chat.EventWrapper{
		Index:       chat.EventIndex(w.Index),
		TimestampMs: w.TimestampMs,
		ExpiresAtMs: w.ExpiresAtMs,
	}
	switch w.Kind {
	case "message":
		var payload wireMessagePayload
		if err := json.Unmarshal(w.Payload, &payload); err != nil {
			return chat.EventWrapper{}, err
		}
		event.Payload = chat.Message{
			MessageIndex: chat.MessageIndex(payload.MessageIndex),
			MessageID:    payload.MessageID,
			Sender:       payload.Sender,
			Content:      payload.Content,
			RepliesTo:    payload.RepliesTo,
			Edited:       payload.Edited,
			Deleted:      payload.Deleted,
			Reactions:    payload.Reactions,
		}
	case "member_joined":
		var payload wireMemberPayload
		if err := json.Unmarshal(w.Payload, &payload); err != nil {
			return chat.EventWrapper{}, err
		}
		event.Payload = chat.MemberJoined{UserID: payload.UserID}
	case "member_left":
		var payload wireMemberPayload
		if err := json.Unmarshal(w.Payload, &payload); err != nil {
			return chat.EventWrapper{}, err
		}
		event.Payload = chat.MemberLeft{UserID: payload.UserID}
	case "role_changed":
		var payload wireRolePayload
		if err := json.Unmarshal(w.Payload, &payload); err != nil {
			return chat.EventWrapper{}, err
		}
		event.Payload = chat.RoleChanged{UserIDs: payload.UserIDs, ChangedBy: payload.ChangedBy, NewRole: payload.NewRole}
	case "message_pinned":
		var payload wirePinPayload
		if err := json.Unmarshal(w.Payload, &payload); err != nil {
			return chat.EventWrapper{}, err
		}
		event.Payload = chat.MessagePinned{MessageIndex: chat.MessageIndex(payload.MessageIndex), PinnedBy: payload.PinnedBy}
	case "chat_frozen":
		var payload wireFreezePayload
		if err := json.Unmarshal(w.Payload, &payload); err != nil {
			return chat.EventWrapper{}, err
		}
		event.Payload = chat.ChatFrozen{FrozenBy: payload.FrozenBy, Reason: payload.Reason}
	default:
		return chat.EventWrapper{}, fmt.Errorf("remote: unknown event kind %q at index %d", w.Kind, w.Index)
	}
	return event, nil
}
