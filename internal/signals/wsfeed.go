package signals

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/quillchat/chatsync/internal/chat"
)

const (
	frameKindMessageSent     = "message_sent"
	frameKindMessageDeleted  = "message_deleted"
	frameKindMessageEdited   = "message_edited"
	frameKindReactionAdded   = "reaction_added"
	frameKindReactionRemoved = "reaction_removed"
	frameKindTyping          = "typing"
)

// frame is the wire shape of one peer signal.
type frame struct {
	Kind       string        `json:"kind"`
	ContextKey string        `json:"context_key"`
	MessageID  string        `json:"message_id,omitempty"`
	UserID     string        `json:"user_id,omitempty"`
	Content    string        `json:"content,omitempty"`
	Reaction   string        `json:"reaction,omitempty"`
	Message    *messageFrame `json:"message,omitempty"`
}

type messageFrame struct {
	EventIndex   int64  `json:"event_index"`
	MessageIndex int64  `json:"message_index"`
	MessageID    string `json:"message_id"`
	Sender       string `json:"sender"`
	Content      string `json:"content"`
	RepliesTo    string `json:"replies_to,omitempty"`
	TimestampMs  int64  `json:"timestamp_ms"`
}

var errMissingIngestor = errors.New("signals: ingestor is required")

// FeedConfig carries the feed's dependencies.
type FeedConfig struct {
	URL      string
	Ingestor *Ingestor
	Logger   *zap.Logger

	// RedialInterval is the pause between reconnect attempts.
	RedialInterval time.Duration
}

// Feed maintains a websocket connection to the signaling relay and hands
// every decoded frame to the ingestor. Malformed frames are logged and
// skipped; a dropped connection is redialed until the context ends.
type Feed struct {
	url      string
	ingestor *Ingestor
	logger   *zap.Logger
	redial   time.Duration
}

// NewFeed validates the configuration and returns a Feed.
func NewFeed(cfg FeedConfig) (*Feed, error) {
	if cfg.URL == "" {
		return nil, errors.New("signals: feed url is required")
	}
	if cfg.Ingestor == nil {
		return nil, errMissingIngestor
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	redial := cfg.RedialInterval
	if redial <= 0 {
		redial = 5 * time.Second
	}
	return &Feed{
		url:      cfg.URL,
		ingestor: cfg.Ingestor,
		logger:   logger,
		redial:   redial,
	}, nil
}

// Run dials the relay and pumps frames until ctx is done.
func (f *Feed) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := f.pump(ctx); err != nil {
			f.logger.Warn("signal feed disconnected",
				zap.String("url", f.url),
				zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.redial):
		}
	}
}

func (f *Feed) pump(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	// The watcher must not outlive this pump; otherwise every redial on a
	// long-lived ctx would leave one goroutine behind.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		f.handle(payload)
	}
}

func (f *Feed) handle(payload []byte) {
	var decoded frame
	if err := json.Unmarshal(payload, &decoded); err != nil {
		f.logger.Warn("discarding undecodable signal frame", zap.Error(err))
		return
	}
	target, err := chat.ParseContextKey(decoded.ContextKey)
	if err != nil {
		f.logger.Warn("discarding signal frame with bad context key",
			zap.String("context_key", decoded.ContextKey),
			zap.Error(err))
		return
	}

	switch decoded.Kind {
	case frameKindMessageSent:
		if decoded.Message == nil {
			return
		}
		f.ingestor.MessageSent(target, chat.EventWrapper{
			Index:       chat.EventIndex(decoded.Message.EventIndex),
			TimestampMs: decoded.Message.TimestampMs,
			Payload: chat.Message{
				MessageIndex: chat.MessageIndex(decoded.Message.MessageIndex),
				MessageID:    decoded.Message.MessageID,
				Sender:       decoded.Message.Sender,
				Content:      decoded.Message.Content,
				RepliesTo:    decoded.Message.RepliesTo,
			},
		})
	case frameKindMessageDeleted:
		f.ingestor.MessageDeleted(target, decoded.MessageID, decoded.UserID)
	case frameKindMessageEdited:
		f.ingestor.MessageEdited(target, decoded.MessageID, decoded.Content, decoded.UserID)
	case frameKindReactionAdded:
		f.ingestor.ReactionToggled(target, decoded.MessageID, decoded.Reaction, decoded.UserID, true)
	case frameKindReactionRemoved:
		f.ingestor.ReactionToggled(target, decoded.MessageID, decoded.Reaction, decoded.UserID, false)
	case frameKindTyping:
		f.ingestor.Typing(target, decoded.UserID)
	default:
		f.logger.Debug("ignoring unknown signal kind", zap.String("kind", decoded.Kind))
	}
}
