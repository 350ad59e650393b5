package signals

import (
	"errors"

	"go.uber.org/zap"

	"github.com/quillchat/chatsync/internal/chat"
	"github.com/quillchat/chatsync/internal/merge"
)

var errMissingEngine = errors.New("signals: merge engine is required")

// IngestorConfig carries the ingestor's dependencies.
type IngestorConfig struct {
	Engine     *merge.Engine
	Dispatcher *Dispatcher
	Logger     *zap.Logger
}

// Ingestor applies peer signals to the loaded state. A peer-sent message
// joins the unconfirmed set until the confirmed copy arrives through a merge;
// edits, deletes and reaction toggles reconcile in place by message id. None
// of these paths touch the event log.
type Ingestor struct {
	engine     *merge.Engine
	dispatcher *Dispatcher
	logger     *zap.Logger
}

// NewIngestor validates the configuration and returns an Ingestor.
func NewIngestor(cfg IngestorConfig) (*Ingestor, error) {
	if cfg.Engine == nil {
		return nil, errMissingEngine
	}
	dispatcher := cfg.Dispatcher
	if dispatcher == nil {
		dispatcher = NewDispatcher()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{
		engine:     cfg.Engine,
		dispatcher: dispatcher,
		logger:     logger,
	}, nil
}

// Dispatcher exposes the dispatcher the ingestor publishes to.
func (ing *Ingestor) Dispatcher() *Dispatcher {
	return ing.dispatcher
}

// MessageSent records a message a peer sent before the server confirmed it.
// The sender's own echo of a locally pending message is ignored.
func (ing *Ingestor) MessageSent(target chat.Context, event chat.EventWrapper) {
	message, ok := event.AsMessage()
	if !ok || message.MessageID == "" {
		return
	}
	if ing.engine.Unconfirmed().Contains(target, message.MessageID) {
		return
	}
	ing.engine.Unconfirmed().Add(target, event)
	ing.dispatcher.Publish(Event{
		Target:    target,
		Kind:      EventMessageSent,
		MessageID: message.MessageID,
		UserID:    message.Sender,
	})
}

// MessageDeleted marks the message deleted wherever a copy is loaded. A
// pending unconfirmed copy is discarded outright.
func (ing *Ingestor) MessageDeleted(target chat.Context, messageID string, userID string) {
	removed := ing.engine.Unconfirmed().Delete(target, messageID)
	updated := ing.engine.Store().UpdateMessage(target, messageID, func(message chat.Message) chat.Message {
		message.Deleted = true
		message.Content = ""
		return message
	})
	if !removed && !updated {
		return
	}
	ing.dispatcher.Publish(Event{
		Target:    target,
		Kind:      EventMessageDeleted,
		MessageID: messageID,
		UserID:    userID,
	})
}

// MessageEdited replaces the loaded message's content in place.
func (ing *Ingestor) MessageEdited(target chat.Context, messageID string, content string, userID string) {
	updated := ing.engine.Store().UpdateMessage(target, messageID, func(message chat.Message) chat.Message {
		message.Content = content
		message.Edited = true
		return message
	})
	if !updated {
		return
	}
	ing.dispatcher.Publish(Event{
		Target:    target,
		Kind:      EventMessageEdited,
		MessageID: messageID,
		UserID:    userID,
	})
}

// ReactionToggled adds or removes one user's reaction on a loaded message.
func (ing *Ingestor) ReactionToggled(target chat.Context, messageID string, reaction string, userID string, added bool) {
	updated := ing.engine.Store().UpdateMessage(target, messageID, func(message chat.Message) chat.Message {
		message.Reactions = toggleReaction(message.Reactions, reaction, userID, added)
		return message
	})
	if !updated {
		return
	}
	ing.dispatcher.Publish(Event{
		Target:    target,
		Kind:      EventReactionChanged,
		MessageID: messageID,
		UserID:    userID,
	})
}

// Typing forwards a typing indicator to subscribers; nothing is stored.
func (ing *Ingestor) Typing(target chat.Context, userID string) {
	ing.dispatcher.Publish(Event{
		Target: target,
		Kind:   EventTyping,
		UserID: userID,
	})
}

func toggleReaction(reactions map[string][]string, reaction string, userID string, added bool) map[string][]string {
	if added {
		if reactions == nil {
			reactions = make(map[string][]string)
		}
		for _, existing := range reactions[reaction] {
			if existing == userID {
				return reactions
			}
		}
		reactions[reaction] = append(reactions[reaction], userID)
		return reactions
	}
	users := reactions[reaction]
	for position, existing := range users {
		if existing != userID {
			continue
		}
		users = append(users[:position], users[position+1:]...)
		if len(users) == 0 {
			delete(reactions, reaction)
		} else {
			reactions[reaction] = users
		}
		break
	}
	return reactions
}
