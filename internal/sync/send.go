package sync

import (
	"github.com/quillchat/chatsync/internal/chat"
)

// SendMessage starts the optimistic half of a send round trip: the message
// gets a client-generated id and provisional indices, joins the unconfirmed
// set, and is immediately marked read because the local user wrote it. The
// confirmed copy arriving through a later merge consumes the unconfirmed
// entry by message id.
func (c *Coordinator) SendMessage(target chat.Context, content string, repliesTo string) (chat.EventWrapper, error) {
	messageID, err := chat.NewMessageID()
	if err != nil {
		return chat.EventWrapper{}, err
	}

	nextMessageIndex := c.nextMessageIndex(target)
	nextEventIndex := c.nextEventIndex(target)

	event := chat.EventWrapper{
		Index:       nextEventIndex,
		TimestampMs: c.clock().UnixMilli(),
		Payload: chat.Message{
			MessageIndex: nextMessageIndex,
			MessageID:    messageID,
			Sender:       c.engine.LocalUserID(),
			Content:      content,
			RepliesTo:    repliesTo,
		},
	}

	c.engine.Unconfirmed().Add(target, event)
	c.tracker.MarkMessageRead(target, nextMessageIndex, messageID)
	if nextMessageIndex > 0 {
		c.tracker.MarkReadUpTo(target, nextMessageIndex-1)
	}
	return event, nil
}

// EventsView returns the context's current consistent view: the confirmed
// contiguous window followed by any pending unconfirmed events.
func (c *Coordinator) EventsView(target chat.Context) []chat.EventWrapper {
	events := c.engine.Store().Events(target)
	return append(events, c.engine.Unconfirmed().List(target)...)
}

// LatestMessageIndex returns the highest message index known for the
// context across the summary, the loaded window, and pending sends.
func (c *Coordinator) LatestMessageIndex(target chat.Context) (chat.MessageIndex, bool) {
	latest := chat.MessageIndex(-1)
	if summary, ok := c.state.summary(target); ok && summary.LatestMessageIndex > latest {
		latest = summary.LatestMessageIndex
	}
	for _, event := range c.engine.Store().Events(target) {
		if message, ok := event.AsMessage(); ok && message.MessageIndex > latest {
			latest = message.MessageIndex
		}
	}
	for _, event := range c.engine.Unconfirmed().List(target) {
		if message, ok := event.AsMessage(); ok && message.MessageIndex > latest {
			latest = message.MessageIndex
		}
	}
	if latest < 0 {
		return 0, false
	}
	return latest, true
}

// UnreadCount returns the number of unread messages for the context.
func (c *Coordinator) UnreadCount(target chat.Context) int {
	latest, ok := c.LatestMessageIndex(target)
	if !ok {
		return 0
	}
	return c.tracker.UnreadCount(target, latest)
}

func (c *Coordinator) nextMessageIndex(target chat.Context) chat.MessageIndex {
	if latest, ok := c.LatestMessageIndex(target); ok {
		return latest + 1
	}
	return 0
}

func (c *Coordinator) nextEventIndex(target chat.Context) chat.EventIndex {
	next := chat.EventIndex(0)
	if latest, ok := c.engine.Store().LatestEventIndex(target); ok {
		next = latest + 1
	}
	for _, event := range c.engine.Unconfirmed().List(target) {
		if event.Index >= next {
			next = event.Index + 1
		}
	}
	return next
}
