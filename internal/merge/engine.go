package merge

import (
	"errors"

	"go.uber.org/zap"

	"github.com/quillchat/chatsync/internal/chat"
)

var (
	errMissingReadState   = errors.New("merge: read state is required")
	errMissingLocalUserID = errors.New("merge: local user id is required")
)

// ReadState is the slice of the unread tracker the engine drives during
// reconciliation.
type ReadState interface {
	ConfirmMessage(target chat.Context, messageIndex chat.MessageIndex, messageID string)
	IsRead(target chat.Context, messageIndex chat.MessageIndex, messageID string) bool
	MarkMessageRead(target chat.Context, messageIndex chat.MessageIndex, messageID string)
}

// EngineConfig carries the engine's dependencies.
type EngineConfig struct {
	ReadState   ReadState
	LocalUserID string
	Logger      *zap.Logger
}

// Engine owns the in-memory confirmed window per context, the unconfirmed
// set, and the reconciliation between the two.
type Engine struct {
	store       *ContextStore
	unconfirmed *Unconfirmed
	readState   ReadState
	localUserID string
	logger      *zap.Logger
}

// NewEngine validates the configuration and returns an Engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.ReadState == nil {
		return nil, errMissingReadState
	}
	if cfg.LocalUserID == "" {
		return nil, errMissingLocalUserID
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:       NewContextStore(),
		unconfirmed: NewUnconfirmed(),
		readState:   cfg.ReadState,
		localUserID: cfg.LocalUserID,
		logger:      logger,
	}, nil
}

// Store exposes the engine's per-context window.
func (e *Engine) Store() *ContextStore {
	return e.store
}

// Unconfirmed exposes the engine's optimistic event set.
func (e *Engine) Unconfirmed() *Unconfirmed {
	return e.unconfirmed
}

// LocalUserID returns the id the engine treats as "self" when auto-marking
// merged events read.
func (e *Engine) LocalUserID() string {
	return e.localUserID
}

// ApplyConfirmed merges a batch of confirmed events into the context's
// window. A non-contiguous batch is dropped silently, leaving the window
// untouched; the return value reports whether the batch was applied.
//
// For every message-kind event in an applied batch, the matching unconfirmed
// entry (if any) is removed exactly once and its read state transferred onto
// the confirmed message index; self-authored messages are auto-marked read.
// Re-applying the same batch is a no-op for both effects.
func (e *Engine) ApplyConfirmed(target chat.Context, events []chat.EventWrapper, expired []chat.ExpiredRange) bool {
	if len(events) == 0 && len(expired) == 0 {
		return true
	}

	if !e.store.Apply(target, events, expired) {
		loaded := e.store.Loaded(target)
		e.logger.Debug("dropping non-contiguous event batch",
			zap.String("context", target.Key()),
			zap.Int("events", len(events)),
			zap.String("loaded", loaded.String()))
		return false
	}

	for _, event := range events {
		message, ok := event.AsMessage()
		if !ok {
			continue
		}
		if e.unconfirmed.Delete(target, message.MessageID) {
			e.readState.ConfirmMessage(target, message.MessageIndex, message.MessageID)
		}
		if message.Sender == e.localUserID && !e.readState.IsRead(target, message.MessageIndex, message.MessageID) {
			e.readState.MarkMessageRead(target, message.MessageIndex, message.MessageID)
		}
	}
	return true
}
