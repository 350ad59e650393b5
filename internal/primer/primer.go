// Package primer warms the local event cache in the background so chats open
// instantly: for each chat whose summary advanced past its last priming, it
// loads the window around the first unread message (when anything is unread)
// and then the latest page, and records the priming timestamp. One chat is
// processed at a time.
package primer

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quillchat/chatsync/internal/chat"
	synccoord "github.com/quillchat/chatsync/internal/sync"
)

var (
	errMissingCoordinator = errors.New("primer: coordinator is required")
	errMissingCache       = errors.New("primer: cache is required")
)

// Cache is the slice of the event cache the primer uses to decide staleness.
type Cache interface {
	PrimedTimestamp(ctx context.Context, scope chat.Scope) (int64, error)
	SetPrimedTimestamp(ctx context.Context, scope chat.Scope, timestampMs int64) error
}

// Config carries the primer's dependencies.
type Config struct {
	Coordinator *synccoord.Coordinator
	Cache       Cache
	Logger      *zap.Logger
	Clock       func() time.Time
}

type pendingChat struct {
	scope         chat.Scope
	lastUpdatedMs int64
}

// Primer holds the queue of chats awaiting a cache warm-up.
type Primer struct {
	coordinator *synccoord.Coordinator
	cache       Cache
	logger      *zap.Logger
	clock       func() time.Time

	mu      sync.Mutex
	pending []pendingChat
	wake    chan struct{}
}

// New validates the configuration and returns a Primer.
func New(cfg Config) (*Primer, error) {
	if cfg.Coordinator == nil {
		return nil, errMissingCoordinator
	}
	if cfg.Cache == nil {
		return nil, errMissingCache
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Primer{
		coordinator: cfg.Coordinator,
		cache:       cfg.Cache,
		logger:      logger,
		clock:       clock,
		wake:        make(chan struct{}, 1),
	}, nil
}

// Observe enqueues the scope when its summary is newer than its last priming.
// Re-observing a queued scope refreshes its position; the queue keeps the
// most recently active chats first.
func (p *Primer) Observe(ctx context.Context, scope chat.Scope, summary synccoord.Summary) {
	primedAt, err := p.cache.PrimedTimestamp(ctx, scope)
	if err != nil {
		p.logger.Debug("primed timestamp read failed", zap.String("scope", scope.Key()), zap.Error(err))
	}
	if summary.LastUpdatedMs <= primedAt {
		return
	}
	p.coordinator.UpdateSummary(chat.MainContext(scope), summary)

	p.mu.Lock()
	replaced := false
	for position := range p.pending {
		if p.pending[position].scope == scope {
			p.pending[position].lastUpdatedMs = summary.LastUpdatedMs
			replaced = true
			break
		}
	}
	if !replaced {
		p.pending = append(p.pending, pendingChat{scope: scope, lastUpdatedMs: summary.LastUpdatedMs})
	}
	sort.SliceStable(p.pending, func(i, j int) bool {
		return p.pending[i].lastUpdatedMs > p.pending[j].lastUpdatedMs
	})
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Run processes the queue until ctx is done, one chat at a time.
func (p *Primer) Run(ctx context.Context) error {
	for {
		scope, ok := p.dequeue()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-p.wake:
				continue
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		p.prime(ctx, scope)
	}
}

// PendingCount reports how many chats are queued.
func (p *Primer) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

func (p *Primer) dequeue() (chat.Scope, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) == 0 {
		return chat.Scope{}, false
	}
	next := p.pending[0]
	p.pending = p.pending[1:]
	return next.scope, true
}

// prime loads what a user opening the chat would need: the window centered
// on the first unread message when anything is unread, and the newest page in
// either case, so both the catch-up position and the chat tip are warm.
func (p *Primer) prime(ctx context.Context, scope chat.Scope) {
	target := chat.MainContext(scope)

	if latest, hasMessages := p.coordinator.LatestMessageIndex(target); hasMessages {
		if firstUnread, unread := p.coordinator.Tracker().FirstUnread(target, latest); unread {
			p.coordinator.LoadEventWindow(ctx, target, firstUnread)
		}
	}
	p.coordinator.LoadNewEvents(ctx, target)

	if err := p.cache.SetPrimedTimestamp(ctx, scope, p.clock().UnixMilli()); err != nil {
		p.logger.Warn("error recording primed timestamp",
			zap.String("scope", scope.Key()),
			zap.Error(err))
		return
	}
	p.logger.Debug("primed chat cache", zap.String("scope", scope.Key()))
}
