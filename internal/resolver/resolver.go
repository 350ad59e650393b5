// Package resolver decides which parts of a requested event window are
// already cached and which indices must be fetched from the remote log.
package resolver

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/quillchat/chatsync/internal/chat"
	"github.com/quillchat/chatsync/internal/rangeset"
)

var (
	errMissingCache = errors.New("resolver: cache is required")
)

// Cache is the slice of the local event cache the resolver reads. A read
// failure is treated as a miss, never surfaced to callers.
type Cache interface {
	ReadIndices(ctx context.Context, target chat.Context, indices []chat.EventIndex) ([]chat.EventWrapper, error)
	ExpiredSpans(ctx context.Context, target chat.Context) (*rangeset.Set, error)
	EventIndexForMessage(ctx context.Context, target chat.Context, messageIndex chat.MessageIndex) (chat.EventIndex, bool, error)
}

// Config carries the resolver's dependencies and tunables.
type Config struct {
	Cache       Cache
	Logger      *zap.Logger
	MaxMessages int
	MaxEvents   int
	MaxMissing  int
}

// Resolver computes cache hits and gap sets for event-window requests.
type Resolver struct {
	cache       Cache
	logger      *zap.Logger
	maxMessages int
	maxEvents   int
	maxMissing  int
}

// Resolution is the outcome of a cache probe. When CompleteMiss is set the
// caller should treat the whole request as uncached and issue one full fetch
// instead of patching the gaps individually.
type Resolution struct {
	Events       []chat.EventWrapper
	Missing      []chat.EventIndex
	CompleteMiss bool
}

// New validates the configuration and returns a Resolver.
func New(cfg Config) (*Resolver, error) {
	if cfg.Cache == nil {
		return nil, errMissingCache
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = 100
	}
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = 500
	}
	if cfg.MaxMissing <= 0 {
		cfg.MaxMissing = 30
	}
	return &Resolver{
		cache:       cfg.Cache,
		logger:      logger,
		maxMessages: cfg.MaxMessages,
		maxEvents:   cfg.MaxEvents,
		maxMissing:  cfg.MaxMissing,
	}, nil
}

// ResolveByIndex probes the cache for an explicit index set. Indices covered
// by expired ranges are neither returned nor reported missing.
func (r *Resolver) ResolveByIndex(ctx context.Context, target chat.Context, indices []chat.EventIndex) Resolution {
	cached, expired, ok := r.probe(ctx, target, indices)
	if !ok {
		return Resolution{Missing: append([]chat.EventIndex(nil), indices...)}
	}

	var missing []chat.EventIndex
	for _, index := range indices {
		if _, hit := cached[index]; hit {
			continue
		}
		if expired.Contains(index) {
			continue
		}
		missing = append(missing, index)
	}
	return Resolution{Events: collect(cached), Missing: missing}
}

// ResolveRange probes the cache for a directional page anchored at
// startIndex, bounded by the context's visible index range. The page stops at
// whichever cap is hit first; non-message events never count toward the
// message cap.
func (r *Resolver) ResolveRange(ctx context.Context, target chat.Context, bounds rangeset.Span, startIndex chat.EventIndex, ascending bool) Resolution {
	startIndex = clamp(startIndex, bounds)
	page := r.pageIndices(bounds, startIndex, ascending)

	cached, expired, ok := r.probe(ctx, target, page)
	if !ok {
		return Resolution{CompleteMiss: true}
	}

	resolution := r.walk(page, cached, expired)
	if len(resolution.Missing) >= r.maxMissing {
		r.logger.Debug("cache fell short of the requested range, treating as a complete miss",
			zap.String("context", target.Key()),
			zap.Int("missing", len(resolution.Missing)))
		return Resolution{CompleteMiss: true}
	}
	return resolution
}

// ResolveWindow probes the cache for a page centered on the given message
// index. A total miss (the midpoint message itself is not cached) or an
// excessive gap count short-circuits to a complete miss so the caller issues
// one window fetch instead of many point fetches.
func (r *Resolver) ResolveWindow(ctx context.Context, target chat.Context, bounds rangeset.Span, midpoint chat.MessageIndex) Resolution {
	anchor, found, err := r.cache.EventIndexForMessage(ctx, target, midpoint)
	if err != nil {
		r.logger.Warn("cache midpoint lookup failed, treating as a complete miss",
			zap.String("context", target.Key()),
			zap.Error(err))
		return Resolution{CompleteMiss: true}
	}
	if !found {
		return Resolution{CompleteMiss: true}
	}

	anchor = clamp(anchor, bounds)
	page := r.windowIndices(bounds, anchor)

	cached, expired, ok := r.probe(ctx, target, page)
	if !ok {
		return Resolution{CompleteMiss: true}
	}

	resolution := r.walk(page, cached, expired)
	if len(resolution.Missing) >= r.maxMissing {
		r.logger.Debug("cache fell short of the requested window, treating as a complete miss",
			zap.String("context", target.Key()),
			zap.Int("missing", len(resolution.Missing)))
		return Resolution{CompleteMiss: true}
	}
	return resolution
}

// pageIndices lists the candidate indices of a directional page in walk
// order: ascending pages walk up from the anchor, descending pages walk down.
func (r *Resolver) pageIndices(bounds rangeset.Span, startIndex chat.EventIndex, ascending bool) []chat.EventIndex {
	indices := make([]chat.EventIndex, 0, r.maxEvents)
	if ascending {
		for index := startIndex; index <= bounds.End && len(indices) < r.maxEvents; index++ {
			indices = append(indices, index)
		}
	} else {
		for index := startIndex; index >= bounds.Start && len(indices) < r.maxEvents; index-- {
			indices = append(indices, index)
		}
	}
	return indices
}

// windowIndices lists the candidate indices of a window page, spiralling
// outward from the anchor so both sides fill evenly until a bound or the
// event cap cuts the walk off.
func (r *Resolver) windowIndices(bounds rangeset.Span, anchor chat.EventIndex) []chat.EventIndex {
	indices := make([]chat.EventIndex, 0, r.maxEvents)
	indices = append(indices, anchor)
	below, above := anchor-1, anchor+1
	for len(indices) < r.maxEvents && (below >= bounds.Start || above <= bounds.End) {
		if below >= bounds.Start {
			indices = append(indices, below)
			below--
		}
		if above <= bounds.End && len(indices) < r.maxEvents {
			indices = append(indices, above)
			above++
		}
	}
	return indices
}

// walk consumes page indices in order, accumulating hits and gaps until the
// message cap is reached.
func (r *Resolver) walk(page []chat.EventIndex, cached map[chat.EventIndex]chat.EventWrapper, expired *rangeset.Set) Resolution {
	var resolution Resolution
	messages := 0
	for _, index := range page {
		if messages >= r.maxMessages {
			break
		}
		event, hit := cached[index]
		if !hit {
			if !expired.Contains(index) {
				resolution.Missing = append(resolution.Missing, index)
			}
			continue
		}
		resolution.Events = append(resolution.Events, event)
		if _, isMessage := event.AsMessage(); isMessage {
			messages++
		}
	}
	chat.SortEvents(resolution.Events)
	return resolution
}

func (r *Resolver) probe(ctx context.Context, target chat.Context, indices []chat.EventIndex) (map[chat.EventIndex]chat.EventWrapper, *rangeset.Set, bool) {
	events, err := r.cache.ReadIndices(ctx, target, indices)
	if err != nil {
		r.logger.Warn("cache read failed, treating as a miss",
			zap.String("context", target.Key()),
			zap.Error(err))
		return nil, nil, false
	}
	expired, err := r.cache.ExpiredSpans(ctx, target)
	if err != nil {
		r.logger.Warn("expired-range read failed, treating as a miss",
			zap.String("context", target.Key()),
			zap.Error(err))
		return nil, nil, false
	}
	if expired == nil {
		expired = &rangeset.Set{}
	}

	cached := make(map[chat.EventIndex]chat.EventWrapper, len(events))
	for _, event := range events {
		cached[event.Index] = event
	}
	return cached, expired, true
}

func collect(cached map[chat.EventIndex]chat.EventWrapper) []chat.EventWrapper {
	events := make([]chat.EventWrapper, 0, len(cached))
	for _, event := range cached {
		events = append(events, event)
	}
	chat.SortEvents(events)
	return events
}

func clamp(index chat.EventIndex, bounds rangeset.Span) chat.EventIndex {
	if index > bounds.End {
		return bounds.End
	}
	if index < bounds.Start {
		return bounds.Start
	}
	return index
}
