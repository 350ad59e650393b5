// Package cache implements the persistent local event cache: a write-through
// store of event pages keyed by context and event index. The cache is a
// performance layer, not a correctness requirement; callers treat read
// failures as misses and write failures as log lines.
package cache

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/quillchat/chatsync/internal/chat"
	"github.com/quillchat/chatsync/internal/rangeset"
)

var (
	errMissingDatabase = errors.New("cache: database handle is required")
	noOpLogger         = zap.NewNop()
)

// StoreConfig carries the dependencies for a SQLiteStore.
type StoreConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// SQLiteStore is the gorm-backed cache implementation.
type SQLiteStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewSQLiteStore validates the configuration and returns a store.
func NewSQLiteStore(cfg StoreConfig) (*SQLiteStore, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &SQLiteStore{db: cfg.Database, logger: logger}, nil
}

// ReadIndices returns the cached events among the requested indices, sorted
// ascending. Absent indices are simply not returned; rows whose payload can
// no longer be decoded are skipped.
func (store *SQLiteStore) ReadIndices(ctx context.Context, target chat.Context, indices []chat.EventIndex) ([]chat.EventWrapper, error) {
	if len(indices) == 0 {
		return nil, nil
	}
	raw := make([]int64, 0, len(indices))
	for _, index := range indices {
		raw = append(raw, int64(index))
	}

	var rows []cachedEvent
	err := store.db.WithContext(ctx).
		Where("context_key = ? AND event_index IN ?", target.Key(), raw).
		Order("event_index ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	events := make([]chat.EventWrapper, 0, len(rows))
	for _, row := range rows {
		event, decodeErr := fromRow(row)
		if decodeErr != nil {
			store.logger.Warn("skipping undecodable cached event",
				zap.String("context", target.Key()),
				zap.Int64("event_index", row.EventIndex),
				zap.Error(decodeErr))
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

// CachedSpans returns the coverage of cached event indices for the context.
func (store *SQLiteStore) CachedSpans(ctx context.Context, target chat.Context) (*rangeset.Set, error) {
	var raw []int64
	err := store.db.WithContext(ctx).
		Model(&cachedEvent{}).
		Where("context_key = ?", target.Key()).
		Order("event_index ASC").
		Pluck("event_index", &raw).Error
	if err != nil {
		return nil, err
	}

	set := &rangeset.Set{}
	for _, index := range raw {
		set.Add(chat.EventIndex(index), chat.EventIndex(index))
	}
	return set, nil
}

// ExpiredSpans returns the context's accumulated expired-range coverage.
func (store *SQLiteStore) ExpiredSpans(ctx context.Context, target chat.Context) (*rangeset.Set, error) {
	meta, err := store.loadMetadata(ctx, target.Key())
	if err != nil {
		return nil, err
	}
	ranges, err := decodeExpired(meta.ExpiredJSON)
	if err != nil {
		return nil, err
	}
	set := &rangeset.Set{}
	for _, r := range ranges {
		set.Add(r.Start, r.End)
	}
	return set, nil
}

// EventIndexForMessage resolves a message index to its cached event index.
func (store *SQLiteStore) EventIndexForMessage(ctx context.Context, target chat.Context, messageIndex chat.MessageIndex) (chat.EventIndex, bool, error) {
	var row cachedEvent
	err := store.db.WithContext(ctx).
		Where("context_key = ? AND message_index = ?", target.Key(), int64(messageIndex)).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return chat.EventIndex(row.EventIndex), true, nil
}

// Write persists fetched events and expired ranges for the context, replacing
// any rows a fresher fetch supersedes and advancing the context metadata.
// Expired coverage only ever grows.
func (store *SQLiteStore) Write(ctx context.Context, target chat.Context, events []chat.EventWrapper, expired []chat.ExpiredRange, latestEventIndex chat.EventIndex, timestampMs int64) error {
	contextKey := target.Key()

	return store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, event := range events {
			row, err := toRow(contextKey, event)
			if err != nil {
				return err
			}
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
				return err
			}
		}

		meta, err := loadMetadataTx(tx, contextKey)
		if err != nil {
			return err
		}

		existing, err := decodeExpired(meta.ExpiredJSON)
		if err != nil {
			return err
		}
		coverage := &rangeset.Set{}
		for _, r := range existing {
			coverage.Add(r.Start, r.End)
		}
		for _, r := range expired {
			coverage.Add(r.Start, r.End)
		}
		merged := make([]chat.ExpiredRange, 0)
		for _, span := range coverage.Subranges() {
			merged = append(merged, chat.ExpiredRange{Start: span.Start, End: span.End})
		}
		encoded, err := encodeExpired(merged)
		if err != nil {
			return err
		}
		meta.ExpiredJSON = encoded

		if int64(latestEventIndex) > meta.LatestEventIndex {
			meta.LatestEventIndex = int64(latestEventIndex)
		}
		if timestampMs > meta.LastUpdatedMs {
			meta.LastUpdatedMs = timestampMs
		}

		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&meta).Error
	})
}

// LastKnownUpdate returns the latest server timestamp recorded for the scope.
func (store *SQLiteStore) LastKnownUpdate(ctx context.Context, scope chat.Scope) (int64, error) {
	meta, err := store.loadMetadata(ctx, chat.MainContext(scope).Key())
	if err != nil {
		return 0, err
	}
	return meta.LastUpdatedMs, nil
}

// PrimedTimestamp returns when the scope was last warmed by the cache primer.
func (store *SQLiteStore) PrimedTimestamp(ctx context.Context, scope chat.Scope) (int64, error) {
	meta, err := store.loadMetadata(ctx, chat.MainContext(scope).Key())
	if err != nil {
		return 0, err
	}
	return meta.PrimedAtMs, nil
}

// SetPrimedTimestamp records a completed priming pass for the scope.
func (store *SQLiteStore) SetPrimedTimestamp(ctx context.Context, scope chat.Scope, timestampMs int64) error {
	contextKey := chat.MainContext(scope).Key()
	return store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		meta, err := loadMetadataTx(tx, contextKey)
		if err != nil {
			return err
		}
		meta.PrimedAtMs = timestampMs
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&meta).Error
	})
}

func (store *SQLiteStore) loadMetadata(ctx context.Context, contextKey string) (contextMetadata, error) {
	return loadMetadataTx(store.db.WithContext(ctx), contextKey)
}

func loadMetadataTx(tx *gorm.DB, contextKey string) (contextMetadata, error) {
	var meta contextMetadata
	err := tx.Where("context_key = ?", contextKey).Take(&meta).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return contextMetadata{ContextKey: contextKey, LatestEventIndex: -1, ExpiredJSON: "[]"}, nil
	}
	if err != nil {
		return contextMetadata{}, err
	}
	return meta, nil
}
