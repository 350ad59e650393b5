package cache

// Persistent rows for the local event cache. Events are keyed by context and
// event index; superseding writes replace the row wholesale, never patch it.

type cachedEvent struct {
	ContextKey   string `gorm:"column:context_key;primaryKey;size:190;not null"`
	EventIndex   int64  `gorm:"column:event_index;primaryKey;not null"`
	TimestampMs  int64  `gorm:"column:timestamp_ms;not null"`
	ExpiresAtMs  int64  `gorm:"column:expires_at_ms;not null;default:0"`
	Kind         string `gorm:"column:kind;size:64;not null"`
	PayloadJSON  string `gorm:"column:payload_json;type:text;not null"`
	MessageIndex int64  `gorm:"column:message_index;not null;default:-1;index:idx_cached_events_message,priority:2"`
	MessageID    string `gorm:"column:message_id;size:190;not null;default:'';index:idx_cached_events_message,priority:1"`
}

func (cachedEvent) TableName() string {
	return "cached_events"
}

type contextMetadata struct {
	ContextKey       string `gorm:"column:context_key;primaryKey;size:190;not null"`
	LatestEventIndex int64  `gorm:"column:latest_event_index;not null;default:-1"`
	LastUpdatedMs    int64  `gorm:"column:last_updated_ms;not null;default:0"`
	ExpiredJSON      string `gorm:"column:expired_json;type:text;not null;default:'[]'"`
	PrimedAtMs       int64  `gorm:"column:primed_at_ms;not null;default:0"`
}

func (contextMetadata) TableName() string {
	return "cached_context_metadata"
}

// Models lists every gorm model the cache owns, for migration wiring.
func Models() []any {
	return []any{&cachedEvent{}, &contextMetadata{}}
}
