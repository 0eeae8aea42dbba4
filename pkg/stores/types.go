package stores

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// WatchKind distinguishes stock and crypto watch list entries
type WatchKind string

const (
	WatchKindStock  WatchKind = "STOCK"
	WatchKindCrypto WatchKind = "CRYPTO"
)

// Valid reports whether k is a known kind.
func (k WatchKind) Valid() bool {
	return k == WatchKindStock || k == WatchKindCrypto
}

// EventLevel represents the severity level of a stored UI event
type EventLevel string

const (
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Session is an anonymous browser session keyed by cookie
type Session struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// WatchEntry is one symbol on a session's watch list.
// (SessionID, Symbol, Kind) is unique.
type WatchEntry struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Symbol    string    `json:"symbol"`
	Kind      WatchKind `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

// EventRecord is a persisted UI event
type EventRecord struct {
	ID        int64      `json:"id"`
	Type      string     `json:"type"`
	Source    string     `json:"source"`
	View      string     `json:"view"`
	Level     EventLevel `json:"level"`
	Message   string     `json:"message"`
	Details   string     `json:"details"` // JSON blob
	Timestamp time.Time  `json:"timestamp"`
}

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)

	// Session operations
	TouchSession(ctx context.Context, id string) error
	GetSession(ctx context.Context, id string) (*Session, error)

	// Watch list operations
	AddWatchEntry(ctx context.Context, entry *WatchEntry) (bool, error)
	HasWatchEntry(ctx context.Context, sessionID, symbol string, kind WatchKind) (bool, error)
	ListWatchEntries(ctx context.Context, sessionID string, kind *WatchKind) ([]*WatchEntry, error)
	RemoveWatchEntry(ctx context.Context, sessionID, symbol string, kind WatchKind) error

	// Event operations
	AppendEvent(ctx context.Context, event *EventRecord) error
	GetEvents(ctx context.Context, view *string, level *EventLevel, limit, offset int) ([]*EventRecord, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
