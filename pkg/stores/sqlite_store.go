package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const memoryPath = ":memory:"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.Path == memoryPath {
		// Every connection to :memory: is a separate database.
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	} else {
		if cfg.MaxOpenConns == 0 {
			cfg.MaxOpenConns = 25
		}
		if cfg.MaxIdleConns == 0 {
			cfg.MaxIdleConns = 5
		}
		if cfg.ConnMaxLifetime == 0 {
			cfg.ConnMaxLifetime = 5 * time.Minute
		}
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Init opens the database and enables WAL mode and foreign keys.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate", s.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

// TouchSession creates the session if needed and bumps last_seen_at
func (s *SQLiteStore) TouchSession(ctx context.Context, id string) error {
	return touchSession(ctx, s.db, id)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func touchSession(ctx context.Context, db execer, id string) error {
	if id == "" {
		return fmt.Errorf("session id is required")
	}

	query := `
		INSERT INTO sessions (id, created_at, last_seen_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET last_seen_at = excluded.last_seen_at
	`

	now := time.Now().UTC()
	if _, err := db.ExecContext(ctx, query, id, now, now); err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	query := `SELECT id, created_at, last_seen_at FROM sessions WHERE id = ?`

	session := &Session{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&session.ID,
		&session.CreatedAt,
		&session.LastSeenAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return session, nil
}

// AddWatchEntry adds a symbol to a session's watch list. It reports false
// when the entry was already present; the existing row is left unchanged.
func (s *SQLiteStore) AddWatchEntry(ctx context.Context, entry *WatchEntry) (bool, error) {
	if entry.SessionID == "" || entry.Symbol == "" {
		return false, fmt.Errorf("session id and symbol are required")
	}
	if !entry.Kind.Valid() {
		return false, fmt.Errorf("invalid watch kind: %q", entry.Kind)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	tx, err := s.BeginTx(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := touchSession(ctx, tx, entry.SessionID); err != nil {
		return false, err
	}

	query := `
		INSERT INTO watchlist_entries (session_id, symbol, kind, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id, symbol, kind) DO NOTHING
	`

	result, err := tx.ExecContext(ctx, query,
		entry.SessionID,
		entry.Symbol,
		entry.Kind,
		entry.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to add watch entry: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 1 {
		id, err := result.LastInsertId()
		if err != nil {
			return false, fmt.Errorf("failed to get watch entry ID: %w", err)
		}
		entry.ID = id
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit watch entry: %w", err)
	}

	return rows == 1, nil
}

// HasWatchEntry reports whether the symbol is on the session's watch list
func (s *SQLiteStore) HasWatchEntry(ctx context.Context, sessionID, symbol string, kind WatchKind) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM watchlist_entries
			WHERE session_id = ? AND symbol = ? AND kind = ?
		)
	`

	var exists bool
	if err := s.db.QueryRowContext(ctx, query, sessionID, symbol, kind).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check watch entry: %w", err)
	}
	return exists, nil
}

// ListWatchEntries returns a session's watch list, optionally filtered by kind
func (s *SQLiteStore) ListWatchEntries(ctx context.Context, sessionID string, kind *WatchKind) ([]*WatchEntry, error) {
	query := `
		SELECT id, session_id, symbol, kind, created_at
		FROM watchlist_entries
		WHERE session_id = ?
		  AND (? IS NULL OR kind = ?)
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, sessionID, kind, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list watch entries: %w", err)
	}
	defer rows.Close()

	entries := []*WatchEntry{}
	for rows.Next() {
		entry := &WatchEntry{}
		err := rows.Scan(
			&entry.ID,
			&entry.SessionID,
			&entry.Symbol,
			&entry.Kind,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan watch entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating watch entries: %w", err)
	}

	return entries, nil
}

// RemoveWatchEntry deletes a symbol from the session's watch list
func (s *SQLiteStore) RemoveWatchEntry(ctx context.Context, sessionID, symbol string, kind WatchKind) error {
	query := `DELETE FROM watchlist_entries WHERE session_id = ? AND symbol = ? AND kind = ?`

	result, err := s.db.ExecContext(ctx, query, sessionID, symbol, kind)
	if err != nil {
		return fmt.Errorf("failed to remove watch entry: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("watch entry %s/%s: %w", kind, symbol, ErrNotFound)
	}

	return nil
}

// AppendEvent appends a UI event to the log
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *EventRecord) error {
	if event.Details == "" {
		event.Details = "{}"
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO ui_events (type, source, view, level, message, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		event.Type,
		event.Source,
		event.View,
		event.Level,
		event.Message,
		event.Details,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event ID: %w", err)
	}

	event.ID = id
	return nil
}

// GetEvents retrieves events with optional filters and pagination, newest first
func (s *SQLiteStore) GetEvents(ctx context.Context, view *string, level *EventLevel, limit, offset int) ([]*EventRecord, error) {
	query := `
		SELECT id, type, source, view, level, message, details, timestamp
		FROM ui_events
		WHERE (? IS NULL OR view = ?)
		  AND (? IS NULL OR level = ?)
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, view, view, level, level, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	events := []*EventRecord{}
	for rows.Next() {
		event := &EventRecord{}
		err := rows.Scan(
			&event.ID,
			&event.Type,
			&event.Source,
			&event.View,
			&event.Level,
			&event.Message,
			&event.Details,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
