package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"orchestra/internal/destination"
	"orchestra/internal/ids"
	"orchestra/internal/jsoncodec"
	"orchestra/internal/message"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists the log in a single table. Writes hold writeMu so
// append and trim happen as one unit; reads go straight to the pool.
type SQLiteStore struct {
	conn       *sql.DB
	path       string
	maxEntries int
	now        func() time.Time

	writeMu sync.Mutex
	closed  atomic.Bool
	saved   atomic.Int64
	evicted atomic.Int64
}

// OpenSQLite opens or creates the database at cfg.Path and applies pending
// migrations. A non-positive MaxEntries keeps every entry.
func OpenSQLite(ctx context.Context, cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	// busy_timeout and synchronous are per connection, so they ride on the
	// DSN and apply to every pooled connection.
	dsn := cfg.Path + "?_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := conn.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	store := &SQLiteStore{
		conn:       conn,
		path:       cfg.Path,
		maxEntries: cfg.MaxEntries,
		now:        cfg.Now,
	}
	if err := store.migrate(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var current int
	if err := s.conn.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Messages},
		{2, migrationV2Correlation},
	}
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := s.conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}
	return nil
}

const migrationV1Messages = `
CREATE TABLE IF NOT EXISTS messages (
	sequence INTEGER PRIMARY KEY AUTOINCREMENT,
	entry_id TEXT NOT NULL UNIQUE,
	message_id TEXT NOT NULL,
	sender TEXT NOT NULL,
	recipient TEXT NOT NULL,
	type TEXT NOT NULL,
	stored_at INTEGER NOT NULL,
	body TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_stored_at ON messages(stored_at);
CREATE INDEX IF NOT EXISTS idx_messages_recipient ON messages(recipient);
CREATE INDEX IF NOT EXISTS idx_messages_type ON messages(type);
`

const migrationV2Correlation = `
ALTER TABLE messages ADD COLUMN correlation_id TEXT NOT NULL DEFAULT '';
CREATE INDEX IF NOT EXISTS idx_messages_correlation_id ON messages(correlation_id);
`

func (s *SQLiteStore) Save(ctx context.Context, envelope message.Envelope) (Entry, error) {
	if s.closed.Load() {
		return Entry{}, ErrClosed
	}
	body, err := jsoncodec.Marshal(envelope)
	if err != nil {
		return Entry{}, fmt.Errorf("encode envelope %s: %w", envelope.ID, err)
	}
	entry := Entry{
		EntryID:  ids.New(),
		StoredAt: s.now().UTC(),
		Envelope: envelope,
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return Entry{}, fmt.Errorf("begin save: %w", err)
	}
	result, err := tx.ExecContext(ctx, `
		INSERT INTO messages (entry_id, message_id, sender, recipient, type, correlation_id, stored_at, body)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.EntryID, envelope.ID, envelope.From, envelope.To, string(envelope.Type),
		envelope.CorrelationID, entry.StoredAt.UnixNano(), string(body),
	)
	if err != nil {
		tx.Rollback()
		return Entry{}, fmt.Errorf("insert envelope %s: %w", envelope.ID, err)
	}
	if entry.Sequence, err = result.LastInsertId(); err != nil {
		tx.Rollback()
		return Entry{}, fmt.Errorf("read sequence: %w", err)
	}

	var trimmed int64
	if s.maxEntries > 0 {
		deleted, err := tx.ExecContext(ctx,
			"DELETE FROM messages WHERE sequence <= ?", entry.Sequence-int64(s.maxEntries))
		if err != nil {
			tx.Rollback()
			return Entry{}, fmt.Errorf("trim log: %w", err)
		}
		trimmed, _ = deleted.RowsAffected()
	}
	if err := tx.Commit(); err != nil {
		return Entry{}, fmt.Errorf("commit save: %w", err)
	}
	s.saved.Add(1)
	s.evicted.Add(trimmed)
	return entry, nil
}

const selectEntries = "SELECT sequence, entry_id, stored_at, body FROM messages"

func (s *SQLiteStore) Load(ctx context.Context, offset, limit int) ([]Entry, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = -1
	}
	return s.query(ctx, selectEntries+" ORDER BY sequence ASC LIMIT ? OFFSET ?", limit, offset)
}

func (s *SQLiteStore) History(ctx context.Context, filter Filter) ([]Entry, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	var clauses []string
	var args []any
	if !filter.Since.IsZero() {
		clauses = append(clauses, "stored_at > ?")
		args = append(args, filter.Since.UTC().UnixNano())
	}
	if !filter.Until.IsZero() {
		clauses = append(clauses, "stored_at <= ?")
		args = append(args, filter.Until.UTC().UnixNano())
	}
	if len(filter.Types) > 0 {
		clauses = append(clauses, "type IN ("+placeholders(len(filter.Types))+")")
		for _, kind := range filter.Types {
			args = append(args, string(kind))
		}
	}
	if len(filter.Destinations) > 0 {
		recipients := append([]string{}, filter.Destinations...)
		if filter.IncludeBroadcasts {
			recipients = append(recipients, broadcastDestinations...)
		}
		clauses = append(clauses, "recipient IN ("+placeholders(len(recipients))+")")
		for _, recipient := range recipients {
			args = append(args, recipient)
		}
	}

	query := selectEntries
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	if filter.Limit > 0 && filter.Latest {
		query = "SELECT * FROM (" + query + " ORDER BY sequence DESC LIMIT ?) ORDER BY sequence ASC"
		args = append(args, filter.Limit)
	} else if filter.Limit > 0 {
		query += " ORDER BY sequence ASC LIMIT ?"
		args = append(args, filter.Limit)
	} else {
		query += " ORDER BY sequence ASC"
	}
	return s.query(ctx, query, args...)
}

func (s *SQLiteStore) query(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			entry    Entry
			storedAt int64
			body     string
		)
		if err := rows.Scan(&entry.Sequence, &entry.EntryID, &storedAt, &body); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		if err := jsoncodec.Unmarshal([]byte(body), &entry.Envelope); err != nil {
			return nil, fmt.Errorf("decode history row %d: %w", entry.Sequence, err)
		}
		entry.StoredAt = time.Unix(0, storedAt).UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return entries, nil
}

// Clear drops every entry. Sequence numbers keep increasing.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.conn.ExecContext(ctx, "DELETE FROM messages"); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	if s.closed.Load() {
		return Stats{}, ErrClosed
	}
	stats := Stats{
		Backend:    BackendSQLite,
		MaxEntries: s.maxEntries,
		Saved:      s.saved.Load(),
		Evicted:    s.evicted.Load(),
	}
	var oldest, newest int64
	err := s.conn.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(MIN(sequence), 0), COALESCE(MAX(sequence), 0),
			COALESCE(MIN(stored_at), 0), COALESCE(MAX(stored_at), 0)
		FROM messages`).Scan(&stats.Count, &stats.OldestSequence, &stats.NewestSequence, &oldest, &newest)
	if err != nil {
		return Stats{}, fmt.Errorf("read stats: %w", err)
	}
	if stats.Count > 0 {
		stats.Oldest = time.Unix(0, oldest).UTC()
		stats.Newest = time.Unix(0, newest).UTC()
	}
	return stats, nil
}

func (s *SQLiteStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.Close()
}

var broadcastDestinations = []string{destination.Broadcast, destination.AllAgents}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
