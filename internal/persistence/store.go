// Package persistence keeps the append-only envelope log used for history
// queries and reconnect replay. SQLiteStore is durable; MemoryStore offers
// the same contract without surviving restarts.
package persistence

import (
	"context"
	"errors"
	"time"

	"orchestra/internal/destination"
	"orchestra/internal/logging"
	"orchestra/internal/message"
)

const (
	DefaultMaxEntries = 10000

	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

var ErrClosed = errors.New("message store is closed")

// Store is the contract shared by every backend. Writes are serialized;
// reads may run concurrently with each other.
type Store interface {
	Save(ctx context.Context, envelope message.Envelope) (Entry, error)
	// Load returns up to limit entries starting at offset, oldest first.
	// Offset 0 is the oldest retained entry; a non-positive limit means all.
	Load(ctx context.Context, offset, limit int) ([]Entry, error)
	History(ctx context.Context, filter Filter) ([]Entry, error)
	Clear(ctx context.Context) error
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// Entry is an envelope plus its position in the log.
type Entry struct {
	Sequence int64            `json:"sequence"`
	EntryID  string           `json:"entryId"`
	StoredAt time.Time        `json:"storedAt"`
	Envelope message.Envelope `json:"envelope"`
}

// Filter selects history entries. Zero fields do not constrain. Since is
// exclusive and Until inclusive, both compared against StoredAt.
type Filter struct {
	Since time.Time
	Until time.Time
	Types []message.Type
	// Destinations matches the envelope to field exactly.
	Destinations []string
	// IncludeBroadcasts also matches envelopes sent to broadcast or
	// all-agents when Destinations is set.
	IncludeBroadcasts bool
	Limit             int
	// Latest keeps the newest entries when Limit truncates. Results are
	// oldest first either way.
	Latest bool
}

func (f Filter) matches(entry Entry) bool {
	if !f.Since.IsZero() && !entry.StoredAt.After(f.Since) {
		return false
	}
	if !f.Until.IsZero() && entry.StoredAt.After(f.Until) {
		return false
	}
	if len(f.Types) > 0 && !containsType(f.Types, entry.Envelope.Type) {
		return false
	}
	if len(f.Destinations) > 0 {
		to := entry.Envelope.To
		if !containsString(f.Destinations, to) && !(f.IncludeBroadcasts && destination.IsBroadcast(to)) {
			return false
		}
	}
	return true
}

type Stats struct {
	Backend        string    `json:"backend"`
	Count          int       `json:"count"`
	MaxEntries     int       `json:"maxEntries"`
	OldestSequence int64     `json:"oldestSequence"`
	NewestSequence int64     `json:"newestSequence"`
	Oldest         time.Time `json:"oldest,omitempty"`
	Newest         time.Time `json:"newest,omitempty"`
	Saved          int64     `json:"saved"`
	Evicted        int64     `json:"evicted"`
}

type Config struct {
	// Path of the sqlite database. Empty selects the in-memory store.
	Path       string
	MaxEntries int
	Now        func() time.Time
}

// Open returns a SQLite store when cfg.Path is set and usable, otherwise a
// memory store. A durable store that fails to open is logged and replaced by
// memory so the bus keeps running.
func Open(ctx context.Context, cfg Config, logger *logging.Logger) Store {
	if cfg.Path != "" {
		store, err := OpenSQLite(ctx, cfg)
		if err == nil {
			logger.Info("message store opened", map[string]string{
				"backend": BackendSQLite,
				"path":    cfg.Path,
			})
			return store
		}
		logger.Warn("durable message store unavailable, using memory", map[string]string{
			"path":  cfg.Path,
			"error": err.Error(),
		})
	}
	logger.Info("message store opened", map[string]string{"backend": BackendMemory})
	return NewMemoryStore(cfg)
}

func containsType(types []message.Type, kind message.Type) bool {
	for _, candidate := range types {
		if candidate == kind {
			return true
		}
	}
	return false
}

func containsString(values []string, value string) bool {
	for _, candidate := range values {
		if candidate == value {
			return true
		}
	}
	return false
}

// truncate applies limit to entries that are already oldest first.
func truncate(entries []Entry, limit int, latest bool) []Entry {
	if limit <= 0 || len(entries) <= limit {
		return entries
	}
	if latest {
		return entries[len(entries)-limit:]
	}
	return entries[:limit]
}
