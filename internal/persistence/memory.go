package persistence

import (
	"context"
	"sync"
	"time"

	"orchestra/internal/buffer"
	"orchestra/internal/ids"
	"orchestra/internal/message"
)

// MemoryStore keeps the newest MaxEntries envelopes in a ring.
type MemoryStore struct {
	mu       sync.RWMutex
	entries  *buffer.Ring[Entry]
	now      func() time.Time
	sequence int64
	saved    int64
	evicted  int64
	closed   bool
}

func NewMemoryStore(cfg Config) *MemoryStore {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &MemoryStore{
		entries: buffer.NewRing[Entry](cfg.MaxEntries),
		now:     cfg.Now,
	}
}

func (s *MemoryStore) Save(ctx context.Context, envelope message.Envelope) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Entry{}, ErrClosed
	}
	s.sequence++
	entry := Entry{
		Sequence: s.sequence,
		EntryID:  ids.New(),
		StoredAt: s.now().UTC(),
		Envelope: envelope,
	}
	if s.entries.Add(entry) {
		s.evicted++
	}
	s.saved++
	return entry, nil
}

func (s *MemoryStore) Load(ctx context.Context, offset, limit int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	if offset < 0 {
		offset = 0
	}
	entries := s.entries.List()
	if offset >= len(entries) {
		return []Entry{}, nil
	}
	return truncate(entries[offset:], limit, false), nil
}

func (s *MemoryStore) History(ctx context.Context, filter Filter) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	matched := []Entry{}
	s.entries.Each(func(entry Entry) bool {
		if filter.matches(entry) {
			matched = append(matched, entry)
		}
		return true
	})
	return truncate(matched, filter.Limit, filter.Latest), nil
}

// Clear drops every entry. Sequence numbers keep increasing.
func (s *MemoryStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.entries.Reset()
	return nil
}

func (s *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := Stats{
		Backend:    BackendMemory,
		Count:      s.entries.Len(),
		MaxEntries: s.entries.Cap(),
		Saved:      s.saved,
		Evicted:    s.evicted,
	}
	entries := s.entries.List()
	if len(entries) > 0 {
		oldest, newest := entries[0], entries[len(entries)-1]
		stats.OldestSequence, stats.NewestSequence = oldest.Sequence, newest.Sequence
		stats.Oldest, stats.Newest = oldest.StoredAt, newest.StoredAt
	}
	return stats, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.entries.Reset()
	return nil
}
