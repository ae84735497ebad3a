// internal/server/store.go
package server

import (
	"context"
	"sync"

	"github.com/ColonelBlimp/pingfinder/internal/export"
)

// DefaultStoreSize is the number of detections kept when none is given.
const DefaultStoreSize = 256

// Store keeps the most recent detections for the status API. It is an
// export.Exporter so it can sit alongside the persistent exporters.
type Store struct {
	mu      sync.RWMutex
	records []export.Record
	next    int
	full    bool
	total   int64
}

// NewStore creates a store holding up to size records.
func NewStore(size int) *Store {
	if size < 1 {
		size = DefaultStoreSize
	}
	return &Store{records: make([]export.Record, size)}
}

// Add appends r, evicting the oldest record when full.
func (s *Store) Add(r export.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[s.next] = r
	s.next = (s.next + 1) % len(s.records)
	if s.next == 0 {
		s.full = true
	}
	s.total++
}

// Recent returns up to limit records, newest first. A limit below one
// returns everything held.
func (s *Store) Recent(limit int) []export.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := s.next
	if s.full {
		n = len(s.records)
	}
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]export.Record, 0, n)
	for i := range n {
		idx := (s.next - 1 - i + len(s.records)) % len(s.records)
		out = append(out, s.records[idx])
	}
	return out
}

// Total returns the number of records ever added.
func (s *Store) Total() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total
}

func (s *Store) Write(ctx context.Context, records <-chan export.Record) error {
	for r := range records {
		s.Add(r)
	}
	return nil
}
