// Package testutil provides in-memory fakes for tests.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	shell "github.com/eugener/shellcache/internal"
)

// FakeStore is an in-memory implementation of storage.Store for testing.
type FakeStore struct {
	mu          sync.RWMutex
	generations map[string]*shell.Generation
	entries     map[string]*shell.Entry
	current     string
	records     []shell.FetchRecord

	// FailPuts makes PutEntry fail, for exercising write-error paths.
	FailPuts bool
}

// NewFakeStore returns a FakeStore with empty collections.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		generations: make(map[string]*shell.Generation),
		entries:     make(map[string]*shell.Entry),
	}
}

func entryKey(generation, key string) string {
	return generation + "|" + key
}

// --- EntryStore ---

// GetEntry retrieves an entry.
func (s *FakeStore) GetEntry(_ context.Context, generation, key string) (*shell.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[entryKey(generation, key)]
	if !ok {
		return nil, shell.ErrNotFound
	}
	return e.Clone(), nil
}

// PutEntry stores an entry.
func (s *FakeStore) PutEntry(_ context.Context, generation string, e *shell.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailPuts {
		return fmt.Errorf("fake store: put disabled")
	}
	if _, ok := s.generations[generation]; !ok {
		return fmt.Errorf("fake store: unknown generation %q", generation)
	}
	s.entries[entryKey(generation, e.URL)] = e.Clone()
	return nil
}

// DeleteEntry removes an entry.
func (s *FakeStore) DeleteEntry(_ context.Context, generation, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, entryKey(generation, key))
	return nil
}

// CountEntries returns the number of entries in a generation.
func (s *FakeStore) CountEntries(_ context.Context, generation string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	prefix := generation + "|"
	for k := range s.entries {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			n++
		}
	}
	return n, nil
}

// --- GenerationStore ---

// CreateGeneration inserts a generation.
func (s *FakeStore) CreateGeneration(_ context.Context, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.generations[version]; ok {
		return shell.ErrConflict
	}
	s.generations[version] = &shell.Generation{Version: version, CreatedAt: time.Now()}
	return nil
}

// MarkInstalled flags a generation installed.
func (s *FakeStore) MarkInstalled(_ context.Context, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.generations[version]
	if !ok {
		return shell.ErrNotFound
	}
	g.Installed = true
	return nil
}

// DeleteGeneration removes a generation and its entries.
func (s *FakeStore) DeleteGeneration(_ context.Context, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(version)
	return nil
}

// DeleteGenerationsExcept removes all generations but version.
func (s *FakeStore) DeleteGenerationsExcept(_ context.Context, version string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for v := range s.generations {
		if v != version {
			s.deleteLocked(v)
			n++
		}
	}
	return n, nil
}

func (s *FakeStore) deleteLocked(version string) {
	delete(s.generations, version)
	prefix := version + "|"
	for k := range s.entries {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(s.entries, k)
		}
	}
}

// ListGenerations returns all generations.
func (s *FakeStore) ListGenerations(context.Context) ([]shell.Generation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]shell.Generation, 0, len(s.generations))
	for _, g := range s.generations {
		out = append(out, *g)
	}
	return out, nil
}

// CurrentGeneration returns the persisted current pointer.
func (s *FakeStore) CurrentGeneration(context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, nil
}

// SetCurrentGeneration swaps the persisted current pointer.
func (s *FakeStore) SetCurrentGeneration(_ context.Context, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = version
	return nil
}

// --- FetchLogStore ---

// InsertFetchRecords appends records.
func (s *FakeStore) InsertFetchRecords(_ context.Context, records []shell.FetchRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, records...)
	return nil
}

// FetchStats aggregates the stored records.
func (s *FakeStore) FetchStats(context.Context) (*shell.FetchStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := &shell.FetchStats{Class: make(map[string]int64)}
	for _, r := range s.records {
		stats.Total++
		stats.Class[r.Class]++
		switch r.CacheStatus {
		case shell.CacheHit:
			stats.Hits++
		case shell.CacheMiss:
			stats.Misses++
		case shell.CacheBypass:
			stats.Bypass++
		}
	}
	return stats, nil
}

// PruneFetchLog deletes records older than cutoff.
func (s *FakeStore) PruneFetchLog(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []shell.FetchRecord
	var pruned int64
	for _, r := range s.records {
		if r.CreatedAt.Before(cutoff) {
			pruned++
			continue
		}
		kept = append(kept, r)
	}
	s.records = kept
	return pruned, nil
}

// Records returns a copy of the stored fetch records.
func (s *FakeStore) Records() []shell.FetchRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]shell.FetchRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Ping reports readiness; always healthy.
func (s *FakeStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *FakeStore) Close() error { return nil }
