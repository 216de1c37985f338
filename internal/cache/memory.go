package cache

import (
	"fmt"

	"github.com/maypok86/otter/v2"

	shell "github.com/eugener/shellcache/internal"
)

// Memory is an in-memory W-TinyLFU entry cache backed by otter. It fronts
// the persistent store so hot shell assets are served without touching
// SQLite. Entries never expire by time: the cache store is a snapshot, not
// a TTL cache, and freshness comes from background revalidation.
type Memory struct {
	cache *otter.Cache[string, *shell.Entry]
}

// NewMemory creates an in-memory cache holding at most maxEntries entries.
func NewMemory(maxEntries int) (*Memory, error) {
	c, err := otter.New[string, *shell.Entry](&otter.Options[string, *shell.Entry]{
		MaximumSize: maxEntries,
	})
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	return &Memory{cache: c}, nil
}

// memKey scopes a cache key by generation. NUL cannot appear in either part.
func memKey(generation, key string) string {
	return generation + "\x00" + key
}

// Get retrieves an entry if present.
func (m *Memory) Get(generation, key string) (*shell.Entry, bool) {
	return m.cache.GetIfPresent(memKey(generation, key))
}

// Set stores an entry.
func (m *Memory) Set(generation string, e *shell.Entry) {
	m.cache.Set(memKey(generation, e.URL), e)
}

// Delete removes an entry.
func (m *Memory) Delete(generation, key string) {
	m.cache.Invalidate(memKey(generation, key))
}

// Purge removes all entries. Called on generation changes; otter has no
// prefix invalidation and generation swaps are rare enough that dropping
// the whole memory layer is the simpler correct move.
func (m *Memory) Purge() {
	m.cache.InvalidateAll()
}
