// Package cache provides the generation-scoped entry store for the gateway.
package cache

import (
	"context"

	shell "github.com/eugener/shellcache/internal"
)

// EntryStore is the persistent layer behind the memory cache. Keys are
// canonical cache keys (root-relative path or absolute URL), scoped by
// generation version. Implemented by storage/sqlite.
type EntryStore interface {
	// GetEntry retrieves an entry, returning shell.ErrNotFound on miss.
	GetEntry(ctx context.Context, generation, key string) (*shell.Entry, error)
	// PutEntry writes an entry under e.URL, overwriting any previous value.
	PutEntry(ctx context.Context, generation string, e *shell.Entry) error
	// DeleteEntry removes an entry. Missing entries are not an error.
	DeleteEntry(ctx context.Context, generation, key string) error
}
