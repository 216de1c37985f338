// Package storage defines persistence interfaces for the gateway.
package storage

import (
	"context"
	"time"

	shell "github.com/eugener/shellcache/internal"
)

// EntryStore manages cached response persistence.
type EntryStore interface {
	GetEntry(ctx context.Context, generation, key string) (*shell.Entry, error)
	PutEntry(ctx context.Context, generation string, e *shell.Entry) error
	DeleteEntry(ctx context.Context, generation, key string) error
	CountEntries(ctx context.Context, generation string) (int, error)
}

// GenerationStore manages cache generation lifecycle persistence.
type GenerationStore interface {
	// CreateGeneration inserts a new, not-yet-installed generation.
	// Returns shell.ErrConflict if the version already exists.
	CreateGeneration(ctx context.Context, version string) error
	// MarkInstalled flags a generation as fully precached.
	MarkInstalled(ctx context.Context, version string) error
	// DeleteGeneration removes a generation and all its entries.
	DeleteGeneration(ctx context.Context, version string) error
	// DeleteGenerationsExcept removes every generation other than version,
	// returning the number removed.
	DeleteGenerationsExcept(ctx context.Context, version string) (int, error)
	ListGenerations(ctx context.Context) ([]shell.Generation, error)
	// CurrentGeneration returns the persisted current version, "" when none.
	CurrentGeneration(ctx context.Context) (string, error)
	// SetCurrentGeneration swaps the persisted current pointer. An empty
	// version clears it (pass-through mode).
	SetCurrentGeneration(ctx context.Context, version string) error
}

// FetchLogStore manages the served-request log.
type FetchLogStore interface {
	InsertFetchRecords(ctx context.Context, records []shell.FetchRecord) error
	FetchStats(ctx context.Context) (*shell.FetchStats, error)
	// PruneFetchLog deletes records older than cutoff, returning the count.
	PruneFetchLog(ctx context.Context, cutoff time.Time) (int64, error)
}

// Store combines all storage interfaces.
type Store interface {
	EntryStore
	GenerationStore
	FetchLogStore
	Close() error
}
