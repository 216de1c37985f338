package cache

import (
	"context"
	"errors"
	"fmt"

	shell "github.com/eugener/shellcache/internal"
)

// Tiered is a read-through cache: otter memory layer in front, persistent
// store behind. Writes go to the store first so a crash never leaves the
// memory layer ahead of the durable state.
type Tiered struct {
	mem   *Memory
	store EntryStore
}

// NewTiered wires the memory layer to the persistent store.
func NewTiered(mem *Memory, store EntryStore) *Tiered {
	return &Tiered{mem: mem, store: store}
}

// Get returns the cached entry for key in the given generation. A store
// read failure is reported, not folded into a miss, so callers can decide
// whether to fall through to the network.
func (t *Tiered) Get(ctx context.Context, generation, key string) (*shell.Entry, bool, error) {
	if e, ok := t.mem.Get(generation, key); ok {
		return e, true, nil
	}
	e, err := t.store.GetEntry(ctx, generation, key)
	if err != nil {
		if errors.Is(err, shell.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("cache read: %w", err)
	}
	t.mem.Set(generation, e)
	return e, true, nil
}

// Put writes the entry to the store and then the memory layer.
func (t *Tiered) Put(ctx context.Context, generation string, e *shell.Entry) error {
	if err := t.store.PutEntry(ctx, generation, e); err != nil {
		return fmt.Errorf("cache write: %w", err)
	}
	t.mem.Set(generation, e)
	return nil
}

// Delete removes the entry from both layers.
func (t *Tiered) Delete(ctx context.Context, generation, key string) error {
	if err := t.store.DeleteEntry(ctx, generation, key); err != nil {
		return err
	}
	t.mem.Delete(generation, key)
	return nil
}

// DropMemory empties the memory layer. Called when the current generation
// changes so no entry from a superseded generation can be served.
func (t *Tiered) DropMemory() {
	t.mem.Purge()
}
