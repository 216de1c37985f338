package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	shell "github.com/eugener/shellcache/internal"
)

const (
	fetchLogChanSize   = 1000
	fetchLogBatchSize  = 100
	fetchLogFlushEvery = 5 * time.Second
	fetchLogDrainTime  = 30 * time.Second
)

// FetchLogStore is the persistence interface consumed by FetchLogRecorder.
type FetchLogStore interface {
	InsertFetchRecords(ctx context.Context, records []shell.FetchRecord) error
}

// FetchLogRecorder buffers served-request records and batch-flushes them to
// the store. Records are dropped if the channel is full (back-pressure on
// slow DB).
type FetchLogRecorder struct {
	ch    chan shell.FetchRecord
	store FetchLogStore
}

// NewFetchLogRecorder creates a FetchLogRecorder backed by store.
func NewFetchLogRecorder(store FetchLogStore) *FetchLogRecorder {
	return &FetchLogRecorder{
		ch:    make(chan shell.FetchRecord, fetchLogChanSize),
		store: store,
	}
}

// Record enqueues a fetch record. It never blocks; drops on full channel.
func (f *FetchLogRecorder) Record(r shell.FetchRecord) {
	select {
	case f.ch <- r:
	default:
		slog.Warn("fetch record dropped, channel full")
	}
}

// Run processes records until ctx is cancelled, then drains remaining records.
func (f *FetchLogRecorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(fetchLogFlushEvery)
	defer ticker.Stop()

	buf := make([]shell.FetchRecord, 0, fetchLogBatchSize)

	for {
		select {
		case r := <-f.ch:
			buf = append(buf, r)
			if len(buf) >= fetchLogBatchSize {
				f.flush(ctx, buf)
				buf = buf[:0]
			}

		case <-ticker.C:
			if len(buf) > 0 {
				f.flush(ctx, buf)
				buf = buf[:0]
			}

		case <-ctx.Done():
			// Drain remaining records with a timeout.
			f.drain(buf)
			return nil
		}
	}
}

func (f *FetchLogRecorder) drain(buf []shell.FetchRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), fetchLogDrainTime)
	defer cancel()

	for {
		select {
		case r := <-f.ch:
			buf = append(buf, r)
			if len(buf) >= fetchLogBatchSize {
				f.flush(ctx, buf)
				buf = buf[:0]
			}
		default:
			// Channel empty, flush remaining.
			if len(buf) > 0 {
				f.flush(ctx, buf)
			}
			return
		}
	}
}

func (f *FetchLogRecorder) flush(ctx context.Context, buf []shell.FetchRecord) {
	// Copy to avoid aliasing the caller's slice.
	batch := make([]shell.FetchRecord, len(buf))
	copy(batch, buf)

	// Assign IDs off the hot path; callers leave ID empty.
	for i := range batch {
		if batch[i].ID == "" {
			batch[i].ID = uuid.Must(uuid.NewV7()).String()
		}
	}

	if err := f.store.InsertFetchRecords(ctx, batch); err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "fetch log flush failed",
			slog.Int("count", len(batch)),
			slog.String("error", err.Error()),
		)
	}
}
