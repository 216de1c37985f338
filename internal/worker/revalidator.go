package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	shell "github.com/eugener/shellcache/internal"
	"github.com/eugener/shellcache/internal/telemetry"
)

const refreshDrainTime = 30 * time.Second

// RefreshFunc performs one background revalidation.
type RefreshFunc func(ctx context.Context, job shell.RefreshJob) error

// Revalidator consumes the background refresh queue produced by cache-first
// hits. The queue decouples refreshes from the response already sent to the
// page; the shutdown drain is what keeps the process alive until pending
// refreshes complete.
type Revalidator struct {
	ch      chan shell.RefreshJob
	fn      RefreshFunc
	workers int
	metrics *telemetry.Metrics // nil = no metrics

	mu       sync.Mutex
	inflight map[string]bool
}

// NewRevalidator creates a Revalidator with the given queue size and
// concurrency.
func NewRevalidator(queueSize, workers int, fn RefreshFunc, m *telemetry.Metrics) *Revalidator {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if workers <= 0 {
		workers = 4
	}
	return &Revalidator{
		ch:       make(chan shell.RefreshJob, queueSize),
		fn:       fn,
		workers:  workers,
		metrics:  m,
		inflight: make(map[string]bool),
	}
}

// Schedule enqueues a refresh job. It never blocks: a job already queued
// for the same key is coalesced, and a full queue drops the job -- the next
// request for that key is the implicit retry.
func (r *Revalidator) Schedule(job shell.RefreshJob) bool {
	key := job.Generation + "\x00" + job.Key
	r.mu.Lock()
	if r.inflight[key] {
		r.mu.Unlock()
		return true
	}
	select {
	case r.ch <- job:
		r.inflight[key] = true
		r.mu.Unlock()
		r.gauge()
		return true
	default:
		r.mu.Unlock()
		slog.Warn("refresh dropped, queue full", "key", job.Key)
		return false
	}
}

// Run processes jobs until ctx is cancelled, then drains the queue.
func (r *Revalidator) Run(ctx context.Context) error {
	g := new(errgroup.Group)
	for range r.workers {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case job := <-r.ch:
					r.process(ctx, job)
				}
			}
		})
	}
	g.Wait()

	r.drain()
	return nil
}

// drain finishes queued jobs with a bounded grace period so in-flight
// refreshes complete before shutdown.
func (r *Revalidator) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), refreshDrainTime)
	defer cancel()

	for {
		select {
		case job := <-r.ch:
			r.process(ctx, job)
		default:
			return
		}
	}
}

func (r *Revalidator) process(ctx context.Context, job shell.RefreshJob) {
	defer func() {
		key := job.Generation + "\x00" + job.Key
		r.mu.Lock()
		delete(r.inflight, key)
		r.mu.Unlock()
		r.gauge()
	}()

	if err := r.fn(ctx, job); err != nil {
		// Silent towards the page: the stale entry was already served.
		if r.metrics != nil {
			r.metrics.Revalidations.WithLabelValues("failure").Inc()
		}
		slog.LogAttrs(ctx, slog.LevelWarn, "background refresh failed",
			slog.String("key", job.Key),
			slog.String("class", job.Class.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	if r.metrics != nil {
		r.metrics.Revalidations.WithLabelValues("success").Inc()
	}
}

func (r *Revalidator) gauge() {
	if r.metrics != nil {
		r.metrics.RefreshQueueLength.Set(float64(len(r.ch)))
	}
}
