// Package controller implements the offline cache lifecycle: installing a
// new cache generation, activating it, and serving GET traffic cache-first
// with background revalidation.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	shell "github.com/eugener/shellcache/internal"
	"github.com/eugener/shellcache/internal/cache"
	"github.com/eugener/shellcache/internal/manifest"
	"github.com/eugener/shellcache/internal/origin"
	"github.com/eugener/shellcache/internal/storage"
	"github.com/eugener/shellcache/internal/telemetry"
)

// Scheduler enqueues background refresh jobs. Implemented by the
// revalidator worker; a false return means the queue was full and the
// refresh is dropped (the next request is the implicit retry).
type Scheduler interface {
	Schedule(job shell.RefreshJob) bool
}

// Controller owns the cache generation lifecycle and the serve-path cache
// decisions. One instance per process; all state transitions go through it.
type Controller struct {
	entries *cache.Tiered
	store   storage.Store
	origin  *origin.Client
	man     *manifest.Manifest
	metrics *telemetry.Metrics // nil = no metrics

	installing atomic.Bool // one install at a time

	mu        sync.RWMutex
	state     shell.State
	current   string // active generation version, "" = pass-through
	scheduler Scheduler
}

// New creates a Controller. The refresh scheduler is wired afterwards via
// SetScheduler because the revalidator worker needs the controller's
// Refresh method first.
func New(entries *cache.Tiered, store storage.Store, client *origin.Client, man *manifest.Manifest, m *telemetry.Metrics) *Controller {
	return &Controller{
		entries: entries,
		store:   store,
		origin:  client,
		man:     man,
		metrics: m,
		state:   shell.StateStarting,
	}
}

// SetScheduler wires the background refresh queue.
func (c *Controller) SetScheduler(s Scheduler) {
	c.mu.Lock()
	c.scheduler = s
	c.mu.Unlock()
}

// State returns the controller lifecycle state.
func (c *Controller) State() shell.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// CurrentVersion returns the active generation version, "" when none.
func (c *Controller) CurrentVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Ready reports whether the controller is serving traffic.
func (c *Controller) Ready() bool {
	return c.State() == shell.StateActive
}

// Startup brings the controller to the active state for the configured
// generation version. If the version is already current, it resumes with
// the persisted snapshot. Otherwise it installs and activates; an install
// failure is not fatal -- the previously active generation (if any) stays
// in control, per the deploy-safety contract.
func (c *Controller) Startup(ctx context.Context, version string) error {
	prior, err := c.store.CurrentGeneration(ctx)
	if err != nil {
		return fmt.Errorf("read current generation: %w", err)
	}

	if prior == version {
		c.setActive(version)
		slog.Info("resuming cache generation", "version", version)
		return nil
	}

	if err := c.InstallAndActivate(ctx, version); err != nil {
		if prior != "" {
			slog.Error("install failed, previous generation remains in control",
				"version", version, "previous", prior, "error", err)
			c.setActive(prior)
			return nil
		}
		slog.Error("install failed with no previous generation, serving pass-through",
			"version", version, "error", err)
		c.setActive("")
		return nil
	}
	return nil
}

// InstallAndActivate installs the given generation and, on success,
// activates it immediately (no waiting for in-flight clients). Returns
// shell.ErrConflict when an install is already running or the version is
// already active.
func (c *Controller) InstallAndActivate(ctx context.Context, version string) error {
	if version == "" {
		return fmt.Errorf("%w: empty generation version", shell.ErrBadRequest)
	}
	if version == c.CurrentVersion() {
		return fmt.Errorf("%w: generation %q is already active", shell.ErrConflict, version)
	}
	if !c.installing.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: install already in progress", shell.ErrConflict)
	}
	defer c.installing.Store(false)

	if err := c.install(ctx, version); err != nil {
		if c.metrics != nil {
			c.metrics.Installs.WithLabelValues("failure").Inc()
		}
		return err
	}
	if c.metrics != nil {
		c.metrics.Installs.WithLabelValues("success").Inc()
	}
	return c.activate(ctx, version)
}

// install precaches the shell manifest into a fresh generation. The shell
// pass is all-or-nothing: any same-origin failure removes the partial
// generation and fails the install. The cross-origin pass is best-effort.
func (c *Controller) install(ctx context.Context, version string) error {
	c.transition(shell.StateStarting, shell.StateInstalling)
	slog.Info("installing cache generation", "version", version,
		"shell_assets", len(c.man.Shell), "external_assets", len(c.man.External))

	// A previous failed install may have left a partial generation behind.
	if err := c.store.DeleteGeneration(ctx, version); err != nil {
		return fmt.Errorf("clear partial generation: %w", err)
	}
	if err := c.store.CreateGeneration(ctx, version); err != nil {
		return fmt.Errorf("create generation: %w", err)
	}

	shellPaths := c.man.Shell
	if c.man.AppManifest != "" {
		icons, err := c.installAppManifest(ctx, version)
		if err != nil {
			c.abortInstall(ctx, version)
			return err
		}
		shellPaths = manifest.MergeShell(shellPaths, icons)
	}

	for _, p := range shellPaths {
		e, err := c.origin.FetchPath(ctx, p, origin.OmitCredentials, nil)
		if err == nil && !e.Cacheable() {
			err = fmt.Errorf("status %d", e.Status)
		}
		if err != nil {
			if c.metrics != nil {
				c.metrics.PrecacheFailures.WithLabelValues(shell.ClassSameOrigin.String()).Inc()
			}
			c.abortInstall(ctx, version)
			return fmt.Errorf("%w: shell asset %s: %v", shell.ErrInstallFailed, p, err)
		}
		if err := c.entries.Put(ctx, version, e); err != nil {
			c.abortInstall(ctx, version)
			return fmt.Errorf("%w: store %s: %v", shell.ErrInstallFailed, p, err)
		}
	}

	for _, u := range c.man.External {
		e, err := c.origin.FetchURL(ctx, u)
		if err == nil && !e.Cacheable() {
			err = fmt.Errorf("status %d", e.Status)
		}
		if err != nil {
			// Skipped, never fatal: the asset stays absent until first
			// successfully fetched at runtime.
			if c.metrics != nil {
				c.metrics.PrecacheFailures.WithLabelValues(shell.ClassCrossOrigin.String()).Inc()
			}
			slog.Warn("cross-origin precache skipped", "url", u, "error", err)
			continue
		}
		if err := c.entries.Put(ctx, version, e); err != nil {
			c.abortInstall(ctx, version)
			return fmt.Errorf("%w: store %s: %v", shell.ErrInstallFailed, u, err)
		}
	}

	if err := c.store.MarkInstalled(ctx, version); err != nil {
		c.abortInstall(ctx, version)
		return fmt.Errorf("mark installed: %w", err)
	}
	return nil
}

// installAppManifest fetches the web app manifest, caches it, and returns
// the icon paths it references. The manifest itself is a required shell
// asset.
func (c *Controller) installAppManifest(ctx context.Context, version string) ([]string, error) {
	e, err := c.origin.FetchPath(ctx, c.man.AppManifest, origin.OmitCredentials, nil)
	if err == nil && !e.Cacheable() {
		err = fmt.Errorf("status %d", e.Status)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: app manifest %s: %v", shell.ErrInstallFailed, c.man.AppManifest, err)
	}
	if err := c.entries.Put(ctx, version, e); err != nil {
		return nil, fmt.Errorf("%w: store %s: %v", shell.ErrInstallFailed, c.man.AppManifest, err)
	}
	return manifest.IconPaths(e.Body), nil
}

// abortInstall removes a partially written generation. Best-effort: a
// leftover row is cleaned up by the next install of the same version or by
// the sweeper.
func (c *Controller) abortInstall(ctx context.Context, version string) {
	c.transition(shell.StateInstalling, shell.StateStarting)
	if err := c.store.DeleteGeneration(ctx, version); err != nil {
		slog.Warn("failed to remove partial generation", "version", version, "error", err)
	}
}

// activate deletes every other generation, swaps the persisted and
// in-memory current pointers, and starts serving from the new snapshot.
func (c *Controller) activate(ctx context.Context, version string) error {
	c.transition(shell.StateInstalling, shell.StateActivating)

	pruned, err := c.store.DeleteGenerationsExcept(ctx, version)
	if err != nil {
		return fmt.Errorf("prune generations: %w", err)
	}
	if err := c.store.SetCurrentGeneration(ctx, version); err != nil {
		return fmt.Errorf("set current generation: %w", err)
	}
	if c.metrics != nil && pruned > 0 {
		c.metrics.GenerationsPruned.Add(float64(pruned))
	}

	c.setActive(version)
	slog.Info("cache generation activated", "version", version, "pruned", pruned)
	return nil
}

// setActive swaps the serving generation. The memory layer is dropped so
// nothing cached under a superseded generation survives the swap.
func (c *Controller) setActive(version string) {
	c.mu.Lock()
	c.current = version
	c.state = shell.StateActive
	c.mu.Unlock()
	c.entries.DropMemory()
}

// transition moves state from one phase to the next, but only during the
// cold-start install. Runtime installs run behind an already-active
// controller, which keeps serving the previous generation throughout.
func (c *Controller) transition(from, to shell.State) {
	c.mu.Lock()
	if c.state == from {
		c.state = to
	}
	c.mu.Unlock()
}

// --- Serve path ---

// Lookup returns the cached entry for the canonical key in the current
// generation. ok is false in pass-through mode or on a plain miss; err is
// non-nil only for store failures.
func (c *Controller) Lookup(ctx context.Context, key string) (*shell.Entry, bool, error) {
	gen := c.CurrentVersion()
	if gen == "" {
		return nil, false, nil
	}
	return c.entries.Get(ctx, gen, key)
}

// StoreEntry writes a runtime-fetched entry into the current generation.
// No-ops in pass-through mode and for non-cacheable responses.
func (c *Controller) StoreEntry(ctx context.Context, e *shell.Entry) error {
	gen := c.CurrentVersion()
	if gen == "" || !e.Cacheable() {
		return nil
	}
	return c.entries.Put(ctx, gen, e)
}

// ScheduleRefresh queues a background refetch after a cache-first hit.
// Fire-and-forget: a full queue drops the job and the next request retries.
func (c *Controller) ScheduleRefresh(key string, class shell.RequestClass) {
	c.mu.RLock()
	gen, s := c.current, c.scheduler
	c.mu.RUnlock()
	if gen == "" || s == nil {
		return
	}
	s.Schedule(shell.RefreshJob{Generation: gen, Key: key, Class: class})
}

// Refresh performs one background revalidation. A fetch failure leaves the
// stale entry in place and is reported to the worker for logging only; a
// non-2xx response is not an error and is simply not stored.
func (c *Controller) Refresh(ctx context.Context, job shell.RefreshJob) error {
	// Jobs queued before an activation refer to a deleted generation.
	if job.Generation != c.CurrentVersion() {
		return nil
	}

	var e *shell.Entry
	var err error
	if job.Class == shell.ClassCrossOrigin {
		e, err = c.origin.FetchURL(ctx, job.Key)
	} else {
		e, err = c.origin.FetchPath(ctx, job.Key, origin.OmitCredentials, nil)
	}
	if err != nil {
		return err
	}
	if !e.Cacheable() {
		return nil
	}

	// Re-check after the fetch: an activation may have raced us.
	if job.Generation != c.CurrentVersion() {
		return nil
	}
	return c.entries.Put(ctx, job.Generation, e)
}

// --- Admin operations ---

// Purge deletes every generation and drops to pass-through mode. Recovery
// hammer for a poisoned cache; the next install repopulates.
func (c *Controller) Purge(ctx context.Context) error {
	if _, err := c.store.DeleteGenerationsExcept(ctx, ""); err != nil {
		return err
	}
	if err := c.store.SetCurrentGeneration(ctx, ""); err != nil {
		return err
	}
	c.setActive("")
	slog.Info("cache purged, serving pass-through")
	return nil
}

// Generations lists stored generations with their entry counts.
func (c *Controller) Generations(ctx context.Context) ([]GenerationInfo, error) {
	gens, err := c.store.ListGenerations(ctx)
	if err != nil {
		return nil, err
	}
	current := c.CurrentVersion()
	out := make([]GenerationInfo, 0, len(gens))
	for _, g := range gens {
		n, err := c.store.CountEntries(ctx, g.Version)
		if err != nil {
			return nil, err
		}
		out = append(out, GenerationInfo{
			Generation: g,
			Entries:    n,
			Current:    g.Version == current,
		})
	}
	return out, nil
}

// GenerationInfo is a generation plus serving status, for the admin API.
type GenerationInfo struct {
	shell.Generation
	Entries int  `json:"entries"`
	Current bool `json:"current"`
}
