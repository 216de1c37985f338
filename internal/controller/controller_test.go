package controller

import (
	"context"
	"errors"
	"testing"
	"time"

	shell "github.com/eugener/shellcache/internal"
	"github.com/eugener/shellcache/internal/cache"
	"github.com/eugener/shellcache/internal/manifest"
	"github.com/eugener/shellcache/internal/origin"
	"github.com/eugener/shellcache/internal/testutil"
)

func newTestController(t *testing.T, o *testutil.FakeOrigin, store *testutil.FakeStore, man *manifest.Manifest) *Controller {
	t.Helper()
	mem, err := cache.NewMemory(100)
	if err != nil {
		t.Fatal(err)
	}
	client := origin.New(o.URL, 5*time.Second, 1<<20, nil)
	return New(cache.NewTiered(mem, store), store, client, man, nil)
}

func TestInstallAndActivate(t *testing.T) {
	t.Parallel()
	o := testutil.NewFakeOrigin()
	defer o.Close()
	o.Set("/", "<html>")
	o.Set("/app.js", "js-v1")

	store := testutil.NewFakeStore()
	c := newTestController(t, o, store, &manifest.Manifest{Shell: []string{"/", "/app.js"}})
	ctx := context.Background()

	if err := c.InstallAndActivate(ctx, "v1"); err != nil {
		t.Fatal(err)
	}
	if c.State() != shell.StateActive || c.CurrentVersion() != "v1" {
		t.Fatalf("state = %v, current = %q", c.State(), c.CurrentVersion())
	}

	e, ok, err := c.Lookup(ctx, "/app.js")
	if err != nil || !ok {
		t.Fatalf("lookup = (%v, %v)", ok, err)
	}
	if string(e.Body) != "js-v1" {
		t.Errorf("body = %q", e.Body)
	}

	cur, _ := store.CurrentGeneration(ctx)
	if cur != "v1" {
		t.Errorf("persisted current = %q", cur)
	}
}

func TestInstall_ShellFailureIsFatal(t *testing.T) {
	t.Parallel()
	o := testutil.NewFakeOrigin()
	defer o.Close()
	o.Set("/app.js", "ok")
	// /missing.js is not set: the origin returns 404 for it.

	store := testutil.NewFakeStore()
	c := newTestController(t, o, store, &manifest.Manifest{Shell: []string{"/app.js", "/missing.js"}})

	err := c.InstallAndActivate(context.Background(), "v1")
	if !errors.Is(err, shell.ErrInstallFailed) {
		t.Fatalf("err = %v, want ErrInstallFailed", err)
	}
	gens, _ := store.ListGenerations(context.Background())
	if len(gens) != 0 {
		t.Errorf("failed install left generations behind: %+v", gens)
	}
	if c.CurrentVersion() != "" {
		t.Errorf("failed install must not activate, current = %q", c.CurrentVersion())
	}
}

func TestStartup_FailedDeployKeepsPriorGeneration(t *testing.T) {
	t.Parallel()
	o := testutil.NewFakeOrigin()
	defer o.Close()
	o.Set("/app.js", "v1-body")

	store := testutil.NewFakeStore()
	man := &manifest.Manifest{Shell: []string{"/app.js"}}
	c := newTestController(t, o, store, man)
	ctx := context.Background()

	if err := c.Startup(ctx, "v1"); err != nil {
		t.Fatal(err)
	}

	// Deploy v2 with a broken origin: the required asset now 404s.
	o.Remove("/app.js")
	c2 := newTestController(t, o, store, man)
	if err := c2.Startup(ctx, "v2"); err != nil {
		t.Fatal(err)
	}
	if c2.CurrentVersion() != "v1" {
		t.Fatalf("current = %q, want prior generation v1", c2.CurrentVersion())
	}

	// Pages are still served from the prior generation.
	e, ok, err := c2.Lookup(ctx, "/app.js")
	if err != nil || !ok {
		t.Fatalf("lookup = (%v, %v)", ok, err)
	}
	if string(e.Body) != "v1-body" {
		t.Errorf("body = %q", e.Body)
	}
}

func TestStartup_NoPriorGenerationFallsBackToPassThrough(t *testing.T) {
	t.Parallel()
	o := testutil.NewFakeOrigin()
	defer o.Close()

	store := testutil.NewFakeStore()
	c := newTestController(t, o, store, &manifest.Manifest{Shell: []string{"/absent"}})
	if err := c.Startup(context.Background(), "v1"); err != nil {
		t.Fatal(err)
	}
	if c.State() != shell.StateActive || c.CurrentVersion() != "" {
		t.Errorf("state = %v, current = %q, want active pass-through", c.State(), c.CurrentVersion())
	}
	if _, ok, _ := c.Lookup(context.Background(), "/absent"); ok {
		t.Error("pass-through mode must not report hits")
	}
}

func TestStartup_ResumesMatchingGeneration(t *testing.T) {
	t.Parallel()
	o := testutil.NewFakeOrigin()
	defer o.Close()
	o.Set("/app.js", "body")

	store := testutil.NewFakeStore()
	man := &manifest.Manifest{Shell: []string{"/app.js"}}
	c := newTestController(t, o, store, man)
	ctx := context.Background()
	if err := c.Startup(ctx, "v1"); err != nil {
		t.Fatal(err)
	}
	installs := o.Hits("/app.js")

	c2 := newTestController(t, o, store, man)
	if err := c2.Startup(ctx, "v1"); err != nil {
		t.Fatal(err)
	}
	if o.Hits("/app.js") != installs {
		t.Error("resume must not refetch the shell")
	}
	if c2.CurrentVersion() != "v1" {
		t.Errorf("current = %q", c2.CurrentVersion())
	}
}

func TestInstall_CrossOriginFailureTolerated(t *testing.T) {
	t.Parallel()
	o := testutil.NewFakeOrigin()
	defer o.Close()
	o.Set("/app.js", "ok")

	store := testutil.NewFakeStore()
	man := &manifest.Manifest{
		Shell: []string{"/app.js"},
		// Nothing listens on port 1: a network error, not a 404.
		External: []string{"https://127.0.0.1:1/lib.js"},
	}
	c := newTestController(t, o, store, man)
	ctx := context.Background()

	if err := c.InstallAndActivate(ctx, "v1"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := c.Lookup(ctx, "https://127.0.0.1:1/lib.js"); ok {
		t.Error("failed cross-origin asset must be absent from the cache")
	}
	if _, ok, _ := c.Lookup(ctx, "/app.js"); !ok {
		t.Error("shell asset should be cached")
	}
}

func TestInstall_AppManifestIconsJoinShell(t *testing.T) {
	t.Parallel()
	o := testutil.NewFakeOrigin()
	defer o.Close()
	o.Set("/manifest.webmanifest", `{"icons":[{"src":"/icons/192.png"}]}`)
	o.Set("/icons/192.png", "png")
	o.Set("/", "<html>")

	store := testutil.NewFakeStore()
	man := &manifest.Manifest{Shell: []string{"/"}, AppManifest: "/manifest.webmanifest"}
	c := newTestController(t, o, store, man)
	ctx := context.Background()

	if err := c.InstallAndActivate(ctx, "v1"); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"/manifest.webmanifest", "/icons/192.png", "/"} {
		if _, ok, _ := c.Lookup(ctx, key); !ok {
			t.Errorf("%s should be precached", key)
		}
	}
}

func TestActivate_PrunesOtherGenerations(t *testing.T) {
	t.Parallel()
	o := testutil.NewFakeOrigin()
	defer o.Close()
	o.Set("/app.js", "body")

	store := testutil.NewFakeStore()
	man := &manifest.Manifest{Shell: []string{"/app.js"}}
	c := newTestController(t, o, store, man)
	ctx := context.Background()

	if err := c.InstallAndActivate(ctx, "v1"); err != nil {
		t.Fatal(err)
	}
	if err := c.InstallAndActivate(ctx, "v2"); err != nil {
		t.Fatal(err)
	}

	gens, err := store.ListGenerations(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(gens) != 1 || gens[0].Version != "v2" {
		t.Errorf("generations after activation = %+v, want only v2", gens)
	}
}

func TestInstallAndActivate_Conflicts(t *testing.T) {
	t.Parallel()
	o := testutil.NewFakeOrigin()
	defer o.Close()
	o.Set("/app.js", "body")

	store := testutil.NewFakeStore()
	c := newTestController(t, o, store, &manifest.Manifest{Shell: []string{"/app.js"}})
	ctx := context.Background()

	if err := c.InstallAndActivate(ctx, "v1"); err != nil {
		t.Fatal(err)
	}
	if err := c.InstallAndActivate(ctx, "v1"); !errors.Is(err, shell.ErrConflict) {
		t.Errorf("reinstalling the active version: err = %v, want ErrConflict", err)
	}
	if err := c.InstallAndActivate(ctx, ""); !errors.Is(err, shell.ErrBadRequest) {
		t.Errorf("empty version: err = %v, want ErrBadRequest", err)
	}
}

func TestRefresh_UpdatesEntry(t *testing.T) {
	t.Parallel()
	o := testutil.NewFakeOrigin()
	defer o.Close()
	o.Set("/app.js", "old")

	store := testutil.NewFakeStore()
	c := newTestController(t, o, store, &manifest.Manifest{Shell: []string{"/app.js"}})
	ctx := context.Background()

	if err := c.InstallAndActivate(ctx, "v1"); err != nil {
		t.Fatal(err)
	}

	o.Set("/app.js", "new")
	job := shell.RefreshJob{Generation: "v1", Key: "/app.js", Class: shell.ClassSameOrigin}
	if err := c.Refresh(ctx, job); err != nil {
		t.Fatal(err)
	}

	e, ok, _ := c.Lookup(ctx, "/app.js")
	if !ok || string(e.Body) != "new" {
		t.Errorf("entry after refresh = %+v", e)
	}
}

func TestRefresh_FailureLeavesStaleEntry(t *testing.T) {
	t.Parallel()
	o := testutil.NewFakeOrigin()
	defer o.Close()
	o.Set("/app.js", "stale")

	store := testutil.NewFakeStore()
	c := newTestController(t, o, store, &manifest.Manifest{Shell: []string{"/app.js"}})
	ctx := context.Background()
	if err := c.InstallAndActivate(ctx, "v1"); err != nil {
		t.Fatal(err)
	}

	// Refresh against a now-404 path: error-free, entry untouched.
	o.SetStatus("/app.js", 404)
	job := shell.RefreshJob{Generation: "v1", Key: "/app.js", Class: shell.ClassSameOrigin}
	if err := c.Refresh(ctx, job); err != nil {
		t.Fatal(err)
	}
	e, ok, _ := c.Lookup(ctx, "/app.js")
	if !ok || string(e.Body) != "stale" {
		t.Errorf("stale entry should persist, got %+v", e)
	}
}

func TestRefresh_StaleGenerationIgnored(t *testing.T) {
	t.Parallel()
	o := testutil.NewFakeOrigin()
	defer o.Close()
	o.Set("/app.js", "body")

	store := testutil.NewFakeStore()
	c := newTestController(t, o, store, &manifest.Manifest{Shell: []string{"/app.js"}})
	ctx := context.Background()
	if err := c.InstallAndActivate(ctx, "v1"); err != nil {
		t.Fatal(err)
	}
	hits := o.Hits("/app.js")

	job := shell.RefreshJob{Generation: "v0", Key: "/app.js", Class: shell.ClassSameOrigin}
	if err := c.Refresh(ctx, job); err != nil {
		t.Fatal(err)
	}
	if o.Hits("/app.js") != hits {
		t.Error("job for a superseded generation must not hit the network")
	}
}

func TestStoreEntry_SkipsNonCacheable(t *testing.T) {
	t.Parallel()
	o := testutil.NewFakeOrigin()
	defer o.Close()
	o.Set("/app.js", "body")

	store := testutil.NewFakeStore()
	c := newTestController(t, o, store, &manifest.Manifest{Shell: []string{"/app.js"}})
	ctx := context.Background()
	if err := c.InstallAndActivate(ctx, "v1"); err != nil {
		t.Fatal(err)
	}

	if err := c.StoreEntry(ctx, &shell.Entry{URL: "/err", Status: 500}); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := c.Lookup(ctx, "/err"); ok {
		t.Error("error responses must not be cached")
	}
}

func TestPurge(t *testing.T) {
	t.Parallel()
	o := testutil.NewFakeOrigin()
	defer o.Close()
	o.Set("/app.js", "body")

	store := testutil.NewFakeStore()
	c := newTestController(t, o, store, &manifest.Manifest{Shell: []string{"/app.js"}})
	ctx := context.Background()
	if err := c.InstallAndActivate(ctx, "v1"); err != nil {
		t.Fatal(err)
	}

	if err := c.Purge(ctx); err != nil {
		t.Fatal(err)
	}
	if c.CurrentVersion() != "" {
		t.Errorf("current = %q after purge", c.CurrentVersion())
	}
	gens, _ := store.ListGenerations(ctx)
	if len(gens) != 0 {
		t.Errorf("generations after purge = %+v", gens)
	}
}

type fakeScheduler struct {
	jobs []shell.RefreshJob
}

func (f *fakeScheduler) Schedule(j shell.RefreshJob) bool {
	f.jobs = append(f.jobs, j)
	return true
}

func TestScheduleRefresh(t *testing.T) {
	t.Parallel()
	o := testutil.NewFakeOrigin()
	defer o.Close()
	o.Set("/app.js", "body")

	store := testutil.NewFakeStore()
	c := newTestController(t, o, store, &manifest.Manifest{Shell: []string{"/app.js"}})
	ctx := context.Background()

	// Pass-through mode: nothing scheduled.
	sched := &fakeScheduler{}
	c.SetScheduler(sched)
	c.ScheduleRefresh("/app.js", shell.ClassSameOrigin)
	if len(sched.jobs) != 0 {
		t.Error("pass-through mode must not schedule refreshes")
	}

	if err := c.InstallAndActivate(ctx, "v1"); err != nil {
		t.Fatal(err)
	}
	c.ScheduleRefresh("/app.js", shell.ClassSameOrigin)
	if len(sched.jobs) != 1 || sched.jobs[0].Generation != "v1" {
		t.Errorf("jobs = %+v", sched.jobs)
	}
}
