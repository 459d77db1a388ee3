package module

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/morezero/plugin-host/pkg/registry"
	"github.com/morezero/plugin-host/pkg/semver"
)

const managerTestPrefix = "module:manager_test"

func newTestManager(interval time.Duration) (*Manager, *registry.Registry) {
	reg := registry.NewRegistry(registry.NewRegistryParams{})
	return NewManager(NewManagerParams{
		Registry:       reg,
		HostVersion:    semver.NewVersion(1, 0, 0),
		UpdateInterval: interval,
	}), reg
}

func TestManager_LoadRejectsDuplicatesAndNewerHosts(t *testing.T) {
	mgr, _ := newTestManager(0)

	if _, err := mgr.Load(entryOf(newModule("demo", "demo.a"))); err != nil {
		t.Fatalf("%s - first Load failed: %v", managerTestPrefix, err)
	}
	if _, err := mgr.Load(entryOf(newModule("demo", "demo.b"))); err == nil || !strings.Contains(err.Error(), "already loaded") {
		t.Errorf("%s - duplicate module name: got %v", managerTestPrefix, err)
	}

	future := newModule("future")
	future.info.MinHostVersion = "2.0.0"
	if _, err := mgr.Load(entryOf(future)); err == nil || !strings.Contains(err.Error(), "requires host 2.0.0") {
		t.Errorf("%s - newer host requirement: got %v", managerTestPrefix, err)
	}

	bad := newModule("bad")
	bad.info.MinHostVersion = "not-a-version"
	if _, err := mgr.Load(entryOf(bad)); err == nil {
		t.Errorf("%s - invalid min host version should fail", managerTestPrefix)
	}

	old := newModule("old")
	old.info.MinHostVersion = "0.8.0"
	if _, err := mgr.Load(entryOf(old)); err != nil {
		t.Errorf("%s - older requirement should load: %v", managerTestPrefix, err)
	}

	if got := len(mgr.Modules()); got != 2 {
		t.Errorf("%s - Modules() has %d entries, want 2", managerTestPrefix, got)
	}
}

func TestManager_StartAndShutdown(t *testing.T) {
	mgr, reg := newTestManager(0)
	good := newModule("good", "good.a")
	failing := newModule("failing", "failing.a", "failing.b")
	failing.failAfter = 1
	leaky := newModule("leaky", "leaky.a")
	leaky.leaky = true

	for _, m := range []*testModule{good, failing, leaky} {
		if _, err := mgr.Load(entryOf(m)); err != nil {
			t.Fatalf("%s - Load(%s) failed: %v", managerTestPrefix, m.info.Name, err)
		}
	}

	err := mgr.Start(context.Background())
	var initErr *InitError
	if !errors.As(err, &initErr) || initErr.Module != "failing" {
		t.Fatalf("%s - Start error = %v, want InitError for failing", managerTestPrefix, err)
	}

	states := map[string]State{}
	for _, st := range mgr.Modules() {
		states[st.Name] = st.State
	}
	if states["good"] != StateActive || states["leaky"] != StateActive || states["failing"] != StateFailed {
		t.Errorf("%s - states = %v", managerTestPrefix, states)
	}
	if reg.Len() != 2 {
		t.Errorf("%s - registered = %d, want 2", managerTestPrefix, reg.Len())
	}

	leaked := mgr.Shutdown()
	if strings.Join(leaked, ",") != "leaky.a" {
		t.Errorf("%s - leaked = %v, want [leaky.a]", managerTestPrefix, leaked)
	}
	if reg.Len() != 0 {
		t.Errorf("%s - registry not drained", managerTestPrefix)
	}
	if good.cleanups.Load() != 1 || failing.cleanups.Load() != 0 {
		t.Errorf("%s - cleanup counts good=%d failing=%d", managerTestPrefix, good.cleanups.Load(), failing.cleanups.Load())
	}
}

func TestManager_ShutdownReverseOrder(t *testing.T) {
	mgr, _ := newTestManager(0)
	var order []string
	for _, name := range []string{"first", "second", "third"} {
		m := &orderedModule{testModule: testModule{info: Info{Name: name, Version: "1.0.0"}}, order: &order}
		if _, err := mgr.Load(entryOf(m)); err != nil {
			t.Fatalf("%s - Load failed: %v", managerTestPrefix, err)
		}
	}
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("%s - Start failed: %v", managerTestPrefix, err)
	}
	mgr.Shutdown()

	if strings.Join(order, ",") != "third,second,first" {
		t.Errorf("%s - cleanup order = %v", managerTestPrefix, order)
	}
}

type orderedModule struct {
	testModule
	order *[]string
}

func (m *orderedModule) Cleanup() { *m.order = append(*m.order, m.info.Name) }

func TestManager_Update(t *testing.T) {
	mgr, _ := newTestManager(0)
	mod := &updatingModule{testModule: testModule{info: Info{Name: "updater", Version: "1.0.0"}}}
	_, _ = mgr.Load(entryOf(mod))
	_, _ = mgr.Load(entryOf(newModule("static")))
	_ = mgr.Start(context.Background())

	mgr.Update(context.Background(), time.Now())
	mgr.Update(context.Background(), time.Now())

	if got := mod.updates.Load(); got != 2 {
		t.Errorf("%s - updates = %d, want 2", managerTestPrefix, got)
	}
	mgr.Shutdown()
}

func TestManager_ScheduledUpdates(t *testing.T) {
	mgr, _ := newTestManager(time.Second)
	mod := &updatingModule{testModule: testModule{info: Info{Name: "updater", Version: "1.0.0"}}}
	_, _ = mgr.Load(entryOf(mod))
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("%s - Start failed: %v", managerTestPrefix, err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for mod.updates.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if mod.updates.Load() == 0 {
		t.Errorf("%s - scheduled update never ran", managerTestPrefix)
	}

	mgr.Shutdown()
	after := mod.updates.Load()
	time.Sleep(1500 * time.Millisecond)
	if mod.updates.Load() != after {
		t.Errorf("%s - updates continued after shutdown", managerTestPrefix)
	}
}

// blockingUpdater blocks each update until its context ends.
type blockingUpdater struct {
	testModule
	started chan struct{}
	once    sync.Once
}

func (m *blockingUpdater) Update(ctx context.Context, _ time.Time) {
	m.once.Do(func() { close(m.started) })
	<-ctx.Done()
}

func TestManager_ShutdownCancelsRunningUpdate(t *testing.T) {
	mgr, reg := newTestManager(time.Second)
	mod := &blockingUpdater{
		testModule: testModule{info: Info{Name: "blocking", Version: "1.0.0"}, services: []string{"blocking.svc"}},
		started:    make(chan struct{}),
	}
	if _, err := mgr.Load(entryOf(mod)); err != nil {
		t.Fatalf("%s - Load failed: %v", managerTestPrefix, err)
	}
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("%s - Start failed: %v", managerTestPrefix, err)
	}

	select {
	case <-mod.started:
	case <-time.After(5 * time.Second):
		t.Fatalf("%s - scheduled update never started", managerTestPrefix)
	}

	done := make(chan struct{})
	go func() {
		mgr.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("%s - Shutdown blocked on a running update", managerTestPrefix)
	}

	if mod.cleanups.Load() != 1 || reg.Len() != 0 {
		t.Errorf("%s - cleanups = %d, registered = %d", managerTestPrefix, mod.cleanups.Load(), reg.Len())
	}
}

func TestManager_StartTwiceSchedulesOnce(t *testing.T) {
	mgr, _ := newTestManager(time.Second)
	mod := &updatingModule{testModule: testModule{info: Info{Name: "updater", Version: "1.0.0"}}}
	_, _ = mgr.Load(entryOf(mod))
	_ = mgr.Start(context.Background())

	mgr.mu.Lock()
	first := mgr.cron
	mgr.mu.Unlock()

	_ = mgr.Start(context.Background())

	mgr.mu.Lock()
	second := mgr.cron
	mgr.mu.Unlock()
	if first == nil || first != second {
		t.Errorf("%s - second Start replaced the update scheduler", managerTestPrefix)
	}

	mgr.Shutdown()
	after := mod.updates.Load()
	time.Sleep(1500 * time.Millisecond)
	if mod.updates.Load() != after {
		t.Errorf("%s - updates continued after shutdown", managerTestPrefix)
	}
}
