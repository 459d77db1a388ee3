package module

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/morezero/plugin-host/pkg/registry"
	"github.com/morezero/plugin-host/pkg/semver"
)

const managerLogPrefix = "module:manager"

// Status is a module's listing form.
type Status struct {
	Name        string   `json:"name"`
	DisplayName string   `json:"displayName,omitempty"`
	Version     string   `json:"version"`
	State       State    `json:"state"`
	Services    []string `json:"services"`
}

// Manager loads modules and drives them through their lifecycle in load
// order. Shutdown runs in reverse order.
type Manager struct {
	registry       *registry.Registry
	hostVersion    semver.Version
	updateInterval time.Duration

	mu        sync.Mutex
	instances []*Instance
	names     map[string]bool
	cron      *cron.Cron
	cancel    context.CancelFunc
}

// NewManagerParams holds parameters for NewManager.
type NewManagerParams struct {
	Registry    *registry.Registry
	HostVersion semver.Version
	// UpdateInterval schedules Update for modules that implement Updater.
	// Zero disables periodic updates.
	UpdateInterval time.Duration
}

// NewManager creates a new Manager.
func NewManager(params NewManagerParams) *Manager {
	return &Manager{
		registry:       params.Registry,
		hostVersion:    params.HostVersion,
		updateInterval: params.UpdateInterval,
		names:          make(map[string]bool),
	}
}

// Load describes a module and queues it for Start. Modules with an empty or
// repeated name, or requiring a newer host, are rejected.
func (m *Manager) Load(entry EntryFunc) (Info, error) {
	inst := NewInstance(entry, m.registry)
	info, err := inst.Describe()
	if err != nil {
		return Info{}, fmt.Errorf("%s - failed to describe module: %w", managerLogPrefix, err)
	}

	if info.MinHostVersion != "" {
		minHost, err := semver.ParseVersion(info.MinHostVersion)
		if err != nil {
			return Info{}, fmt.Errorf("%s - module %s has invalid minimum host version %q: %w", managerLogPrefix, info.Name, info.MinHostVersion, err)
		}
		if m.hostVersion.Compare(minHost) < 0 {
			return Info{}, fmt.Errorf("%s - module %s requires host %s, running %s", managerLogPrefix, info.Name, minHost, m.hostVersion)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.names[info.Name] {
		return Info{}, fmt.Errorf("%s - module %s is already loaded", managerLogPrefix, info.Name)
	}
	m.names[info.Name] = true
	m.instances = append(m.instances, inst)

	slog.Info(fmt.Sprintf("%s - Loaded module %s v%s", managerLogPrefix, info.Name, info.Version))
	return info, nil
}

// Start initializes and activates every loaded module, then schedules
// periodic updates once until Shutdown. A module whose init fails is left
// Failed and the others still start; the init errors are returned joined.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	instances := append([]*Instance(nil), m.instances...)
	m.mu.Unlock()

	var errs []error
	for _, inst := range instances {
		if inst.State() != StateDescribed {
			continue
		}
		if err := inst.Init(); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := inst.Activate(); err != nil {
			errs = append(errs, err)
		}
	}

	m.startUpdates(ctx, instances)
	return errors.Join(errs...)
}

func (m *Manager) startUpdates(ctx context.Context, instances []*Instance) {
	if m.updateInterval <= 0 {
		return
	}

	logger := cronLogger{}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	updateCtx, cancel := context.WithCancel(ctx)

	spec := fmt.Sprintf("@every %s", m.updateInterval)
	scheduled := 0
	for _, inst := range instances {
		if inst.State() != StateActive || !inst.CanUpdate() {
			continue
		}
		inst := inst
		if _, err := c.AddFunc(spec, func() {
			if err := inst.Update(updateCtx, time.Now()); err != nil {
				slog.Debug(fmt.Sprintf("%s - skipped update: %v", managerLogPrefix, err))
			}
		}); err != nil {
			slog.Error(fmt.Sprintf("%s - failed to schedule updates for %s: %v", managerLogPrefix, inst.Info().Name, err))
			continue
		}
		scheduled++
	}

	if scheduled == 0 {
		cancel()
		return
	}

	m.mu.Lock()
	if m.cron != nil {
		m.mu.Unlock()
		cancel()
		slog.Warn(fmt.Sprintf("%s - updates already scheduled", managerLogPrefix))
		return
	}
	m.cron = c
	m.cancel = cancel
	c.Start()
	m.mu.Unlock()
	slog.Info(fmt.Sprintf("%s - Scheduled updates for %d modules %s", managerLogPrefix, scheduled, spec))
}

// Update runs one update pass over every active module.
func (m *Manager) Update(ctx context.Context, now time.Time) {
	m.mu.Lock()
	instances := append([]*Instance(nil), m.instances...)
	m.mu.Unlock()

	for _, inst := range instances {
		if inst.State() == StateActive {
			_ = inst.Update(ctx, now)
		}
	}
}

// Shutdown stops updates, cleans modules up in reverse load order and drains
// the registry. It returns every leaked service identifier.
func (m *Manager) Shutdown() []string {
	m.mu.Lock()
	c, cancel := m.cron, m.cancel
	m.cron, m.cancel = nil, nil
	instances := append([]*Instance(nil), m.instances...)
	m.mu.Unlock()

	// Cancel first: Stop waits for running updates, which may block on ctx.
	if cancel != nil {
		cancel()
	}
	if c != nil {
		<-c.Stop().Done()
	}

	var leaked []string
	for idx := len(instances) - 1; idx >= 0; idx-- {
		inst := instances[idx]
		state := inst.State()
		if state != StateActive && state != StateInitialized {
			continue
		}
		ids, err := inst.Cleanup()
		if err != nil {
			slog.Error(fmt.Sprintf("%s - cleanup failed: %v", managerLogPrefix, err))
			continue
		}
		leaked = append(leaked, ids...)
	}

	for _, desc := range m.registry.Drain() {
		leaked = append(leaked, desc.ID)
	}
	if len(leaked) > 0 {
		slog.Warn(fmt.Sprintf("%s - Shutdown removed %d leaked registrations: %v", managerLogPrefix, len(leaked), leaked))
	}
	return leaked
}

// Modules returns the status of every loaded module in load order.
func (m *Manager) Modules() []Status {
	m.mu.Lock()
	instances := append([]*Instance(nil), m.instances...)
	m.mu.Unlock()

	out := make([]Status, 0, len(instances))
	for _, inst := range instances {
		info := inst.Info()
		services := m.registry.ListOwned(info.Name)
		if services == nil {
			services = []string{}
		}
		out = append(out, Status{
			Name:        info.Name,
			DisplayName: info.DisplayName,
			Version:     info.Version,
			State:       inst.State(),
			Services:    services,
		})
	}
	return out
}

// cronLogger routes scheduler logs to slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug(fmt.Sprintf("%s - cron: %s %v", managerLogPrefix, msg, keysAndValues))
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error(fmt.Sprintf("%s - cron: %s %v: %v", managerLogPrefix, msg, keysAndValues, err))
}
