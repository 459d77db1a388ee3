package module

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/morezero/plugin-host/pkg/registry"
	"github.com/morezero/plugin-host/pkg/service"
)

const instanceLogPrefix = "module:instance"

// Instance drives one module through Unloaded, Described, Initialized,
// Active and CleanedUp. Transitions are serialized; a call that does not fit
// the current state fails with ErrInvalidTransition.
type Instance struct {
	mu       sync.Mutex
	entry    EntryFunc
	module   Module
	info     Info
	state    State
	registry *registry.Registry
	host     *moduleHost
}

// NewInstance creates an unloaded instance. The module is not constructed
// until Describe.
func NewInstance(entry EntryFunc, reg *registry.Registry) *Instance {
	return &Instance{entry: entry, registry: reg, state: StateUnloaded}
}

// State returns the current lifecycle state.
func (i *Instance) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// Info returns the described metadata. It is empty before Describe.
func (i *Instance) Info() Info {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.info
}

// Describe constructs the module and reads its metadata. Later calls return
// the same metadata without another transition.
func (i *Instance) Describe() (Info, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.state != StateUnloaded {
		return i.info, nil
	}
	if i.entry == nil {
		return Info{}, fmt.Errorf("%s - nil module entry", instanceLogPrefix)
	}

	m := i.entry()
	if m == nil {
		return Info{}, fmt.Errorf("%s - module entry returned nil", instanceLogPrefix)
	}
	info := m.Describe()
	if info.Name == "" {
		return Info{}, fmt.Errorf("%s - module describes an empty name", instanceLogPrefix)
	}

	i.module = m
	i.info = info
	i.host = &moduleHost{module: info.Name, registry: i.registry}
	i.state = StateDescribed
	return info, nil
}

// Init runs the module's init. A nonzero status leaves the instance Failed,
// removes anything it managed to register and returns an *InitError. Init is
// allowed from Described, and again after CleanedUp.
func (i *Instance) Init() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.state != StateDescribed && i.state != StateCleanedUp {
		return invalidTransition(i.info.Name, "init", i.state)
	}

	i.host.resetDiagnostic()
	status := i.callInit()
	if status != 0 {
		removed := i.removeOwned()
		i.state = StateFailed
		err := &InitError{Module: i.info.Name, Status: status, Diagnostic: i.host.diagnostic()}
		slog.Error(fmt.Sprintf("%s - %v (removed %d partial registrations)", instanceLogPrefix, err, len(removed)))
		return err
	}

	i.state = StateInitialized
	slog.Info(fmt.Sprintf("%s - Initialized %s v%s", instanceLogPrefix, i.info.Name, i.info.Version))
	return nil
}

// Activate marks an initialized module as serving.
func (i *Instance) Activate() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.state != StateInitialized {
		return invalidTransition(i.info.Name, "activate", i.state)
	}
	i.state = StateActive
	return nil
}

// CanUpdate reports whether the module implements Updater.
func (i *Instance) CanUpdate() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	_, ok := i.module.(Updater)
	return ok
}

// Update runs one periodic update of an active module. Modules without an
// Update method are skipped.
func (i *Instance) Update(ctx context.Context, now time.Time) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.state != StateActive {
		return invalidTransition(i.info.Name, "update", i.state)
	}
	u, ok := i.module.(Updater)
	if !ok {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error(fmt.Sprintf("%s - panic in %s update: %v\n%s", instanceLogPrefix, i.info.Name, r, debug.Stack()))
		}
	}()
	u.Update(ctx, now)
	return nil
}

// Cleanup runs the module's cleanup, then force-removes any service the
// module still owns and returns their identifiers as leaks.
func (i *Instance) Cleanup() ([]string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.state != StateInitialized && i.state != StateActive {
		return nil, invalidTransition(i.info.Name, "cleanup", i.state)
	}

	i.callCleanup()
	leaked := i.removeOwned()
	for _, id := range leaked {
		slog.Warn(fmt.Sprintf("%s - %s leaked registration %s after cleanup", instanceLogPrefix, i.info.Name, id))
	}

	i.state = StateCleanedUp
	slog.Info(fmt.Sprintf("%s - Cleaned up %s", instanceLogPrefix, i.info.Name))
	return leaked, nil
}

func (i *Instance) callInit() (status int) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error(fmt.Sprintf("%s - panic in %s init: %v\n%s", instanceLogPrefix, i.info.Name, r, debug.Stack()))
			i.host.Error(fmt.Sprintf("init panicked: %v", r))
			status = StatusFor(service.Internal("init panicked"))
		}
	}()
	return i.module.Init(i.host)
}

func (i *Instance) callCleanup() {
	defer func() {
		if r := recover(); r != nil {
			slog.Error(fmt.Sprintf("%s - panic in %s cleanup: %v\n%s", instanceLogPrefix, i.info.Name, r, debug.Stack()))
		}
	}()
	i.module.Cleanup()
}

func (i *Instance) removeOwned() []string {
	var removed []string
	for _, id := range i.registry.ListOwned(i.info.Name) {
		if i.registry.ForceRemove(id) {
			removed = append(removed, id)
		}
	}
	return removed
}

// moduleHost is the Host handed to one module. Registrations are stamped
// with the module's name so the host can find what it owns.
type moduleHost struct {
	module   string
	registry *registry.Registry

	mu      sync.Mutex
	lastErr string
}

func (h *moduleHost) RegisterService(desc service.Descriptor, table service.MethodTable) error {
	desc.Module = h.module
	if err := h.registry.Register(desc, table); err != nil {
		h.recordDiagnostic(fmt.Sprintf("register %s: %v", desc.ID, err))
		return err
	}
	return nil
}

func (h *moduleHost) UnregisterService(id string) error {
	desc, ok := h.registry.Resolve(id)
	if !ok || desc.Module != h.module {
		return service.NotRegistered(id)
	}
	return h.registry.Unregister(id)
}

func (h *moduleHost) Info(msg string) {
	slog.Info(fmt.Sprintf("%s - [%s] %s", instanceLogPrefix, h.module, msg))
}

func (h *moduleHost) Error(msg string) {
	slog.Error(fmt.Sprintf("%s - [%s] %s", instanceLogPrefix, h.module, msg))
	h.recordDiagnostic(msg)
}

func (h *moduleHost) recordDiagnostic(msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastErr = msg
}

func (h *moduleHost) diagnostic() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastErr
}

func (h *moduleHost) resetDiagnostic() {
	h.recordDiagnostic("")
}
