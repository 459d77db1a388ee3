package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/morezero/plugin-host/pkg/events"
	"github.com/morezero/plugin-host/pkg/service"
)

const logPrefix = "registry:registry"

// Pinger reports the health of a dependency the registry reports on, such as
// the registration journal.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Registry is the host's table of live services. It is created once by the
// host and passed to everything that registers or dispatches.
//
// Register, Unregister and lookups are linearizable. Invocations never run
// under the registry lock: callers take a lease with Acquire, and Unregister
// waits for outstanding leases on the removed entry before it returns.
type Registry struct {
	mu        sync.RWMutex
	entries   map[string]*entry
	publisher events.EventPublisher
	journal   Pinger
}

// NewRegistryParams holds parameters for NewRegistry.
type NewRegistryParams struct {
	Publisher events.EventPublisher
	// Journal is optional; when set, Health reports its reachability.
	Journal Pinger
}

// NewRegistry creates a new Registry instance.
func NewRegistry(params NewRegistryParams) *Registry {
	pub := params.Publisher
	if pub == nil {
		pub = &events.NoOpPublisher{}
	}
	return &Registry{
		entries:   make(map[string]*entry),
		publisher: pub,
		journal:   params.Journal,
	}
}

type entry struct {
	desc   service.Descriptor
	table  service.MethodTable
	leases sync.WaitGroup
}

// Register adds a service. The descriptor is copied; when it declares no
// methods, the table's listing is recorded instead. An identifier that is
// already registered fails with DUPLICATE_REGISTRATION and leaves the
// existing entry untouched.
func (r *Registry) Register(desc service.Descriptor, table service.MethodTable) error {
	if desc.ID == "" {
		return service.Internal("service identifier is empty")
	}
	if table == nil {
		return service.Internal(fmt.Sprintf("service %q has no method table", desc.ID))
	}

	stored := desc.Clone()
	if len(stored.Methods) == 0 {
		stored.Methods = table.ListMethods()
	}

	r.mu.Lock()
	if _, exists := r.entries[stored.ID]; exists {
		r.mu.Unlock()
		slog.Warn(fmt.Sprintf("%s - Rejected duplicate registration of %s", logPrefix, stored.ID))
		return service.DuplicateRegistration(stored.ID)
	}
	r.entries[stored.ID] = &entry{desc: stored, table: table}
	count := len(r.entries)
	r.mu.Unlock()

	slog.Info(fmt.Sprintf("%s - Registered %s v%s (module %s, %d methods)", logPrefix, stored.ID, stored.Version, stored.Module, len(stored.Methods)))
	r.publish(events.ActionRegistered, stored, count)
	return nil
}

// Unregister removes a service and blocks until every invocation that leased
// it has returned. After Unregister returns no call can reach the removed
// table, so the owner may release its resources. It must not be called from
// inside an invocation of the same service.
func (r *Registry) Unregister(id string) error {
	e, count, ok := r.remove(id)
	if !ok {
		return service.NotRegistered(id)
	}

	e.leases.Wait()

	slog.Info(fmt.Sprintf("%s - Unregistered %s", logPrefix, id))
	r.publish(events.ActionUnregistered, e.desc, count)
	return nil
}

// ForceRemove removes a service on behalf of its owner, for registrations a
// module failed to clean up. It waits for in-flight leases like Unregister and
// reports whether anything was removed.
func (r *Registry) ForceRemove(id string) bool {
	e, count, ok := r.remove(id)
	if !ok {
		return false
	}

	e.leases.Wait()

	slog.Warn(fmt.Sprintf("%s - Force-removed %s owned by module %s", logPrefix, id, e.desc.Module))
	r.publish(events.ActionForceRemoved, e.desc, count)
	return true
}

// Drain removes every remaining service and returns their descriptors.
// Anything left at teardown is a leaked registration.
func (r *Registry) Drain() []service.Descriptor {
	r.mu.Lock()
	removed := make([]*entry, 0, len(r.entries))
	for id, e := range r.entries {
		removed = append(removed, e)
		delete(r.entries, id)
	}
	r.mu.Unlock()

	sort.Slice(removed, func(i, j int) bool { return removed[i].desc.ID < removed[j].desc.ID })

	out := make([]service.Descriptor, 0, len(removed))
	for _, e := range removed {
		e.leases.Wait()
		slog.Warn(fmt.Sprintf("%s - Drained leaked registration %s (module %s)", logPrefix, e.desc.ID, e.desc.Module))
		r.publish(events.ActionForceRemoved, e.desc, 0)
		out = append(out, e.desc.Clone())
	}
	return out
}

// Acquire leases a registered service for one invocation. The caller must
// Release the handle when the invocation returns.
func (r *Registry) Acquire(id string) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	e.leases.Add(1)
	return &Handle{entry: e}, true
}

// Resolve returns a copy of the descriptor registered under id.
func (r *Registry) Resolve(id string) (service.Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return service.Descriptor{}, false
	}
	return e.desc.Clone(), true
}

// List returns every registered descriptor sorted by identifier.
func (r *Registry) List() []service.Descriptor {
	r.mu.RLock()
	out := make([]service.Descriptor, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.desc.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListOwned returns the identifiers registered by a module, sorted.
func (r *Registry) ListOwned(module string) []string {
	r.mu.RLock()
	var ids []string
	for id, e := range r.entries {
		if e.desc.Module == module {
			ids = append(ids, id)
		}
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Summaries returns the listing form of every registered service.
func (r *Registry) Summaries() *ListOutput {
	descs := r.List()
	out := &ListOutput{Services: make([]ServiceSummary, 0, len(descs)), Total: len(descs)}
	for _, d := range descs {
		out.Services = append(out.Services, Summarize(d))
	}
	return out
}

// Len returns the number of registered services.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) remove(id string) (*entry, int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, 0, false
	}
	delete(r.entries, id)
	return e, len(r.entries), true
}

func (r *Registry) publish(action string, desc service.Descriptor, count int) {
	methods := make([]string, 0, len(desc.Methods))
	for _, m := range desc.Methods {
		methods = append(methods, m.Name)
	}

	event := &events.ServiceChangedEvent{
		Action:    action,
		ServiceID: desc.ID,
		Version:   desc.Version.String(),
		Module:    desc.Module,
		Methods:   methods,
		Services:  count,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if err := r.publisher.PublishChanged(context.Background(), event); err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to publish %s event for %s: %v", logPrefix, action, desc.ID, err))
	}
}
