// Package host assembles the registry, dispatcher and module manager from a
// manifest.
package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/morezero/plugin-host/internal/modules/agentloop"
	"github.com/morezero/plugin-host/pkg/bootstrap"
	"github.com/morezero/plugin-host/pkg/dispatcher"
	"github.com/morezero/plugin-host/pkg/events"
	"github.com/morezero/plugin-host/pkg/metrics"
	"github.com/morezero/plugin-host/pkg/module"
	"github.com/morezero/plugin-host/pkg/registry"
	"github.com/morezero/plugin-host/pkg/semver"
	"github.com/morezero/plugin-host/pkg/service"
	"github.com/morezero/plugin-host/pkg/value"
)

const logPrefix = "host:host"

// version is the host version modules are checked against. Set with
// -ldflags "-X github.com/morezero/plugin-host/internal/host.version=...".
var version = "1.0.0"

// Version returns the host version.
func Version() semver.Version {
	v, err := semver.ParseVersion(version)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - invalid host version %q, using 0.0.0: %v", logPrefix, version, err))
		return semver.Version{}
	}
	return v
}

// DefaultCatalog returns the modules linked into the host binary.
func DefaultCatalog() module.Catalog {
	return module.Catalog{
		agentloop.ModuleName: agentloop.Entry,
	}
}

// Host owns one registry and the modules registered into it.
type Host struct {
	registry   *registry.Registry
	dispatcher *dispatcher.Dispatcher
	manager    *module.Manager
	manifest   *bootstrap.ResolvedManifest
	metrics    *metrics.Metrics
}

// NewParams holds parameters for New.
type NewParams struct {
	// Manifest defaults to the built-in manifest.
	Manifest *bootstrap.ResolvedManifest
	// Catalog defaults to DefaultCatalog.
	Catalog module.Catalog
	// Publisher receives registry change events. Optional.
	Publisher events.EventPublisher
	// Journal is pinged by health checks. Optional.
	Journal registry.Pinger
	// Metrics defaults to a fresh collector set with a registered services gauge.
	Metrics *metrics.Metrics
	// UpdateInterval schedules module updates. Zero disables them.
	UpdateInterval time.Duration
	// HostVersion defaults to Version().
	HostVersion *semver.Version
}

// New builds a host and loads the manifest's modules. Modules are not
// initialized until Start.
func New(params NewParams) (*Host, error) {
	manifest := params.Manifest
	if manifest == nil {
		manifest = bootstrap.CreateResolvedManifest(bootstrap.GetDefaultManifest())
	}
	catalog := params.Catalog
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	hostVersion := Version()
	if params.HostVersion != nil {
		hostVersion = *params.HostVersion
	}

	reg := registry.NewRegistry(registry.NewRegistryParams{
		Publisher: params.Publisher,
		Journal:   params.Journal,
	})

	m := params.Metrics
	if m == nil {
		m = metrics.NewMetrics(metrics.NewMetricsParams{RegisteredServices: reg.Len})
	}

	h := &Host{
		registry:   reg,
		dispatcher: dispatcher.NewDispatcher(dispatcher.NewDispatcherParams{Registry: reg, Observer: m}),
		manager: module.NewManager(module.NewManagerParams{
			Registry:       reg,
			HostVersion:    hostVersion,
			UpdateInterval: params.UpdateInterval,
		}),
		manifest: manifest,
		metrics:  m,
	}

	for _, entry := range manifest.Modules() {
		fn, err := catalog.Resolve(entry.Ref())
		if err != nil {
			return nil, fmt.Errorf("%s - failed to resolve module %s: %w", logPrefix, entry.Ref(), err)
		}
		if _, err := h.manager.Load(fn); err != nil {
			return nil, fmt.Errorf("%s - failed to load module %s: %w", logPrefix, entry.Ref(), err)
		}
	}

	slog.Info(fmt.Sprintf("%s - Host v%s loaded %d modules from manifest %s", logPrefix, hostVersion, len(manifest.Modules()), manifest.Name()))
	return h, nil
}

// Start initializes every module and then checks the manifest's required
// services. Modules that fail stay failed while the rest run; the returned
// error joins every failure.
func (h *Host) Start(ctx context.Context) error {
	err := h.manager.Start(ctx)

	var missing []error
	for _, id := range h.manifest.RequiredServices() {
		if _, ok := h.registry.Resolve(id); !ok {
			missing = append(missing, fmt.Errorf("required service %s is not registered", id))
		}
	}
	if len(missing) > 0 {
		err = errors.Join(append([]error{err}, missing...)...)
	}
	if err != nil {
		return fmt.Errorf("%s - start incomplete: %w", logPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Host started with %d services", logPrefix, h.registry.Len()))
	return nil
}

// Shutdown cleans modules up in reverse order and drains the registry. It
// returns the identifiers of registrations the modules leaked.
func (h *Host) Shutdown() []string {
	return h.manager.Shutdown()
}

// Handle serves an envelope after resolving manifest aliases in its service.
func (h *Host) Handle(ctx context.Context, req *dispatcher.InvokeRequest) *dispatcher.InvokeResponse {
	if req.Service != "" {
		req.Service = h.manifest.ResolveAlias(req.Service)
	}
	return h.dispatcher.Handle(ctx, req)
}

// Call invokes method on target, which may be an alias, "id" or
// "id@requirement".
func (h *Host) Call(ctx context.Context, target, method string, args value.Encoded) (value.Encoded, error) {
	if args == "" {
		args = "null"
	}
	resp := h.Handle(ctx, &dispatcher.InvokeRequest{
		Type:    dispatcher.TypeInvoke,
		Service: target,
		Method:  method,
		Params:  json.RawMessage(args),
	})
	if !resp.Ok {
		return "", service.NewServiceError(resp.Error.Code, resp.Error.Message)
	}
	return value.Encoded(resp.Result), nil
}

// Methods lists target's methods. Aliases are resolved and any version
// suffix is ignored.
func (h *Host) Methods(ctx context.Context, target string) ([]service.MethodDescriptor, error) {
	resp := h.Handle(ctx, &dispatcher.InvokeRequest{Type: dispatcher.TypeMethods, Service: target})
	if !resp.Ok {
		return nil, service.NewServiceError(resp.Error.Code, resp.Error.Message)
	}
	var out []service.MethodDescriptor
	if err := json.Unmarshal(resp.Result, &out); err != nil {
		return nil, fmt.Errorf("%s - invalid methods result: %w", logPrefix, err)
	}
	return out, nil
}

// Registry returns the host's registry.
func (h *Host) Registry() *registry.Registry { return h.registry }

// Dispatcher returns the host's dispatcher.
func (h *Host) Dispatcher() *dispatcher.Dispatcher { return h.dispatcher }

// Metrics returns the host's collectors.
func (h *Host) Metrics() *metrics.Metrics { return h.metrics }

// Manifest returns the manifest the host was built from.
func (h *Host) Manifest() *bootstrap.ResolvedManifest { return h.manifest }

// Modules returns the status of every loaded module.
func (h *Host) Modules() []module.Status { return h.manager.Modules() }
