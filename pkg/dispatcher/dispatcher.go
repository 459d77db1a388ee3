package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/morezero/plugin-host/pkg/registry"
	"github.com/morezero/plugin-host/pkg/semver"
	"github.com/morezero/plugin-host/pkg/service"
	"github.com/morezero/plugin-host/pkg/value"
	"github.com/tidwall/gjson"
)

const logPrefix = "dispatcher:dispatcher"

// internalMessage is what callers see for failures that are not classified
// service errors. Details stay in the host log.
const internalMessage = "service invocation failed"

// Observer is told about every completed dispatch. code is empty on success.
type Observer interface {
	ObserveDispatch(serviceID, method, code string, elapsed time.Duration)
}

// Dispatcher routes invocations to services in a registry.
type Dispatcher struct {
	registry *registry.Registry
	observer Observer
}

// NewDispatcherParams holds parameters for NewDispatcher.
type NewDispatcherParams struct {
	Registry *registry.Registry
	Observer Observer
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(params NewDispatcherParams) *Dispatcher {
	return &Dispatcher{registry: params.Registry, observer: params.Observer}
}

// Registry returns the registry the dispatcher routes to.
func (d *Dispatcher) Registry() *registry.Registry {
	return d.registry
}

// Dispatch invokes method on the service registered under id. Method name
// and arguments are forwarded unchanged; the result is returned verbatim.
func (d *Dispatcher) Dispatch(ctx context.Context, id, method string, args value.Encoded) (value.Encoded, error) {
	return d.dispatch(ctx, id, semver.Requirement{}, method, args)
}

// DispatchVersion is Dispatch gated on the registered version being
// compatible with required.
func (d *Dispatcher) DispatchVersion(ctx context.Context, id string, required semver.Version, method string, args value.Encoded) (value.Encoded, error) {
	return d.dispatch(ctx, id, semver.RequireCompatible(required), method, args)
}

// DispatchRequirement is Dispatch gated on an arbitrary version requirement.
func (d *Dispatcher) DispatchRequirement(ctx context.Context, id string, req semver.Requirement, method string, args value.Encoded) (value.Encoded, error) {
	return d.dispatch(ctx, id, req, method, args)
}

// ListMethods returns the dispatchable methods of the service registered under id.
func (d *Dispatcher) ListMethods(_ context.Context, id string) (methods []service.MethodDescriptor, err error) {
	h, ok := d.registry.Acquire(id)
	if !ok {
		return nil, service.NotRegistered(id)
	}
	defer h.Release()

	defer func() {
		if r := recover(); r != nil {
			slog.Error(fmt.Sprintf("%s - panic listing methods of %s: %v\n%s", logPrefix, id, r, debug.Stack()))
			methods, err = nil, service.Internal(internalMessage)
		}
	}()
	return h.ListMethods(), nil
}

// ListServices returns every registered descriptor sorted by identifier.
func (d *Dispatcher) ListServices() []service.Descriptor {
	return d.registry.List()
}

func (d *Dispatcher) dispatch(ctx context.Context, id string, req semver.Requirement, method string, args value.Encoded) (value.Encoded, error) {
	start := time.Now()
	out, err := d.route(ctx, id, req, method, args)
	if d.observer != nil {
		code := ""
		if err != nil {
			code = service.CodeOf(err)
		}
		d.observer.ObserveDispatch(id, method, code, time.Since(start))
	}
	return out, err
}

func (d *Dispatcher) route(ctx context.Context, id string, req semver.Requirement, method string, args value.Encoded) (value.Encoded, error) {
	slog.Debug(fmt.Sprintf("%s - service=%s method=%s", logPrefix, id, method))

	h, ok := d.registry.Acquire(id)
	if !ok {
		return "", service.NotRegistered(id)
	}
	defer h.Release()

	if !req.IsAny() {
		actual := h.Descriptor().Version
		if !req.Allows(actual) {
			return "", service.VersionMismatch(req.String(), actual)
		}
	}

	return invoke(ctx, h, id, method, args)
}

// invoke runs the method without any registry lock held. Panics and
// unclassified errors become INTERNAL_ERROR with a generic message.
func invoke(ctx context.Context, h *registry.Handle, id, method string, args value.Encoded) (out value.Encoded, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error(fmt.Sprintf("%s - panic in %s.%s: %v\n%s", logPrefix, id, method, r, debug.Stack()))
			out, err = "", service.Internal(internalMessage)
		}
	}()

	out, err = h.Invoke(ctx, method, args)
	if err == nil {
		// Results are relayed verbatim, so a non-JSON result would corrupt the envelope.
		if !gjson.Valid(string(out)) {
			slog.Error(fmt.Sprintf("%s - %s.%s returned a non-JSON result (%d bytes)", logPrefix, id, method, len(out)))
			return "", service.Internal(internalMessage)
		}
		return out, nil
	}
	if se, ok := service.AsServiceError(err); ok {
		return "", se
	}
	slog.Error(fmt.Sprintf("%s - unclassified failure in %s.%s: %v", logPrefix, id, method, err))
	return "", service.Internal(internalMessage)
}
