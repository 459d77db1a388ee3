package registry

import (
	"context"
	"sync/atomic"

	"github.com/morezero/plugin-host/pkg/service"
	"github.com/morezero/plugin-host/pkg/value"
)

// Handle is a lease on one registered service. While a handle is held the
// service's table stays valid even if the service is unregistered
// concurrently.
type Handle struct {
	entry    *entry
	released atomic.Bool
}

// Descriptor returns a copy of the leased service's descriptor.
func (h *Handle) Descriptor() service.Descriptor {
	return h.entry.desc.Clone()
}

// Invoke calls a method on the leased service.
func (h *Handle) Invoke(ctx context.Context, method string, args value.Encoded) (value.Encoded, error) {
	return h.entry.table.Invoke(ctx, method, args)
}

// ListMethods returns the leased service's dispatchable methods.
func (h *Handle) ListMethods() []service.MethodDescriptor {
	return h.entry.table.ListMethods()
}

// Release ends the lease. Calling it more than once is harmless.
func (h *Handle) Release() {
	if h.released.CompareAndSwap(false, true) {
		h.entry.leases.Done()
	}
}
