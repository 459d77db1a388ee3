package service

import (
	"context"
	"fmt"

	"github.com/morezero/plugin-host/pkg/value"
)

// MethodTable is a service's invocation entry points. Method names are
// boundary-stable strings; arguments and results travel encoded.
type MethodTable interface {
	// Invoke runs the named method. Unknown names fail with METHOD_NOT_FOUND.
	Invoke(ctx context.Context, method string, args value.Encoded) (value.Encoded, error)
	// ListMethods returns the dispatchable methods in declaration order.
	// It must not have side effects.
	ListMethods() []MethodDescriptor
}

// HandlerFunc implements one method on decoded arguments.
type HandlerFunc func(ctx context.Context, args value.Value) (value.Value, error)

// Methods is a name to handler table. Build it completely before the
// service is registered; it is read-only afterwards.
type Methods struct {
	descs    []MethodDescriptor
	handlers map[string]HandlerFunc
}

// NewMethods creates an empty table.
func NewMethods() *Methods {
	return &Methods{handlers: make(map[string]HandlerFunc)}
}

// Handle adds a method. It panics on an empty or repeated name, or a nil handler.
func (m *Methods) Handle(desc MethodDescriptor, h HandlerFunc) *Methods {
	if desc.Name == "" {
		panic("service: empty method name")
	}
	if h == nil {
		panic(fmt.Sprintf("service: nil handler for method %q", desc.Name))
	}
	if _, exists := m.handlers[desc.Name]; exists {
		panic(fmt.Sprintf("service: method %q declared twice", desc.Name))
	}
	m.descs = append(m.descs, desc)
	m.handlers[desc.Name] = h
	return m
}

// HandleFunc adds a method by name and description.
func (m *Methods) HandleFunc(name, description string, h HandlerFunc) *Methods {
	return m.Handle(NewMethod(name).WithDescription(description), h)
}

// Invoke implements MethodTable.
func (m *Methods) Invoke(ctx context.Context, method string, args value.Encoded) (value.Encoded, error) {
	h, ok := m.handlers[method]
	if !ok {
		return "", MethodNotFound(method)
	}

	decoded, err := value.Decode(args)
	if err != nil {
		return "", InvocationErrorf("invalid arguments for %q: %v", method, err)
	}

	result, err := h(ctx, decoded)
	if err != nil {
		if se, ok := AsServiceError(err); ok {
			return "", se
		}
		return "", InvocationError(err.Error())
	}
	return value.Encode(result), nil
}

// ListMethods implements MethodTable.
func (m *Methods) ListMethods() []MethodDescriptor {
	out := make([]MethodDescriptor, len(m.descs))
	copy(out, m.descs)
	return out
}

// Has reports whether a method is declared.
func (m *Methods) Has(name string) bool {
	_, ok := m.handlers[name]
	return ok
}
