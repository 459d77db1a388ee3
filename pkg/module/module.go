// Package module defines the contract between the host and independently
// built modules, and drives each module through its lifecycle.
package module

import (
	"context"
	"time"

	"github.com/morezero/plugin-host/pkg/service"
)

// EntrySymbol is the exported symbol the host looks up in a module plugin.
// It must be a func() module.Module or a module.EntryFunc variable.
const EntrySymbol = "PluginEntry"

// Info is a module's static identity.
type Info struct {
	Name           string `json:"name"`
	DisplayName    string `json:"displayName,omitempty"`
	Version        string `json:"version"`
	Category       string `json:"category,omitempty"`
	Author         string `json:"author,omitempty"`
	Description    string `json:"description,omitempty"`
	MinHostVersion string `json:"minHostVersion,omitempty"`
}

// Host is what a module sees of the host.
type Host interface {
	// RegisterService adds a service owned by the calling module.
	RegisterService(desc service.Descriptor, table service.MethodTable) error
	// UnregisterService removes one of the calling module's services. It
	// blocks until in-flight invocations of that service have returned.
	UnregisterService(id string) error
	Info(msg string)
	Error(msg string)
}

// Module is the lifecycle a module implements.
type Module interface {
	// Describe returns static metadata. It must not have side effects.
	Describe() Info
	// Init registers the module's services. Zero means success; any other
	// value is fatal to the module.
	Init(host Host) int
	// Cleanup unregisters every service Init registered.
	Cleanup()
}

// Updater is implemented by modules that want periodic updates.
type Updater interface {
	Update(ctx context.Context, now time.Time)
}

// EntryFunc constructs a module.
type EntryFunc func() Module

// StatusFor maps a registration error to an init status code.
func StatusFor(err error) int {
	if err == nil {
		return 0
	}
	if se, ok := service.AsServiceError(err); ok {
		return se.Status()
	}
	return service.Internal("").Status()
}
