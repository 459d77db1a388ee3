// Package registry holds the live set of registered services and hands out
// leases for invoking them.
package registry

import (
	"github.com/morezero/plugin-host/pkg/service"
)

// ServiceSummary is the listing form of a registered service.
type ServiceSummary struct {
	ID          string                     `json:"id"`
	Version     string                     `json:"version"`
	Module      string                     `json:"module,omitempty"`
	Description string                     `json:"description,omitempty"`
	Methods     []service.MethodDescriptor `json:"methods"`
}

// Summarize builds a ServiceSummary from a descriptor.
func Summarize(desc service.Descriptor) ServiceSummary {
	methods := desc.Methods
	if methods == nil {
		methods = []service.MethodDescriptor{}
	}
	return ServiceSummary{
		ID:          desc.ID,
		Version:     desc.Version.String(),
		Module:      desc.Module,
		Description: desc.Description,
		Methods:     methods,
	}
}

// ListOutput holds the result of listing services.
type ListOutput struct {
	Services []ServiceSummary `json:"services"`
	Total    int              `json:"total"`
}

// HealthOutput holds the result of the health method.
type HealthOutput struct {
	Status    string       `json:"status"`
	Services  int          `json:"services"`
	Checks    HealthChecks `json:"checks"`
	Timestamp string       `json:"timestamp"`
}

// HealthChecks holds individual health check results.
type HealthChecks struct {
	Registry bool `json:"registry"`
	// Journal is nil when no registration journal is configured.
	Journal *bool `json:"journal,omitempty"`
}
