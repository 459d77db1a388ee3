// Package events defines event types and publisher interfaces for service
// registration change events.
package events

// Change actions.
const (
	ActionRegistered   = "registered"
	ActionUnregistered = "unregistered"
	// ActionForceRemoved marks a registration the host removed on a module's
	// behalf after a failed init or a leaky cleanup.
	ActionForceRemoved = "force_removed"
)

// ServiceChangedEvent is emitted when a service enters or leaves the registry.
type ServiceChangedEvent struct {
	Action    string   `json:"action"`
	ServiceID string   `json:"serviceId"`
	Version   string   `json:"version"`
	Module    string   `json:"module,omitempty"`
	Methods   []string `json:"methods,omitempty"`
	Services  int      `json:"services"`
	Timestamp string   `json:"timestamp"`
}
