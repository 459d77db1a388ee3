package commsutil

import (
	"fmt"
	"strings"
)

// Default COMMS subjects.
const (
	// SubjectHost receives invoke envelopes for the plugin host.
	SubjectHost = "plugin.host.v1"
	// SubjectChangeEvent receives every service registration change.
	SubjectChangeEvent = "services.changed"
)

// SafeToken turns a dotted identifier into a single subject token.
func SafeToken(id string) string {
	return strings.ReplaceAll(id, ".", "_")
}

// BuildChangeSubject builds the granular change subject for one service of one
// module, e.g. services.changed.adi_agent-loop.adi_agent-loop_cli.
func BuildChangeSubject(module, serviceID string) string {
	return fmt.Sprintf("%s.%s.%s", SubjectChangeEvent, SafeToken(module), SafeToken(serviceID))
}
