package registry

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Health checks the registry service health. The registry itself is always
// available; a configured journal that cannot be reached makes the host
// unhealthy.
func (r *Registry) Health(ctx context.Context) *HealthOutput {
	checks := HealthChecks{Registry: true}
	status := "healthy"

	if r.journal != nil {
		ok := true
		if err := r.journal.Ping(ctx); err != nil {
			slog.Warn(fmt.Sprintf("%s - journal health check failed: %v", logPrefix, err))
			ok = false
			status = "unhealthy"
		}
		checks.Journal = &ok
	}

	return &HealthOutput{
		Status:    status,
		Services:  r.Len(),
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}
