package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/morezero/plugin-host/pkg/semver"
	"github.com/morezero/plugin-host/pkg/service"
	"github.com/morezero/plugin-host/pkg/value"
)

// Handle serves one envelope and always returns a response carrying the
// request id.
func (d *Dispatcher) Handle(ctx context.Context, req *InvokeRequest) *InvokeResponse {
	slog.Debug(fmt.Sprintf("%s - type=%s service=%s method=%s id=%s", logPrefix, req.Type, req.Service, req.Method, req.ID))

	if req.Ctx != nil && req.Ctx.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.Ctx.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	switch req.Type {
	case "", TypeInvoke:
		return d.handleInvoke(ctx, req)
	case TypeMethods:
		return d.handleMethods(ctx, req)
	case TypeServices:
		return resultResponse(req.ID, d.registry.Summaries())
	case TypeHealth:
		return resultResponse(req.ID, d.registry.Health(ctx))
	default:
		return errorResponse(req.ID, service.NewServiceError(service.CodeMethodNotFound, fmt.Sprintf("Unknown request type: %s", req.Type)))
	}
}

func (d *Dispatcher) handleInvoke(ctx context.Context, req *InvokeRequest) *InvokeResponse {
	id, requirement, err := parseTarget(req.Service, req.Version)
	if err != nil {
		return errorResponse(req.ID, err)
	}

	args := value.Encoded("null")
	if len(req.Params) > 0 {
		args = value.Encoded(req.Params)
	}

	out, err := d.DispatchRequirement(ctx, id, requirement, req.Method, args)
	if err != nil {
		return errorResponse(req.ID, err)
	}
	return &InvokeResponse{ID: req.ID, Ok: true, Result: json.RawMessage(out)}
}

func (d *Dispatcher) handleMethods(ctx context.Context, req *InvokeRequest) *InvokeResponse {
	id, _, err := parseTarget(req.Service, "")
	if err != nil {
		return errorResponse(req.ID, err)
	}
	methods, err := d.ListMethods(ctx, id)
	if err != nil {
		return errorResponse(req.ID, err)
	}
	return resultResponse(req.ID, methods)
}

// parseTarget splits "id@requirement" and combines it with an explicit
// version field. An explicit version wins.
func parseTarget(target, version string) (string, semver.Requirement, error) {
	id := target
	rangeStr := version
	if i := strings.Index(target, "@"); i >= 0 {
		id = target[:i]
		if rangeStr == "" {
			rangeStr = target[i+1:]
		}
	}
	if id == "" {
		return "", semver.Requirement{}, service.NotRegistered(id)
	}

	requirement, err := semver.ParseRequirement(rangeStr)
	if err != nil {
		return "", semver.Requirement{}, service.NewServiceError(service.CodeVersionMismatch, fmt.Sprintf("invalid version requirement %q", rangeStr))
	}
	return id, requirement, nil
}

// --- helpers ---

func resultResponse(id string, result interface{}) *InvokeResponse {
	data, err := json.Marshal(result)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - failed to encode result for %s: %v", logPrefix, id, err))
		return errorResponse(id, service.Internal(internalMessage))
	}
	return &InvokeResponse{ID: id, Ok: true, Result: data}
}

func errorResponse(id string, err error) *InvokeResponse {
	se, ok := service.AsServiceError(err)
	if !ok {
		se = service.Internal(internalMessage)
	}
	return &InvokeResponse{
		ID: id,
		Ok: false,
		Error: &ErrorDetail{
			Code:      se.Code,
			Message:   se.Message,
			Retryable: se.Retryable(),
		},
	}
}
