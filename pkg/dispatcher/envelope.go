// Package dispatcher routes invocations to registered services and
// translates COMMS/HTTP envelopes into dispatch calls.
package dispatcher

import "encoding/json"

// Request types.
const (
	TypeInvoke   = "invoke"
	TypeMethods  = "methods"
	TypeServices = "services"
	TypeHealth   = "health"
)

// InvokeRequest is the JSON envelope for incoming host requests.
type InvokeRequest struct {
	ID string `json:"id"`
	// Type defaults to invoke.
	Type    string `json:"type,omitempty"`
	Service string `json:"service,omitempty"`
	Method  string `json:"method,omitempty"`
	// Version is an optional requirement such as "1.2.0", "1" or "^1.2".
	// The service may also carry it as "id@requirement".
	Version string             `json:"version,omitempty"`
	Params  json.RawMessage    `json:"params,omitempty"`
	Ctx     *InvocationContext `json:"ctx,omitempty"`
}

// InvokeResponse is the JSON envelope for host responses.
type InvokeResponse struct {
	ID     string          `json:"id"`
	Ok     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorDetail    `json:"error,omitempty"`
}

// ErrorDetail holds structured error information.
type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// InvocationContext holds context from the caller.
type InvocationContext struct {
	RequestID     string `json:"requestId,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
	Caller        string `json:"caller,omitempty"`
	TimeoutMs     int    `json:"timeoutMs,omitempty"`
}
