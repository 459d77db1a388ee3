package service

import (
	"errors"
	"fmt"

	"github.com/morezero/plugin-host/pkg/semver"
)

// Error codes. The set is closed: every failure that crosses the boundary
// carries one of these.
const (
	CodeMethodNotFound        = "METHOD_NOT_FOUND"
	CodeInvocationError       = "INVOCATION_ERROR"
	CodeVersionMismatch       = "VERSION_MISMATCH"
	CodeNotRegistered         = "NOT_REGISTERED"
	CodeDuplicateRegistration = "DUPLICATE_REGISTRATION"
	CodeInternal              = "INTERNAL_ERROR"
)

// Sentinels for errors.Is matching on code.
var (
	ErrMethodNotFound        = &ServiceError{Code: CodeMethodNotFound}
	ErrInvocation            = &ServiceError{Code: CodeInvocationError}
	ErrVersionMismatch       = &ServiceError{Code: CodeVersionMismatch}
	ErrNotRegistered         = &ServiceError{Code: CodeNotRegistered}
	ErrDuplicateRegistration = &ServiceError{Code: CodeDuplicateRegistration}
	ErrInternal              = &ServiceError{Code: CodeInternal}
)

// ServiceError is a classified invocation or registration failure. It holds
// only a code and a message so it can be represented on either side of the
// boundary.
type ServiceError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ServiceError) Error() string {
	return e.Code + ": " + e.Message
}

// Is matches any ServiceError with the same code.
func (e *ServiceError) Is(target error) bool {
	t, ok := target.(*ServiceError)
	return ok && t.Code == e.Code
}

// Retryable reports whether a caller may retry the same call unchanged.
func (e *ServiceError) Retryable() bool {
	return e.Code == CodeInternal
}

// Status returns the nonzero status code a module init reports for this error.
func (e *ServiceError) Status() int {
	switch e.Code {
	case CodeMethodNotFound:
		return 1
	case CodeInvocationError:
		return 2
	case CodeVersionMismatch:
		return 3
	case CodeNotRegistered:
		return 4
	case CodeDuplicateRegistration:
		return 5
	default:
		return 6
	}
}

// NewServiceError creates a ServiceError.
func NewServiceError(code, message string) *ServiceError {
	return &ServiceError{Code: code, Message: message}
}

// MethodNotFound reports a method name the service does not declare.
func MethodNotFound(method string) *ServiceError {
	return &ServiceError{Code: CodeMethodNotFound, Message: fmt.Sprintf("method not found: %q", method)}
}

// InvocationError reports a failure inside a service method.
func InvocationError(message string) *ServiceError {
	return &ServiceError{Code: CodeInvocationError, Message: message}
}

// InvocationErrorf formats an InvocationError.
func InvocationErrorf(format string, args ...interface{}) *ServiceError {
	return InvocationError(fmt.Sprintf(format, args...))
}

// VersionMismatch reports a caller requirement the registered version does not meet.
func VersionMismatch(required string, actual semver.Version) *ServiceError {
	return &ServiceError{
		Code:    CodeVersionMismatch,
		Message: fmt.Sprintf("required version %s, registered version %s", required, actual),
	}
}

// NotRegistered reports an unknown or already removed service identifier.
func NotRegistered(id string) *ServiceError {
	return &ServiceError{Code: CodeNotRegistered, Message: fmt.Sprintf("service not registered: %q", id)}
}

// DuplicateRegistration reports an identifier that is already registered.
func DuplicateRegistration(id string) *ServiceError {
	return &ServiceError{Code: CodeDuplicateRegistration, Message: fmt.Sprintf("service already registered: %q", id)}
}

// Internal reports an unexpected failure. The message must stay generic.
func Internal(message string) *ServiceError {
	return &ServiceError{Code: CodeInternal, Message: message}
}

// AsServiceError extracts a ServiceError from an error chain.
func AsServiceError(err error) (*ServiceError, bool) {
	var se *ServiceError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// CodeOf returns the error code of err, "" for nil, INTERNAL_ERROR for
// errors that are not ServiceErrors.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	if se, ok := AsServiceError(err); ok {
		return se.Code
	}
	return CodeInternal
}
