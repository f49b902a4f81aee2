package domain

import (
	"errors"
	"fmt"
)

// Error types for consistent error handling across the BFA.

// ErrNotConfigured is returned by every backend call when the Supabase URL or
// public key is missing from the environment.
var ErrNotConfigured = errors.New("supabase configuration not found")

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrUniqueViolation indicates an insert collided with an existing row.
type ErrUniqueViolation struct {
	Resource string
	ID       string
}

func (e *ErrUniqueViolation) Error() string {
	return fmt.Sprintf("%s already exists: %s", e.Resource, e.ID)
}

// ErrExternalService indicates a failure in an external service call.
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}

// ErrTimeout indicates an operation exceeded its deadline.
type ErrTimeout struct {
	Operation string
}

func (e *ErrTimeout) Error() string {
	return fmt.Sprintf("operation timed out: %s", e.Operation)
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}

// ErrValidation indicates a validation error (bad input).
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrUnauthorized indicates invalid credentials or token.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}

// ErrForbidden indicates the user lacks permission for the operation.
type ErrForbidden struct {
	Action string
}

func (e *ErrForbidden) Error() string {
	return fmt.Sprintf("forbidden: %s", e.Action)
}

// ErrConflict indicates a resource already exists (e.g. duplicate account).
type ErrConflict struct {
	Message string
}

func (e *ErrConflict) Error() string {
	return e.Message
}

// Error codes reported by the authentication backend.
const (
	AuthCodeInvalidCredentials = "invalid_credentials"
	AuthCodeEmailNotConfirmed  = "email_not_confirmed"
	AuthCodeRateLimited        = "over_request_rate_limit"
	AuthCodeUserExists         = "user_already_exists"
	AuthCodeWeakPassword       = "weak_password"
	AuthCodeInvalidEmail       = "email_address_invalid"
	AuthCodeSessionNotFound    = "session_not_found"
	AuthCodeInvalidSession     = "bad_jwt"
	AuthCodeUnknown            = "unknown"
)

// ErrAuth is an error answered by the authentication backend.
// Code is normalized to one of the AuthCode* constants.
type ErrAuth struct {
	Status  int
	Code    string
	Message string
}

func (e *ErrAuth) Error() string {
	return fmt.Sprintf("auth error [%d %s]: %s", e.Status, e.Code, e.Message)
}

// IsAuthCode reports whether err is an *ErrAuth carrying code.
func IsAuthCode(err error, code string) bool {
	var authErr *ErrAuth
	return errors.As(err, &authErr) && authErr.Code == code
}
