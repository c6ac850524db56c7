package errors

import (
	"errors"
	"fmt"
)

// Failure classes surfaced by the gateway. Every per-request error is wrapped
// around exactly one of these so callers can classify it with Is or Kind.
var (
	// Checkpoint or authorization refused the action
	ErrPolicyDenied = errors.New("policy denied")

	// Bad credentials or an expired session
	ErrAuthenticationFailed = errors.New("authentication failed")

	// The procedure reference or its catalog metadata could not be resolved
	ErrProcedureResolution = errors.New("procedure resolution failed")

	// The backend raised an error while executing a call
	ErrBackendExecution = errors.New("backend execution failed")

	// Scheduling or resource failures inside the gateway itself
	ErrInfrastructure = errors.New("infrastructure failure")
)

// Lookup errors
var (
	ErrAccountNotFound  = errors.New("account not found")
	ErrSessionNotFound  = errors.New("session not found")
	ErrVerifierNotFound = errors.New("verifier not found")
	ErrActionNotFound   = errors.New("action not found")
)

// Kind names the failure class of err, or "" when err carries none.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPolicyDenied):
		return "policy_denied"
	case errors.Is(err, ErrAuthenticationFailed):
		return "authentication_failed"
	case errors.Is(err, ErrProcedureResolution):
		return "procedure_resolution"
	case errors.Is(err, ErrBackendExecution):
		return "backend_execution"
	case errors.Is(err, ErrInfrastructure):
		return "infrastructure"
	case errors.Is(err, ErrActionNotFound):
		return "action_not_found"
	default:
		return "unknown"
	}
}

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
