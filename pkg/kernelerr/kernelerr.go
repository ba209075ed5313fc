// Package kernelerr defines the closed taxonomy of error codes produced by
// the governance and execution control plane.
package kernelerr

import "fmt"

// Class distinguishes how an error propagates through the controller.
type Class string

const (
	// ClassInputShape marks malformed audit events, permits, or policy
	// documents. The specific check fails; there is no retry.
	ClassInputShape Class = "input_shape"

	// ClassChainIntegrity marks audit-chain tamper or invariant breaches.
	// Propagates to a process kill-switch.
	ClassChainIntegrity Class = "chain_integrity"

	// ClassGovernance marks role-separation, forbidden-action, or
	// nondeterministic-phrasing violations. Rejects the current task only.
	ClassGovernance Class = "governance"

	// ClassEnvironment marks preflight validation failures. Aborts the
	// cycle before any claim; retried next cycle.
	ClassEnvironment Class = "environment"

	// ClassDispatch marks executor dispatch failures.
	ClassDispatch Class = "dispatch"

	// ClassGateInternal marks PR-gate internal (API) failures.
	ClassGateInternal Class = "gate_internal"
)

// Code is a stable, externally-visible error identifier, e.g.
// "secure_layer.permit.invalid.prev_event_hash_mismatch".
type Code string

// Error is the closed representation of every error this module raises.
// Codes and classes are part of the external contract and appear in tests.
type Error struct {
	Code    Code
	Class   Class
	Message string
	Context map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.cause }

// KillSwitch reports whether this error must terminate the controller
// process rather than fail a single task or cycle.
func (e *Error) KillSwitch() bool { return e.Class == ClassChainIntegrity }

// New constructs an Error with the given class, code, and message.
func New(class Class, code Code, message string, ctx map[string]any) *Error {
	if ctx == nil {
		ctx = map[string]any{}
	}
	return &Error{Code: code, Class: class, Message: message, Context: ctx}
}

// Wrap attaches a Code/Class to an underlying cause, preserving Unwrap.
func Wrap(class Class, code Code, cause error, ctx map[string]any) *Error {
	e := New(class, code, cause.Error(), ctx)
	e.cause = cause
	return e
}

// As reports whether err is (or wraps) a *Error, returning it if so.
func As(err error) (*Error, bool) {
	var target *Error
	if eerr, ok := err.(*Error); ok {
		return eerr, true
	}
	type unwrapper interface{ Unwrap() error }
	for u, ok := err.(unwrapper); ok; u, ok = err.(unwrapper) {
		err = u.Unwrap()
		if eerr, ok := err.(*Error); ok {
			target = eerr
			return target, true
		}
	}
	return nil, false
}
