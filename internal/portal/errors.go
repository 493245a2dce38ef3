package portal

import (
	"errors"
	"fmt"
)

// ConcurrencyError reports cross-goroutine misuse of a registry.
//
// Portals are single-owner by design: multi-process parallelism goes
// through the shared backing store, never through sharing a portal
// between goroutines. The error is fatal and fail-fast.
type ConcurrencyError struct {
	OwnerID  uint64
	CallerID uint64
}

// Error implements the error interface.
func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf(
		"portals are single-owner by design: registry is owned by goroutine %d, "+
			"accessed from goroutine %d; for parallelism use swarm workers, "+
			"each with its own registry", e.OwnerID, e.CallerID)
}

// IsConcurrencyError reports whether err is (or wraps) a ConcurrencyError.
func IsConcurrencyError(err error) bool {
	var ce *ConcurrencyError
	return errors.As(err, &ce)
}

// NoActiveContextError reports that the activation stack is empty and
// no default-portal factory is configured.
type NoActiveContextError struct{}

// Error implements the error interface.
func (e *NoActiveContextError) Error() string {
	return "no active portal: the activation stack is empty and no default factory is configured"
}

// IsNoActiveContext reports whether err is (or wraps) a NoActiveContextError.
func IsNoActiveContext(err error) bool {
	var ne *NoActiveContextError
	return errors.As(err, &ne)
}

// NotSerializableError reports an attempt to serialize a portal.
// A portal owns live OS handles and cannot be faithfully reconstructed
// from a snapshot; serializing one would produce a silently broken copy.
type NotSerializableError struct{}

// Error implements the error interface.
func (e *NotSerializableError) Error() string {
	return "portals are not serializable: a portal owns live storage handles; " +
		"serialize its storage location and reopen instead"
}

// TypeMismatchError reports that a resolved value does not satisfy the
// type the caller requested it under.
type TypeMismatchError struct {
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("stored value has type %s, requested as %s", e.Actual, e.Expected)
}

// IsTypeMismatch reports whether err is (or wraps) a TypeMismatchError.
func IsTypeMismatch(err error) bool {
	var te *TypeMismatchError
	return errors.As(err, &te)
}
