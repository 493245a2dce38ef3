package engine

import (
	"errors"
	"fmt"
	"time"
)

// TimeoutError reports that a caller-supplied deadline expired while
// polling for a result. Recoverable: the caller may retry with a fresh
// deadline; the execution request stays pending.
type TimeoutError struct {
	Waited time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("result not ready after %s", e.Waited)
}

// IsTimeout reports whether err is (or wraps) a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// NotRegisteredError reports that a call signature references a
// function name this process has not registered.
type NotRegisteredError struct {
	Name string
}

// Error implements the error interface.
func (e *NotRegisteredError) Error() string {
	return fmt.Sprintf("function %q is not registered in this process", e.Name)
}

// IsNotRegistered reports whether err is (or wraps) a NotRegisteredError.
func IsNotRegistered(err error) bool {
	var ne *NotRegisteredError
	return errors.As(err, &ne)
}
