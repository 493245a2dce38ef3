package store

import (
	"errors"
	"fmt"
)

// NotFoundError reports that a key is absent from a dict.
type NotFoundError struct {
	Dict string
	Key  Key
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found: %s in dict %q", e.Key, e.Dict)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// ImmutableOverwriteError reports a content mismatch on a key assumed
// immutable. This is fatal: it indicates a hashing or store-sharing bug
// and is never silently resolved.
type ImmutableOverwriteError struct {
	Dict string
	Key  Key
}

// Error implements the error interface.
func (e *ImmutableOverwriteError) Error() string {
	return fmt.Sprintf(
		"immutable overwrite: key %s in dict %q already holds different content",
		e.Key, e.Dict)
}

// IsImmutableOverwrite reports whether err is (or wraps) an
// ImmutableOverwriteError.
func IsImmutableOverwrite(err error) bool {
	var io *ImmutableOverwriteError
	return errors.As(err, &io)
}
