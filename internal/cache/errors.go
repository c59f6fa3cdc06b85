package cache

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a cache failure. Internal operations return
// *Error; the exported methods map every kind to a safe default so
// callers never see one unless they ask for it.
type ErrorKind string

const (
	// KindUnavailable covers every store connection or command failure.
	KindUnavailable ErrorKind = "unavailable"
	// KindSerialization covers malformed payloads, both directions.
	KindSerialization ErrorKind = "serialization"
	// KindLockTimeout is returned when a lock could not be acquired
	// within the configured maximum wait.
	KindLockTimeout ErrorKind = "lock_timeout"
	// KindValueTooLarge marks values rejected by the size guard.
	KindValueTooLarge ErrorKind = "value_too_large"
)

// Error is the typed failure for internal cache operations.
type Error struct {
	Kind ErrorKind
	Op   string
	Key  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cache %s %s (%s): %v", e.Op, e.Key, e.Kind, e.Err)
	}
	return fmt.Sprintf("cache %s %s (%s)", e.Op, e.Key, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the kind from any error in the chain.
func KindOf(err error) (ErrorKind, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return "", false
}

// IsLockTimeout reports whether err is a lock acquisition timeout.
func IsLockTimeout(err error) bool {
	kind, ok := KindOf(err)
	return ok && kind == KindLockTimeout
}

func newError(kind ErrorKind, op, key string, err error) *Error {
	return &Error{Kind: kind, Op: op, Key: key, Err: err}
}
