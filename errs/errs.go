// Package errs collects the sentinel errors used throughout redicts.
package errs

import "errors"

var (
	// ErrInvalidPath is returned when a dotted path or one of its elements
	// is malformed: empty, edge-dotted, or containing successive dots.
	ErrInvalidPath = errors.New("redicts: invalid path")

	// ErrLockTimeout is returned by Lock.Acquire when the retry budget is
	// exhausted while waiting for a foreign holder to release.
	ErrLockTimeout = errors.New("redicts: lock acquisition timed out")

	// ErrInternal signals a corrupted lock token or a negative/zero lock
	// depth encountered on release. It means a third party tampered with
	// the lock keys, or the library itself has a bug — it is never raised
	// for ordinary user error.
	ErrInternal = errors.New("redicts: internal error")
)
