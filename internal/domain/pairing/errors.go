package pairing

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateSession is returned by Put when the ID already exists.
	ErrDuplicateSession = errors.New("pairing session already exists")

	// ErrNotFound means the session ID was never seen by the store.
	ErrNotFound = errors.New("pairing session not found")

	// ErrGone means the session finished and its record has been cleaned up;
	// only a tombstone remains. Polling clients treat this as success.
	ErrGone = errors.New("pairing session gone")

	// ErrAlreadyFinalized is returned when a transition is attempted on a
	// session that already reached a terminal status.
	ErrAlreadyFinalized = errors.New("pairing session already finalized")

	// ErrSessionExpired is returned when a completion arrives after the
	// deadline but before cleanup.
	ErrSessionExpired = errors.New("pairing session expired")

	// ErrNotFinalized is returned when an acknowledge arrives for a session
	// that is still active.
	ErrNotFinalized = errors.New("pairing session not finalized")

	// ErrNotOwner is returned when a cancel comes from someone other than
	// the session's creator.
	ErrNotOwner = errors.New("not the session owner")
)

// ValidationError rejects a malformed create request. It is never stored.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ResourceCreationError reports that the scan itself succeeded (the session
// is completed) but the downstream pass could not be created.
type ResourceCreationError struct {
	SessionID string
	Err       error
}

func (e *ResourceCreationError) Error() string {
	return fmt.Sprintf("pass creation failed for session %s: %v", e.SessionID, e.Err)
}

func (e *ResourceCreationError) Unwrap() error { return e.Err }
