package pairing

import (
	"context"

	"github.com/google/uuid"
)

// Store defines persistence for pairing sessions.
//
// All status mutation goes through CompareAndSwapStatus; callers never need
// additional locking. Implementations must apply the lazy-expiry rule: a
// session whose deadline has passed is never observed as active, even if no
// sweep has run yet.
type Store interface {
	// Put inserts a new session. ErrDuplicateSession if the ID exists,
	// including as a tombstone.
	Put(ctx context.Context, session *Session) error

	// Get returns the session, flipping active past-deadline records to
	// expired before returning. ErrNotFound for unknown IDs, ErrGone once
	// only a tombstone remains.
	Get(ctx context.Context, sessionID string) (*Session, error)

	// CompareAndSwapStatus atomically moves the session from expected to
	// next and returns the updated record. When the current status does not
	// match expected, the current record is returned alongside
	// ErrAlreadyFinalized (terminal current status) so callers can resolve
	// races. An active session past its deadline is flipped to expired and
	// ErrSessionExpired is returned instead of performing the swap, unless
	// next is itself StatusExpired.
	CompareAndSwapStatus(ctx context.Context, sessionID string, expected, next Status) (*Session, error)

	// AttachResult records the scanning device and the created pass on a
	// completed session.
	AttachResult(ctx context.Context, sessionID string, scannerRef string, resultRef uuid.UUID) error

	// Delete removes the record immediately, leaving no tombstone. Used when
	// the owning client acknowledges a terminal status.
	Delete(ctx context.Context, sessionID string) error

	// ExpireOverdue flips active sessions past their deadline to expired and
	// returns how many were flipped. Run by the background sweep.
	ExpireOverdue(ctx context.Context) (int, error)

	// PurgeFinalized downgrades terminal records older than the grace period
	// to tombstones and drops tombstones past their retention window.
	// Returns how many records were purged.
	PurgeFinalized(ctx context.Context) (int, error)
}
