package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/keyfold/keyfold/internal/domain/pairing"
)

// SessionStore implements pairing.Store on postgres. The compare-and-swap is
// a conditional UPDATE, so concurrent completions are serialized by the
// database.
type SessionStore struct {
	pool         *pgxpool.Pool
	gracePeriod  time.Duration
	tombstoneTTL time.Duration
}

func NewSessionStore(pool *pgxpool.Pool, gracePeriod, tombstoneTTL time.Duration) *SessionStore {
	return &SessionStore{pool: pool, gracePeriod: gracePeriod, tombstoneTTL: tombstoneTTL}
}

const sessionColumns = `session_id, payload, target_kind, target_data, owner_ref, status, created_at, expires_at, scanner_ref, result_ref, finalized_at`

func (s *SessionStore) Put(ctx context.Context, sess *pairing.Session) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pairing_sessions
		(session_id, payload, target_kind, target_data, owner_ref, status, created_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, sess.SessionID, sess.Payload, sess.TargetKind, sess.TargetData, sess.OwnerRef, sess.Status, sess.CreatedAt, sess.ExpiresAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pairing.ErrDuplicateSession
	}
	return err
}

func (s *SessionStore) Get(ctx context.Context, sessionID string) (*pairing.Session, error) {
	if err := s.expireIfOverdue(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.fetch(ctx, sessionID)
}

// expireIfOverdue applies the lazy-expiry rule inside the database, so
// concurrent readers converge on the same flip.
func (s *SessionStore) expireIfOverdue(ctx context.Context, sessionID string) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		UPDATE pairing_sessions
		SET status=$2, finalized_at=$3, purge_at=$4
		WHERE session_id=$1 AND status=$5 AND expires_at < $3 AND NOT tombstone
	`, sessionID, pairing.StatusExpired, now, now.Add(s.gracePeriod), pairing.StatusActive)
	return err
}

func (s *SessionStore) fetch(ctx context.Context, sessionID string) (*pairing.Session, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`, tombstone
		FROM pairing_sessions WHERE session_id=$1
	`, sessionID)
	sess, tombstone, err := scanSessionWithTombstone(row)
	if err != nil {
		return nil, err
	}
	if tombstone {
		return nil, pairing.ErrGone
	}
	return sess, nil
}

func (s *SessionStore) CompareAndSwapStatus(ctx context.Context, sessionID string, expected, next pairing.Status) (*pairing.Session, error) {
	if expected == pairing.StatusActive && next != pairing.StatusExpired {
		if err := s.expireIfOverdue(ctx, sessionID); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	var finalizedAt *time.Time
	var purgeAt *time.Time
	if next.IsTerminal() {
		finalizedAt = &now
		at := now.Add(s.gracePeriod)
		purgeAt = &at
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE pairing_sessions
		SET status=$3, finalized_at=$4, purge_at=$5
		WHERE session_id=$1 AND status=$2 AND NOT tombstone
		RETURNING `+sessionColumns+`
	`, sessionID, expected, next, finalizedAt, purgeAt)
	sess, err := scanSession(row)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, pairing.ErrNotFound) {
		return nil, err
	}

	// no row matched: distinguish missing, tombstoned and status conflicts
	current, err := s.fetch(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if current.Status == pairing.StatusExpired && expected == pairing.StatusActive {
		return current, pairing.ErrSessionExpired
	}
	return current, pairing.ErrAlreadyFinalized
}

func (s *SessionStore) AttachResult(ctx context.Context, sessionID string, scannerRef string, resultRef uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE pairing_sessions SET scanner_ref=$2, result_ref=$3
		WHERE session_id=$1 AND NOT tombstone
	`, sessionID, scannerRef, resultRef)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pairing.ErrNotFound
	}
	return nil
}

func (s *SessionStore) Delete(ctx context.Context, sessionID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM pairing_sessions WHERE session_id=$1`, sessionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pairing.ErrNotFound
	}
	return nil
}

func (s *SessionStore) ExpireOverdue(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE pairing_sessions
		SET status=$1, finalized_at=$2, purge_at=$3
		WHERE status=$4 AND expires_at < $2 AND NOT tombstone
	`, pairing.StatusExpired, now, now.Add(s.gracePeriod), pairing.StatusActive)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *SessionStore) PurgeFinalized(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	dropped, err := s.pool.Exec(ctx, `
		DELETE FROM pairing_sessions WHERE tombstone AND purge_at <= $1
	`, now)
	if err != nil {
		return 0, err
	}
	// downgrade aged-out terminal records to tombstones, shedding the payload
	downgraded, err := s.pool.Exec(ctx, `
		UPDATE pairing_sessions
		SET tombstone=TRUE, purge_at=$2, payload='', target_data=NULL, scanner_ref=NULL
		WHERE NOT tombstone AND purge_at IS NOT NULL AND purge_at <= $1
	`, now, now.Add(s.tombstoneTTL))
	if err != nil {
		return int(dropped.RowsAffected()), err
	}
	return int(dropped.RowsAffected() + downgraded.RowsAffected()), nil
}

func scanSession(row pgx.Row) (*pairing.Session, error) {
	var sess pairing.Session
	var scannerRef *string
	err := row.Scan(&sess.SessionID, &sess.Payload, &sess.TargetKind, &sess.TargetData,
		&sess.OwnerRef, &sess.Status, &sess.CreatedAt, &sess.ExpiresAt,
		&scannerRef, &sess.ResultRef, &sess.FinalizedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pairing.ErrNotFound
		}
		return nil, err
	}
	if scannerRef != nil {
		sess.ScannerRef = *scannerRef
	}
	return &sess, nil
}

func scanSessionWithTombstone(row pgx.Row) (*pairing.Session, bool, error) {
	var sess pairing.Session
	var scannerRef *string
	var tombstone bool
	err := row.Scan(&sess.SessionID, &sess.Payload, &sess.TargetKind, &sess.TargetData,
		&sess.OwnerRef, &sess.Status, &sess.CreatedAt, &sess.ExpiresAt,
		&scannerRef, &sess.ResultRef, &sess.FinalizedAt, &tombstone)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, pairing.ErrNotFound
		}
		return nil, false, err
	}
	if scannerRef != nil {
		sess.ScannerRef = *scannerRef
	}
	return &sess, tombstone, nil
}
