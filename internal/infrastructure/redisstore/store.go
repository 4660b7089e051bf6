package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/keyfold/keyfold/internal/domain/pairing"
)

const (
	sessPrefix = "pairing:sess:"
	tombPrefix = "pairing:tomb:"

	// casRetries bounds optimistic retries when a WATCH is invalidated.
	casRetries = 8
)

// Store implements pairing.Store on redis. Status transitions use WATCH
// transactions for the compare-and-swap; retention is driven by key TTLs
// (terminal records live for the grace period, tombstones for the retention
// window), so PurgeFinalized has nothing to do here.
type Store struct {
	client       *redis.Client
	gracePeriod  time.Duration
	tombstoneTTL time.Duration
}

func New(client *redis.Client, gracePeriod, tombstoneTTL time.Duration) *Store {
	return &Store{client: client, gracePeriod: gracePeriod, tombstoneTTL: tombstoneTTL}
}

func sessKey(id string) string { return sessPrefix + id }
func tombKey(id string) string { return tombPrefix + id }

func (s *Store) Put(ctx context.Context, sess *pairing.Session) error {
	exists, err := s.client.Exists(ctx, tombKey(sess.SessionID)).Result()
	if err != nil {
		return err
	}
	if exists > 0 {
		return pairing.ErrDuplicateSession
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	// the record stays readable through the grace period even if it expires
	// unscanned
	ttl := time.Until(sess.ExpiresAt.Add(s.gracePeriod))
	ok, err := s.client.SetNX(ctx, sessKey(sess.SessionID), data, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return pairing.ErrDuplicateSession
	}
	return nil
}

func (s *Store) Get(ctx context.Context, sessionID string) (*pairing.Session, error) {
	raw, err := s.client.Get(ctx, sessKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, s.missing(ctx, sessionID)
	}
	if err != nil {
		return nil, err
	}
	var sess pairing.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	if sess.Status == pairing.StatusActive && sess.IsExpired(time.Now().UTC()) {
		// persist the lazy flip so every reader converges
		flipped, err := s.CompareAndSwapStatus(ctx, sessionID, pairing.StatusActive, pairing.StatusExpired)
		if err != nil && flipped == nil {
			return nil, err
		}
		if flipped != nil {
			return flipped, nil
		}
	}
	return &sess, nil
}

func (s *Store) missing(ctx context.Context, sessionID string) error {
	exists, err := s.client.Exists(ctx, tombKey(sessionID)).Result()
	if err != nil {
		return err
	}
	if exists > 0 {
		return pairing.ErrGone
	}
	return pairing.ErrNotFound
}

func (s *Store) CompareAndSwapStatus(ctx context.Context, sessionID string, expected, next pairing.Status) (*pairing.Session, error) {
	var (
		result *pairing.Session
		outErr error
	)
	key := sessKey(sessionID)

	txn := func(tx *redis.Tx) error {
		result, outErr = nil, nil
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			outErr = s.missing(ctx, sessionID)
			return nil
		}
		if err != nil {
			return err
		}
		var sess pairing.Session
		if err := json.Unmarshal(raw, &sess); err != nil {
			return fmt.Errorf("decode session %s: %w", sessionID, err)
		}

		now := time.Now().UTC()
		write := next
		if expected == pairing.StatusActive && next != pairing.StatusExpired &&
			sess.Status == pairing.StatusActive && sess.IsExpired(now) {
			write = pairing.StatusExpired
			outErr = pairing.ErrSessionExpired
		} else if sess.Status != expected {
			result = &sess
			outErr = pairing.ErrAlreadyFinalized
			return nil
		}

		sess.Status = write
		if write.IsTerminal() {
			at := now
			sess.FinalizedAt = &at
		} else {
			sess.FinalizedAt = nil
		}
		data, err := json.Marshal(&sess)
		if err != nil {
			return err
		}
		result = &sess

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if write.IsTerminal() {
				pipe.Set(ctx, key, data, s.gracePeriod)
				pipe.Set(ctx, tombKey(sessionID), string(write), s.gracePeriod+s.tombstoneTTL)
			} else {
				// rollback to active: restore deadline-based retention
				pipe.Set(ctx, key, data, time.Until(sess.ExpiresAt.Add(s.gracePeriod)))
				pipe.Del(ctx, tombKey(sessionID))
			}
			return nil
		})
		return err
	}

	for i := 0; i < casRetries; i++ {
		err := s.client.Watch(ctx, txn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, outErr
	}
	return nil, fmt.Errorf("cas on session %s: too much contention", sessionID)
}

func (s *Store) AttachResult(ctx context.Context, sessionID string, scannerRef string, resultRef uuid.UUID) error {
	key := sessKey(sessionID)
	var outErr error

	txn := func(tx *redis.Tx) error {
		outErr = nil
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			outErr = s.missing(ctx, sessionID)
			return nil
		}
		if err != nil {
			return err
		}
		var sess pairing.Session
		if err := json.Unmarshal(raw, &sess); err != nil {
			return fmt.Errorf("decode session %s: %w", sessionID, err)
		}
		sess.ScannerRef = scannerRef
		ref := resultRef
		sess.ResultRef = &ref
		data, err := json.Marshal(&sess)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, redis.KeepTTL)
			return nil
		})
		return err
	}

	for i := 0; i < casRetries; i++ {
		err := s.client.Watch(ctx, txn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return err
		}
		return outErr
	}
	return fmt.Errorf("attach result on session %s: too much contention", sessionID)
}

func (s *Store) Delete(ctx context.Context, sessionID string) error {
	n, err := s.client.Del(ctx, sessKey(sessionID), tombKey(sessionID)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return pairing.ErrNotFound
	}
	return nil
}

// ExpireOverdue walks active sessions and persists the expired flip, so
// sessions nobody polls still leave a tombstone behind.
func (s *Store) ExpireOverdue(ctx context.Context) (int, error) {
	n := 0
	now := time.Now().UTC()
	iter := s.client.Scan(ctx, 0, sessPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := s.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return n, err
		}
		var sess pairing.Session
		if err := json.Unmarshal(raw, &sess); err != nil {
			continue
		}
		if sess.Status != pairing.StatusActive || !sess.IsExpired(now) {
			continue
		}
		id := strings.TrimPrefix(key, sessPrefix)
		if _, err := s.CompareAndSwapStatus(ctx, id, pairing.StatusActive, pairing.StatusExpired); err == nil {
			n++
		}
	}
	return n, iter.Err()
}

// PurgeFinalized is a no-op: key TTLs age terminal records into tombstones
// and tombstones into nothing.
func (s *Store) PurgeFinalized(_ context.Context) (int, error) {
	return 0, nil
}
