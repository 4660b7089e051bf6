package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyfold/keyfold/internal/domain/pairing"
)

func newSession(lifetime time.Duration) *pairing.Session {
	now := time.Now().UTC()
	return &pairing.Session{
		SessionID: uuid.NewString(),
		Payload:   "https://keyfold.test/scan/x",
		OwnerRef:  uuid.New(),
		Status:    pairing.StatusActive,
		CreatedAt: now,
		ExpiresAt: now.Add(lifetime),
	}
}

func TestPutAndGet(t *testing.T) {
	s := New(Options{GracePeriod: time.Minute, TombstoneTTL: time.Minute})
	ctx := context.Background()
	sess := newSession(time.Minute)

	require.NoError(t, s.Put(ctx, sess))
	assert.ErrorIs(t, s.Put(ctx, sess), pairing.ErrDuplicateSession)

	got, err := s.Get(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, pairing.StatusActive, got.Status)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, pairing.ErrNotFound)
}

func TestGetAppliesLazyExpiry(t *testing.T) {
	s := New(Options{GracePeriod: time.Minute, TombstoneTTL: time.Minute})
	ctx := context.Background()
	sess := newSession(-time.Second) // already past deadline, no sweep ran
	require.NoError(t, s.Put(ctx, sess))

	got, err := s.Get(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, pairing.StatusExpired, got.Status)
	require.NotNil(t, got.FinalizedAt)
}

func TestCompareAndSwapStatus(t *testing.T) {
	s := New(Options{GracePeriod: time.Minute, TombstoneTTL: time.Minute})
	ctx := context.Background()
	sess := newSession(time.Minute)
	require.NoError(t, s.Put(ctx, sess))

	got, err := s.CompareAndSwapStatus(ctx, sess.SessionID, pairing.StatusActive, pairing.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, pairing.StatusCompleted, got.Status)
	require.NotNil(t, got.FinalizedAt)

	// second swap observes the terminal status
	got, err = s.CompareAndSwapStatus(ctx, sess.SessionID, pairing.StatusActive, pairing.StatusCancelled)
	assert.ErrorIs(t, err, pairing.ErrAlreadyFinalized)
	require.NotNil(t, got)
	assert.Equal(t, pairing.StatusCompleted, got.Status)
}

func TestCompareAndSwapRefusesExpired(t *testing.T) {
	s := New(Options{GracePeriod: time.Minute, TombstoneTTL: time.Minute})
	ctx := context.Background()
	sess := newSession(-time.Second)
	require.NoError(t, s.Put(ctx, sess))

	got, err := s.CompareAndSwapStatus(ctx, sess.SessionID, pairing.StatusActive, pairing.StatusCompleted)
	assert.ErrorIs(t, err, pairing.ErrSessionExpired)
	require.NotNil(t, got)
	assert.Equal(t, pairing.StatusExpired, got.Status)
}

func TestCompareAndSwapIsAtMostOnce(t *testing.T) {
	s := New(Options{GracePeriod: time.Minute, TombstoneTTL: time.Minute})
	ctx := context.Background()
	sess := newSession(time.Minute)
	require.NoError(t, s.Put(ctx, sess))

	const workers = 32
	var wins int64
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, err := s.CompareAndSwapStatus(ctx, sess.SessionID, pairing.StatusActive, pairing.StatusCompleted)
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else if !errors.Is(err, pairing.ErrAlreadyFinalized) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, wins)
}

func TestAttachResult(t *testing.T) {
	s := New(Options{GracePeriod: time.Minute, TombstoneTTL: time.Minute})
	ctx := context.Background()
	sess := newSession(time.Minute)
	require.NoError(t, s.Put(ctx, sess))

	_, err := s.CompareAndSwapStatus(ctx, sess.SessionID, pairing.StatusActive, pairing.StatusCompleted)
	require.NoError(t, err)

	ref := uuid.New()
	require.NoError(t, s.AttachResult(ctx, sess.SessionID, "phone-1", ref))

	got, err := s.Get(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "phone-1", got.ScannerRef)
	require.NotNil(t, got.ResultRef)
	assert.Equal(t, ref, *got.ResultRef)
}

func TestRetentionPhases(t *testing.T) {
	// grace and tombstone windows already elapsed, so each purge pass moves
	// the record one phase forward
	s := New(Options{GracePeriod: -time.Millisecond, TombstoneTTL: -time.Millisecond})
	ctx := context.Background()
	sess := newSession(time.Minute)
	require.NoError(t, s.Put(ctx, sess))

	_, err := s.CompareAndSwapStatus(ctx, sess.SessionID, pairing.StatusActive, pairing.StatusCancelled)
	require.NoError(t, err)

	// phase 1: terminal record still readable
	got, err := s.Get(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, pairing.StatusCancelled, got.Status)

	// phase 2: tombstone
	n, err := s.PurgeFinalized(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = s.Get(ctx, sess.SessionID)
	assert.ErrorIs(t, err, pairing.ErrGone)
	assert.ErrorIs(t, s.Put(ctx, sess), pairing.ErrDuplicateSession)

	// phase 3: forgotten
	n, err = s.PurgeFinalized(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = s.Get(ctx, sess.SessionID)
	assert.ErrorIs(t, err, pairing.ErrNotFound)
}

func TestExpireOverdue(t *testing.T) {
	s := New(Options{GracePeriod: time.Minute, TombstoneTTL: time.Minute})
	ctx := context.Background()

	overdue := newSession(-time.Second)
	fresh := newSession(time.Minute)
	require.NoError(t, s.Put(ctx, overdue))
	require.NoError(t, s.Put(ctx, fresh))

	n, err := s.ExpireOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.Get(ctx, overdue.SessionID)
	require.NoError(t, err)
	assert.Equal(t, pairing.StatusExpired, got.Status)

	got, err = s.Get(ctx, fresh.SessionID)
	require.NoError(t, err)
	assert.Equal(t, pairing.StatusActive, got.Status)
}

func TestDelete(t *testing.T) {
	s := New(Options{GracePeriod: time.Minute, TombstoneTTL: time.Minute})
	ctx := context.Background()
	sess := newSession(time.Minute)
	require.NoError(t, s.Put(ctx, sess))

	require.NoError(t, s.Delete(ctx, sess.SessionID))
	_, err := s.Get(ctx, sess.SessionID)
	assert.ErrorIs(t, err, pairing.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, sess.SessionID), pairing.ErrNotFound)
}
