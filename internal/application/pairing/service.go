package pairing

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	domainPairing "github.com/keyfold/keyfold/internal/domain/pairing"
	domainPass "github.com/keyfold/keyfold/internal/domain/pass"
)

// Limits bound the caller-supplied session lifetime.
type Limits struct {
	DefaultLifetime time.Duration
	MinLifetime     time.Duration
	MaxLifetime     time.Duration
}

// Publisher receives lifecycle events on terminal transitions.
type Publisher interface {
	Publish(ev domainPairing.Event)
}

// Service manages the pairing session lifecycle: creation, status reads,
// the atomic claim on scan, cancellation, and background sweeping.
type Service struct {
	store   domainPairing.Store
	passes  domainPass.Repository
	events  Publisher
	limits  Limits
	baseURL string
	logger  zerolog.Logger
}

// NewService creates a pairing service. events may be nil.
func NewService(store domainPairing.Store, passes domainPass.Repository, events Publisher, limits Limits, baseURL string, logger zerolog.Logger) *Service {
	return &Service{
		store:   store,
		passes:  passes,
		events:  events,
		limits:  limits,
		baseURL: baseURL,
		logger:  logger.With().Str("service", "pairing").Logger(),
	}
}

// CreateInput is the initiating device's request.
type CreateInput struct {
	TargetKind      string
	TargetData      json.RawMessage
	LifetimeSeconds int
	OwnerRef        uuid.UUID
}

// CreateResult is returned to the initiating device for rendering.
type CreateResult struct {
	SessionID       string
	Payload         string
	ExpiresAt       time.Time
	LifetimeSeconds int
}

// Create validates the request, generates an unguessable session ID and
// stores a new active session.
func (s *Service) Create(ctx context.Context, in CreateInput) (*CreateResult, error) {
	kind := domainPass.Kind(in.TargetKind)
	if !domainPass.KnownKind(kind) {
		return nil, &domainPairing.ValidationError{Field: "targetKind", Reason: fmt.Sprintf("unknown kind %q", in.TargetKind)}
	}
	if err := domainPass.ValidateData(kind, in.TargetData); err != nil {
		return nil, &domainPairing.ValidationError{Field: "targetData", Reason: err.Error()}
	}
	if in.OwnerRef == uuid.Nil {
		return nil, &domainPairing.ValidationError{Field: "ownerRef", Reason: "missing owner"}
	}

	lifetime := s.clampLifetime(in.LifetimeSeconds)

	id, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}

	now := time.Now().UTC()
	sess := &domainPairing.Session{
		SessionID:  id,
		Payload:    s.baseURL + "/scan/" + id,
		TargetKind: in.TargetKind,
		TargetData: in.TargetData,
		OwnerRef:   in.OwnerRef,
		Status:     domainPairing.StatusActive,
		CreatedAt:  now,
		ExpiresAt:  now.Add(lifetime),
	}
	if err := s.store.Put(ctx, sess); err != nil {
		return nil, err
	}

	s.logger.Info().Str("session_id", id).Str("kind", in.TargetKind).Dur("lifetime", lifetime).Msg("pairing session created")
	return &CreateResult{
		SessionID:       id,
		Payload:         sess.Payload,
		ExpiresAt:       sess.ExpiresAt,
		LifetimeSeconds: int(lifetime / time.Second),
	}, nil
}

func (s *Service) clampLifetime(seconds int) time.Duration {
	d := time.Duration(seconds) * time.Second
	if seconds == 0 {
		d = s.limits.DefaultLifetime
	}
	if d < s.limits.MinLifetime {
		d = s.limits.MinLifetime
	}
	if d > s.limits.MaxLifetime {
		d = s.limits.MaxLifetime
	}
	return d
}

// StatusResult is the poller's view of a session.
type StatusResult struct {
	Status    domainPairing.Status
	Scanned   bool
	ExpiresAt time.Time
	ResultRef *uuid.UUID
}

// Status reads the session. Terminal statuses are reported, never errors;
// only unknown (ErrNotFound) or cleaned-up (ErrGone) IDs fail.
func (s *Service) Status(ctx context.Context, sessionID string) (*StatusResult, error) {
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &StatusResult{
		Status:    sess.Status,
		Scanned:   sess.Scanned(),
		ExpiresAt: sess.ExpiresAt,
		ResultRef: sess.ResultRef,
	}, nil
}

// CompleteResult is returned to the scanning device.
type CompleteResult struct {
	Status    domainPairing.Status
	ResultRef *uuid.UUID
}

// Complete claims the session on behalf of the scanning device and triggers
// pass creation. Safe to call concurrently and to retry: the compare-and-swap
// guarantees only the first call creates a pass, later calls observe the
// existing outcome.
func (s *Service) Complete(ctx context.Context, sessionID, scannerRef string) (*CompleteResult, error) {
	updated, err := s.store.CompareAndSwapStatus(ctx, sessionID, domainPairing.StatusActive, domainPairing.StatusCompleted)
	switch {
	case err == nil:
		// claimed; fall through to pass creation
	case errors.Is(err, domainPairing.ErrAlreadyFinalized):
		return s.resolveFinalized(ctx, sessionID, updated)
	case errors.Is(err, domainPairing.ErrSessionExpired):
		return &CompleteResult{Status: domainPairing.StatusExpired}, domainPairing.ErrSessionExpired
	default:
		return nil, err
	}

	p := domainPass.New(sessionID, updated.OwnerRef, domainPass.Kind(updated.TargetKind), updated.TargetData)
	if err := s.passes.Create(ctx, p); err != nil {
		return s.resolveCreateFailure(ctx, sessionID, scannerRef, err)
	}

	if err := s.store.AttachResult(ctx, sessionID, scannerRef, p.PassID); err != nil {
		s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("attach result failed")
	}
	s.publish(domainPairing.Event{SessionID: sessionID, OwnerRef: updated.OwnerRef, Status: domainPairing.StatusCompleted, ResultRef: &p.PassID})
	s.logger.Info().Str("session_id", sessionID).Str("pass_id", p.PassID.String()).Msg("pairing session completed")
	return &CompleteResult{Status: domainPairing.StatusCompleted, ResultRef: &p.PassID}, nil
}

// resolveFinalized maps a lost claim race to the caller-visible outcome: a
// completed session is success for a retrying scanner, anything else rejects
// the scan.
func (s *Service) resolveFinalized(ctx context.Context, sessionID string, current *domainPairing.Session) (*CompleteResult, error) {
	switch current.Status {
	case domainPairing.StatusCompleted:
		res := &CompleteResult{Status: domainPairing.StatusCompleted, ResultRef: current.ResultRef}
		if res.ResultRef == nil {
			if p, err := s.passes.GetBySessionID(ctx, sessionID); err == nil {
				res.ResultRef = &p.PassID
			}
		}
		return res, nil
	case domainPairing.StatusExpired:
		return &CompleteResult{Status: domainPairing.StatusExpired}, domainPairing.ErrSessionExpired
	default:
		return &CompleteResult{Status: current.Status}, domainPairing.ErrAlreadyFinalized
	}
}

// resolveCreateFailure decides what to do when the downstream pass could not
// be created. A clean failure rolls the claim back so a fresh scan can retry;
// anything ambiguous keeps the session completed and surfaces the error for
// reconciliation rather than risking a duplicate pass.
func (s *Service) resolveCreateFailure(ctx context.Context, sessionID, scannerRef string, createErr error) (*CompleteResult, error) {
	if errors.Is(createErr, domainPass.ErrAlreadyCreated) {
		// reprocessed completion; reuse the existing pass
		if p, err := s.passes.GetBySessionID(ctx, sessionID); err == nil {
			_ = s.store.AttachResult(ctx, sessionID, scannerRef, p.PassID)
			return &CompleteResult{Status: domainPairing.StatusCompleted, ResultRef: &p.PassID}, nil
		}
		return &CompleteResult{Status: domainPairing.StatusCompleted}, nil
	}
	if errors.Is(createErr, domainPass.ErrNotCreated) {
		if _, err := s.store.CompareAndSwapStatus(ctx, sessionID, domainPairing.StatusCompleted, domainPairing.StatusActive); err != nil {
			s.logger.Error().Err(err).Str("session_id", sessionID).Msg("rollback after clean create failure lost")
		}
		return nil, createErr
	}
	s.logger.Error().Err(createErr).Str("session_id", sessionID).Msg("pass creation failed, session kept completed")
	return &CompleteResult{Status: domainPairing.StatusCompleted},
		&domainPairing.ResourceCreationError{SessionID: sessionID, Err: createErr}
}

// Cancel abandons an active session. Only the owner may cancel; cancelling an
// already-terminal session is a no-op that reports the terminal status.
func (s *Service) Cancel(ctx context.Context, sessionID string, ownerRef uuid.UUID) (domainPairing.Status, error) {
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if sess.OwnerRef != ownerRef {
		return "", domainPairing.ErrNotOwner
	}

	updated, err := s.store.CompareAndSwapStatus(ctx, sessionID, domainPairing.StatusActive, domainPairing.StatusCancelled)
	switch {
	case err == nil:
		s.publish(domainPairing.Event{SessionID: sessionID, OwnerRef: ownerRef, Status: domainPairing.StatusCancelled})
		s.logger.Info().Str("session_id", sessionID).Msg("pairing session cancelled")
		return domainPairing.StatusCancelled, nil
	case errors.Is(err, domainPairing.ErrAlreadyFinalized), errors.Is(err, domainPairing.ErrSessionExpired):
		// idempotent cancel
		return updated.Status, nil
	default:
		return "", err
	}
}

// Acknowledge removes a terminal session once the owning client has observed
// its status, instead of waiting out the retention grace period.
func (s *Service) Acknowledge(ctx context.Context, sessionID string, ownerRef uuid.UUID) error {
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.OwnerRef != ownerRef {
		return domainPairing.ErrNotOwner
	}
	if !sess.Status.IsTerminal() {
		return domainPairing.ErrNotFinalized
	}
	return s.store.Delete(ctx, sessionID)
}

// RunSweeper periodically expires overdue sessions and purges finalized
// records, so sessions are bounded even without polling traffic. Blocks
// until ctx is cancelled.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			expired, err := s.store.ExpireOverdue(ctx)
			if err != nil {
				s.logger.Warn().Err(err).Msg("expire sweep failed")
			}
			purged, err := s.store.PurgeFinalized(ctx)
			if err != nil {
				s.logger.Warn().Err(err).Msg("purge sweep failed")
			}
			if expired > 0 || purged > 0 {
				s.logger.Debug().Int("expired", expired).Int("purged", purged).Msg("sweep")
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) publish(ev domainPairing.Event) {
	if s.events != nil {
		s.events.Publish(ev)
	}
}

// generateSessionID returns an unguessable capability string; possession of
// the ID is what authorizes completion.
func generateSessionID() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
