package client

import (
	"context"
	"errors"
	"time"
)

// Events are the poller's callbacks. Any of them may be nil.
type Events struct {
	// OnTick fires roughly once a second with the remaining lifetime,
	// recomputed from the server deadline rather than decremented locally.
	OnTick func(remaining time.Duration)
	// OnScanned fires once when the session completes. resultRef may be
	// empty when the server could not report the created pass.
	OnScanned func(resultRef string)
	// OnRefresh fires a short delay after OnScanned, once the created pass
	// should be queryable, so the application can reload its list.
	OnRefresh func()
	OnExpired func()
	// OnCancelled fires when another actor cancelled the session.
	OnCancelled func()
}

// Poller drives the initiating device: a countdown against the server
// deadline and a fixed-interval status poll, sharing one cancellation
// context so either can stop the other.
type Poller struct {
	api          *API
	sessionID    string
	expiresAt    time.Time
	pollInterval time.Duration
	refreshDelay time.Duration
	events       Events

	// tickEvery is the countdown resolution; tests shrink it.
	tickEvery time.Duration
}

func NewPoller(api *API, created *Created, pollInterval, refreshDelay time.Duration, events Events) *Poller {
	return &Poller{
		api:          api,
		sessionID:    created.SessionID,
		expiresAt:    created.ExpiresAt,
		pollInterval: pollInterval,
		refreshDelay: refreshDelay,
		events:       events,
		tickEvery:    time.Second,
	}
}

// Run blocks until the session reaches a terminal state or ctx is cancelled.
// It never returns an error for a session that finished server-side; a
// not-found or gone answer without an explicit failure is success.
func (p *Poller) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	countdown := time.NewTicker(p.tickEvery)
	defer countdown.Stop()
	poll := time.NewTicker(p.pollInterval)
	defer poll.Stop()

	for {
		select {
		case <-countdown.C:
			remaining := time.Until(p.expiresAt)
			if remaining <= 0 {
				// the local view flips to expired without waiting for the
				// server to confirm
				p.emitExpired()
				return nil
			}
			if p.events.OnTick != nil {
				p.events.OnTick(remaining)
			}

		case <-poll.C:
			st, err := p.api.Status(ctx, p.sessionID)
			switch {
			case errors.Is(err, ErrNotFound), errors.Is(err, ErrGone):
				// cleaned up after finishing; no failure reason means success
				p.finishScanned(ctx, "")
				return nil
			case err != nil:
				// transient poll failure, keep going
				continue
			}

			switch {
			case st.Scanned:
				ref := ""
				if st.ResultRef != nil {
					ref = *st.ResultRef
				}
				p.finishScanned(ctx, ref)
				return nil
			case st.Status == "expired":
				p.emitExpired()
				return nil
			case st.Status == "cancelled":
				if p.events.OnCancelled != nil {
					p.events.OnCancelled()
				}
				return nil
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *Poller) emitExpired() {
	if p.events.OnExpired != nil {
		p.events.OnExpired()
	}
}

// finishScanned surfaces success, then waits out the refresh delay before
// telling the application to reload, because the created pass may not be
// queryable the instant the scan lands.
func (p *Poller) finishScanned(ctx context.Context, resultRef string) {
	if p.events.OnScanned != nil {
		p.events.OnScanned(resultRef)
	}
	if p.events.OnRefresh == nil {
		return
	}
	select {
	case <-time.After(p.refreshDelay):
		p.events.OnRefresh()
	case <-ctx.Done():
	}
}

// Cancel abandons the session. A not-found or gone answer means the session
// already finalized server-side; that race is harmless and swallowed.
func (p *Poller) Cancel(ctx context.Context) error {
	_, err := p.api.Cancel(ctx, p.sessionID)
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrGone) {
		return nil
	}
	return err
}
