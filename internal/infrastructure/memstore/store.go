package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/keyfold/keyfold/internal/domain/pairing"
)

// Options control retention behavior.
type Options struct {
	// GracePeriod is how long a terminal session stays readable before it is
	// downgraded to a tombstone.
	GracePeriod time.Duration
	// TombstoneTTL is how long the tombstone answers Gone before the ID is
	// forgotten entirely.
	TombstoneTTL time.Duration
	// JanitorInterval drives the internal sweep. Zero disables the janitor;
	// callers then run ExpireOverdue/PurgeFinalized themselves.
	JanitorInterval time.Duration
}

type entry struct {
	session   *pairing.Session
	tombstone bool
	// purgeAt is when the entry moves to its next retention phase:
	// terminal record -> tombstone -> removed.
	purgeAt time.Time
}

// Store is an in-process pairing.Store backed by a mutex-guarded map.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	opts    Options
	stop    chan struct{}
	done    chan struct{}
}

// New creates a Store and starts its janitor when configured.
func New(opts Options) *Store {
	s := &Store{
		entries: make(map[string]*entry),
		opts:    opts,
	}
	if opts.JanitorInterval > 0 {
		s.stop = make(chan struct{})
		s.done = make(chan struct{})
		go s.janitor()
	}
	return s
}

// Close stops the janitor.
func (s *Store) Close() {
	if s.stop == nil {
		return
	}
	close(s.stop)
	<-s.done
}

func (s *Store) janitor() {
	defer close(s.done)
	ticker := time.NewTicker(s.opts.JanitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_, _ = s.ExpireOverdue(context.Background())
			_, _ = s.PurgeFinalized(context.Background())
		case <-s.stop:
			return
		}
	}
}

func (s *Store) Put(_ context.Context, session *pairing.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[session.SessionID]; ok {
		return pairing.ErrDuplicateSession
	}
	s.entries[session.SessionID] = &entry{session: session.Clone()}
	return nil
}

func (s *Store) Get(_ context.Context, sessionID string) (*pairing.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[sessionID]
	if !ok {
		return nil, pairing.ErrNotFound
	}
	if e.tombstone {
		return nil, pairing.ErrGone
	}
	s.expireLocked(e, time.Now().UTC())
	return e.session.Clone(), nil
}

// expireLocked applies the lazy-expiry rule to an active entry.
func (s *Store) expireLocked(e *entry, now time.Time) {
	if e.session.Status != pairing.StatusActive || !e.session.IsExpired(now) {
		return
	}
	e.session.Status = pairing.StatusExpired
	at := now
	e.session.FinalizedAt = &at
	e.purgeAt = now.Add(s.opts.GracePeriod)
}

func (s *Store) CompareAndSwapStatus(_ context.Context, sessionID string, expected, next pairing.Status) (*pairing.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[sessionID]
	if !ok {
		return nil, pairing.ErrNotFound
	}
	if e.tombstone {
		return nil, pairing.ErrGone
	}

	now := time.Now().UTC()
	if expected == pairing.StatusActive && next != pairing.StatusExpired && e.session.Status == pairing.StatusActive && e.session.IsExpired(now) {
		s.expireLocked(e, now)
		return e.session.Clone(), pairing.ErrSessionExpired
	}
	if e.session.Status != expected {
		return e.session.Clone(), pairing.ErrAlreadyFinalized
	}

	e.session.Status = next
	if next.IsTerminal() {
		at := now
		e.session.FinalizedAt = &at
		e.purgeAt = now.Add(s.opts.GracePeriod)
	} else {
		e.session.FinalizedAt = nil
		e.purgeAt = time.Time{}
	}
	return e.session.Clone(), nil
}

func (s *Store) AttachResult(_ context.Context, sessionID string, scannerRef string, resultRef uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[sessionID]
	if !ok {
		return pairing.ErrNotFound
	}
	if e.tombstone {
		return pairing.ErrGone
	}
	e.session.ScannerRef = scannerRef
	ref := resultRef
	e.session.ResultRef = &ref
	return nil
}

func (s *Store) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[sessionID]; !ok {
		return pairing.ErrNotFound
	}
	delete(s.entries, sessionID)
	return nil
}

func (s *Store) ExpireOverdue(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	n := 0
	for _, e := range s.entries {
		if e.tombstone {
			continue
		}
		if e.session.Status == pairing.StatusActive && e.session.IsExpired(now) {
			s.expireLocked(e, now)
			n++
		}
	}
	return n, nil
}

func (s *Store) PurgeFinalized(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	n := 0
	for id, e := range s.entries {
		if e.purgeAt.IsZero() || now.Before(e.purgeAt) {
			continue
		}
		if e.tombstone {
			delete(s.entries, id)
		} else {
			e.tombstone = true
			e.session = &pairing.Session{SessionID: id, Status: e.session.Status}
			e.purgeAt = now.Add(s.opts.TombstoneTTL)
		}
		n++
	}
	return n, nil
}
