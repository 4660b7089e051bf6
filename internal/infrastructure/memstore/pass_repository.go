package memstore

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/keyfold/keyfold/internal/domain/pass"
)

// PassRepository is an in-process pass.Repository. Creation is idempotent
// per session ID.
type PassRepository struct {
	mu        sync.Mutex
	bySession map[string]*pass.Pass
	byID      map[uuid.UUID]*pass.Pass
}

func NewPassRepository() *PassRepository {
	return &PassRepository{
		bySession: make(map[string]*pass.Pass),
		byID:      make(map[uuid.UUID]*pass.Pass),
	}
}

func (r *PassRepository) Create(_ context.Context, p *pass.Pass) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bySession[p.SessionID]; ok {
		return pass.ErrAlreadyCreated
	}
	r.bySession[p.SessionID] = p
	r.byID[p.PassID] = p
	return nil
}

func (r *PassRepository) GetBySessionID(_ context.Context, sessionID string) (*pass.Pass, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.bySession[sessionID]
	if !ok {
		return nil, pass.ErrNotCreated
	}
	return p, nil
}

func (r *PassRepository) GetByID(_ context.Context, passID uuid.UUID) (*pass.Pass, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[passID]
	if !ok {
		return nil, pass.ErrNotCreated
	}
	return p, nil
}
