package pass

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotCreated signals a creation failure where the creator guarantees no
// side effect occurred; the caller may safely roll the session back.
var ErrNotCreated = errors.New("pass not created")

// ErrAlreadyCreated means a pass for this session exists already; the
// completion was reprocessed and the existing pass should be reused.
var ErrAlreadyCreated = errors.New("pass already created for session")

// Creator is the resource-creation side effect triggered by a completed
// pairing session. Implementations must be idempotent per session ID.
type Creator interface {
	Create(ctx context.Context, p *Pass) error
}

// Repository defines persistence for created passes.
type Repository interface {
	Creator
	GetBySessionID(ctx context.Context, sessionID string) (*Pass, error)
	GetByID(ctx context.Context, passID uuid.UUID) (*Pass, error)
}
