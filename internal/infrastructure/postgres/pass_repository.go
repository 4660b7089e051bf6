package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/keyfold/keyfold/internal/domain/pass"
)

// PassRepository implements pass.Repository. Creation is keyed by the
// pairing session ID, so reprocessing a completion never duplicates a pass.
type PassRepository struct {
	pool *pgxpool.Pool
}

func NewPassRepository(pool *pgxpool.Pool) *PassRepository {
	return &PassRepository{pool: pool}
}

func (r *PassRepository) Create(ctx context.Context, p *pass.Pass) error {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO passes (pass_id, session_id, owner_ref, kind, data, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (session_id) DO NOTHING
	`, p.PassID, p.SessionID, p.OwnerRef, p.Kind, p.Data, p.CreatedAt)
	if err != nil {
		// the statement is atomic, but a transport failure leaves the
		// outcome unknown; let the caller decide
		return fmt.Errorf("insert pass: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pass.ErrAlreadyCreated
	}
	return nil
}

func (r *PassRepository) GetBySessionID(ctx context.Context, sessionID string) (*pass.Pass, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT pass_id, session_id, owner_ref, kind, data, created_at
		FROM passes WHERE session_id=$1
	`, sessionID)
	return scanPass(row)
}

func (r *PassRepository) GetByID(ctx context.Context, passID uuid.UUID) (*pass.Pass, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT pass_id, session_id, owner_ref, kind, data, created_at
		FROM passes WHERE pass_id=$1
	`, passID)
	return scanPass(row)
}

func scanPass(row pgx.Row) (*pass.Pass, error) {
	var p pass.Pass
	if err := row.Scan(&p.PassID, &p.SessionID, &p.OwnerRef, &p.Kind, &p.Data, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pass.ErrNotCreated
		}
		return nil, err
	}
	return &p, nil
}
