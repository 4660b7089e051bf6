package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/keyfold/keyfold/internal/domain/pass"
)

// MockRepository is a mock implementation of pass.Repository
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Create(ctx context.Context, p *pass.Pass) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *MockRepository) GetBySessionID(ctx context.Context, sessionID string) (*pass.Pass, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pass.Pass), args.Error(1)
}

func (m *MockRepository) GetByID(ctx context.Context, passID uuid.UUID) (*pass.Pass, error) {
	args := m.Called(ctx, passID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pass.Pass), args.Error(1)
}
