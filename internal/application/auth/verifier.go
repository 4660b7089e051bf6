package auth

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Verifier resolves a bearer token to the owner it identifies. Token
// issuance belongs to the login subsystem; this service only consumes it.
type Verifier interface {
	Verify(ctx context.Context, token string) (uuid.UUID, error)
}

// StaticVerifier resolves tokens from a fixed map, for deployments where the
// login subsystem provisions tokens out of band, and for tests.
type StaticVerifier struct {
	owners map[string]uuid.UUID
}

// NewStaticVerifier builds a verifier from token->uuid pairs.
func NewStaticVerifier(tokens map[string]string) (*StaticVerifier, error) {
	owners := make(map[string]uuid.UUID, len(tokens))
	for token, raw := range tokens {
		ref, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("owner ref for token: %w", err)
		}
		owners[token] = ref
	}
	return &StaticVerifier{owners: owners}, nil
}

func (v *StaticVerifier) Verify(_ context.Context, token string) (uuid.UUID, error) {
	ref, ok := v.owners[token]
	if !ok {
		return uuid.Nil, fmt.Errorf("unknown token")
	}
	return ref, nil
}
