package core

import (
	"context"

	"github.com/dkeye/huddle/internal/domain"
)

// Identity is a verified (or guest) caller of the signaling surface.
type Identity struct {
	ID          domain.UserID
	DisplayName string
	Email       string
	Verified    bool
}

type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}
