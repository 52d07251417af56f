package capa

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the persistence port for CAPA actions.
type Repository interface {
	Create(ctx context.Context, a *Action) error
	GetByID(ctx context.Context, id uuid.UUID) (*Action, error)
	Update(ctx context.Context, a *Action) error
	Search(ctx context.Context, f Filter, limit, offset int) ([]*Action, int, error)
}
