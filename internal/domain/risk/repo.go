package risk

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrDuplicateCode signals a register code collision; the service retries
// with the next sequence number.
var ErrDuplicateCode = errors.New("risk: duplicate register code")

// Repository is the persistence port for the risk register.
type Repository interface {
	Create(ctx context.Context, r *Risk) error
	GetByID(ctx context.Context, id uuid.UUID) (*Risk, error)
	GetByCode(ctx context.Context, code string) (*Risk, error)

	// GetBySourceIncident returns the risk escalated from the given
	// incident, or nil. Backs the at-most-once escalation guarantee.
	GetBySourceIncident(ctx context.Context, incidentID uuid.UUID) (*Risk, error)

	Update(ctx context.Context, r *Risk) error
	Search(ctx context.Context, f Filter, limit, offset int) ([]*Risk, int, error)

	// NextCodeSeq returns one plus the highest NNN already issued for the
	// given year.
	NextCodeSeq(ctx context.Context, year int) (int, error)

	AddAssessment(ctx context.Context, a *Assessment) error
	Assessments(ctx context.Context, riskID uuid.UUID) ([]*Assessment, error)
}
