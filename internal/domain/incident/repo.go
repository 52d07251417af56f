package incident

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrDuplicateCode signals a report code collision; the service retries
// with the next sequence number.
var ErrDuplicateCode = errors.New("incident: duplicate report code")

// Repository is the persistence port for incident reports.
type Repository interface {
	Create(ctx context.Context, inc *Incident) error
	GetByID(ctx context.Context, id uuid.UUID) (*Incident, error)
	GetByCode(ctx context.Context, code string) (*Incident, error)
	Update(ctx context.Context, inc *Incident) error
	SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error
	Search(ctx context.Context, f Filter, limit, offset int) ([]*Incident, int, error)

	// NextCodeSeq returns one plus the highest NNNN already issued for the
	// given year, so codes stay dense within a year.
	NextCodeSeq(ctx context.Context, year int) (int, error)

	// CountSimilarSince counts non-deleted incidents sharing category and
	// department with occurred_at >= since. Used by the recurrence rule.
	CountSimilarSince(ctx context.Context, category Category, department string, since time.Time) (int, error)

	AddApproval(ctx context.Context, step *ApprovalStep) error
	Approvals(ctx context.Context, incidentID uuid.UUID) ([]*ApprovalStep, error)
}
