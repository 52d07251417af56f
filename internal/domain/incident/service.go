package incident

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/psims/psims/internal/platform/auditchain"
	"github.com/psims/psims/internal/platform/db"
	"github.com/psims/psims/internal/platform/errs"
)

// AuditRecorder appends to the tamper-evident audit chain. A failure here
// aborts the surrounding transaction.
type AuditRecorder interface {
	Record(ctx context.Context, ev auditchain.Event) (*auditchain.Entry, error)
}

// Escalator evaluates a freshly reported incident against the risk engine's
// auto-escalation rules. It returns the created risk's id, or nil when no
// rule fired.
type Escalator interface {
	EvaluateIncident(ctx context.Context, inc *Incident, actor auditchain.Actor) (*uuid.UUID, error)
}

// Service implements the incident reporting workflow.
type Service struct {
	repo  Repository
	audit AuditRecorder
	esc   Escalator
	tx    db.TxRunner
	now   func() time.Time
}

func NewService(repo Repository, audit AuditRecorder, tx db.TxRunner) *Service {
	return &Service{repo: repo, audit: audit, tx: tx, now: time.Now}
}

// SetEscalator wires the risk engine; set after both services exist.
func (s *Service) SetEscalator(esc Escalator) { s.esc = esc }

func (s *Service) validate(inc *Incident) error {
	if inc.Title == "" {
		return errs.Validation("title is required")
	}
	if inc.Description == "" {
		return errs.Validation("description is required")
	}
	if inc.Department == "" {
		return errs.Validation("department is required")
	}
	if !inc.Category.Valid() {
		return errs.Validation("unknown category %q", inc.Category)
	}
	if !inc.Grade.Valid() {
		return errs.Validation("unknown grade %q", inc.Grade)
	}
	if inc.OccurredAt.IsZero() {
		return errs.Validation("occurred_at is required")
	}
	if inc.OccurredAt.After(s.now()) {
		return errs.Validation("occurred_at cannot be in the future")
	}
	return nil
}

// Create validates and stores a new report, assigns its PSR code, writes the
// audit entry and runs auto-escalation, all in one transaction.
func (s *Service) Create(ctx context.Context, inc *Incident, actor auditchain.Actor) error {
	if err := s.validate(inc); err != nil {
		return err
	}
	inc.ID = uuid.New()
	inc.Status = StatusSubmitted
	inc.OccurredAt = inc.OccurredAt.UTC()
	inc.ReporterID = actor.ID
	inc.ReporterName = actor.Name
	if inc.Anonymous {
		inc.ReporterName = ""
	}

	return s.tx(ctx, func(ctx context.Context) error {
		year := s.now().UTC().Year()
		seq, err := s.repo.NextCodeSeq(ctx, year)
		if err != nil {
			return fmt.Errorf("next report code: %w", err)
		}
		for attempt := 0; ; attempt++ {
			inc.Code = fmt.Sprintf("PSR-%d-%04d", year, seq)
			err = s.repo.Create(ctx, inc)
			if err == nil {
				break
			}
			if errors.Is(err, ErrDuplicateCode) && attempt < 2 {
				seq++
				continue
			}
			return fmt.Errorf("create incident: %w", err)
		}

		id := inc.ID.String()
		ev := auditchain.NewEvent(auditchain.KindIncident, actor, "incident", &id, auditchain.ResultSuccess)
		ev.Detail = map[string]any{
			"action": "create", "code": inc.Code,
			"category": string(inc.Category), "grade": string(inc.Grade),
			"department": inc.Department,
		}
		if _, err := s.audit.Record(ctx, ev); err != nil {
			return fmt.Errorf("audit incident create: %w", err)
		}

		if s.esc != nil {
			riskID, err := s.esc.EvaluateIncident(ctx, inc, actor)
			if err != nil {
				return fmt.Errorf("evaluate escalation: %w", err)
			}
			if riskID != nil {
				inc.RiskID = riskID
				if err := s.repo.Update(ctx, inc); err != nil {
					return fmt.Errorf("link incident to risk: %w", err)
				}
			}
		}
		return nil
	})
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Incident, error) {
	inc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if inc == nil || inc.DeletedAt != nil {
		return nil, errs.NotFound("incident", id.String())
	}
	return inc, nil
}

func (s *Service) GetByCode(ctx context.Context, code string) (*Incident, error) {
	inc, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if inc == nil || inc.DeletedAt != nil {
		return nil, errs.NotFound("incident", code)
	}
	return inc, nil
}

func (s *Service) Search(ctx context.Context, f Filter, limit, offset int) ([]*Incident, int, error) {
	return s.repo.Search(ctx, f, limit, offset)
}

// Update modifies a report that has not yet entered review. Category, grade
// and narrative fields may change; code, reporter and status may not.
func (s *Service) Update(ctx context.Context, id uuid.UUID, upd *Incident, actor auditchain.Actor) (*Incident, error) {
	var out *Incident
	err := s.tx(ctx, func(ctx context.Context) error {
		inc, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		if inc.Status != StatusSubmitted {
			return errs.Conflict("incident %s is under review and cannot be edited", inc.Code)
		}
		inc.Title = upd.Title
		inc.Description = upd.Description
		inc.Category = upd.Category
		inc.Grade = upd.Grade
		inc.Department = upd.Department
		inc.Location = upd.Location
		inc.OccurredAt = upd.OccurredAt.UTC()
		inc.DiscoveredAt = upd.DiscoveredAt
		inc.ImmediateAction = upd.ImmediateAction
		inc.PatientRef = upd.PatientRef
		inc.Detail = upd.Detail
		if err := s.validate(inc); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, inc); err != nil {
			return fmt.Errorf("update incident: %w", err)
		}

		rid := inc.ID.String()
		ev := auditchain.NewEvent(auditchain.KindIncident, actor, "incident", &rid, auditchain.ResultSuccess)
		ev.Detail = map[string]any{"action": "update", "code": inc.Code}
		if _, err := s.audit.Record(ctx, ev); err != nil {
			return fmt.Errorf("audit incident update: %w", err)
		}
		out = inc
		return nil
	})
	return out, err
}

// Delete soft-deletes a report that has not yet entered review.
func (s *Service) Delete(ctx context.Context, id uuid.UUID, actor auditchain.Actor) error {
	return s.tx(ctx, func(ctx context.Context) error {
		inc, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		if inc.Status != StatusSubmitted {
			return errs.Conflict("incident %s is under review and cannot be deleted", inc.Code)
		}
		if err := s.repo.SoftDelete(ctx, id, s.now().UTC()); err != nil {
			return fmt.Errorf("delete incident: %w", err)
		}

		rid := id.String()
		ev := auditchain.NewEvent(auditchain.KindIncident, actor, "incident", &rid, auditchain.ResultSuccess)
		ev.Detail = map[string]any{"action": "delete", "code": inc.Code}
		if _, err := s.audit.Record(ctx, ev); err != nil {
			return fmt.Errorf("audit incident delete: %w", err)
		}
		return nil
	})
}

// statusForLevel maps each approval level to the status it acts on and the
// status an approval advances to.
var statusForLevel = map[int]struct{ from, to Status }{
	1: {StatusSubmitted, StatusQPSReview},
	2: {StatusQPSReview, StatusDirectorReview},
	3: {StatusDirectorReview, StatusApproved},
}

// Decide records one review decision. Approvals advance the workflow one
// level; a rejection at any level is terminal. Reviewers cannot decide on
// their own reports.
func (s *Service) Decide(ctx context.Context, id uuid.UUID, level int, decision Decision, comment string, actor auditchain.Actor) (*Incident, error) {
	tr, ok := statusForLevel[level]
	if !ok {
		return nil, errs.Validation("approval level must be 1-3")
	}
	if decision != DecisionApprove && decision != DecisionReject {
		return nil, errs.Validation("decision must be approve or reject")
	}

	var out *Incident
	err := s.tx(ctx, func(ctx context.Context) error {
		inc, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		if inc.Status != tr.from {
			return errs.Conflict("incident %s is in status %s, level %d review not applicable", inc.Code, inc.Status, level)
		}
		if inc.ReporterID != "" && inc.ReporterID == actor.ID {
			return errs.Validation("reviewers cannot decide on their own report")
		}

		step := &ApprovalStep{
			ID:           uuid.New(),
			IncidentID:   inc.ID,
			Level:        level,
			ApproverID:   actor.ID,
			ApproverName: actor.Name,
			Decision:     decision,
			Comment:      comment,
			DecidedAt:    s.now().UTC(),
		}
		if err := s.repo.AddApproval(ctx, step); err != nil {
			return fmt.Errorf("record approval: %w", err)
		}

		if decision == DecisionApprove {
			inc.Status = tr.to
		} else {
			inc.Status = StatusRejected
		}
		if err := s.repo.Update(ctx, inc); err != nil {
			return fmt.Errorf("advance incident status: %w", err)
		}

		rid := inc.ID.String()
		ev := auditchain.NewEvent(auditchain.KindApproval, actor, "incident", &rid, auditchain.ResultSuccess)
		ev.Detail = map[string]any{
			"action": string(decision), "level": level,
			"code": inc.Code, "status": string(inc.Status),
		}
		if _, err := s.audit.Record(ctx, ev); err != nil {
			return fmt.Errorf("audit approval: %w", err)
		}
		out = inc
		return nil
	})
	return out, err
}

func (s *Service) Approvals(ctx context.Context, incidentID uuid.UUID) ([]*ApprovalStep, error) {
	if _, err := s.Get(ctx, incidentID); err != nil {
		return nil, err
	}
	return s.repo.Approvals(ctx, incidentID)
}
