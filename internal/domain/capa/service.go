package capa

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/psims/psims/internal/platform/auditchain"
	"github.com/psims/psims/internal/platform/auth"
	"github.com/psims/psims/internal/platform/db"
	"github.com/psims/psims/internal/platform/errs"
)

// AuditRecorder appends to the tamper-evident audit chain.
type AuditRecorder interface {
	Record(ctx context.Context, ev auditchain.Event) (*auditchain.Entry, error)
}

// Service implements the CAPA workflow.
type Service struct {
	repo  Repository
	audit AuditRecorder
	tx    db.TxRunner
	now   func() time.Time
}

func NewService(repo Repository, audit AuditRecorder, tx db.TxRunner) *Service {
	return &Service{repo: repo, audit: audit, tx: tx, now: time.Now}
}

func (s *Service) validate(a *Action) error {
	if a.Title == "" {
		return errs.Validation("title is required")
	}
	if !a.Kind.Valid() {
		return errs.Validation("kind must be corrective or preventive")
	}
	if a.RiskID == nil && a.IncidentID == nil {
		return errs.Validation("action must reference a risk or an incident")
	}
	if a.AssigneeID == "" {
		return errs.Validation("assignee is required")
	}
	return nil
}

// Create registers a new action in open status.
func (s *Service) Create(ctx context.Context, a *Action, actor auditchain.Actor) error {
	if err := s.validate(a); err != nil {
		return err
	}
	a.ID = uuid.New()
	a.Status = StatusOpen

	return s.tx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, a); err != nil {
			return fmt.Errorf("create action: %w", err)
		}
		rid := a.ID.String()
		ev := auditchain.NewEvent(auditchain.KindCAPA, actor, "capa_action", &rid, auditchain.ResultSuccess)
		ev.Detail = map[string]any{"action": "create", "kind": string(a.Kind), "assignee": a.AssigneeID}
		if _, err := s.audit.Record(ctx, ev); err != nil {
			return fmt.Errorf("audit action create: %w", err)
		}
		return nil
	})
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Action, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, errs.NotFound("capa action", id.String())
	}
	return a, nil
}

func (s *Service) Search(ctx context.Context, f Filter, limit, offset int) ([]*Action, int, error) {
	return s.repo.Search(ctx, f, limit, offset)
}

// Update edits descriptive fields and assignment while the action is live.
func (s *Service) Update(ctx context.Context, id uuid.UUID, upd *Action, actor auditchain.Actor) (*Action, error) {
	var out *Action
	err := s.tx(ctx, func(ctx context.Context) error {
		a, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		if a.Status.Terminal() {
			return errs.Conflict("action %s is %s and cannot be edited", a.ID, a.Status)
		}
		a.Title = upd.Title
		a.Description = upd.Description
		a.Kind = upd.Kind
		a.AssigneeID = upd.AssigneeID
		a.AssigneeName = upd.AssigneeName
		a.DueDate = upd.DueDate
		if err := s.validate(a); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, a); err != nil {
			return fmt.Errorf("update action: %w", err)
		}
		rid := a.ID.String()
		ev := auditchain.NewEvent(auditchain.KindCAPA, actor, "capa_action", &rid, auditchain.ResultSuccess)
		ev.Detail = map[string]any{"action": "update"}
		if _, err := s.audit.Record(ctx, ev); err != nil {
			return fmt.Errorf("audit action update: %w", err)
		}
		out = a
		return nil
	})
	return out, err
}

// Transition moves an action through its lifecycle. Verification is a
// distinct act: it requires capa.verify, must be done by someone other than
// the assignee, and stamps the verifier.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, to Status, actor auditchain.Actor) (*Action, error) {
	var out *Action
	err := s.tx(ctx, func(ctx context.Context) error {
		a, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		if !CanTransition(a.Status, to) {
			return errs.Conflict("action cannot move from %s to %s", a.Status, to)
		}
		now := s.now().UTC()
		switch to {
		case StatusCompleted:
			a.CompletedAt = &now
		case StatusVerified:
			if !auth.PermissionFromContext(ctx, auth.PermCAPAVerify) {
				return errs.Forbidden("verifying an action requires the capa.verify permission")
			}
			if actor.ID != "" && actor.ID == a.AssigneeID {
				return errs.Validation("assignees cannot verify their own action")
			}
			a.VerifiedAt = &now
			a.VerifierID = actor.ID
			a.VerifierName = actor.Name
		case StatusInProgress:
			// Re-opened after a failed verification keeps prior stamps off.
			a.CompletedAt = nil
		}
		from := a.Status
		a.Status = to
		if err := s.repo.Update(ctx, a); err != nil {
			return fmt.Errorf("transition action: %w", err)
		}

		rid := a.ID.String()
		ev := auditchain.NewEvent(auditchain.KindCAPA, actor, "capa_action", &rid, auditchain.ResultSuccess)
		ev.Detail = map[string]any{"action": "transition", "from": string(from), "to": string(to)}
		if _, err := s.audit.Record(ctx, ev); err != nil {
			return fmt.Errorf("audit action transition: %w", err)
		}
		out = a
		return nil
	})
	return out, err
}

// Overdue lists unfinished actions past their due date.
func (s *Service) Overdue(ctx context.Context, limit, offset int) ([]*Action, int, error) {
	now := s.now().UTC()
	return s.repo.Search(ctx, Filter{OverdueAt: &now}, limit, offset)
}
