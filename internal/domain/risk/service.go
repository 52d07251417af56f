package risk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/psims/psims/internal/domain/incident"
	"github.com/psims/psims/internal/platform/auditchain"
	"github.com/psims/psims/internal/platform/auth"
	"github.com/psims/psims/internal/platform/db"
	"github.com/psims/psims/internal/platform/errs"
)

// AuditRecorder appends to the tamper-evident audit chain.
type AuditRecorder interface {
	Record(ctx context.Context, ev auditchain.Event) (*auditchain.Entry, error)
}

// IncidentSource is the slice of the incident repository the escalation
// rules need.
type IncidentSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (*incident.Incident, error)
	CountSimilarSince(ctx context.Context, category incident.Category, department string, since time.Time) (int, error)
	Search(ctx context.Context, f incident.Filter, limit, offset int) ([]*incident.Incident, int, error)
	Update(ctx context.Context, inc *incident.Incident) error
}

// EscalationConfig tunes the auto-escalation rules.
type EscalationConfig struct {
	// Grades that escalate on their own, regardless of recurrence.
	Grades []incident.Grade
	// WindowDays is the trailing window for the recurrence rule.
	WindowDays int
	// Threshold is the similar-incident count (including the new one) at
	// which recurrence escalates.
	Threshold int
}

// DefaultEscalationConfig escalates death and severe outcomes immediately
// and three similar incidents within 90 days.
func DefaultEscalationConfig() EscalationConfig {
	return EscalationConfig{
		Grades:     []incident.Grade{incident.GradeDeath, incident.GradeSevere},
		WindowDays: 90,
		Threshold:  3,
	}
}

// Service implements the risk register and the escalation engine.
type Service struct {
	repo      Repository
	incidents IncidentSource
	audit     AuditRecorder
	tx        db.TxRunner
	cfg       EscalationConfig
	now       func() time.Time
}

func NewService(repo Repository, incidents IncidentSource, audit AuditRecorder, tx db.TxRunner, cfg EscalationConfig) *Service {
	if cfg.WindowDays <= 0 || cfg.Threshold <= 0 {
		cfg = DefaultEscalationConfig()
	}
	return &Service{repo: repo, incidents: incidents, audit: audit, tx: tx, cfg: cfg, now: time.Now}
}

func (s *Service) validate(r *Risk) error {
	if r.Title == "" {
		return errs.Validation("title is required")
	}
	if r.Department == "" {
		return errs.Validation("department is required")
	}
	if !r.Category.Valid() {
		return errs.Validation("unknown category %q", r.Category)
	}
	if !r.Source.Valid() {
		return errs.Validation("unknown source %q", r.Source)
	}
	if r.Source == SourcePSR && r.SourceIncidentID == nil {
		return errs.Validation("psr-sourced risks must reference the originating incident")
	}
	return nil
}

// create stores a risk, its code, its initial assessment and the audit
// entry. Callers run it inside a transaction.
func (s *Service) create(ctx context.Context, r *Risk, p, sev int, note string, kind auditchain.Kind, actor auditchain.Actor) error {
	score, level, err := ScoreAndLevel(p, sev)
	if err != nil {
		return err
	}
	if err := s.validate(r); err != nil {
		return err
	}

	r.ID = uuid.New()
	r.Status = StatusIdentified
	r.CurrentP, r.CurrentS = p, sev
	r.CurrentScore, r.CurrentLevel = score, level

	year := s.now().UTC().Year()
	seq, err := s.repo.NextCodeSeq(ctx, year)
	if err != nil {
		return fmt.Errorf("next register code: %w", err)
	}
	for attempt := 0; ; attempt++ {
		r.Code = fmt.Sprintf("R-%d-%03d", year, seq)
		err = s.repo.Create(ctx, r)
		if err == nil {
			break
		}
		if errors.Is(err, ErrDuplicateCode) && attempt < 2 {
			seq++
			continue
		}
		return fmt.Errorf("create risk: %w", err)
	}

	a := &Assessment{
		ID:           uuid.New(),
		RiskID:       r.ID,
		Type:         AssessInitial,
		P:            p,
		S:            sev,
		Score:        score,
		Level:        level,
		Note:         note,
		AssessorID:   actor.ID,
		AssessorName: actor.Name,
		AssessedAt:   s.now().UTC(),
	}
	if err := s.repo.AddAssessment(ctx, a); err != nil {
		return fmt.Errorf("record initial assessment: %w", err)
	}

	rid := r.ID.String()
	ev := auditchain.NewEvent(kind, actor, "risk", &rid, auditchain.ResultSuccess)
	ev.Detail = map[string]any{
		"code": r.Code, "origin": string(r.Origin),
		"p": p, "s": sev, "score": score, "level": string(level),
	}
	if r.SourceIncidentID != nil {
		ev.Detail["source_incident_id"] = r.SourceIncidentID.String()
	}
	if _, err := s.audit.Record(ctx, ev); err != nil {
		return fmt.Errorf("audit risk create: %w", err)
	}
	return nil
}

// Create registers a manually identified risk with its initial P/S.
func (s *Service) Create(ctx context.Context, r *Risk, p, sev int, note string, actor auditchain.Actor) error {
	r.Origin = OriginManual
	r.SourceIncidentID = nil
	if r.Source == "" {
		r.Source = SourceOther
	}
	return s.tx(ctx, func(ctx context.Context) error {
		return s.create(ctx, r, p, sev, note, auditchain.KindRiskCreate, actor)
	})
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Risk, error) {
	r, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, errs.NotFound("risk", id.String())
	}
	return r, nil
}

func (s *Service) Search(ctx context.Context, f Filter, limit, offset int) ([]*Risk, int, error) {
	return s.repo.Search(ctx, f, limit, offset)
}

// Update edits descriptive fields and ownership. Scores change only through
// assessments, status only through Transition.
func (s *Service) Update(ctx context.Context, id uuid.UUID, upd *Risk, actor auditchain.Actor) (*Risk, error) {
	var out *Risk
	err := s.tx(ctx, func(ctx context.Context) error {
		r, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		if r.Status.Terminal() {
			return errs.Conflict("risk %s is %s and cannot be edited", r.Code, r.Status)
		}
		r.Title = upd.Title
		r.Description = upd.Description
		r.Category = upd.Category
		r.Department = upd.Department
		if upd.Source != "" {
			r.Source = upd.Source
		}
		r.Reason = upd.Reason
		r.OwnerID = upd.OwnerID
		r.OwnerName = upd.OwnerName
		if err := s.validate(r); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, r); err != nil {
			return fmt.Errorf("update risk: %w", err)
		}

		rid := r.ID.String()
		ev := auditchain.NewEvent(auditchain.KindRiskUpdate, actor, "risk", &rid, auditchain.ResultSuccess)
		ev.Detail = map[string]any{"action": "update", "code": r.Code}
		if _, err := s.audit.Record(ctx, ev); err != nil {
			return fmt.Errorf("audit risk update: %w", err)
		}
		out = r
		return nil
	})
	return out, err
}

// Transition moves a risk through its lifecycle. Only entering closed
// requires the risk.close permission; accepting a risk is an ordinary
// management decision. Either terminal state stamps who ended the lifecycle
// and when.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, to Status, actor auditchain.Actor) (*Risk, error) {
	var out *Risk
	err := s.tx(ctx, func(ctx context.Context) error {
		r, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		if !CanTransition(r.Status, to) {
			return errs.Conflict("risk %s cannot move from %s to %s", r.Code, r.Status, to)
		}
		kind := auditchain.KindRiskUpdate
		if to == StatusClosed {
			if !auth.PermissionFromContext(ctx, auth.PermRiskClose) {
				return errs.Forbidden("closing a risk requires the risk.close permission")
			}
			kind = auditchain.KindRiskClose
		}
		if to.Terminal() {
			now := s.now().UTC()
			r.ClosedAt = &now
			r.ClosedByID = actor.ID
			r.ClosedByName = actor.Name
		}
		from := r.Status
		r.Status = to
		if err := s.repo.Update(ctx, r); err != nil {
			return fmt.Errorf("transition risk: %w", err)
		}

		rid := r.ID.String()
		ev := auditchain.NewEvent(kind, actor, "risk", &rid, auditchain.ResultSuccess)
		ev.Detail = map[string]any{"code": r.Code, "from": string(from), "to": string(to)}
		if _, err := s.audit.Record(ctx, ev); err != nil {
			return fmt.Errorf("audit risk transition: %w", err)
		}
		out = r
		return nil
	})
	return out, err
}

// Assess records a new P×S evaluation. post_treatment assessments update the
// residual exposure; all other types update the current exposure.
func (s *Service) Assess(ctx context.Context, id uuid.UUID, typ AssessmentType, p, sev int, note string, actor auditchain.Actor) (*Assessment, error) {
	if !typ.Valid() {
		return nil, errs.Validation("unknown assessment type %q", typ)
	}
	score, level, err := ScoreAndLevel(p, sev)
	if err != nil {
		return nil, err
	}

	var out *Assessment
	err = s.tx(ctx, func(ctx context.Context) error {
		r, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		if r.Status.Terminal() {
			return errs.Conflict("risk %s is %s and cannot be re-assessed", r.Code, r.Status)
		}

		a := &Assessment{
			ID:           uuid.New(),
			RiskID:       r.ID,
			Type:         typ,
			P:            p,
			S:            sev,
			Score:        score,
			Level:        level,
			Note:         note,
			AssessorID:   actor.ID,
			AssessorName: actor.Name,
			AssessedAt:   s.now().UTC(),
		}
		if err := s.repo.AddAssessment(ctx, a); err != nil {
			return fmt.Errorf("record assessment: %w", err)
		}

		if typ == AssessPostTreatment {
			r.ResidualP, r.ResidualS = &a.P, &a.S
			r.ResidualScore, r.ResidualLevel = &a.Score, &a.Level
		} else {
			r.CurrentP, r.CurrentS = a.P, a.S
			r.CurrentScore, r.CurrentLevel = a.Score, a.Level
		}
		if err := s.repo.Update(ctx, r); err != nil {
			return fmt.Errorf("apply assessment: %w", err)
		}

		rid := r.ID.String()
		ev := auditchain.NewEvent(auditchain.KindRiskAssess, actor, "risk", &rid, auditchain.ResultSuccess)
		ev.Detail = map[string]any{
			"code": r.Code, "type": string(typ),
			"p": p, "s": sev, "score": score, "level": string(level),
		}
		if _, err := s.audit.Record(ctx, ev); err != nil {
			return fmt.Errorf("audit assessment: %w", err)
		}
		out = a
		return nil
	})
	return out, err
}

func (s *Service) Assessments(ctx context.Context, riskID uuid.UUID) ([]*Assessment, error) {
	if _, err := s.Get(ctx, riskID); err != nil {
		return nil, err
	}
	return s.repo.Assessments(ctx, riskID)
}
