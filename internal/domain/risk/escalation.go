package risk

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/psims/psims/internal/domain/incident"
	"github.com/psims/psims/internal/platform/auditchain"
	"github.com/psims/psims/internal/platform/errs"
)

// gradeEscalates reports whether the configured severe-outcome rule fires.
func (s *Service) gradeEscalates(g incident.Grade) bool {
	for _, eg := range s.cfg.Grades {
		if eg == g {
			return true
		}
	}
	return false
}

// recurrenceEscalates reports whether the recurrence rule fires: at least
// Threshold incidents of the same category in the same department within the
// trailing window, the new incident included.
func (s *Service) recurrenceEscalates(ctx context.Context, inc *incident.Incident) (bool, int, error) {
	since := s.now().UTC().AddDate(0, 0, -s.cfg.WindowDays)
	n, err := s.incidents.CountSimilarSince(ctx, inc.Category, inc.Department, since)
	if err != nil {
		return false, 0, fmt.Errorf("count similar incidents: %w", err)
	}
	return n >= s.cfg.Threshold, n, nil
}

// candidate applies the escalation rules to an incident and reports which
// origin would apply, with a human-readable reason. Incidents already linked
// to a risk are never candidates again.
func (s *Service) candidate(ctx context.Context, inc *incident.Incident) (Origin, string, bool, error) {
	if inc.RiskID != nil {
		return "", "", false, nil
	}
	if s.gradeEscalates(inc.Grade) {
		return OriginAutoGrade, fmt.Sprintf("incident grade %s escalates automatically", inc.Grade), true, nil
	}
	fires, n, err := s.recurrenceEscalates(ctx, inc)
	if err != nil {
		return "", "", false, err
	}
	if !fires {
		return "", "", false, nil
	}
	log.Info().Str("incident", inc.Code).Int("similar", n).Msg("recurrence rule fired")
	reason := fmt.Sprintf("%d %s incidents in department %s within %d days",
		n, inc.Category, inc.Department, s.cfg.WindowDays)
	return OriginAutoRecurrence, reason, true, nil
}

// EvaluateIncident applies the escalation rules to a new incident. It runs
// inside the incident creation transaction; a returned error aborts the
// report entirely.
func (s *Service) EvaluateIncident(ctx context.Context, inc *incident.Incident, actor auditchain.Actor) (*uuid.UUID, error) {
	origin, reason, ok, err := s.candidate(ctx, inc)
	if err != nil || !ok {
		return nil, err
	}

	r, err := s.escalate(ctx, inc, origin, reason, 0, 0, actor)
	if err != nil {
		return nil, err
	}
	return &r.ID, nil
}

// escalate creates the risk for an incident. At most one risk may ever be
// created per incident. Non-positive p/sev fall back to the grade-based
// suggestion.
func (s *Service) escalate(ctx context.Context, inc *incident.Incident, origin Origin, reason string, p, sev int, actor auditchain.Actor) (*Risk, error) {
	existing, err := s.repo.GetBySourceIncident(ctx, inc.ID)
	if err != nil {
		return nil, fmt.Errorf("check prior escalation: %w", err)
	}
	if existing != nil {
		return nil, errs.Conflict("incident %s already escalated to risk %s", inc.Code, existing.Code)
	}

	if p <= 0 || sev <= 0 {
		p, sev = SuggestInitialPS(inc.Grade)
	}
	incidentID := inc.ID
	r := &Risk{
		Title:            fmt.Sprintf("Escalated from %s: %s", inc.Code, inc.Title),
		Description:      inc.Description,
		Category:         CategoryFromIncident(inc.Category),
		Department:       inc.Department,
		Origin:           origin,
		Source:           SourcePSR,
		Reason:           reason,
		SourceIncidentID: &incidentID,
	}
	note := fmt.Sprintf("escalated (%s) from incident %s, grade %s: %s", origin, inc.Code, inc.Grade, reason)
	if err := s.create(ctx, r, p, sev, note, auditchain.KindRiskEscalate, actor); err != nil {
		return nil, err
	}
	return r, nil
}

// Escalate promotes an incident to the register by hand, e.g. when a QPS
// coordinator judges a moderate-grade incident systemic. P/S and reason are
// optional; absent values come from the grade suggestion. Same at-most-once
// guarantee as the automatic path.
func (s *Service) Escalate(ctx context.Context, incidentID uuid.UUID, p, sev int, reason string, actor auditchain.Actor) (*Risk, error) {
	var out *Risk
	err := s.tx(ctx, func(ctx context.Context) error {
		inc, err := s.incidents.GetByID(ctx, incidentID)
		if err != nil {
			return err
		}
		if inc == nil || inc.DeletedAt != nil {
			return errs.NotFound("incident", incidentID.String())
		}
		if reason == "" {
			reason = fmt.Sprintf("manually escalated from incident %s", inc.Code)
		}
		r, err := s.escalate(ctx, inc, OriginManual, reason, p, sev, actor)
		if err != nil {
			return err
		}
		inc.RiskID = &r.ID
		if err := s.incidents.Update(ctx, inc); err != nil {
			return fmt.Errorf("link incident to risk: %w", err)
		}
		out = r
		return nil
	})
	return out, err
}

// Candidate is an incident the escalation rules would promote.
type Candidate struct {
	IncidentID   uuid.UUID      `json:"incident_id"`
	IncidentCode string         `json:"incident_code"`
	Grade        incident.Grade `json:"grade"`
	Origin       Origin         `json:"origin"`
	Reason       string         `json:"reason"`
}

// EscalationCandidates lists unescalated incidents the rules would promote
// right now, without promoting them.
func (s *Service) EscalationCandidates(ctx context.Context, limit, offset int) ([]Candidate, error) {
	incs, _, err := s.incidents.Search(ctx, incident.Filter{Unescalated: true}, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list unescalated incidents: %w", err)
	}
	out := make([]Candidate, 0, len(incs))
	for _, inc := range incs {
		origin, reason, ok, err := s.candidate(ctx, inc)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, Candidate{
				IncidentID:   inc.ID,
				IncidentCode: inc.Code,
				Grade:        inc.Grade,
				Origin:       origin,
				Reason:       reason,
			})
		}
	}
	return out, nil
}

// BatchResult summarizes one escalation sweep.
type BatchResult struct {
	Scanned      int      `json:"scanned"`
	Candidates   int      `json:"candidates"`
	Escalated    int      `json:"escalated"`
	CreatedRisks []string `json:"created_risks"`
}

// RunBatchEscalation re-applies the escalation rules to incidents that have
// no linked risk yet and occurred within the trailing window. Used after
// tightening the rules or importing historical reports. Each incident is
// processed in its own transaction so one failure does not roll back the
// sweep. A non-positive windowDays uses the configured window.
func (s *Service) RunBatchEscalation(ctx context.Context, windowDays int, actor auditchain.Actor) (BatchResult, error) {
	if windowDays <= 0 {
		windowDays = s.cfg.WindowDays
	}
	from := s.now().UTC().AddDate(0, 0, -windowDays)
	res := BatchResult{CreatedRisks: []string{}}
	const pageSize = 200
	for offset := 0; ; {
		incs, _, err := s.incidents.Search(ctx, incident.Filter{Unescalated: true, From: &from}, pageSize, offset)
		if err != nil {
			return res, fmt.Errorf("list unescalated incidents: %w", err)
		}
		if len(incs) == 0 {
			return res, nil
		}
		pageEscalated := 0
		for _, inc := range incs {
			res.Scanned++
			// The report is tallied after the transaction returns, so a
			// rolled-back escalation never counts as done.
			var (
				isCandidate bool
				created     *Risk
			)
			err := s.tx(ctx, func(ctx context.Context) error {
				origin, reason, ok, err := s.candidate(ctx, inc)
				if err != nil || !ok {
					return err
				}
				isCandidate = true
				r, err := s.escalate(ctx, inc, origin, reason, 0, 0, actor)
				if err != nil {
					return err
				}
				inc.RiskID = &r.ID
				if err := s.incidents.Update(ctx, inc); err != nil {
					return fmt.Errorf("link incident to risk: %w", err)
				}
				created = r
				return nil
			})
			if isCandidate {
				res.Candidates++
			}
			if err != nil {
				log.Error().Err(err).Str("incident", inc.Code).Msg("batch escalation failed for incident")
				continue
			}
			if created != nil {
				res.Escalated++
				res.CreatedRisks = append(res.CreatedRisks, created.Code)
				pageEscalated++
			}
		}
		// Escalated incidents drop out of the unescalated filter, so only
		// advance past the ones that stayed.
		offset += len(incs) - pageEscalated
	}
}
