package risk

import (
	"github.com/psims/psims/internal/domain/incident"
	"github.com/psims/psims/internal/platform/errs"
)

// ScoreAndLevel computes the P×S score and its band. Probability and
// severity are each on a 1-5 scale.
func ScoreAndLevel(p, s int) (int, Level, error) {
	if p < 1 || p > 5 {
		return 0, "", errs.Validation("probability must be between 1 and 5, got %d", p)
	}
	if s < 1 || s > 5 {
		return 0, "", errs.Validation("severity must be between 1 and 5, got %d", s)
	}
	score := p * s
	return score, LevelForScore(score), nil
}

// LevelForScore maps a 1-25 score onto its band.
func LevelForScore(score int) Level {
	switch {
	case score <= 4:
		return LevelLow
	case score <= 9:
		return LevelMedium
	case score <= 16:
		return LevelHigh
	default:
		return LevelCritical
	}
}

// SuggestInitialPS proposes starting P/S values for a risk escalated from an
// incident, based on the incident's harm grade. Near misses rate a higher
// probability than no-harm events: the pattern recurred enough to escalate.
func SuggestInitialPS(grade incident.Grade) (p, s int) {
	switch grade {
	case incident.GradeDeath:
		return 5, 5
	case incident.GradeSevere:
		return 4, 5
	case incident.GradeModerate:
		return 3, 4
	case incident.GradeMild:
		return 2, 3
	case incident.GradeNoHarm:
		return 2, 2
	case incident.GradeNearMiss:
		return 3, 2
	default:
		return 3, 3
	}
}
