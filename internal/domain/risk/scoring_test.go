package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psims/psims/internal/domain/incident"
	"github.com/psims/psims/internal/platform/errs"
)

func TestScoreAndLevelGrid(t *testing.T) {
	for p := 1; p <= 5; p++ {
		for s := 1; s <= 5; s++ {
			score, level, err := ScoreAndLevel(p, s)
			require.NoError(t, err, "p=%d s=%d", p, s)
			assert.Equal(t, p*s, score, "p=%d s=%d", p, s)
			var want Level
			switch {
			case score <= 4:
				want = LevelLow
			case score <= 9:
				want = LevelMedium
			case score <= 16:
				want = LevelHigh
			default:
				want = LevelCritical
			}
			assert.Equal(t, want, level, "score %d", score)
		}
	}
}

func TestLevelBoundaries(t *testing.T) {
	cases := []struct {
		score int
		want  Level
	}{
		{1, LevelLow}, {4, LevelLow},
		{5, LevelMedium}, {9, LevelMedium},
		{10, LevelHigh}, {16, LevelHigh},
		{17, LevelCritical}, {25, LevelCritical},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, LevelForScore(tc.score), "LevelForScore(%d)", tc.score)
	}
}

func TestScoreAndLevelRejectsOutOfRange(t *testing.T) {
	for _, pair := range [][2]int{{0, 3}, {6, 3}, {3, 0}, {3, 6}, {-1, 2}} {
		_, _, err := ScoreAndLevel(pair[0], pair[1])
		assert.True(t, errs.IsValidation(err), "p=%d s=%d: expected ValidationError, got %v", pair[0], pair[1], err)
	}
}

func TestSuggestInitialPS(t *testing.T) {
	cases := []struct {
		grade incident.Grade
		p, s  int
	}{
		{incident.GradeDeath, 5, 5},
		{incident.GradeSevere, 4, 5},
		{incident.GradeModerate, 3, 4},
		{incident.GradeMild, 2, 3},
		{incident.GradeNoHarm, 2, 2},
		{incident.GradeNearMiss, 3, 2},
	}
	for _, tc := range cases {
		p, s := SuggestInitialPS(tc.grade)
		assert.Equal(t, tc.p, p, "SuggestInitialPS(%s) P", tc.grade)
		assert.Equal(t, tc.s, s, "SuggestInitialPS(%s) S", tc.grade)
	}
}

func TestSuggestInitialPSDeathIsCritical(t *testing.T) {
	p, s := SuggestInitialPS(incident.GradeDeath)
	score, level, err := ScoreAndLevel(p, s)
	require.NoError(t, err)
	assert.Equal(t, 25, score)
	assert.Equal(t, LevelCritical, level)
}

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusIdentified, StatusAssessing},
		{StatusAssessing, StatusTreating},
		{StatusTreating, StatusMonitoring},
		{StatusMonitoring, StatusClosed},
		{StatusMonitoring, StatusAccepted},
	}
	for _, tc := range allowed {
		assert.True(t, CanTransition(tc.from, tc.to), "%s -> %s should be allowed", tc.from, tc.to)
	}
	denied := []struct{ from, to Status }{
		{StatusIdentified, StatusClosed},
		{StatusIdentified, StatusTreating},
		{StatusAssessing, StatusMonitoring},
		{StatusClosed, StatusIdentified},
		{StatusAccepted, StatusAssessing},
		{StatusMonitoring, StatusIdentified},
	}
	for _, tc := range denied {
		assert.False(t, CanTransition(tc.from, tc.to), "%s -> %s should be denied", tc.from, tc.to)
	}
}
