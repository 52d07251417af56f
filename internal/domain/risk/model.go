// Package risk implements the risk register: probability×severity scoring,
// the treatment lifecycle, periodic re-assessment, and automatic escalation
// of incidents into register entries.
package risk

import (
	"time"

	"github.com/google/uuid"

	"github.com/psims/psims/internal/domain/incident"
)

// Level is the qualitative band derived from a P×S score.
type Level string

const (
	LevelLow      Level = "low"      // score 1-4
	LevelMedium   Level = "medium"   // score 5-9
	LevelHigh     Level = "high"     // score 10-16
	LevelCritical Level = "critical" // score 17-25
)

// Status tracks a risk through its treatment lifecycle. closed and accepted
// are terminal.
type Status string

const (
	StatusIdentified Status = "identified"
	StatusAssessing  Status = "assessing"
	StatusTreating   Status = "treating"
	StatusMonitoring Status = "monitoring"
	StatusClosed     Status = "closed"
	StatusAccepted   Status = "accepted"
)

// transitions is the lifecycle machine. Absent keys are terminal.
var transitions = map[Status][]Status{
	StatusIdentified: {StatusAssessing},
	StatusAssessing:  {StatusTreating},
	StatusTreating:   {StatusMonitoring},
	StatusMonitoring: {StatusClosed, StatusAccepted},
}

// CanTransition reports whether the lifecycle permits moving from one
// status to another.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status ends the lifecycle.
func (s Status) Terminal() bool { return s == StatusClosed || s == StatusAccepted }

// Origin records how a risk entered the register.
type Origin string

const (
	OriginManual         Origin = "manual"
	OriginAutoGrade      Origin = "auto_grade"      // severe-outcome escalation
	OriginAutoRecurrence Origin = "auto_recurrence" // repeated-pattern escalation
)

// Source records where a risk was first identified. psr sources must carry a
// link to the originating incident.
type Source string

const (
	SourcePSR       Source = "psr"
	SourceRounding  Source = "rounding"
	SourceAudit     Source = "audit"
	SourceComplaint Source = "complaint"
	SourceIndicator Source = "indicator"
	SourceExternal  Source = "external"
	SourceProactive Source = "proactive"
	SourceOther     Source = "other"
)

var validSources = map[Source]bool{
	SourcePSR: true, SourceRounding: true, SourceAudit: true,
	SourceComplaint: true, SourceIndicator: true, SourceExternal: true,
	SourceProactive: true, SourceOther: true,
}

func (s Source) Valid() bool { return validSources[s] }

// Category mirrors the incident taxonomy.
type Category string

const (
	CategoryFall          Category = "fall"
	CategoryMedication    Category = "medication"
	CategoryTransfusion   Category = "transfusion"
	CategoryPressureUlcer Category = "pressure_ulcer"
	CategorySurgery       Category = "surgery"
	CategoryInfection     Category = "infection"
	CategoryDevice        Category = "device"
	CategoryExposure      Category = "exposure"
	CategorySecurity      Category = "security"
	CategoryOther         Category = "other"
)

var validCategories = map[Category]bool{
	CategoryFall: true, CategoryMedication: true, CategoryTransfusion: true,
	CategoryPressureUlcer: true, CategorySurgery: true, CategoryInfection: true,
	CategoryDevice: true, CategoryExposure: true, CategorySecurity: true,
	CategoryOther: true,
}

func (c Category) Valid() bool { return validCategories[c] }

// incidentCategories maps the incident taxonomy onto register categories.
// Unmapped values fall back to other.
var incidentCategories = map[incident.Category]Category{
	incident.CategoryFall:          CategoryFall,
	incident.CategoryMedication:    CategoryMedication,
	incident.CategoryTransfusion:   CategoryTransfusion,
	incident.CategoryPressureUlcer: CategoryPressureUlcer,
	incident.CategorySurgery:       CategorySurgery,
	incident.CategoryInfection:     CategoryInfection,
	incident.CategoryDevice:        CategoryDevice,
	incident.CategoryExposure:      CategoryExposure,
	incident.CategorySecurity:      CategorySecurity,
	incident.CategoryOther:         CategoryOther,
}

// CategoryFromIncident translates an incident category into its register
// counterpart.
func CategoryFromIncident(c incident.Category) Category {
	if mapped, ok := incidentCategories[c]; ok {
		return mapped
	}
	return CategoryOther
}

// Risk is one register entry. Current P/S track the live exposure; residual
// P/S are set by post-treatment assessments and stay nil until one happens.
type Risk struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	Code             string     `db:"code" json:"code"` // R-YYYY-NNN
	Title            string     `db:"title" json:"title"`
	Description      string     `db:"description" json:"description"`
	Category         Category   `db:"category" json:"category"`
	Department       string     `db:"department" json:"department"`
	Status           Status     `db:"status" json:"status"`
	Origin           Origin     `db:"origin" json:"origin"`
	Source           Source     `db:"source" json:"source"`
	Reason           string     `db:"reason" json:"reason"`
	SourceIncidentID *uuid.UUID `db:"source_incident_id" json:"source_incident_id,omitempty"`
	CurrentP         int        `db:"current_p" json:"current_p"`
	CurrentS         int        `db:"current_s" json:"current_s"`
	CurrentScore     int        `db:"current_score" json:"current_score"`
	CurrentLevel     Level      `db:"current_level" json:"current_level"`
	ResidualP        *int       `db:"residual_p" json:"residual_p,omitempty"`
	ResidualS        *int       `db:"residual_s" json:"residual_s,omitempty"`
	ResidualScore    *int       `db:"residual_score" json:"residual_score,omitempty"`
	ResidualLevel    *Level     `db:"residual_level" json:"residual_level,omitempty"`
	OwnerID          string     `db:"owner_id" json:"owner_id"`
	OwnerName        string     `db:"owner_name" json:"owner_name"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
	ClosedAt         *time.Time `db:"closed_at" json:"closed_at,omitempty"`
	ClosedByID       string     `db:"closed_by_id" json:"closed_by_id,omitempty"`
	ClosedByName     string     `db:"closed_by_name" json:"closed_by_name,omitempty"`
}

// AssessmentType says which exposure an assessment updates. post_treatment
// writes the residual P/S; every other type writes the current P/S.
type AssessmentType string

const (
	AssessInitial       AssessmentType = "initial"
	AssessPeriodic      AssessmentType = "periodic"
	AssessPostTreatment AssessmentType = "post_treatment"
	AssessPostIncident  AssessmentType = "post_incident"
)

var validAssessmentTypes = map[AssessmentType]bool{
	AssessInitial: true, AssessPeriodic: true,
	AssessPostTreatment: true, AssessPostIncident: true,
}

func (t AssessmentType) Valid() bool { return validAssessmentTypes[t] }

// Assessment is one P×S evaluation of a risk. Append-only.
type Assessment struct {
	ID           uuid.UUID      `db:"id" json:"id"`
	RiskID       uuid.UUID      `db:"risk_id" json:"risk_id"`
	Type         AssessmentType `db:"type" json:"type"`
	P            int            `db:"p" json:"p"`
	S            int            `db:"s" json:"s"`
	Score        int            `db:"score" json:"score"`
	Level        Level          `db:"level" json:"level"`
	Note         string         `db:"note" json:"note"`
	AssessorID   string         `db:"assessor_id" json:"assessor_id"`
	AssessorName string         `db:"assessor_name" json:"assessor_name"`
	AssessedAt   time.Time      `db:"assessed_at" json:"assessed_at"`
}

// Filter narrows register listings.
type Filter struct {
	Status     Status
	Level      Level
	Origin     Origin
	Source     Source
	Category   Category
	Department string
}
