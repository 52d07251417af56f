// Package incident implements patient-safety incident reports and their
// three-level review workflow (department manager, QPS coordinator,
// director). Incidents feed the risk engine: severe grades and recurring
// patterns escalate into risk register entries automatically.
package incident

import (
	"time"

	"github.com/google/uuid"
)

// Category classifies the incident for statistics and recurrence matching.
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

// Grade is the harm outcome of the incident.
type Grade string

const (
	GradeDeath    Grade = "death"
	GradeSevere   Grade = "severe"
	GradeModerate Grade = "moderate"
	GradeMild     Grade = "mild"
	GradeNoHarm   Grade = "no_harm"
	GradeNearMiss Grade = "near_miss"
)

var validGrades = map[Grade]bool{
	GradeDeath: true, GradeSevere: true, GradeModerate: true,
	GradeMild: true, GradeNoHarm: true, GradeNearMiss: true,
}

func (g Grade) Valid() bool { return validGrades[g] }

// Status tracks the report through its review workflow.
type Status string

const (
	StatusSubmitted      Status = "submitted"       // awaiting department review
	StatusQPSReview      Status = "qps_review"      // awaiting QPS coordinator review
	StatusDirectorReview Status = "director_review" // awaiting director sign-off
	StatusApproved       Status = "approved"
	StatusRejected       Status = "rejected"
)

// Incident is one patient-safety incident report.
type Incident struct {
	ID              uuid.UUID      `db:"id" json:"id"`
	Code            string         `db:"code" json:"code"` // PSR-YYYY-NNNN
	Title           string         `db:"title" json:"title"`
	Description     string         `db:"description" json:"description"`
	Category        Category       `db:"category" json:"category"`
	Grade           Grade          `db:"grade" json:"grade"`
	Status          Status         `db:"status" json:"status"`
	Department      string         `db:"department" json:"department"`
	Location        string         `db:"location" json:"location"`
	OccurredAt      time.Time      `db:"occurred_at" json:"occurred_at"`
	DiscoveredAt    *time.Time     `db:"discovered_at" json:"discovered_at,omitempty"`
	ImmediateAction string         `db:"immediate_action" json:"immediate_action"`
	PatientRef      *string        `db:"patient_ref" json:"patient_ref,omitempty"`
	Detail          map[string]any `db:"detail" json:"detail,omitempty"`
	Anonymous       bool           `db:"anonymous" json:"anonymous"`
	ReporterID      string         `db:"reporter_id" json:"reporter_id"`
	ReporterName    string         `db:"reporter_name" json:"reporter_name"`
	RiskID          *uuid.UUID     `db:"risk_id" json:"risk_id,omitempty"` // set once escalated
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updated_at"`
	DeletedAt       *time.Time     `db:"deleted_at" json:"-"`
}

// Decision is an approver's verdict on one review level.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// ApprovalStep records one level of the review workflow.
type ApprovalStep struct {
	ID           uuid.UUID `db:"id" json:"id"`
	IncidentID   uuid.UUID `db:"incident_id" json:"incident_id"`
	Level        int       `db:"level" json:"level"` // 1 dept, 2 QPS, 3 director
	ApproverID   string    `db:"approver_id" json:"approver_id"`
	ApproverName string    `db:"approver_name" json:"approver_name"`
	Decision     Decision  `db:"decision" json:"decision"`
	Comment      string    `db:"comment" json:"comment"`
	DecidedAt    time.Time `db:"decided_at" json:"decided_at"`
}

// Filter narrows incident listings.
type Filter struct {
	Category   Category
	Grade      Grade
	Status     Status
	Department string
	From       *time.Time
	To         *time.Time
	// Unescalated selects incidents not yet linked to a risk. Used by the
	// batch escalation sweep.
	Unescalated bool
}
