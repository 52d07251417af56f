// Package capa tracks corrective and preventive actions attached to risks
// and incidents, through assignment, completion and independent
// verification.
package capa

import (
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes fixing the occurrence from preventing the next one.
type Kind string

const (
	KindCorrective Kind = "corrective"
	KindPreventive Kind = "preventive"
)

func (k Kind) Valid() bool { return k == KindCorrective || k == KindPreventive }

// Status tracks an action's lifecycle. verified and cancelled are terminal.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusVerified   Status = "verified"
	StatusCancelled  Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusOpen:       {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
	StatusCompleted:  {StatusVerified, StatusInProgress}, // verification can bounce it back
}

// CanTransition reports whether the lifecycle permits the move.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status ends the lifecycle.
func (s Status) Terminal() bool { return s == StatusVerified || s == StatusCancelled }

// Action is one corrective or preventive measure. At least one of RiskID and
// IncidentID is set.
type Action struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	RiskID       *uuid.UUID `db:"risk_id" json:"risk_id,omitempty"`
	IncidentID   *uuid.UUID `db:"incident_id" json:"incident_id,omitempty"`
	Kind         Kind       `db:"kind" json:"kind"`
	Title        string     `db:"title" json:"title"`
	Description  string     `db:"description" json:"description"`
	Status       Status     `db:"status" json:"status"`
	AssigneeID   string     `db:"assignee_id" json:"assignee_id"`
	AssigneeName string     `db:"assignee_name" json:"assignee_name"`
	DueDate      *time.Time `db:"due_date" json:"due_date,omitempty"`
	CompletedAt  *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	VerifiedAt   *time.Time `db:"verified_at" json:"verified_at,omitempty"`
	VerifierID   string     `db:"verifier_id" json:"verifier_id"`
	VerifierName string     `db:"verifier_name" json:"verifier_name"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// Overdue reports whether the action is past due and still unfinished.
func (a *Action) Overdue(now time.Time) bool {
	return a.DueDate != nil && now.After(*a.DueDate) && !a.Status.Terminal() && a.Status != StatusCompleted
}

// Filter narrows action listings.
type Filter struct {
	RiskID     *uuid.UUID
	IncidentID *uuid.UUID
	Status     Status
	Kind       Kind
	AssigneeID string
	// OverdueAt selects unfinished actions whose due date is before the
	// given instant.
	OverdueAt *time.Time
}
