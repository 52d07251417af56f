// Package auditchain implements the tamper-evident audit trail. Every
// sensitive action is appended as an Entry whose hash covers the previous
// entry's hash, so altering any stored entry breaks verification from that
// point forward. Entries are append-only: no update or delete path exists.
package auditchain

import (
	"time"

	"github.com/google/uuid"
)

// Kind classifies an audited action. The set is closed; Record rejects
// anything else.
type Kind string

const (
	KindAuthLogin    Kind = "auth_login"
	KindAuthLogout   Kind = "auth_logout"
	KindAuthFailure  Kind = "auth_failure"
	KindIncident     Kind = "incident"
	KindAttachment   Kind = "attachment"
	KindApproval     Kind = "approval"
	KindPermission   Kind = "permission_denied"
	KindRiskCreate   Kind = "risk_create"
	KindRiskUpdate   Kind = "risk_update"
	KindRiskAssess   Kind = "risk_assess"
	KindRiskEscalate Kind = "risk_escalate"
	KindRiskClose    Kind = "risk_close"
	KindCAPA         Kind = "capa"
)

var validKinds = map[Kind]bool{
	KindAuthLogin: true, KindAuthLogout: true, KindAuthFailure: true,
	KindIncident: true, KindAttachment: true, KindApproval: true,
	KindPermission: true,
	KindRiskCreate: true, KindRiskUpdate: true, KindRiskAssess: true,
	KindRiskEscalate: true, KindRiskClose: true,
	KindCAPA: true,
}

// Valid reports whether k is a member of the closed kind set.
func (k Kind) Valid() bool { return validKinds[k] }

// Result records the outcome of the audited action.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultDenied  Result = "denied"
)

var validResults = map[Result]bool{
	ResultSuccess: true, ResultFailure: true, ResultDenied: true,
}

func (r Result) Valid() bool { return validResults[r] }

// GenesisHash is the previous-hash sentinel of the first chain entry.
const GenesisHash = "genesis"

// Entry is one immutable link in the audit chain.
type Entry struct {
	ID           uuid.UUID      `db:"id" json:"id"`
	Seq          int64          `db:"seq" json:"seq"`
	Kind         Kind           `db:"kind" json:"kind"`
	RecordedAt   time.Time      `db:"recorded_at" json:"recorded_at"`
	ActorID      *string        `db:"actor_id" json:"actor_id,omitempty"` // nil on failed auth
	ActorRole    string         `db:"actor_role" json:"actor_role"`
	ActorName    string         `db:"actor_name" json:"actor_name"`
	IPAddress    string         `db:"ip_address" json:"ip_address"`
	UserAgent    string         `db:"user_agent" json:"user_agent"`
	ResourceKind string         `db:"resource_kind" json:"resource_kind"`
	ResourceID   *string        `db:"resource_id" json:"resource_id,omitempty"`
	Detail       map[string]any `db:"detail" json:"detail,omitempty"`
	Result       Result         `db:"result" json:"result"`
	PrevHash     string         `db:"prev_hash" json:"prev_hash"`
	EntryHash    string         `db:"entry_hash" json:"entry_hash"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
}

// Actor identifies who performed an audited action, as resolved from the
// authenticated request.
type Actor struct {
	ID        string
	Role      string
	Name      string
	IP        string
	UserAgent string
}

// NewEvent builds an Event for the given actor and action. The caller fills
// Detail and overrides fields as needed.
func NewEvent(kind Kind, actor Actor, resourceKind string, resourceID *string, result Result) Event {
	id := actor.ID
	var actorID *string
	if id != "" {
		actorID = &id
	}
	return Event{
		Kind:         kind,
		ActorID:      actorID,
		ActorRole:    actor.Role,
		ActorName:    actor.Name,
		IPAddress:    actor.IP,
		UserAgent:    actor.UserAgent,
		ResourceKind: resourceKind,
		ResourceID:   resourceID,
		Result:       result,
	}
}

// Event is the caller-facing input to Recorder.Record.
type Event struct {
	Kind         Kind
	RecordedAt   time.Time // zero value defaults to now; always stored UTC
	ActorID      *string
	ActorRole    string
	ActorName    string
	IPAddress    string
	UserAgent    string
	ResourceKind string
	ResourceID   *string
	Detail       map[string]any
	Result       Result
}

// Filter narrows audit entry listings.
type Filter struct {
	Kind         Kind
	ActorID      string
	ResourceKind string
	ResourceID   string
	From         *time.Time
	To           *time.Time
}
