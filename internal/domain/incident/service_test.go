package incident

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/psims/psims/internal/platform/auditchain"
	"github.com/psims/psims/internal/platform/errs"
)

type mockRepo struct {
	incidents map[uuid.UUID]*Incident
	approvals []*ApprovalStep
	nextSeq   int
	dupOnce   bool
}

func newMockRepo() *mockRepo {
	return &mockRepo{incidents: map[uuid.UUID]*Incident{}, nextSeq: 1}
}

func (m *mockRepo) Create(ctx context.Context, inc *Incident) error {
	if m.dupOnce {
		m.dupOnce = false
		return ErrDuplicateCode
	}
	for _, have := range m.incidents {
		if have.Code == inc.Code {
			return ErrDuplicateCode
		}
	}
	cp := *inc
	cp.CreatedAt = time.Now()
	m.incidents[inc.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(ctx context.Context, id uuid.UUID) (*Incident, error) {
	inc, ok := m.incidents[id]
	if !ok {
		return nil, nil
	}
	cp := *inc
	return &cp, nil
}

func (m *mockRepo) GetByCode(ctx context.Context, code string) (*Incident, error) {
	for _, inc := range m.incidents {
		if inc.Code == code {
			cp := *inc
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockRepo) Update(ctx context.Context, inc *Incident) error {
	cp := *inc
	m.incidents[inc.ID] = &cp
	return nil
}

func (m *mockRepo) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error {
	if inc, ok := m.incidents[id]; ok {
		inc.DeletedAt = &at
	}
	return nil
}

func (m *mockRepo) Search(ctx context.Context, f Filter, limit, offset int) ([]*Incident, int, error) {
	var items []*Incident
	for _, inc := range m.incidents {
		if inc.DeletedAt == nil {
			items = append(items, inc)
		}
	}
	return items, len(items), nil
}

func (m *mockRepo) NextCodeSeq(ctx context.Context, year int) (int, error) {
	return m.nextSeq, nil
}

func (m *mockRepo) CountSimilarSince(ctx context.Context, cat Category, dept string, since time.Time) (int, error) {
	n := 0
	for _, inc := range m.incidents {
		if inc.Category == cat && inc.Department == dept && !inc.OccurredAt.Before(since) && inc.DeletedAt == nil {
			n++
		}
	}
	return n, nil
}

func (m *mockRepo) AddApproval(ctx context.Context, step *ApprovalStep) error {
	m.approvals = append(m.approvals, step)
	return nil
}

func (m *mockRepo) Approvals(ctx context.Context, incidentID uuid.UUID) ([]*ApprovalStep, error) {
	var steps []*ApprovalStep
	for _, s := range m.approvals {
		if s.IncidentID == incidentID {
			steps = append(steps, s)
		}
	}
	return steps, nil
}

type mockAudit struct {
	events []auditchain.Event
	fail   bool
}

func (m *mockAudit) Record(ctx context.Context, ev auditchain.Event) (*auditchain.Entry, error) {
	if m.fail {
		return nil, errors.New("audit store unavailable")
	}
	m.events = append(m.events, ev)
	return &auditchain.Entry{Seq: int64(len(m.events))}, nil
}

// trackingTx runs the callback directly and records whether it would have
// committed.
type trackingTx struct {
	committed  int
	rolledBack int
}

func (t *trackingTx) run(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := fn(ctx); err != nil {
		t.rolledBack++
		return err
	}
	t.committed++
	return nil
}

func newTestService() (*Service, *mockRepo, *mockAudit, *trackingTx) {
	repo := newMockRepo()
	audit := &mockAudit{}
	tx := &trackingTx{}
	svc := NewService(repo, audit, tx.run)
	return svc, repo, audit, tx
}

var testActor = auditchain.Actor{ID: "u-reporter", Role: "reporter", Name: "Park", IP: "10.0.0.9"}

func validIncident() *Incident {
	return &Incident{
		Title:       "Patient fall near bed",
		Description: "Patient slipped while standing up unassisted",
		Category:    CategoryFall,
		Grade:       GradeMild,
		Department:  "ICU",
		Location:    "Room 301",
		OccurredAt:  time.Now().Add(-2 * time.Hour),
	}
}

func TestCreateAssignsCodeAndStatus(t *testing.T) {
	svc, _, audit, tx := newTestService()
	inc := validIncident()

	if err := svc.Create(context.Background(), inc, testActor); err != nil {
		t.Fatalf("create: %v", err)
	}
	want := fmt.Sprintf("PSR-%d-0001", time.Now().UTC().Year())
	if inc.Code != want {
		t.Errorf("code = %s, want %s", inc.Code, want)
	}
	if inc.Status != StatusSubmitted {
		t.Errorf("status = %s, want submitted", inc.Status)
	}
	if inc.ReporterID != testActor.ID {
		t.Errorf("reporter not taken from actor: %s", inc.ReporterID)
	}
	if len(audit.events) != 1 || audit.events[0].Kind != auditchain.KindIncident {
		t.Errorf("expected one incident audit event, got %v", audit.events)
	}
	if tx.committed != 1 {
		t.Errorf("expected committed tx, got %d", tx.committed)
	}
}

func TestCreateRetriesOnDuplicateCode(t *testing.T) {
	svc, repo, _, _ := newTestService()
	repo.dupOnce = true
	inc := validIncident()

	if err := svc.Create(context.Background(), inc, testActor); err != nil {
		t.Fatalf("create should have retried: %v", err)
	}
	if !strings.HasSuffix(inc.Code, "-0002") {
		t.Errorf("expected code bumped to 0002, got %s", inc.Code)
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _, _, _ := newTestService()
	cases := []struct {
		name   string
		mutate func(*Incident)
	}{
		{"missing title", func(i *Incident) { i.Title = "" }},
		{"missing description", func(i *Incident) { i.Description = "" }},
		{"missing department", func(i *Incident) { i.Department = "" }},
		{"bad category", func(i *Incident) { i.Category = "parking" }},
		{"bad grade", func(i *Incident) { i.Grade = "catastrophic" }},
		{"future occurred_at", func(i *Incident) { i.OccurredAt = time.Now().Add(time.Hour) }},
		{"zero occurred_at", func(i *Incident) { i.OccurredAt = time.Time{} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			inc := validIncident()
			tc.mutate(inc)
			err := svc.Create(context.Background(), inc, testActor)
			if !errs.IsValidation(err) {
				t.Errorf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestCreateAnonymousHidesReporterName(t *testing.T) {
	svc, repo, _, _ := newTestService()
	inc := validIncident()
	inc.Anonymous = true

	if err := svc.Create(context.Background(), inc, testActor); err != nil {
		t.Fatalf("create: %v", err)
	}
	stored := repo.incidents[inc.ID]
	if stored.ReporterName != "" {
		t.Errorf("anonymous report must not store reporter name: %q", stored.ReporterName)
	}
	if stored.ReporterID == "" {
		t.Error("reporter id is still kept for accountability")
	}
}

type mockEscalator struct {
	riskID *uuid.UUID
	err    error
	calls  int
}

func (m *mockEscalator) EvaluateIncident(ctx context.Context, inc *Incident, actor auditchain.Actor) (*uuid.UUID, error) {
	m.calls++
	return m.riskID, m.err
}

func TestCreateLinksEscalatedRisk(t *testing.T) {
	svc, repo, _, _ := newTestService()
	rid := uuid.New()
	esc := &mockEscalator{riskID: &rid}
	svc.SetEscalator(esc)

	inc := validIncident()
	inc.Grade = GradeSevere
	if err := svc.Create(context.Background(), inc, testActor); err != nil {
		t.Fatalf("create: %v", err)
	}
	if esc.calls != 1 {
		t.Fatalf("escalator called %d times", esc.calls)
	}
	stored := repo.incidents[inc.ID]
	if stored.RiskID == nil || *stored.RiskID != rid {
		t.Error("escalated risk id not linked to incident")
	}
}

func TestCreateAbortsWhenAuditFails(t *testing.T) {
	svc, _, audit, tx := newTestService()
	audit.fail = true

	err := svc.Create(context.Background(), validIncident(), testActor)
	if err == nil {
		t.Fatal("audit failure must abort creation")
	}
	if tx.committed != 0 || tx.rolledBack != 1 {
		t.Errorf("expected rollback, committed=%d rolledBack=%d", tx.committed, tx.rolledBack)
	}
}

func TestUpdateOnlyWhileSubmitted(t *testing.T) {
	svc, repo, _, _ := newTestService()
	inc := validIncident()
	if err := svc.Create(context.Background(), inc, testActor); err != nil {
		t.Fatalf("create: %v", err)
	}
	repo.incidents[inc.ID].Status = StatusQPSReview

	upd := validIncident()
	upd.Title = "Edited title"
	_, err := svc.Update(context.Background(), inc.ID, upd, testActor)
	if !errs.IsConflict(err) {
		t.Errorf("expected ConflictError for in-review incident, got %v", err)
	}
}

func TestDeleteSoftDeletes(t *testing.T) {
	svc, repo, _, _ := newTestService()
	inc := validIncident()
	if err := svc.Create(context.Background(), inc, testActor); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.Delete(context.Background(), inc.ID, testActor); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if repo.incidents[inc.ID].DeletedAt == nil {
		t.Error("expected soft delete marker")
	}
	if _, err := svc.Get(context.Background(), inc.ID); !errs.IsNotFound(err) {
		t.Errorf("deleted incident must read as not found, got %v", err)
	}
}

func TestDecideFullApprovalFlow(t *testing.T) {
	svc, _, audit, _ := newTestService()
	inc := validIncident()
	if err := svc.Create(context.Background(), inc, testActor); err != nil {
		t.Fatalf("create: %v", err)
	}

	reviewers := []auditchain.Actor{
		{ID: "u-mgr", Role: "dept_manager", Name: "Lee"},
		{ID: "u-qps", Role: "qps_coordinator", Name: "Kim"},
		{ID: "u-dir", Role: "director", Name: "Choi"},
	}
	wantStatus := []Status{StatusQPSReview, StatusDirectorReview, StatusApproved}
	for level := 1; level <= 3; level++ {
		got, err := svc.Decide(context.Background(), inc.ID, level, DecisionApprove, "ok", reviewers[level-1])
		if err != nil {
			t.Fatalf("level %d: %v", level, err)
		}
		if got.Status != wantStatus[level-1] {
			t.Errorf("level %d: status = %s, want %s", level, got.Status, wantStatus[level-1])
		}
	}

	steps, err := svc.Approvals(context.Background(), inc.ID)
	if err != nil {
		t.Fatalf("approvals: %v", err)
	}
	if len(steps) != 3 {
		t.Errorf("expected 3 approval steps, got %d", len(steps))
	}
	approvalEvents := 0
	for _, ev := range audit.events {
		if ev.Kind == auditchain.KindApproval {
			approvalEvents++
		}
	}
	if approvalEvents != 3 {
		t.Errorf("expected 3 approval audit events, got %d", approvalEvents)
	}
}

func TestDecideRejectIsTerminal(t *testing.T) {
	svc, _, _, _ := newTestService()
	inc := validIncident()
	if err := svc.Create(context.Background(), inc, testActor); err != nil {
		t.Fatalf("create: %v", err)
	}
	mgr := auditchain.Actor{ID: "u-mgr", Role: "dept_manager"}
	got, err := svc.Decide(context.Background(), inc.ID, 1, DecisionReject, "insufficient detail", mgr)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if got.Status != StatusRejected {
		t.Errorf("status = %s, want rejected", got.Status)
	}
	// No further review is possible.
	qps := auditchain.Actor{ID: "u-qps", Role: "qps_coordinator"}
	if _, err := svc.Decide(context.Background(), inc.ID, 2, DecisionApprove, "", qps); !errs.IsConflict(err) {
		t.Errorf("expected ConflictError after rejection, got %v", err)
	}
}

func TestDecideWrongLevelConflicts(t *testing.T) {
	svc, _, _, _ := newTestService()
	inc := validIncident()
	if err := svc.Create(context.Background(), inc, testActor); err != nil {
		t.Fatalf("create: %v", err)
	}
	dir := auditchain.Actor{ID: "u-dir", Role: "director"}
	if _, err := svc.Decide(context.Background(), inc.ID, 3, DecisionApprove, "", dir); !errs.IsConflict(err) {
		t.Errorf("director cannot skip ahead, got %v", err)
	}
}

func TestDecideRejectsSelfReview(t *testing.T) {
	svc, _, _, _ := newTestService()
	inc := validIncident()
	if err := svc.Create(context.Background(), inc, testActor); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Decide(context.Background(), inc.ID, 1, DecisionApprove, "", testActor); !errs.IsValidation(err) {
		t.Errorf("self review must be rejected, got %v", err)
	}
}
