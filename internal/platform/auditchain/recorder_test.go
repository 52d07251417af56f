package auditchain

import (
	"context"
	"sync"
	"testing"
	"time"
)

// memRepo is an in-memory Repository used by recorder tests. failNext
// injects one ErrDuplicateSeq to exercise the retry path.
type memRepo struct {
	mu       sync.Mutex
	entries  []*Entry
	failNext bool
}

func (m *memRepo) Head(ctx context.Context) (int64, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) == 0 {
		return 0, GenesisHash, nil
	}
	last := m.entries[len(m.entries)-1]
	return last.Seq, last.EntryHash, nil
}

func (m *memRepo) Insert(ctx context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext {
		m.failNext = false
		return ErrDuplicateSeq
	}
	for _, have := range m.entries {
		if have.Seq == e.Seq {
			return ErrDuplicateSeq
		}
	}
	cp := *e
	// TIMESTAMPTZ keeps microseconds; mimic the round trip so reads come
	// back at the precision the real store would give.
	cp.RecordedAt = cp.RecordedAt.Truncate(time.Microsecond)
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *memRepo) Search(ctx context.Context, f Filter, limit, offset int) ([]*Entry, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries, len(m.entries), nil
}

func (m *memRepo) Walk(ctx context.Context, fn func(*Entry) error) error {
	m.mu.Lock()
	entries := make([]*Entry, len(m.entries))
	copy(entries, m.entries)
	m.mu.Unlock()
	for _, e := range entries {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

func testEvent(kind Kind) Event {
	return Event{
		Kind:         kind,
		ActorID:      strPtr("user-1"),
		ActorRole:    "qps_coordinator",
		ActorName:    "Kim",
		IPAddress:    "10.0.0.5",
		ResourceKind: "incident",
		ResourceID:   strPtr("inc-1"),
		Result:       ResultSuccess,
	}
}

func TestRecordBuildsChain(t *testing.T) {
	repo := &memRepo{}
	rec := NewRecorder(repo, nil)
	ctx := context.Background()

	first, err := rec.Record(ctx, testEvent(KindIncident))
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if first.Seq != 1 || first.PrevHash != GenesisHash {
		t.Errorf("first entry must chain off genesis: seq=%d prev=%s", first.Seq, first.PrevHash)
	}

	second, err := rec.Record(ctx, testEvent(KindApproval))
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if second.Seq != 2 || second.PrevHash != first.EntryHash {
		t.Errorf("second entry must chain off first: seq=%d", second.Seq)
	}

	rep, err := rec.VerifyChain(ctx)
	if err != nil || !rep.OK {
		t.Errorf("chain must verify: %+v err=%v", rep, err)
	}
}

func TestRecordRejectsUnknownKind(t *testing.T) {
	rec := NewRecorder(&memRepo{}, nil)
	ev := testEvent("cafeteria_menu")
	if _, err := rec.Record(context.Background(), ev); err == nil {
		t.Fatal("unknown kind must be rejected")
	}
}

func TestRecordRejectsUnknownResult(t *testing.T) {
	rec := NewRecorder(&memRepo{}, nil)
	ev := testEvent(KindIncident)
	ev.Result = "maybe"
	if _, err := rec.Record(context.Background(), ev); err == nil {
		t.Fatal("unknown result must be rejected")
	}
}

func TestRecordCoercesTimestampToUTC(t *testing.T) {
	rec := NewRecorder(&memRepo{}, nil)
	seoul := time.FixedZone("KST", 9*60*60)
	ev := testEvent(KindIncident)
	ev.RecordedAt = time.Date(2026, 3, 1, 18, 30, 0, 0, seoul)

	e, err := rec.Record(context.Background(), ev)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if e.RecordedAt.Location() != time.UTC {
		t.Errorf("timestamp not UTC: %v", e.RecordedAt)
	}
	if e.RecordedAt.Hour() != 9 {
		t.Errorf("expected 09:30 UTC, got %v", e.RecordedAt)
	}
}

func TestRecordHashSurvivesMicrosecondStore(t *testing.T) {
	repo := &memRepo{}
	rec := NewRecorder(repo, nil)
	// A clock with sub-microsecond digits, as time.Now delivers on Linux.
	rec.now = func() time.Time {
		return time.Date(2026, 3, 1, 9, 0, 0, 123456789, time.UTC)
	}

	e, err := rec.Record(context.Background(), testEvent(KindIncident))
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if e.RecordedAt.Nanosecond()%1000 != 0 {
		t.Errorf("recorded_at must be capped at microseconds, got %v", e.RecordedAt)
	}

	stored := repo.entries[0]
	if got := ComputeHash(stored.Kind, stored.RecordedAt, stored.ActorID, stored.ResourceID, stored.PrevHash); got != stored.EntryHash {
		t.Error("hash must recompute identically from the stored timestamp")
	}
	rep, err := rec.VerifyChain(context.Background())
	if err != nil || !rep.OK {
		t.Errorf("chain must verify after store round trip: %+v err=%v", rep, err)
	}
}

func TestRecordMasksDetail(t *testing.T) {
	repo := &memRepo{}
	rec := NewRecorder(repo, NewMasker())
	ev := testEvent(KindAuthFailure)
	ev.Detail = map[string]any{"password": "hunter2", "login_id": "kim"}

	e, err := rec.Record(context.Background(), ev)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if e.Detail["password"] != Redacted {
		t.Error("password must be redacted in stored entry")
	}
	if ev.Detail["password"] != "hunter2" {
		t.Error("caller's map must not be mutated")
	}
}

func TestRecordRetriesOnSeqCollision(t *testing.T) {
	repo := &memRepo{failNext: true}
	rec := NewRecorder(repo, nil)

	e, err := rec.Record(context.Background(), testEvent(KindIncident))
	if err != nil {
		t.Fatalf("retry should have recovered: %v", err)
	}
	if e.Seq != 1 {
		t.Errorf("expected seq 1 after retry, got %d", e.Seq)
	}
}

func TestRecordConcurrentAppendsStayLinear(t *testing.T) {
	repo := &memRepo{}
	rec := NewRecorder(repo, nil)
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := rec.Record(ctx, testEvent(KindRiskUpdate)); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent record failed: %v", err)
	}

	if len(repo.entries) != n {
		t.Fatalf("expected %d entries, got %d", n, len(repo.entries))
	}
	rep, err := rec.VerifyChain(ctx)
	if err != nil || !rep.OK {
		t.Errorf("concurrent appends broke the chain: %+v err=%v", rep, err)
	}
}

func TestVerifyChainReportsTamper(t *testing.T) {
	repo := &memRepo{}
	rec := NewRecorder(repo, nil)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := rec.Record(ctx, testEvent(KindIncident)); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	repo.entries[2].ActorID = strPtr("intruder")

	rep, err := rec.VerifyChain(ctx)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if rep.OK || rep.BrokenSeq != 3 {
		t.Errorf("expected break at seq 3: %+v", rep)
	}
}
