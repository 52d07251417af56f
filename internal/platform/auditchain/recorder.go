package auditchain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Recorder appends entries to the audit chain. A process-level mutex
// serializes the read-head/compute-hash/insert window so concurrent
// requests cannot both chain off the same head; the database's unique
// seq constraint backstops other writers, and one retry re-reads the
// head after a collision.
type Recorder struct {
	repo   Repository
	masker *Masker
	mu     chan struct{} // capacity-1 semaphore; lock honors ctx cancellation
	now    func() time.Time
}

// NewRecorder wires a Recorder over the given repository and masking policy.
func NewRecorder(repo Repository, masker *Masker) *Recorder {
	if masker == nil {
		masker = NewMasker()
	}
	r := &Recorder{
		repo:   repo,
		masker: masker,
		mu:     make(chan struct{}, 1),
		now:    time.Now,
	}
	return r
}

func (r *Recorder) lock(ctx context.Context) error {
	select {
	case r.mu <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) unlock() { <-r.mu }

// Record validates, masks and appends one entry, returning the stored form
// including its seq and hashes. Failures here must abort the caller's
// surrounding transaction: an action without its audit entry is not allowed
// to commit.
func (r *Recorder) Record(ctx context.Context, ev Event) (*Entry, error) {
	if !ev.Kind.Valid() {
		return nil, fmt.Errorf("auditchain: unknown event kind %q", ev.Kind)
	}
	if !ev.Result.Valid() {
		return nil, fmt.Errorf("auditchain: unknown result %q", ev.Result)
	}
	recordedAt := ev.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = r.now()
	}
	// recorded_at is a TIMESTAMPTZ, which keeps microseconds. Hashing
	// anything finer would recompute differently after a store round trip.
	recordedAt = recordedAt.UTC().Truncate(time.Microsecond)

	entry := &Entry{
		ID:           uuid.New(),
		Kind:         ev.Kind,
		RecordedAt:   recordedAt,
		ActorID:      ev.ActorID,
		ActorRole:    ev.ActorRole,
		ActorName:    ev.ActorName,
		IPAddress:    ev.IPAddress,
		UserAgent:    ev.UserAgent,
		ResourceKind: ev.ResourceKind,
		ResourceID:   ev.ResourceID,
		Detail:       r.masker.Mask(ev.Detail),
		Result:       ev.Result,
	}

	if err := r.lock(ctx); err != nil {
		return nil, err
	}
	defer r.unlock()

	for attempt := 0; attempt < 2; attempt++ {
		seq, head, err := r.repo.Head(ctx)
		if err != nil {
			return nil, fmt.Errorf("auditchain: read head: %w", err)
		}
		entry.Seq = seq + 1
		entry.PrevHash = head
		entry.EntryHash = ComputeHash(entry.Kind, entry.RecordedAt, entry.ActorID, entry.ResourceID, entry.PrevHash)

		err = r.repo.Insert(ctx, entry)
		if err == nil {
			return entry, nil
		}
		if !errors.Is(err, ErrDuplicateSeq) {
			return nil, fmt.Errorf("auditchain: insert entry: %w", err)
		}
		log.Warn().Int64("seq", entry.Seq).Msg("audit chain seq collision, retrying")
	}
	return nil, fmt.Errorf("auditchain: insert entry: %w", ErrDuplicateSeq)
}

// Search delegates to the repository; read side has no masking to do since
// entries were masked at write time.
func (r *Recorder) Search(ctx context.Context, f Filter, limit, offset int) ([]*Entry, int, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return r.repo.Search(ctx, f, limit, offset)
}

// VerifyChain streams the stored chain through Verify-equivalent checks
// without materializing all entries at once.
func (r *Recorder) VerifyChain(ctx context.Context) (Report, error) {
	prev := GenesisHash
	var lastSeq, count int64
	broken := Report{}
	err := r.repo.Walk(ctx, func(e *Entry) error {
		count++
		if e.Seq != lastSeq+1 {
			broken = Report{BrokenSeq: e.Seq, Reason: fmt.Sprintf("sequence gap: expected %d, got %d", lastSeq+1, e.Seq)}
			return errChainBroken
		}
		if e.PrevHash != prev {
			broken = Report{BrokenSeq: e.Seq, Reason: "prev_hash does not match preceding entry"}
			return errChainBroken
		}
		if got := ComputeHash(e.Kind, e.RecordedAt, e.ActorID, e.ResourceID, e.PrevHash); got != e.EntryHash {
			broken = Report{BrokenSeq: e.Seq, Reason: "entry_hash does not match recomputation"}
			return errChainBroken
		}
		prev = e.EntryHash
		lastSeq = e.Seq
		return nil
	})
	if errors.Is(err, errChainBroken) {
		broken.Entries = count
		return broken, nil
	}
	if err != nil {
		return Report{}, err
	}
	return Report{OK: true, Entries: count}, nil
}

var errChainBroken = errors.New("auditchain: chain broken")
