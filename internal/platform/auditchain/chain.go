package auditchain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// ComputeHash derives the hex-encoded SHA-256 link hash for an entry. The
// digest covers the event kind, the recorded timestamp in RFC3339Nano UTC,
// the actor id (empty when the actor is unknown), the resource id (empty
// when absent) and the previous entry's hash, joined by '|'. Any stored
// field edit therefore invalidates the hash, and PrevHash coupling extends
// that to every later entry.
//
// The Recorder caps timestamps at microsecond precision before hashing, so
// the hash recomputes identically after a TIMESTAMPTZ round trip.
func ComputeHash(kind Kind, recordedAt time.Time, actorID, resourceID *string, prevHash string) string {
	var actor, resource string
	if actorID != nil {
		actor = *actorID
	}
	if resourceID != nil {
		resource = *resourceID
	}
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s",
		kind,
		recordedAt.UTC().Format(time.RFC3339Nano),
		actor,
		resource,
		prevHash,
	)
	return hex.EncodeToString(h.Sum(nil))
}

// Report is the outcome of a chain verification pass.
type Report struct {
	OK        bool   `json:"ok"`
	Entries   int64  `json:"entries"`
	BrokenSeq int64  `json:"broken_seq,omitempty"` // first bad entry, 0 when OK
	Reason    string `json:"reason,omitempty"`
}

// Verify walks the full chain in sequence order and recomputes every link.
// It stops at the first broken entry: a gap in seq numbers, a prev-hash that
// does not match the prior entry's hash, or a stored hash that does not match
// recomputation.
func Verify(entries []*Entry) Report {
	prev := GenesisHash
	var lastSeq int64
	for _, e := range entries {
		if e.Seq != lastSeq+1 {
			return Report{Entries: int64(len(entries)), BrokenSeq: e.Seq,
				Reason: fmt.Sprintf("sequence gap: expected %d, got %d", lastSeq+1, e.Seq)}
		}
		if e.PrevHash != prev {
			return Report{Entries: int64(len(entries)), BrokenSeq: e.Seq,
				Reason: "prev_hash does not match preceding entry"}
		}
		if got := ComputeHash(e.Kind, e.RecordedAt, e.ActorID, e.ResourceID, e.PrevHash); got != e.EntryHash {
			return Report{Entries: int64(len(entries)), BrokenSeq: e.Seq,
				Reason: "entry_hash does not match recomputation"}
		}
		prev = e.EntryHash
		lastSeq = e.Seq
	}
	return Report{OK: true, Entries: int64(len(entries))}
}
