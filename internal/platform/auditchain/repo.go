package auditchain

import (
	"context"
	"errors"
)

// ErrDuplicateSeq is returned by Insert when another writer claimed the
// sequence number first. Recorder retries once after re-reading the head.
var ErrDuplicateSeq = errors.New("auditchain: duplicate sequence number")

// Repository is the persistence port for the audit chain.
type Repository interface {
	// Head returns the seq and entry hash of the latest entry, or
	// (0, GenesisHash, nil) when the chain is empty.
	Head(ctx context.Context) (int64, string, error)

	// Insert appends an entry. It must fail with ErrDuplicateSeq when
	// entry.Seq already exists.
	Insert(ctx context.Context, entry *Entry) error

	// Search returns entries newest-first with a total count.
	Search(ctx context.Context, f Filter, limit, offset int) ([]*Entry, int, error)

	// Walk streams all entries in ascending seq order for verification.
	Walk(ctx context.Context, fn func(*Entry) error) error
}
