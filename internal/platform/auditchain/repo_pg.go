package auditchain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/psims/psims/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// RepoPG stores chain entries in PostgreSQL. The audit_entry table carries
// a UNIQUE constraint on seq; Insert maps its violation to ErrDuplicateSeq
// so the Recorder can retry against the refreshed head.
type RepoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) *RepoPG {
	return &RepoPG{pool: pool}
}

func (r *RepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const entryCols = `id, seq, kind, recorded_at, actor_id, actor_role, actor_name,
	ip_address, user_agent, resource_kind, resource_id, detail, result,
	prev_hash, entry_hash, created_at`

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	err := row.Scan(
		&e.ID, &e.Seq, &e.Kind, &e.RecordedAt, &e.ActorID, &e.ActorRole, &e.ActorName,
		&e.IPAddress, &e.UserAgent, &e.ResourceKind, &e.ResourceID, &e.Detail, &e.Result,
		&e.PrevHash, &e.EntryHash, &e.CreatedAt,
	)
	return &e, err
}

func (r *RepoPG) Head(ctx context.Context) (int64, string, error) {
	var seq int64
	var hash string
	err := r.conn(ctx).QueryRow(ctx,
		"SELECT seq, entry_hash FROM audit_entry ORDER BY seq DESC LIMIT 1",
	).Scan(&seq, &hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, GenesisHash, nil
	}
	if err != nil {
		return 0, "", err
	}
	return seq, hash, nil
}

func (r *RepoPG) Insert(ctx context.Context, e *Entry) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO audit_entry (id, seq, kind, recorded_at, actor_id, actor_role, actor_name,
			ip_address, user_agent, resource_kind, resource_id, detail, result,
			prev_hash, entry_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		e.ID, e.Seq, e.Kind, e.RecordedAt, e.ActorID, e.ActorRole, e.ActorName,
		e.IPAddress, e.UserAgent, e.ResourceKind, e.ResourceID, e.Detail, e.Result,
		e.PrevHash, e.EntryHash,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateSeq
	}
	return err
}

func (r *RepoPG) Search(ctx context.Context, f Filter, limit, offset int) ([]*Entry, int, error) {
	where := []string{}
	args := []interface{}{}
	idx := 1

	if f.Kind != "" {
		where = append(where, fmt.Sprintf("kind = $%d", idx))
		args = append(args, f.Kind)
		idx++
	}
	if f.ActorID != "" {
		where = append(where, fmt.Sprintf("actor_id = $%d", idx))
		args = append(args, f.ActorID)
		idx++
	}
	if f.ResourceKind != "" {
		where = append(where, fmt.Sprintf("resource_kind = $%d", idx))
		args = append(args, f.ResourceKind)
		idx++
	}
	if f.ResourceID != "" {
		where = append(where, fmt.Sprintf("resource_id = $%d", idx))
		args = append(args, f.ResourceID)
		idx++
	}
	if f.From != nil {
		where = append(where, fmt.Sprintf("recorded_at >= $%d", idx))
		args = append(args, *f.From)
		idx++
	}
	if f.To != nil {
		where = append(where, fmt.Sprintf("recorded_at < $%d", idx))
		args = append(args, *f.To)
		idx++
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	countQ := fmt.Sprintf("SELECT COUNT(*) FROM audit_entry %s", whereClause)
	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := fmt.Sprintf("SELECT %s FROM audit_entry %s ORDER BY seq DESC LIMIT $%d OFFSET $%d",
		entryCols, whereClause, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, rows.Err()
}

func (r *RepoPG) Walk(ctx context.Context, fn func(*Entry) error) error {
	q := fmt.Sprintf("SELECT %s FROM audit_entry ORDER BY seq ASC", entryCols)
	rows, err := r.conn(ctx).Query(ctx, q)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return rows.Err()
}
