package capa

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
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

const actionCols = `id, risk_id, incident_id, kind, title, description, status,
	assignee_id, assignee_name, due_date, completed_at, verified_at,
	verifier_id, verifier_name, created_at, updated_at`

func scanAction(row pgx.Row) (*Action, error) {
	var a Action
	err := row.Scan(
		&a.ID, &a.RiskID, &a.IncidentID, &a.Kind, &a.Title, &a.Description, &a.Status,
		&a.AssigneeID, &a.AssigneeName, &a.DueDate, &a.CompletedAt, &a.VerifiedAt,
		&a.VerifierID, &a.VerifierName, &a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return &a, err
}

func (r *RepoPG) Create(ctx context.Context, a *Action) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO capa_action (id, risk_id, incident_id, kind, title, description, status,
			assignee_id, assignee_name, due_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.RiskID, a.IncidentID, a.Kind, a.Title, a.Description, a.Status,
		a.AssigneeID, a.AssigneeName, a.DueDate,
	)
	return err
}

func (r *RepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Action, error) {
	q := fmt.Sprintf("SELECT %s FROM capa_action WHERE id = $1", actionCols)
	return scanAction(r.conn(ctx).QueryRow(ctx, q, id))
}

func (r *RepoPG) Update(ctx context.Context, a *Action) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE capa_action SET kind = $2, title = $3, description = $4, status = $5,
			assignee_id = $6, assignee_name = $7, due_date = $8, completed_at = $9,
			verified_at = $10, verifier_id = $11, verifier_name = $12, updated_at = now()
		WHERE id = $1`,
		a.ID, a.Kind, a.Title, a.Description, a.Status,
		a.AssigneeID, a.AssigneeName, a.DueDate, a.CompletedAt,
		a.VerifiedAt, a.VerifierID, a.VerifierName,
	)
	return err
}

func (r *RepoPG) Search(ctx context.Context, f Filter, limit, offset int) ([]*Action, int, error) {
	where := []string{}
	args := []interface{}{}
	idx := 1

	if f.RiskID != nil {
		where = append(where, fmt.Sprintf("risk_id = $%d", idx))
		args = append(args, *f.RiskID)
		idx++
	}
	if f.IncidentID != nil {
		where = append(where, fmt.Sprintf("incident_id = $%d", idx))
		args = append(args, *f.IncidentID)
		idx++
	}
	if f.Status != "" {
		where = append(where, fmt.Sprintf("status = $%d", idx))
		args = append(args, f.Status)
		idx++
	}
	if f.Kind != "" {
		where = append(where, fmt.Sprintf("kind = $%d", idx))
		args = append(args, f.Kind)
		idx++
	}
	if f.AssigneeID != "" {
		where = append(where, fmt.Sprintf("assignee_id = $%d", idx))
		args = append(args, f.AssigneeID)
		idx++
	}
	if f.OverdueAt != nil {
		where = append(where, fmt.Sprintf("due_date < $%d AND status IN ('open', 'in_progress')", idx))
		args = append(args, *f.OverdueAt)
		idx++
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	countQ := fmt.Sprintf("SELECT COUNT(*) FROM capa_action %s", whereClause)
	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := fmt.Sprintf("SELECT %s FROM capa_action %s ORDER BY due_date ASC NULLS LAST, created_at DESC LIMIT $%d OFFSET $%d",
		actionCols, whereClause, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}
