package incident

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

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

const incidentCols = `id, code, title, description, category, grade, status,
	department, location, occurred_at, discovered_at, immediate_action,
	patient_ref, detail, anonymous, reporter_id, reporter_name, risk_id,
	created_at, updated_at, deleted_at`

func scanIncident(row pgx.Row) (*Incident, error) {
	var i Incident
	err := row.Scan(
		&i.ID, &i.Code, &i.Title, &i.Description, &i.Category, &i.Grade, &i.Status,
		&i.Department, &i.Location, &i.OccurredAt, &i.DiscoveredAt, &i.ImmediateAction,
		&i.PatientRef, &i.Detail, &i.Anonymous, &i.ReporterID, &i.ReporterName, &i.RiskID,
		&i.CreatedAt, &i.UpdatedAt, &i.DeletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return &i, err
}

func (r *RepoPG) Create(ctx context.Context, inc *Incident) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO incident (id, code, title, description, category, grade, status,
			department, location, occurred_at, discovered_at, immediate_action,
			patient_ref, detail, anonymous, reporter_id, reporter_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		inc.ID, inc.Code, inc.Title, inc.Description, inc.Category, inc.Grade, inc.Status,
		inc.Department, inc.Location, inc.OccurredAt, inc.DiscoveredAt, inc.ImmediateAction,
		inc.PatientRef, inc.Detail, inc.Anonymous, inc.ReporterID, inc.ReporterName,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && strings.Contains(pgErr.ConstraintName, "code") {
		return ErrDuplicateCode
	}
	return err
}

func (r *RepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Incident, error) {
	q := fmt.Sprintf("SELECT %s FROM incident WHERE id = $1", incidentCols)
	return scanIncident(r.conn(ctx).QueryRow(ctx, q, id))
}

func (r *RepoPG) GetByCode(ctx context.Context, code string) (*Incident, error) {
	q := fmt.Sprintf("SELECT %s FROM incident WHERE code = $1", incidentCols)
	return scanIncident(r.conn(ctx).QueryRow(ctx, q, code))
}

func (r *RepoPG) Update(ctx context.Context, inc *Incident) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE incident SET title = $2, description = $3, category = $4, grade = $5,
			status = $6, department = $7, location = $8, occurred_at = $9,
			discovered_at = $10, immediate_action = $11, patient_ref = $12,
			detail = $13, risk_id = $14, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`,
		inc.ID, inc.Title, inc.Description, inc.Category, inc.Grade,
		inc.Status, inc.Department, inc.Location, inc.OccurredAt,
		inc.DiscoveredAt, inc.ImmediateAction, inc.PatientRef,
		inc.Detail, inc.RiskID,
	)
	return err
}

func (r *RepoPG) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.conn(ctx).Exec(ctx,
		"UPDATE incident SET deleted_at = $2, updated_at = now() WHERE id = $1 AND deleted_at IS NULL",
		id, at,
	)
	return err
}

func (r *RepoPG) NextCodeSeq(ctx context.Context, year int) (int, error) {
	// Codes are dense per year; deleted reports keep their code.
	var max int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COALESCE(MAX(SUBSTRING(code FROM 10)::int), 0)
		FROM incident WHERE code LIKE $1`,
		fmt.Sprintf("PSR-%d-%%", year),
	).Scan(&max)
	if err != nil {
		return 0, err
	}
	return max + 1, nil
}

func (r *RepoPG) CountSimilarSince(ctx context.Context, category Category, department string, since time.Time) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM incident
		WHERE category = $1 AND department = $2 AND occurred_at >= $3 AND deleted_at IS NULL`,
		category, department, since,
	).Scan(&n)
	return n, err
}

func (r *RepoPG) Search(ctx context.Context, f Filter, limit, offset int) ([]*Incident, int, error) {
	where := []string{"deleted_at IS NULL"}
	args := []interface{}{}
	idx := 1

	if f.Category != "" {
		where = append(where, fmt.Sprintf("category = $%d", idx))
		args = append(args, f.Category)
		idx++
	}
	if f.Grade != "" {
		where = append(where, fmt.Sprintf("grade = $%d", idx))
		args = append(args, f.Grade)
		idx++
	}
	if f.Status != "" {
		where = append(where, fmt.Sprintf("status = $%d", idx))
		args = append(args, f.Status)
		idx++
	}
	if f.Department != "" {
		where = append(where, fmt.Sprintf("department = $%d", idx))
		args = append(args, f.Department)
		idx++
	}
	if f.From != nil {
		where = append(where, fmt.Sprintf("occurred_at >= $%d", idx))
		args = append(args, *f.From)
		idx++
	}
	if f.To != nil {
		where = append(where, fmt.Sprintf("occurred_at < $%d", idx))
		args = append(args, *f.To)
		idx++
	}
	if f.Unescalated {
		where = append(where, "risk_id IS NULL")
	}

	whereClause := "WHERE " + strings.Join(where, " AND ")

	countQ := fmt.Sprintf("SELECT COUNT(*) FROM incident %s", whereClause)
	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := fmt.Sprintf("SELECT %s FROM incident %s ORDER BY occurred_at DESC LIMIT $%d OFFSET $%d",
		incidentCols, whereClause, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Incident
	for rows.Next() {
		i, err := scanIncident(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, i)
	}
	return items, total, rows.Err()
}

func (r *RepoPG) AddApproval(ctx context.Context, step *ApprovalStep) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO incident_approval (id, incident_id, level, approver_id, approver_name, decision, comment, decided_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		step.ID, step.IncidentID, step.Level, step.ApproverID, step.ApproverName,
		step.Decision, step.Comment, step.DecidedAt,
	)
	return err
}

func (r *RepoPG) Approvals(ctx context.Context, incidentID uuid.UUID) ([]*ApprovalStep, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, incident_id, level, approver_id, approver_name, decision, comment, decided_at
		FROM incident_approval WHERE incident_id = $1 ORDER BY level ASC, decided_at ASC`,
		incidentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []*ApprovalStep
	for rows.Next() {
		var s ApprovalStep
		if err := rows.Scan(&s.ID, &s.IncidentID, &s.Level, &s.ApproverID, &s.ApproverName,
			&s.Decision, &s.Comment, &s.DecidedAt); err != nil {
			return nil, err
		}
		steps = append(steps, &s)
	}
	return steps, rows.Err()
}
