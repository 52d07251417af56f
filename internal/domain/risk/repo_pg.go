package risk

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
	"github.com/psims/psims/internal/platform/errs"
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

const riskCols = `id, code, title, description, category, department, status, origin, source, reason,
	source_incident_id, current_p, current_s, current_score, current_level,
	residual_p, residual_s, residual_score, residual_level,
	owner_id, owner_name, created_at, updated_at, closed_at, closed_by_id, closed_by_name`

func scanRisk(row pgx.Row) (*Risk, error) {
	var k Risk
	err := row.Scan(
		&k.ID, &k.Code, &k.Title, &k.Description, &k.Category, &k.Department, &k.Status, &k.Origin, &k.Source, &k.Reason,
		&k.SourceIncidentID, &k.CurrentP, &k.CurrentS, &k.CurrentScore, &k.CurrentLevel,
		&k.ResidualP, &k.ResidualS, &k.ResidualScore, &k.ResidualLevel,
		&k.OwnerID, &k.OwnerName, &k.CreatedAt, &k.UpdatedAt, &k.ClosedAt, &k.ClosedByID, &k.ClosedByName,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return &k, err
}

func (r *RepoPG) Create(ctx context.Context, k *Risk) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO risk (id, code, title, description, category, department, status, origin, source, reason,
			source_incident_id, current_p, current_s, current_score, current_level,
			owner_id, owner_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		k.ID, k.Code, k.Title, k.Description, k.Category, k.Department, k.Status, k.Origin, k.Source, k.Reason,
		k.SourceIncidentID, k.CurrentP, k.CurrentS, k.CurrentScore, k.CurrentLevel,
		k.OwnerID, k.OwnerName,
	)
	return insertError(err)
}

// insertError maps unique-constraint violations onto domain errors. Two
// escalations racing past the prior-escalation check both reach the insert;
// the loser's violation on source_incident_id is a conflict, not a server
// fault.
func insertError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		if strings.Contains(pgErr.ConstraintName, "source_incident") {
			return errs.Conflict("incident already escalated to the register")
		}
		return ErrDuplicateCode
	}
	return err
}

func (r *RepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Risk, error) {
	q := fmt.Sprintf("SELECT %s FROM risk WHERE id = $1", riskCols)
	return scanRisk(r.conn(ctx).QueryRow(ctx, q, id))
}

func (r *RepoPG) GetByCode(ctx context.Context, code string) (*Risk, error) {
	q := fmt.Sprintf("SELECT %s FROM risk WHERE code = $1", riskCols)
	return scanRisk(r.conn(ctx).QueryRow(ctx, q, code))
}

func (r *RepoPG) GetBySourceIncident(ctx context.Context, incidentID uuid.UUID) (*Risk, error) {
	q := fmt.Sprintf("SELECT %s FROM risk WHERE source_incident_id = $1", riskCols)
	return scanRisk(r.conn(ctx).QueryRow(ctx, q, incidentID))
}

func (r *RepoPG) Update(ctx context.Context, k *Risk) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE risk SET title = $2, description = $3, category = $4, department = $5,
			status = $6, source = $7, reason = $8,
			current_p = $9, current_s = $10, current_score = $11, current_level = $12,
			residual_p = $13, residual_s = $14, residual_score = $15, residual_level = $16,
			owner_id = $17, owner_name = $18, closed_at = $19,
			closed_by_id = $20, closed_by_name = $21, updated_at = now()
		WHERE id = $1`,
		k.ID, k.Title, k.Description, k.Category, k.Department,
		k.Status, k.Source, k.Reason,
		k.CurrentP, k.CurrentS, k.CurrentScore, k.CurrentLevel,
		k.ResidualP, k.ResidualS, k.ResidualScore, k.ResidualLevel,
		k.OwnerID, k.OwnerName, k.ClosedAt, k.ClosedByID, k.ClosedByName,
	)
	return err
}

func (r *RepoPG) NextCodeSeq(ctx context.Context, year int) (int, error) {
	var max int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COALESCE(MAX(SUBSTRING(code FROM 8)::int), 0)
		FROM risk WHERE code LIKE $1`,
		fmt.Sprintf("R-%d-%%", year),
	).Scan(&max)
	if err != nil {
		return 0, err
	}
	return max + 1, nil
}

func (r *RepoPG) Search(ctx context.Context, f Filter, limit, offset int) ([]*Risk, int, error) {
	where := []string{}
	args := []interface{}{}
	idx := 1

	if f.Status != "" {
		where = append(where, fmt.Sprintf("status = $%d", idx))
		args = append(args, f.Status)
		idx++
	}
	if f.Level != "" {
		where = append(where, fmt.Sprintf("current_level = $%d", idx))
		args = append(args, f.Level)
		idx++
	}
	if f.Origin != "" {
		where = append(where, fmt.Sprintf("origin = $%d", idx))
		args = append(args, f.Origin)
		idx++
	}
	if f.Source != "" {
		where = append(where, fmt.Sprintf("source = $%d", idx))
		args = append(args, f.Source)
		idx++
	}
	if f.Category != "" {
		where = append(where, fmt.Sprintf("category = $%d", idx))
		args = append(args, f.Category)
		idx++
	}
	if f.Department != "" {
		where = append(where, fmt.Sprintf("department = $%d", idx))
		args = append(args, f.Department)
		idx++
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	countQ := fmt.Sprintf("SELECT COUNT(*) FROM risk %s", whereClause)
	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := fmt.Sprintf("SELECT %s FROM risk %s ORDER BY current_score DESC, created_at DESC LIMIT $%d OFFSET $%d",
		riskCols, whereClause, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Risk
	for rows.Next() {
		k, err := scanRisk(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, k)
	}
	return items, total, rows.Err()
}

func (r *RepoPG) AddAssessment(ctx context.Context, a *Assessment) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO risk_assessment (id, risk_id, type, p, s, score, level, note, assessor_id, assessor_name, assessed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.ID, a.RiskID, a.Type, a.P, a.S, a.Score, a.Level, a.Note, a.AssessorID, a.AssessorName, a.AssessedAt,
	)
	return err
}

func (r *RepoPG) Assessments(ctx context.Context, riskID uuid.UUID) ([]*Assessment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, risk_id, type, p, s, score, level, note, assessor_id, assessor_name, assessed_at
		FROM risk_assessment WHERE risk_id = $1 ORDER BY assessed_at ASC`,
		riskID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Assessment
	for rows.Next() {
		var a Assessment
		if err := rows.Scan(&a.ID, &a.RiskID, &a.Type, &a.P, &a.S, &a.Score, &a.Level,
			&a.Note, &a.AssessorID, &a.AssessorName, &a.AssessedAt); err != nil {
			return nil, err
		}
		items = append(items, &a)
	}
	return items, rows.Err()
}
