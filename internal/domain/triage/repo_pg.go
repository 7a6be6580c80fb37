package triage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cholera-ops/triage/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type assessmentRepoPG struct{ pool *pgxpool.Pool }

func NewAssessmentRepoPG(pool *pgxpool.Pool) AssessmentRepository {
	return &assessmentRepoPG{pool: pool}
}

func (r *assessmentRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const assessmentCols = `id, patient_id, hospital_id, assessed_by, symptoms, score, risk_level,
	critical_match, unknown_symptoms, note, assessed_at, created_at, updated_at`

func (r *assessmentRepoPG) scanAssessment(row pgx.Row) (*Assessment, error) {
	var a Assessment
	var symptoms, critical, unknown []string
	var level string
	err := row.Scan(&a.ID, &a.PatientID, &a.HospitalID, &a.AssessedBy, &symptoms, &a.Score, &level,
		&critical, &unknown, &a.Note, &a.AssessedAt, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Symptoms = toIDs(symptoms)
	a.RiskLevel = RiskLevel(level)
	a.CriticalMatch = toIDs(critical)
	a.UnknownSymptoms = toIDs(unknown)
	return &a, nil
}

func (r *assessmentRepoPG) Create(ctx context.Context, a *Assessment) error {
	a.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO triage_assessment (id, patient_id, hospital_id, assessed_by, symptoms, score, risk_level,
			critical_match, unknown_symptoms, note, assessed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.HospitalID, a.AssessedBy, fromIDs(a.Symptoms), a.Score, string(a.RiskLevel),
		fromIDs(a.CriticalMatch), fromIDs(a.UnknownSymptoms), a.Note, a.AssessedAt,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (r *assessmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Assessment, error) {
	return r.scanAssessment(r.conn(ctx).QueryRow(ctx, `SELECT `+assessmentCols+` FROM triage_assessment WHERE id = $1`, id))
}

func (r *assessmentRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM triage_assessment WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *assessmentRepoPG) UpdateClassification(ctx context.Context, a *Assessment) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE triage_assessment SET score=$2, risk_level=$3, critical_match=$4, unknown_symptoms=$5, updated_at=NOW()
		WHERE id = $1`,
		a.ID, a.Score, string(a.RiskLevel), fromIDs(a.CriticalMatch), fromIDs(a.UnknownSymptoms))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *assessmentRepoPG) List(ctx context.Context, limit, offset int) ([]*Assessment, int, error) {
	return r.Search(ctx, nil, limit, offset)
}

func (r *assessmentRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Assessment, int, error) {
	return r.Search(ctx, map[string]string{"patient_id": patientID.String()}, limit, offset)
}

func (r *assessmentRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Assessment, int, error) {
	query := `SELECT ` + assessmentCols + ` FROM triage_assessment WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM triage_assessment WHERE 1=1`
	var args []interface{}
	idx := 1

	for _, col := range []string{"patient_id", "hospital_id", "risk_level"} {
		p, ok := params[col]
		if !ok {
			continue
		}
		query += fmt.Sprintf(` AND %s = $%d`, col, idx)
		countQuery += fmt.Sprintf(` AND %s = $%d`, col, idx)
		args = append(args, p)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY assessed_at DESC, id LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Assessment
	for rows.Next() {
		a, err := r.scanAssessment(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r *assessmentRepoPG) CountByLevel(ctx context.Context) (map[RiskLevel]int, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT risk_level, COUNT(*) FROM triage_assessment GROUP BY risk_level`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[RiskLevel]int, len(Levels))
	for _, level := range Levels {
		counts[level] = 0
	}
	for rows.Next() {
		var level string
		var n int
		if err := rows.Scan(&level, &n); err != nil {
			return nil, err
		}
		counts[RiskLevel(level)] = n
	}
	return counts, rows.Err()
}

func toIDs(in []string) []SymptomID {
	if len(in) == 0 {
		return nil
	}
	out := make([]SymptomID, len(in))
	for i, s := range in {
		out[i] = SymptomID(s)
	}
	return out
}

func fromIDs(in []SymptomID) []string {
	out := make([]string, len(in))
	for i, id := range in {
		out[i] = string(id)
	}
	return out
}
