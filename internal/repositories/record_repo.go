package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/admissions-portal/backend/internal/apperr"
	"github.com/admissions-portal/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RecordRepo reads and writes reviewable records. Applications and blog
// stories live in separate tables but share the status column contract.
type RecordRepo struct {
	pool *pgxpool.Pool
}

func NewRecordRepo(pool *pgxpool.Pool) *RecordRepo {
	return &RecordRepo{pool: pool}
}

type RecordFilter struct {
	Status *string
	Limit  int
	Offset int
}

func selectRecord(kind models.RecordKind) (string, error) {
	switch kind {
	case models.KindApplication:
		return `SELECT id, status, applicant_name, program, applicant_email, applicant_phone, created_at, updated_at FROM applications`, nil
	case models.KindStory:
		return `SELECT id, status, title, '', NULL::text, NULL::text, created_at, updated_at FROM blog_posts`, nil
	default:
		return "", fmt.Errorf("unknown record kind %q: %w", kind, apperr.ErrInvalidInput)
	}
}

func scanRecord(kind models.RecordKind, row pgx.Row) (*models.ReviewableRecord, error) {
	rec := models.ReviewableRecord{Kind: kind}
	var name, program string
	var email, phone *string
	if err := row.Scan(&rec.ID, &rec.Status, &name, &program, &email, &phone, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Title = name
	if kind == models.KindApplication {
		if program != "" {
			rec.Title = name + " (" + program + ")"
		}
		rec.Applicant = &models.Applicant{Name: name, Email: email, Phone: phone}
	}
	return &rec, nil
}

func (r *RecordRepo) GetByID(ctx context.Context, kind models.RecordKind, id uuid.UUID) (*models.ReviewableRecord, error) {
	query, err := selectRecord(kind)
	if err != nil {
		return nil, err
	}
	rec, err := scanRecord(kind, r.pool.QueryRow(ctx, query+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", kind, id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", kind, err)
	}
	return rec, nil
}

func (r *RecordRepo) List(ctx context.Context, kind models.RecordKind, f RecordFilter) ([]models.ReviewableRecord, error) {
	query, err := selectRecord(kind)
	if err != nil {
		return nil, err
	}
	args := []any{}
	argIdx := 1
	if f.Status != nil {
		query += fmt.Sprintf(" WHERE status = $%d", argIdx)
		args = append(args, *f.Status)
		argIdx++
	}

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, max(f.Offset, 0))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}
	defer rows.Close()

	var recs []models.ReviewableRecord
	for rows.Next() {
		rec, err := scanRecord(kind, rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

// UpdateStatus overwrites the status unconditionally. Concurrent writers are
// resolved by whichever commits last.
func (r *RecordRepo) UpdateStatus(ctx context.Context, kind models.RecordKind, id uuid.UUID, status string) error {
	table := kind.Table()
	if table == "" {
		return fmt.Errorf("unknown record kind %q: %w", kind, apperr.ErrInvalidInput)
	}
	tag, err := r.pool.Exec(ctx, `UPDATE `+table+` SET status = $1, updated_at = now() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("update %s status: %w", kind, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, apperr.ErrNotFound)
	}
	return nil
}
