package repositories

import (
	"context"
	"fmt"
	"strings"

	"github.com/admissions-portal/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditRepo only inserts and reads. admin_audit_log rejects UPDATE and DELETE
// at the database level.
type AuditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

func (r *AuditRepo) Insert(ctx context.Context, e *models.AuditEntry) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO admin_audit_log (actor_id, action, table_name, record_id, old_values, new_values)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, e.ActorID, string(e.Action), e.TableName, e.RecordID, e.OldValues, e.NewValues,
	).Scan(&e.ID, &e.CreatedAt)
}

type AuditFilter struct {
	ActorID   *uuid.UUID
	Action    *models.AuditAction
	TableName *string
	RecordID  *string
	Limit     int
	Offset    int
}

func (r *AuditRepo) List(ctx context.Context, f AuditFilter) ([]models.AuditEntry, error) {
	query := `
		SELECT id, actor_id, action, table_name, record_id, old_values, new_values, created_at
		FROM admin_audit_log
	`
	args := []any{}
	where := []string{}
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.ActorID != nil {
		add("actor_id = $%d", *f.ActorID)
	}
	if f.Action != nil {
		add("action = $%d", string(*f.Action))
	}
	if f.TableName != nil {
		add("table_name = $%d", *f.TableName)
	}
	if f.RecordID != nil {
		add("record_id = $%d", *f.RecordID)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, max(f.Offset, 0))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.AuditEntry, error) {
		var e models.AuditEntry
		var action string
		err := row.Scan(&e.ID, &e.ActorID, &action, &e.TableName, &e.RecordID, &e.OldValues, &e.NewValues, &e.CreatedAt)
		e.Action = models.AuditAction(action)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan audit: %w", err)
	}
	return entries, nil
}
