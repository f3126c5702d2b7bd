package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PermissionRepo struct {
	pool *pgxpool.Pool
}

func NewPermissionRepo(pool *pgxpool.Pool) *PermissionRepo {
	return &PermissionRepo{pool: pool}
}

// GetOverride returns nil when the admin has no override for module.
func (r *PermissionRepo) GetOverride(ctx context.Context, adminID uuid.UUID, module string) (*bool, error) {
	var canEdit bool
	err := r.pool.QueryRow(ctx, `
		SELECT can_edit FROM module_permissions WHERE admin_user_id = $1 AND module = $2
	`, adminID, module).Scan(&canEdit)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &canEdit, nil
}

func (r *PermissionRepo) Set(ctx context.Context, adminID uuid.UUID, module string, canEdit bool) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO module_permissions (admin_user_id, module, can_edit)
		VALUES ($1, $2, $3)
		ON CONFLICT (admin_user_id, module) DO UPDATE SET can_edit = EXCLUDED.can_edit, updated_at = now()
	`, adminID, module, canEdit)
	return err
}
