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

type AdminRepo struct {
	pool *pgxpool.Pool
}

func NewAdminRepo(pool *pgxpool.Pool) *AdminRepo {
	return &AdminRepo{pool: pool}
}

const adminColumns = `id, email, role, display_name, avatar_url, password_hash, two_factor_enabled, created_at, updated_at`

func scanAdmin(row pgx.Row) (*models.AdminUser, error) {
	var a models.AdminUser
	err := row.Scan(&a.ID, &a.Email, &a.Role, &a.DisplayName, &a.AvatarURL,
		&a.PasswordHash, &a.TwoFactorEnabled, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AdminRepo) Create(ctx context.Context, a *models.AdminUser) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO admin_users (email, role, display_name, avatar_url, password_hash)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`, a.Email, a.Role, a.DisplayName, a.AvatarURL, a.PasswordHash).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
}

func (r *AdminRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.AdminUser, error) {
	return scanAdmin(r.pool.QueryRow(ctx, `SELECT `+adminColumns+` FROM admin_users WHERE id = $1`, id))
}

func (r *AdminRepo) GetByEmail(ctx context.Context, email string) (*models.AdminUser, error) {
	return scanAdmin(r.pool.QueryRow(ctx, `SELECT `+adminColumns+` FROM admin_users WHERE lower(email) = lower($1)`, email))
}

func (r *AdminRepo) List(ctx context.Context) ([]models.AdminUser, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+adminColumns+` FROM admin_users ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}
	defer rows.Close()

	var admins []models.AdminUser
	for rows.Next() {
		a, err := scanAdmin(rows)
		if err != nil {
			return nil, err
		}
		admins = append(admins, *a)
	}
	return admins, rows.Err()
}

// ListEditors returns the admins allowed to edit module: reviewers and admins
// by default, adjusted by module_permissions overrides. Viewers never edit.
func (r *AdminRepo) ListEditors(ctx context.Context, module string) ([]models.AdminIdentity, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT a.id, a.email, a.role, a.display_name, a.avatar_url
		FROM admin_users a
		LEFT JOIN module_permissions mp ON mp.admin_user_id = a.id AND mp.module = $1
		WHERE a.role <> 'viewer' AND COALESCE(mp.can_edit, true)
		ORDER BY a.created_at
	`, module)
	if err != nil {
		return nil, fmt.Errorf("list editors: %w", err)
	}
	defer rows.Close()

	var out []models.AdminIdentity
	for rows.Next() {
		var a models.AdminIdentity
		if err := rows.Scan(&a.ID, &a.Email, &a.Role, &a.DisplayName, &a.AvatarURL); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *AdminRepo) exec(ctx context.Context, id uuid.UUID, sql string, args ...any) error {
	tag, err := r.pool.Exec(ctx, sql, append([]any{id}, args...)...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("admin %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

func (r *AdminRepo) UpdateRole(ctx context.Context, id uuid.UUID, role string) error {
	return r.exec(ctx, id, `UPDATE admin_users SET role = $2, updated_at = now() WHERE id = $1`, role)
}

func (r *AdminRepo) UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error {
	return r.exec(ctx, id, `UPDATE admin_users SET password_hash = $2, updated_at = now() WHERE id = $1`, hash)
}

func (r *AdminRepo) SetTwoFactor(ctx context.Context, id uuid.UUID, enabled bool) error {
	return r.exec(ctx, id, `UPDATE admin_users SET two_factor_enabled = $2, updated_at = now() WHERE id = $1`, enabled)
}

func (r *AdminRepo) Delete(ctx context.Context, id uuid.UUID) error {
	return r.exec(ctx, id, `DELETE FROM admin_users WHERE id = $1`)
}
