package repositories

import (
	"context"
	"fmt"

	"github.com/admissions-portal/backend/internal/apperr"
	"github.com/admissions-portal/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NotificationRepo scopes every statement to one owner. A zero owner id is
// rejected before any SQL is built.
type NotificationRepo struct {
	pool *pgxpool.Pool
}

func NewNotificationRepo(pool *pgxpool.Pool) *NotificationRepo {
	return &NotificationRepo{pool: pool}
}

var errMissingOwner = fmt.Errorf("notification owner required: %w", apperr.ErrInvalidInput)

func (r *NotificationRepo) Create(ctx context.Context, n *models.Notification) error {
	if n.AdminUserID == uuid.Nil {
		return errMissingOwner
	}
	return r.pool.QueryRow(ctx, `
		INSERT INTO admin_notifications (admin_user_id, type, title, message, link)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, is_read, created_at
	`, n.AdminUserID, n.Type, n.Title, n.Message, n.Link).Scan(&n.ID, &n.IsRead, &n.CreatedAt)
}

func (r *NotificationRepo) ListForAdmin(ctx context.Context, adminID uuid.UUID, limit int) ([]models.Notification, error) {
	if adminID == uuid.Nil {
		return nil, errMissingOwner
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, admin_user_id, type, title, message, link, is_read, created_at
		FROM admin_notifications WHERE admin_user_id = $1
		ORDER BY created_at DESC LIMIT $2
	`, adminID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []models.Notification
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.AdminUserID, &n.Type, &n.Title, &n.Message, &n.Link, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *NotificationRepo) MarkRead(ctx context.Context, adminID, id uuid.UUID) error {
	if adminID == uuid.Nil {
		return errMissingOwner
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE admin_notifications SET is_read = true WHERE id = $1 AND admin_user_id = $2
	`, id, adminID)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("notification %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

func (r *NotificationRepo) MarkAllRead(ctx context.Context, adminID uuid.UUID) (int64, error) {
	if adminID == uuid.Nil {
		return 0, errMissingOwner
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE admin_notifications SET is_read = true WHERE admin_user_id = $1 AND is_read = false
	`, adminID)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *NotificationRepo) Delete(ctx context.Context, adminID, id uuid.UUID) error {
	if adminID == uuid.Nil {
		return errMissingOwner
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM admin_notifications WHERE id = $1 AND admin_user_id = $2`, id, adminID)
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("notification %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

func (r *NotificationRepo) UnreadCount(ctx context.Context, adminID uuid.UUID) (int, error) {
	if adminID == uuid.Nil {
		return 0, errMissingOwner
	}
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM admin_notifications WHERE admin_user_id = $1 AND is_read = false
	`, adminID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return n, nil
}
