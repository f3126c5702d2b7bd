package models

import (
	"time"

	"github.com/google/uuid"
)

// Notification types
const (
	NotificationReviewStatus = "review_status"
)

type Notification struct {
	ID          uuid.UUID `json:"id"`
	AdminUserID uuid.UUID `json:"admin_user_id"`
	Type        string    `json:"type"`
	Title       string    `json:"title"`
	Message     string    `json:"message"`
	Link        *string   `json:"link,omitempty"`
	IsRead      bool      `json:"is_read"`
	CreatedAt   time.Time `json:"created_at"`
}
