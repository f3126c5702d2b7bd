package models

import (
	"time"

	"github.com/google/uuid"
)

// AdminIdentity is the session-scoped view of an admin. It never changes while
// a session is open.
type AdminIdentity struct {
	ID          uuid.UUID `json:"id"`
	Email       string    `json:"email"`
	Role        string    `json:"role"` // viewer / reviewer / admin
	DisplayName *string   `json:"display_name,omitempty"`
	AvatarURL   *string   `json:"avatar_url,omitempty"`
}

type AdminUser struct {
	AdminIdentity
	PasswordHash     string    `json:"-"`
	TwoFactorEnabled bool      `json:"two_factor_enabled"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ModulePermission overrides the role default for one module.
type ModulePermission struct {
	AdminUserID uuid.UUID `json:"admin_user_id"`
	Module      string    `json:"module"`
	CanEdit     bool      `json:"can_edit"`
	UpdatedAt   time.Time `json:"updated_at"`
}
