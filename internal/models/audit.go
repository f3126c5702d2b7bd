package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditActionsVersion is bumped whenever an action is added or renamed so that
// downstream consumers can detect vocabulary changes.
const AuditActionsVersion = 1

type AuditAction string

const (
	ActionApplicationPending   AuditAction = "application_pending"
	ActionApplicationApproved  AuditAction = "application_approved"
	ActionApplicationRejected  AuditAction = "application_rejected"
	ActionApplicationCancelled AuditAction = "application_cancelled"

	ActionStoryPending  AuditAction = "story_pending"
	ActionStoryApproved AuditAction = "story_approved"
	ActionStoryRejected AuditAction = "story_rejected"

	ActionAdminUserCreated        AuditAction = "admin_user_created"
	ActionAdminUserDeleted        AuditAction = "admin_user_deleted"
	ActionAdminRoleChanged        AuditAction = "admin_role_changed"
	ActionAdminRoleElevated       AuditAction = "admin_role_elevated"
	ActionAdminPasswordChanged    AuditAction = "admin_password_changed"
	ActionAdmin2FAEnabled         AuditAction = "admin_2fa_enabled"
	ActionAdmin2FADisabled        AuditAction = "admin_2fa_disabled"
	ActionModulePermissionUpdated AuditAction = "module_permission_updated"
)

var knownAuditActions = map[AuditAction]struct{}{
	ActionApplicationPending:      {},
	ActionApplicationApproved:     {},
	ActionApplicationRejected:     {},
	ActionApplicationCancelled:    {},
	ActionStoryPending:            {},
	ActionStoryApproved:           {},
	ActionStoryRejected:           {},
	ActionAdminUserCreated:        {},
	ActionAdminUserDeleted:        {},
	ActionAdminRoleChanged:        {},
	ActionAdminRoleElevated:       {},
	ActionAdminPasswordChanged:    {},
	ActionAdmin2FAEnabled:         {},
	ActionAdmin2FADisabled:        {},
	ActionModulePermissionUpdated: {},
}

func (a AuditAction) Valid() bool {
	_, ok := knownAuditActions[a]
	return ok
}

// ReviewAction names the audit action for a record reaching status, e.g.
// application_approved.
func ReviewAction(kind RecordKind, status string) AuditAction {
	return AuditAction(string(kind) + "_" + status)
}

// AuditEntry is an append-only record of a privileged mutation.
type AuditEntry struct {
	ID        uuid.UUID      `json:"id"`
	ActorID   uuid.UUID      `json:"actor_id"`
	Action    AuditAction    `json:"action"`
	TableName string         `json:"table_name"`
	RecordID  *string        `json:"record_id,omitempty"`
	OldValues map[string]any `json:"old_values,omitempty"`
	NewValues map[string]any `json:"new_values,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
