package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/admissions-portal/backend/internal/apperr"
	"github.com/admissions-portal/backend/internal/audit"
	"github.com/admissions-portal/backend/internal/auth"
	"github.com/admissions-portal/backend/internal/models"
	"github.com/admissions-portal/backend/internal/rbac"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type AdminStore interface {
	Create(ctx context.Context, a *models.AdminUser) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.AdminUser, error)
	GetByEmail(ctx context.Context, email string) (*models.AdminUser, error)
	List(ctx context.Context) ([]models.AdminUser, error)
	UpdateRole(ctx context.Context, id uuid.UUID, role string) error
	UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error
	SetTwoFactor(ctx context.Context, id uuid.UUID, enabled bool) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type PermissionWriter interface {
	Set(ctx context.Context, adminID uuid.UUID, module string, canEdit bool) error
}

type Auditor interface {
	Append(ctx context.Context, e audit.Entry) audit.Result
}

const adminTable = "admin_users"

// AdminService manages admin accounts. Every mutation is audited; the
// critical ones reach the alert dispatcher through the audit log hooks.
type AdminService struct {
	admins        AdminStore
	permissions   PermissionWriter
	audit         Auditor
	jwtSecret     string
	jwtExpiration time.Duration
	log           *zap.Logger
}

func NewAdminService(admins AdminStore, permissions PermissionWriter, auditor Auditor, jwtSecret string, jwtExpiration time.Duration, log *zap.Logger) *AdminService {
	return &AdminService{
		admins:        admins,
		permissions:   permissions,
		audit:         auditor,
		jwtSecret:     jwtSecret,
		jwtExpiration: jwtExpiration,
		log:           log,
	}
}

func (s *AdminService) Login(ctx context.Context, email, password string) (string, *models.AdminUser, error) {
	admin, err := s.admins.GetByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, apperr.ErrNotFound) {
		return "", nil, apperr.ErrInvalidCredentials
	}
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", apperr.ErrPersistence, err)
	}
	if !auth.CheckPassword(admin.PasswordHash, password) {
		s.log.Info("failed admin login", zap.String("admin_id", admin.ID.String()))
		return "", nil, apperr.ErrInvalidCredentials
	}

	token, err := auth.GenerateJWT(s.jwtSecret, admin.AdminIdentity, s.jwtExpiration)
	if err != nil {
		return "", nil, fmt.Errorf("generate jwt: %w", err)
	}
	return token, admin, nil
}

func (s *AdminService) Get(ctx context.Context, id uuid.UUID) (*models.AdminUser, error) {
	return s.admins.GetByID(ctx, id)
}

func (s *AdminService) List(ctx context.Context, actor models.AdminIdentity) ([]models.AdminUser, error) {
	actor, err := s.currentActor(ctx, actor)
	if err != nil {
		return nil, err
	}
	if !rbac.HasPermission(actor.Role, rbac.PermManageAdmins) {
		return nil, apperr.ErrForbidden
	}
	return s.admins.List(ctx)
}

type CreateAdminInput struct {
	Email       string
	Password    string
	Role        string
	DisplayName *string
}

// Create adds an admin on behalf of actor.
func (s *AdminService) Create(ctx context.Context, actor models.AdminIdentity, in CreateAdminInput) (*models.AdminUser, error) {
	actor, err := s.currentActor(ctx, actor)
	if err != nil {
		return nil, err
	}
	if !rbac.HasPermission(actor.Role, rbac.PermManageAdmins) {
		return nil, apperr.ErrForbidden
	}
	return s.create(ctx, actor.ID, in)
}

// Bootstrap creates an admin without an acting session, for operator
// tooling. The new account is recorded as its own creator.
func (s *AdminService) Bootstrap(ctx context.Context, in CreateAdminInput) (*models.AdminUser, error) {
	return s.create(ctx, uuid.Nil, in)
}

func (s *AdminService) create(ctx context.Context, actorID uuid.UUID, in CreateAdminInput) (*models.AdminUser, error) {
	addr, err := mail.ParseAddress(in.Email)
	if err != nil {
		return nil, fmt.Errorf("invalid email: %w", apperr.ErrInvalidInput)
	}
	if !rbac.IsValidRole(in.Role) {
		return nil, fmt.Errorf("invalid role %q: %w", in.Role, apperr.ErrInvalidInput)
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, apperr.ErrInvalidInput)
	}
	if _, err := s.admins.GetByEmail(ctx, addr.Address); err == nil {
		return nil, fmt.Errorf("admin %s already exists: %w", addr.Address, apperr.ErrConflict)
	}

	admin := &models.AdminUser{
		AdminIdentity: models.AdminIdentity{Email: addr.Address, Role: in.Role, DisplayName: in.DisplayName},
		PasswordHash:  hash,
	}
	if err := s.admins.Create(ctx, admin); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrPersistence, err)
	}
	if actorID == uuid.Nil {
		actorID = admin.ID
	}

	s.record(ctx, actorID, models.ActionAdminUserCreated, admin.ID, nil, map[string]any{
		"email": admin.Email,
		"role":  admin.Role,
	})
	return admin, nil
}

// ChangeRole records admin_role_elevated when the new role grants more
// capability and admin_role_changed otherwise.
func (s *AdminService) ChangeRole(ctx context.Context, actor models.AdminIdentity, targetID uuid.UUID, role string) (*models.AdminUser, error) {
	actor, err := s.currentActor(ctx, actor)
	if err != nil {
		return nil, err
	}
	if !rbac.HasPermission(actor.Role, rbac.PermManageAdmins) {
		return nil, apperr.ErrForbidden
	}
	if !rbac.IsValidRole(role) {
		return nil, fmt.Errorf("invalid role %q: %w", role, apperr.ErrInvalidInput)
	}
	if actor.ID == targetID {
		return nil, fmt.Errorf("cannot change own role: %w", apperr.ErrForbidden)
	}
	target, err := s.admins.GetByID(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if target.Role == role {
		return target, nil
	}

	if err := s.admins.UpdateRole(ctx, targetID, role); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrPersistence, err)
	}
	oldRole := target.Role
	target.Role = role

	action := models.ActionAdminRoleChanged
	if rbac.IsElevation(oldRole, role) {
		action = models.ActionAdminRoleElevated
	}
	s.record(ctx, actor.ID, action, targetID,
		map[string]any{"role": oldRole, "email": target.Email},
		map[string]any{"role": role},
	)
	return target, nil
}

func (s *AdminService) Delete(ctx context.Context, actor models.AdminIdentity, targetID uuid.UUID) error {
	actor, err := s.currentActor(ctx, actor)
	if err != nil {
		return err
	}
	if !rbac.HasPermission(actor.Role, rbac.PermManageAdmins) {
		return apperr.ErrForbidden
	}
	if actor.ID == targetID {
		return fmt.Errorf("cannot delete own account: %w", apperr.ErrForbidden)
	}
	target, err := s.admins.GetByID(ctx, targetID)
	if err != nil {
		return err
	}
	if err := s.admins.Delete(ctx, targetID); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrPersistence, err)
	}

	s.record(ctx, actor.ID, models.ActionAdminUserDeleted, targetID,
		map[string]any{"email": target.Email, "role": target.Role},
		nil,
	)
	return nil
}

// canManage allows admins to act on anyone and everyone else on themselves.
func canManage(actor models.AdminIdentity, targetID uuid.UUID) bool {
	return actor.ID == targetID || rbac.HasPermission(actor.Role, rbac.PermManageAdmins)
}

func (s *AdminService) ChangePassword(ctx context.Context, actor models.AdminIdentity, targetID uuid.UUID, password string) error {
	actor, err := s.currentActor(ctx, actor)
	if err != nil {
		return err
	}
	if !canManage(actor, targetID) {
		return apperr.ErrForbidden
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("%v: %w", err, apperr.ErrInvalidInput)
	}
	target, err := s.admins.GetByID(ctx, targetID)
	if err != nil {
		return err
	}
	if err := s.admins.UpdatePassword(ctx, targetID, hash); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrPersistence, err)
	}

	s.record(ctx, actor.ID, models.ActionAdminPasswordChanged, targetID,
		map[string]any{"email": target.Email},
		map[string]any{"changed_by_self": actor.ID == targetID},
	)
	return nil
}

func (s *AdminService) SetTwoFactor(ctx context.Context, actor models.AdminIdentity, targetID uuid.UUID, enabled bool) error {
	actor, err := s.currentActor(ctx, actor)
	if err != nil {
		return err
	}
	if !canManage(actor, targetID) {
		return apperr.ErrForbidden
	}
	target, err := s.admins.GetByID(ctx, targetID)
	if err != nil {
		return err
	}
	if target.TwoFactorEnabled == enabled {
		return nil
	}
	if err := s.admins.SetTwoFactor(ctx, targetID, enabled); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrPersistence, err)
	}

	action := models.ActionAdmin2FAEnabled
	if !enabled {
		action = models.ActionAdmin2FADisabled
	}
	s.record(ctx, actor.ID, action, targetID,
		map[string]any{"two_factor_enabled": !enabled, "email": target.Email},
		map[string]any{"two_factor_enabled": enabled},
	)
	return nil
}

func (s *AdminService) SetModulePermission(ctx context.Context, actor models.AdminIdentity, targetID uuid.UUID, module string, canEdit bool) error {
	actor, err := s.currentActor(ctx, actor)
	if err != nil {
		return err
	}
	if !rbac.HasPermission(actor.Role, rbac.PermManageAdmins) {
		return apperr.ErrForbidden
	}
	if module != rbac.ModuleApplications && module != rbac.ModuleStories {
		return fmt.Errorf("unknown module %q: %w", module, apperr.ErrInvalidInput)
	}
	if _, err := s.admins.GetByID(ctx, targetID); err != nil {
		return err
	}
	if err := s.permissions.Set(ctx, targetID, module, canEdit); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrPersistence, err)
	}

	s.record(ctx, actor.ID, models.ActionModulePermissionUpdated, targetID, nil, map[string]any{
		"module":   module,
		"can_edit": canEdit,
	})
	return nil
}

// currentActor reloads the acting admin. A session that outlives its
// account is rejected, and a demoted admin acts with the stored role.
func (s *AdminService) currentActor(ctx context.Context, actor models.AdminIdentity) (models.AdminIdentity, error) {
	if actor.ID == uuid.Nil {
		return models.AdminIdentity{}, fmt.Errorf("acting admin is required: %w", apperr.ErrInvalidInput)
	}
	current, err := s.admins.GetByID(ctx, actor.ID)
	if errors.Is(err, apperr.ErrNotFound) {
		return models.AdminIdentity{}, fmt.Errorf("acting admin %s: %w", actor.ID, apperr.ErrNotFound)
	}
	if err != nil {
		return models.AdminIdentity{}, fmt.Errorf("%w: %v", apperr.ErrPersistence, err)
	}
	return current.AdminIdentity, nil
}

func (s *AdminService) record(ctx context.Context, actorID uuid.UUID, action models.AuditAction, targetID uuid.UUID, oldValues, newValues map[string]any) {
	recordID := targetID.String()
	s.audit.Append(ctx, audit.Entry{
		ActorID:   actorID,
		Action:    action,
		TableName: adminTable,
		RecordID:  &recordID,
		OldValues: oldValues,
		NewValues: newValues,
	})
}
