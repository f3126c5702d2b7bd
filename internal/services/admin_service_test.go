package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/admissions-portal/backend/internal/alerts"
	"github.com/admissions-portal/backend/internal/apperr"
	"github.com/admissions-portal/backend/internal/audit"
	"github.com/admissions-portal/backend/internal/auth"
	"github.com/admissions-portal/backend/internal/models"
	"github.com/admissions-portal/backend/internal/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type memAdmins struct {
	mu     sync.Mutex
	admins map[uuid.UUID]models.AdminUser
}

func (m *memAdmins) Create(_ context.Context, a *models.AdminUser) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	m.admins[a.ID] = *a
	return nil
}

func (m *memAdmins) GetByID(_ context.Context, id uuid.UUID) (*models.AdminUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.admins[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return &a, nil
}

func (m *memAdmins) GetByEmail(_ context.Context, email string) (*models.AdminUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.admins {
		if strings.EqualFold(a.Email, email) {
			return &a, nil
		}
	}
	return nil, apperr.ErrNotFound
}

func (m *memAdmins) List(context.Context) ([]models.AdminUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.AdminUser, 0, len(m.admins))
	for _, a := range m.admins {
		out = append(out, a)
	}
	return out, nil
}

func (m *memAdmins) update(id uuid.UUID, fn func(*models.AdminUser)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.admins[id]
	if !ok {
		return apperr.ErrNotFound
	}
	fn(&a)
	m.admins[id] = a
	return nil
}

func (m *memAdmins) UpdateRole(_ context.Context, id uuid.UUID, role string) error {
	return m.update(id, func(a *models.AdminUser) { a.Role = role })
}

func (m *memAdmins) UpdatePassword(_ context.Context, id uuid.UUID, hash string) error {
	return m.update(id, func(a *models.AdminUser) { a.PasswordHash = hash })
}

func (m *memAdmins) SetTwoFactor(_ context.Context, id uuid.UUID, enabled bool) error {
	return m.update(id, func(a *models.AdminUser) { a.TwoFactorEnabled = enabled })
}

func (m *memAdmins) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.admins[id]; !ok {
		return apperr.ErrNotFound
	}
	delete(m.admins, id)
	return nil
}

type memPermissions struct {
	set map[string]bool
}

func (m *memPermissions) Set(_ context.Context, adminID uuid.UUID, module string, canEdit bool) error {
	m.set[adminID.String()+"/"+module] = canEdit
	return nil
}

type memAuditStore struct {
	mu      sync.Mutex
	entries []models.AuditEntry
}

func (s *memAuditStore) Insert(_ context.Context, e *models.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = uuid.New()
	e.CreatedAt = time.Now()
	s.entries = append(s.entries, *e)
	return nil
}

func (s *memAuditStore) List(context.Context, repositories.AuditFilter) ([]models.AuditEntry, error) {
	return s.entries, nil
}

func (s *memAuditStore) actions() []models.AuditAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.AuditAction, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Action
	}
	return out
}

type countingChannel struct {
	mu     sync.Mutex
	events []alerts.Event
}

func (c *countingChannel) Send(_ context.Context, ev alerts.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

type adminFixture struct {
	admins     *memAdmins
	audit      *memAuditStore
	alerts     *countingChannel
	dispatcher *alerts.Dispatcher
	svc        *AdminService
	root       models.AdminIdentity
}

func newAdminFixture(t *testing.T) *adminFixture {
	t.Helper()
	f := &adminFixture{
		admins: &memAdmins{admins: map[uuid.UUID]models.AdminUser{}},
		audit:  &memAuditStore{},
		alerts: &countingChannel{},
	}
	log := zap.NewNop()
	f.dispatcher = alerts.NewDispatcher(f.alerts, time.Second, log)
	auditLog := audit.NewLog(f.audit, log, f.dispatcher.OnAuditEntry)
	f.svc = NewAdminService(f.admins, &memPermissions{set: map[string]bool{}}, auditLog, "secret", time.Hour, log)

	root, err := f.svc.Bootstrap(context.Background(), CreateAdminInput{Email: "root@example.com", Password: "root-password-1", Role: "admin"})
	if err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}
	f.root = root.AdminIdentity
	return f
}

func (f *adminFixture) createReviewer(t *testing.T, email string) *models.AdminUser {
	t.Helper()
	a, err := f.svc.Create(context.Background(), f.root, CreateAdminInput{Email: email, Password: "reviewer-password", Role: "reviewer"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return a
}

func (f *adminFixture) alertCount() int {
	f.dispatcher.Wait()
	f.alerts.mu.Lock()
	defer f.alerts.mu.Unlock()
	return len(f.alerts.events)
}

func TestLogin(t *testing.T) {
	f := newAdminFixture(t)

	token, admin, err := f.svc.Login(context.Background(), " root@example.com ", "root-password-1")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	claims, err := auth.ParseJWT("secret", token)
	if err != nil || claims.AdminID != admin.ID || claims.Role != "admin" {
		t.Errorf("unexpected claims %+v (%v)", claims, err)
	}

	if _, _, err := f.svc.Login(context.Background(), "root@example.com", "wrong-password"); !errors.Is(err, apperr.ErrInvalidCredentials) {
		t.Errorf("wrong password: expected ErrInvalidCredentials, got %v", err)
	}
	if _, _, err := f.svc.Login(context.Background(), "nobody@example.com", "whatever-pass"); !errors.Is(err, apperr.ErrInvalidCredentials) {
		t.Errorf("unknown email: expected ErrInvalidCredentials, got %v", err)
	}
}

func TestBootstrapAuditsSelfAsActor(t *testing.T) {
	f := newAdminFixture(t)
	if len(f.audit.entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(f.audit.entries))
	}
	e := f.audit.entries[0]
	if e.Action != models.ActionAdminUserCreated || e.ActorID != f.root.ID {
		t.Errorf("unexpected bootstrap entry %+v", e)
	}
}

func TestCreateValidation(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   CreateAdminInput
		want error
	}{
		{"bad email", CreateAdminInput{Email: "nope", Password: "long-enough-pw", Role: "viewer"}, apperr.ErrInvalidInput},
		{"bad role", CreateAdminInput{Email: "x@example.com", Password: "long-enough-pw", Role: "owner"}, apperr.ErrInvalidInput},
		{"weak password", CreateAdminInput{Email: "x@example.com", Password: "short", Role: "viewer"}, apperr.ErrInvalidInput},
		{"duplicate", CreateAdminInput{Email: "root@example.com", Password: "long-enough-pw", Role: "viewer"}, apperr.ErrConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.svc.Create(ctx, f.root, tt.in); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	reviewer := f.createReviewer(t, "rev@example.com")
	if _, err := f.svc.Create(ctx, reviewer.AdminIdentity, CreateAdminInput{Email: "y@example.com", Password: "long-enough-pw", Role: "viewer"}); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("reviewer creating admins: expected ErrForbidden, got %v", err)
	}
}

func TestChangeRoleElevationRaisesAlert(t *testing.T) {
	f := newAdminFixture(t)
	rev := f.createReviewer(t, "rev@example.com")
	ctx := context.Background()

	if _, err := f.svc.ChangeRole(ctx, f.root, rev.ID, "admin"); err != nil {
		t.Fatalf("ChangeRole failed: %v", err)
	}
	if n := f.alertCount(); n != 1 {
		t.Errorf("elevation should raise 1 alert, got %d", n)
	}

	if _, err := f.svc.ChangeRole(ctx, f.root, rev.ID, "viewer"); err != nil {
		t.Fatalf("ChangeRole failed: %v", err)
	}
	if n := f.alertCount(); n != 1 {
		t.Errorf("demotion must not alert, total %d", n)
	}

	actions := f.audit.actions()
	if actions[len(actions)-2] != models.ActionAdminRoleElevated || actions[len(actions)-1] != models.ActionAdminRoleChanged {
		t.Errorf("unexpected actions %v", actions)
	}
}

func TestChangeOwnRoleForbidden(t *testing.T) {
	f := newAdminFixture(t)
	if _, err := f.svc.ChangeRole(context.Background(), f.root, f.root.ID, "viewer"); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}

func TestDeleteAdmin(t *testing.T) {
	f := newAdminFixture(t)
	rev := f.createReviewer(t, "rev@example.com")
	ctx := context.Background()

	if err := f.svc.Delete(ctx, f.root, f.root.ID); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("self delete: expected ErrForbidden, got %v", err)
	}
	if err := f.svc.Delete(ctx, f.root, rev.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := f.admins.GetByID(ctx, rev.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Error("admin should be gone")
	}
	if n := f.alertCount(); n != 1 {
		t.Errorf("expected 1 alert, got %d", n)
	}
	f.alerts.mu.Lock()
	ev := f.alerts.events[0]
	f.alerts.mu.Unlock()
	if ev.Action != models.ActionAdminUserDeleted || ev.TargetName == nil || *ev.TargetName != "rev@example.com" {
		t.Errorf("unexpected alert %+v", ev)
	}
}

func TestChangePassword(t *testing.T) {
	f := newAdminFixture(t)
	rev := f.createReviewer(t, "rev@example.com")
	other := f.createReviewer(t, "other@example.com")
	ctx := context.Background()

	if err := f.svc.ChangePassword(ctx, other.AdminIdentity, rev.ID, "new-password-123"); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("foreign change: expected ErrForbidden, got %v", err)
	}
	if err := f.svc.ChangePassword(ctx, rev.AdminIdentity, rev.ID, "new-password-123"); err != nil {
		t.Fatalf("self change failed: %v", err)
	}
	if _, _, err := f.svc.Login(ctx, "rev@example.com", "new-password-123"); err != nil {
		t.Errorf("login with new password failed: %v", err)
	}
	if n := f.alertCount(); n != 1 {
		t.Errorf("password change should alert once, got %d", n)
	}
	for _, e := range f.audit.entries {
		for _, vals := range []map[string]any{e.OldValues, e.NewValues} {
			for _, v := range vals {
				if s, ok := v.(string); ok && strings.HasPrefix(s, "$2") {
					t.Error("password hash leaked into audit values")
				}
			}
		}
	}
}

func TestTwoFactorToggle(t *testing.T) {
	f := newAdminFixture(t)
	rev := f.createReviewer(t, "rev@example.com")
	ctx := context.Background()

	if err := f.svc.SetTwoFactor(ctx, rev.AdminIdentity, rev.ID, true); err != nil {
		t.Fatalf("enable failed: %v", err)
	}
	if n := f.alertCount(); n != 0 {
		t.Errorf("enabling 2FA must not alert, got %d", n)
	}
	if err := f.svc.SetTwoFactor(ctx, rev.AdminIdentity, rev.ID, true); err != nil {
		t.Fatalf("repeat enable failed: %v", err)
	}
	if err := f.svc.SetTwoFactor(ctx, rev.AdminIdentity, rev.ID, false); err != nil {
		t.Fatalf("disable failed: %v", err)
	}
	if n := f.alertCount(); n != 1 {
		t.Errorf("disabling 2FA should alert once, got %d", n)
	}

	count := 0
	for _, a := range f.audit.actions() {
		if a == models.ActionAdmin2FAEnabled || a == models.ActionAdmin2FADisabled {
			count++
		}
	}
	if count != 2 {
		t.Errorf("expected 2 two-factor entries, got %d", count)
	}
}

func TestSetModulePermission(t *testing.T) {
	f := newAdminFixture(t)
	rev := f.createReviewer(t, "rev@example.com")
	ctx := context.Background()

	if err := f.svc.SetModulePermission(ctx, f.root, rev.ID, "finance", true); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("unknown module: expected ErrInvalidInput, got %v", err)
	}
	if err := f.svc.SetModulePermission(ctx, rev.AdminIdentity, rev.ID, "stories", true); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("reviewer: expected ErrForbidden, got %v", err)
	}
	if err := f.svc.SetModulePermission(ctx, f.root, rev.ID, "stories", false); err != nil {
		t.Fatalf("SetModulePermission failed: %v", err)
	}
	actions := f.audit.actions()
	if actions[len(actions)-1] != models.ActionModulePermissionUpdated {
		t.Errorf("last action = %s", actions[len(actions)-1])
	}
}

func TestStaleSessionsLoseAccess(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()

	second, err := f.svc.Create(ctx, f.root, CreateAdminInput{Email: "second@example.com", Password: "second-password", Role: "admin"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	demoted, err := f.svc.Create(ctx, f.root, CreateAdminInput{Email: "demoted@example.com", Password: "demoted-password", Role: "admin"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	// both sessions keep the identity issued at login
	secondSession := second.AdminIdentity
	demotedSession := demoted.AdminIdentity

	if err := f.svc.Delete(ctx, f.root, second.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := f.svc.ChangeRole(ctx, f.root, demoted.ID, "viewer"); err != nil {
		t.Fatalf("ChangeRole failed: %v", err)
	}
	before := len(f.audit.actions())

	if err := f.svc.Delete(ctx, secondSession, f.root.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("deleted admin: expected ErrNotFound, got %v", err)
	}
	if _, err := f.admins.GetByID(ctx, f.root.ID); err != nil {
		t.Errorf("root must survive: %v", err)
	}
	if err := f.svc.ChangePassword(ctx, secondSession, second.ID, "another-password"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("deleted admin password change: expected ErrNotFound, got %v", err)
	}
	if _, err := f.svc.Create(ctx, demotedSession, CreateAdminInput{Email: "z@example.com", Password: "long-enough-pw", Role: "admin"}); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("demoted admin: expected ErrForbidden, got %v", err)
	}
	if after := len(f.audit.actions()); after != before {
		t.Errorf("rejected calls wrote %d audit entries", after-before)
	}
}
