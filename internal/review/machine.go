package review

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/admissions-portal/backend/internal/apperr"
	"github.com/admissions-portal/backend/internal/audit"
	"github.com/admissions-portal/backend/internal/events"
	"github.com/admissions-portal/backend/internal/jobs"
	"github.com/admissions-portal/backend/internal/models"
	"github.com/admissions-portal/backend/internal/rbac"
	"github.com/admissions-portal/backend/internal/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type RecordStore interface {
	GetByID(ctx context.Context, kind models.RecordKind, id uuid.UUID) (*models.ReviewableRecord, error)
	List(ctx context.Context, kind models.RecordKind, f repositories.RecordFilter) ([]models.ReviewableRecord, error)
	UpdateStatus(ctx context.Context, kind models.RecordKind, id uuid.UUID, status string) error
}

type PermissionStore interface {
	GetOverride(ctx context.Context, adminID uuid.UUID, module string) (*bool, error)
}

type Auditor interface {
	Append(ctx context.Context, e audit.Entry) audit.Result
}

// ActorDirectory resolves the acting admin at the time of a change.
type ActorDirectory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.AdminUser, error)
}

type JobQueue interface {
	Enqueue(ctx context.Context, job jobs.Job) error
}

// defaultSideEffectTimeout bounds each best-effort call made after the
// status write.
const defaultSideEffectTimeout = 2 * time.Second

type RecordRef struct {
	Kind models.RecordKind
	ID   uuid.UUID
}

// Machine applies review status changes. The status write is the only step
// whose failure reaches the caller; audit, publish and enqueue are
// best-effort and logged.
type Machine struct {
	records     RecordStore
	admins      ActorDirectory
	permissions PermissionStore
	audit       Auditor
	publisher   events.Publisher
	jobs        JobQueue
	log         *zap.Logger

	sideEffectTimeout time.Duration
}

func NewMachine(
	records RecordStore,
	admins ActorDirectory,
	permissions PermissionStore,
	auditor Auditor,
	publisher events.Publisher,
	jobQueue JobQueue,
	log *zap.Logger,
) *Machine {
	return &Machine{
		records:     records,
		admins:      admins,
		permissions: permissions,
		audit:       auditor,
		publisher:   publisher,
		jobs:        jobQueue,
		log:         log,

		sideEffectTimeout: defaultSideEffectTimeout,
	}
}

// CanEdit resolves whether actor may change statuses of kind.
func (m *Machine) CanEdit(ctx context.Context, kind models.RecordKind, actor models.AdminIdentity) (bool, error) {
	if !rbac.HasPermission(actor.Role, rbac.PermEdit) {
		return false, nil
	}
	override, err := m.permissions.GetOverride(ctx, actor.ID, kind.Module())
	if err != nil {
		return false, fmt.Errorf("%w: load module permission: %v", apperr.ErrPersistence, err)
	}
	return rbac.CanEdit(actor.Role, override), nil
}

// Transition moves the record to newStatus. Requesting the current status
// succeeds without writing anything.
func (m *Machine) Transition(ctx context.Context, ref RecordRef, newStatus string, actor models.AdminIdentity) (*models.ReviewableRecord, error) {
	if !ref.Kind.Valid() {
		return nil, fmt.Errorf("unknown record kind %q: %w", ref.Kind, apperr.ErrInvalidInput)
	}
	if !models.IsValidStatus(ref.Kind, newStatus) {
		return nil, fmt.Errorf("%q is not a %s status: %w", newStatus, ref.Kind, apperr.ErrInvalidStatus)
	}

	actor, err := m.currentActor(ctx, actor)
	if err != nil {
		return nil, err
	}
	allowed, err := m.CanEdit(ctx, ref.Kind, actor)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, fmt.Errorf("%s cannot edit %s: %w", actor.Role, ref.Kind.Module(), apperr.ErrForbidden)
	}

	rec, err := m.records.GetByID(ctx, ref.Kind, ref.ID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", apperr.ErrPersistence, err)
	}
	if rec.Status == newStatus {
		return rec, nil
	}
	if !models.CanTransition(ref.Kind, rec.Status, newStatus) {
		return nil, fmt.Errorf("%s -> %s: %w", rec.Status, newStatus, apperr.ErrInvalidStatus)
	}

	oldStatus := rec.Status
	if err := m.records.UpdateStatus(ctx, ref.Kind, ref.ID, newStatus); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", apperr.ErrPersistence, err)
	}
	rec.Status = newStatus

	recordID := rec.ID.String()
	m.audit.Append(ctx, audit.Entry{
		ActorID:   actor.ID,
		Action:    models.ReviewAction(ref.Kind, newStatus),
		TableName: ref.Kind.Table(),
		RecordID:  &recordID,
		OldValues: map[string]any{"status": oldStatus},
		NewValues: map[string]any{"status": newStatus},
	})

	m.publish(ctx, rec, oldStatus, actor)

	if models.NotifiesApplicant(ref.Kind, newStatus) {
		if err := m.enqueue(ctx, jobs.NewDecisionJob(rec)); err != nil {
			m.log.Error("failed to enqueue applicant notification",
				zap.String("application_id", recordID),
				zap.String("status", newStatus),
				zap.Error(err),
			)
		}
	}

	m.log.Info("review status changed",
		zap.String("kind", string(ref.Kind)),
		zap.String("record_id", recordID),
		zap.String("old_status", oldStatus),
		zap.String("new_status", newStatus),
		zap.String("actor_id", actor.ID.String()),
	)
	return rec, nil
}

// currentActor reloads the acting admin so a deleted account cannot act on
// a still-valid token and a role change applies at once.
func (m *Machine) currentActor(ctx context.Context, actor models.AdminIdentity) (models.AdminIdentity, error) {
	current, err := m.admins.GetByID(ctx, actor.ID)
	if errors.Is(err, apperr.ErrNotFound) {
		return models.AdminIdentity{}, fmt.Errorf("acting admin %s: %w", actor.ID, apperr.ErrNotFound)
	}
	if err != nil {
		return models.AdminIdentity{}, fmt.Errorf("%w: %v", apperr.ErrPersistence, err)
	}
	return current.AdminIdentity, nil
}

func (m *Machine) publish(ctx context.Context, rec *models.ReviewableRecord, oldStatus string, actor models.AdminIdentity) {
	ev, err := events.NewEvent(events.EventReviewStatusChanged, events.ReviewStatusChanged{
		RecordID:  rec.ID,
		Kind:      string(rec.Kind),
		Module:    rec.Kind.Module(),
		Title:     rec.Title,
		OldStatus: oldStatus,
		NewStatus: rec.Status,
		ActorID:   actor.ID,
		ActorName: displayName(actor),
	})
	if err == nil {
		pubCtx, cancel := m.sideEffectContext(ctx)
		err = m.publisher.Publish(pubCtx, events.ChannelReview, ev)
		cancel()
	}
	if err != nil {
		m.log.Warn("failed to publish review status change", zap.String("record_id", rec.ID.String()), zap.Error(err))
	}
}

func (m *Machine) enqueue(ctx context.Context, job jobs.Job) error {
	ctx, cancel := m.sideEffectContext(ctx)
	defer cancel()
	return m.jobs.Enqueue(ctx, job)
}

// sideEffectContext detaches from the request so a client that hangs up
// does not drop the job, and caps how long the transport may stall.
func (m *Machine) sideEffectContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), m.sideEffectTimeout)
}

func displayName(a models.AdminIdentity) string {
	if a.DisplayName != nil && *a.DisplayName != "" {
		return *a.DisplayName
	}
	return a.Email
}

func (m *Machine) Get(ctx context.Context, ref RecordRef) (*models.ReviewableRecord, error) {
	if !ref.Kind.Valid() {
		return nil, fmt.Errorf("unknown record kind %q: %w", ref.Kind, apperr.ErrInvalidInput)
	}
	return m.records.GetByID(ctx, ref.Kind, ref.ID)
}

func (m *Machine) List(ctx context.Context, kind models.RecordKind, f repositories.RecordFilter) ([]models.ReviewableRecord, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown record kind %q: %w", kind, apperr.ErrInvalidInput)
	}
	if f.Status != nil && !models.IsValidStatus(kind, *f.Status) {
		return nil, fmt.Errorf("%q is not a %s status: %w", *f.Status, kind, apperr.ErrInvalidStatus)
	}
	return m.records.List(ctx, kind, f)
}
