package notifications

import (
	"context"
	"fmt"
	"strings"

	"github.com/admissions-portal/backend/internal/apperr"
	"github.com/admissions-portal/backend/internal/events"
	"github.com/admissions-portal/backend/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MaxListLimit caps how many notifications a single fetch returns.
const MaxListLimit = 30

type Store interface {
	Create(ctx context.Context, n *models.Notification) error
	ListForAdmin(ctx context.Context, adminID uuid.UUID, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, adminID, id uuid.UUID) error
	MarkAllRead(ctx context.Context, adminID uuid.UUID) (int64, error)
	Delete(ctx context.Context, adminID, id uuid.UUID) error
	UnreadCount(ctx context.Context, adminID uuid.UUID) (int, error)
}

type EditorDirectory interface {
	ListEditors(ctx context.Context, module string) ([]models.AdminIdentity, error)
}

// Fanout turns review status changes into per-admin notifications and owns
// the notification list operations.
type Fanout struct {
	store      Store
	editors    EditorDirectory
	publisher  events.Publisher
	subscriber events.Subscriber
	limit      int
	log        *zap.Logger
}

func NewFanout(store Store, editors EditorDirectory, publisher events.Publisher, subscriber events.Subscriber, limit int, log *zap.Logger) *Fanout {
	return &Fanout{
		store:      store,
		editors:    editors,
		publisher:  publisher,
		subscriber: subscriber,
		limit:      clampLimit(limit),
		log:        log,
	}
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

// Start consumes review events until ctx is cancelled. Exactly one process
// in a deployment should run it.
func (f *Fanout) Start(ctx context.Context) error {
	return f.subscriber.Subscribe(ctx, events.ChannelReview, func(ev events.Event) {
		if ev.Type != events.EventReviewStatusChanged {
			return
		}
		var change events.ReviewStatusChanged
		if err := ev.Decode(&change); err != nil {
			f.log.Warn("malformed review event", zap.Error(err))
			return
		}
		f.HandleStatusChange(ctx, change)
	})
}

// HandleStatusChange notifies every editor of the module except the actor.
// It returns how many notifications were created.
func (f *Fanout) HandleStatusChange(ctx context.Context, change events.ReviewStatusChanged) int {
	recipients, err := f.editors.ListEditors(ctx, change.Module)
	if err != nil {
		f.log.Error("failed to resolve notification recipients", zap.String("module", change.Module), zap.Error(err))
		return 0
	}

	title, message, link := describe(change)
	created := 0
	for _, admin := range recipients {
		if admin.ID == change.ActorID {
			continue
		}
		n := &models.Notification{
			AdminUserID: admin.ID,
			Type:        models.NotificationReviewStatus,
			Title:       title,
			Message:     message,
			Link:        &link,
		}
		if err := f.store.Create(ctx, n); err != nil {
			f.log.Error("failed to create notification",
				zap.String("admin_id", admin.ID.String()),
				zap.String("record_id", change.RecordID.String()),
				zap.Error(err),
			)
			continue
		}
		created++
		f.announce(ctx, admin.ID, "created")
	}
	return created
}

func describe(c events.ReviewStatusChanged) (title, message, link string) {
	noun := "Application"
	path := "/admin/applications/"
	if c.Kind == string(models.KindStory) {
		noun = "Story"
		path = "/admin/stories/"
	}
	title = fmt.Sprintf("%s %s", noun, c.NewStatus)
	subject := c.Title
	if subject == "" {
		subject = strings.ToLower(noun)
	}
	actor := c.ActorName
	if actor == "" {
		actor = "Another admin"
	}
	message = fmt.Sprintf("%s moved %s from %s to %s", actor, subject, c.OldStatus, c.NewStatus)
	return title, message, path + c.RecordID.String()
}

// announce tells the admin's open sessions to refresh. Best-effort.
func (f *Fanout) announce(ctx context.Context, adminID uuid.UUID, reason string) {
	ev, err := events.NewEvent(events.EventNotificationsChanged, events.NotificationsChanged{AdminID: adminID, Reason: reason})
	if err == nil {
		err = f.publisher.Publish(ctx, events.NotificationsChannel(adminID), ev)
	}
	if err != nil {
		f.log.Warn("failed to announce notification change", zap.String("admin_id", adminID.String()), zap.Error(err))
	}
}

// List returns the newest notifications first. limit is clamped to the
// configured maximum.
func (f *Fanout) List(ctx context.Context, adminID uuid.UUID, limit int) ([]models.Notification, error) {
	if adminID == uuid.Nil {
		return nil, apperr.ErrInvalidInput
	}
	if limit <= 0 || limit > f.limit {
		limit = f.limit
	}
	return f.store.ListForAdmin(ctx, adminID, limit)
}

func (f *Fanout) UnreadCount(ctx context.Context, adminID uuid.UUID) (int, error) {
	if adminID == uuid.Nil {
		return 0, apperr.ErrInvalidInput
	}
	return f.store.UnreadCount(ctx, adminID)
}

func (f *Fanout) MarkRead(ctx context.Context, adminID, id uuid.UUID) error {
	if adminID == uuid.Nil {
		return apperr.ErrInvalidInput
	}
	if err := f.store.MarkRead(ctx, adminID, id); err != nil {
		return err
	}
	f.announce(ctx, adminID, "read")
	return nil
}

func (f *Fanout) MarkAllRead(ctx context.Context, adminID uuid.UUID) error {
	if adminID == uuid.Nil {
		return apperr.ErrInvalidInput
	}
	n, err := f.store.MarkAllRead(ctx, adminID)
	if err != nil {
		return err
	}
	if n > 0 {
		f.announce(ctx, adminID, "read_all")
	}
	return nil
}

func (f *Fanout) Delete(ctx context.Context, adminID, id uuid.UUID) error {
	if adminID == uuid.Nil {
		return apperr.ErrInvalidInput
	}
	if err := f.store.Delete(ctx, adminID, id); err != nil {
		return err
	}
	f.announce(ctx, adminID, "deleted")
	return nil
}

// Watch delivers change events for adminID until ctx is cancelled.
func (f *Fanout) Watch(ctx context.Context, adminID uuid.UUID, handler func(events.NotificationsChanged)) error {
	if adminID == uuid.Nil {
		return apperr.ErrInvalidInput
	}
	return f.subscriber.Subscribe(ctx, events.NotificationsChannel(adminID), func(ev events.Event) {
		var change events.NotificationsChanged
		if err := ev.Decode(&change); err != nil {
			f.log.Warn("malformed notification event", zap.Error(err))
			return
		}
		handler(change)
	})
}
