package notifications

import (
	"context"
	"slices"
	"sync"

	"github.com/admissions-portal/backend/internal/models"
	"github.com/google/uuid"
)

type Service interface {
	List(ctx context.Context, adminID uuid.UUID, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, adminID, id uuid.UUID) error
	MarkAllRead(ctx context.Context, adminID uuid.UUID) error
	Delete(ctx context.Context, adminID, id uuid.UUID) error
}

// Inbox is one session's cached view of its notifications. Local mutations
// are applied immediately and reverted if the backing call fails.
type Inbox struct {
	service Service
	adminID uuid.UUID

	mu    sync.Mutex
	items []models.Notification
}

func NewInbox(service Service, adminID uuid.UUID) *Inbox {
	return &Inbox{service: service, adminID: adminID}
}

func (in *Inbox) Refresh(ctx context.Context) error {
	items, err := in.service.List(ctx, in.adminID, MaxListLimit)
	if err != nil {
		return err
	}
	in.mu.Lock()
	in.items = items
	in.mu.Unlock()
	return nil
}

func (in *Inbox) Items() []models.Notification {
	in.mu.Lock()
	defer in.mu.Unlock()
	return slices.Clone(in.items)
}

func (in *Inbox) UnreadCount() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	n := 0
	for _, it := range in.items {
		if !it.IsRead {
			n++
		}
	}
	return n
}

// mutate applies change to the cache, runs call and restores the previous
// cache when call fails.
func (in *Inbox) mutate(change func([]models.Notification) []models.Notification, call func() error) error {
	in.mu.Lock()
	prev := slices.Clone(in.items)
	in.items = change(slices.Clone(in.items))
	in.mu.Unlock()

	if err := call(); err != nil {
		in.mu.Lock()
		in.items = prev
		in.mu.Unlock()
		return err
	}
	return nil
}

func (in *Inbox) MarkRead(ctx context.Context, id uuid.UUID) error {
	return in.mutate(func(items []models.Notification) []models.Notification {
		for i := range items {
			if items[i].ID == id {
				items[i].IsRead = true
			}
		}
		return items
	}, func() error { return in.service.MarkRead(ctx, in.adminID, id) })
}

func (in *Inbox) MarkAllRead(ctx context.Context) error {
	return in.mutate(func(items []models.Notification) []models.Notification {
		for i := range items {
			items[i].IsRead = true
		}
		return items
	}, func() error { return in.service.MarkAllRead(ctx, in.adminID) })
}

func (in *Inbox) Delete(ctx context.Context, id uuid.UUID) error {
	return in.mutate(func(items []models.Notification) []models.Notification {
		return slices.DeleteFunc(items, func(n models.Notification) bool { return n.ID == id })
	}, func() error { return in.service.Delete(ctx, in.adminID, id) })
}
