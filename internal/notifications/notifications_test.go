package notifications

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/admissions-portal/backend/internal/apperr"
	"github.com/admissions-portal/backend/internal/events"
	"github.com/admissions-portal/backend/internal/models"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type memStore struct {
	mu    sync.Mutex
	items []models.Notification
	fail  error
}

func (s *memStore) Create(_ context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n.ID = uuid.New()
	n.CreatedAt = time.Now().Add(time.Duration(len(s.items)) * time.Millisecond)
	s.items = append(s.items, *n)
	return nil
}

func (s *memStore) ListForAdmin(_ context.Context, adminID uuid.UUID, limit int) ([]models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Notification
	for _, n := range s.items {
		if n.AdminUserID == adminID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) MarkRead(_ context.Context, adminID, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	for i := range s.items {
		if s.items[i].ID == id && s.items[i].AdminUserID == adminID {
			s.items[i].IsRead = true
			return nil
		}
	}
	return apperr.ErrNotFound
}

func (s *memStore) MarkAllRead(_ context.Context, adminID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return 0, s.fail
	}
	var n int64
	for i := range s.items {
		if s.items[i].AdminUserID == adminID && !s.items[i].IsRead {
			s.items[i].IsRead = true
			n++
		}
	}
	return n, nil
}

func (s *memStore) Delete(_ context.Context, adminID, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	for i := range s.items {
		if s.items[i].ID == id && s.items[i].AdminUserID == adminID {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return nil
		}
	}
	return apperr.ErrNotFound
}

func (s *memStore) UnreadCount(_ context.Context, adminID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, it := range s.items {
		if it.AdminUserID == adminID && !it.IsRead {
			n++
		}
	}
	return n, nil
}

func (s *memStore) setFail(err error) {
	s.mu.Lock()
	s.fail = err
	s.mu.Unlock()
}

type staticEditors []models.AdminIdentity

func (e staticEditors) ListEditors(context.Context, string) ([]models.AdminIdentity, error) {
	return e, nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	channels []string
}

func (p *recordingPublisher) Publish(_ context.Context, stream string, _ events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channels = append(p.channels, stream)
	return nil
}

type nopSubscriber struct{}

func (nopSubscriber) Subscribe(context.Context, string, func(events.Event)) error { return nil }

func identity(email string) models.AdminIdentity {
	return models.AdminIdentity{ID: uuid.New(), Email: email, Role: "reviewer"}
}

func change(actor uuid.UUID) events.ReviewStatusChanged {
	return events.ReviewStatusChanged{
		RecordID:  uuid.New(),
		Kind:      string(models.KindApplication),
		Module:    "applications",
		Title:     "Ana Lopez",
		OldStatus: models.StatusPending,
		NewStatus: models.StatusApproved,
		ActorID:   actor,
		ActorName: "alice@example.com",
	}
}

func TestHandleStatusChangeSkipsActor(t *testing.T) {
	alice, bob, carol := identity("alice@example.com"), identity("bob@example.com"), identity("carol@example.com")
	store := &memStore{}
	pub := &recordingPublisher{}
	f := NewFanout(store, staticEditors{alice, bob, carol}, pub, nopSubscriber{}, 30, zap.NewNop())

	if n := f.HandleStatusChange(context.Background(), change(alice.ID)); n != 2 {
		t.Fatalf("expected 2 notifications, got %d", n)
	}
	for _, it := range store.items {
		if it.AdminUserID == alice.ID {
			t.Error("actor must not be notified")
		}
		if it.Title != "Application approved" || it.Message != "alice@example.com moved Ana Lopez from pending to approved" {
			t.Errorf("unexpected notification %q / %q", it.Title, it.Message)
		}
		if it.Link == nil || *it.Link == "" {
			t.Error("notification link missing")
		}
	}
	if len(pub.channels) != 2 {
		t.Errorf("expected 2 change announcements, got %v", pub.channels)
	}
}

func TestListClampsLimit(t *testing.T) {
	admin := identity("bob@example.com")
	store := &memStore{}
	for i := 0; i < 40; i++ {
		_ = store.Create(context.Background(), &models.Notification{AdminUserID: admin.ID, Title: "n"})
	}
	f := NewFanout(store, nil, &recordingPublisher{}, nopSubscriber{}, 100, zap.NewNop())

	items, err := f.List(context.Background(), admin.ID, 500)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(items) != MaxListLimit {
		t.Errorf("expected %d items, got %d", MaxListLimit, len(items))
	}
	if !items[0].CreatedAt.After(items[1].CreatedAt) {
		t.Error("list must be newest first")
	}
}

func TestOwnerRequired(t *testing.T) {
	f := NewFanout(&memStore{}, nil, &recordingPublisher{}, nopSubscriber{}, 30, zap.NewNop())
	ctx := context.Background()

	if _, err := f.List(ctx, uuid.Nil, 10); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("List: expected ErrInvalidInput, got %v", err)
	}
	if err := f.MarkRead(ctx, uuid.Nil, uuid.New()); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("MarkRead: expected ErrInvalidInput, got %v", err)
	}
	if err := f.MarkAllRead(ctx, uuid.Nil); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("MarkAllRead: expected ErrInvalidInput, got %v", err)
	}
	if err := f.Delete(ctx, uuid.Nil, uuid.New()); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("Delete: expected ErrInvalidInput, got %v", err)
	}
}

func TestDeleteOtherAdminsNotification(t *testing.T) {
	owner, other := identity("owner@example.com"), identity("other@example.com")
	store := &memStore{}
	n := &models.Notification{AdminUserID: owner.ID, Title: "x"}
	_ = store.Create(context.Background(), n)
	f := NewFanout(store, nil, &recordingPublisher{}, nopSubscriber{}, 30, zap.NewNop())

	if err := f.Delete(context.Background(), other.ID, n.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if len(store.items) != 1 {
		t.Error("notification of another admin must survive")
	}
}

func TestMarkAllReadClearsUnread(t *testing.T) {
	admin := identity("bob@example.com")
	store := &memStore{}
	for i := 0; i < 5; i++ {
		_ = store.Create(context.Background(), &models.Notification{AdminUserID: admin.ID, Title: "n"})
	}
	f := NewFanout(store, nil, &recordingPublisher{}, nopSubscriber{}, 30, zap.NewNop())
	inbox := NewInbox(f, admin.ID)
	ctx := context.Background()

	if err := inbox.Refresh(ctx); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if inbox.UnreadCount() != 5 {
		t.Fatalf("expected 5 unread, got %d", inbox.UnreadCount())
	}

	if err := inbox.MarkAllRead(ctx); err != nil {
		t.Fatalf("MarkAllRead failed: %v", err)
	}
	if inbox.UnreadCount() != 0 {
		t.Errorf("expected 0 unread, got %d", inbox.UnreadCount())
	}
	for _, it := range inbox.Items() {
		if !it.IsRead {
			t.Error("every item must be read")
		}
	}
	if n, _ := f.UnreadCount(ctx, admin.ID); n != 0 {
		t.Errorf("store still reports %d unread", n)
	}
}

func TestInboxRollsBackOnFailure(t *testing.T) {
	admin := identity("bob@example.com")
	store := &memStore{}
	for i := 0; i < 3; i++ {
		_ = store.Create(context.Background(), &models.Notification{AdminUserID: admin.ID, Title: "n"})
	}
	f := NewFanout(store, nil, &recordingPublisher{}, nopSubscriber{}, 30, zap.NewNop())
	inbox := NewInbox(f, admin.ID)
	ctx := context.Background()
	if err := inbox.Refresh(ctx); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	target := inbox.Items()[0].ID

	store.setFail(errors.New("db down"))

	if err := inbox.MarkRead(ctx, target); err == nil {
		t.Fatal("expected MarkRead to fail")
	}
	if inbox.UnreadCount() != 3 {
		t.Errorf("unread count must roll back to 3, got %d", inbox.UnreadCount())
	}
	if err := inbox.Delete(ctx, target); err == nil {
		t.Fatal("expected Delete to fail")
	}
	if len(inbox.Items()) != 3 {
		t.Errorf("deleted item must be restored, have %d", len(inbox.Items()))
	}
	if err := inbox.MarkAllRead(ctx); err == nil {
		t.Fatal("expected MarkAllRead to fail")
	}
	if inbox.UnreadCount() != 3 {
		t.Errorf("unread count must roll back to 3, got %d", inbox.UnreadCount())
	}
}

func TestStartConsumesReviewEvents(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	log := zap.NewNop()
	pub := events.NewRedisPublisher(client, log)
	sub := events.NewRedisSubscriber(client, log)

	alice, bob := identity("alice@example.com"), identity("bob@example.com")
	store := &memStore{}
	f := NewFanout(store, staticEditors{alice, bob}, pub, sub, 30, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := f.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	changed := make(chan events.NotificationsChanged, 1)
	if err := f.Watch(ctx, bob.ID, func(c events.NotificationsChanged) { changed <- c }); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	ev, _ := events.NewEvent(events.EventReviewStatusChanged, change(alice.ID))
	if err := pub.Publish(ctx, events.ChannelReview, ev); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case c := <-changed:
		if c.AdminID != bob.ID || c.Reason != "created" {
			t.Errorf("unexpected change %+v", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification change")
	}
	if n, _ := f.UnreadCount(ctx, bob.ID); n != 1 {
		t.Errorf("bob should have 1 unread, got %d", n)
	}
	if n, _ := f.UnreadCount(ctx, alice.ID); n != 0 {
		t.Errorf("alice should have 0 unread, got %d", n)
	}
}
