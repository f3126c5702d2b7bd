package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/admissions-portal/backend/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type recordingChannel struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (c *recordingChannel) Send(_ context.Context, ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return c.err
}

func (c *recordingChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestDispatcherDeliversOnlyCriticalActions(t *testing.T) {
	tests := []struct {
		action models.AuditAction
		want   int
	}{
		{models.ActionAdminUserDeleted, 1},
		{models.ActionAdminPasswordChanged, 1},
		{models.ActionAdmin2FADisabled, 1},
		{models.ActionAdminRoleElevated, 1},
		{models.ActionAdminRoleChanged, 0},
		{models.ActionAdmin2FAEnabled, 0},
		{models.ActionAdminUserCreated, 0},
		{models.ActionApplicationApproved, 0},
		{models.ActionStoryRejected, 0},
	}
	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			ch := &recordingChannel{}
			d := NewDispatcher(ch, time.Second, zap.NewNop())

			d.OnAuditEntry(context.Background(), models.AuditEntry{ID: uuid.New(), ActorID: uuid.New(), Action: tt.action})
			d.Wait()

			if got := ch.count(); got != tt.want {
				t.Errorf("deliveries = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDispatcherSwallowsDeliveryFailure(t *testing.T) {
	ch := &recordingChannel{err: errors.New("webhook down")}
	d := NewDispatcher(ch, time.Second, zap.NewNop())

	d.OnAuditEntry(context.Background(), models.AuditEntry{ActorID: uuid.New(), Action: models.ActionAdminUserDeleted})
	d.Wait()

	if s := d.Stats(); s.Failed != 1 || s.Delivered != 0 {
		t.Errorf("unexpected stats %+v", s)
	}
}

func TestDispatcherIgnoresCallerCancellation(t *testing.T) {
	ch := &recordingChannel{}
	d := NewDispatcher(ch, time.Second, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	d.OnAuditEntry(ctx, models.AuditEntry{ActorID: uuid.New(), Action: models.ActionAdmin2FADisabled})
	cancel()
	d.Wait()

	if ch.count() != 1 {
		t.Error("delivery must outlive the request context")
	}
}

func TestNewEventCarriesTargetAndDetails(t *testing.T) {
	target := uuid.NewString()
	entry := models.AuditEntry{
		ActorID:   uuid.New(),
		Action:    models.ActionAdminRoleElevated,
		RecordID:  &target,
		OldValues: map[string]any{"role": "reviewer", "email": "bob@example.com"},
		NewValues: map[string]any{"role": "admin"},
		CreatedAt: time.Now(),
	}
	ev := NewEvent(entry)

	if ev.Target == nil || *ev.Target != target {
		t.Errorf("target = %v, want %s", ev.Target, target)
	}
	if ev.TargetName == nil || *ev.TargetName != "bob@example.com" {
		t.Errorf("target name = %v", ev.TargetName)
	}
	if ev.Details["old_role"] != "reviewer" || ev.Details["new_role"] != "admin" {
		t.Errorf("unexpected details %v", ev.Details)
	}
}

func TestWebhookChannelSignsPayload(t *testing.T) {
	var gotBody []byte
	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(srv.URL, "s3cret", time.Second)
	ev := Event{Action: models.ActionAdminUserDeleted, Actor: uuid.New(), OccurredAt: time.Now()}
	if err := ch.Send(context.Background(), ev); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	sig := gotHeaders.Get("X-Signature-256")
	if !strings.HasPrefix(sig, "sha256=") {
		t.Fatalf("missing signature header: %q", sig)
	}
	if want := Sign([]byte("s3cret"), gotBody); strings.TrimPrefix(sig, "sha256=") != want {
		t.Errorf("signature mismatch")
	}
	if gotHeaders.Get("X-Alert-Action") != "admin_user_deleted" {
		t.Errorf("X-Alert-Action = %q", gotHeaders.Get("X-Alert-Action"))
	}

	var decoded Event
	if err := json.Unmarshal(gotBody, &decoded); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if decoded.Actor != ev.Actor {
		t.Errorf("actor = %s, want %s", decoded.Actor, ev.Actor)
	}
}

func TestWebhookChannelNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookChannel(srv.URL, "", time.Second).Send(context.Background(), Event{})
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Errorf("expected status error, got %v", err)
	}
}
