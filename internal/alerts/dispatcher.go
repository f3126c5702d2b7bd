package alerts

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/admissions-portal/backend/internal/apperr"
	"github.com/admissions-portal/backend/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Critical is the fixed set of actions that page the security channel.
var Critical = map[models.AuditAction]struct{}{
	models.ActionAdminUserDeleted:     {},
	models.ActionAdminPasswordChanged: {},
	models.ActionAdmin2FADisabled:     {},
	models.ActionAdminRoleElevated:    {},
}

func IsCritical(action models.AuditAction) bool {
	_, ok := Critical[action]
	return ok
}

// Event is derived from an audit entry and never stored.
type Event struct {
	Action     models.AuditAction `json:"action"`
	Actor      uuid.UUID          `json:"actor_id"`
	Target     *string            `json:"target_id,omitempty"`
	TargetName *string            `json:"target_name,omitempty"`
	Details    map[string]any     `json:"details,omitempty"`
	OccurredAt time.Time          `json:"occurred_at"`
}

func NewEvent(entry models.AuditEntry) Event {
	details := map[string]any{}
	for k, v := range entry.OldValues {
		details["old_"+k] = v
	}
	for k, v := range entry.NewValues {
		details["new_"+k] = v
	}
	ev := Event{
		Action:     entry.Action,
		Actor:      entry.ActorID,
		Target:     entry.RecordID,
		Details:    details,
		OccurredAt: entry.CreatedAt,
	}
	for _, vals := range []map[string]any{entry.NewValues, entry.OldValues} {
		if email, ok := vals["email"].(string); ok && email != "" {
			ev.TargetName = &email
			break
		}
	}
	return ev
}

// Channel is an external sink for critical alerts.
type Channel interface {
	Send(ctx context.Context, ev Event) error
}

// Dispatcher forwards critical audit entries to a Channel without blocking
// the caller. Delivery is at most once.
type Dispatcher struct {
	channel Channel
	timeout time.Duration
	log     *zap.Logger
	wg      sync.WaitGroup

	delivered atomic.Int64
	failed    atomic.Int64
}

func NewDispatcher(channel Channel, timeout time.Duration, log *zap.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{channel: channel, timeout: timeout, log: log}
}

// OnAuditEntry has the audit.Hook signature.
func (d *Dispatcher) OnAuditEntry(ctx context.Context, entry models.AuditEntry) {
	if !IsCritical(entry.Action) {
		return
	}
	ev := NewEvent(entry)
	sendCtx := context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(sendCtx, d.timeout)
		defer cancel()

		if err := d.channel.Send(ctx, ev); err != nil {
			d.failed.Add(1)
			d.log.Error("critical alert delivery failed",
				zap.String("action", string(ev.Action)),
				zap.String("actor_id", ev.Actor.String()),
				zap.Error(fmt.Errorf("%w: %v", apperr.ErrAlertDelivery, err)),
			)
			return
		}
		d.delivered.Add(1)
	}()
}

// Wait blocks until in-flight deliveries finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

type Stats struct {
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
}

func (d *Dispatcher) Stats() Stats {
	return Stats{Delivered: d.delivered.Load(), Failed: d.failed.Load()}
}
