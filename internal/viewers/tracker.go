// Package viewers answers "who else is looking at this application" on top of
// the presence registry, one channel per application.
package viewers

import (
	"context"
	"fmt"
	"sync"

	"github.com/admissions-portal/backend/internal/apperr"
	"github.com/admissions-portal/backend/internal/models"
	"github.com/admissions-portal/backend/internal/presence"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const ChannelPrefix = "record-viewers-"

func ChannelKey(applicationID uuid.UUID) string {
	return ChannelPrefix + applicationID.String()
}

type Registry interface {
	Join(ctx context.Context, channelKey string, identity models.AdminIdentity) (*presence.Subscription, error)
	Leave(ctx context.Context, sub *presence.Subscription) error
	Disconnect(sub *presence.Subscription)
	Snapshot(ctx context.Context, channelKey string) ([]models.PresenceRecord, error)
}

type Snapshot struct {
	ApplicationID uuid.UUID              `json:"application_id"`
	Viewers       []models.AdminIdentity `json:"viewers"`
	OthersOnly    []models.AdminIdentity `json:"others_only"`
}

func buildSnapshot(applicationID uuid.UUID, self uuid.UUID, members []models.PresenceRecord) Snapshot {
	snap := Snapshot{
		ApplicationID: applicationID,
		Viewers:       make([]models.AdminIdentity, 0, len(members)),
		OthersOnly:    make([]models.AdminIdentity, 0, len(members)),
	}
	for _, m := range members {
		snap.Viewers = append(snap.Viewers, m.Admin)
		if m.Admin.ID != self {
			snap.OthersOnly = append(snap.OthersOnly, m.Admin)
		}
	}
	return snap
}

// Tracker follows one application at a time for one admin session.
type Tracker struct {
	registry Registry
	log      *zap.Logger

	mu    sync.Mutex
	self  models.AdminIdentity
	appID uuid.UUID
	sub   *presence.Subscription
	done  chan struct{}

	updates chan Snapshot
}

func NewTracker(registry Registry, log *zap.Logger) *Tracker {
	return &Tracker{
		registry: registry,
		log:      log,
		updates:  make(chan Snapshot, 1),
	}
}

// Updates yields a fresh snapshot each time the watched channel syncs. Only
// the latest undelivered snapshot is kept.
func (t *Tracker) Updates() <-chan Snapshot {
	return t.updates
}

// Watch starts following applicationID. A previously watched application is
// released before the new channel is joined.
func (t *Tracker) Watch(ctx context.Context, applicationID uuid.UUID, self models.AdminIdentity) (Snapshot, error) {
	if applicationID == uuid.Nil {
		return Snapshot{}, fmt.Errorf("%w: application id is required", apperr.ErrInvalidInput)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sub != nil && t.appID == applicationID && t.self.ID == self.ID {
		return t.currentLocked(ctx), nil
	}

	t.releaseLocked(ctx, false)

	key := ChannelKey(applicationID)
	sub, err := t.registry.Join(ctx, key, self)
	if err != nil {
		return Snapshot{}, err
	}
	t.self = self
	t.appID = applicationID

	if sub.Err() != nil {
		// presence is down; the detail view works without badges
		return buildSnapshot(applicationID, self.ID, nil), nil
	}

	t.sub = sub
	t.done = make(chan struct{})
	go t.pump(sub, applicationID, self.ID, t.done)

	return t.currentLocked(ctx), nil
}

// Unwatch leaves the current application channel, if any.
func (t *Tracker) Unwatch(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.releaseLocked(ctx, false)
}

// Disconnect releases the current channel as a dropped connection, leaving
// the record visible for the registry's grace period.
func (t *Tracker) Disconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.releaseLocked(context.Background(), true)
}

// Current returns the watched application and a fresh snapshot of it.
func (t *Tracker) Current(ctx context.Context) (Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sub == nil {
		return Snapshot{}, false
	}
	return t.currentLocked(ctx), true
}

func (t *Tracker) currentLocked(ctx context.Context) Snapshot {
	members, err := t.registry.Snapshot(ctx, ChannelKey(t.appID))
	if err != nil {
		t.log.Warn("viewer snapshot failed", zap.String("application_id", t.appID.String()), zap.Error(err))
	}
	return buildSnapshot(t.appID, t.self.ID, members)
}

func (t *Tracker) releaseLocked(ctx context.Context, dropped bool) {
	if t.sub == nil {
		return
	}
	if dropped {
		t.registry.Disconnect(t.sub)
	} else if err := t.registry.Leave(ctx, t.sub); err != nil {
		t.log.Warn("viewer leave failed", zap.String("application_id", t.appID.String()), zap.Error(err))
	}
	// the registry closes the subscription's events, which ends the pump
	<-t.done
	t.sub = nil
	t.done = nil
	t.appID = uuid.Nil
}

func (t *Tracker) pump(sub *presence.Subscription, applicationID, self uuid.UUID, done chan struct{}) {
	defer close(done)
	for ev := range sub.Events() {
		t.publish(buildSnapshot(applicationID, self, ev.Members))
	}
}

func (t *Tracker) publish(snap Snapshot) {
	select {
	case t.updates <- snap:
	default:
		select {
		case <-t.updates:
		default:
		}
		select {
		case t.updates <- snap:
		default:
		}
	}
}

type Snapshotter interface {
	Snapshot(ctx context.Context, channelKey string) ([]models.PresenceRecord, error)
}

// Peek reports the current viewers of applicationID without joining.
func Peek(ctx context.Context, registry Snapshotter, applicationID, self uuid.UUID) (Snapshot, error) {
	if applicationID == uuid.Nil {
		return Snapshot{}, fmt.Errorf("%w: application id is required", apperr.ErrInvalidInput)
	}
	members, err := registry.Snapshot(ctx, ChannelKey(applicationID))
	if err != nil {
		return Snapshot{}, err
	}
	return buildSnapshot(applicationID, self, members), nil
}
