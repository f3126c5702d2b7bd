// Package presence tracks which admins are connected to a channel and
// broadcasts full membership snapshots to every subscriber of that channel.
package presence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/admissions-portal/backend/internal/apperr"
	"github.com/admissions-portal/backend/internal/events"
	"github.com/admissions-portal/backend/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type EventKind string

const (
	EventSync  EventKind = "sync"
	EventJoin  EventKind = "join"
	EventLeave EventKind = "leave"
)

// Event always carries the full membership of the channel. Consumers replace
// their local state with Members on every event, whatever the Kind.
type Event struct {
	Kind    EventKind               `json:"kind"`
	Channel string                  `json:"channel"`
	Admin   *models.AdminIdentity   `json:"admin,omitempty"` // set for join / leave
	Members []models.PresenceRecord `json:"members"`
}

func topic(channelKey string) string {
	return "presence:" + channelKey
}

type Registry struct {
	store      Store
	publisher  events.Publisher
	subscriber events.Subscriber
	grace      time.Duration
	log        *zap.Logger

	root context.Context
	stop context.CancelFunc

	mu       sync.Mutex
	channels map[string]*localChannel
	pending  map[string]*pendingDrop // by conn id

	loopCancel context.CancelFunc
	wg         sync.WaitGroup
}

// localChannel is this node's listener for one channel. ready closes once
// the subscribe handshake has finished, with err set if it failed; waiting
// counts joins still blocked on it.
type localChannel struct {
	subs    map[string]*Subscription
	cancel  context.CancelFunc
	ready   chan struct{}
	err     error
	waiting int
}

func (ch *localChannel) idle() bool {
	return len(ch.subs) == 0 && ch.waiting == 0
}

type pendingDrop struct {
	channel string
	admin   models.AdminIdentity
	timer   *time.Timer
}

func NewRegistry(store Store, publisher events.Publisher, subscriber events.Subscriber, grace time.Duration, log *zap.Logger) *Registry {
	if grace <= 0 {
		grace = 30 * time.Second
	}
	root, stop := context.WithCancel(context.Background())
	return &Registry{
		store:      store,
		publisher:  publisher,
		subscriber: subscriber,
		grace:      grace,
		log:        log,
		root:       root,
		stop:       stop,
		channels:   make(map[string]*localChannel),
		pending:    make(map[string]*pendingDrop),
	}
}

// Join registers identity on the channel. When the transport is down the
// returned subscription is degraded: it never yields events and Err reports
// apperr.ErrTransportUnavailable. Join itself only fails on invalid input.
func (r *Registry) Join(ctx context.Context, channelKey string, identity models.AdminIdentity) (*Subscription, error) {
	if channelKey == "" || identity.ID == uuid.Nil {
		return nil, fmt.Errorf("%w: channel key and admin id are required", apperr.ErrInvalidInput)
	}

	sub := newSubscription(r, channelKey, identity, uuid.NewString(), time.Now().UTC())

	if err := r.attach(ctx, sub); err != nil {
		r.log.Warn("presence unavailable, continuing without it", zap.String("channel", channelKey), zap.Error(err))
		sub.degrade(err)
		return sub, nil
	}

	r.cancelPendingDrops(ctx, channelKey, identity.ID)

	if err := r.store.Track(ctx, sub.record(sub.joinedAt)); err != nil {
		r.detach(sub)
		err = fmt.Errorf("%w: %v", apperr.ErrTransportUnavailable, err)
		r.log.Warn("presence unavailable, continuing without it", zap.String("channel", channelKey), zap.Error(err))
		sub.degrade(err)
		return sub, nil
	}

	r.broadcast(ctx, channelKey, EventJoin, &identity)
	return sub, nil
}

// Leave removes the subscription's record immediately.
func (r *Registry) Leave(ctx context.Context, sub *Subscription) error {
	if sub == nil || !sub.close() {
		return nil
	}
	r.detach(sub)

	if err := r.store.Untrack(ctx, sub.channel, sub.connID); err != nil {
		r.log.Warn("presence untrack failed", zap.String("channel", sub.channel), zap.Error(err))
		return fmt.Errorf("%w: %v", apperr.ErrTransportUnavailable, err)
	}
	r.broadcast(ctx, sub.channel, EventLeave, &sub.admin)
	return nil
}

// Disconnect handles a connection that dropped without leaving. The record
// stays visible for the grace period and is removed afterwards unless the
// same admin joins the channel again first.
func (r *Registry) Disconnect(sub *Subscription) {
	if sub == nil || !sub.close() {
		return
	}
	r.detach(sub)

	connID := sub.connID
	r.mu.Lock()
	r.pending[connID] = &pendingDrop{
		channel: sub.channel,
		admin:   sub.admin,
		timer:   time.AfterFunc(r.grace, func() { r.expire(connID) }),
	}
	r.mu.Unlock()
}

// Heartbeat refreshes the subscription's last_seen.
func (r *Registry) Heartbeat(ctx context.Context, sub *Subscription) error {
	if sub == nil || sub.isClosed() {
		return nil
	}
	if err := r.store.Track(ctx, sub.record(time.Now().UTC())); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrTransportUnavailable, err)
	}
	return nil
}

// Snapshot returns the current deduplicated membership of a channel.
func (r *Registry) Snapshot(ctx context.Context, channelKey string) ([]models.PresenceRecord, error) {
	members, err := r.store.Members(ctx, channelKey, time.Now().UTC().Add(-r.grace))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrTransportUnavailable, err)
	}
	return members, nil
}

// Start runs the sweeper: it refreshes this node's live subscriptions and
// prunes records nobody refreshed within the grace period.
func (r *Registry) Start(parent context.Context, interval time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loopCancel != nil {
		return
	}
	if interval <= 0 || interval >= r.grace {
		interval = r.grace / 2
	}
	ctx, cancel := context.WithCancel(parent)
	r.loopCancel = cancel
	r.wg.Add(1)
	go r.loop(ctx, interval)
}

// Close stops the sweeper, pending drops and every channel listener.
func (r *Registry) Close() error {
	r.mu.Lock()
	cancel := r.loopCancel
	r.loopCancel = nil
	for connID, drop := range r.pending {
		drop.timer.Stop()
		delete(r.pending, connID)
	}
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
	r.stop()
	return nil
}

func (r *Registry) loop(ctx context.Context, interval time.Duration) {
	defer r.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Registry) sweep(ctx context.Context) {
	r.mu.Lock()
	var live []*Subscription
	for _, ch := range r.channels {
		for _, sub := range ch.subs {
			live = append(live, sub)
		}
	}
	r.mu.Unlock()

	now := time.Now().UTC()
	for _, sub := range live {
		if sub.isClosed() {
			continue
		}
		if err := r.store.Track(ctx, sub.record(now)); err != nil {
			r.log.Warn("presence refresh failed", zap.String("channel", sub.channel), zap.Error(err))
		}
	}

	channels, err := r.store.Channels(ctx)
	if err != nil {
		r.log.Warn("presence sweep failed", zap.Error(err))
		return
	}
	for _, key := range channels {
		n, err := r.store.Prune(ctx, key, now.Add(-r.grace))
		if err != nil {
			r.log.Warn("presence prune failed", zap.String("channel", key), zap.Error(err))
			continue
		}
		if n > 0 {
			r.log.Debug("pruned stale presence", zap.String("channel", key), zap.Int("count", n))
			r.broadcast(ctx, key, EventSync, nil)
		}
	}
}

// attach adds sub to the channel's listener, starting one if needed. The
// handshake runs without r.mu held and the wait honours ctx, so a stalled
// transport only delays the joins of that channel.
func (r *Registry) attach(ctx context.Context, sub *Subscription) error {
	r.mu.Lock()
	ch, ok := r.channels[sub.channel]
	if !ok {
		listenCtx, cancel := context.WithCancel(r.root)
		ch = &localChannel{subs: make(map[string]*Subscription), cancel: cancel, ready: make(chan struct{})}
		r.channels[sub.channel] = ch
		go r.listen(listenCtx, sub.channel, ch)
	}
	ch.waiting++
	r.mu.Unlock()

	var waitErr error
	select {
	case <-ch.ready:
		waitErr = ch.err
	case <-ctx.Done():
		waitErr = fmt.Errorf("%w: subscribe %s: %v", apperr.ErrTransportUnavailable, sub.channel, ctx.Err())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	ch.waiting--
	if waitErr == nil {
		ch.subs[sub.connID] = sub
		return nil
	}
	r.dropIfIdleLocked(sub.channel, ch)
	return waitErr
}

func (r *Registry) listen(ctx context.Context, channelKey string, ch *localChannel) {
	err := r.subscriber.Subscribe(ctx, topic(channelKey), r.deliver(channelKey))

	r.mu.Lock()
	defer r.mu.Unlock()
	ch.err = err
	close(ch.ready)
	if err != nil {
		ch.cancel()
		if r.channels[channelKey] == ch {
			delete(r.channels, channelKey)
		}
		return
	}
	r.dropIfIdleLocked(channelKey, ch)
}

// dropIfIdleLocked stops a finished listener nobody uses.
func (r *Registry) dropIfIdleLocked(channelKey string, ch *localChannel) {
	select {
	case <-ch.ready:
	default:
		return
	}
	if !ch.idle() {
		return
	}
	ch.cancel()
	if r.channels[channelKey] == ch {
		delete(r.channels, channelKey)
	}
}

func (r *Registry) detach(sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[sub.channel]
	if !ok {
		return
	}
	delete(ch.subs, sub.connID)
	r.dropIfIdleLocked(sub.channel, ch)
}

func (r *Registry) deliver(channelKey string) func(events.Event) {
	return func(e events.Event) {
		var ev Event
		if err := e.Decode(&ev); err != nil {
			r.log.Error("invalid presence event", zap.String("channel", channelKey), zap.Error(err))
			return
		}

		r.mu.Lock()
		var subs []*Subscription
		if ch, ok := r.channels[channelKey]; ok {
			for _, sub := range ch.subs {
				subs = append(subs, sub)
			}
		}
		r.mu.Unlock()

		for _, sub := range subs {
			sub.push(ev)
		}
	}
}

func (r *Registry) broadcast(ctx context.Context, channelKey string, kind EventKind, admin *models.AdminIdentity) {
	members, err := r.Snapshot(ctx, channelKey)
	if err != nil {
		r.log.Warn("presence snapshot failed", zap.String("channel", channelKey), zap.Error(err))
		return
	}
	event, err := events.NewEvent(events.EventPresence, Event{Kind: kind, Channel: channelKey, Admin: admin, Members: members})
	if err != nil {
		r.log.Error("presence event encode failed", zap.Error(err))
		return
	}
	if err := r.publisher.Publish(ctx, topic(channelKey), event); err != nil {
		r.log.Warn("presence publish failed", zap.String("channel", channelKey), zap.Error(err))
	}
}

// cancelPendingDrops drops the records of earlier connections of the admin
// that are waiting out their grace period; the new join supersedes them.
func (r *Registry) cancelPendingDrops(ctx context.Context, channelKey string, adminID uuid.UUID) {
	r.mu.Lock()
	var superseded []string
	for connID, drop := range r.pending {
		if drop.channel == channelKey && drop.admin.ID == adminID {
			drop.timer.Stop()
			delete(r.pending, connID)
			superseded = append(superseded, connID)
		}
	}
	r.mu.Unlock()

	for _, connID := range superseded {
		if err := r.store.Untrack(ctx, channelKey, connID); err != nil {
			r.log.Warn("presence untrack failed", zap.String("channel", channelKey), zap.Error(err))
		}
	}
}

func (r *Registry) expire(connID string) {
	r.mu.Lock()
	drop, ok := r.pending[connID]
	if ok {
		delete(r.pending, connID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.root, 5*time.Second)
	defer cancel()
	if err := r.store.Untrack(ctx, drop.channel, connID); err != nil {
		r.log.Warn("presence untrack failed", zap.String("channel", drop.channel), zap.Error(err))
		return
	}
	r.broadcast(ctx, drop.channel, EventLeave, &drop.admin)
}
