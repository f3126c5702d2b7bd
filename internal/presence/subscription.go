package presence

import (
	"context"
	"sync"
	"time"

	"github.com/admissions-portal/backend/internal/models"
)

// Subscription is one connection's membership of a channel.
type Subscription struct {
	registry *Registry
	channel  string
	admin    models.AdminIdentity
	connID   string
	joinedAt time.Time

	mu     sync.Mutex
	events chan Event
	closed bool
	err    error
}

func newSubscription(r *Registry, channel string, admin models.AdminIdentity, connID string, joinedAt time.Time) *Subscription {
	return &Subscription{
		registry: r,
		channel:  channel,
		admin:    admin,
		connID:   connID,
		joinedAt: joinedAt,
		events:   make(chan Event, 1),
	}
}

func (s *Subscription) Channel() string             { return s.channel }
func (s *Subscription) ConnID() string              { return s.connID }
func (s *Subscription) Admin() models.AdminIdentity { return s.admin }

// Events yields membership snapshots. Only the latest undelivered snapshot is
// kept. The channel is closed on Leave or Disconnect.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Err is non-nil when the subscription could not reach the transport.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) Close(ctx context.Context) error {
	return s.registry.Leave(ctx, s)
}

func (s *Subscription) record(lastSeen time.Time) models.PresenceRecord {
	return models.PresenceRecord{
		Admin:      s.admin,
		ChannelKey: s.channel,
		ConnID:     s.connID,
		JoinedAt:   s.joinedAt,
		LastSeen:   lastSeen,
	}
}

func (s *Subscription) push(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
		// a newer snapshot supersedes the undelivered one
		select {
		case <-s.events:
		default:
		}
		s.events <- ev
	}
}

// close reports whether this call closed the subscription.
func (s *Subscription) close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	close(s.events)
	return true
}

func (s *Subscription) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Subscription) degrade(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.close()
}
