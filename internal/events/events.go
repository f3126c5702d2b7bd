package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Event types
const (
	EventReviewStatusChanged  = "review_status_changed"
	EventNotificationsChanged = "notifications_changed"
	EventPresence             = "presence"
)

// Channels
const (
	ChannelReview = "events:review"
)

func NotificationsChannel(adminID uuid.UUID) string {
	return "notifications:" + adminID.String()
}

// Event is the envelope carried over pub/sub. Payload is decoded by the
// consumer into the concrete type named by Type.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func NewEvent(typ string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return Event{Type: typ, Payload: data}, nil
}

func (e Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("event %s has no payload", e.Type)
	}
	return json.Unmarshal(e.Payload, v)
}

// ReviewStatusChanged is published after a status write lands.
type ReviewStatusChanged struct {
	RecordID  uuid.UUID `json:"record_id"`
	Kind      string    `json:"kind"`
	Module    string    `json:"module"`
	Title     string    `json:"title"`
	OldStatus string    `json:"old_status"`
	NewStatus string    `json:"new_status"`
	ActorID   uuid.UUID `json:"actor_id"`
	ActorName string    `json:"actor_name"`
}

// NotificationsChanged tells an admin's sessions to refetch their list.
type NotificationsChanged struct {
	AdminID uuid.UUID `json:"admin_id"`
	Reason  string    `json:"reason"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

// Subscriber delivers events on stream to handler until ctx is cancelled.
type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}
