package models

import (
	"time"

	"github.com/google/uuid"
)

type RecordKind string

const (
	KindApplication RecordKind = "application"
	KindStory       RecordKind = "story"
)

// Review statuses
const (
	StatusPending   = "pending"
	StatusApproved  = "approved"
	StatusRejected  = "rejected"
	StatusCancelled = "cancelled"
)

// Statuses each record kind may hold, in board column order.
var KindStatuses = map[RecordKind][]string{
	KindApplication: {StatusPending, StatusApproved, StatusRejected, StatusCancelled},
	KindStory:       {StatusPending, StatusApproved, StatusRejected},
}

func (k RecordKind) Valid() bool {
	_, ok := KindStatuses[k]
	return ok
}

// Table returns the persistence table backing the kind.
func (k RecordKind) Table() string {
	switch k {
	case KindApplication:
		return "applications"
	case KindStory:
		return "blog_posts"
	default:
		return ""
	}
}

// Module returns the permission module name guarding the kind.
func (k RecordKind) Module() string {
	switch k {
	case KindApplication:
		return "applications"
	case KindStory:
		return "stories"
	default:
		return ""
	}
}

func IsValidStatus(kind RecordKind, status string) bool {
	for _, s := range KindStatuses[kind] {
		if s == status {
			return true
		}
	}
	return false
}

// CanTransition is the single place deciding transition legality. Decisions
// are reversible: any status of the kind may move to any other one, including
// back to pending.
func CanTransition(kind RecordKind, from, to string) bool {
	return IsValidStatus(kind, from) && IsValidStatus(kind, to)
}

// NotifiesApplicant reports whether reaching status sends the applicant an
// outbound message.
func NotifiesApplicant(kind RecordKind, status string) bool {
	return kind == KindApplication && (status == StatusApproved || status == StatusRejected)
}

type Applicant struct {
	Name  string  `json:"name"`
	Email *string `json:"email,omitempty"`
	Phone *string `json:"phone,omitempty"`
}

// ReviewableRecord is an application or a blog story moving through review.
type ReviewableRecord struct {
	ID        uuid.UUID  `json:"id"`
	Kind      RecordKind `json:"kind"`
	Status    string     `json:"status"`
	Title     string     `json:"title"`
	Applicant *Applicant `json:"applicant,omitempty"` // applications only
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}
