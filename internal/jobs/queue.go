package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/admissions-portal/backend/internal/apperr"
	"github.com/admissions-portal/backend/internal/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	QueueOutbound = "jobs:outbound"
	QueueDead     = "jobs:outbound:dead"
)

// Job kinds
const (
	KindApplicationDecision = "application_decision"
)

// Job asks the worker to tell an applicant about a review decision.
type Job struct {
	ID            uuid.UUID        `json:"id"`
	Kind          string           `json:"kind"`
	ApplicationID uuid.UUID        `json:"application_id"`
	Status        string           `json:"status"`
	Applicant     models.Applicant `json:"applicant"`
	Attempts      int              `json:"attempts"`
	EnqueuedAt    time.Time        `json:"enqueued_at"`
	LastError     string           `json:"last_error,omitempty"`
	RetryAt       *time.Time       `json:"retry_at,omitempty"`
}

func NewDecisionJob(rec *models.ReviewableRecord) Job {
	j := Job{
		ID:            uuid.New(),
		Kind:          KindApplicationDecision,
		ApplicationID: rec.ID,
		Status:        rec.Status,
		EnqueuedAt:    time.Now().UTC(),
	}
	if rec.Applicant != nil {
		j.Applicant = *rec.Applicant
	}
	return j
}

// Queue is a FIFO backed by a Redis list: LPUSH on enqueue, BRPOP on dequeue.
// Jobs waiting for a retry sit in a sorted set scored by their due time
// until PromoteDue moves them back onto the list.
type Queue struct {
	client *redis.Client
	name   string
}

func NewQueue(client *redis.Client, name string) *Queue {
	return &Queue{client: client, name: name}
}

func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.LPush(ctx, q.name, data).Err(); err != nil {
		return fmt.Errorf("%w: enqueue %s: %v", apperr.ErrTransportUnavailable, q.name, err)
	}
	return nil
}

// Dequeue waits up to timeout for a job. It returns nil, nil when the
// queue stayed empty.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	res, err := q.client.BRPop(ctx, timeout, q.name).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue %s: %w", q.name, err)
	}
	// res[0] is the list name
	var job Job
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &job, nil
}

func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.name).Result()
}

func (q *Queue) delayedKey() string {
	return q.name + ":delayed"
}

// Schedule parks job until at.
func (q *Queue) Schedule(ctx context.Context, job Job, at time.Time) error {
	at = at.UTC()
	job.RetryAt = &at
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.ZAdd(ctx, q.delayedKey(), redis.Z{Score: float64(at.UnixMilli()), Member: data}).Err(); err != nil {
		return fmt.Errorf("%w: schedule %s: %v", apperr.ErrTransportUnavailable, q.name, err)
	}
	return nil
}

// promoteScript moves due members onto the list in one step so two workers
// never push the same job.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, job in ipairs(due) do
	redis.call('ZREM', KEYS[1], job)
	redis.call('LPUSH', KEYS[2], job)
end
return #due
`)

const promoteBatch = 100

// PromoteDue moves jobs due at or before now back onto the queue and
// returns how many it moved.
func (q *Queue) PromoteDue(ctx context.Context, now time.Time) (int, error) {
	n, err := promoteScript.Run(ctx, q.client,
		[]string{q.delayedKey(), q.name},
		strconv.FormatInt(now.UnixMilli(), 10), promoteBatch,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("promote %s: %w", q.name, err)
	}
	return n, nil
}

// Delayed reports how many jobs are waiting for a retry.
func (q *Queue) Delayed(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.delayedKey()).Result()
}
