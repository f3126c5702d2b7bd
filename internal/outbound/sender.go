package outbound

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/admissions-portal/backend/internal/jobs"
	"go.uber.org/zap"
)

type Mailer interface {
	IsConfigured() bool
	SendHTML(ctx context.Context, to, subject, htmlBody string) error
}

type Messenger interface {
	Name() string
	IsConfigured() bool
	Send(ctx context.Context, to, text string) error
}

// Sender delivers a decision job over every channel the applicant can be
// reached on. Channels without configuration or contact data are skipped.
type Sender struct {
	mailer     Mailer
	messengers []Messenger
	log        *zap.Logger
}

func NewSender(mailer Mailer, log *zap.Logger, messengers ...Messenger) *Sender {
	return &Sender{mailer: mailer, messengers: messengers, log: log}
}

func (s *Sender) Handle(ctx context.Context, job jobs.Job) error {
	if job.Kind != jobs.KindApplicationDecision {
		return fmt.Errorf("unsupported job kind %q", job.Kind)
	}
	a := job.Applicant
	var errs []error
	sent := 0

	if a.Email != nil && *a.Email != "" && s.mailer != nil && s.mailer.IsConfigured() {
		html, err := renderDecisionEmail(a.Name, job.Status)
		if err == nil {
			err = s.mailer.SendHTML(ctx, *a.Email, decisionSubject(job.Status), html)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("email: %w", err))
		} else {
			sent++
		}
	}

	if a.Phone != nil && *a.Phone != "" {
		text := decisionText(a.Name, job.Status)
		for _, m := range s.messengers {
			if !m.IsConfigured() {
				continue
			}
			if err := m.Send(ctx, *a.Phone, text); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", m.Name(), err))
				continue
			}
			sent++
		}
	}

	if sent == 0 && len(errs) == 0 {
		s.log.Warn("no outbound channel reached applicant",
			zap.String("application_id", job.ApplicationID.String()),
		)
	}
	return errors.Join(errs...)
}

type Queue interface {
	Enqueue(ctx context.Context, job jobs.Job) error
	Dequeue(ctx context.Context, timeout time.Duration) (*jobs.Job, error)
}

// RetryQueue can hold a job back until a later time.
type RetryQueue interface {
	Queue
	Schedule(ctx context.Context, job jobs.Job, at time.Time) error
	PromoteDue(ctx context.Context, now time.Time) (int, error)
}

// retryBackoff grows with the square of the attempt, capped at five minutes.
func retryBackoff(attempt int) time.Duration {
	if attempt <= 1 {
		return time.Second
	}
	d := time.Duration(attempt*attempt) * time.Second
	if d > 5*time.Minute {
		return 5 * time.Minute
	}
	return d
}

// Worker drains the outbound queue. Failed jobs are retried after a growing
// backoff until maxRetries is reached and then moved to the dead-letter queue.
type Worker struct {
	queue      RetryQueue
	dead       Queue
	sender     *Sender
	maxRetries int
	backoff    func(attempt int) time.Duration
	now        func() time.Time
	log        *zap.Logger
}

func NewWorker(queue RetryQueue, dead Queue, sender *Sender, maxRetries int, log *zap.Logger) *Worker {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Worker{
		queue:      queue,
		dead:       dead,
		sender:     sender,
		maxRetries: maxRetries,
		backoff:    retryBackoff,
		now:        time.Now,
		log:        log,
	}
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for ctx.Err() == nil {
		w.ProcessOne(ctx, time.Second)
	}
}

// ProcessOne handles at most one job and reports whether one was taken.
func (w *Worker) ProcessOne(ctx context.Context, wait time.Duration) bool {
	if n, err := w.queue.PromoteDue(ctx, w.now()); err != nil {
		if ctx.Err() == nil {
			w.log.Warn("failed to promote delayed jobs", zap.Error(err))
		}
	} else if n > 0 {
		w.log.Debug("delayed jobs due", zap.Int("count", n))
	}

	job, err := w.queue.Dequeue(ctx, wait)
	if err != nil {
		if ctx.Err() == nil {
			w.log.Error("dequeue failed", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
		return false
	}
	if job == nil {
		return false
	}

	err = w.sender.Handle(ctx, *job)
	if err == nil {
		w.log.Info("outbound job delivered",
			zap.String("job_id", job.ID.String()),
			zap.String("application_id", job.ApplicationID.String()),
			zap.String("status", job.Status),
		)
		return true
	}

	job.Attempts++
	job.LastError = err.Error()
	deadLetter := job.Attempts >= w.maxRetries
	fields := []zap.Field{
		zap.String("job_id", job.ID.String()),
		zap.Int("attempts", job.Attempts),
		zap.Bool("dead_letter", deadLetter),
		zap.Error(err),
	}

	if deadLetter {
		w.log.Warn("outbound job failed", fields...)
		if err := w.dead.Enqueue(ctx, *job); err != nil {
			w.log.Error("failed to dead-letter outbound job", zap.String("job_id", job.ID.String()), zap.Error(err))
		}
		return true
	}

	delay := w.backoff(job.Attempts)
	w.log.Warn("outbound job failed", append(fields, zap.Duration("retry_in", delay))...)
	if err := w.queue.Schedule(ctx, *job, w.now().Add(delay)); err != nil {
		w.log.Error("failed to schedule outbound retry", zap.String("job_id", job.ID.String()), zap.Error(err))
	}
	return true
}
