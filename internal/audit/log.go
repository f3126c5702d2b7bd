package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/admissions-portal/backend/internal/apperr"
	"github.com/admissions-portal/backend/internal/models"
	"github.com/admissions-portal/backend/internal/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Store interface {
	Insert(ctx context.Context, e *models.AuditEntry) error
	List(ctx context.Context, f repositories.AuditFilter) ([]models.AuditEntry, error)
}

// Hook observes every entry after it has been stored.
type Hook func(ctx context.Context, entry models.AuditEntry)

type Entry struct {
	ActorID   uuid.UUID
	Action    models.AuditAction
	TableName string
	RecordID  *string
	OldValues map[string]any
	NewValues map[string]any
}

// Result reports the outcome of an append. Err wraps apperr.ErrAuditAppend
// when the entry was not stored; callers are free to ignore it.
type Result struct {
	Entry *models.AuditEntry
	Err   error
}

func (r Result) OK() bool { return r.Err == nil }

// Log is the append-only audit trail. It has no update or delete operations.
type Log struct {
	store Store
	hooks []Hook
	log   *zap.Logger
}

func NewLog(store Store, log *zap.Logger, hooks ...Hook) *Log {
	return &Log{store: store, hooks: hooks, log: log}
}

// OnAppend registers a hook. It must be called before the log is shared.
func (l *Log) OnAppend(h Hook) {
	l.hooks = append(l.hooks, h)
}

// Append stores one entry. Failures are logged and returned inside the
// Result, never as a panic or a Go error.
func (l *Log) Append(ctx context.Context, e Entry) Result {
	if err := validate(e); err != nil {
		l.log.Error("audit entry rejected",
			zap.String("action", string(e.Action)),
			zap.String("table", e.TableName),
			zap.Error(err),
		)
		return Result{Err: fmt.Errorf("%w: %v", apperr.ErrAuditAppend, err)}
	}

	entry := &models.AuditEntry{
		ActorID:   e.ActorID,
		Action:    e.Action,
		TableName: e.TableName,
		RecordID:  e.RecordID,
		OldValues: e.OldValues,
		NewValues: e.NewValues,
	}
	if err := l.store.Insert(ctx, entry); err != nil {
		l.log.Error("audit append failed",
			zap.String("action", string(e.Action)),
			zap.String("actor_id", e.ActorID.String()),
			zap.Error(err),
		)
		return Result{Err: fmt.Errorf("%w: %v", apperr.ErrAuditAppend, err)}
	}

	for _, h := range l.hooks {
		l.runHook(ctx, h, *entry)
	}
	return Result{Entry: entry}
}

func (l *Log) runHook(ctx context.Context, h Hook, entry models.AuditEntry) {
	defer func() {
		if rec := recover(); rec != nil {
			l.log.Error("audit hook panicked", zap.Any("panic", rec), zap.String("action", string(entry.Action)))
		}
	}()
	h(ctx, entry)
}

func validate(e Entry) error {
	if !e.Action.Valid() {
		return fmt.Errorf("unknown action %q (vocabulary v%d)", e.Action, models.AuditActionsVersion)
	}
	if e.TableName == "" {
		return errors.New("table name required")
	}
	if e.ActorID == uuid.Nil {
		return errors.New("actor required")
	}
	return nil
}

func (l *Log) ListByRecord(ctx context.Context, table, recordID string, limit, offset int) ([]models.AuditEntry, error) {
	if table == "" || recordID == "" {
		return nil, apperr.ErrInvalidInput
	}
	return l.store.List(ctx, repositories.AuditFilter{
		TableName: &table,
		RecordID:  &recordID,
		Limit:     limit,
		Offset:    offset,
	})
}

func (l *Log) List(ctx context.Context, f repositories.AuditFilter) ([]models.AuditEntry, error) {
	if f.Action != nil && !f.Action.Valid() {
		return nil, fmt.Errorf("unknown action %q: %w", *f.Action, apperr.ErrInvalidInput)
	}
	return l.store.List(ctx, f)
}
