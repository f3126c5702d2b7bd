package review

import (
	"context"
	"fmt"
	"sync"

	"github.com/admissions-portal/backend/internal/apperr"
	"github.com/admissions-portal/backend/internal/models"
	"github.com/google/uuid"
)

type Transitioner interface {
	Transition(ctx context.Context, ref RecordRef, newStatus string, actor models.AdminIdentity) (*models.ReviewableRecord, error)
}

type Column struct {
	Status  string                    `json:"status"`
	Records []models.ReviewableRecord `json:"records"`
}

// Board is the drag-and-drop view of one record kind, one column per status.
// Drops move the card before the transition is persisted and put it back if
// the transition fails.
type Board struct {
	kind    models.RecordKind
	machine Transitioner

	mu      sync.Mutex
	columns map[string][]models.ReviewableRecord
}

func NewBoard(kind models.RecordKind, machine Transitioner) *Board {
	b := &Board{kind: kind, machine: machine, columns: map[string][]models.ReviewableRecord{}}
	for _, s := range models.KindStatuses[kind] {
		b.columns[s] = nil
	}
	return b
}

// Load replaces the board contents. Records with a status outside the kind
// are dropped.
func (b *Board) Load(records []models.ReviewableRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.columns {
		b.columns[s] = nil
	}
	for _, r := range records {
		if _, ok := b.columns[r.Status]; ok {
			b.columns[r.Status] = append(b.columns[r.Status], r)
		}
	}
}

// Columns returns a copy in board order.
func (b *Board) Columns() []Column {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Column, 0, len(b.columns))
	for _, s := range models.KindStatuses[b.kind] {
		recs := make([]models.ReviewableRecord, len(b.columns[s]))
		copy(recs, b.columns[s])
		out = append(out, Column{Status: s, Records: recs})
	}
	return out
}

// Drop handles a card released over column to. Dropping onto the source
// column does nothing.
func (b *Board) Drop(ctx context.Context, recordID uuid.UUID, from, to string, actor models.AdminIdentity) error {
	if from == to {
		return nil
	}
	b.mu.Lock()
	if _, ok := b.columns[to]; !ok {
		b.mu.Unlock()
		return fmt.Errorf("%q is not a %s column: %w", to, b.kind, apperr.ErrInvalidStatus)
	}
	idx := indexOf(b.columns[from], recordID)
	if idx < 0 {
		b.mu.Unlock()
		return fmt.Errorf("card %s not in column %q: %w", recordID, from, apperr.ErrNotFound)
	}
	card := b.columns[from][idx]
	b.columns[from] = append(b.columns[from][:idx:idx], b.columns[from][idx+1:]...)
	card.Status = to
	b.columns[to] = append([]models.ReviewableRecord{card}, b.columns[to]...)
	b.mu.Unlock()

	updated, err := b.machine.Transition(ctx, RecordRef{Kind: b.kind, ID: recordID}, to, actor)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		if i := indexOf(b.columns[to], recordID); i >= 0 {
			b.columns[to] = append(b.columns[to][:i:i], b.columns[to][i+1:]...)
		}
		card.Status = from
		pos := idx
		if pos > len(b.columns[from]) {
			pos = len(b.columns[from])
		}
		restored := make([]models.ReviewableRecord, 0, len(b.columns[from])+1)
		restored = append(restored, b.columns[from][:pos]...)
		restored = append(restored, card)
		b.columns[from] = append(restored, b.columns[from][pos:]...)
		return err
	}
	if i := indexOf(b.columns[to], recordID); i >= 0 && updated != nil {
		b.columns[to][i] = *updated
	}
	return nil
}

func indexOf(recs []models.ReviewableRecord, id uuid.UUID) int {
	for i := range recs {
		if recs[i].ID == id {
			return i
		}
	}
	return -1
}
