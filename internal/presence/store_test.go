package presence

import (
	"testing"
	"time"

	"github.com/admissions-portal/backend/internal/models"
	"github.com/google/uuid"
)

func TestDedupe(t *testing.T) {
	alice := models.AdminIdentity{ID: uuid.New(), Email: "alice@example.com"}
	bob := models.AdminIdentity{ID: uuid.New(), Email: "bob@example.com"}
	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

	recs := []models.PresenceRecord{
		{Admin: alice, ConnID: "a1", JoinedAt: base},
		{Admin: bob, ConnID: "b1", JoinedAt: base.Add(time.Second)},
		{Admin: alice, ConnID: "a2", JoinedAt: base.Add(2 * time.Second)},
	}

	out := Dedupe(recs)
	if len(out) != 2 {
		t.Fatalf("expected 2 records, got %d", len(out))
	}
	if out[0].Admin.ID != bob.ID || out[1].ConnID != "a2" {
		t.Errorf("unexpected order or winner: %+v", out)
	}
}

func TestDedupeEmpty(t *testing.T) {
	if out := Dedupe(nil); len(out) != 0 {
		t.Errorf("expected empty result, got %d", len(out))
	}
}
