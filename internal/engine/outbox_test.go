package engine

import (
	"context"
	"testing"
	"time"

	"github.com/rollcall-app/rollcall/internal/model"
	"github.com/rollcall-app/rollcall/internal/storage"
)

func pending(personID uint64, occ model.OccurrenceKey, present bool, queuedAt int64) model.PendingChange {
	return model.PendingChange{
		ChangeID: "c",
		PersonID: personID,
		EventID:  occ.EventID,
		Date:     occ.Date,
		Present:  present,
		EditedAt: queuedAt,
		QueuedAt: queuedAt,
	}
}

func TestOutboxEnqueueIsIdempotentPerKey(t *testing.T) {
	now := newFakeNow()
	occ := model.OccurrenceKey{EventID: 1, Date: "2026-03-01"}
	box := NewOutbox(storage.NewMemory(), now.Millis, 0)

	for i := 0; i < 5; i++ {
		box.Enqueue(pending(42, occ, i%2 == 0, now.Millis()))
	}
	if got := box.Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1", got)
	}
	got, ok := box.Get(model.RecordKey{PersonID: 42, EventID: 1, Date: "2026-03-01"})
	if !ok {
		t.Fatal("entry missing after enqueue")
	}
	// Five enqueues, last one had i=4 -> present=true.
	if !got.Present {
		t.Fatalf("surviving entry Present = false, want the last enqueued value")
	}
}

func TestOutboxDrainGroupsByOccurrence(t *testing.T) {
	now := newFakeNow()
	occA := model.OccurrenceKey{EventID: 1, Date: "2026-03-01"}
	occB := model.OccurrenceKey{EventID: 2, Date: "2026-03-02"}
	box := NewOutbox(storage.NewMemory(), now.Millis, 0)

	box.Enqueue(pending(1, occA, true, now.Millis()+2))
	box.Enqueue(pending(2, occA, true, now.Millis()+1))
	box.Enqueue(pending(3, occB, false, now.Millis()))

	groups := box.Drain()
	if len(groups) != 2 {
		t.Fatalf("Drain() produced %d groups, want 2", len(groups))
	}
	if len(groups[occA]) != 2 || len(groups[occB]) != 1 {
		t.Fatalf("group sizes = %d/%d, want 2/1", len(groups[occA]), len(groups[occB]))
	}
	// Oldest first within a group.
	if groups[occA][0].PersonID != 2 {
		t.Fatalf("first entry in group = person %d, want 2 (oldest)", groups[occA][0].PersonID)
	}
	// Drain is non-destructive; only Ack removes.
	if box.Len() != 3 {
		t.Fatalf("Len() after Drain = %d, want 3", box.Len())
	}
}

func TestOutboxAckRemovesEntry(t *testing.T) {
	now := newFakeNow()
	occ := model.OccurrenceKey{EventID: 1, Date: "2026-03-01"}
	store := storage.NewMemory()
	box := NewOutbox(store, now.Millis, 0)

	change := pending(7, occ, true, now.Millis())
	box.Enqueue(change)
	box.Ack(change.Key())
	if box.Len() != 0 {
		t.Fatalf("Len() after Ack = %d, want 0", box.Len())
	}
	items, err := store.List(context.Background(), "pending/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("storage still holds %d entries after Ack", len(items))
	}
}

func TestOutboxExpireDropsOldEntries(t *testing.T) {
	now := newFakeNow()
	occ := model.OccurrenceKey{EventID: 1, Date: "2026-03-01"}
	box := NewOutbox(storage.NewMemory(), now.Millis, time.Hour)

	box.Enqueue(pending(1, occ, true, now.Millis()))
	now.Advance(2 * time.Hour)
	box.Enqueue(pending(2, occ, true, now.Millis()))

	if dropped := box.Expire(); dropped != 1 {
		t.Fatalf("Expire() dropped %d, want 1", dropped)
	}
	groups := box.Drain()
	if len(groups[occ]) != 1 || groups[occ][0].PersonID != 2 {
		t.Fatalf("Drain() after expire = %+v, want only person 2", groups[occ])
	}
}

func TestOutboxSurvivesRestart(t *testing.T) {
	now := newFakeNow()
	occ := model.OccurrenceKey{EventID: 1, Date: "2026-03-01"}
	store := storage.NewMemory()

	first := NewOutbox(store, now.Millis, 0)
	first.Enqueue(pending(9, occ, true, now.Millis()))

	second := NewOutbox(store, now.Millis, 0)
	second.Load(context.Background())
	got, ok := second.Get(model.RecordKey{PersonID: 9, EventID: 1, Date: "2026-03-01"})
	if !ok || !got.Present {
		t.Fatalf("reloaded entry = %+v/%v, want present change for person 9", got, ok)
	}
}
