package engine

import (
	"context"
	"testing"
	"time"

	"github.com/rollcall-app/rollcall/internal/model"
	"github.com/rollcall-app/rollcall/internal/storage"
)

func TestSnapshotStalenessFlag(t *testing.T) {
	now := newFakeNow()
	occ := model.OccurrenceKey{EventID: 1, Date: "2026-03-01"}
	snaps := NewSnapshotStore(storage.NewMemory(), now.Millis, 5*time.Minute)

	snaps.Put(occ, []model.PresenceRecord{member(1, occ, 0, true)}, nil)

	if _, stale, ok := snaps.Get(occ); !ok || stale {
		t.Fatalf("fresh entry: stale=%v ok=%v, want false/true", stale, ok)
	}
	now.Advance(6 * time.Minute)
	entry, stale, ok := snaps.Get(occ)
	if !ok || !stale {
		t.Fatalf("aged entry: stale=%v ok=%v, want true/true", stale, ok)
	}
	// Stale entries are still served for instant paint.
	if len(entry.Roster) != 1 || !entry.Roster[0].Present {
		t.Fatalf("stale entry lost its data: %+v", entry.Roster)
	}
}

func TestSnapshotPutOverwritesWhole(t *testing.T) {
	now := newFakeNow()
	occ := model.OccurrenceKey{EventID: 1, Date: "2026-03-01"}
	snaps := NewSnapshotStore(storage.NewMemory(), now.Millis, 0)

	snaps.Put(occ, []model.PresenceRecord{member(1, occ, 0, true), member(2, occ, 0, false)}, nil)
	snaps.Put(occ, []model.PresenceRecord{member(3, occ, 0, true)}, nil)

	entry, _, _ := snaps.Get(occ)
	if len(entry.Roster) != 1 || entry.Roster[0].PersonID != 3 {
		t.Fatalf("snapshots must supersede, not merge; got %+v", entry.Roster)
	}
}

func TestSnapshotSurvivesRestart(t *testing.T) {
	now := newFakeNow()
	occ := model.OccurrenceKey{EventID: 4, Date: "2026-03-08"}
	store := storage.NewMemory()

	first := NewSnapshotStore(store, now.Millis, 0)
	first.Put(occ, []model.PresenceRecord{member(5, occ, 0, true)},
		[]model.PresenceRecord{{PersonID: 6, EventID: 4, Date: "2026-03-08", Visitor: true}})

	second := NewSnapshotStore(store, now.Millis, 0)
	second.Load(context.Background())
	entry, _, ok := second.Get(occ)
	if !ok {
		t.Fatal("snapshot missing after reload")
	}
	if len(entry.Roster) != 1 || len(entry.Visitors) != 1 {
		t.Fatalf("reloaded entry = %d roster/%d visitors, want 1/1", len(entry.Roster), len(entry.Visitors))
	}
}
