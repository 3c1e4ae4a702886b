package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rollcall-app/rollcall/internal/model"
	"github.com/rollcall-app/rollcall/internal/storage"
)

type noticeLog struct {
	mu      sync.Mutex
	notices []Notice
}

func (n *noticeLog) add(notice Notice) {
	n.mu.Lock()
	n.notices = append(n.notices, notice)
	n.mu.Unlock()
}

func (n *noticeLog) byKind(kind NoticeKind) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, notice := range n.notices {
		if notice.Kind == kind {
			count++
		}
	}
	return count
}

func newTestReconciler(now *fakeNow, tr Transport, fetch Fetcher, notices *noticeLog) (*Reconciler, *SnapshotStore, *Outbox) {
	store := storage.NewMemory()
	snaps := NewSnapshotStore(store, now.Millis, 5*time.Minute)
	box := NewOutbox(store, now.Millis, 0)
	cfg := ReconcilerConfig{Grace: 30 * time.Second}
	if notices != nil {
		cfg.OnNotice = notices.add
	}
	rec := NewReconciler(snaps, box, tr, fetch, testClock(now), cfg)
	return rec, snaps, box
}

func activate(t *testing.T, rec *Reconciler, occ model.OccurrenceKey, wantPeople int) {
	t.Helper()
	rec.SetActive(context.Background(), occ)
	waitFor(t, "initial roster", func() bool {
		roster, _ := rec.Records()
		return len(roster) == wantPeople
	})
}

func TestLocalEditWinsWithinGraceWindow(t *testing.T) {
	now := newFakeNow()
	occ := model.OccurrenceKey{EventID: 1, Date: "2026-03-01"}
	tr := newFakeTransport()
	tr.block = make(chan struct{}) // keep the submission in flight
	defer close(tr.block)
	fetch := newFakeFetcher()
	fetch.set(occ, model.SnapshotEntry{EventID: 1, Date: occ.Date,
		Roster: []model.PresenceRecord{member(1, occ, 0, false)}})
	rec, _, _ := newTestReconciler(now, tr, fetch, nil)
	activate(t, rec, occ, 1)

	rec.SetPresent(context.Background(), 1, true)
	if got, _ := rec.Value(1); !got {
		t.Fatal("optimistic edit not visible")
	}

	push := member(1, occ, 0, false)
	push.EditedAt = now.Millis() + 1000
	rec.ApplyPush(model.Push{Kind: model.PushIncremental, EventID: 1, Date: occ.Date,
		Records: []model.PresenceRecord{push}})

	// The user's own recent edit still wins over the push.
	if got, _ := rec.Value(1); !got {
		t.Fatal("authoritative push overrode a local edit inside the grace window")
	}
	if rec.State(1) != Conflicted {
		t.Fatalf("State(1) = %v, want Conflicted", rec.State(1))
	}
}

func TestAuthoritativePushWinsAfterGraceWindow(t *testing.T) {
	now := newFakeNow()
	occ := model.OccurrenceKey{EventID: 1, Date: "2026-03-01"}
	tr := newFakeTransport()
	tr.block = make(chan struct{})
	defer close(tr.block)
	fetch := newFakeFetcher()
	fetch.set(occ, model.SnapshotEntry{EventID: 1, Date: occ.Date,
		Roster: []model.PresenceRecord{member(1, occ, 0, false)}})
	rec, _, _ := newTestReconciler(now, tr, fetch, nil)
	activate(t, rec, occ, 1)

	rec.SetPresent(context.Background(), 1, true)
	now.Advance(31 * time.Second)

	push := member(1, occ, 0, false)
	push.EditedAt = now.Millis()
	rec.ApplyPush(model.Push{Kind: model.PushIncremental, EventID: 1, Date: occ.Date,
		Records: []model.PresenceRecord{push}})

	if got, _ := rec.Value(1); got {
		t.Fatal("expired local edit still displayed over a newer authoritative push")
	}
}

func TestOfflineEditGoesStraightToQueue(t *testing.T) {
	now := newFakeNow()
	occ := model.OccurrenceKey{EventID: 1, Date: "2026-03-01"}
	tr := newFakeTransport()
	tr.setStatus(model.ConnectionState{Mode: model.ModeOffline})
	fetch := newFakeFetcher()
	fetch.set(occ, model.SnapshotEntry{EventID: 1, Date: occ.Date,
		Roster: []model.PresenceRecord{member(1, occ, 0, false)}})
	notices := &noticeLog{}
	rec, _, box := newTestReconciler(now, tr, fetch, notices)
	activate(t, rec, occ, 1)

	rec.SetPresent(context.Background(), 1, true)

	if box.Len() != 1 {
		t.Fatalf("outbox holds %d entries, want 1", box.Len())
	}
	if len(tr.sent()) != 0 {
		t.Fatal("offline edit reached the transport")
	}
	if got, _ := rec.Value(1); !got {
		t.Fatal("queued edit not displayed")
	}
	// Offline is never an error.
	if n := notices.byKind(NoticeSubmitFailed); n != 0 {
		t.Fatalf("offline edit raised %d failure notices", n)
	}
}

func TestFamilyToggleUsesMajorityRule(t *testing.T) {
	now := newFakeNow()
	occ := model.OccurrenceKey{EventID: 1, Date: "2026-03-01"}
	tr := newFakeTransport()
	fetch := newFakeFetcher()
	fetch.set(occ, model.SnapshotEntry{EventID: 1, Date: occ.Date,
		Roster: []model.PresenceRecord{
			member(1, occ, 7, true),
			member(2, occ, 7, false),
			member(3, occ, 7, false),
		}})
	rec, _, _ := newTestReconciler(now, tr, fetch, nil)
	activate(t, rec, occ, 3)

	rec.ToggleFamily(context.Background(), 7)

	waitFor(t, "three submissions", func() bool { return len(tr.sentChanges()) == 3 })
	seen := map[uint64]bool{}
	for _, change := range tr.sentChanges() {
		if !change.Present {
			t.Fatalf("person %d toggled to absent; one-of-three present means everyone goes present", change.PersonID)
		}
		seen[change.PersonID] = true
	}
	if len(seen) != 3 {
		t.Fatalf("submissions covered %d distinct people, want 3", len(seen))
	}
}

func TestTransientFailureRevertsAndNotifies(t *testing.T) {
	now := newFakeNow()
	occ := model.OccurrenceKey{EventID: 1, Date: "2026-03-01"}
	tr := newFakeTransport()
	tr.err = fmt.Errorf("write timeout")
	fetch := newFakeFetcher()
	fetch.set(occ, model.SnapshotEntry{EventID: 1, Date: occ.Date,
		Roster: []model.PresenceRecord{member(1, occ, 0, false), member(2, occ, 0, true)}})
	notices := &noticeLog{}
	rec, _, box := newTestReconciler(now, tr, fetch, notices)
	activate(t, rec, occ, 2)

	rec.SetPresent(context.Background(), 1, true)

	waitFor(t, "failure notice", func() bool { return notices.byKind(NoticeSubmitFailed) == 1 })
	if got, _ := rec.Value(1); got {
		t.Fatal("failed submission did not revert the optimistic value")
	}
	// Other records are untouched.
	if got, _ := rec.Value(2); !got {
		t.Fatal("unrelated record disturbed by a failed submission")
	}
	if box.Len() != 0 {
		t.Fatalf("transient failure queued the change; outbox holds %d", box.Len())
	}
}

func TestUnavailableTransportQueuesSilently(t *testing.T) {
	now := newFakeNow()
	occ := model.OccurrenceKey{EventID: 1, Date: "2026-03-01"}
	tr := newFakeTransport()
	tr.err = fmt.Errorf("%w: connection refused", ErrUnavailable)
	fetch := newFakeFetcher()
	fetch.set(occ, model.SnapshotEntry{EventID: 1, Date: occ.Date,
		Roster: []model.PresenceRecord{member(1, occ, 0, false)}})
	notices := &noticeLog{}
	rec, _, box := newTestReconciler(now, tr, fetch, notices)
	activate(t, rec, occ, 1)

	rec.SetPresent(context.Background(), 1, true)

	waitFor(t, "queued change", func() bool { return box.Len() == 1 })
	if n := notices.byKind(NoticeSubmitFailed); n != 0 {
		t.Fatalf("unreachable transport raised %d failure notices, want 0", n)
	}
	if got, _ := rec.Value(1); !got {
		t.Fatal("queued edit not displayed")
	}
}

func TestConflictDiscardsLocalAndRefetches(t *testing.T) {
	now := newFakeNow()
	occ := model.OccurrenceKey{EventID: 1, Date: "2026-03-01"}
	tr := newFakeTransport()
	tr.result = model.SubmitResult{Accepted: true, Conflicts: []uint64{1}}
	fetch := newFakeFetcher()
	fetch.set(occ, model.SnapshotEntry{EventID: 1, Date: occ.Date,
		Roster: []model.PresenceRecord{member(1, occ, 0, false)}})
	notices := &noticeLog{}
	rec, _, _ := newTestReconciler(now, tr, fetch, notices)
	activate(t, rec, occ, 1)
	before := fetch.fetchCount()

	rec.SetPresent(context.Background(), 1, true)

	waitFor(t, "conflict notice", func() bool { return notices.byKind(NoticeUpdatedElsewhere) == 1 })
	waitFor(t, "re-fetch", func() bool { return fetch.fetchCount() > before })
	waitFor(t, "discarded local value", func() bool {
		got, _ := rec.Value(1)
		return !got
	})
}

func TestReconnectReplaySubmitsEachEntryOnce(t *testing.T) {
	now := newFakeNow()
	occ := model.OccurrenceKey{EventID: 1, Date: "2026-03-01"}
	tr := newFakeTransport()
	fetch := newFakeFetcher()
	fetch.set(occ, model.SnapshotEntry{EventID: 1, Date: occ.Date,
		Roster: []model.PresenceRecord{member(1, occ, 0, false), member(2, occ, 0, false)}})
	rec, _, box := newTestReconciler(now, tr, fetch, nil)
	activate(t, rec, occ, 2)

	box.Enqueue(pending(1, occ, true, now.Millis()))
	box.Enqueue(pending(2, occ, true, now.Millis()))

	rec.ReplayOutbox(context.Background())
	if got := len(tr.sentChanges()); got != 2 {
		t.Fatalf("replay submitted %d changes, want 2", got)
	}
	if box.Len() != 0 {
		t.Fatalf("outbox holds %d entries after acknowledged replay, want 0", box.Len())
	}

	// A second replay pass has nothing left to send.
	rec.ReplayOutbox(context.Background())
	if got := len(tr.sentChanges()); got != 2 {
		t.Fatalf("second replay resubmitted entries (%d total sends)", got)
	}
}

func TestFailedReplayKeepsQueueIntact(t *testing.T) {
	now := newFakeNow()
	occ := model.OccurrenceKey{EventID: 1, Date: "2026-03-01"}
	tr := newFakeTransport()
	tr.err = fmt.Errorf("%w: still offline", ErrUnavailable)
	fetch := newFakeFetcher()
	rec, _, box := newTestReconciler(now, tr, fetch, nil)

	box.Enqueue(pending(1, occ, true, now.Millis()))
	rec.ReplayOutbox(context.Background())

	if box.Len() != 1 {
		t.Fatalf("failed replay removed the entry; outbox holds %d, want 1", box.Len())
	}
}

func TestSwitchingOccurrenceDiscardsLateFetch(t *testing.T) {
	now := newFakeNow()
	occA := model.OccurrenceKey{EventID: 1, Date: "2026-03-01"}
	occB := model.OccurrenceKey{EventID: 1, Date: "2026-03-08"}
	tr := newFakeTransport()
	fetch := newFakeFetcher()
	fetch.started = make(chan model.OccurrenceKey, 2)
	fetch.release = make(chan struct{})
	fetch.set(occA, model.SnapshotEntry{EventID: 1, Date: occA.Date,
		Roster: []model.PresenceRecord{member(99, occA, 0, true)}})
	fetch.set(occB, model.SnapshotEntry{EventID: 1, Date: occB.Date,
		Roster: []model.PresenceRecord{member(1, occB, 0, false)}})
	rec, snaps, _ := newTestReconciler(now, tr, fetch, nil)

	ctx := context.Background()
	rec.SetActive(ctx, occA)
	<-fetch.started
	rec.SetActive(ctx, occB) // cancels the in-flight fetch for occA
	<-fetch.started
	close(fetch.release) // both responses now arrive

	waitFor(t, "roster for the new occurrence", func() bool {
		roster, _ := rec.Records()
		return len(roster) == 1 && roster[0].PersonID == 1
	})
	// The late response for the old occurrence must leave no trace.
	if _, _, ok := snaps.Get(occA); ok {
		t.Fatal("cancelled fetch still populated the snapshot store")
	}
}

func TestRefreshPushReplacesRosterAndSnapshot(t *testing.T) {
	now := newFakeNow()
	occ := model.OccurrenceKey{EventID: 1, Date: "2026-03-01"}
	tr := newFakeTransport()
	fetch := newFakeFetcher()
	fetch.set(occ, model.SnapshotEntry{EventID: 1, Date: occ.Date,
		Roster: []model.PresenceRecord{member(1, occ, 0, false)}})
	rec, snaps, _ := newTestReconciler(now, tr, fetch, nil)
	activate(t, rec, occ, 1)

	replacement := member(1, occ, 0, true)
	replacement.EditedAt = now.Millis()
	rec.ApplyPush(model.Push{Kind: model.PushRefresh, EventID: 1, Date: occ.Date,
		Roster: []model.PresenceRecord{replacement, member(2, occ, 0, false)}})

	roster, _ := rec.Records()
	if len(roster) != 2 {
		t.Fatalf("refresh push left %d roster entries, want 2", len(roster))
	}
	entry, _, ok := snaps.Get(occ)
	if !ok || len(entry.Roster) != 2 {
		t.Fatal("refresh push did not update the snapshot store")
	}
}
