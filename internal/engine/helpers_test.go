package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rollcall-app/rollcall/internal/clock"
	"github.com/rollcall-app/rollcall/internal/model"
)

// fakeNow is an adjustable time source shared by a test's clock, stores
// and assertions.
type fakeNow struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeNow() *fakeNow {
	return &fakeNow{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (f *fakeNow) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeNow) Millis() int64 { return f.Now().UnixMilli() }

func (f *fakeNow) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func testClock(f *fakeNow) *clock.Clock {
	return clock.NewWithNow(func(context.Context) (int64, error) {
		return f.Millis(), nil
	}, f.Now)
}

// fakeTransport scripts Send results and records every batch it sees.
type fakeTransport struct {
	mu      sync.Mutex
	batches [][]model.PendingChange
	result  model.SubmitResult
	err     error
	status  model.ConnectionState
	block   chan struct{} // when set, Send waits here first
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		result: model.SubmitResult{Accepted: true},
		status: model.ConnectionState{ChannelConnected: true, Mode: model.ModeRealtime},
	}
}

func (f *fakeTransport) Send(_ context.Context, _ model.OccurrenceKey, changes []model.PendingChange) (model.SubmitResult, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]model.PendingChange, len(changes))
	copy(cp, changes)
	f.batches = append(f.batches, cp)
	return f.result, f.err
}

func (f *fakeTransport) Status() model.ConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeTransport) setStatus(s model.ConnectionState) {
	f.mu.Lock()
	f.status = s
	f.mu.Unlock()
}

func (f *fakeTransport) sent() [][]model.PendingChange {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]model.PendingChange, len(f.batches))
	copy(out, f.batches)
	return out
}

func (f *fakeTransport) sentChanges() []model.PendingChange {
	var out []model.PendingChange
	for _, b := range f.sent() {
		out = append(out, b...)
	}
	return out
}

// fakeFetcher returns scripted rosters and can hold each fetch until the
// test releases it.
type fakeFetcher struct {
	mu      sync.Mutex
	entries map[model.OccurrenceKey]model.SnapshotEntry
	err     error
	calls   int
	started chan model.OccurrenceKey
	release chan struct{} // when set, FetchRoster waits here
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{entries: make(map[model.OccurrenceKey]model.SnapshotEntry)}
}

func (f *fakeFetcher) FetchRoster(_ context.Context, occ model.OccurrenceKey) (model.SnapshotEntry, error) {
	if f.started != nil {
		f.started <- occ
	}
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return model.SnapshotEntry{}, f.err
	}
	return f.entries[occ], nil
}

func (f *fakeFetcher) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeFetcher) set(occ model.OccurrenceKey, entry model.SnapshotEntry) {
	f.mu.Lock()
	f.entries[occ] = entry
	f.mu.Unlock()
}

// waitFor polls cond until it holds or the test deadline expires.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func member(personID uint64, occ model.OccurrenceKey, familyID uint64, present bool) model.PresenceRecord {
	return model.PresenceRecord{
		PersonID: personID,
		EventID:  occ.EventID,
		Date:     occ.Date,
		FamilyID: familyID,
		Present:  present,
	}
}
