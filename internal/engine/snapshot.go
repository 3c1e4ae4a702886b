// Package engine implements the attendance state synchronization core:
// the local snapshot store, the offline write queue, the per-person write
// serializer, the transport selector and the reconciler that merges their
// outputs into the presence map the UI reads.  Everything here is
// constructor-injected (storage, clock, transports) so tests substitute
// fakes instead of relying on ambient global state.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/rollcall-app/rollcall/internal/model"
	"github.com/rollcall-app/rollcall/internal/storage"
)

// DefaultSnapshotStaleAfter is how old a cached roster may be before it is
// flagged stale.  A stale entry is still returned for instant paint, but
// the caller must trigger a refresh.
const DefaultSnapshotStaleAfter = 5 * time.Minute

const snapshotPrefix = "snapshot/"

// SnapshotStore caches the last known roster per occurrence.  Entries are
// always overwritten whole, never merged: the next successful fetch for a
// key supersedes the previous entry.  Every put is persisted so a process
// restart repaints from storage before the first network round trip.
type SnapshotStore struct {
	mu      sync.Mutex
	entries map[model.OccurrenceKey]model.SnapshotEntry

	store      storage.Store
	nowMillis  func() int64
	staleAfter time.Duration
}

// NewSnapshotStore builds a store over the given durable backend.  A zero
// staleAfter selects the default threshold.
func NewSnapshotStore(store storage.Store, nowMillis func() int64, staleAfter time.Duration) *SnapshotStore {
	if staleAfter <= 0 {
		staleAfter = DefaultSnapshotStaleAfter
	}
	return &SnapshotStore{
		entries:    make(map[model.OccurrenceKey]model.SnapshotEntry),
		store:      store,
		nowMillis:  nowMillis,
		staleAfter: staleAfter,
	}
}

// Load restores every persisted snapshot into memory.  Called once at
// startup; corrupt entries are dropped and logged rather than failing the
// session.
func (s *SnapshotStore) Load(ctx context.Context) {
	items, err := s.store.List(ctx, snapshotPrefix)
	if err != nil {
		log.Printf("snapshot: load from storage failed: %v", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, raw := range items {
		var entry model.SnapshotEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			log.Printf("snapshot: dropping corrupt entry %q: %v", key, err)
			continue
		}
		s.entries[entry.Key()] = entry
	}
}

// Get returns the cached entry for the occurrence, whether it is stale,
// and whether it exists at all.  Stale entries are returned on purpose:
// the caller paints them immediately and refreshes in the background.
func (s *SnapshotStore) Get(key model.OccurrenceKey) (entry model.SnapshotEntry, stale bool, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok = s.entries[key]
	if !ok {
		return model.SnapshotEntry{}, false, false
	}
	stale = s.age(entry) > s.staleAfter
	return entry, stale, true
}

// Age returns how old the cached entry for key is, or false when absent.
func (s *SnapshotStore) Age(key model.OccurrenceKey) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return 0, false
	}
	return s.age(entry), true
}

func (s *SnapshotStore) age(entry model.SnapshotEntry) time.Duration {
	return time.Duration(s.nowMillis()-entry.CapturedAt) * time.Millisecond
}

// Put replaces the snapshot for the occurrence with a fresh one and
// persists it.  A persistence failure is logged and otherwise ignored:
// the in-memory entry stays authoritative for this session.
func (s *SnapshotStore) Put(key model.OccurrenceKey, roster, visitors []model.PresenceRecord) {
	entry := model.SnapshotEntry{
		EventID:    key.EventID,
		Date:       key.Date,
		Roster:     roster,
		Visitors:   visitors,
		CapturedAt: s.nowMillis(),
	}
	s.mu.Lock()
	s.entries[key] = entry
	s.mu.Unlock()

	raw, err := json.Marshal(entry)
	if err != nil {
		log.Printf("snapshot: marshal %s failed: %v", key, err)
		return
	}
	if err := s.store.Put(context.Background(), snapshotStorageKey(key), raw); err != nil {
		log.Printf("snapshot: persist %s failed: %v", key, err)
	}
}

func snapshotStorageKey(key model.OccurrenceKey) string {
	return fmt.Sprintf("%s%d/%s", snapshotPrefix, key.EventID, key.Date)
}
