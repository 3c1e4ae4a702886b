package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/rollcall-app/rollcall/internal/model"
	"github.com/rollcall-app/rollcall/internal/storage"
)

// DefaultQueueMaxAge bounds how long an unacknowledged change may wait for
// replay.  A change that failed to sync for hours is more likely abandoned
// intent than a still-relevant edit; expiring it prevents an ever-growing
// backlog from being replayed at once against current state.
const DefaultQueueMaxAge = 6 * time.Hour

const pendingPrefix = "pending/"

// Outbox is the durable queue of not-yet-acknowledged presence changes.
// It is the single source of truth for unacknowledged edits and outlives a
// page reload.  At most one entry exists per record key: enqueueing a
// newer change for the same key replaces the older one (last edit wins
// locally).
//
// Persistence never throws to the caller.  When the backing store fails
// the in-memory state remains authoritative for the session and the
// failure is logged.
type Outbox struct {
	mu      sync.Mutex
	pending map[model.RecordKey]model.PendingChange

	store     storage.Store
	nowMillis func() int64
	maxAge    time.Duration
}

// NewOutbox builds an outbox over the given durable backend.  A zero
// maxAge selects the default expiry bound.
func NewOutbox(store storage.Store, nowMillis func() int64, maxAge time.Duration) *Outbox {
	if maxAge <= 0 {
		maxAge = DefaultQueueMaxAge
	}
	return &Outbox{
		pending:   make(map[model.RecordKey]model.PendingChange),
		store:     store,
		nowMillis: nowMillis,
		maxAge:    maxAge,
	}
}

// Load restores persisted entries and immediately expires stale ones.
// Called once at startup.
func (o *Outbox) Load(ctx context.Context) {
	items, err := o.store.List(ctx, pendingPrefix)
	if err != nil {
		log.Printf("outbox: load from storage failed: %v", err)
		return
	}
	o.mu.Lock()
	for key, raw := range items {
		var change model.PendingChange
		if err := json.Unmarshal(raw, &change); err != nil {
			log.Printf("outbox: dropping corrupt entry %q: %v", key, err)
			continue
		}
		o.pending[change.Key()] = change
	}
	o.mu.Unlock()
	o.Expire()
}

// Enqueue records a change, replacing any existing entry for the same
// key.  The replaced entry is gone for good — only the newest pending
// value per person survives.
func (o *Outbox) Enqueue(change model.PendingChange) {
	key := change.Key()
	o.mu.Lock()
	o.pending[key] = change
	o.mu.Unlock()
	o.persist(change)
}

// Get returns the pending change for key, if any.
func (o *Outbox) Get(key model.RecordKey) (model.PendingChange, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	c, ok := o.pending[key]
	return c, ok
}

// Len reports the number of pending entries.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

// Drain returns every pending change grouped by occurrence for batch
// submission, oldest first within each group.  Drain does not remove
// entries; removal happens on Ack so a failed replay leaves the queue
// intact.
func (o *Outbox) Drain() map[model.OccurrenceKey][]model.PendingChange {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[model.OccurrenceKey][]model.PendingChange)
	for key, change := range o.pending {
		occ := key.Occurrence()
		out[occ] = append(out[occ], change)
	}
	for _, batch := range out {
		sort.Slice(batch, func(i, j int) bool { return batch[i].QueuedAt < batch[j].QueuedAt })
	}
	return out
}

// Ack removes an entry after the server confirmed persistence.
func (o *Outbox) Ack(key model.RecordKey) {
	o.mu.Lock()
	_, ok := o.pending[key]
	delete(o.pending, key)
	o.mu.Unlock()
	if !ok {
		return
	}
	if err := o.store.Delete(context.Background(), pendingStorageKey(key)); err != nil {
		log.Printf("outbox: delete %s from storage failed: %v", key, err)
	}
}

// Expire drops entries whose QueuedAt exceeds the max age and returns how
// many were dropped.  Expired entries are abandoned intent, not failures:
// they are logged, never reported as errors.
func (o *Outbox) Expire() int {
	cutoff := o.nowMillis() - o.maxAge.Milliseconds()
	var dropped []model.RecordKey
	o.mu.Lock()
	for key, change := range o.pending {
		if change.QueuedAt < cutoff {
			delete(o.pending, key)
			dropped = append(dropped, key)
		}
	}
	o.mu.Unlock()
	for _, key := range dropped {
		if err := o.store.Delete(context.Background(), pendingStorageKey(key)); err != nil {
			log.Printf("outbox: delete expired %s from storage failed: %v", key, err)
		}
	}
	if len(dropped) > 0 {
		log.Printf("outbox: expired %d stale pending change(s)", len(dropped))
	}
	return len(dropped)
}

func (o *Outbox) persist(change model.PendingChange) {
	raw, err := json.Marshal(change)
	if err != nil {
		log.Printf("outbox: marshal %s failed: %v", change.Key(), err)
		return
	}
	if err := o.store.Put(context.Background(), pendingStorageKey(change.Key()), raw); err != nil {
		log.Printf("outbox: persist %s failed: %v", change.Key(), err)
	}
}

func pendingStorageKey(key model.RecordKey) string {
	return fmt.Sprintf("%s%d/%s/%d", pendingPrefix, key.EventID, key.Date, key.PersonID)
}
