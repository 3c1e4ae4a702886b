package engine

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rollcall-app/rollcall/internal/clock"
	"github.com/rollcall-app/rollcall/internal/model"
)

// DefaultGraceWindow is how long the current user's own edit takes
// precedence over incoming authoritative data for the same key.  Pushes
// for other people's edits appear in near real time, but must not
// overwrite a just-made local edit while its round trip is outstanding.
const DefaultGraceWindow = 30 * time.Second

// KeyState tracks where one record key sits in its edit lifecycle.
type KeyState int

const (
	// Idle means the value is fully settled.
	Idle KeyState = iota
	// LocalPending means an optimistic edit awaits acknowledgment.
	LocalPending
	// Conflicted means an authoritative push arrived for a key with a
	// still-recent local edit.
	Conflicted
)

// NoticeKind classifies transient user-facing notices.
type NoticeKind string

const (
	// NoticeSubmitFailed reports a reverted optimistic edit.
	NoticeSubmitFailed NoticeKind = "submit_failed"
	// NoticeUpdatedElsewhere reports that another writer won the record.
	NoticeUpdatedElsewhere NoticeKind = "updated_elsewhere"
)

// Notice is a transient, auto-dismissing user-facing message.  Notices
// never block further interaction.
type Notice struct {
	Kind     NoticeKind
	PersonID uint64
	Message  string
}

// Transport is the write-side contract the reconciler needs from the
// transport selector.
type Transport interface {
	Send(ctx context.Context, occ model.OccurrenceKey, changes []model.PendingChange) (model.SubmitResult, error)
	Status() model.ConnectionState
}

// Fetcher retrieves authoritative rosters; in production this is the
// selector's request/response API.
type Fetcher interface {
	FetchRoster(ctx context.Context, occ model.OccurrenceKey) (model.SnapshotEntry, error)
}

// ReconcilerConfig tunes the reconciler.
type ReconcilerConfig struct {
	// Grace is the local-edit precedence window; zero selects the default.
	Grace time.Duration
	// OnNotice receives transient user-facing notices.  Optional.
	OnNotice func(Notice)
	// OnChange is invoked whenever the displayed presence map may have
	// changed, so the UI can repaint.  Optional.
	OnChange func()
}

// Reconciler owns the merged presence map the UI reads.  It folds four
// inputs into one value per record key: the cached snapshot, the offline
// write queue, the in-memory optimistic edit map and inbound
// authoritative pushes.  Conflicts between copies of the same key are
// resolved by comparing EditedAt, never arrival order, with a grace
// window during which the user's own recent edit always wins locally.
type Reconciler struct {
	mu sync.Mutex

	active     model.OccurrenceKey
	generation uint64 // bumped on occurrence switch; stale fetches are discarded

	roster   []model.PresenceRecord
	visitors []model.PresenceRecord

	optimistic map[model.RecordKey]model.PendingChange
	states     map[model.RecordKey]KeyState

	snapshots  *SnapshotStore
	outbox     *Outbox
	serializer *Serializer
	transport  Transport
	fetch      Fetcher
	clk        *clock.Clock

	grace    time.Duration
	onNotice func(Notice)
	onChange func()

	replayMu sync.Mutex // one outbox replay at a time
}

// NewReconciler wires the reconciler over its collaborators.  The
// per-person serializer is created here: every individual submission goes
// through it so rapid toggles for one person can never reorder.
func NewReconciler(snapshots *SnapshotStore, outbox *Outbox, transport Transport, fetch Fetcher, clk *clock.Clock, cfg ReconcilerConfig) *Reconciler {
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGraceWindow
	}
	r := &Reconciler{
		optimistic: make(map[model.RecordKey]model.PendingChange),
		states:     make(map[model.RecordKey]KeyState),
		snapshots:  snapshots,
		outbox:     outbox,
		transport:  transport,
		fetch:      fetch,
		clk:        clk,
		grace:      cfg.Grace,
		onNotice:   cfg.OnNotice,
		onChange:   cfg.OnChange,
	}
	r.serializer = NewSerializer(func(ctx context.Context, change model.PendingChange) (model.SubmitResult, error) {
		return transport.Send(ctx, change.Key().Occurrence(), []model.PendingChange{change})
	}, clk.Now, 0)
	return r
}

// SetActive switches the engine to a new occurrence.  The cached snapshot
// paints immediately (stale or not); a background fetch refreshes it.  Any
// in-flight fetch for the previous occurrence is cancelled by generation:
// its late response is discarded, it is no longer relevant state.
func (r *Reconciler) SetActive(ctx context.Context, occ model.OccurrenceKey) {
	r.mu.Lock()
	r.active = occ
	r.generation++
	gen := r.generation
	entry, _, ok := r.snapshots.Get(occ)
	if ok {
		r.roster = cloneRecords(entry.Roster)
		r.visitors = cloneRecords(entry.Visitors)
	} else {
		r.roster = nil
		r.visitors = nil
	}
	r.mu.Unlock()
	r.notifyChange()
	go r.refresh(ctx, occ, gen)
}

// Active returns the occurrence currently displayed.
func (r *Reconciler) Active() model.OccurrenceKey {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Refresh re-fetches the active occurrence in the background.
func (r *Reconciler) Refresh(ctx context.Context) {
	r.mu.Lock()
	occ, gen := r.active, r.generation
	r.mu.Unlock()
	go r.refresh(ctx, occ, gen)
}

// refresh performs one authoritative fetch and applies it unless the
// active occurrence changed while the fetch was in flight.
func (r *Reconciler) refresh(ctx context.Context, occ model.OccurrenceKey, gen uint64) {
	entry, err := r.fetch.FetchRoster(ctx, occ)
	if err != nil {
		log.Printf("reconcile: roster fetch for %s failed: %v", occ, err)
		return
	}
	r.mu.Lock()
	if gen != r.generation {
		r.mu.Unlock()
		return // occurrence switched mid-flight, response no longer relevant
	}
	r.roster = cloneRecords(entry.Roster)
	r.visitors = cloneRecords(entry.Visitors)
	r.mu.Unlock()
	r.snapshots.Put(occ, entry.Roster, entry.Visitors)
	r.notifyChange()
}

// Records returns the displayed roster and visitor lists with the merge
// algorithm applied per key: a pending change within the grace window
// wins, otherwise the newest authoritative value, otherwise the snapshot
// paint the slices already hold.
func (r *Reconciler) Records() (roster, visitors []model.PresenceRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.displayAll(r.roster), r.displayAll(r.visitors)
}

// Value returns the displayed present value for one person on the active
// occurrence.
func (r *Reconciler) Value(personID uint64) (bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.findLocked(personID)
	if !ok {
		return false, false
	}
	return r.displayLocked(rec).Present, true
}

// State returns the edit-lifecycle state for one person's record.
func (r *Reconciler) State(personID uint64) KeyState {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := model.RecordKey{PersonID: personID, EventID: r.active.EventID, Date: r.active.Date}
	return r.states[key]
}

// ConnectionState exposes transport health to the UI.
func (r *Reconciler) ConnectionState() model.ConnectionState {
	return r.transport.Status()
}

// Toggle flips one person's displayed value and submits the edit.
func (r *Reconciler) Toggle(ctx context.Context, personID uint64) {
	current, ok := r.Value(personID)
	if !ok {
		return
	}
	r.SetPresent(ctx, personID, !current)
}

// SetPresent records an optimistic edit and routes it for persistence.
// While offline the change goes straight to the durable queue and is
// never surfaced as an error; otherwise it is submitted through the
// per-person serializer and the outcome is handled asynchronously.
func (r *Reconciler) SetPresent(ctx context.Context, personID uint64, present bool) {
	r.mu.Lock()
	rec, ok := r.findLocked(personID)
	if !ok {
		r.mu.Unlock()
		return
	}
	now := r.clk.Now()
	key := rec.Key()
	change := model.PendingChange{
		ChangeID: uuid.NewString(),
		PersonID: personID,
		EventID:  key.EventID,
		Date:     key.Date,
		Visitor:  rec.Visitor,
		Present:  present,
		EditedAt: now,
		QueuedAt: now,
	}
	prev, hadPrev := r.optimistic[key]
	r.optimistic[key] = change
	r.states[key] = LocalPending
	offline := r.transport.Status().Offline()
	r.mu.Unlock()
	r.notifyChange()

	if offline {
		r.outbox.Enqueue(change)
		return
	}
	outcome := r.serializer.Submit(ctx, change)
	go func() {
		r.handleOutcome(ctx, <-outcome, prev, hadPrev)
	}()
}

// handleOutcome settles one submission: clear on ack, restore on
// debounce, queue on unavailability, revert and notify on transient
// failure, discard and re-fetch on conflict.
func (r *Reconciler) handleOutcome(ctx context.Context, out Outcome, prev model.PendingChange, hadPrev bool) {
	key := out.Change.Key()
	switch {
	case errors.Is(out.Err, ErrDebounced):
		// Accidental double-invocation: undo the optimistic overwrite and
		// let the in-flight submission stand.
		r.mu.Lock()
		if cur, ok := r.optimistic[key]; ok && cur.ChangeID == out.Change.ChangeID {
			if hadPrev {
				r.optimistic[key] = prev
			} else {
				delete(r.optimistic, key)
				r.states[key] = Idle
			}
		}
		r.mu.Unlock()
		r.notifyChange()

	case errors.Is(out.Err, ErrUnavailable):
		// Offline is not an error: the change waits in the durable queue.
		r.outbox.Enqueue(out.Change)

	case out.Err != nil:
		// Transient failure: revert the optimistic value, tell the user,
		// leave every other pending change untouched.
		r.mu.Lock()
		if cur, ok := r.optimistic[key]; ok && cur.ChangeID == out.Change.ChangeID {
			delete(r.optimistic, key)
			r.states[key] = Idle
		}
		r.mu.Unlock()
		r.notify(Notice{Kind: NoticeSubmitFailed, PersonID: out.Change.PersonID, Message: "could not save attendance change"})
		r.notifyChange()

	case out.Result.Conflicted(out.Change.PersonID):
		r.resolveConflict(ctx, out.Change)

	default:
		// Acknowledged: the optimistic value is now authoritative.
		r.mu.Lock()
		if cur, ok := r.optimistic[key]; ok && cur.ChangeID == out.Change.ChangeID {
			delete(r.optimistic, key)
		}
		r.states[key] = Idle
		r.adoptLocked(model.PresenceRecord{
			PersonID: out.Change.PersonID,
			EventID:  out.Change.EventID,
			Date:     out.Change.Date,
			Visitor:  out.Change.Visitor,
			Present:  out.Change.Present,
			EditedAt: out.Change.EditedAt,
		})
		r.mu.Unlock()
		r.outbox.Ack(key)
		r.notifyChange()
	}
}

// resolveConflict discards the local optimistic value for a record another
// writer changed first, surfaces a neutral notice and re-fetches the
// occurrence.
func (r *Reconciler) resolveConflict(ctx context.Context, change model.PendingChange) {
	key := change.Key()
	r.mu.Lock()
	delete(r.optimistic, key)
	r.states[key] = Idle
	r.mu.Unlock()
	r.outbox.Ack(key)
	r.notify(Notice{Kind: NoticeUpdatedElsewhere, PersonID: change.PersonID, Message: "updated by someone else"})
	r.Refresh(ctx)
}

// ToggleFamily toggles a whole family at once.  The target value follows
// majority rule: when most members are present everyone is set absent,
// otherwise everyone is set present.  Each member goes through the normal
// single-record path so a partial failure affects only the members whose
// own submission failed.
func (r *Reconciler) ToggleFamily(ctx context.Context, familyID uint64) {
	r.mu.Lock()
	var members []uint64
	presentCount := 0
	for _, rec := range r.roster {
		if rec.FamilyID != familyID || familyID == 0 {
			continue
		}
		members = append(members, rec.PersonID)
		if r.displayLocked(rec).Present {
			presentCount++
		}
	}
	r.mu.Unlock()
	if len(members) == 0 {
		return
	}
	target := presentCount*2 <= len(members)
	for _, personID := range members {
		r.SetPresent(ctx, personID, target)
	}
}

// ApplyPush merges one authoritative push.  The variant is tagged, so the
// merge is an exhaustive switch: a refresh replaces the roster whole, an
// incremental update is validated per record against EditedAt and the
// grace window.
func (r *Reconciler) ApplyPush(push model.Push) {
	switch push.Kind {
	case model.PushRefresh:
		r.snapshots.Put(push.Key(), push.Roster, push.Visitors)
		r.mu.Lock()
		if push.Key() == r.active {
			r.roster = cloneRecords(push.Roster)
			r.visitors = cloneRecords(push.Visitors)
		}
		r.mu.Unlock()
		r.notifyChange()

	case model.PushIncremental:
		r.mu.Lock()
		if push.Key() != r.active {
			r.mu.Unlock()
			return
		}
		for _, rec := range push.Records {
			key := rec.Key()
			if pending, ok := r.pendingLocked(key); ok && r.withinGraceLocked(pending) {
				// The user's own recent edit still wins locally; remember
				// the disagreement so the grace expiry settles it by
				// timestamp.
				r.states[key] = Conflicted
				r.adoptLocked(rec)
				continue
			}
			r.adoptLocked(rec)
			r.states[key] = Idle
		}
		r.mu.Unlock()
		r.notifyChange()
	}
}

// HandleReconnect runs the reconnect protocol: re-sync the clock, replay
// the offline queue, then fetch a fresh snapshot for the active
// occurrence to resolve anything missed while disconnected.
func (r *Reconciler) HandleReconnect(ctx context.Context) {
	r.clk.Sync(ctx)
	r.ReplayOutbox(ctx)
	r.Refresh(ctx)
}

// ReplayOutbox submits every queued change exactly once per replay pass,
// batched by occurrence.  Entries leave the queue only on acknowledgment,
// so a failed batch survives for the next reconnect; expired entries are
// dropped before submission.
func (r *Reconciler) ReplayOutbox(ctx context.Context) {
	r.replayMu.Lock()
	defer r.replayMu.Unlock()

	r.outbox.Expire()
	for occ, batch := range r.outbox.Drain() {
		result, err := r.transport.Send(ctx, occ, batch)
		if err != nil {
			log.Printf("reconcile: replay of %d change(s) for %s failed: %v", len(batch), occ, err)
			continue
		}
		for _, change := range batch {
			if result.Conflicted(change.PersonID) {
				r.resolveConflict(ctx, change)
				continue
			}
			key := change.Key()
			r.outbox.Ack(key)
			r.mu.Lock()
			if cur, ok := r.optimistic[key]; ok && cur.ChangeID == change.ChangeID {
				delete(r.optimistic, key)
			}
			r.states[key] = Idle
			r.adoptLocked(model.PresenceRecord{
				PersonID: change.PersonID,
				EventID:  change.EventID,
				Date:     change.Date,
				Visitor:  change.Visitor,
				Present:  change.Present,
				EditedAt: change.EditedAt,
			})
			r.mu.Unlock()
		}
	}
	r.notifyChange()
}

// findLocked locates the authoritative record for a person on the active
// occurrence, checking roster then visitors.
func (r *Reconciler) findLocked(personID uint64) (model.PresenceRecord, bool) {
	for _, rec := range r.roster {
		if rec.PersonID == personID {
			return rec, true
		}
	}
	for _, rec := range r.visitors {
		if rec.PersonID == personID {
			return rec, true
		}
	}
	return model.PresenceRecord{}, false
}

// adoptLocked installs an authoritative record if it is newer than what we
// hold.  Out-of-order delivery resolves correctly because the comparison
// is by EditedAt, not arrival.
func (r *Reconciler) adoptLocked(rec model.PresenceRecord) {
	list := &r.roster
	if rec.Visitor {
		list = &r.visitors
	}
	for i, cur := range *list {
		if cur.PersonID != rec.PersonID {
			continue
		}
		if rec.EditedAt >= cur.EditedAt {
			(*list)[i].Present = rec.Present
			(*list)[i].EditedAt = rec.EditedAt
		}
		return
	}
	// Unknown person (e.g. a visitor added on another device): adopt the
	// pushed record as-is.
	*list = append(*list, rec)
}

func (r *Reconciler) pendingLocked(key model.RecordKey) (model.PendingChange, bool) {
	if c, ok := r.optimistic[key]; ok {
		return c, true
	}
	return r.outbox.Get(key)
}

func (r *Reconciler) withinGraceLocked(change model.PendingChange) bool {
	return r.clk.Now()-change.QueuedAt < r.grace.Milliseconds()
}

// displayLocked applies the merge algorithm to one record.
func (r *Reconciler) displayLocked(rec model.PresenceRecord) model.PresenceRecord {
	key := rec.Key()
	if pending, ok := r.pendingLocked(key); ok && r.withinGraceLocked(pending) {
		rec.Present = pending.Present
		rec.EditedAt = pending.EditedAt
	}
	return rec
}

func (r *Reconciler) displayAll(records []model.PresenceRecord) []model.PresenceRecord {
	out := make([]model.PresenceRecord, len(records))
	for i, rec := range records {
		out[i] = r.displayLocked(rec)
	}
	return out
}

func (r *Reconciler) notify(n Notice) {
	if r.onNotice != nil {
		r.onNotice(n)
	}
}

func (r *Reconciler) notifyChange() {
	if r.onChange != nil {
		r.onChange()
	}
}

func cloneRecords(records []model.PresenceRecord) []model.PresenceRecord {
	out := make([]model.PresenceRecord, len(records))
	copy(out, records)
	return out
}
