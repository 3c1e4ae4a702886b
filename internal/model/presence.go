package model

// PresenceRecord is one person's attendance state for one occurrence of an
// event.  Copies of the same record may arrive from several sources (cached
// snapshot, optimistic edit, authoritative push) and must be reconciled by
// comparing EditedAt, never by arrival order.
//
// Fields:
//  PersonID  – stable person identity across sessions.
//  EventID   – event the occurrence belongs to.
//  Date      – occurrence day, ISO "2006-01-02".
//  FirstName – given name, carried so a cached snapshot can repaint the
//              roster without a person lookup.
//  LastName  – family name.
//  FamilyID  – grouping identity; zero means the person is listed alone.
//  Visitor   – true for one-off visitors, false for roster members.
//  Present   – the only authoritative field.
//  EditedAt  – clock-adjusted epoch millis of the most recent known edit.
type PresenceRecord struct {
	PersonID  uint64 `json:"person_id"`
	EventID   uint64 `json:"event_id"`
	Date      string `json:"date"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	FamilyID  uint64 `json:"family_id,omitempty"`
	Visitor   bool   `json:"visitor,omitempty"`
	Present   bool   `json:"present"`
	EditedAt  int64  `json:"edited_at"`
}

// Key returns the composite identity of the record.
func (r PresenceRecord) Key() RecordKey {
	return RecordKey{PersonID: r.PersonID, EventID: r.EventID, Date: r.Date}
}

// PendingChange is an unacknowledged local edit.  At most one PendingChange
// exists per RecordKey at any time; a newer local edit for the same key
// overwrites rather than appends.  QueuedAt is the local submission time
// (clock-adjusted) and bounds how long the change may wait for replay
// before it is treated as abandoned intent.
type PendingChange struct {
	ChangeID string `json:"change_id"` // replay-idempotency token
	PersonID uint64 `json:"person_id"`
	EventID  uint64 `json:"event_id"`
	Date     string `json:"date"`
	Visitor  bool   `json:"visitor,omitempty"`
	Present  bool   `json:"present"`
	EditedAt int64  `json:"edited_at"`
	QueuedAt int64  `json:"queued_at"`
}

// Key returns the composite identity of the change.
func (p PendingChange) Key() RecordKey {
	return RecordKey{PersonID: p.PersonID, EventID: p.EventID, Date: p.Date}
}

// SnapshotEntry is the cached roster for one occurrence.  Entries are
// disposable: losing one costs a cache-warm round trip, never correctness.
// An entry past the staleness threshold may still be painted immediately
// but must not be treated as authoritative.
type SnapshotEntry struct {
	EventID    uint64           `json:"event_id"`
	Date       string           `json:"date"`
	Roster     []PresenceRecord `json:"roster"`
	Visitors   []PresenceRecord `json:"visitors"`
	CapturedAt int64            `json:"captured_at"` // epoch millis
}

// Key returns the occurrence the snapshot belongs to.
func (s SnapshotEntry) Key() OccurrenceKey {
	return OccurrenceKey{EventID: s.EventID, Date: s.Date}
}
