package model

// PushKind discriminates the two shapes an authoritative push can take.
// The payload is a tagged variant rather than a loosely typed blob so the
// reconciler's merge logic is an exhaustive switch.
type PushKind string

const (
	// PushIncremental carries individual changed records.
	PushIncremental PushKind = "incremental"
	// PushRefresh carries a full roster replacement.
	PushRefresh PushKind = "refresh"
)

// Push is a server-originated update for one occurrence, delivered over the
// real-time channel or synthesized from a fetch response.  Exactly one of
// Records (incremental) or Roster/Visitors (refresh) is populated,
// according to Kind.
type Push struct {
	Kind     PushKind         `json:"kind"`
	EventID  uint64           `json:"event_id"`
	Date     string           `json:"date"`
	Records  []PresenceRecord `json:"records,omitempty"`
	Roster   []PresenceRecord `json:"roster,omitempty"`
	Visitors []PresenceRecord `json:"visitors,omitempty"`
}

// Key returns the occurrence the push applies to.
func (p Push) Key() OccurrenceKey {
	return OccurrenceKey{EventID: p.EventID, Date: p.Date}
}

// ChangeSubmission is the wire form of one record inside a batch submit.
// EditedAt lets the server run its own last-writer-wins check; ChangeID
// lets it drop replays of a batch it already accepted.
type ChangeSubmission struct {
	ChangeID string `json:"change_id"`
	PersonID uint64 `json:"person_id"`
	Visitor  bool   `json:"visitor,omitempty"`
	Present  bool   `json:"present"`
	EditedAt int64  `json:"edited_at"`
}

// SubmitResult is the server's answer to a batch submit.  A non-empty
// Conflicts list signals that another writer changed the named records
// first; the caller must re-fetch rather than trust its optimistic values.
type SubmitResult struct {
	Accepted  bool     `json:"accepted"`
	Conflicts []uint64 `json:"conflicts,omitempty"` // person IDs
}

// Conflicted reports whether the given person lost a write race.
func (r SubmitResult) Conflicted(personID uint64) bool {
	for _, id := range r.Conflicts {
		if id == personID {
			return true
		}
	}
	return false
}
