package model

import "fmt"

// OccurrenceKey identifies one concrete calendar-date instance of a
// recurring event.  Date is a calendar day in ISO form ("2006-01-02"),
// never a timestamp: two devices in different timezones that agree on
// the day must agree on the key.
type OccurrenceKey struct {
	EventID uint64 // events.id
	Date    string // occurrence day, ISO "2006-01-02"
}

// String renders the key for use in storage namespaces and log lines.
func (k OccurrenceKey) String() string {
	return fmt.Sprintf("%d/%s", k.EventID, k.Date)
}

// RecordKey identifies one person's attendance for one occurrence.  It is
// a comparable struct so it can be used directly as a map key; string
// concatenation is used only at the durable-storage boundary.
type RecordKey struct {
	PersonID uint64
	EventID  uint64
	Date     string
}

// Occurrence projects the record key down to its occurrence component.
func (k RecordKey) Occurrence() OccurrenceKey {
	return OccurrenceKey{EventID: k.EventID, Date: k.Date}
}

// String renders the key for storage and logging.
func (k RecordKey) String() string {
	return fmt.Sprintf("%d/%s/%d", k.EventID, k.Date, k.PersonID)
}
