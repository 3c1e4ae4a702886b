package model

import "time"

// Event is a recurring gathering whose attendance is tracked per
// occurrence.  Recurrence computation itself is out of scope; the server
// only needs the identity and display fields.
//
// Fields:
//  ID        – primary key identifier.
//  Title     – display name of the event.
//  CreatedAt – creation timestamp.
type Event struct {
	ID        uint64    // events.id
	Title     string    // events.title
	CreatedAt time.Time // events.created_at
}

// Person is a roster member of an event.  People with the same FamilyID
// are grouped together in the roster view and can be toggled as a unit.
//
// Fields:
//  ID        – primary key identifier.
//  EventID   – event whose roster the person belongs to.
//  FirstName – given name.
//  LastName  – family name.
//  FamilyID  – grouping identity; zero means no family grouping.
//  CreatedAt – creation timestamp.
type Person struct {
	ID        uint64    // people.id
	EventID   uint64    // people.event_id
	FirstName string    // people.first_name
	LastName  string    // people.last_name
	FamilyID  uint64    // people.family_id
	CreatedAt time.Time // people.created_at
}

// Visitor is a one-off attendee recorded for a single occurrence rather
// than the standing roster.
//
// Fields:
//  ID        – primary key identifier.
//  EventID   – event of the occurrence.
//  Date      – occurrence day, ISO "2006-01-02".
//  FirstName – given name.
//  LastName  – family name.
//  CreatedAt – creation timestamp.
type Visitor struct {
	ID        uint64    // visitors.id
	EventID   uint64    // visitors.event_id
	Date      string    // visitors.date
	FirstName string    // visitors.first_name
	LastName  string    // visitors.last_name
	CreatedAt time.Time // visitors.created_at
}
