// Package queue defines message payloads exchanged over the message
// broker and the background consumer that turns them into websocket
// pushes.
package queue

import "github.com/rollcall-app/rollcall/internal/model"

// AttendanceChangedEvent is published when a submission batch is accepted.
// It carries the applied records so consumers can broadcast an incremental
// push without querying the primary database.
type AttendanceChangedEvent struct {
	EventID   uint64                  `json:"event_id"`
	Date      string                  `json:"date"`
	Records   []model.PresenceRecord  `json:"records"`
	ChangedAt string                  `json:"changed_at"` // RFC3339, informational
}

// Push converts the event into the incremental push shape clients merge.
func (e AttendanceChangedEvent) Push() model.Push {
	return model.Push{
		Kind:    model.PushIncremental,
		EventID: e.EventID,
		Date:    e.Date,
		Records: e.Records,
	}
}
