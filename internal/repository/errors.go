// Package repository defines error types that are reused across multiple
// repositories.  These sentinel values allow higher layers such as
// handlers to distinguish between different failure scenarios without
// string matching on driver errors.
package repository

import "errors"

// ErrEventNotFound is returned when the referenced event does not exist.
// Handlers should translate this into an HTTP 404 response.
var ErrEventNotFound = errors.New("event not found")

// ErrPersonNotFound is returned when the referenced person is neither a
// roster member nor a recorded visitor.  Handlers should translate this
// into an HTTP 404 response.
var ErrPersonNotFound = errors.New("person not found")

// ErrConflict is returned when a submitted change loses the last-writer-
// wins check: the stored record carries a newer edited_at than the
// submission.  The submit handler reports the affected people back to the
// client rather than failing the whole batch.
var ErrConflict = errors.New("conflict")
