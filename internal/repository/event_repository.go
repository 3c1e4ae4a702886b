package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/rollcall-app/rollcall/internal/model"
)

// EventRepo provides read access to events.  Event creation and
// recurrence computation live outside this service; the attendance server
// only needs to resolve identities and titles.
type EventRepo struct {
	db *sql.DB
}

// NewEventRepo returns a new EventRepo bound to the given database.
func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db} }

// DB exposes the underlying handle for transactional work in handlers.
func (r *EventRepo) DB() *sql.DB { return r.db }

// GetByID fetches one event or ErrEventNotFound.
func (r *EventRepo) GetByID(ctx context.Context, id uint64) (*model.Event, error) {
	const q = `SELECT id, title, created_at FROM events WHERE id = ?`
	var ev model.Event
	err := r.db.QueryRowContext(ctx, q, id).Scan(&ev.ID, &ev.Title, &ev.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// List returns all events ordered by title.
func (r *EventRepo) List(ctx context.Context) ([]model.Event, error) {
	const q = `SELECT id, title, created_at FROM events ORDER BY title`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Event
	for rows.Next() {
		var ev model.Event
		if err := rows.Scan(&ev.ID, &ev.Title, &ev.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
