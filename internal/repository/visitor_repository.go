package repository

import (
	"context"
	"database/sql"

	"github.com/rollcall-app/rollcall/internal/model"
)

// VisitorRepo provides access to one-off visitors, recorded per
// occurrence rather than on the standing roster.
type VisitorRepo struct {
	db *sql.DB
}

// NewVisitorRepo returns a new VisitorRepo bound to the given database.
func NewVisitorRepo(db *sql.DB) *VisitorRepo { return &VisitorRepo{db: db} }

// ListByOccurrence returns the visitors recorded for one occurrence.
func (r *VisitorRepo) ListByOccurrence(ctx context.Context, eventID uint64, date string) ([]model.Visitor, error) {
	const q = `SELECT id, event_id, date, first_name, last_name, created_at
		FROM visitors WHERE event_id = ? AND date = ? ORDER BY last_name, first_name`
	rows, err := r.db.QueryContext(ctx, q, eventID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Visitor
	for rows.Next() {
		var v model.Visitor
		if err := rows.Scan(&v.ID, &v.EventID, &v.Date, &v.FirstName, &v.LastName, &v.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Create records a visitor for one occurrence and populates the generated
// ID.
func (r *VisitorRepo) Create(ctx context.Context, v *model.Visitor) error {
	const q = `INSERT INTO visitors (event_id, date, first_name, last_name) VALUES (?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q, v.EventID, v.Date, v.FirstName, v.LastName)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	v.ID = uint64(id)
	return nil
}
