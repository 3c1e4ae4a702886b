package repository

import (
	"context"
	"database/sql"

	"github.com/rollcall-app/rollcall/internal/model"
)

// PersonRepo provides access to the standing roster of an event.  People
// with the same family_id are grouped in the roster view and can be
// toggled as a unit on the client.
type PersonRepo struct {
	db *sql.DB
}

// NewPersonRepo returns a new PersonRepo bound to the given database.
func NewPersonRepo(db *sql.DB) *PersonRepo { return &PersonRepo{db: db} }

// ListByEvent returns the roster members of an event ordered by last then
// first name, so families come out adjacent.
func (r *PersonRepo) ListByEvent(ctx context.Context, eventID uint64) ([]model.Person, error) {
	const q = `SELECT id, event_id, first_name, last_name, family_id, created_at
		FROM people WHERE event_id = ? ORDER BY last_name, first_name`
	rows, err := r.db.QueryContext(ctx, q, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Person
	for rows.Next() {
		var p model.Person
		if err := rows.Scan(&p.ID, &p.EventID, &p.FirstName, &p.LastName, &p.FamilyID, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Create inserts a roster member and populates the generated ID.
func (r *PersonRepo) Create(ctx context.Context, p *model.Person) error {
	const q = `INSERT INTO people (event_id, first_name, last_name, family_id) VALUES (?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q, p.EventID, p.FirstName, p.LastName, p.FamilyID)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	p.ID = uint64(id)
	return nil
}
