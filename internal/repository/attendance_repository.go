package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/rollcall-app/rollcall/internal/model"
)

// AttendanceRepo owns the authoritative present/absent map.  Rows are
// keyed by (event, date, person, visitor) and carry edited_at in epoch
// milliseconds; every write runs the last-writer-wins check against the
// stored timestamp inside a transaction.  Batches replayed after a
// reconnect are deduplicated through the change_log table, so a change
// that reaches the server twice (channel send timed out, fallback
// retried) is applied once.
type AttendanceRepo struct {
	db *sql.DB
}

// NewAttendanceRepo returns a new AttendanceRepo bound to the given
// database.
func NewAttendanceRepo(db *sql.DB) *AttendanceRepo { return &AttendanceRepo{db: db} }

// DB exposes the underlying handle.
func (r *AttendanceRepo) DB() *sql.DB { return r.db }

// Occurrence assembles the full presence state for one occurrence: every
// roster member and every recorded visitor, joined with their attendance
// rows.  People without an attendance row default to absent with a zero
// edited_at, which any real edit supersedes.
func (r *AttendanceRepo) Occurrence(ctx context.Context, eventID uint64, date string) (roster, visitors []model.PresenceRecord, err error) {
	const rosterQ = `SELECT p.id, p.first_name, p.last_name, p.family_id,
			COALESCE(a.present, 0), COALESCE(a.edited_at, 0)
		FROM people p
		LEFT JOIN attendance a
			ON a.event_id = p.event_id AND a.date = ? AND a.person_id = p.id AND a.visitor = 0
		WHERE p.event_id = ?
		ORDER BY p.last_name, p.first_name`
	roster, err = r.queryPresence(ctx, rosterQ, eventID, date, false)
	if err != nil {
		return nil, nil, err
	}

	const visitorQ = `SELECT v.id, v.first_name, v.last_name, 0,
			COALESCE(a.present, 0), COALESCE(a.edited_at, 0)
		FROM visitors v
		LEFT JOIN attendance a
			ON a.event_id = v.event_id AND a.date = v.date AND a.person_id = v.id AND a.visitor = 1
		WHERE v.event_id = ? AND v.date = ?
		ORDER BY v.last_name, v.first_name`
	visitors, err = r.queryPresence(ctx, visitorQ, eventID, date, true)
	if err != nil {
		return nil, nil, err
	}
	return roster, visitors, nil
}

func (r *AttendanceRepo) queryPresence(ctx context.Context, q string, eventID uint64, date string, visitor bool) ([]model.PresenceRecord, error) {
	args := []any{date, eventID}
	if visitor {
		args = []any{eventID, date}
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.PresenceRecord
	for rows.Next() {
		rec := model.PresenceRecord{EventID: eventID, Date: date, Visitor: visitor}
		if err := rows.Scan(&rec.PersonID, &rec.FirstName, &rec.LastName, &rec.FamilyID, &rec.Present, &rec.EditedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Apply persists a batch of change submissions for one occurrence inside
// a single transaction.  Per record: a change ID seen before is skipped
// as an already-applied replay; a stored edited_at newer than the
// submission marks the person conflicted; everything else is upserted.
// The batch as a whole succeeds unless the transaction itself fails.
func (r *AttendanceRepo) Apply(ctx context.Context, eventID uint64, date string, subs []model.ChangeSubmission) (model.SubmitResult, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.SubmitResult{}, err
	}
	defer func() { _ = tx.Rollback() }()

	result := model.SubmitResult{Accepted: true}
	for _, sub := range subs {
		seen, err := r.changeSeen(ctx, tx, sub.ChangeID)
		if err != nil {
			return model.SubmitResult{}, err
		}
		if seen {
			continue // replay of an already-applied change
		}
		err = r.applyOne(ctx, tx, eventID, date, sub)
		if errors.Is(err, ErrConflict) {
			result.Conflicts = append(result.Conflicts, sub.PersonID)
			continue
		}
		if err != nil {
			return model.SubmitResult{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return model.SubmitResult{}, err
	}
	return result, nil
}

func (r *AttendanceRepo) changeSeen(ctx context.Context, tx *sql.Tx, changeID string) (bool, error) {
	if changeID == "" {
		return false, nil
	}
	const q = `SELECT 1 FROM change_log WHERE change_id = ?`
	var one int
	err := tx.QueryRowContext(ctx, q, changeID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (r *AttendanceRepo) applyOne(ctx context.Context, tx *sql.Tx, eventID uint64, date string, sub model.ChangeSubmission) error {
	const sel = `SELECT edited_at FROM attendance
		WHERE event_id = ? AND date = ? AND person_id = ? AND visitor = ? FOR UPDATE`
	var stored int64
	err := tx.QueryRowContext(ctx, sel, eventID, date, sub.PersonID, sub.Visitor).Scan(&stored)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if err == nil && stored > sub.EditedAt {
		return ErrConflict // another writer got here first
	}

	const upsert = `INSERT INTO attendance (event_id, date, person_id, visitor, present, edited_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE present = VALUES(present), edited_at = VALUES(edited_at)`
	if _, err := tx.ExecContext(ctx, upsert, eventID, date, sub.PersonID, sub.Visitor, sub.Present, sub.EditedAt); err != nil {
		return err
	}
	if sub.ChangeID != "" {
		const logQ = `INSERT IGNORE INTO change_log (change_id) VALUES (?)`
		if _, err := tx.ExecContext(ctx, logQ, sub.ChangeID); err != nil {
			return err
		}
	}
	return nil
}
