package repository // repository for room blackout days

import (
	"context"
	"database/sql"
	"time"

	"github.com/adiwibowo/stayreserve/internal/model"
)

// AvailabilityRepo reads a room's blackout days.  Rows are written by
// the host-facing catalog service; the engine only consults them when
// checking a reservation's date range.
type AvailabilityRepo struct {
	db *sql.DB
}

// NewAvailabilityRepo constructs an AvailabilityRepo with the given DB
// handle.
func NewAvailabilityRepo(db *sql.DB) *AvailabilityRepo {
	return &AvailabilityRepo{db: db}
}

// DaysTx lists the blackout dates of a room inside the half-open range
// [start, end), inside tx so the result is consistent with the room
// lock held by the caller.
func (r *AvailabilityRepo) DaysTx(ctx context.Context, tx *sql.Tx, roomID int64, start, end time.Time) ([]time.Time, error) {
	const q = `SELECT id, room_id, date, reason FROM room_non_availabilities
	           WHERE room_id = ? AND date >= ? AND date < ?
	           ORDER BY date`
	rows, err := tx.QueryContext(ctx, q, roomID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var days []time.Time
	for rows.Next() {
		var m model.NonAvailability
		if err := rows.Scan(&m.ID, &m.RoomID, &m.Date, &m.Reason); err != nil {
			return nil, err
		}
		days = append(days, m.Date)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return days, nil
}
