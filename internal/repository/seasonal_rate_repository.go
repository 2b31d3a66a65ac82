package repository // repository for seasonal price rates

import (
	"context"
	"database/sql"
	"time"

	"github.com/adiwibowo/stayreserve/internal/model"
)

// SeasonalRateRepo reads a room's seasonal rates for pricing.
type SeasonalRateRepo struct {
	db *sql.DB
}

// NewSeasonalRateRepo constructs a SeasonalRateRepo with the given DB
// handle.
func NewSeasonalRateRepo(db *sql.DB) *SeasonalRateRepo {
	return &SeasonalRateRepo{db: db}
}

// ActiveOverlappingTx lists active rates whose half-open interval
// overlaps [start, end), ordered by start date.  Inactive rates never
// reach the pricing calculator.
func (r *SeasonalRateRepo) ActiveOverlappingTx(ctx context.Context, tx *sql.Tx, roomID int64, start, end time.Time) ([]model.SeasonalRate, error) {
	const q = `SELECT id, room_id, start_date, end_date, adjustment_type, adjustment_value, active
	           FROM seasonal_rates
	           WHERE room_id = ? AND active = 1 AND start_date < ? AND end_date > ?
	           ORDER BY start_date`
	rows, err := tx.QueryContext(ctx, q, roomID, end, start)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rates []model.SeasonalRate
	for rows.Next() {
		var m model.SeasonalRate
		if err := rows.Scan(&m.ID, &m.RoomID, &m.StartDate, &m.EndDate,
			&m.AdjustmentType, &m.AdjustmentValue, &m.Active); err != nil {
			return nil, err
		}
		rates = append(rates, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rates, nil
}
