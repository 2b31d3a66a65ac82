package repository // repository defines data access for rooms

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/adiwibowo/stayreserve/internal/booking"
	"github.com/adiwibowo/stayreserve/internal/model"
)

const roomColumns = `id, property_id, host_id, name, base_price, stock, capacity, created_at, updated_at`

// RoomRepo provides access to the rooms table.  Stock is only ever
// mutated through AdjustStockTx inside a transaction that first locked
// the row with GetForUpdateTx.
type RoomRepo struct {
	db *sql.DB
}

// NewRoomRepo constructs a RoomRepo with the given DB handle.
func NewRoomRepo(db *sql.DB) *RoomRepo {
	return &RoomRepo{db: db}
}

// GetTx retrieves a room inside tx without locking.
func (r *RoomRepo) GetTx(ctx context.Context, tx *sql.Tx, id int64) (*model.Room, error) {
	const q = `SELECT ` + roomColumns + ` FROM rooms WHERE id = ?`
	return scanRoom(tx.QueryRowContext(ctx, q, id))
}

// GetForUpdateTx retrieves a room inside tx under an exclusive row
// lock.  Concurrent reservations against the same room serialize here.
func (r *RoomRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id int64) (*model.Room, error) {
	const q = `SELECT ` + roomColumns + ` FROM rooms WHERE id = ? FOR UPDATE`
	return scanRoom(tx.QueryRowContext(ctx, q, id))
}

// AdjustStockTx adds delta (possibly negative) to the room's stock.
// Callers must hold the row lock.
func (r *RoomRepo) AdjustStockTx(ctx context.Context, tx *sql.Tx, id int64, delta int) error {
	const q = `UPDATE rooms SET stock = stock + ?, updated_at = NOW() WHERE id = ?`
	res, err := tx.ExecContext(ctx, q, delta, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", booking.ErrRoomNotFound, id)
	}
	return nil
}

func scanRoom(row *sql.Row) (*model.Room, error) {
	var m model.Room
	err := row.Scan(&m.ID, &m.PropertyID, &m.HostID, &m.Name, &m.BasePrice,
		&m.Stock, &m.Capacity, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, booking.ErrRoomNotFound
		}
		return nil, err
	}
	return &m, nil
}
