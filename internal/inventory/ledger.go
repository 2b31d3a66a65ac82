// Package inventory implements the stock ledger for rooms.  The ledger
// is the single source of truth for "are N units of room R available
// over [start, end)" and the only place room stock is mutated.
//
// Stock is modelled as a plain counter on the room row, decremented
// when a reservation takes a hold and incremented when the hold is
// released.  The counter is deliberately kept behind this package's
// interface so it can later be replaced with per-day calendar
// accounting without touching callers.
package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/adiwibowo/stayreserve/internal/model"
)

var (
	// ErrInsufficientStock is returned when fewer than the requested
	// number of units are available.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrDateRangeBlocked is returned when a blackout day falls inside
	// the requested stay range.
	ErrDateRangeBlocked = errors.New("date range blocked")
)

// Catalog is the storage surface the ledger operates on.  All methods
// must execute inside the caller's transaction so the check-then-write
// sequence is atomic; RoomForUpdate must take a row lock on the room,
// which serializes concurrent reservations for the same room.
type Catalog interface {
	RoomForUpdate(ctx context.Context, roomID int64) (*model.Room, error)
	BlackoutDays(ctx context.Context, roomID int64, start, end time.Time) ([]time.Time, error)
	AdjustStock(ctx context.Context, roomID int64, delta int) error
}

// CheckAndReserve verifies availability of qty units of the room over
// the half-open range [start, end) and decrements stock, all under the
// room row lock taken by RoomForUpdate.  It returns the locked room so
// callers can reuse its metadata (base price, host) without a second
// read.  The reservation is rejected when a blackout day overlaps the
// range or when fewer than qty units remain.
func CheckAndReserve(ctx context.Context, cat Catalog, roomID int64, qty int, start, end time.Time) (*model.Room, error) {
	room, err := cat.RoomForUpdate(ctx, roomID)
	if err != nil {
		return nil, err
	}
	blocked, err := cat.BlackoutDays(ctx, roomID, start, end)
	if err != nil {
		return nil, err
	}
	if len(blocked) > 0 {
		return nil, ErrDateRangeBlocked
	}
	if room.Stock < qty {
		return nil, ErrInsufficientStock
	}
	if err := cat.AdjustStock(ctx, roomID, -qty); err != nil {
		return nil, err
	}
	room.Stock -= qty
	return room, nil
}

// Release credits qty units back to the room.  Callers are responsible
// for the per-transaction idempotency guard: stock held by a booking
// must be released at most once, which the engine enforces by checking
// the booking's status and release marker before calling Release.
func Release(ctx context.Context, cat Catalog, roomID int64, qty int) error {
	if _, err := cat.RoomForUpdate(ctx, roomID); err != nil {
		return err
	}
	return cat.AdjustStock(ctx, roomID, qty)
}
