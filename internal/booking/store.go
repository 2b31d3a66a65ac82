package booking

import (
	"context"
	"time"

	"github.com/adiwibowo/stayreserve/internal/model"
)

// Tx is the set of storage operations available inside one atomic unit.
// Implementations back it with a SQL transaction; the in-memory fake
// used in tests serializes units behind a mutex.  RoomForUpdate and
// TransactionForUpdate take exclusive row locks, which is what
// serializes concurrent work per room and per transaction.
type Tx interface {
	// Room reads room metadata without locking.
	Room(ctx context.Context, roomID int64) (*model.Room, error)
	// RoomForUpdate reads the room under an exclusive row lock.
	RoomForUpdate(ctx context.Context, roomID int64) (*model.Room, error)
	// BlackoutDays lists blackout dates for the room inside [start, end).
	BlackoutDays(ctx context.Context, roomID int64, start, end time.Time) ([]time.Time, error)
	// ActiveSeasonalRates lists active rates whose interval overlaps
	// [start, end).
	ActiveSeasonalRates(ctx context.Context, roomID int64, start, end time.Time) ([]model.SeasonalRate, error)
	// AdjustStock adds delta (possibly negative) to the room's stock.
	AdjustStock(ctx context.Context, roomID int64, delta int) error
	// InsertTransaction persists a new transaction and fills in its id.
	InsertTransaction(ctx context.Context, t *model.Transaction) error
	// TransactionForUpdate reads the transaction by external uuid under
	// an exclusive row lock.
	TransactionForUpdate(ctx context.Context, uuid string) (*model.Transaction, error)
	// UpdateTransaction writes the transaction's mutable fields.
	UpdateTransaction(ctx context.Context, t *model.Transaction) error
	// InsertOutbox records a side effect to dispatch after commit.
	InsertOutbox(ctx context.Context, topic string, payload []byte) error
}

// Store is the persistence boundary of the engine.  InTx runs fn as a
// single atomic unit: either every write inside fn is committed or
// none are.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
	// TransactionByUUID reads a transaction outside any lock, for
	// display and for scheduler precondition checks that re-lock later.
	TransactionByUUID(ctx context.Context, uuid string) (*model.Transaction, error)
	// ListTransactions returns a page of transactions matching the
	// filter plus the total match count.
	ListTransactions(ctx context.Context, f ListFilter) ([]model.Transaction, int, error)
}

// ListFilter narrows transaction listings.  Exactly one of GuestID or
// HostID is set by the calling handler: guests see their own bookings,
// hosts see bookings against rooms they own.
type ListFilter struct {
	GuestID int64
	HostID  int64
	Status  model.TransactionStatus // empty matches all statuses
	Page    int                     // 1-based
	Take    int
}
