package repository // repository assembles the SQL-backed storage boundary

import (
	"context"
	"database/sql"
	"time"

	"github.com/adiwibowo/stayreserve/internal/booking"
	"github.com/adiwibowo/stayreserve/internal/model"
)

// SQLStore implements booking.Store on MySQL.  Each InTx call opens a
// database transaction; the row locks taken by the ForUpdate reads
// inside it serialize concurrent work per room and per transaction.
type SQLStore struct {
	db           *sql.DB
	rooms        *RoomRepo
	availability *AvailabilityRepo
	rates        *SeasonalRateRepo
	transactions *TransactionRepo
	outbox       *OutboxRepo
}

// NewSQLStore wires the repositories over one DB handle.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{
		db:           db,
		rooms:        NewRoomRepo(db),
		availability: NewAvailabilityRepo(db),
		rates:        NewSeasonalRateRepo(db),
		transactions: NewTransactionRepo(db),
		outbox:       NewOutboxRepo(db),
	}
}

// Outbox exposes the outbox repository for the dispatcher.
func (s *SQLStore) Outbox() *OutboxRepo {
	return s.outbox
}

// InTx runs fn inside a database transaction, committing on success
// and rolling back on error or panic.
func (s *SQLStore) InTx(ctx context.Context, fn func(tx booking.Tx) error) error {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = dbTx.Rollback()
		}
	}()

	if err := fn(&sqlTx{store: s, tx: dbTx}); err != nil {
		return err
	}
	if err := dbTx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// TransactionByUUID reads a transaction without locking.
func (s *SQLStore) TransactionByUUID(ctx context.Context, uuid string) (*model.Transaction, error) {
	return s.transactions.GetByUUID(ctx, uuid)
}

// ListTransactions returns a page of transactions plus the total count.
func (s *SQLStore) ListTransactions(ctx context.Context, f booking.ListFilter) ([]model.Transaction, int, error) {
	return s.transactions.List(ctx, f)
}

// sqlTx adapts one *sql.Tx to the booking.Tx interface by delegating
// to the repositories' Tx-scoped methods.
type sqlTx struct {
	store *SQLStore
	tx    *sql.Tx
}

func (t *sqlTx) Room(ctx context.Context, roomID int64) (*model.Room, error) {
	return t.store.rooms.GetTx(ctx, t.tx, roomID)
}

func (t *sqlTx) RoomForUpdate(ctx context.Context, roomID int64) (*model.Room, error) {
	return t.store.rooms.GetForUpdateTx(ctx, t.tx, roomID)
}

func (t *sqlTx) BlackoutDays(ctx context.Context, roomID int64, start, end time.Time) ([]time.Time, error) {
	return t.store.availability.DaysTx(ctx, t.tx, roomID, start, end)
}

func (t *sqlTx) ActiveSeasonalRates(ctx context.Context, roomID int64, start, end time.Time) ([]model.SeasonalRate, error) {
	return t.store.rates.ActiveOverlappingTx(ctx, t.tx, roomID, start, end)
}

func (t *sqlTx) AdjustStock(ctx context.Context, roomID int64, delta int) error {
	return t.store.rooms.AdjustStockTx(ctx, t.tx, roomID, delta)
}

func (t *sqlTx) InsertTransaction(ctx context.Context, m *model.Transaction) error {
	return t.store.transactions.CreateTx(ctx, t.tx, m)
}

func (t *sqlTx) TransactionForUpdate(ctx context.Context, uuid string) (*model.Transaction, error) {
	return t.store.transactions.GetByUUIDForUpdateTx(ctx, t.tx, uuid)
}

func (t *sqlTx) UpdateTransaction(ctx context.Context, m *model.Transaction) error {
	return t.store.transactions.UpdateTx(ctx, t.tx, m)
}

func (t *sqlTx) InsertOutbox(ctx context.Context, topic string, payload []byte) error {
	return t.store.outbox.CreateTx(ctx, t.tx, topic, payload)
}
