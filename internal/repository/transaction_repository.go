package repository // repository for booking transactions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/adiwibowo/stayreserve/internal/booking"
	"github.com/adiwibowo/stayreserve/internal/model"
)

const transactionColumns = `t.id, t.uuid, t.room_id, t.user_id, t.qty, t.start_date, t.end_date,
	t.total, t.payment_method, t.status, t.expires_at, t.payment_proof,
	t.gateway_token, t.gateway_ref, t.paid_at, t.released_at, t.created_at, t.updated_at`

// TransactionRepo persists booking transactions.  Rows are never
// deleted: terminal transactions stay for history and reporting.
type TransactionRepo struct {
	db *sql.DB
}

// NewTransactionRepo constructs a TransactionRepo with the given DB
// handle.
func NewTransactionRepo(db *sql.DB) *TransactionRepo {
	return &TransactionRepo{db: db}
}

// CreateTx inserts a new transaction inside tx and populates its ID.
func (r *TransactionRepo) CreateTx(ctx context.Context, tx *sql.Tx, t *model.Transaction) error {
	const q = `INSERT INTO transactions
	           (uuid, room_id, user_id, qty, start_date, end_date, total,
	            payment_method, status, expires_at, payment_proof,
	            gateway_token, gateway_ref, paid_at, released_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, q,
		t.UUID, t.RoomID, t.UserID, t.Qty, t.StartDate, t.EndDate, t.Total,
		t.PaymentMethod, t.Status, t.ExpiresAt, t.PaymentProof,
		t.GatewayToken, t.GatewayRef, t.PaidAt, t.ReleasedAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	t.ID = id
	return nil
}

// GetByUUIDForUpdateTx retrieves a transaction by its external uuid
// inside tx under an exclusive row lock.  Every lifecycle mutation
// goes through this lock, so concurrent webhooks, scheduler jobs and
// user actions against the same transaction serialize.
func (r *TransactionRepo) GetByUUIDForUpdateTx(ctx context.Context, tx *sql.Tx, uuid string) (*model.Transaction, error) {
	const q = `SELECT ` + transactionColumns + ` FROM transactions t WHERE t.uuid = ? FOR UPDATE`
	return scanTransaction(tx.QueryRowContext(ctx, q, uuid))
}

// UpdateTx writes the transaction's mutable fields inside tx.
func (r *TransactionRepo) UpdateTx(ctx context.Context, tx *sql.Tx, t *model.Transaction) error {
	const q = `UPDATE transactions
	           SET status = ?, expires_at = ?, payment_proof = ?,
	               gateway_token = ?, gateway_ref = ?, paid_at = ?, released_at = ?,
	               updated_at = NOW()
	           WHERE id = ?`
	res, err := tx.ExecContext(ctx, q,
		t.Status, t.ExpiresAt, t.PaymentProof,
		t.GatewayToken, t.GatewayRef, t.PaidAt, t.ReleasedAt,
		t.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: id %d", booking.ErrTransactionNotFound, t.ID)
	}
	return nil
}

// GetByUUID retrieves a transaction by its external uuid without
// locking.
func (r *TransactionRepo) GetByUUID(ctx context.Context, uuid string) (*model.Transaction, error) {
	const q = `SELECT ` + transactionColumns + ` FROM transactions t WHERE t.uuid = ?`
	return scanTransaction(r.db.QueryRowContext(ctx, q, uuid))
}

// List returns a page of transactions matching the filter plus the
// total match count.  Host filtering joins rooms so a host sees every
// booking against rooms they own.
func (r *TransactionRepo) List(ctx context.Context, f booking.ListFilter) ([]model.Transaction, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	join := ``
	if f.GuestID > 0 {
		where += ` AND t.user_id = ?`
		args = append(args, f.GuestID)
	}
	if f.HostID > 0 {
		join = ` JOIN rooms r ON r.id = t.room_id`
		where += ` AND r.host_id = ?`
		args = append(args, f.HostID)
	}
	if f.Status != "" {
		where += ` AND t.status = ?`
		args = append(args, f.Status)
	}

	var total int
	countQ := `SELECT COUNT(*) FROM transactions t` + join + where
	if err := r.db.QueryRowContext(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	pageQ := `SELECT ` + transactionColumns + ` FROM transactions t` + join + where +
		` ORDER BY t.id DESC LIMIT ? OFFSET ?`
	args = append(args, f.Take, (f.Page-1)*f.Take)
	rows, err := r.db.QueryContext(ctx, pageQ, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []model.Transaction
	for rows.Next() {
		t, err := scanTransactionRows(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func scanTransaction(row *sql.Row) (*model.Transaction, error) {
	var t model.Transaction
	var expiresAt, paidAt, releasedAt sql.NullTime
	var proof, gwToken, gwRef sql.NullString
	err := row.Scan(&t.ID, &t.UUID, &t.RoomID, &t.UserID, &t.Qty, &t.StartDate, &t.EndDate,
		&t.Total, &t.PaymentMethod, &t.Status, &expiresAt, &proof,
		&gwToken, &gwRef, &paidAt, &releasedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, booking.ErrTransactionNotFound
		}
		return nil, err
	}
	applyNullable(&t, expiresAt, paidAt, releasedAt, proof, gwToken, gwRef)
	return &t, nil
}

func scanTransactionRows(rows *sql.Rows) (*model.Transaction, error) {
	var t model.Transaction
	var expiresAt, paidAt, releasedAt sql.NullTime
	var proof, gwToken, gwRef sql.NullString
	err := rows.Scan(&t.ID, &t.UUID, &t.RoomID, &t.UserID, &t.Qty, &t.StartDate, &t.EndDate,
		&t.Total, &t.PaymentMethod, &t.Status, &expiresAt, &proof,
		&gwToken, &gwRef, &paidAt, &releasedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	applyNullable(&t, expiresAt, paidAt, releasedAt, proof, gwToken, gwRef)
	return &t, nil
}

func applyNullable(t *model.Transaction, expiresAt, paidAt, releasedAt sql.NullTime, proof, gwToken, gwRef sql.NullString) {
	if expiresAt.Valid {
		t.ExpiresAt = &expiresAt.Time
	}
	if paidAt.Valid {
		t.PaidAt = &paidAt.Time
	}
	if releasedAt.Valid {
		t.ReleasedAt = &releasedAt.Time
	}
	if proof.Valid {
		t.PaymentProof = &proof.String
	}
	if gwToken.Valid {
		t.GatewayToken = &gwToken.String
	}
	if gwRef.Valid {
		t.GatewayRef = &gwRef.String
	}
}
