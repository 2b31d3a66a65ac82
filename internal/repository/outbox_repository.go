package repository // repository for the transactional outbox

import (
	"context"
	"database/sql"

	"github.com/adiwibowo/stayreserve/internal/model"
)

// OutboxRepo persists side-effect messages.  Rows are inserted inside
// the same transaction as the state change and read back by the
// dispatcher after commit.
type OutboxRepo struct {
	db *sql.DB
}

// NewOutboxRepo constructs an OutboxRepo with the given DB handle.
func NewOutboxRepo(db *sql.DB) *OutboxRepo {
	return &OutboxRepo{db: db}
}

// CreateTx records a pending message inside tx.
func (r *OutboxRepo) CreateTx(ctx context.Context, tx *sql.Tx, topic string, payload []byte) error {
	const q = `INSERT INTO outbox_messages (topic, payload, status) VALUES (?, ?, ?)`
	_, err := tx.ExecContext(ctx, q, topic, payload, model.OutboxPending)
	return err
}

// Pending returns up to limit unsent messages, oldest first.
func (r *OutboxRepo) Pending(ctx context.Context, limit int) ([]model.OutboxMessage, error) {
	const q = `SELECT id, topic, payload, status, created_at, sent_at
	           FROM outbox_messages
	           WHERE status = ?
	           ORDER BY id
	           LIMIT ?`
	rows, err := r.db.QueryContext(ctx, q, model.OutboxPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []model.OutboxMessage
	for rows.Next() {
		var m model.OutboxMessage
		var sentAt sql.NullTime
		if err := rows.Scan(&m.ID, &m.Topic, &m.Payload, &m.Status, &m.CreatedAt, &sentAt); err != nil {
			return nil, err
		}
		if sentAt.Valid {
			m.SentAt = &sentAt.Time
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return msgs, nil
}

// MarkSent acknowledges a delivered message.
func (r *OutboxRepo) MarkSent(ctx context.Context, id int64) error {
	const q = `UPDATE outbox_messages SET status = ?, sent_at = NOW() WHERE id = ?`
	_, err := r.db.ExecContext(ctx, q, model.OutboxSent, id)
	return err
}
