package model

import "time"

// OutboxStatus tracks whether an outbox message has been handed to the
// broker.
type OutboxStatus string

const (
	OutboxPending OutboxStatus = "PENDING"
	OutboxSent    OutboxStatus = "SENT"
)

// OutboxMessage is a side effect recorded in the same database
// transaction as the state change that caused it.  A background
// dispatcher publishes pending messages to the broker and marks them
// sent, so a crash between "state saved" and "notification published"
// never loses the effect.
type OutboxMessage struct {
	ID        int64        // outbox_messages.id
	Topic     string       // outbox_messages.topic (broker queue name)
	Payload   []byte       // outbox_messages.payload (JSON event body)
	Status    OutboxStatus // outbox_messages.status
	CreatedAt time.Time    // outbox_messages.created_at
	SentAt    *time.Time   // outbox_messages.sent_at (nullable)
}
