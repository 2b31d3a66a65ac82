// Package outbox drains side effects recorded inside database
// transactions.  The engine never talks to the broker or the scheduler
// directly: it writes an outbox row in the same transaction as the
// state change, and the dispatcher delivers the row afterwards.  A
// crash between commit and delivery re-delivers on the next poll, so
// every consumer downstream must tolerate duplicates.
package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/adiwibowo/stayreserve/internal/model"
	"github.com/adiwibowo/stayreserve/internal/scheduler"
)

const (
	defaultInterval  = 2 * time.Second
	defaultBatchSize = 100
)

// Source reads and acknowledges outbox rows.
type Source interface {
	// Pending returns up to limit unsent messages in insertion order.
	Pending(ctx context.Context, limit int) ([]model.OutboxMessage, error)
	MarkSent(ctx context.Context, id int64) error
}

// Publisher delivers broker-bound messages.
type Publisher interface {
	Publish(ctx context.Context, queueName string, body []byte) error
}

// Jobs accepts scheduling and cancellation requests.
type Jobs interface {
	Schedule(ctx context.Context, job scheduler.Job) error
	Cancel(ctx context.Context, typ scheduler.JobType, uuid string) error
}

// Dispatcher polls the outbox and routes each message by topic:
// scheduling requests go to the job store, everything else to the
// message broker.
type Dispatcher struct {
	src      Source
	pub      Publisher
	jobs     Jobs
	interval time.Duration
}

func NewDispatcher(src Source, pub Publisher, jobs Jobs) *Dispatcher {
	return &Dispatcher{src: src, pub: pub, jobs: jobs, interval: defaultInterval}
}

// Run polls until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	logrus.WithField("interval", d.interval).Info("outbox: dispatcher started")
	for {
		select {
		case <-ctx.Done():
			logrus.Info("outbox: dispatcher stopped")
			return
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

// Tick drains one batch.  Delivery failures stop the batch so rows are
// retried in order on the next poll.
func (d *Dispatcher) Tick(ctx context.Context) {
	msgs, err := d.src.Pending(ctx, defaultBatchSize)
	if err != nil {
		logrus.WithError(err).Error("outbox: failed to read pending messages")
		return
	}
	for _, msg := range msgs {
		if err := d.deliver(ctx, msg); err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{"id": msg.ID, "topic": msg.Topic}).
				Warn("outbox: delivery failed, will retry")
			return
		}
		if err := d.src.MarkSent(ctx, msg.ID); err != nil {
			logrus.WithError(err).WithField("id", msg.ID).Error("outbox: failed to mark message sent")
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, msg model.OutboxMessage) error {
	if msg.Topic != scheduler.OutboxTopic {
		return d.pub.Publish(ctx, msg.Topic, msg.Payload)
	}
	var job scheduler.Job
	if err := json.Unmarshal(msg.Payload, &job); err != nil {
		// A payload that cannot be decoded would block the queue
		// forever; drop it loudly instead.
		logrus.WithError(err).WithField("id", msg.ID).Error("outbox: corrupt scheduling payload, dropping")
		return nil
	}
	if job.Cancel {
		return d.jobs.Cancel(ctx, job.Type, job.UUID)
	}
	return d.jobs.Schedule(ctx, job)
}
