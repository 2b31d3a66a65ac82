package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Publisher delivers outbox messages to the broker.  Each publish
// dials a fresh connection; publishing happens on the outbox
// dispatcher's cadence, not per request, so connection churn stays
// low and a broker restart never leaves a stale connection around.
type Publisher struct {
	url string
}

func NewPublisher(url string) *Publisher {
	return &Publisher{url: url}
}

// Publish sends body to the named durable queue with persistent
// delivery, so messages survive a broker restart.
func (p *Publisher) Publish(ctx context.Context, queueName string, body []byte) error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("rabbitmq dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("rabbitmq queue declare: %w", err)
	}

	err = ch.PublishWithContext(ctx,
		"",        // default exchange
		queueName, // routing key = queue name
		false,     // mandatory
		false,     // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("rabbitmq publish: %w", err)
	}
	return nil
}

// logBody tries to decode body as a NotificationEvent for structured
// logging; callers publishing other payloads just get the raw size.
func logBody(body []byte) logrus.Fields {
	var ev NotificationEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return logrus.Fields{"bytes": len(body)}
	}
	return logrus.Fields{"kind": ev.Kind, "uuid": ev.UUID}
}
