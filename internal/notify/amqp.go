package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/streadway/amqp"
)

// AMQPDispatcher publishes notifications to a durable queue consumed by the
// notification service.
type AMQPDispatcher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

func NewAMQPDispatcher(url, queue string) (*AMQPDispatcher, error) {
	const op = "notify.NewAMQPDispatcher"

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if _, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &AMQPDispatcher{conn: conn, ch: ch, queue: queue}, nil
}

func (d *AMQPDispatcher) Dispatch(_ context.Context, n Notification) error {
	const op = "notify.AMQPDispatcher.Dispatch"

	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	if err := d.ch.Publish(
		"",      // default exchange
		d.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}

func (d *AMQPDispatcher) Close() error {
	if err := d.ch.Close(); err != nil {
		d.conn.Close()
		return err
	}
	return d.conn.Close()
}
