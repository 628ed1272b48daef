package message_broaker

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

type RabbitMQ struct {
	conn        *amqp.Connection
	channel     *amqp.Channel
	queueName   string
	exchange    string
	routingKey  string
	contentType string
}

// NewRabbitMQ connects and declares a durable queue. With an empty exchange the
// default exchange is used and messages are routed by queue name.
func NewRabbitMQ(url, exchange, queue, routingKey, contentType string) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	fail := func(err error) (*RabbitMQ, error) {
		ch.Close()
		conn.Close()
		return nil, err
	}

	if _, err := ch.QueueDeclare(
		queue,
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return fail(err)
	}

	if exchange != "" {
		if err := ch.ExchangeDeclare(
			exchange,
			"direct",
			true,
			false,
			false,
			false,
			nil,
		); err != nil {
			return fail(err)
		}
		if routingKey == "" {
			routingKey = queue
		}
		if err := ch.QueueBind(
			queue,
			routingKey,
			exchange,
			false,
			nil,
		); err != nil {
			return fail(err)
		}
	}

	// one unacked event at a time keeps membership events in order per consumer
	if err := ch.Qos(1, 0, false); err != nil {
		return fail(err)
	}

	return &RabbitMQ{
		conn:        conn,
		channel:     ch,
		queueName:   queue,
		exchange:    exchange,
		routingKey:  routingKey,
		contentType: contentType,
	}, nil
}

func (r *RabbitMQ) Publish(ctx context.Context, queue string, message []byte) error {
	key := r.routingKey
	if r.exchange == "" {
		key = queue
	}
	return r.channel.PublishWithContext(
		ctx,
		r.exchange,
		key,
		false,
		false,
		amqp.Publishing{
			ContentType:  r.contentType,
			DeliveryMode: amqp.Persistent,
			Body:         message,
		},
	)
}

func (r *RabbitMQ) Consume(ctx context.Context, queue string) (<-chan Message, error) {
	msgs, err := r.channel.Consume(
		queue,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, err
	}

	out := make(chan Message)

	go func() {
		defer close(out)

		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				delivery := msg
				m := Message{
					Body: delivery.Body,
					Ack:  func() error { return delivery.Ack(false) },
					Nack: func(requeue bool) error { return delivery.Nack(false, requeue) },
				}
				select {
				case out <- m:
				case <-ctx.Done():
					_ = delivery.Nack(false, true)
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (r *RabbitMQ) Close() error {
	if err := r.channel.Close(); err != nil {
		_ = r.conn.Close()
		return err
	}
	return r.conn.Close()
}
