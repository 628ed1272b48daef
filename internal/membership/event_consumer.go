package membership

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/sitaurs/pterodactyl-claim/custom_errors"
	"github.com/sitaurs/pterodactyl-claim/internal/message_broaker"
)

type EventHandler interface {
	OnMembershipEvent(ctx context.Context, e Event) error
}

// EventPublisher puts webhook events on the broker so the consumer can apply them
// at its own pace.
type EventPublisher struct {
	broker message_broaker.MessageBroker
	queue  string
}

func NewEventPublisher(broker message_broaker.MessageBroker, queue string) *EventPublisher {
	return &EventPublisher{broker: broker, queue: queue}
}

func (p *EventPublisher) Publish(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return p.broker.Publish(ctx, p.queue, body)
}

type EventConsumer struct {
	broker  message_broaker.MessageBroker
	queue   string
	handler EventHandler
}

func NewEventConsumer(broker message_broaker.MessageBroker, queue string, handler EventHandler) *EventConsumer {
	return &EventConsumer{broker: broker, queue: queue, handler: handler}
}

// Run blocks until ctx is done or the delivery channel closes. Malformed
// messages are dropped; handler errors are requeued.
func (c *EventConsumer) Run(ctx context.Context) error {
	deliveries, err := c.broker.Consume(ctx, c.queue)
	if err != nil {
		return err
	}
	slog.Info("membership event consumer started", slog.String("queue", c.queue))

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-deliveries:
			if !ok {
				slog.Warn("membership event delivery channel closed", slog.String("queue", c.queue))
				return nil
			}
			c.handle(ctx, msg)
		}
	}
}

func (c *EventConsumer) handle(ctx context.Context, msg message_broaker.Message) {
	event, err := DecodeEvent(msg.Body)
	if err != nil {
		slog.Error("dropping malformed membership event", slog.Any("error", err))
		if nackErr := msg.Nack(false); nackErr != nil {
			slog.Error("nack failed", slog.Any("error", nackErr))
		}
		return
	}

	if err := c.handler.OnMembershipEvent(ctx, event); err != nil {
		requeue := !errors.Is(err, custom_errors.ErrValidation)
		slog.Error("membership event failed",
			slog.String("wa_jid", MaskJID(event.WAJID)),
			slog.String("action", string(event.Action)),
			slog.Bool("requeue", requeue),
			slog.Any("error", err))
		if nackErr := msg.Nack(requeue); nackErr != nil {
			slog.Error("nack failed", slog.Any("error", nackErr))
		}
		return
	}

	if err := msg.Ack(); err != nil {
		slog.Error("ack failed", slog.Any("error", err))
	}
}
