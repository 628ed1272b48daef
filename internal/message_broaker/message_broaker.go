package message_broaker

import "context"

// Message is one delivery. Consumers must call exactly one of Ack or Nack.
type Message struct {
	Body []byte
	Ack  func() error
	Nack func(requeue bool) error
}

type MessageBroker interface {
	Publish(ctx context.Context, queue string, message []byte) error
	Consume(ctx context.Context, queue string) (<-chan Message, error)
	Close() error
}
