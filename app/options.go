package app

import (
	"database/sql"

	"github.com/redis/go-redis/v9"
	"github.com/sitaurs/pterodactyl-claim/internal/message_broaker"
)

// ContainerOption configures Container creation. Used for testing and customization.
type ContainerOption func(*containerConfig)

type containerConfig struct {
	db     *sql.DB
	redis  *redis.Client
	broker message_broaker.MessageBroker
}

// WithDB injects a database connection instead of opening one from config.
func WithDB(db *sql.DB) ContainerOption {
	return func(c *containerConfig) {
		c.db = db
	}
}

// WithRedis injects the client used by the redis rate limiter.
func WithRedis(redis *redis.Client) ContainerOption {
	return func(c *containerConfig) {
		c.redis = redis
	}
}

// WithBroker replaces the RabbitMQ connection used for membership events.
func WithBroker(broker message_broaker.MessageBroker) ContainerOption {
	return func(c *containerConfig) {
		c.broker = broker
	}
}
