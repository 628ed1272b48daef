package config

import (
	"fmt"
	"strings"
)

type StorageDriver int

const (
	Postgres StorageDriver = iota + 1
	Bolt
	Memory
)

type MessageQueueDriver int

const (
	RabbitMQ MessageQueueDriver = iota + 1
)

type RateLimitDriver int

const (
	RateLimitMemory RateLimitDriver = iota + 1
	RateLimitRedis
)

func (d MessageQueueDriver) String() string {
	switch d {
	case RabbitMQ:
		return "rabbitmq"
	default:
		return "unknown"
	}
}

// String converts the StorageDriver enum to a human-readable string.
func (d StorageDriver) String() string {
	switch d {
	case Postgres:
		return "postgres"
	case Bolt:
		return "bolt"
	case Memory:
		return "memory"
	}
	return "unknown"
}

func (d *StorageDriver) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "postgres":
		*d = Postgres
	case "bolt":
		*d = Bolt
	case "memory":
		*d = Memory
	default:
		return fmt.Errorf("unknown storage driver %q", text)
	}
	return nil
}

func (d RateLimitDriver) String() string {
	switch d {
	case RateLimitMemory:
		return "memory"
	case RateLimitRedis:
		return "redis"
	}
	return "unknown"
}

func (d *RateLimitDriver) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "memory":
		*d = RateLimitMemory
	case "redis":
		*d = RateLimitRedis
	default:
		return fmt.Errorf("unknown rate limit driver %q", text)
	}
	return nil
}
