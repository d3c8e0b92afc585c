package messaging

import (
	"context"
)

// Broker defines the interface for message brokers. The change feed and the
// fan-out worker's wakeup channel both ride on it.
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	Close() error
}
