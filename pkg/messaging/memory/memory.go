// Package memory provides a process-local Broker. It backs single-node
// deployments and tests; the wire form matches the redis broker so
// subscribers cannot tell the two apart.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/careflow/clinical-records/pkg/messaging"
)

var _ messaging.Broker = (*Broker)(nil)

type subscription struct {
	channel string
	ch      chan []byte
}

// Broker delivers published messages to every subscriber of the channel.
// Delivery order per subscriber matches publish order.
type Broker struct {
	mu     sync.Mutex
	subs   map[string][]*subscription
	closed bool
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string][]*subscription)}
}

func (b *Broker) Publish(ctx context.Context, channel string, message interface{}) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("broker closed")
	}
	for _, sub := range b.subs[channel] {
		select {
		case sub.ch <- payload:
		default:
			// Slow subscriber; drop rather than block the publisher.
		}
	}
	return nil
}

func (b *Broker) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, fmt.Errorf("broker closed")
	}
	sub := &subscription{channel: channel, ch: make(chan []byte, 100)}
	b.subs[channel] = append(b.subs[channel], sub)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.unsubscribe(sub)
	}()
	return sub.ch, nil
}

func (b *Broker) unsubscribe(sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[sub.channel]
	for i, s := range subs {
		if s == sub {
			b.subs[sub.channel] = append(subs[:i], subs[i+1:]...)
			close(s.ch)
			return
		}
	}
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, subs := range b.subs {
		for _, s := range subs {
			close(s.ch)
		}
	}
	b.subs = make(map[string][]*subscription)
	return nil
}
