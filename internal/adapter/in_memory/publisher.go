package in_memory

import (
	"context"
	"sync"

	"github.com/olyamironova/matching-core/internal/port"
)

var _ port.EventPublisher = (*Publisher)(nil)

type Message struct {
	Topic string
	Key   string
	Event any
}

// Publisher records published events in order.
type Publisher struct {
	mu       sync.Mutex
	messages []Message
}

func NewPublisher() *Publisher { return &Publisher{} }

func (p *Publisher) Publish(ctx context.Context, topic, key string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, Message{Topic: topic, Key: key, Event: event})
	return nil
}

func (p *Publisher) Messages(topic string) []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Message
	for _, m := range p.messages {
		if topic == "" || m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}
