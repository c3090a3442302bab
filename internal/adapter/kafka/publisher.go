package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/olyamironova/matching-core/internal/port"
	"github.com/segmentio/kafka-go"
)

var _ port.EventPublisher = (*Publisher)(nil)

// Publisher writes JSON events to "<prefix>.<topic>", keyed so events of
// one symbol or account stay on one partition.
type Publisher struct {
	writer *kafka.Writer
	prefix string
}

func NewPublisher(brokers []string, prefix string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			Async:                  false,
			BatchTimeout:           10 * time.Millisecond,
			AllowAutoTopicCreation: true,
		},
		prefix: prefix,
	}
}

func (p *Publisher) topic(name string) string {
	if p.prefix == "" {
		return name
	}
	return p.prefix + "." + name
}

func (p *Publisher) Publish(ctx context.Context, topic, key string, event any) error {
	b, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: p.topic(topic),
		Key:   []byte(key),
		Value: b,
	})
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
