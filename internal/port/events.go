package port

import "context"

type EventPublisher interface {
	Publish(ctx context.Context, topic, key string, event any) error
}
