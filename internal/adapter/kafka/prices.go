package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/olyamironova/matching-core/internal/port"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PriceMessage is one market data tick on the prices topic.
type PriceMessage struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// PriceConsumer feeds market prices from a topic into a PriceSink.
type PriceConsumer struct {
	reader *kafka.Reader
	sink   port.PriceSink
	logger *zap.Logger
}

func NewPriceConsumer(brokers []string, topic, groupID string, sink port.PriceSink, logger *zap.Logger) *PriceConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PriceConsumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1,
			MaxBytes: 1 << 20,
			MaxWait:  250 * time.Millisecond,
		}),
		sink:   sink,
		logger: logger.Named("prices"),
	}
}

// Run consumes until ctx ends. Malformed messages are logged and skipped.
func (c *PriceConsumer) Run(ctx context.Context) error {
	defer c.reader.Close()
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := c.handle(ctx, msg.Value); err != nil {
			c.logger.Warn("dropping price message", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

func (c *PriceConsumer) handle(ctx context.Context, value []byte) error {
	var pm PriceMessage
	if err := json.Unmarshal(value, &pm); err != nil {
		return err
	}
	if pm.Symbol == "" || !pm.Price.IsPositive() {
		return errors.New("price message needs a symbol and a positive price")
	}
	if pm.Timestamp.IsZero() {
		pm.Timestamp = time.Now()
	}
	c.sink.OnPrice(ctx, pm.Symbol, pm.Price, pm.Timestamp)
	return nil
}
