package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/puffperksonline/puffperks/internal/logger"
	"github.com/puffperksonline/puffperks/internal/models"
)

type Consumer struct {
	reader *kafka.Reader
	log    *logger.Logger
}

func NewConsumer(brokers []string, topic, groupID string, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: reader, log: log}
}

// Start consumes stamp-update messages until ctx is cancelled. Malformed
// messages are logged and skipped; the loop itself never retries a failed
// delivery beyond reading the next message.
func (c *Consumer) Start(ctx context.Context, handler func(models.StampUpdateMessage)) {
	c.log.Info("KAFKA", "Stamp update consumer started")

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Error("KAFKA", fmt.Sprintf("Error reading message: %v", err))
			continue
		}

		var update models.StampUpdateMessage
		if err := json.Unmarshal(msg.Value, &update); err != nil {
			c.log.Warn("KAFKA", fmt.Sprintf("Failed to unmarshal stamp update: %v", err))
			continue
		}

		handler(update)
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
