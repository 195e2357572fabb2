package kafka

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/segmentio/kafka-go"

	"ms-checkin/internal/models"
)

// Consumer keeps the local ticket catalog in sync with the ticketing
// service by following the ticket.issued topic.
type Consumer struct {
	reader *kafka.Reader
}

func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	return &Consumer{reader: reader}
}

// Start consumes until the context is cancelled. Malformed messages are
// skipped; the handler decides what to do with each event.
func (c *Consumer) Start(ctx context.Context, handler func(event models.TicketIssuedEvent) error) error {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		var event models.TicketIssuedEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			continue
		}
		if err := handler(event); err != nil {
			// Handler failures are logged by the caller; keep consuming.
			continue
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
