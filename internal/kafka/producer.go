package kafka

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"

	"ms-checkin/internal/models"
)

// Producer publishes check-in lifecycle events for downstream consumers
// (analytics, messaging).
type Producer struct {
	Writer *kafka.Writer
}

func NewProducer(brokers []string) *Producer {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Balancer: &kafka.LeastBytes{},
	}
	return &Producer{Writer: writer}
}

// Publish writes one message to a topic.
func (p *Producer) Publish(topic, key string, value []byte) error {
	return p.Writer.WriteMessages(context.Background(), kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	})
}

func (p *Producer) publishJSON(topic, key string, payload interface{}) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.Publish(topic, key, value)
}

func (p *Producer) PublishCheckinCreated(event models.CheckinEvent) error {
	return p.publishJSON(TopicCheckinCreated, event.Reference, event)
}

func (p *Producer) PublishCheckinUndone(event models.CheckinEvent) error {
	return p.publishJSON(TopicCheckinUndone, event.Reference, event)
}

func (p *Producer) PublishSwagCollected(event models.SwagCollectedEvent) error {
	return p.publishJSON(TopicSwagCollected, event.CollectionID, event)
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}
