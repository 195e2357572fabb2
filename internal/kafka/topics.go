package kafka

import (
	"log"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	TopicCheckinCreated = "ticketly.checkin.created"
	TopicCheckinUndone  = "ticketly.checkin.undone"
	TopicSwagCollected  = "ticketly.swag.collected"
	TopicTicketIssued   = "ticketly.ticket.issued"
)

// RequiredTopics is everything this service publishes or consumes.
func RequiredTopics() []string {
	return []string{
		TopicCheckinCreated,
		TopicCheckinUndone,
		TopicSwagCollected,
		TopicTicketIssued,
	}
}

// EnsureTopicsExist creates Kafka topics if they don't already exist.
func EnsureTopicsExist(brokers []string, topics []string) error {
	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return err
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return err
	}
	controllerConn, err := kafka.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return err
	}
	defer controllerConn.Close()

	for _, topic := range topics {
		topicConfigs := []kafka.TopicConfig{
			{
				Topic:             topic,
				NumPartitions:     1,
				ReplicationFactor: 1,
			},
		}

		err = controllerConn.CreateTopics(topicConfigs...)
		if err != nil {
			if err.Error() == "kafka server: topic already exists" {
				continue
			}
			log.Printf("Error creating topic %s: %v", topic, err)
		}
	}

	// Give the broker a moment to register the new topics.
	time.Sleep(1 * time.Second)
	return nil
}
