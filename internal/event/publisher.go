package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/agrisol/analytics-backend-go/internal/models"
)

// ScanQueue is the queue committed scans are published to for external
// consumers (mobile push, dashboards).
const ScanQueue = "scan_committed_events"

// QueuePublisher publishes committed scan events to RabbitMQ. It is an
// optional, best-effort subscriber: the aggregate write path never depends
// on it.
type QueuePublisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewQueuePublisher connects to RabbitMQ and declares the scan queue.
func NewQueuePublisher(url string) (*QueuePublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	_, err = channel.QueueDeclare(
		ScanQueue, // queue name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	return &QueuePublisher{conn: conn, channel: channel}, nil
}

// ScanCommitted publishes one committed scan event as persistent JSON.
func (p *QueuePublisher) ScanCommitted(ctx context.Context, event *models.ScanEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal scan event: %w", err)
	}

	err = p.channel.PublishWithContext(
		ctx,
		"",        // exchange
		ScanQueue, // routing key (queue name)
		false,     // mandatory
		false,     // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish scan event: %w", err)
	}
	return nil
}

// Close releases the channel and connection.
func (p *QueuePublisher) Close() error {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
