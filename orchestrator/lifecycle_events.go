package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/streadway/amqp"
)

// lifecycleEvent is the JSON body published for each run transition.
type lifecycleEvent struct {
	RunID     string    `json:"run_id"`
	Event     string    `json:"event"` // "started" | "completed" | "failed"
	Timestamp time.Time `json:"timestamp"`
}

// LifecycleEventPublisher publishes run started/completed/failed events to
// a durable AMQP queue, independent of the websocket live-tail (fire and
// forget vs. live observation). Grounded on
// queue/rabbit.go's RabbitMQService: connection+channel+durable queue
// declare at construction, JSON-marshal-then-Publish at call time.
type LifecycleEventPublisher struct {
	conn      *amqp.Connection
	channel   *amqp.Channel
	queueName string
}

// NewLifecycleEventPublisher dials amqpURL and declares queueName as a
// durable queue.
func NewLifecycleEventPublisher(amqpURL, queueName string) (*LifecycleEventPublisher, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}
	return &LifecycleEventPublisher{conn: conn, channel: ch, queueName: queueName}, nil
}

// Publish sends one lifecycle event to the default exchange, routed by
// queue name.
func (p *LifecycleEventPublisher) Publish(ctx context.Context, runID, event string) error {
	body, err := json.Marshal(lifecycleEvent{RunID: runID, Event: event, Timestamp: time.Now()})
	if err != nil {
		return fmt.Errorf("failed to marshal lifecycle event: %w", err)
	}
	return p.channel.Publish("", p.queueName, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}

// Close releases the channel and connection.
func (p *LifecycleEventPublisher) Close() error {
	p.channel.Close()
	return p.conn.Close()
}
