package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/frahmantamala/payment-reconciliation/internal/core/events"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	StatusChangedQueue       = "payment.status_changed"
	CommissionDisbursedQueue = "commission.disbursed"

	publishTimeout = 3 * time.Second
)

// Channel is the part of *amqp.Channel the publisher uses.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher forwards domain events from the in-process bus to RabbitMQ so
// downstream services can react to status changes and payouts.
type Publisher struct {
	ch     Channel
	queues map[string]string
	logger *slog.Logger
}

// Dial connects to the broker and returns a publisher with its queues declared.
func Dial(url, statusQueue string, logger *slog.Logger) (*Publisher, *amqp.Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}

	p, err := NewPublisher(ch, statusQueue, logger)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return p, conn, nil
}

func NewPublisher(ch Channel, statusQueue string, logger *slog.Logger) (*Publisher, error) {
	if statusQueue == "" {
		statusQueue = StatusChangedQueue
	}

	queues := map[string]string{
		events.EventTypePaymentStatusChanged: statusQueue,
		events.EventTypeCommissionDisbursed:  CommissionDisbursedQueue,
	}
	for _, q := range queues {
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			return nil, fmt.Errorf("declare %s: %w", q, err)
		}
	}

	return &Publisher{ch: ch, queues: queues, logger: logger}, nil
}

// Register subscribes the publisher to every event type it forwards.
func (p *Publisher) Register(bus *events.EventBus) {
	for eventType := range p.queues {
		bus.Subscribe(eventType, p.Handle)
	}
}

func (p *Publisher) Handle(ctx context.Context, event events.Event) error {
	queue, ok := p.queues[event.EventType()]
	if !ok {
		return nil
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event.EventType(), err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = p.ch.PublishWithContext(pubCtx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.EventID(),
		Timestamp:    event.OccurredAt(),
		Type:         event.EventType(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", event.EventType(), err)
	}

	p.logger.Debug("event forwarded to broker", "event_type", event.EventType(), "queue", queue, "event_id", event.EventID())
	return nil
}

func (p *Publisher) Close() error {
	return p.ch.Close()
}
