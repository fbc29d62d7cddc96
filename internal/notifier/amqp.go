package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/vmoraes/event-harvester/internal/event"
	"github.com/vmoraes/event-harvester/internal/logger"
)

// DefaultQueue receives one message per committed sighting.
const DefaultQueue = "events.ingested"

// AMQPNotifier publishes sightings to a durable RabbitMQ queue. The connection is opened
// once and reused until Close.
type AMQPNotifier struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
	log   *logger.Logger
	now   func() time.Time

	closeOnce sync.Once
}

// NewAMQPNotifier dials url and declares queue (durable, idempotent).
func NewAMQPNotifier(url, queue string, log *logger.Logger) (*AMQPNotifier, error) {
	if queue == "" {
		queue = DefaultQueue
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dialing broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declaring queue %q: %w", queue, err)
	}

	return &AMQPNotifier{
		conn:  conn,
		ch:    ch,
		queue: queue,
		log:   log.With(logger.Fields{"component": "notifier", "queue": queue}),
		now:   time.Now,
	}, nil
}

// Notify publishes each sighting as a persistent JSON message. It stops at the first
// failed publish.
func (n *AMQPNotifier) Notify(ctx context.Context, sightings []event.Sighting) error {
	for i, s := range sightings {
		msg, err := publishing(s, n.now())
		if err != nil {
			return err
		}
		if err := n.ch.PublishWithContext(ctx, "", n.queue, false, false, msg); err != nil {
			return fmt.Errorf("publishing sighting %d/%d (%s): %w", i+1, len(sightings), s.Name, err)
		}
	}
	n.log.Info("Sightings published", logger.Fields{"count": len(sightings)})
	return nil
}

// Close closes the channel and connection. Safe to call more than once.
func (n *AMQPNotifier) Close() error {
	var err error
	n.closeOnce.Do(func() {
		if cerr := n.ch.Close(); cerr != nil {
			err = cerr
		}
		if cerr := n.conn.Close(); cerr != nil && err == nil {
			err = cerr
		}
	})
	return err
}

func publishing(s event.Sighting, now time.Time) (amqp.Publishing, error) {
	body, err := json.Marshal(s)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("encoding sighting %s: %w", s.Name, err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    now.UTC(),
		Type:         "event.sighting",
		Body:         body,
	}, nil
}
