package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/labstack/gommon/log"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/carryconnect/carryconnect/internal/model"
)

// Publisher sends TripBookedEvent messages to RabbitMQ.  Each publish
// dials its own connection; bookings are rare enough that pooling is not
// worth the reconnect handling.  DialTimeout bounds the TCP connect and
// the AMQP handshake together.
type Publisher struct {
	URL         string
	DialTimeout time.Duration
}

func NewPublisher(url string) *Publisher {
	return &Publisher{URL: url, DialTimeout: 3 * time.Second}
}

func (p *Publisher) dial() (*amqp.Connection, error) {
	timeout := p.DialTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return amqp.DialConfig(p.URL, amqp.Config{
		Dial:      amqp.DefaultDial(timeout),
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
	})
}

// PublishTripBooked implements service.BookingEvents.  Errors are logged
// and returned so the caller can choose to ignore them.
func (p *Publisher) PublishTripBooked(ctx context.Context, t model.Trip) error {
	conn, err := p.dial()
	if err != nil {
		log.Errorf("rabbitmq: dial failed: %v", err)
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		log.Errorf("rabbitmq: channel open failed: %v", err)
		return err
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(TripBookedQueue, true, false, false, false, nil); err != nil {
		log.Errorf("rabbitmq: queue declare failed: %v", err)
		return err
	}

	body, err := json.Marshal(NewTripBookedEvent(t))
	if err != nil {
		return err
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	// default exchange, routing key = queue name
	if err := ch.PublishWithContext(ctx, "", TripBookedQueue, false, false, pub); err != nil {
		log.Errorf("rabbitmq: publish failed: %v", err)
		return err
	}
	return nil
}
