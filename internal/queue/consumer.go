package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/labstack/gommon/log"
	amqp "github.com/rabbitmq/amqp091-go"
)

// BookingLogConsumer appends one line per TripBookedEvent to a log file.
type BookingLogConsumer struct {
	URL     string
	LogPath string // defaults to logs/bookings.log
}

func NewBookingLogConsumer(url string) *BookingLogConsumer {
	return &BookingLogConsumer{URL: url, LogPath: filepath.Join("logs", "bookings.log")}
}

// Run connects, consumes and reconnects with doubling backoff until ctx is
// cancelled.  Undecodable messages are rejected without requeue.
func (c *BookingLogConsumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.URL)
		if err != nil {
			log.Warnf("booking-consumer: dial failed: %v; retrying in %s", err, backoff)
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warnf("booking-consumer: consume loop ended: %v; reconnecting", err)
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (c *BookingLogConsumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		log.Warnf("booking-consumer: set QoS failed: %v", err)
	}
	if _, err := ch.QueueDeclare(TripBookedQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.ConsumeWithContext(ctx, TripBookedQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	for d := range msgs {
		if err := c.Handle(d.Body); err != nil {
			log.Errorf("booking-consumer: handle message failed: %v", err)
			_ = d.Nack(false, false)
			continue
		}
		_ = d.Ack(false)
	}
	return errors.New("deliveries channel closed")
}

// Handle decodes one message body and appends it to the log file.
func (c *BookingLogConsumer) Handle(body []byte) error {
	var ev TripBookedEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.TripID == "" {
		return errors.New("event without trip_id")
	}
	if err := os.MkdirAll(filepath.Dir(c.LogPath), 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	f, err := os.OpenFile(c.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(formatLine(ev)); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

func formatLine(ev TripBookedEvent) string {
	return fmt.Sprintf("[%s] Trip booked | trip_id=%s | carrier_id=%s | requester_id=%s | route=\"%s -> %s\" | date=%s | weight=%.2fkg | agreed=%d cents\n",
		ev.BookedAt, ev.TripID, ev.CarrierID, ev.RequesterID, ev.Origin, ev.Destination, ev.TravelDate, ev.WeightKg, ev.AgreedPriceCents)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
