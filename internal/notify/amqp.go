package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"agent-platform/internal/bus"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

// AMQPSink publishes notifications to a durable topic exchange. Each publish
// goes over a confirm-mode channel and blocks until the broker acks it, and
// messages are persistent, so a successful Send survives a broker restart.
type AMQPSink struct {
	conn     *amqp091.Connection
	exchange string
	log      *slog.Logger
}

// envelope mirrors the cross-service notification schema: meta (event id,
// producer, time, type) plus the payload.
type envelope struct {
	Meta meta                 `json:"meta"`
	Data bus.NotificationSend `json:"data"`
}

type meta struct {
	ID       string    `json:"id"`
	Producer string    `json:"producer"`
	TenantID string    `json:"tenant_id"`
	Time     time.Time `json:"time"`
	Type     string    `json:"type"`
}

func NewAMQPSink(url, exchange string, log *slog.Logger) (*AMQPSink, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(
		exchange, "topic", true, false, false, false, nil,
	); err != nil {
		conn.Close()
		return nil, err
	}

	return &AMQPSink{conn: conn, exchange: exchange, log: log}, nil
}

func (s *AMQPSink) Send(ctx context.Context, tenantID string, n bus.NotificationSend) error {
	ch, err := s.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()
	if err := ch.Confirm(false); err != nil {
		return err
	}

	msgID := uuid.NewString()
	body, err := json.Marshal(envelope{
		Meta: meta{
			ID:       msgID,
			Producer: "agent-platform",
			TenantID: tenantID,
			Time:     time.Now().UTC(),
			Type:     "notifications.send.v1",
		},
		Data: n,
	})
	if err != nil {
		return err
	}

	key := "notifications." + n.Code
	confirm, err := ch.PublishWithDeferredConfirmWithContext(
		ctx, s.exchange, key, false, false,
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    msgID,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return err
	}
	ok, err := confirm.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("notify: broker nacked publish %s", msgID)
	}
	s.log.Info("published", slog.String("key", key), slog.String("exchange", s.exchange))
	return nil
}

func (s *AMQPSink) Close() error {
	return s.conn.Close()
}
