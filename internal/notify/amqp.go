package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPPublisher queues messages on a durable RabbitMQ queue for cmd/mailer.
// Messages are transient and their links sealed, so no usable one-time token
// is written to broker disk.
type AMQPPublisher struct {
	url    string
	queue  string
	sealer *LinkSealer

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewAMQPPublisher(url string, queue string, sealer *LinkSealer) (*AMQPPublisher, error) {
	if sealer == nil {
		return nil, errors.New("rabbitmq publisher: link sealer is required")
	}

	p := &AMQPPublisher{url: url, queue: queue, sealer: sealer}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *AMQPPublisher) connect() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("rabbitmq dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("rabbitmq channel: %w", err)
	}

	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("rabbitmq queue declare: %w", err)
	}

	p.conn = conn
	p.ch = ch
	return nil
}

func (p *AMQPPublisher) Notify(ctx context.Context, msg Message) error {
	publishing, err := newPublishing(msg, p.sealer)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil || p.conn.IsClosed() {
		if err := p.connect(); err != nil {
			return err
		}
	}

	if err := p.ch.PublishWithContext(ctx, "", p.queue, false, false, publishing); err != nil {
		return fmt.Errorf("rabbitmq publish: %w", err)
	}
	return nil
}

func newPublishing(msg Message, sealer *LinkSealer) (amqp.Publishing, error) {
	body, err := encodeMessage(msg, sealer)
	if err != nil {
		return amqp.Publishing{}, err
	}

	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		Timestamp:    time.Now().UTC(),
		Type:         string(msg.Kind),
		Body:         body,
	}, nil
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// ConsumeAMQP delivers queued messages until ctx is cancelled, reconnecting
// with exponential backoff when the broker goes away.
func ConsumeAMQP(ctx context.Context, url string, queue string, sealer *LinkSealer, handle func(context.Context, Message) error) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(url)
		if err != nil {
			slog.Warn("mail consumer dial failed", "error", err, "retry_in", backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = consumeAMQP(ctx, conn, queue, sealer, handle)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("mail consumer loop ended, reconnecting", "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

func consumeAMQP(ctx context.Context, conn *amqp.Connection, queue string, sealer *LinkSealer, handle func(context.Context, Message) error) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(10, 0, false); err != nil {
		slog.Warn("mail consumer set QoS failed", "error", err)
	}

	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for d := range deliveries {
		msg, err := decodeMessage(d.Body, sealer)
		if err != nil {
			slog.Error("mail consumer dropped malformed message", "error", err)
			_ = d.Nack(false, false)
			continue
		}

		if err := handle(ctx, msg); err != nil {
			slog.Error("mail consumer handle failed", "kind", msg.Kind, "to", msg.To, "error", err)
			// Requeue once; a redelivered failure is dropped to avoid a hot loop.
			_ = d.Nack(false, !d.Redelivered)
			continue
		}
		_ = d.Ack(false)
	}

	return errors.New("deliveries channel closed")
}
