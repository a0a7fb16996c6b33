package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"
)

type KafkaConfig struct {
	Brokers  []string
	Topic    string
	GroupID  string
	Username string
	Password string
}

// KafkaPublisher writes messages to a topic keyed by recipient so one
// user's mails stay ordered within a partition.
// Links are sealed before they are written, since the topic retains
// messages on broker disk.
type KafkaPublisher struct {
	writer *kafka.Writer
	sealer *LinkSealer
}

func NewKafkaPublisher(cfg KafkaConfig, sealer *LinkSealer) (*KafkaPublisher, error) {
	if sealer == nil {
		return nil, errors.New("kafka publisher: link sealer is required")
	}

	transport := &kafka.Transport{}
	if cfg.Username != "" {
		transport.SASL = plain.Mechanism{Username: cfg.Username, Password: cfg.Password}
		transport.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			// Each request publishes a single message; flush it right away.
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			Transport:    transport,
		},
		sealer: sealer,
	}, nil
}

func (p *KafkaPublisher) Notify(ctx context.Context, msg Message) error {
	record, err := p.record(msg)
	if err != nil {
		return err
	}

	if err := p.writer.WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) record(msg Message) (kafka.Message, error) {
	body, err := encodeMessage(msg, p.sealer)
	if err != nil {
		return kafka.Message{}, err
	}

	return kafka.Message{
		Key:   []byte(msg.To),
		Value: body,
		Time:  time.Now().UTC(),
	}, nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// ConsumeKafka reads the topic as part of cfg.GroupID and commits each
// message after handle returns, successful or not.
func ConsumeKafka(ctx context.Context, cfg KafkaConfig, sealer *LinkSealer, handle func(context.Context, Message) error) error {
	dialer := &kafka.Dialer{Timeout: 10 * time.Second, DualStack: true}
	if cfg.Username != "" {
		dialer.SASLMechanism = plain.Mechanism{Username: cfg.Username, Password: cfg.Password}
		dialer.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
		Dialer:   dialer,
	})
	defer func() { _ = reader.Close() }()

	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("mail consumer read failed", "error", err)
			continue
		}

		if msg, err := decodeMessage(m.Value, sealer); err != nil {
			slog.Error("mail consumer dropped malformed message", "offset", m.Offset, "error", err)
		} else if err := handle(ctx, msg); err != nil {
			slog.Error("mail consumer handle failed", "kind", msg.Kind, "to", msg.To, "error", err)
		}

		if err := reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			slog.Warn("mail consumer commit failed", "offset", m.Offset, "error", err)
		}
	}
}
