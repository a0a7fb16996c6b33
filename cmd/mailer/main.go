// Command mailer consumes queued auth notifications and delivers them over
// SMTP. It pairs with NOTIFY_TRANSPORT=amqp or NOTIFY_TRANSPORT=kafka on the
// server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"livestock-track/internal/app"
	"livestock-track/internal/config"
	"livestock-track/internal/logger"
	"livestock-track/internal/notify"
)

func main() {
	cfg, err := config.LoadMailer()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(logger.New(os.Stdout, cfg.LogFormat, cfg.LogLevel))

	sender, err := notify.NewSMTPSender(app.SMTPConfig(cfg))
	if err != nil {
		slog.Error("failed to initialize smtp sender", "error", err)
		os.Exit(1)
	}
	deliverer := notify.NewDeliverer(sender)

	sealer, err := notify.NewLinkSealer(cfg.Notify.SecretKey)
	if err != nil {
		slog.Error("failed to initialize link sealer", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cfg.Notify.Transport {
	case config.NotifyTransportAMQP:
		slog.Info("mailer consuming", "transport", "amqp", "queue", cfg.AMQP.Queue)
		err = notify.ConsumeAMQP(ctx, cfg.AMQP.URL, cfg.AMQP.Queue, sealer, deliverer.Deliver)
	case config.NotifyTransportKafka:
		slog.Info("mailer consuming", "transport", "kafka", "topic", cfg.Kafka.Topic)
		err = notify.ConsumeKafka(ctx, app.KafkaConfig(cfg), sealer, deliverer.Deliver)
	default:
		slog.Error("mailer requires NOTIFY_TRANSPORT=amqp or kafka", "transport", cfg.Notify.Transport)
		os.Exit(1)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("mailer stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("mailer stopped")
}
