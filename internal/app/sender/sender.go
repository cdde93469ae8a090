// Package sender собирает сервис отправки уведомлений: по потребителю на каждую очередь.
package sender

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/gateway-keeper/internal/config"
	"github.com/magabrotheeeer/gateway-keeper/internal/lib/sl"
	"github.com/magabrotheeeer/gateway-keeper/internal/lib/smtp"
	"github.com/magabrotheeeer/gateway-keeper/internal/rabbitmq"
	senderservice "github.com/magabrotheeeer/gateway-keeper/internal/services/sender"
)

type App struct {
	conn          *amqp.Connection
	ch            *amqp.Channel
	senderService *senderservice.SenderService
	workers       int
	logger        *slog.Logger
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	conn, err := rabbitmq.Connect(ctx, cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
	}

	ch, err := rabbitmq.SetupChannel(conn, cfg.Prefetch, rabbitmq.NotificationQueues())
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
	}

	newTransport := smtp.NewTransport(cfg.SMTP, logger)
	senderService := senderservice.NewSenderService(newTransport, cfg.Subscription.Location(), logger)

	return &App{
		conn:          conn,
		ch:            ch,
		senderService: senderService,
		workers:       cfg.Prefetch,
		logger:        logger,
	}, nil
}

// Handle передаёт тело сообщения в сервис. Ошибки разбора и неизвестный тип
// отбрасывают сообщение, ошибки SMTP возвращают его в очередь.
func Handle(send rabbitmq.Handler) rabbitmq.Handler {
	return func(ctx context.Context, body []byte) error {
		err := send(ctx, body)
		if errors.Is(err, senderservice.ErrMalformed) || errors.Is(err, senderservice.ErrUnknownKind) {
			return rabbitmq.Permanent(err)
		}
		return err
	}
}

func (a *App) Run(ctx context.Context) error {
	for _, q := range rabbitmq.NotificationQueues() {
		err := rabbitmq.ConsumerMessage(ctx, a.ch, q.QueueName, a.workers, Handle(a.senderService.SendNotification), a.logger)
		if err != nil {
			a.logger.Error("failed to start consumer", slog.String("queue", q.QueueName), sl.Err(err))
			a.close()
			return err
		}
	}

	<-ctx.Done()
	a.logger.Info("sender service shutting down gracefully")
	a.close()
	return nil
}

func (a *App) close() {
	if err := a.ch.Close(); err != nil {
		a.logger.Error("failed to close channel", sl.Err(err))
	}
	if err := a.conn.Close(); err != nil {
		a.logger.Error("failed to close connection", sl.Err(err))
	}
}
