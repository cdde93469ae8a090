// Package scheduler собирает планировщик обхода подписок.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/gateway-keeper/internal/app/platform"
	"github.com/magabrotheeeer/gateway-keeper/internal/config"
	"github.com/magabrotheeeer/gateway-keeper/internal/lib/sl"
	"github.com/magabrotheeeer/gateway-keeper/internal/rabbitmq"
	schedulerservice "github.com/magabrotheeeer/gateway-keeper/internal/services/scheduler"
)

// App представляет приложение планировщика.
type App struct {
	schedulerService *schedulerservice.SchedulerService
	platform         *platform.Platform
	conn             *amqp.Connection
	ch               *amqp.Channel
	logger           *slog.Logger
}

// New создает новый экземпляр приложения планировщика.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	conn, err := rabbitmq.Connect(ctx, cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
	}

	ch, err := rabbitmq.SetupChannel(conn, cfg.Prefetch, rabbitmq.NotificationQueues())
	if err != nil {
		closeResources(nil, conn, logger)
		return nil, fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
	}

	p, err := platform.Open(ctx, cfg, platform.Options{Nodes: true}, logger)
	if err != nil {
		closeResources(ch, conn, logger)
		return nil, err
	}

	schedulerService := schedulerservice.NewSchedulerService(
		p.Storage,
		p.Ledger,
		rabbitmq.NewPublisher(ch),
		p.Reconciler,
		schedulerservice.Options{
			Interval:       cfg.ReminderInterval,
			Location:       cfg.Subscription.Location(),
			RevokeOnExpiry: cfg.RevokeOnExpiry,
			ResyncBatch:    cfg.ResyncBatch,
		},
		logger,
	)

	return &App{
		schedulerService: schedulerService,
		platform:         p,
		conn:             conn,
		ch:               ch,
		logger:           logger,
	}, nil
}

func closeResources(ch *amqp.Channel, conn *amqp.Connection, logger *slog.Logger) {
	if ch != nil {
		if err := ch.Close(); err != nil {
			logger.Error("failed to close channel", sl.Err(err))
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			logger.Error("failed to close connection", sl.Err(err))
		}
	}
}

// Run запускает обход и блокируется до отмены ctx.
func (a *App) Run(ctx context.Context) error {
	err := a.schedulerService.Run(ctx)

	a.logger.Info("shutting down scheduler service")
	closeResources(a.ch, a.conn, a.logger)
	a.platform.Close()

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
