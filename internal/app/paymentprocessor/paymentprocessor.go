// Package paymentprocessor потребляет события платежей из очереди и применяет их к подпискам.
package paymentprocessor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/gateway-keeper/internal/app/platform"
	"github.com/magabrotheeeer/gateway-keeper/internal/config"
	"github.com/magabrotheeeer/gateway-keeper/internal/lib/sl"
	"github.com/magabrotheeeer/gateway-keeper/internal/models"
	"github.com/magabrotheeeer/gateway-keeper/internal/paymentprovider"
	"github.com/magabrotheeeer/gateway-keeper/internal/rabbitmq"
	paymentservice "github.com/magabrotheeeer/gateway-keeper/internal/services/payment"
)

// Applier применяет событие платежа.
type Applier interface {
	Apply(ctx context.Context, ev models.PaymentEvent) (paymentservice.Result, error)
}

// Handler разбирает сообщение очереди и передаёт событие в Applier.
// Неразбираемое сообщение, неизвестный платёж и неизвестный тариф
// не исправятся повторной доставкой и отбрасываются.
func Handler(svc Applier, log *slog.Logger) rabbitmq.Handler {
	return func(ctx context.Context, body []byte) error {
		const op = "paymentprocessor.Handler"
		var ev models.PaymentEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return rabbitmq.Permanent(fmt.Errorf("%s: %w: %v", op, paymentservice.ErrInvalidEvent, err))
		}
		res, err := svc.Apply(ctx, ev)
		switch {
		case errors.Is(err, paymentservice.ErrUnknownPayment),
			errors.Is(err, paymentservice.ErrUnknownPlan),
			errors.Is(err, paymentservice.ErrInvalidEvent):
			return rabbitmq.Permanent(fmt.Errorf("%s: %w", op, err))
		case err != nil:
			return fmt.Errorf("%s: %w", op, err)
		}
		log.Debug("payment event handled",
			slog.String("payment_id", ev.PaymentID),
			slog.Bool("applied", res.Applied),
			slog.Int("nodes_synced", res.Nodes.Succeeded()))
		return nil
	}
}

// App потребитель очереди платежей.
type App struct {
	platform *platform.Platform
	service  *paymentservice.Service
	conn     *amqp.Connection
	ch       *amqp.Channel
	workers  int
	logger   *slog.Logger
}

// New подключается к базе, Redis и брокеру.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "paymentprocessor.New"

	p, err := platform.Open(ctx, cfg, platform.Options{Nodes: true}, logger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	conn, err := rabbitmq.Connect(ctx, cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("%s: failed to connect RabbitMQ: %w", op, err)
	}
	ch, err := rabbitmq.SetupChannel(conn, cfg.Prefetch, rabbitmq.NotificationQueues())
	if err != nil {
		_ = conn.Close()
		p.Close()
		return nil, fmt.Errorf("%s: failed to setup RabbitMQ channel: %w", op, err)
	}

	provider := paymentprovider.NewClient(cfg.YooKassa, cfg.Gateway.RequestTimeout)
	svc := paymentservice.New(
		paymentservice.FromStorage(p.Storage),
		p.Storage,
		p.Ledger,
		p.Reconciler,
		provider,
		cfg.Subscription,
		cfg.YooKassa,
		logger,
	)

	return &App{
		platform: p,
		service:  svc,
		conn:     conn,
		ch:       ch,
		workers:  cfg.Prefetch,
		logger:   logger,
	}, nil
}

// Run потребляет очередь до отмены ctx.
func (a *App) Run(ctx context.Context) error {
	err := rabbitmq.ConsumerMessage(ctx, a.ch, rabbitmq.PaymentsQueue, a.workers, Handler(a.service, a.logger), a.logger)
	if err != nil {
		a.logger.Error("failed to start payments consumer", sl.Err(err))
		a.close()
		return err
	}

	<-ctx.Done()
	a.logger.Info("payment processor shutting down gracefully")
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
	a.platform.Close()
}
