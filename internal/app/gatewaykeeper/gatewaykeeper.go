// Package gatewaykeeper собирает HTTP API: административные операции над абонентами
// и узлами, создание платежей и приём вебхука провайдера.
package gatewaykeeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/streadway/amqp"
	"golang.org/x/time/rate"

	"github.com/magabrotheeeer/gateway-keeper/internal/app/platform"
	"github.com/magabrotheeeer/gateway-keeper/internal/config"
	"github.com/magabrotheeeer/gateway-keeper/internal/http/handlers/health"
	"github.com/magabrotheeeer/gateway-keeper/internal/lib/jwt"
	"github.com/magabrotheeeer/gateway-keeper/internal/lib/sl"
	"github.com/magabrotheeeer/gateway-keeper/internal/paymentprovider"
	"github.com/magabrotheeeer/gateway-keeper/internal/rabbitmq"
	identityservice "github.com/magabrotheeeer/gateway-keeper/internal/services/identity"
	nodeservice "github.com/magabrotheeeer/gateway-keeper/internal/services/nodes"
	paymentservice "github.com/magabrotheeeer/gateway-keeper/internal/services/payment"
)

const shutdownTimeout = 15 * time.Second

// App HTTP-сервер и его зависимости.
type App struct {
	server   *http.Server
	logger   *slog.Logger
	platform *platform.Platform
	conn     *amqp.Connection
	ch       *amqp.Channel
}

// New открывает хранилище, применяет миграции, подключается к Redis и брокеру
// и регистрирует маршруты.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "gatewaykeeper.New"

	tokens, err := jwt.NewJWTMaker(cfg.JWTSecretKey, cfg.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	p, err := platform.Open(ctx, cfg, platform.Options{Migrate: true, Nodes: true}, logger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	conn, err := rabbitmq.Connect(ctx, cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	ch, err := rabbitmq.SetupChannel(conn, cfg.Prefetch, rabbitmq.NotificationQueues())
	if err != nil {
		_ = conn.Close()
		p.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	st := p.Storage
	provider := paymentprovider.NewClient(cfg.YooKassa, cfg.Gateway.RequestTimeout)

	deps := Deps{
		Identity:      identityservice.New(st, p.Ledger, p.Reconciler, logger),
		Nodes:         nodeservice.New(st, nodeservice.PoolSource(p.Pool), cfg.Gateway.NodeTimeout, logger),
		Payment:       paymentservice.New(paymentservice.FromStorage(st), st, p.Ledger, p.Reconciler, provider, cfg.Subscription, cfg.YooKassa, logger),
		Tokens:        tokens,
		Publisher:     rabbitmq.NewPublisher(ch),
		WebhookSecret: cfg.WebhookSecret,
		WebhookLimit:  rate.NewLimiter(rate.Limit(cfg.WebhookRPS), cfg.WebhookBurst),
		Health: map[string]health.Check{
			"postgres": st.DB.PingContext,
			"redis":    p.Cache.Ping,
			"rabbitmq": func(context.Context) error {
				if conn.IsClosed() {
					return errors.New("connection closed")
				}
				return nil
			},
		},
	}

	if cfg.WebhookSecret == "" {
		logger.Warn("webhook secret is empty, signatures are not verified")
	}

	router := chi.NewRouter()
	RegisterRoutes(router, logger, deps)

	srv := &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.Gateway.NodeTimeout + cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &App{
		server:   srv,
		logger:   logger,
		platform: p,
		conn:     conn,
		ch:       ch,
	}, nil
}

// Run обслуживает запросы до отмены ctx, затем останавливает сервер.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		err = a.server.Shutdown(timeoutCtx)
	}
	a.close()
	return err
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
