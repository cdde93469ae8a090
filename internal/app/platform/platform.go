// Package platform открывает инфраструктуру, общую для сервисов:
// PostgreSQL, Redis, пул клиентов узлов и сверку учётных записей.
package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/gateway-keeper/internal/cache"
	"github.com/magabrotheeeer/gateway-keeper/internal/config"
	"github.com/magabrotheeeer/gateway-keeper/internal/gateway"
	"github.com/magabrotheeeer/gateway-keeper/internal/lib/retry"
	"github.com/magabrotheeeer/gateway-keeper/internal/lib/secret"
	"github.com/magabrotheeeer/gateway-keeper/internal/lib/sl"
	"github.com/magabrotheeeer/gateway-keeper/internal/migrations"
	"github.com/magabrotheeeer/gateway-keeper/internal/services/ledger"
	"github.com/magabrotheeeer/gateway-keeper/internal/services/reconciler"
	"github.com/magabrotheeeer/gateway-keeper/internal/storage/repository"
)

const (
	dbReadyAttempts = 10
	dbReadyDelay    = 3 * time.Second
)

// Options что открывать помимо базы данных.
type Options struct {
	// Migrate применяет миграции при старте.
	Migrate bool
	// Nodes открывает Redis, пул клиентов узлов и сверку.
	Nodes bool
}

// Platform открытые зависимости. Поля, не запрошенные в Options, равны nil.
type Platform struct {
	Storage    *repository.Storage
	Cache      *cache.Cache
	Pool       *gateway.Pool
	Reconciler *reconciler.Reconciler
	Ledger     *ledger.Ledger

	log *slog.Logger
}

// Open открывает зависимости. При ошибке уже открытое закрывается.
func Open(ctx context.Context, cfg *config.Config, opts Options, log *slog.Logger) (*Platform, error) {
	const op = "platform.Open"

	sealer, err := secret.New(cfg.Gateway.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	st, err := repository.New(cfg.StorageConnectionString, sealer)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	p := &Platform{Storage: st, log: log}

	// Сервис с миграциями ждёт только соединения, остальные ждут готовой схемы.
	ready := func(ctx context.Context) error { return repository.CheckDatabaseReady(ctx, st) }
	if opts.Migrate {
		ready = st.DB.PingContext
	}
	if err := waitForDB(ctx, ready, log); err != nil {
		p.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if opts.Migrate {
		version, err := migrations.Run(st.DB, cfg.MigrationsPath)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		log.Info("migrations applied", slog.Uint64("version", uint64(version)))
	}

	p.Ledger = ledger.New(ledger.FromStorage(st), cfg.TrialDuration, log)

	if !opts.Nodes {
		return p, nil
	}

	p.Cache, err = cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	p.Pool = gateway.NewPool(GatewayConfig(cfg.Gateway), log)
	p.Reconciler = reconciler.New(
		reconciler.PoolSource(p.Pool),
		st,
		reconciler.RedisLocker(p.Cache, cfg.LockTTL),
		reconciler.Options{
			NodeTimeout: cfg.Gateway.NodeTimeout,
			MaxParallel: cfg.Gateway.MaxParallelNode,
		},
		log,
	)
	return p, nil
}

// GatewayConfig общие параметры клиентов узлов из конфига.
func GatewayConfig(cfg config.Gateway) gateway.Config {
	return gateway.Config{
		ConnectTimeout: cfg.ConnectTimeout,
		RequestTimeout: cfg.RequestTimeout,
		Retry: retry.Policy{
			MaxAttempts:    cfg.MaxAttempts,
			InitialBackoff: cfg.InitialBackoff,
			MaxBackoff:     cfg.MaxBackoff,
		},
		VerifyDelay:    cfg.VerifyDelay,
		RequestsPerSec: cfg.RequestsPerSec,
		Burst:          cfg.Burst,
	}
}

// Close освобождает всё открытое.
func (p *Platform) Close() {
	if p.Pool != nil {
		p.Pool.Close()
	}
	if p.Cache != nil {
		if err := p.Cache.Close(); err != nil {
			p.log.Error("failed to close redis", sl.Err(err))
		}
	}
	if p.Storage != nil {
		if err := p.Storage.Close(); err != nil {
			p.log.Error("failed to close storage", sl.Err(err))
		}
	}
}

func waitForDB(ctx context.Context, ready func(ctx context.Context) error, log *slog.Logger) error {
	var err error
	for attempt := 1; attempt <= dbReadyAttempts; attempt++ {
		if err = ready(ctx); err == nil {
			return nil
		}
		log.Warn("database not ready", slog.Int("attempt", attempt), sl.Err(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(dbReadyDelay):
		}
	}
	return errors.Join(errors.New("database not ready after retries"), err)
}
