// Package main Gateway Keeper API
//
// @title           Gateway Keeper API
// @version         1.0
// @description     Администрирование абонентов VPN: пробный период, оплата, синхронизация учётных записей на узлах.

// @host      localhost:8080
// @BasePath  /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/magabrotheeeer/gateway-keeper/docs"
	"github.com/magabrotheeeer/gateway-keeper/internal/app/gatewaykeeper"
	"github.com/magabrotheeeer/gateway-keeper/internal/config"
	"github.com/magabrotheeeer/gateway-keeper/internal/lib/sl"
)

func main() {
	cfg := config.MustLoad()
	logger := sl.New(cfg.Env)

	logger.Info("starting gateway-keeper", slog.String("env", cfg.Env))
	logger.Debug("config loaded", slog.String("config", cfg.String()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := gatewaykeeper.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize app", sl.Err(err))
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("app stopped with error", sl.Err(err))
		os.Exit(1)
	}

	logger.Info("gateway-keeper stopped gracefully")
}
