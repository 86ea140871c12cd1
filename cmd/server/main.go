package main

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/atelierhq/atelier/internal/app"
	"github.com/atelierhq/atelier/internal/config"
	"github.com/atelierhq/atelier/internal/logger"
	"github.com/atelierhq/atelier/internal/routes"
)

func main() {
	cfg := config.Load()

	logger.Init(cfg.IsDevelopment(), cfg.SentryDSN)

	app, err := app.New(cfg)
	if err != nil {
		slog.Error("failed to initialize app", "error", err)
		panic(err)
	}
	defer func() {
		closeErr := app.Close()
		if closeErr != nil {
			slog.Error("failed to close app", "error", closeErr)
		}
	}()

	handler := routes.SetupRoutes(app)
	slog.Info("server starting", "port", cfg.Port, "env", cfg.AppEnv)
	slog.Debug("config", "values", fmt.Sprintf("%+v", cfg.Sanitized()))

	err = http.ListenAndServe(":"+cfg.Port, handler)
	if err != nil {
		slog.Error("server failed", "error", err)
		panic(err)
	}
}
