package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/spf13/cobra"

	httpapi "github.com/i474232898/hydro-data-aggregation/internal/api/http"
	"github.com/i474232898/hydro-data-aggregation/internal/logger"
	"github.com/i474232898/hydro-data-aggregation/internal/scheduler"
	"github.com/i474232898/hydro-data-aggregation/internal/store"
)

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.cfg

	// In-memory store with configured retention.
	memStore := store.NewMemoryStore(cfg.StoreMaxHistory, cfg.StoreMaxAge)

	// Scheduler that periodically replays the watched quick-looks.
	sched := scheduler.New(scheduler.Config{
		QuickLooks: cfg.Watch.QuickLooks,
		Interval:   cfg.Watch.Interval,
		Window:     cfg.Watch.Window,
		Internal:   cfg.Query.Internal,
		Timeout:    cfg.Query.Timeout,
	}, a.service, a.quickLooks, memStore, logger.Get("scheduler"))
	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop()

	app := fiber.New(fiber.Config{
		AppName:               "hydro-data-aggregation",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		// Queries may run up to the orchestrator timeout.
		WriteTimeout: cfg.Query.Timeout + 10*time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	app.Use(fiberlogger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":         "ok",
			"service":        "hydro-data-aggregation",
			"catalogEntries": a.catalog.Len(),
			"activeQueries":  a.service.Registry().ActiveCount(),
		})
	})

	httpapi.RegisterRoutes(app, &httpapi.Handlers{
		Service:    a.service,
		QuickLooks: a.quickLooks,
		Catalog:    a.catalog,
		Watch:      memStore,
		Internal:   cfg.Query.Internal,
	})

	go func() {
		a.logger.Info().Str("port", cfg.Port).Msg("HTTP server listening")
		if err := app.Listen(":" + cfg.Port); err != nil {
			a.logger.Error().Err(err).Msg("Fiber server stopped")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		a.logger.Warn().Err(err).Msg("Error during shutdown")
	}
	return nil
}
