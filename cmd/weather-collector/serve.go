package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httpapi "github.com/i474232898/weather-collector/internal/api/http"
	"github.com/i474232898/weather-collector/internal/collector"
	"github.com/i474232898/weather-collector/internal/config"
	"github.com/i474232898/weather-collector/internal/logging"
	"github.com/i474232898/weather-collector/internal/metrics"
	"github.com/i474232898/weather-collector/internal/scheduler"
	"github.com/i474232898/weather-collector/internal/store"
	"github.com/i474232898/weather-collector/internal/weather"
)

func newServeCmd() *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the collector scheduler and HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if port != "" {
				cfg.Port = port
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "HTTP listen port (overrides PORT)")
	return cmd
}

func serve(ctx context.Context, cfg *config.AppConfig) error {
	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, Dir: cfg.LogDir})
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck // stdout sync fails on some terminals

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Shared HTTP client for outbound provider and store calls.
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	provs, cacheClosers, err := buildProviders(ctx, cfg, httpClient, logger)
	if err != nil {
		return err
	}
	defer closeAll(cacheClosers, logger)

	backend, err := buildBackend(cfg, httpClient)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.StoreBackend, err)
	}
	gateway := store.NewGateway(backend, store.AuthBackoff, logger, m)
	defer gateway.Close()

	sinks, sinkClosers := buildSinks(cfg, logger)
	defer closeAll(sinkClosers, logger)

	source := weather.NewService(provs, logger)
	task := collector.NewTask(source, gateway, sinks, logger, m)
	registry := collector.NewRegistry(task, cfg.DefaultInterval, logger, m)
	service := collector.NewService(gateway, registry, cfg.DefaultInterval, logger)
	defer service.Shutdown()

	restorer := scheduler.New(service.Restore, store.AuthBackoff.InitialInterval, logger)
	if err := restorer.Start(); err != nil {
		return fmt.Errorf("failed to schedule restore: %w", err)
	}
	defer restorer.Stop()

	app := fiber.New(fiber.Config{
		AppName:               "weather-collector",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          cfg.HTTPTimeout + 5*time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
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

	app.Use(recover.New())
	app.Use(requestLogger(logger))
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	httpapi.RegisterRoutes(app, httpapi.Dependencies{
		Collectors: service,
		Readings:   gateway,
		Source:     source,
		Health:     gateway,
	})

	go func() {
		logger.Info("http server listening", zap.String("port", cfg.Port))
		if err := app.Listen(":" + cfg.Port); err != nil {
			logger.Error("fiber server stopped", zap.Error(err))
		}
	}()

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("error during shutdown", zap.Error(err))
	}
	return nil
}

func requestLogger(logger *zap.Logger) fiber.Handler {
	log := logger.Named("http")
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		status := c.Response().StatusCode()
		if e, ok := err.(*fiber.Error); ok {
			status = e.Code
		}
		log.Info("request",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)))
		return err
	}
}
