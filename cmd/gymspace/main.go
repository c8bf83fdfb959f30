package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"gymspace/internal/amqp"
	"gymspace/internal/backend"
	"gymspace/internal/backend/memory"
	"gymspace/internal/backend/rest"
	"gymspace/internal/cache"
	"gymspace/internal/caja"
	"gymspace/internal/cli"
	apphttp "gymspace/internal/http"
	"gymspace/internal/log"
	"gymspace/internal/services"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), log.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger)

	factory := backend.NewFactory(logger.Logger).
		Register(backend.RESTBackend, rest.NewFromConfig).
		Register(backend.MemoryBackend, memory.NewFromConfig)
	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", "error", err)
		os.Exit(1)
	}
	api, err := factory.Create(backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", "error", err, "backend", cfg.DataBackend)
		os.Exit(1)
	}

	mirror, err := cli.InitMirror(cfg)
	if err != nil {
		logger.Error("Failed to initialize session mirror", "error", err, "mirror", cfg.MirrorBackend)
		os.Exit(1)
	}

	schedule, err := services.LoadShiftSchedule(cfg.ShiftScheduleFile)
	if err != nil {
		logger.Error("Failed to load shift schedule", "error", err, "path", cfg.ShiftScheduleFile)
		os.Exit(1)
	}

	// Events are best effort: without a broker the service still runs.
	var (
		publisher  caja.EventPublisher
		amqpClient *amqp.Client
	)
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("AMQP unavailable, caja events disabled", "error", err)
		} else {
			publisher = amqp.NewCajaPublisher(amqpClient)
			logger.Info("AMQP publisher ready", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		}
	}

	workflow, err := caja.New(caja.Options{
		Backend:      api,
		Cache:        mirror,
		Schedule:     schedule,
		Publisher:    publisher,
		Logger:       logger.WithComponent(log.ComponentCaja),
		ErrorDisplay: cfg.ErrorDisplay,
		SyncTimeout:  cfg.APITimeout,
	})
	if err != nil {
		logger.Error("Failed to initialize caja workflow", "error", err)
		os.Exit(1)
	}

	startCtx, startCancel := context.WithTimeout(context.Background(), cfg.APITimeout)
	if err := workflow.Restore(startCtx); err != nil {
		logger.Warn("Session mirror restore failed", "error", err)
	}
	if err := workflow.Sync(startCtx); err != nil {
		logger.Warn("Initial session sync failed, state will refresh on next sync", "error", err)
	}
	startCancel()

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Options{
		Workflow:         workflow,
		Payments:         api,
		Mirror:           mirror,
		Logger:           logger.WithComponent(log.ComponentHTTP),
		AllowedOrigin:    cfg.AllowedOrigin,
		RateLimitPerMin:  cfg.RateLimitPerMin,
		PaymentsCacheTTL: cfg.PaymentsCacheTTL,
	})
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = cfg.APITimeout + 10*time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	cacheManager := cache.NewManager()
	if c := srv.PaymentsCache(); c != nil {
		cacheManager.Register(c)
	}
	cacheManager.StartCleanup(5 * time.Minute)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		cacheManager.Stop()
		if amqpClient != nil {
			if err := amqpClient.Close(); err != nil {
				logger.Warn("AMQP close error", "error", err)
			}
		}
		if err := mirror.Close(); err != nil {
			logger.Warn("Mirror close error", "error", err)
		}
	})

	logger.Info("Starting gymspace caja service",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"mirror", cfg.MirrorBackend,
		"shift", workflow.Snapshot().Shift.String())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
