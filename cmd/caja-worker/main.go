package main

import (
	"context"
	"errors"
	"os"
	"time"

	"gymspace/internal/amqp"
	"gymspace/internal/cache"
	"gymspace/internal/cli"
	"gymspace/internal/log"
	"gymspace/internal/sheets"
	gsheet "gymspace/internal/sheets/google"
	memsheet "gymspace/internal/sheets/memory"
	"gymspace/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), log.ComponentWorker)
	cfg := cli.LoadAndValidateConfig(logger)

	logger.Info("Starting caja-worker")

	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the worker")
		os.Exit(1)
	}

	var writer sheets.SettlementWriter
	switch {
	case cfg.GoogleSpreadsheetID != "":
		client, err := gsheet.New(context.Background(), cfg.GoogleSpreadsheetID, cfg.GoogleSheetName)
		if err != nil {
			logger.Error("Failed to initialize Google Sheets client", "error", err)
			os.Exit(1)
		}
		writer = client
		logger.Info("Google Sheets export enabled", "spreadsheet_id", cfg.GoogleSpreadsheetID, "sheet", cfg.GoogleSheetName)
	case cfg.DataBackend == "memory":
		writer = memsheet.New()
		logger.Info("Exporting settlements to memory")
	default:
		logger.Info("Settlement export disabled - no GOOGLE_SPREADSHEET_ID provided")
	}

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}

	exportWorker := worker.NewExportWorker(writer)
	cacheManager := cache.NewManager()
	cacheManager.Register(exportWorker.Cache())
	cacheManager.StartCleanup(time.Hour)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(context.Context) {
		logger.Info("Shutting down worker...")
		cacheManager.Stop()
	})

	consumeErr := make(chan error, 1)
	go func() {
		consumeErr <- amqpClient.ConsumeCajaEvents(ctx, exportWorker.HandleEvent)
	}()

	select {
	case <-ctx.Done():
		<-done
	case err := <-consumeErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Message consumption failed", "error", err)
		}
		cacheManager.Stop()
	}

	if err := amqpClient.Close(); err != nil {
		logger.Warn("AMQP close error", "error", err)
	}
	logger.Info("Worker shutdown complete")
}
