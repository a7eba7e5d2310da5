package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vitalwatch/internal/config"
	"vitalwatch/internal/logger"
	"vitalwatch/internal/service"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// 1. Load .env if present (development convenience)
	_ = godotenv.Load()

	// 2. Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// 3. Initialize logging
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format, cfg.Log.File)
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	// 4. Create the service
	monitor, err := service.NewMonitorService(cfg, log)
	if err != nil {
		log.Fatal("Failed to create monitor service",
			zap.Error(err),
		)
	}

	// 5. Create the run context (graceful shutdown)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 6. Start the service
	if err := monitor.Start(ctx); err != nil {
		log.Fatal("Failed to start monitor service",
			zap.Error(err),
		)
	}

	// 7. Wait for a signal or a fatal server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down",
			zap.String("signal", sig.String()),
		)
	case err := <-monitor.Err():
		log.Error("HTTP server error",
			zap.Error(err),
		)
	}

	cancel()

	// 8. Graceful stop with a bounded window
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := monitor.Stop(stopCtx); err != nil {
		log.Error("Shutdown error",
			zap.Error(err),
		)
	}

	log.Info("Monitor service stopped")
}
