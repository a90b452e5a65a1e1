package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"trialsim/internal/config"
	"trialsim/internal/container"
	apperrors "trialsim/internal/errors"
	"trialsim/ui"

	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	appConfig, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appContainer, err := container.New(ctx, appConfig)
	if err != nil {
		log.Fatalf("Failed to create application container (%s): %v", apperrors.GetCode(err), err)
	}
	appContainer.Start()
	logger := appContainer.Logger

	server := ui.NewServer(appContainer.API, appContainer.SSEHub, ui.Options{
		GinMode:   appConfig.Server.GinMode,
		Profiling: appConfig.Profiling.Enabled,
		Users:     appContainer.UserRepo,
		Metrics:   appContainer.Metrics,
		Logger:    logger,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(appConfig.Server.Port)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), appConfig.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown: %v", err)
	}
	if err := appContainer.Close(shutdownCtx); err != nil {
		logger.Warn("container shutdown: %v", err)
	}
}
