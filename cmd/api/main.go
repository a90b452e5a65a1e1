package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trialsim/internal/api"
	"trialsim/internal/config"
	"trialsim/internal/container"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	appConfig, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := container.New(ctx, appConfig)
	if err != nil {
		log.Fatalf("Failed to create application container: %v", err)
	}
	c.Start()

	srv := &http.Server{
		Addr:              ":" + appConfig.Server.APIPort,
		Handler:           api.NewRouter(c.API, c.SSEHub, c.Metrics),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if appConfig.Profiling.Enabled {
		go func() {
			addr := "localhost:" + appConfig.Profiling.Port
			c.Logger.Info("pprof listening on %s", addr)
			if err := http.ListenAndServe(addr, middleware.Profiler()); err != nil {
				c.Logger.Warn("pprof server stopped: %v", err)
			}
		}()
	}

	go func() {
		c.Logger.Info("API listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.Logger.Error("API server failed: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	c.Logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), appConfig.Server.ShutdownTimeout)
	defer cancel()
	c.SSEHub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		c.Logger.Warn("API shutdown: %v", err)
	}
	if err := c.Close(shutdownCtx); err != nil {
		c.Logger.Warn("container shutdown: %v", err)
	}
}
