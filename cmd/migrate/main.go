package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"trialsim/adapters/postgres"
	"trialsim/internal/config"
	"trialsim/internal/container"
	"trialsim/internal/migration"

	"github.com/joho/godotenv"
)

func main() {
	databaseURL := flag.String("database-url", "", "Postgres URL (defaults to DATABASE_URL)")
	timeout := flag.Duration("timeout", 30*time.Second, "overall migration timeout")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	url := *databaseURL
	if url == "" {
		url = os.Getenv("DATABASE_URL")
	}
	if url == "" {
		log.Fatal("Usage: migrate -database-url <url> (or set DATABASE_URL)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := container.Connect(ctx, config.DatabaseConfig{URL: url, MaxOpenConns: 2, ConnectTimeout: *timeout})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	runner := migration.NewRunner()
	log.Printf("Applying schema %s", runner.Version())
	if err := runner.Run(ctx, db); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	user, err := postgres.NewUserRepository(db).GetOrCreateDefaultUser(ctx)
	if err != nil {
		log.Fatalf("Failed to get/create default user: %v", err)
	}
	stats, err := postgres.NewRunRepository(db).GetUserRunStats(ctx, user.ID)
	if err != nil {
		log.Fatalf("Failed to read run stats: %v", err)
	}
	log.Printf("Migration complete: user %s (%s) has %d stored runs", user.Username, user.ID, stats.TotalRuns)
}
