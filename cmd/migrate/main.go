package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ignite/campaign-engine/internal/config"
	"github.com/ignite/campaign-engine/internal/repository/postgres"
)

func main() {
	for _, a := range os.Args[1:] {
		if a == "--print" {
			fmt.Print(postgres.Schema())
			return
		}
	}

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL is required")
	}

	db, err := postgres.Open(config.DatabaseConfig{URL: dsn, MaxOpenConns: 1, MaxIdleConns: 1, ConnMaxLifetime: 5})
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("ping: %v", err)
	}
	log.Println("Connected to database")

	if err := postgres.Migrate(ctx, db); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	log.Println("Schema applied")
}
