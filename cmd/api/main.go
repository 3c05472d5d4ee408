package main

import (
	"context"
	"log"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"hiringflow/api"
	"hiringflow/auth"
	"hiringflow/config"
	"hiringflow/db"
	"hiringflow/gateway"
	"hiringflow/hiring"
)

func main() {
	ctx := context.Background()
	logger := log.New(os.Stdout, "INFO: ", log.LstdFlags)

	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if cfg.MigrationURL != "" {
		runMigrations(cfg.MigrationURL, cfg.PostgresConn)
	}

	pool, err := db.NewPool(ctx, cfg.PostgresConn)
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	store := hiring.NewPGStore(pool)
	gw := gateway.NewRedirectBuilder(cfg.GatewayURL, logger)
	hiringService := hiring.NewService(store, gw)
	authService := auth.NewService(auth.NewRepository(pool), cfg.JWTSecret)

	server := api.NewServer(hiringService, authService, logger)
	routes := server.Routes()

	logger.Printf("server is listening on %s...", cfg.ServerAddress)
	if err := routes.Start(cfg.ServerAddress); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

func runMigrations(migrationURL, dbSource string) {
	migration, err := migrate.New(migrationURL, dbSource)
	if err != nil {
		log.Fatal("cannot create a new migrate instance: ", err)
	}
	if err := migration.Up(); err != nil && err != migrate.ErrNoChange {
		log.Fatal("failed to run migrate up: ", err)
	}
	log.Println("db migrated successfully")
}
