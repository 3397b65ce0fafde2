// Command migrate applies the embedded schema migrations.
//
//	migrate [up|down|status]
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/DanFrunza/Public-Data-Explorer/internal/config"
	"github.com/DanFrunza/Public-Data-Explorer/internal/logging"
	"github.com/DanFrunza/Public-Data-Explorer/internal/migrations"
)

var commands = map[string]func(context.Context, *sql.DB) error{
	"up":     migrations.Up,
	"down":   migrations.Down,
	"status": migrations.Status,
}

func main() {
	cfg := config.Load()
	logger, err := logging.New(cfg.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	command := "up"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	if cfg.Database.URL == "" {
		logger.Fatal("DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	if err := runCommand(ctx, command, db); err != nil {
		logger.Fatal("migration failed", zap.String("command", command), zap.Error(err))
	}
	logger.Info("migration finished", zap.String("command", command))
}

func runCommand(ctx context.Context, command string, db *sql.DB) error {
	fn, ok := commands[command]
	if !ok {
		return fmt.Errorf("unknown command %q (want up, down or status)", command)
	}
	return fn(ctx, db)
}
