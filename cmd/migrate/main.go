package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/marketplace-escrow/pkg/config"
	"github.com/angelmondragon/marketplace-escrow/pkg/db"
	"github.com/angelmondragon/marketplace-escrow/pkg/logger"
	"github.com/angelmondragon/marketplace-escrow/pkg/migrate"
)

const usage = `usage: migrate <command> [flags]

commands:
  up | down | status | redo   run goose against the embedded migrations
  to -version=N               move the schema to version N (YYYYMMDDHHMMSS)
  create -name=NAME           write a new SQL migration into -dir
  validate                    check the SQL files in -dir and the embedded set`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	command := os.Args[1]

	fs := flag.NewFlagSet(command, flag.ExitOnError)
	dir := fs.String("dir", migrate.DefaultDir, "migrations directory on disk (create, validate)")
	name := fs.String("name", "", "migration name (create)")
	version := fs.String("version", "", "target version (to)")
	_ = fs.Parse(os.Args[2:])

	logg := logger.New(logger.Options{ServiceName: "migrate"})
	ctx := logg.WithField(context.Background(), "cmd", command)

	// offline commands
	switch command {
	case "create":
		path, err := migrate.CreateSQLMigration(*dir, *name, time.Now())
		exitOn(ctx, logg, "create migration", err)
		fmt.Println("created migration:", path)
		return
	case "validate":
		exitOn(ctx, logg, "validate "+*dir, migrate.ValidateDir(*dir))
		exitOn(ctx, logg, "validate embedded migrations", migrate.ValidateEmbedded())
		fmt.Println("migration validation passed")
		return
	}

	_ = godotenv.Load()
	cfg, err := config.Load()
	exitOn(ctx, logg, "load config", err)
	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       cfg.App.LogLevel,
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx = logg.WithFields(context.Background(), map[string]any{"env": cfg.App.Env, "cmd": command})

	if cfg.DB.Driver == db.DriverSQLite {
		exitOn(ctx, logg, "goose", fmt.Errorf("driver %q is migrated with AutoMigrate, not goose", cfg.DB.Driver))
	}

	dbClient, err := db.New(ctx, cfg.DB, logg)
	exitOn(ctx, logg, "connect database", err)
	defer dbClient.Close()
	sqlDB, err := dbClient.DB().DB()
	exitOn(ctx, logg, "unwrap sql.DB", err)

	switch command {
	case migrate.CmdUp, migrate.CmdDown, migrate.CmdStatus, migrate.CmdRedo:
		err = migrate.Run(ctx, sqlDB, command)
	case "to":
		target, perr := strconv.ParseInt(*version, 10, 64)
		if perr != nil {
			exitOn(ctx, logg, "parse -version", fmt.Errorf("expected YYYYMMDDHHMMSS: %w", perr))
		}
		err = migrate.ToVersion(ctx, sqlDB, target)
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	exitOn(ctx, logg, "goose "+command, err)
	logg.Info(ctx, "migrate finished")
}

func exitOn(ctx context.Context, logg *logger.Logger, step string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, step+" failed", err)
	os.Exit(1)
}
