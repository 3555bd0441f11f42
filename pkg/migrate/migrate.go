package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

// DefaultDir is the on-disk location of the SQL files, used by create and validate.
const DefaultDir = "pkg/migrate/migrations"

//go:embed migrations/*.sql
var embedded embed.FS

const embeddedDir = "migrations"

// Goose commands accepted by Run.
const (
	CmdUp     = "up"
	CmdDown   = "down"
	CmdStatus = "status"
	CmdRedo   = "redo"
)

func useEmbedded() error {
	goose.SetBaseFS(embedded)
	// goose migrations are Postgres only; sqlite uses AutoMigrateModels
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	return nil
}

// Run executes a goose command against the migrations compiled into the binary.
func Run(ctx context.Context, db *sql.DB, command string) error {
	if db == nil {
		return fmt.Errorf("db is required")
	}
	switch command {
	case CmdUp, CmdDown, CmdStatus, CmdRedo:
	default:
		return fmt.Errorf("unsupported goose command %q", command)
	}
	if err := useEmbedded(); err != nil {
		return err
	}
	if err := goose.RunContext(ctx, command, db, embeddedDir); err != nil {
		return fmt.Errorf("goose %s: %w", command, err)
	}
	return nil
}

// ToVersion moves the schema up or down until it sits at target.
func ToVersion(ctx context.Context, db *sql.DB, target int64) error {
	if db == nil {
		return fmt.Errorf("db is required")
	}
	if err := useEmbedded(); err != nil {
		return err
	}

	current, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return fmt.Errorf("get db version: %w", err)
	}

	switch {
	case current == target:
		return nil
	case current < target:
		if err := goose.UpToContext(ctx, db, embeddedDir, target); err != nil {
			return fmt.Errorf("goose up-to %d: %w", target, err)
		}
	default:
		if err := goose.DownToContext(ctx, db, embeddedDir, target); err != nil {
			return fmt.Errorf("goose down-to %d: %w", target, err)
		}
	}
	return nil
}
