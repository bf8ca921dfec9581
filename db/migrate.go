package db

import (
	"context"
	"embed"
	"fmt"
	"os"
	"strings"

	"github.com/pressly/goose/v3"

	"sms-server-go/logger"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrations embed.FS

// gooseLogger routes goose output through the structured logger.
type gooseLogger struct{}

func (gooseLogger) Printf(format string, v ...interface{}) {
	logger.LogInfo(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "migrate")
}

func (gooseLogger) Fatalf(format string, v ...interface{}) {
	logger.LogError("Migration failed", fmt.Errorf(format, v...), "component", "migrate")
	os.Exit(1)
}

func (s *Store) setupGoose() (string, error) {
	goose.SetBaseFS(migrations)
	goose.SetLogger(gooseLogger{})
	if err := goose.SetDialect(string(s.dialect)); err != nil {
		return "", fmt.Errorf("failed to set dialect: %w", err)
	}
	return "migrations/" + string(s.dialect), nil
}

// Migrate applies all pending migrations.
func (s *Store) Migrate(ctx context.Context) error {
	dir, err := s.setupGoose()
	if err != nil {
		return err
	}
	if err := goose.UpContext(ctx, s.sqldb, dir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// ResetSchema rolls every migration back and applies them again.
// All data is lost.
func (s *Store) ResetSchema(ctx context.Context) error {
	dir, err := s.setupGoose()
	if err != nil {
		return err
	}
	logger.LogWarn("Resetting database schema", "dialect", s.dialect)
	if err := goose.ResetContext(ctx, s.sqldb, dir); err != nil {
		return fmt.Errorf("failed to reset schema: %w", err)
	}
	if err := goose.UpContext(ctx, s.sqldb, dir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// MigrationStatus logs the state of every known migration.
func (s *Store) MigrationStatus(ctx context.Context) error {
	dir, err := s.setupGoose()
	if err != nil {
		return err
	}
	if err := goose.StatusContext(ctx, s.sqldb, dir); err != nil {
		return fmt.Errorf("failed to read migration status: %w", err)
	}
	return nil
}

// SchemaVersion returns the current migration version.
func (s *Store) SchemaVersion(ctx context.Context) (int64, error) {
	if _, err := s.setupGoose(); err != nil {
		return 0, err
	}
	return goose.GetDBVersionContext(ctx, s.sqldb)
}
