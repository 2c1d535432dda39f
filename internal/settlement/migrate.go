package settlement

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/udisondev/wagerboard/internal/settlement/migrations"
)

var gooseOnce sync.Once

// RunMigrations applies the embedded ledger-table migrations to dsn via
// goose, the same embed-FS migration runner shape as the teacher's
// internal/db.RunMigrations.
func RunMigrations(ctx context.Context, dsn string) error {
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("settlement: opening sql connection for migrations: %w", err)
	}
	defer sqlDB.Close()

	var dialectErr error
	gooseOnce.Do(func() {
		goose.SetBaseFS(migrations.FS)
		dialectErr = goose.SetDialect("postgres")
	})
	if dialectErr != nil {
		return fmt.Errorf("settlement: setting goose dialect: %w", dialectErr)
	}

	if err := goose.UpContext(ctx, sqlDB, "."); err != nil {
		return fmt.Errorf("settlement: running migrations: %w", err)
	}
	return nil
}
