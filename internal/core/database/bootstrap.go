package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"
)

//go:embed scripts/initdb.sql
var bootstrapFS embed.FS

const (
	schemaVersion = 2
	// bootstrapLockKey serializes schema setup across replicas starting together.
	bootstrapLockKey = 0x1a51_9417
)

// EnsureBootstrapped applies scripts/initdb.sql once per schema version.
// The check and the apply share one transaction holding an advisory lock,
// so concurrent starters wait instead of racing on CREATE statements.
func EnsureBootstrapped(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin bootstrap: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, bootstrapLockKey); err != nil {
		return fmt.Errorf("bootstrap lock: %w", err)
	}

	current, err := appliedVersion(ctx, tx)
	if err != nil {
		return err
	}
	if current >= schemaVersion {
		return tx.Commit()
	}

	script, err := bootstrapFS.ReadFile("scripts/initdb.sql")
	if err != nil {
		return fmt.Errorf("read initdb.sql: %w", err)
	}
	if _, err := tx.ExecContext(ctx, string(script)); err != nil {
		return fmt.Errorf("apply schema v%d: %w", schemaVersion, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit bootstrap: %w", err)
	}
	return nil
}

// appliedVersion returns the newest recorded schema version, 0 when the
// meta table does not exist yet.
func appliedVersion(ctx context.Context, tx *sql.Tx) (int, error) {
	var table sql.NullString
	if err := tx.QueryRowContext(ctx, `SELECT to_regclass('insightai_meta')::text`).Scan(&table); err != nil {
		return 0, fmt.Errorf("meta table check failed: %w", err)
	}
	if !table.Valid {
		return 0, nil
	}
	var version sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(version) FROM insightai_meta`).Scan(&version); err != nil {
		return 0, fmt.Errorf("meta version check failed: %w", err)
	}
	return int(version.Int64), nil
}
