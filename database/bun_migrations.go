package database

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

type migration struct {
	version string
	name    string
	up      func(context.Context, *bun.DB) error
}

var migrations = []migration{
	{"001", "create_exports_table", init001CreateExportsTable},
	{"002", "create_jobs_table", init002CreateJobsTable},
}

func isPostgres(db *bun.DB) bool {
	return db.Dialect().Name() == dialect.PG
}

// runMigrations runs all Bun migrations that have not been applied yet
func runMigrations(ctx context.Context, db *bun.DB) error {
	// Create a simple migrations tracking table
	idColumn := "id INTEGER PRIMARY KEY AUTOINCREMENT"
	if isPostgres(db) {
		idColumn = "id SERIAL PRIMARY KEY"
	}
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS bun_schema_migrations (
			`+idColumn+`,
			version TEXT NOT NULL UNIQUE,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	// Check which migrations have been applied
	type AppliedMigration struct {
		bun.BaseModel `bun:"table:bun_schema_migrations"`
		Version       string `bun:"version"`
	}
	var applied []AppliedMigration
	err = db.NewSelect().
		Model(&applied).
		Column("version").
		Scan(ctx)
	if err != nil {
		return fmt.Errorf("failed to check applied migrations: %w", err)
	}

	appliedMap := make(map[string]bool)
	for _, m := range applied {
		appliedMap[m.Version] = true
	}

	for _, m := range migrations {
		if appliedMap[m.version] {
			continue
		}

		Logger.Info("Running migration", "version", m.version, "name", m.name)
		if err := m.up(ctx, db); err != nil {
			return fmt.Errorf("failed to run migration %s: %w", m.version, err)
		}

		// Mark as applied
		_, err = db.NewInsert().
			Model(&AppliedMigration{Version: m.version}).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to mark migration %s as applied: %w", m.version, err)
		}
	}

	Logger.Info("All migrations completed successfully")
	return nil
}

// Migration 001: Create exports table
func init001CreateExportsTable(ctx context.Context, db *bun.DB) error {
	blobType := "BLOB"
	if isPostgres(db) {
		blobType = "BYTEA"
	}

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS exports (
			id TEXT PRIMARY KEY,
			filename TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT '',
			page_size TEXT NOT NULL DEFAULT 'A4',
			page_count INTEGER NOT NULL DEFAULT 0,
			page_width_mm DOUBLE PRECISION NOT NULL,
			page_height_mm DOUBLE PRECISION NOT NULL,
			raster_width INTEGER NOT NULL,
			raster_height INTEGER NOT NULL,
			scale DOUBLE PRECISION NOT NULL,
			size_bytes INTEGER NOT NULL,
			pages TEXT NOT NULL DEFAULT '[]',
			pdf `+blobType+`,
			job_id TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create exports table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_exports_created_at ON exports(created_at DESC)",
		"CREATE INDEX IF NOT EXISTS idx_exports_job_id ON exports(job_id)",
	}
	for _, idx := range indexes {
		if _, err := db.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// Migration 002: Create jobs table
func init002CreateJobsTable(ctx context.Context, db *bun.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			status TEXT DEFAULT 'pending',
			progress INTEGER DEFAULT 0,
			current_step TEXT DEFAULT '',
			total_steps INTEGER DEFAULT 0,
			message TEXT DEFAULT '',
			error TEXT,
			result TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			started_at TIMESTAMP,
			completed_at TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create jobs table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status)",
		"CREATE INDEX IF NOT EXISTS idx_jobs_type ON jobs(type)",
		"CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at DESC)",
		"CREATE INDEX IF NOT EXISTS idx_jobs_completed_at ON jobs(completed_at) WHERE completed_at IS NOT NULL",
	}
	for _, idx := range indexes {
		if _, err := db.ExecContext(ctx, idx); err != nil {
			// Partial indexes might not be supported in all SQLite versions
			Logger.Warn("Could not create index (might not be supported)", "error", err)
		}
	}
	return nil
}
