package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/stapelberg/postgrestest"
)

// openEphemeralPostgres starts a throwaway PostgreSQL server and returns a
// connection to a fresh database on it. Everything is removed by
// server.Cleanup, which BunDB.Close calls.
func openEphemeralPostgres() (*sql.DB, *postgrestest.Server, error) {
	Logger.Info("Starting ephemeral PostgreSQL server...")

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	pgt, err := postgrestest.Start(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start ephemeral postgres: %w", err)
	}

	dsn, err := pgt.CreateDatabase(ctx)
	if err != nil {
		pgt.Cleanup()
		return nil, nil, fmt.Errorf("failed to create ephemeral database: %w", err)
	}
	Logger.Info("Created ephemeral database", "dsn", dsn)

	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		pgt.Cleanup()
		return nil, nil, fmt.Errorf("failed to open ephemeral database: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		pgt.Cleanup()
		return nil, nil, fmt.Errorf("failed to ping ephemeral database: %w", err)
	}
	return sqlDB, pgt, nil
}
