package db

import (
	"context"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"conceptnorm/migrations"
)

// DB wraps a pgxpool connection pool.
type DB struct {
	Pool *pgxpool.Pool
}

// New creates a new database connection pool.
func New(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// RunMigrations runs all embedded SQL migrations.
func (d *DB) RunMigrations(connString string) error {
	sourceDriver, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, connString)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migration failed: %w", err)
	}

	return nil
}

// Close closes the connection pool.
func (d *DB) Close() {
	d.Pool.Close()
}

// Ping checks that the database is reachable.
func (d *DB) Ping(ctx context.Context) error {
	return d.Pool.Ping(ctx)
}

// SeedDevConcepts inserts a demo location with a handful of pending concepts
// for development. Skips rows that already exist.
func (d *DB) SeedDevConcepts(ctx context.Context) error {
	locationID := uuid.MustParse("00000000-0000-4000-8000-000000000001")
	if _, err := d.Pool.Exec(ctx, `
		INSERT INTO locations (id, name) VALUES ($1, 'Demo Café')
		ON CONFLICT (id) DO NOTHING
	`, locationID); err != nil {
		return fmt.Errorf("failed to seed location: %w", err)
	}

	concepts := []struct {
		id         string
		structured string
	}{
		{"00000000-0000-4000-8000-000000000101", `{"entity":"café","aspect":"sabor","judgment":"muy rico","intensity":0.9}`},
		{"00000000-0000-4000-8000-000000000102", `{"entity":"cafe","aspect":"temperatura","judgment":"llegó frío","intensity":0.6}`},
		{"00000000-0000-4000-8000-000000000103", `{"entity":"mesero","aspect":"amabilidad","judgment":"muy atento","intensity":0.8}`},
		{"00000000-0000-4000-8000-000000000104", `{"entity":"croissant","aspect":"frescura","judgment":"recién horneado","intensity":0.7}`},
		{"00000000-0000-4000-8000-000000000105", `{"entity":"local","aspect":"ruido","judgment":"demasiado ruidoso","intensity":0.5}`},
	}

	query := `
		INSERT INTO concepts (id, review_id, location_id, structured)
		VALUES ($1, $2, $3, $4::jsonb)
		ON CONFLICT (id) DO NOTHING
	`

	for _, c := range concepts {
		id := uuid.MustParse(c.id)
		if _, err := d.Pool.Exec(ctx, query, id, id, locationID, c.structured); err != nil {
			return fmt.Errorf("failed to seed concept %s: %w", c.id, err)
		}
	}

	return nil
}
