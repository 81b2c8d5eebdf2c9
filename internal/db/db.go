package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/lib/pq"  // PostgreSQL driver
	_ "modernc.org/sqlite" // SQLite driver (pure Go)

	"github.com/unklstewy/flight-tracker/pkg/config"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

//go:embed schema_postgres.sql schema_sqlite.sql
var schemaSQL embed.FS

var (
	// ErrNotFound is returned by writes that address a missing row.
	ErrNotFound = errors.New("record not found")

	// ErrNotConnected is returned by HealthCheck without a usable connection.
	ErrNotConnected = errors.New("database not connected")
)

// DB wraps a database connection with helper methods.
type DB struct {
	*sql.DB
	driver string
	config config.DatabaseConfig
}

// Connect opens and pings the database named by cfg.
//
// SQLite databases are opened in WAL mode with a busy timeout and a
// single connection, so writers never contend on the file lock.
func Connect(cfg config.DatabaseConfig) (*DB, error) {
	var (
		sqlDB *sql.DB
		err   error
	)

	switch cfg.Driver {
	case DriverPostgres:
		connStr := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host,
			cfg.Port,
			cfg.Username,
			cfg.Password,
			cfg.Database,
			cfg.SSLMode,
		)
		sqlDB, err = sql.Open("postgres", connStr)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(time.Hour)

	case DriverSQLite:
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		dsn := cfg.Path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_time_format=sqlite"
		sqlDB, err = sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)

	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{
		DB:     sqlDB,
		driver: cfg.Driver,
		config: cfg,
	}, nil
}

// Driver returns the driver name the connection was opened with.
func (db *DB) Driver() string {
	return db.driver
}

// Rebind rewrites $N placeholders into the driver's syntax.
// Queries in this package are written for PostgreSQL; SQLite gets ?N,
// which keeps explicit numbering so a parameter can be reused.
func (db *DB) Rebind(query string) string {
	if db.driver != DriverSQLite {
		return query
	}
	return strings.ReplaceAll(query, "$", "?")
}

func (db *DB) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.ExecContext(ctx, db.Rebind(query), args...)
}

func (db *DB) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return db.QueryRowContext(ctx, db.Rebind(query), args...)
}

func (db *DB) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.QueryContext(ctx, db.Rebind(query), args...)
}

// InitSchema creates the tables and indexes if they do not exist.
// This should be called once at application startup.
func (db *DB) InitSchema(ctx context.Context) error {
	name := "schema_" + db.driver + ".sql"
	schemaBytes, err := schemaSQL.ReadFile(name)
	if err != nil {
		return fmt.Errorf("failed to read schema file: %w", err)
	}

	if _, err := db.ExecContext(ctx, string(schemaBytes)); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	return nil
}

// CleanupOldData removes flights that landed more than maxAge ago and
// tracking cache entries not refreshed within maxAge.
// Should be called periodically to prevent unbounded growth.
func (db *DB) CleanupOldData(ctx context.Context, maxAge time.Duration) error {
	cutoff := time.Now().UTC().Add(-maxAge)

	if _, err := db.exec(ctx, `DELETE FROM flights WHERE arrival_time < $1`, cutoff); err != nil {
		return fmt.Errorf("failed to delete old flights: %w", err)
	}

	if _, err := db.exec(ctx, `DELETE FROM flight_tracking_cache WHERE last_seen < $1`, cutoff); err != nil {
		return fmt.Errorf("failed to delete stale tracking entries: %w", err)
	}

	return nil
}

// GetStats returns database statistics.
func (db *DB) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var flightCount int64
	if err := db.queryRow(ctx, `SELECT COUNT(*) FROM flights`).Scan(&flightCount); err != nil {
		return nil, err
	}
	stats["flights"] = flightCount

	var upcoming int64
	err := db.queryRow(ctx,
		`SELECT COUNT(*) FROM flights WHERE arrival_time >= $1`,
		time.Now().UTC(),
	).Scan(&upcoming)
	if err != nil {
		return nil, err
	}
	stats["active_or_upcoming_flights"] = upcoming

	var vehicles int64
	if err := db.queryRow(ctx, `SELECT COUNT(*) FROM flight_tracking_cache`).Scan(&vehicles); err != nil {
		return nil, err
	}
	stats["known_vehicles"] = vehicles

	stats["driver"] = db.driver
	stats["open_connections"] = db.Stats().OpenConnections

	return stats, nil
}
