// Package sqlite provides SQLite implementations of storage ports.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strings"

	"github.com/artpar/tollgate/adapters/pool"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB wraps a SQLite database handle plus the bounded connection pool used by
// the durable write paths (quota reserve, ledger append).
type DB struct {
	*sql.DB
	pool *pool.Pool
}

// Open creates a new SQLite database connection and its write pool.
func Open(path string, poolCfg pool.Config) (*DB, error) {
	sqlDB, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000", // 64MB
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	// The pool owns all concurrency toward the file; let database/sql hand
	// out as many dedicated conns as the pool can check out.
	sqlDB.SetMaxOpenConns(poolCfg.Base + poolCfg.Overflow + 1)

	db := &DB{DB: sqlDB}
	db.pool = pool.New(poolCfg, func(ctx context.Context) (pool.Conn, error) {
		c, err := sqlDB.Conn(ctx)
		if err != nil {
			return nil, fmt.Errorf("checkout conn: %w", err)
		}
		return sqliteConn{c}, nil
	})

	return db, nil
}

// sqliteConn adapts *sql.Conn to pool.Conn.
type sqliteConn struct {
	conn *sql.Conn
}

func (c sqliteConn) Ping(ctx context.Context) error { return c.conn.PingContext(ctx) }
func (c sqliteConn) Close() error                   { return c.conn.Close() }

// WithConn runs fn on a pooled dedicated connection. Acquisition failures
// (including pool.ErrExhausted) surface to the caller; the connection is
// returned unhealthy when fn fails so it gets probed before reuse.
func (db *DB) WithConn(ctx context.Context, fn func(*sql.Conn) error) error {
	pc, err := db.pool.Acquire(ctx)
	if err != nil {
		return err
	}

	conn := pc.Conn.(sqliteConn).conn
	err = fn(conn)
	db.pool.Release(pc, err == nil)
	return err
}

// PoolStats exposes pool occupancy for metrics.
func (db *DB) PoolStats() pool.Stats {
	return db.pool.Stats()
}

// Close drains the pool and closes the database.
func (db *DB) Close(ctx context.Context) error {
	err := db.pool.Close(ctx)
	if cerr := db.DB.Close(); err == nil {
		err = cerr
	}
	return err
}

// Migrate runs all pending migrations.
func (db *DB) Migrate() error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	applied := make(map[string]bool)
	rows, err := db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return fmt.Errorf("query migrations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return fmt.Errorf("scan migration: %w", err)
		}
		applied[version] = true
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var migrations []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			migrations = append(migrations, entry.Name())
		}
	}
	sort.Strings(migrations)

	for _, name := range migrations {
		version := strings.TrimSuffix(name, ".sql")
		if applied[version] {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %s: %w", name, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", name, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", name, err)
		}
	}

	return nil
}
