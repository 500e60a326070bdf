package database

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/blogem/cmdb/registry"
)

// SQLiteDriver is the sqlite3 driver with the regexp function and foreign keys enabled
const SQLiteDriver = "sqlite3_cmdb"

var registerOnce sync.Once

func registerSQLite() {
	registerOnce.Do(func() {
		sql.Register(SQLiteDriver, &sqlite3.SQLiteDriver{
			ConnectHook: func(conn *sqlite3.SQLiteConn) error {
				if err := conn.RegisterFunc("regexp", sqliteRegexp, true); err != nil {
					return fmt.Errorf("failed to register regexp: %w", err)
				}
				// foreign keys are per connection in sqlite, so every pooled connection needs it
				if _, err := conn.Exec("PRAGMA foreign_keys = ON;", nil); err != nil {
					return fmt.Errorf("failed to enable foreign keys: %w", err)
				}
				return nil
			},
		})
	})
}

// sqliteRegexp backs "x REGEXP pattern"; matching is case-insensitive like the postgres ~* operator
func sqliteRegexp(pattern string, value any) (bool, error) {
	if value == nil {
		return false, nil
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return false, err
	}
	switch v := value.(type) {
	case string:
		return re.MatchString(v), nil
	case []byte:
		return re.Match(v), nil
	default:
		return re.MatchString(fmt.Sprint(v)), nil
	}
}

// Config selects the store
type Config struct {
	Driver string
	DSN    string
}

// DB is the shared store handle together with its dialect
type DB struct {
	*sql.DB
	Dialect Dialect
}

// OpenDB opens the database connection for the configured driver
func OpenDB(cfg Config) (*DB, error) {
	driver := cfg.Driver
	if driver == "" || driver == "sqlite3" {
		registerSQLite()
		driver = SQLiteDriver
	}

	dialect, err := DialectFor(driver)
	if err != nil {
		return nil, err
	}

	conn, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Test the connection
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: conn, Dialect: dialect}, nil
}

// InitializeDatabase opens the database connection and runs migrations
func InitializeDatabase(cfg Config, reg *registry.Registry) (*DB, error) {
	db, err := OpenDB(cfg)
	if err != nil {
		return nil, err
	}

	if err := RunMigrations(db, reg); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}
