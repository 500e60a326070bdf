package database

import (
	"fmt"
	"sort"

	"github.com/blogem/cmdb/registry"
)

// Migration represents a database migration
type Migration struct {
	Version    string
	Statements []string
}

// DefaultStatuses are seeded so that status references resolve on a fresh store
var DefaultStatuses = []string{
	"available", "allocated", "setup", "inservice", "maintenance",
	"hibernating", "decommissioned", "broken",
}

// RunMigrations executes all pending migrations
func RunMigrations(db *DB, reg *registry.Registry) error {
	// Create migrations table if it doesn't exist
	if err := createMigrationsTable(db); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	migrations := loadMigrations(db.Dialect, reg)

	// Get applied migrations
	appliedMigrations, err := getAppliedMigrations(db)
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	// Run pending migrations
	for _, migration := range migrations {
		if contains(appliedMigrations, migration.Version) {
			continue
		}
		if err := runMigration(db, migration); err != nil {
			return fmt.Errorf("failed to run migration %s: %w", migration.Version, err)
		}
	}

	return nil
}

// createMigrationsTable creates the migrations tracking table
func createMigrationsTable(db *DB) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS migrations (
			version TEXT PRIMARY KEY,
			applied_at %s DEFAULT CURRENT_TIMESTAMP
		);
	`, db.Dialect.timestampType())
	_, err := db.Exec(query)
	return err
}

// loadMigrations builds the ordered migration list for the dialect
func loadMigrations(dialect Dialect, reg *registry.Registry) []Migration {
	migrations := []Migration{
		{Version: "0001_resource_schema", Statements: SchemaStatements(dialect, reg)},
		{Version: "0002_seed_statuses", Statements: seedStatuses(dialect)},
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations
}

func seedStatuses(dialect Dialect) []string {
	stmts := make([]string, 0, len(DefaultStatuses))
	for _, name := range DefaultStatuses {
		stmts = append(stmts, fmt.Sprintf(
			"INSERT INTO statuses (name, created, updated, updated_by) VALUES ('%s', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP, 'migration')",
			name,
		))
	}
	return stmts
}

// getAppliedMigrations returns list of already applied migration versions
func getAppliedMigrations(db *DB) ([]string, error) {
	rows, err := db.Query("SELECT version FROM migrations ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		versions = append(versions, version)
	}

	return versions, rows.Err()
}

// runMigration executes a single migration and records it in one transaction
func runMigration(db *DB, migration Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range migration.Statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("%w\n%s", err, stmt)
		}
	}

	if _, err := tx.Exec(db.Dialect.Rebind("INSERT INTO migrations (version) VALUES (?)"), migration.Version); err != nil {
		return err
	}

	return tx.Commit()
}

// contains checks if a string slice contains a specific string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
