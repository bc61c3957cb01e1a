package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	stdfs "io/fs"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/mattn/go-sqlite3"
)

// DefaultPath is used when Open is given an empty path.
const DefaultPath = "users.db"

// ErrNotDatabase is returned when the file at the given path exists but is
// not a SQLite database.
var ErrNotDatabase = errors.New("file is not a sqlite database")

// Open opens (or creates) a SQLite database file and applies pending migrations.
// Migrations are embedded .sql files under internal/db/migrations named
//
//	0001_name.up.sql / 0001_name.down.sql
//
// Only versions missing from schema_migrations are applied.
func Open(path string) (*sql.DB, error) {
	if path == "" {
		path = DefaultPath
	}
	d, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if err := d.Ping(); err != nil {
		_ = d.Close()
		return nil, classify(err, path)
	}
	// journal_mode is not supported for in-memory databases.
	_, _ = d.Exec(`PRAGMA journal_mode=WAL`)
	if _, err := d.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		_ = d.Close()
		return nil, classify(err, path)
	}
	if err := applyMigrations(d); err != nil {
		_ = d.Close()
		return nil, classify(err, path)
	}
	return d, nil
}

func classify(err error, path string) error {
	var se sqlite3.Error
	if errors.As(err, &se) && se.Code == sqlite3.ErrNotADB {
		return fmt.Errorf("%w: %s", ErrNotDatabase, path)
	}
	return err
}

// RollbackLast reverts the most recently applied migration using its down script.
func RollbackLast(d *sql.DB) error {
	if d == nil {
		return errors.New("nil db")
	}
	if err := ensureMigrationsTable(d); err != nil {
		return err
	}
	var version int
	err := d.QueryRow(`SELECT version FROM schema_migrations ORDER BY version DESC LIMIT 1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	} else if err != nil {
		return err
	}
	plan, err := schemaPlan()
	if err != nil {
		return err
	}
	var step *schemaStep
	for i := range plan {
		if plan[i].version == version {
			step = &plan[i]
		}
	}
	if step == nil || step.down == "" {
		return fmt.Errorf("no down script for schema version %d", version)
	}
	return runScript(d, step.down, `DELETE FROM schema_migrations WHERE version = ?`, version)
}

// AppliedVersions lists applied migration versions in ascending order.
func AppliedVersions(d *sql.DB) ([]int, error) {
	got, err := appliedVersions(d)
	if err != nil {
		return nil, err
	}
	out := make([]int, 0, len(got))
	for v := range got {
		out = append(out, v)
	}
	sort.Ints(out)
	return out, nil
}

// Schema scripts for the users table live next to this file.
//
//go:embed migrations/*.sql
var migrationsFS embed.FS

// schemaStep pairs the up and down scripts of one schema version.
type schemaStep struct {
	version int
	name    string
	up      string
	down    string
}

var scriptNameRe = regexp.MustCompile(`^([0-9]{4})_(.+)\.(up|down)\.sql$`)

// schemaPlan returns every embedded schema version in ascending order.
// Files that do not follow the NNNN_name.up|down.sql pattern are ignored.
func schemaPlan() ([]schemaStep, error) {
	entries, err := stdfs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return nil, err
	}
	byVersion := map[int]*schemaStep{}
	for _, de := range entries {
		parts := scriptNameRe.FindStringSubmatch(de.Name())
		if de.IsDir() || parts == nil {
			continue
		}
		version, err := strconv.Atoi(parts[1])
		if err != nil {
			continue
		}
		step, ok := byVersion[version]
		if !ok {
			step = &schemaStep{version: version, name: parts[2]}
			byVersion[version] = step
		}
		path := "migrations/" + de.Name()
		if parts[3] == "up" {
			step.up = path
		} else {
			step.down = path
		}
	}
	plan := make([]schemaStep, 0, len(byVersion))
	for _, step := range byVersion {
		plan = append(plan, *step)
	}
	sort.Slice(plan, func(i, j int) bool { return plan[i].version < plan[j].version })
	return plan, nil
}

// ensureMigrationsTable creates the bookkeeping table recording which schema
// versions this database file already has.
func ensureMigrationsTable(d *sql.DB) error {
	_, err := d.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
        version INTEGER PRIMARY KEY,
        applied_at TEXT NOT NULL DEFAULT (CURRENT_TIMESTAMP)
    )`)
	return err
}

func appliedVersions(d *sql.DB) (map[int]bool, error) {
	if err := ensureMigrationsTable(d); err != nil {
		return nil, err
	}
	rows, err := d.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	got := map[int]bool{}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		got[v] = true
	}
	return got, rows.Err()
}

// applyMigrations brings the users schema up to the newest embedded version,
// skipping versions already recorded in schema_migrations.
func applyMigrations(d *sql.DB) error {
	plan, err := schemaPlan()
	if err != nil {
		return err
	}
	applied, err := appliedVersions(d)
	if err != nil {
		return err
	}
	for _, step := range plan {
		if applied[step.version] {
			continue
		}
		if step.up == "" {
			return fmt.Errorf("schema version %04d has no up script", step.version)
		}
		if err := runScript(d, step.up, `INSERT INTO schema_migrations(version) VALUES(?)`, step.version); err != nil {
			return fmt.Errorf("schema version %04d (%s): %w", step.version, step.name, err)
		}
	}
	return nil
}

// runScript executes the embedded script and the bookkeeping statement in one
// transaction, unless the script starts with "-- NO_TX".
func runScript(d *sql.DB, file, bookkeeping string, version int) error {
	text, err := migrationsFS.ReadFile(file)
	if err != nil {
		return err
	}
	script := string(text)
	if strings.HasPrefix(strings.TrimSpace(script), "-- NO_TX") {
		if _, err := d.Exec(script); err != nil {
			return err
		}
		_, err := d.Exec(bookkeeping, version)
		return err
	}
	tx, err := d.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(script); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.Exec(bookkeeping, version); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
