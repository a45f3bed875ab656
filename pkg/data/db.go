package data

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	DataFileName = "data.db"

	driverSQLite   = "sqlite"
	driverPostgres = "postgres"

	migrationsDir = "sql/migrations"

	createSchemaVersionSQL = `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER NOT NULL PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`
	selectSchemaVersionSQL = `SELECT COALESCE(MAX(version), 0) FROM schema_version`
	insertSchemaVersionSQL = `INSERT INTO schema_version (version, applied_at) VALUES (?, ?)`
)

var (
	//go:embed sql/migrations/*.sql
	f embed.FS

	// ErrDBNotInitialized is returned when a store has no open database.
	ErrDBNotInitialized = errors.New("database not initialized")

	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")
)

// IsPostgres reports whether dsn addresses a PostgreSQL server rather than
// a local sqlite file.
func IsPostgres(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

func driverFor(dsn string) string {
	if IsPostgres(dsn) {
		return driverPostgres
	}
	return driverSQLite
}

// Init creates the database when needed and applies pending migrations.
func Init(dsn string) error {
	if dsn == "" {
		return errors.New("database path not specified")
	}

	db, err := GetDB(dsn)
	if err != nil {
		return fmt.Errorf("error opening database %s: %w", redact(dsn), err)
	}
	defer db.Close()

	if err := migrate(db, driverFor(dsn)); err != nil {
		return fmt.Errorf("error migrating database %s: %w", redact(dsn), err)
	}
	return nil
}

// GetDB opens the database addressed by dsn.
func GetDB(dsn string) (*sql.DB, error) {
	conn, err := sql.Open(driverFor(dsn), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %s: %w", redact(dsn), err)
	}
	return conn, nil
}

type migration struct {
	version int
	name    string
}

func migrations() ([]migration, error) {
	entries, err := fs.ReadDir(f, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("error reading migrations: %w", err)
	}
	list := make([]migration, 0, len(entries))
	for _, e := range entries {
		prefix, _, ok := strings.Cut(e.Name(), "_")
		if !ok {
			return nil, fmt.Errorf("invalid migration name: %s", e.Name())
		}
		v, err := strconv.Atoi(prefix)
		if err != nil {
			return nil, fmt.Errorf("invalid migration version: %s", e.Name())
		}
		list = append(list, migration{version: v, name: e.Name()})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].version < list[j].version })
	return list, nil
}

func migrate(db *sql.DB, driver string) error {
	if _, err := db.Exec(createSchemaVersionSQL); err != nil {
		return fmt.Errorf("error creating schema_version: %w", err)
	}

	var current int
	if err := db.QueryRow(selectSchemaVersionSQL).Scan(&current); err != nil {
		return fmt.Errorf("error reading schema version: %w", err)
	}

	list, err := migrations()
	if err != nil {
		return err
	}

	for _, m := range list {
		if m.version <= current {
			continue
		}
		b, err := f.ReadFile(path.Join(migrationsDir, m.name))
		if err != nil {
			return fmt.Errorf("error reading migration %s: %w", m.name, err)
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("error starting migration tx: %w", err)
		}
		if _, err := tx.Exec(string(b)); err != nil {
			rollbackTransaction(tx)
			return fmt.Errorf("error applying migration %s: %w", m.name, err)
		}
		if _, err := tx.Exec(rebind(driver, insertSchemaVersionSQL), m.version, time.Now().UTC().Format(time.RFC3339)); err != nil {
			rollbackTransaction(tx)
			return fmt.Errorf("error recording migration %s: %w", m.name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("error committing migration %s: %w", m.name, err)
		}
		slog.Debug("applied migration", "version", m.version, "name", m.name)
	}
	return nil
}

// rebind rewrites ? placeholders to the $n form PostgreSQL expects.
func rebind(driver, query string) string {
	if driver != driverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func rollbackTransaction(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil {
		slog.Error("error rolling back transaction", "error", err)
	}
}

// redact drops credentials from a connection URL for logging.
func redact(dsn string) string {
	if !IsPostgres(dsn) {
		return dsn
	}
	scheme, rest, _ := strings.Cut(dsn, "://")
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		rest = rest[at+1:]
	}
	return scheme + "://" + rest
}
