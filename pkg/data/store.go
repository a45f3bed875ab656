package data

import (
	"database/sql"
	"fmt"
	"time"
)

const (
	timeFormat   = "2006-01-02T15:04:05.000000000Z07:00"
	defaultLimit = 20
)

// Store persists assessments and training runs.
type Store struct {
	db     *sql.DB
	driver string
}

// Open initializes the database addressed by dsn and returns a store over it.
func Open(dsn string) (*Store, error) {
	if err := Init(dsn); err != nil {
		return nil, err
	}
	db, err := GetDB(dsn)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, driver: driverFor(dsn)}, nil
}

// NewStore wraps an already migrated database.
func NewStore(db *sql.DB, postgres bool) *Store {
	s := &Store{db: db, driver: driverSQLite}
	if postgres {
		s.driver = driverPostgres
	}
	return s
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) check() error {
	if s == nil || s.db == nil {
		return ErrDBNotInitialized
	}
	return nil
}

func (s *Store) q(query string) string {
	return rebind(s.driver, query)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(timeFormat, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("error parsing time %q: %w", v, err)
	}
	return t, nil
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	return limit
}
