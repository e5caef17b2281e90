// Package migrations owns the SQLite schema of the document store. The
// schema is versioned with golang-migrate; the SQL files are embedded.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed files/*.sql
var files embed.FS

// Status compares a database's schema version with the newest one this
// binary carries. Version 0 means the schema was never created.
type Status struct {
	Version uint
	Latest  uint
	Dirty   bool
}

func (s Status) Current() bool {
	return !s.Dirty && s.Version == s.Latest
}

// State names the status for display: current, dirty, uninitialized,
// behind or ahead.
func (s Status) State() string {
	switch {
	case s.Dirty:
		return "dirty"
	case s.Version == 0:
		return "uninitialized"
	case s.Version < s.Latest:
		return "behind"
	case s.Version > s.Latest:
		return "ahead"
	}
	return "current"
}

// Err explains why a database in this state cannot be opened, or returns
// nil when it is current.
func (s Status) Err() error {
	switch s.State() {
	case "dirty":
		return fmt.Errorf("schema version %d is dirty, a previous migration failed part way", s.Version)
	case "uninitialized":
		return errors.New("database has no schema yet (needs migration)")
	case "behind":
		return fmt.Errorf("schema version %d is %d behind this binary's %d (needs migration)",
			s.Version, s.Latest-s.Version, s.Latest)
	case "ahead":
		return fmt.Errorf("schema version %d is newer than this binary's %d, upgrade jt", s.Version, s.Latest)
	}
	return nil
}

// ReadStatus reports db's schema version.
func ReadStatus(db *sql.DB) (Status, error) {
	latest, err := latestVersion()
	if err != nil {
		return Status{}, err
	}
	// Never closed: closing the migrator closes db, which the caller owns.
	m, err := migrator(db)
	if err != nil {
		return Status{}, err
	}

	v, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		return Status{Latest: latest}, nil
	case err != nil:
		return Status{}, fmt.Errorf("reading schema version: %w", err)
	}
	return Status{Version: v, Latest: latest, Dirty: dirty}, nil
}

// Check returns nil only when db is at the latest version.
func Check(db *sql.DB) error {
	st, err := ReadStatus(db)
	if err != nil {
		return err
	}
	return st.Err()
}

// Up migrates db to the latest version. A current database is left alone.
func Up(db *sql.DB) error {
	m, err := migrator(db)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying schema migrations: %w", err)
	}
	return nil
}

// migrator binds the embedded files to db. The sqlite3 driver of
// golang-migrate only talks through db, so it works for both mattn and
// modernc connections.
func migrator(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(files, "files")
	if err != nil {
		return nil, fmt.Errorf("loading schema migrations: %w", err)
	}
	target, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err == nil {
		var m *migrate.Migrate
		if m, err = migrate.NewWithInstance("iofs", src, "sqlite3", target); err == nil {
			return m, nil
		}
	}
	src.Close()
	return nil, fmt.Errorf("preparing schema migrations: %w", err)
}

func latestVersion() (uint, error) {
	src, err := iofs.New(files, "files")
	if err != nil {
		return 0, fmt.Errorf("loading schema migrations: %w", err)
	}
	defer src.Close()
	return lastVersion(src)
}

func lastVersion(src source.Driver) (uint, error) {
	v, err := src.First()
	if err != nil {
		return 0, fmt.Errorf("no schema migrations embedded: %w", err)
	}
	for {
		next, err := src.Next(v)
		if err != nil {
			return v, nil
		}
		v = next
	}
}
