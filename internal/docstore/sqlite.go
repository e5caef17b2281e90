package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"jt-go/internal/docstore/migrations"
	"jt-go/internal/jt"

	_ "github.com/mattn/go-sqlite3" // cgo SQLite driver, registered as "sqlite3"
	_ "modernc.org/sqlite"          // pure-Go SQLite driver, registered as "sqlite"
)

// Driver names accepted by OpenConnection.
const (
	DriverCGO  = "sqlite3"
	DriverPure = "sqlite"
)

// SQLiteStore implements jt.DocumentStore on a single SQLite table using
// the JSON1 functions for field access.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	driver string
}

// NewSQLiteStore opens path with the given driver. path can be a file path
// or ":memory:". The schema is not migrated; see Migrate and CheckMigrations.
func NewSQLiteStore(driver, path string) (*SQLiteStore, error) {
	db, err := OpenConnection(driver, path)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db, path: path, driver: driver}, nil
}

// OpenConnection opens and configures a SQLite connection.
func OpenConnection(driver, path string) (*sql.DB, error) {
	if driver != DriverCGO && driver != DriverPure {
		return nil, fmt.Errorf("unknown sqlite driver %q", driver)
	}
	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection serializes writers and keeps ":memory:" databases
	// from splitting into one database per connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", p, err)
		}
	}
	return db, nil
}

func fieldExpr(field string) string {
	return "json_extract(body, '$." + field + "')"
}

// sqlValue converts a condition value to the type json_extract yields for it.
func sqlValue(v any) any {
	switch x := v.(type) {
	case bool:
		if x {
			return int64(1)
		}
		return int64(0)
	case int:
		return int64(x)
	default:
		return v
	}
}

func whereClause(collection string, where []jt.Cond) (string, []any) {
	clauses := []string{"collection = ?"}
	args := []any{collection}
	for _, c := range where {
		expr := fieldExpr(c.Field)
		if c.Op == jt.OpPrefix {
			p := c.Value.(string)
			clauses = append(clauses, "substr("+expr+", 1, ?) = ?")
			args = append(args, utf8.RuneCountInString(p), p)
			continue
		}
		clauses = append(clauses, expr+" "+c.Op.String()+" ?")
		args = append(args, sqlValue(c.Value))
	}
	return strings.Join(clauses, " AND "), args
}

func (s *SQLiteStore) InsertIfAbsent(ctx context.Context, collection, key string, doc any) (bool, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return false, fmt.Errorf("encoding %s/%s: %w", collection, key, err)
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO documents (collection, key, body) VALUES (?, ?, ?) ON CONFLICT (collection, key) DO NOTHING",
		collection, key, string(body))
	if err != nil {
		return false, fmt.Errorf("inserting %s/%s: %w", collection, key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("inserting %s/%s: %w", collection, key, err)
	}
	return n == 1, nil
}

func (s *SQLiteStore) Get(ctx context.Context, collection, key string, out any) (bool, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		"SELECT body FROM documents WHERE collection = ? AND key = ?", collection, key).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("getting %s/%s: %w", collection, key, err)
	}
	if err := json.Unmarshal([]byte(body), out); err != nil {
		return false, fmt.Errorf("decoding %s/%s: %w", collection, key, err)
	}
	return true, nil
}

func (s *SQLiteStore) Update(ctx context.Context, collection, key string, patch jt.Patch) (bool, error) {
	if len(patch) == 0 {
		var exists int
		err := s.db.QueryRowContext(ctx,
			"SELECT 1 FROM documents WHERE collection = ? AND key = ?", collection, key).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("updating %s/%s: %w", collection, key, err)
		}
		return true, nil
	}

	fields := make([]string, 0, len(patch))
	for f := range patch {
		if err := validateField(f); err != nil {
			return false, err
		}
		fields = append(fields, f)
	}
	sort.Strings(fields)

	setArgs := make([]string, 0, len(fields))
	args := make([]any, 0, len(fields)+2)
	for _, f := range fields {
		v, err := json.Marshal(patch[f])
		if err != nil {
			return false, fmt.Errorf("encoding field %s of %s/%s: %w", f, collection, key, err)
		}
		setArgs = append(setArgs, "'$."+f+"', json(?)")
		args = append(args, string(v))
	}
	args = append(args, collection, key)

	query := "UPDATE documents SET body = json_set(body, " + strings.Join(setArgs, ", ") +
		") WHERE collection = ? AND key = ?"
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("updating %s/%s: %w", collection, key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("updating %s/%s: %w", collection, key, err)
	}
	return n == 1, nil
}

func (s *SQLiteStore) Query(ctx context.Context, collection string, q jt.Query) (jt.Iterator, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}
	where, args := whereClause(collection, q.Where)

	dir := "ASC"
	if q.Desc {
		dir = "DESC"
	}
	order := "key " + dir
	if q.OrderBy != "" {
		order = fieldExpr(q.OrderBy) + " " + dir + ", " + order
	}

	query := "SELECT key, body FROM documents WHERE " + where + " ORDER BY " + order
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", collection, err)
	}
	defer rows.Close()

	var entries []snapshotEntry
	for rows.Next() {
		var key, body string
		if err := rows.Scan(&key, &body); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", collection, err)
		}
		entries = append(entries, snapshotEntry{key: key, body: []byte(body)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("querying %s: %w", collection, err)
	}
	return newSnapshotIterator(entries), nil
}

func (s *SQLiteStore) DeleteWhere(ctx context.Context, collection string, where []jt.Cond) (int, error) {
	if err := validateConds(where); err != nil {
		return 0, err
	}
	clause, args := whereClause(collection, where)
	res, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE "+clause, args...)
	if err != nil {
		return 0, fmt.Errorf("deleting from %s: %w", collection, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("deleting from %s: %w", collection, err)
	}
	return int(n), nil
}

// Path returns the database file path (or ":memory:").
func (s *SQLiteStore) Path() string {
	return s.path
}

// Driver returns the database/sql driver name in use.
func (s *SQLiteStore) Driver() string {
	return s.driver
}

// Migrate applies pending schema migrations.
func (s *SQLiteStore) Migrate() error {
	return migrations.Up(s.db)
}

// CheckMigrations verifies the schema is up to date.
func (s *SQLiteStore) CheckMigrations() error {
	return migrations.Check(s.db)
}

// SchemaStatus reports the schema version.
func (s *SQLiteStore) SchemaStatus() (migrations.Status, error) {
	return migrations.ReadStatus(s.db)
}

// BackupTo writes a consistent copy of the database to destPath using VACUUM INTO.
func (s *SQLiteStore) BackupTo(ctx context.Context, destPath string) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var _ jt.DocumentStore = (*SQLiteStore)(nil)
