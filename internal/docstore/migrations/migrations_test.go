package migrations

import (
	"database/sql"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T, driver string) *sql.DB {
	t.Helper()
	db, err := sql.Open(driver, ":memory:")
	if err != nil {
		t.Fatalf("sql.Open(%q) error = %v", driver, err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestUp_CreatesSchema(t *testing.T) {
	for _, driver := range []string{"sqlite3", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			db := openTestDB(t, driver)

			if err := Up(db); err != nil {
				t.Fatalf("Up() error = %v", err)
			}

			for _, name := range []string{"documents", "schema_migrations"} {
				var got string
				err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&got)
				if err != nil {
					t.Errorf("table %s was not created: %v", name, err)
				}
			}

			var idx string
			err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='index' AND name='documents_volatile_id'").Scan(&idx)
			if err != nil {
				t.Errorf("index documents_volatile_id was not created: %v", err)
			}
		})
	}
}

func TestUp_Idempotent(t *testing.T) {
	db := openTestDB(t, "sqlite3")

	if err := Up(db); err != nil {
		t.Fatalf("first Up() error = %v", err)
	}
	if err := Up(db); err != nil {
		t.Errorf("second Up() error = %v, want nil", err)
	}
}

func TestCheck(t *testing.T) {
	t.Run("fresh database needs migration", func(t *testing.T) {
		db := openTestDB(t, "sqlite3")

		err := Check(db)
		if err == nil {
			t.Fatal("Check() error = nil, want error for fresh database")
		}
		if !strings.Contains(err.Error(), "needs migration") {
			t.Errorf("Check() error = %q, want mention of migration", err)
		}
	})

	t.Run("migrated database is current", func(t *testing.T) {
		db := openTestDB(t, "sqlite3")
		if err := Up(db); err != nil {
			t.Fatalf("Up() error = %v", err)
		}
		if err := Check(db); err != nil {
			t.Errorf("Check() error = %v, want nil", err)
		}
	})
}

func TestReadStatus(t *testing.T) {
	db := openTestDB(t, "sqlite3")

	st, err := ReadStatus(db)
	if err != nil {
		t.Fatalf("ReadStatus() error = %v", err)
	}
	if st.Version != 0 || st.Latest != 2 || st.Current() {
		t.Errorf("ReadStatus() before Up = %+v, want version 0 of 2", st)
	}

	if err := Up(db); err != nil {
		t.Fatalf("Up() error = %v", err)
	}
	st, err = ReadStatus(db)
	if err != nil {
		t.Fatalf("ReadStatus() error = %v", err)
	}
	if !st.Current() || st.Version != 2 {
		t.Errorf("ReadStatus() after Up = %+v, want current at 2", st)
	}
}

func TestStatus_StateAndErr(t *testing.T) {
	tests := []struct {
		st    Status
		state string
	}{
		{Status{Version: 2, Latest: 2}, "current"},
		{Status{Version: 0, Latest: 2}, "uninitialized"},
		{Status{Version: 1, Latest: 2}, "behind"},
		{Status{Version: 3, Latest: 2}, "ahead"},
		{Status{Version: 2, Latest: 2, Dirty: true}, "dirty"},
	}
	for _, tt := range tests {
		if got := tt.st.State(); got != tt.state {
			t.Errorf("%+v.State() = %q, want %q", tt.st, got, tt.state)
		}
		if (tt.st.Err() == nil) != (tt.state == "current") {
			t.Errorf("%+v.Err() = %v", tt.st, tt.st.Err())
		}
	}
	if err := (Status{Version: 1, Latest: 2}).Err(); !strings.Contains(err.Error(), "needs migration") {
		t.Errorf("behind Err() = %q, want mention of migration", err)
	}
}
