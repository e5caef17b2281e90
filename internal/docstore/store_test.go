package docstore

import (
	"context"
	"path/filepath"
	"testing"

	"jt-go/internal/config"
	"jt-go/internal/jt"
)

type testDoc struct {
	Name  string  `json:"name"`
	Count int64   `json:"count"`
	Score float64 `json:"score"`
	Live  bool    `json:"live"`
	Path  string  `json:"path"`
}

type storeFactory func(t *testing.T) jt.DocumentStore

func newMigratedSQLite(driver string) storeFactory {
	return func(t *testing.T) jt.DocumentStore {
		t.Helper()
		s, err := NewSQLiteStore(driver, ":memory:")
		if err != nil {
			t.Fatalf("NewSQLiteStore(%q) error = %v", driver, err)
		}
		if err := s.Migrate(); err != nil {
			s.Close()
			t.Fatalf("Migrate() error = %v", err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	}
}

func stores() map[string]storeFactory {
	return map[string]storeFactory{
		"memory":  func(t *testing.T) jt.DocumentStore { return NewMemoryStore() },
		"sqlite3": newMigratedSQLite(DriverCGO),
		"sqlite":  newMigratedSQLite(DriverPure),
	}
}

// forEachStore runs fn against every store implementation.
func forEachStore(t *testing.T, fn func(t *testing.T, s jt.DocumentStore)) {
	for name, factory := range stores() {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

func seed(t *testing.T, s jt.DocumentStore, docs map[string]testDoc) {
	t.Helper()
	for k, d := range docs {
		if _, err := s.InsertIfAbsent(context.Background(), "things", k, d); err != nil {
			t.Fatalf("InsertIfAbsent(%s) error = %v", k, err)
		}
	}
}

func collectKeys(t *testing.T, it jt.Iterator) []string {
	t.Helper()
	defer it.Close()
	var keys []string
	for it.Next() {
		keys = append(keys, it.Key())
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterator error = %v", err)
	}
	return keys
}

func equalKeys(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestStore_InsertIfAbsent(t *testing.T) {
	forEachStore(t, func(t *testing.T, s jt.DocumentStore) {
		ctx := context.Background()

		ok, err := s.InsertIfAbsent(ctx, "things", "a", testDoc{Name: "first"})
		if err != nil || !ok {
			t.Fatalf("InsertIfAbsent() = %v, %v, want true, nil", ok, err)
		}

		ok, err = s.InsertIfAbsent(ctx, "things", "a", testDoc{Name: "second"})
		if err != nil || ok {
			t.Fatalf("second InsertIfAbsent() = %v, %v, want false, nil", ok, err)
		}

		var got testDoc
		found, err := s.Get(ctx, "things", "a", &got)
		if err != nil || !found {
			t.Fatalf("Get() = %v, %v", found, err)
		}
		if got.Name != "first" {
			t.Errorf("Name = %q, want %q (existing document must win)", got.Name, "first")
		}

		// Same key in another collection is a different document.
		ok, err = s.InsertIfAbsent(ctx, "others", "a", testDoc{Name: "other"})
		if err != nil || !ok {
			t.Errorf("InsertIfAbsent(others) = %v, %v, want true, nil", ok, err)
		}
	})
}

func TestStore_GetMissing(t *testing.T) {
	forEachStore(t, func(t *testing.T, s jt.DocumentStore) {
		var got testDoc
		found, err := s.Get(context.Background(), "things", "nope", &got)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if found {
			t.Error("Get() found = true, want false")
		}
	})
}

func TestStore_Update(t *testing.T) {
	forEachStore(t, func(t *testing.T, s jt.DocumentStore) {
		ctx := context.Background()
		seed(t, s, map[string]testDoc{"a": {Name: "a", Count: 1, Score: 0.3, Live: true}})

		ok, err := s.Update(ctx, "things", "a", jt.Patch{"count": int64(7), "live": false, "score": 0.75})
		if err != nil || !ok {
			t.Fatalf("Update() = %v, %v, want true, nil", ok, err)
		}

		var got testDoc
		if _, err := s.Get(ctx, "things", "a", &got); err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		want := testDoc{Name: "a", Count: 7, Score: 0.75, Live: false}
		if got != want {
			t.Errorf("after Update() = %+v, want %+v", got, want)
		}

		ok, err = s.Update(ctx, "things", "missing", jt.Patch{"count": 1})
		if err != nil || ok {
			t.Errorf("Update(missing) = %v, %v, want false, nil", ok, err)
		}

		if _, err := s.Update(ctx, "things", "a", jt.Patch{"bad-field": 1}); err == nil {
			t.Error("Update() with invalid field expected error")
		}
	})
}

func TestStore_Query(t *testing.T) {
	docs := map[string]testDoc{
		"k1": {Name: "one", Count: 30, Score: 0.5, Live: true, Path: "/Documents/report.docx"},
		"k2": {Name: "two", Count: 10, Score: 0.3, Live: false, Path: "/Documents/notes.txt"},
		"k3": {Name: "three", Count: 20, Score: 0.9, Live: true, Path: "/Desktop/todo.md"},
		"k4": {Name: "four", Count: 20, Score: 0.1, Live: true, Path: "/Documentation/x"},
	}

	tests := []struct {
		name string
		q    jt.Query
		want []string
	}{
		{"all by key", jt.Query{}, []string{"k1", "k2", "k3", "k4"}},
		{"all by key desc", jt.Query{Desc: true}, []string{"k4", "k3", "k2", "k1"}},
		{"order by count ties by key", jt.Query{OrderBy: "count"}, []string{"k2", "k3", "k4", "k1"}},
		{"order desc", jt.Query{OrderBy: "count", Desc: true}, []string{"k1", "k4", "k3", "k2"}},
		{"limit", jt.Query{OrderBy: "count", Limit: 2}, []string{"k2", "k3"}},
		{"eq string", jt.Query{Where: []jt.Cond{jt.Eq("name", "three")}}, []string{"k3"}},
		{"eq bool", jt.Query{Where: []jt.Cond{jt.Eq("live", false)}}, []string{"k2"}},
		{"half-open range", jt.Query{Where: []jt.Cond{jt.Gte("count", int64(10)), jt.Lt("count", int64(30))}, OrderBy: "count"}, []string{"k2", "k3", "k4"}},
		{"gt float", jt.Query{Where: []jt.Cond{jt.Gt("score", 0.5)}}, []string{"k3"}},
		{"lte float", jt.Query{Where: []jt.Cond{jt.Lte("score", 0.3)}}, []string{"k2", "k4"}},
		{"prefix", jt.Query{Where: []jt.Cond{jt.Prefix("path", "/Documents/")}}, []string{"k1", "k2"}},
		{"missing field never matches", jt.Query{Where: []jt.Cond{jt.Eq("absent", "x")}}, nil},
	}

	forEachStore(t, func(t *testing.T, s jt.DocumentStore) {
		seed(t, s, docs)
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				it, err := s.Query(context.Background(), "things", tt.q)
				if err != nil {
					t.Fatalf("Query() error = %v", err)
				}
				if got := collectKeys(t, it); !equalKeys(got, tt.want) {
					t.Errorf("Query() keys = %v, want %v", got, tt.want)
				}
			})
		}
	})
}

func TestStore_QueryPrefixUnicode(t *testing.T) {
	forEachStore(t, func(t *testing.T, s jt.DocumentStore) {
		seed(t, s, map[string]testDoc{
			"a": {Path: "/Dokumente/résumé.docx"},
			"b": {Path: "/Dokumente/resume.docx"},
		})
		it, err := s.Query(context.Background(), "things", jt.Query{Where: []jt.Cond{jt.Prefix("path", "/Dokumente/ré")}})
		if err != nil {
			t.Fatalf("Query() error = %v", err)
		}
		if got := collectKeys(t, it); !equalKeys(got, []string{"a"}) {
			t.Errorf("Query() keys = %v, want [a]", got)
		}
	})
}

func TestStore_QueryIsSnapshot(t *testing.T) {
	forEachStore(t, func(t *testing.T, s jt.DocumentStore) {
		ctx := context.Background()
		seed(t, s, map[string]testDoc{"a": {Name: "a"}, "b": {Name: "b"}})

		it, err := s.Query(ctx, "things", jt.Query{})
		if err != nil {
			t.Fatalf("Query() error = %v", err)
		}
		defer it.Close()

		if _, err := s.DeleteWhere(ctx, "things", nil); err != nil {
			t.Fatalf("DeleteWhere() error = %v", err)
		}

		var names []string
		for it.Next() {
			var d testDoc
			if err := it.Decode(&d); err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			names = append(names, d.Name)
		}
		if !equalKeys(names, []string{"a", "b"}) {
			t.Errorf("snapshot names = %v, want [a b]", names)
		}
	})
}

func TestStore_DeleteWhere(t *testing.T) {
	forEachStore(t, func(t *testing.T, s jt.DocumentStore) {
		ctx := context.Background()
		seed(t, s, map[string]testDoc{
			"a": {Count: 1},
			"b": {Count: 2},
			"c": {Count: 3},
		})

		n, err := s.DeleteWhere(ctx, "things", []jt.Cond{jt.Lte("count", int64(2))})
		if err != nil {
			t.Fatalf("DeleteWhere() error = %v", err)
		}
		if n != 2 {
			t.Errorf("DeleteWhere() = %d, want 2", n)
		}

		it, err := s.Query(ctx, "things", jt.Query{})
		if err != nil {
			t.Fatalf("Query() error = %v", err)
		}
		if got := collectKeys(t, it); !equalKeys(got, []string{"c"}) {
			t.Errorf("remaining keys = %v, want [c]", got)
		}
	})
}

func TestStore_RejectsInvalidQueries(t *testing.T) {
	forEachStore(t, func(t *testing.T, s jt.DocumentStore) {
		ctx := context.Background()
		bad := []jt.Query{
			{Where: []jt.Cond{jt.Eq("name'); DROP TABLE documents; --", "x")}},
			{OrderBy: "Name"},
			{Where: []jt.Cond{{Field: "name", Op: jt.OpPrefix, Value: 3}}},
			{Where: []jt.Cond{jt.Eq("name", []string{"x"})}},
			{Limit: -1},
		}
		for _, q := range bad {
			if _, err := s.Query(ctx, "things", q); err == nil {
				t.Errorf("Query(%+v) expected error", q)
			}
		}
	})
}

func TestSQLiteStore_BackupTo(t *testing.T) {
	s, err := NewSQLiteStore(DriverCGO, ":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	defer s.Close()
	if err := s.Migrate(); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	seed(t, s, map[string]testDoc{"a": {Name: "kept"}})

	dest := filepath.Join(t.TempDir(), "copy.db")
	if err := s.BackupTo(context.Background(), dest); err != nil {
		t.Fatalf("BackupTo() error = %v", err)
	}

	copied, err := NewSQLiteStore(DriverCGO, dest)
	if err != nil {
		t.Fatalf("opening backup: %v", err)
	}
	defer copied.Close()

	if err := copied.CheckMigrations(); err != nil {
		t.Errorf("backup CheckMigrations() error = %v", err)
	}
	var got testDoc
	found, err := copied.Get(context.Background(), "things", "a", &got)
	if err != nil || !found || got.Name != "kept" {
		t.Errorf("backup Get() = %+v, %v, %v", got, found, err)
	}
}

func TestNewStoreFromConfig(t *testing.T) {
	t.Run("memory store", func(t *testing.T) {
		got, err := NewStoreFromConfig(config.DatabaseConfig{Type: "memory"}, "host")
		if err != nil {
			t.Fatalf("NewStoreFromConfig() error = %v", err)
		}
		defer got.Close()
		if _, ok := got.(*MemoryStore); !ok {
			t.Errorf("NewStoreFromConfig() = %T, want *MemoryStore", got)
		}
	})

	for _, typ := range []string{"sqlite", "sqlite-pure"} {
		t.Run(typ, func(t *testing.T) {
			dir := t.TempDir()
			got, err := NewStoreFromConfig(config.DatabaseConfig{Type: typ, DataDir: dir}, "host-1")
			if err != nil {
				t.Fatalf("NewStoreFromConfig() error = %v", err)
			}
			defer got.Close()

			s, ok := got.(*SQLiteStore)
			if !ok {
				t.Fatalf("NewStoreFromConfig() = %T, want *SQLiteStore", got)
			}
			if s.Path() != filepath.Join(dir, "host-1.db") {
				t.Errorf("Path() = %q, want %q", s.Path(), filepath.Join(dir, "host-1.db"))
			}
		})
	}

	t.Run("sqlite without data_dir", func(t *testing.T) {
		if _, err := NewStoreFromConfig(config.DatabaseConfig{Type: "sqlite"}, "host"); err == nil {
			t.Error("NewStoreFromConfig() expected error for missing data_dir")
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		if _, err := NewStoreFromConfig(config.DatabaseConfig{Type: "postgres"}, "host"); err == nil {
			t.Error("NewStoreFromConfig() expected error for unknown type")
		}
	})
}
