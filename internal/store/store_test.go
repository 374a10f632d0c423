package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func openAll(t *testing.T) map[string]KV {
	t.Helper()
	dir := t.TempDir()

	sqliteStore, err := NewSQLiteStore(filepath.Join(dir, "nested", "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	boltStore, err := NewBoltStore(filepath.Join(dir, "test.bolt"))
	if err != nil {
		t.Fatalf("NewBoltStore: %v", err)
	}
	stores := map[string]KV{
		"sqlite": sqliteStore,
		"bolt":   boltStore,
		"memory": NewMemoryStore(),
	}
	t.Cleanup(func() {
		for _, s := range stores {
			s.Close()
		}
	})
	return stores
}

func TestKVRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, kv := range openAll(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := kv.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
			}
			if err := kv.Put(ctx, "k", []byte("v1")); err != nil {
				t.Fatalf("Put: %v", err)
			}
			if err := kv.Put(ctx, "k", []byte("v2")); err != nil {
				t.Fatalf("Put overwrite: %v", err)
			}
			got, err := kv.Get(ctx, "k")
			if err != nil || string(got) != "v2" {
				t.Fatalf("Get(k) = %q, %v; want v2", got, err)
			}
			if err := kv.Delete(ctx, "k"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, err := kv.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get after delete error = %v", err)
			}
		})
	}
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryStore()

	var v struct{ Name string }
	ok, err := LoadJSON(ctx, kv, SettingsKey, &v)
	if ok || err != nil {
		t.Fatalf("LoadJSON on empty store = %v, %v", ok, err)
	}

	if err := SaveJSON(ctx, kv, SettingsKey, map[string]string{"Name": "x"}); err != nil {
		t.Fatalf("SaveJSON: %v", err)
	}
	ok, err = LoadJSON(ctx, kv, SettingsKey, &v)
	if !ok || err != nil || v.Name != "x" {
		t.Fatalf("LoadJSON = %v, %v, %+v", ok, err, v)
	}

	kv.Put(ctx, ChatsKey, []byte("{not json"))
	if _, err := LoadJSON(ctx, kv, ChatsKey, &v); err == nil {
		t.Fatal("LoadJSON should fail on a corrupt blob")
	}
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, ChatsKey, []byte(`[]`)); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	got, err := s.Get(ctx, ChatsKey)
	if err != nil || string(got) != "[]" {
		t.Fatalf("Get after reopen = %q, %v", got, err)
	}
}

func TestSQLiteStoreMigratesUnversionedDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`CREATE TABLE blobs (key TEXT PRIMARY KEY, value BLOB NOT NULL)`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`INSERT INTO blobs (key, value) VALUES ('k', 'old')`); err != nil {
		t.Fatal(err)
	}
	db.Close()

	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore on old database: %v", err)
	}
	defer s.Close()

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatal(err)
	}
	if version != schemaVersion {
		t.Errorf("schema version = %d, want %d", version, schemaVersion)
	}
	if err := s.Put(context.Background(), "k", []byte("new")); err != nil {
		t.Fatalf("Put after migration: %v", err)
	}
	got, err := s.Get(context.Background(), "k")
	if err != nil || string(got) != "new" {
		t.Errorf("Get after migration = %q, %v", got, err)
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	if _, err := Open(Config{Backend: "redis"}); err == nil {
		t.Fatal("Open should reject unknown backends")
	}
	kv, err := Open(Config{Backend: BackendMemory})
	if err != nil {
		t.Fatal(err)
	}
	kv.Close()
}
