package storage

import (
	"context"
	"path/filepath"
	"testing"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")
	store, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSetAndGet(t *testing.T) {
	for name, store := range map[string]Store{
		"sqlite": newSQLiteStore(t),
		"memory": NewMemoryStore(),
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := store.Set(ctx, "offline_queue", `[{"id":"a"}]`); err != nil {
				t.Fatalf("set: %v", err)
			}
			value, ok, err := store.Get(ctx, "offline_queue")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if !ok || value != `[{"id":"a"}]` {
				t.Fatalf("unexpected value ok=%v value=%q", ok, value)
			}
			if err := store.Set(ctx, "offline_queue", `[]`); err != nil {
				t.Fatalf("overwrite: %v", err)
			}
			value, _, _ = store.Get(ctx, "offline_queue")
			if value != `[]` {
				t.Fatalf("overwrite not applied: %q", value)
			}
		})
	}
}

func TestGetMissingKey(t *testing.T) {
	store := newSQLiteStore(t)
	value, ok, err := store.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok || value != "" {
		t.Fatalf("missing key should report ok=false, got ok=%v value=%q", ok, value)
	}
}

func TestRemove(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	if err := store.Set(ctx, "cache:symptoms", "{}"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Remove(ctx, "cache:symptoms"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := store.Remove(ctx, "cache:symptoms"); err != nil {
		t.Fatalf("second remove should be a no-op: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "cache:symptoms"); ok {
		t.Fatalf("key should be gone")
	}
}

func TestValuesSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.db")
	store, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init sqlite: %v", err)
	}
	if err := store.Set(context.Background(), "k", "v"); err != nil {
		t.Fatalf("set: %v", err)
	}
	_ = store.Close()

	reopened, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen sqlite: %v", err)
	}
	defer reopened.Close()
	if err := reopened.Init(context.Background()); err != nil {
		t.Fatalf("init sqlite: %v", err)
	}
	value, ok, err := reopened.Get(context.Background(), "k")
	if err != nil || !ok || value != "v" {
		t.Fatalf("value lost across reopen: ok=%v value=%q err=%v", ok, value, err)
	}
}

func TestEmptyKeyRejected(t *testing.T) {
	store := newSQLiteStore(t)
	if err := store.Set(context.Background(), "", "v"); err == nil {
		t.Fatalf("empty key should be rejected")
	}
}
