package storage

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
)

func TestMemDBBatchWrite(t *testing.T) {
	db := NewMemDB()
	if err := db.Put([]byte("stale"), []byte("old")); err != nil {
		t.Fatalf("put: %v", err)
	}

	batch := new(Batch)
	batch.Put([]byte("a"), []byte("1"))
	batch.Put([]byte("b"), []byte("2"))
	batch.Delete([]byte("stale"))
	if batch.Len() != 3 {
		t.Fatalf("expected 3 staged ops, got %d", batch.Len())
	}

	if err := db.Write(batch); err != nil {
		t.Fatalf("write: %v", err)
	}
	value, err := db.Get([]byte("a"))
	if err != nil || !bytes.Equal(value, []byte("1")) {
		t.Fatalf("expected a=1, got %q err=%v", value, err)
	}
	if _, err := db.Get([]byte("stale")); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("deleted key must report ErrKeyNotFound, got %v", err)
	}
	if _, err := db.Get([]byte("never-written")); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("missing key must report ErrKeyNotFound, got %v", err)
	}
}

func TestBatchCopiesKeysAndValues(t *testing.T) {
	key := []byte("key")
	value := []byte("value")
	batch := new(Batch)
	batch.Put(key, value)

	// Mutating the caller's slices must not affect the staged op.
	key[0] = 'x'
	value[0] = 'x'

	db := NewMemDB()
	if err := db.Write(batch); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := db.Get([]byte("key"))
	if err != nil || !bytes.Equal(got, []byte("value")) {
		t.Fatalf("expected staged copy to survive mutation, got %q err=%v", got, err)
	}
}

func TestLevelDBPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool")

	db, err := NewLevelDB(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	batch := new(Batch)
	batch.Put([]byte("loan/abc"), []byte(`{"state":1}`))
	if err := db.Write(batch); err != nil {
		t.Fatalf("write: %v", err)
	}
	db.Close()

	reopened, err := NewLevelDB(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	value, err := reopened.Get([]byte("loan/abc"))
	if err != nil || !bytes.Equal(value, []byte(`{"state":1}`)) {
		t.Fatalf("expected persisted value, got %q err=%v", value, err)
	}
	if _, err := reopened.Get([]byte("loan/missing")); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("missing key must report ErrKeyNotFound, got %v", err)
	}
}
