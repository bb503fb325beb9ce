package main

import (
	"errors"
	"math"
	"path/filepath"
	"testing"
)

func TestCoordinateKey(t *testing.T) {
	key, ok := CoordinateKey(35.12345, -83.56789)
	if !ok || key != "35.123,-83.568" {
		t.Errorf("CoordinateKey = %q, %v", key, ok)
	}
	// nearby points share a key
	other, _ := CoordinateKey(35.12341, -83.56801)
	if other != key {
		t.Errorf("expected shared key, got %q and %q", key, other)
	}
	if _, ok := CoordinateKey(math.NaN(), 0); ok {
		t.Error("expected ok=false for NaN")
	}
}

func TestMemoryCache(t *testing.T) {
	c := NewMemoryCache()
	if _, ok := c.Get("a"); ok {
		t.Error("empty cache returned a hit")
	}
	_ = c.Set("a", "Asheville")
	if got, ok := c.Get("a"); !ok || got != "Asheville" {
		t.Errorf("Get(a) = %q, %v", got, ok)
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d", c.Len())
	}
}

type failingStore struct {
	entries map[string]string
}

func (f *failingStore) Get(key string) (string, bool) {
	v, ok := f.entries[key]
	return v, ok
}

func (f *failingStore) Set(string, string) error {
	return errors.New("quota exceeded")
}

func TestTieredCache_storeFailureIgnored(t *testing.T) {
	store := &failingStore{entries: map[string]string{"warm": "From Disk"}}
	c := NewTieredCache(store)

	if err := c.Set("k", "Somewhere"); err != nil {
		t.Errorf("Set should swallow store errors, got %v", err)
	}
	if got, ok := c.Get("k"); !ok || got != "Somewhere" {
		t.Errorf("in-memory entry lost: %q, %v", got, ok)
	}
	if got, ok := c.Get("warm"); !ok || got != "From Disk" {
		t.Errorf("store read-through failed: %q, %v", got, ok)
	}
}

func TestDB_placeCache(t *testing.T) {
	db, err := OpenDB(filepath.Join(t.TempDir(), "sub", "tripmap.db"))
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	defer db.Close()

	if _, ok := db.Get("35.123,-83.568"); ok {
		t.Error("fresh db returned a hit")
	}
	if err := db.Set("35.123,-83.568", "Asheville, North Carolina"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := db.Set("35.123,-83.568", "Asheville, NC"); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	if got, ok := db.Get("35.123,-83.568"); !ok || got != "Asheville, NC" {
		t.Errorf("Get = %q, %v", got, ok)
	}
	if n, err := db.CountPlaces(); err != nil || n != 1 {
		t.Errorf("CountPlaces = %d, %v", n, err)
	}

	// tiered cache reads through to sqlite
	tc := NewTieredCache(db)
	if got, ok := tc.Get("35.123,-83.568"); !ok || got != "Asheville, NC" {
		t.Errorf("tiered Get = %q, %v", got, ok)
	}
}

func TestDB_manifestLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tripmap.db")
	db, err := OpenDB(path)
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	if err := db.RecordManifestLoad("photos.json", ManifestStats{Total: 5, Valid: 4, Dropped: 1}); err != nil {
		t.Fatalf("RecordManifestLoad: %v", err)
	}
	if err := db.RecordManifestLoad("immich", ManifestStats{Total: 2, Valid: 2}); err != nil {
		t.Fatalf("RecordManifestLoad: %v", err)
	}
	db.Close()

	// migrations are idempotent on reopen
	db, err = OpenDB(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()

	loads, err := db.ListManifestLoads(10)
	if err != nil {
		t.Fatalf("ListManifestLoads: %v", err)
	}
	if len(loads) != 2 {
		t.Fatalf("expected 2 loads, got %d", len(loads))
	}
	if loads[0].Source != "immich" || loads[1].Dropped != 1 {
		t.Errorf("unexpected loads: %+v", loads)
	}
}
