package main

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type DB struct {
	*sql.DB
}

func OpenDB(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	if err := runMigrations(db); err != nil {
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	return &DB{db}, nil
}

func runMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Get implements LocationCache
func (db *DB) Get(key string) (string, bool) {
	row := db.QueryRow(`SELECT place_name FROM place_cache WHERE coord_key = ?`, key)
	var name string
	if err := row.Scan(&name); err != nil {
		return "", false
	}
	return name, true
}

// Set implements LocationCache
func (db *DB) Set(key, name string) error {
	_, err := db.Exec(
		`INSERT OR REPLACE INTO place_cache (coord_key, place_name, created_at) VALUES (?, ?, ?)`,
		key, name, time.Now().Unix(),
	)
	return err
}

// CountPlaces returns the number of cached place names
func (db *DB) CountPlaces() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM place_cache`).Scan(&n)
	return n, err
}

// ManifestLoad records one manifest (re)load
type ManifestLoad struct {
	ID       int64  `json:"id"`
	Source   string `json:"source"`
	Total    int    `json:"total"`
	Valid    int    `json:"valid"`
	Dropped  int    `json:"dropped"`
	LoadedAt int64  `json:"loaded_at"`
}

// RecordManifestLoad stores the stats of a manifest load
func (db *DB) RecordManifestLoad(source string, stats ManifestStats) error {
	_, err := db.Exec(
		`INSERT INTO manifest_loads (source, total, valid, dropped, loaded_at) VALUES (?, ?, ?, ?, ?)`,
		source, stats.Total, stats.Valid, stats.Dropped, time.Now().Unix(),
	)
	return err
}

// ListManifestLoads returns recent loads, most recent first
func (db *DB) ListManifestLoads(limit int) ([]ManifestLoad, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(
		`SELECT id, source, total, valid, dropped, loaded_at FROM manifest_loads ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var loads []ManifestLoad
	for rows.Next() {
		var l ManifestLoad
		if err := rows.Scan(&l.ID, &l.Source, &l.Total, &l.Valid, &l.Dropped, &l.LoadedAt); err != nil {
			return nil, err
		}
		loads = append(loads, l)
	}
	return loads, rows.Err()
}
