// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package localstore provides a versioned SQLite document store organized in
// named collections with secondary indexes.
package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/reid15halo-ops/Local-Buisness-automizer-sub002/entity"
)

var (
	ErrNotFound           = errors.New("record not found")
	ErrCollectionNotFound = errors.New("collection not found")
	ErrIndexNotFound      = errors.New("index not found")
)

var identRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Collection describes a document collection and its indexed fields
type Collection struct {
	Name    string
	Indexes []string
}

// HasIndex reports whether field is indexed
func (c Collection) HasIndex(field string) bool {
	for _, idx := range c.Indexes {
		if idx == field {
			return true
		}
	}
	return false
}

func (c Collection) validate() error {
	if !identRe.MatchString(c.Name) || strings.HasPrefix(c.Name, "_") {
		return fmt.Errorf("invalid collection name %q", c.Name)
	}
	for _, idx := range c.Indexes {
		if !identRe.MatchString(idx) {
			return fmt.Errorf("invalid index name %q on %s", idx, c.Name)
		}
	}
	return nil
}

// Store is the local document store
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	writeMu sync.Mutex // Serialize write operations to prevent SQLite locking issues

	mu          sync.RWMutex
	collections map[string]Collection
}

// Open opens (creating if needed) the SQLite database at path and migrates it
// to SchemaVersion.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	inMemory := path == ":memory:" || strings.Contains(path, "mode=memory")
	dsn := path
	if !inMemory && !strings.Contains(path, "?") {
		dsn = path + "?_busy_timeout=5000&_txlock=immediate"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if inMemory {
		// Every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}
	store, err := New(ctx, db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// New wraps an already opened database and migrates it to SchemaVersion
func New(ctx context.Context, db *sql.DB, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		db:          db,
		logger:      logger,
		collections: make(map[string]Collection),
	}
	if err := s.initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	if err := s.loadCollections(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize(ctx context.Context) error {
	// Enable WAL mode and foreign keys
	if _, err := s.db.ExecContext(ctx, `PRAGMA journal_mode=WAL`); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `PRAGMA foreign_keys=ON`); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	tables := []string{
		`CREATE TABLE IF NOT EXISTS _local_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,
		`CREATE TABLE IF NOT EXISTS _local_collections (
			name       TEXT PRIMARY KEY,
			indexes    TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, table); err != nil {
			return fmt.Errorf("failed to create metadata table: %w", err)
		}
	}
	return nil
}

func (s *Store) loadCollections(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT name, indexes FROM _local_collections`)
	if err != nil {
		return fmt.Errorf("failed to query collections: %w", err)
	}
	defer rows.Close()

	loaded := make(map[string]Collection)
	for rows.Next() {
		var name, indexes string
		if err := rows.Scan(&name, &indexes); err != nil {
			return fmt.Errorf("failed to scan collection: %w", err)
		}
		loaded[name] = Collection{Name: name, Indexes: splitIndexes(indexes)}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating collections: %w", err)
	}

	s.mu.Lock()
	s.collections = loaded
	s.mu.Unlock()
	return nil
}

func splitIndexes(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// DB exposes the underlying database for components sharing the file
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database
func (s *Store) Close() error { return s.db.Close() }

// HasCollection reports whether the named collection exists
func (s *Store) HasCollection(name string) bool {
	_, ok := s.collection(name)
	return ok
}

// Collections returns the known collections
func (s *Store) Collections() []Collection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Collection, 0, len(s.collections))
	for _, c := range s.collections {
		out = append(out, c)
	}
	return out
}

func (s *Store) collection(name string) (Collection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	return c, ok
}

// EnsureCollection adds a collection, or indexes of an existing one, outside
// the fixed migrations. A change is applied in one transaction together with a
// new row in _local_collection_versions and the returned version is that row's.
// When the collection already has every index nothing is written and the
// current collection version is returned.
func (s *Store) EnsureCollection(ctx context.Context, c Collection) (int, error) {
	if err := c.validate(); err != nil {
		return 0, err
	}
	if existing, ok := s.collection(c.Name); ok && len(mergeIndexes(existing.Indexes, c.Indexes)) == len(existing.Indexes) {
		return s.CollectionVersion(ctx)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := ensureCollectionTx(ctx, tx, c); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO _local_collection_versions (collection, indexes) VALUES (?, ?)`,
		c.Name, strings.Join(c.Indexes, ","))
	if err != nil {
		return 0, fmt.Errorf("failed to record collection version: %w", err)
	}
	version, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read collection version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit collection %s: %w", c.Name, err)
	}
	s.logger.Info("Collection schema changed", "collection", c.Name, "indexes", c.Indexes, "version", version)
	return int(version), s.loadCollections(ctx)
}

// CollectionVersion returns the number of the last EnsureCollection change, 0 when none
func (s *Store) CollectionVersion(ctx context.Context) (int, error) {
	var v sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(version) FROM _local_collection_versions`).Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to read collection version: %w", err)
	}
	return int(v.Int64), nil
}

// ensureCollectionTx is safe to re-run: every step checks for existence first
func ensureCollectionTx(ctx context.Context, tx *sql.Tx, c Collection) error {
	var existing string
	err := tx.QueryRowContext(ctx, `SELECT indexes FROM _local_collections WHERE name = ?`, c.Name).Scan(&existing)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to look up collection %s: %w", c.Name, err)
	}
	merged := mergeIndexes(splitIndexes(existing), c.Indexes)

	cols := []string{`id TEXT PRIMARY KEY`}
	for _, idx := range merged {
		cols = append(cols, fmt.Sprintf(`"idx_%s" TEXT`, idx))
	}
	cols = append(cols, `data TEXT NOT NULL`)
	create := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS "%s" (%s)`, c.Name, strings.Join(cols, ", "))
	if _, err := tx.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("failed to create collection %s: %w", c.Name, err)
	}

	for _, idx := range merged {
		has, err := columnExists(ctx, tx, c.Name, "idx_"+idx)
		if err != nil {
			return err
		}
		if !has {
			alter := fmt.Sprintf(`ALTER TABLE "%s" ADD COLUMN "idx_%s" TEXT`, c.Name, idx)
			if _, err := tx.ExecContext(ctx, alter); err != nil {
				return fmt.Errorf("failed to add index column %s.%s: %w", c.Name, idx, err)
			}
			backfill := fmt.Sprintf(`UPDATE "%s" SET "idx_%s" = json_extract(data, '$.%s')`, c.Name, idx, idx)
			if _, err := tx.ExecContext(ctx, backfill); err != nil {
				return fmt.Errorf("failed to backfill index %s.%s: %w", c.Name, idx, err)
			}
		}
		createIdx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS "%s_by_%s" ON "%s" ("idx_%s")`, c.Name, idx, c.Name, idx)
		if _, err := tx.ExecContext(ctx, createIdx); err != nil {
			return fmt.Errorf("failed to create index %s.%s: %w", c.Name, idx, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO _local_collections (name, indexes) VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET indexes = excluded.indexes
	`, c.Name, strings.Join(merged, ","))
	if err != nil {
		return fmt.Errorf("failed to register collection %s: %w", c.Name, err)
	}
	return nil
}

func mergeIndexes(existing, wanted []string) []string {
	out := append([]string(nil), existing...)
	for _, w := range wanted {
		found := false
		for _, e := range out {
			if e == w {
				found = true
				break
			}
		}
		if !found {
			out = append(out, w)
		}
	}
	return out
}

func columnExists(ctx context.Context, tx *sql.Tx, table, column string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to inspect %s: %w", table, err)
	}
	return n > 0, nil
}

// Put inserts or replaces a record by id
func (s *Store) Put(ctx context.Context, collection string, rec entity.Record) error {
	return s.PutAll(ctx, collection, []entity.Record{rec})
}

// PutAll writes all records in one transaction
func (s *Store) PutAll(ctx context.Context, collection string, recs []entity.Record) error {
	c, ok := s.collection(collection)
	if !ok {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}
	if len(recs) == 0 {
		return nil
	}

	cols := []string{"id"}
	for _, idx := range c.Indexes {
		cols = append(cols, fmt.Sprintf(`"idx_%s"`, idx))
	}
	cols = append(cols, "data")
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	stmt := fmt.Sprintf(`INSERT OR REPLACE INTO "%s" (%s) VALUES (%s)`, c.Name, strings.Join(cols, ", "), placeholders)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, rec := range recs {
		id := rec.ID()
		if id == "" {
			return fmt.Errorf("record in %s has no id", collection)
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal record %s: %w", id, err)
		}
		args := []any{id}
		for _, idx := range c.Indexes {
			if v, ok := rec[idx]; ok && v != nil {
				args = append(args, entity.Canonical(v))
			} else {
				args = append(args, nil)
			}
		}
		args = append(args, string(data))
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return fmt.Errorf("failed to put %s/%s: %w", collection, id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit put: %w", err)
	}
	return nil
}

// Get returns the record with the given id or ErrNotFound
func (s *Store) Get(ctx context.Context, collection, id string) (entity.Record, error) {
	c, ok := s.collection(collection)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}
	var data string
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT data FROM "%s" WHERE id = ?`, c.Name), id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", collection, id, err)
	}
	return entity.Decode([]byte(data))
}

// Delete removes a record; deleting a missing id is not an error
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	c, ok := s.collection(collection)
	if !ok {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM "%s" WHERE id = ?`, c.Name), id); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", collection, id, err)
	}
	return nil
}

// GetAll returns every record in the collection
func (s *Store) GetAll(ctx context.Context, collection string) ([]entity.Record, error) {
	c, ok := s.collection(collection)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}
	return s.query(ctx, fmt.Sprintf(`SELECT data FROM "%s" ORDER BY id`, c.Name))
}

// GetAllByIndex returns the records whose indexed field equals value
func (s *Store) GetAllByIndex(ctx context.Context, collection, index string, value any) ([]entity.Record, error) {
	c, ok := s.collection(collection)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}
	if !c.HasIndex(index) {
		return nil, fmt.Errorf("%w: %s.%s", ErrIndexNotFound, collection, index)
	}
	q := fmt.Sprintf(`SELECT data FROM "%s" WHERE "idx_%s" = ? ORDER BY id`, c.Name, index)
	return s.query(ctx, q, entity.Canonical(value))
}

// Collection returns the definition of a collection
func (s *Store) Collection(name string) (Collection, error) {
	c, ok := s.collection(name)
	if !ok {
		return Collection{}, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return c, nil
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]entity.Record, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var out []entity.Record
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		rec, err := entity.Decode([]byte(data))
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}
	return out, nil
}
