// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package localstore

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration is one schema version step. Apply must only perform its own delta
// and must tolerate objects that already exist.
type Migration struct {
	Version int
	Name    string
	Apply   func(ctx context.Context, tx *sql.Tx) error
}

// SchemaVersion is the version a freshly opened store is migrated to
const SchemaVersion = 6

// Entity collections created by the migrations
var (
	CustomersCollection = Collection{Name: "customers", Indexes: []string{"user_id", "status"}}
	InvoicesCollection  = Collection{Name: "invoices", Indexes: []string{"user_id", "status", "customer_id"}}
	QuotesCollection    = Collection{Name: "quotes", Indexes: []string{"user_id", "status", "customer_id"}}
	OrdersCollection    = Collection{Name: "orders", Indexes: []string{"user_id", "status", "customer_id"}}
	JobsCollection      = Collection{Name: "jobs", Indexes: []string{"user_id", "status", "type"}}
)

var migrations = []Migration{
	{
		Version: 1,
		Name:    "core_collections",
		Apply: func(ctx context.Context, tx *sql.Tx) error {
			for _, c := range []Collection{CustomersCollection, InvoicesCollection, QuotesCollection, OrdersCollection} {
				if err := ensureCollectionTx(ctx, tx, c); err != nil {
					return err
				}
			}
			return nil
		},
	},
	{
		Version: 2,
		Name:    "sync_queue",
		Apply: func(ctx context.Context, tx *sql.Tx) error {
			stmts := []string{
				`CREATE TABLE IF NOT EXISTS sync_queue (
					id         INTEGER PRIMARY KEY AUTOINCREMENT,
					user_id    TEXT NOT NULL,
					action     TEXT NOT NULL CHECK (action IN ('insert','update','delete','upsert')),
					table_name TEXT NOT NULL,
					data       TEXT NOT NULL,
					timestamp  INTEGER NOT NULL,
					synced     INTEGER NOT NULL DEFAULT 0,
					retries    INTEGER NOT NULL DEFAULT 0,
					synced_at  INTEGER
				)`,
				`CREATE INDEX IF NOT EXISTS sync_queue_pending ON sync_queue (synced, retries, id)`,
				`CREATE INDEX IF NOT EXISTS sync_queue_user ON sync_queue (user_id)`,
			}
			for _, stmt := range stmts {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("failed to create sync queue: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version: 3,
		Name:    "jobs",
		Apply: func(ctx context.Context, tx *sql.Tx) error {
			return ensureCollectionTx(ctx, tx, JobsCollection)
		},
	},
	{
		Version: 4,
		Name:    "invoice_due_date",
		Apply: func(ctx context.Context, tx *sql.Tx) error {
			return ensureCollectionTx(ctx, tx, Collection{Name: "invoices", Indexes: []string{"due_date"}})
		},
	},
	{
		Version: 5,
		Name:    "client_info",
		Apply: func(ctx context.Context, tx *sql.Tx) error {
			// One row per signed-in user; device_id is generated once and kept
			_, err := tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS _client_info (
				user_id    TEXT PRIMARY KEY,
				device_id  TEXT NOT NULL,
				created_at INTEGER NOT NULL
			)`)
			return err
		},
	},
	{
		Version: 6,
		Name:    "collection_versions",
		Apply: func(ctx context.Context, tx *sql.Tx) error {
			// Each EnsureCollection that changes the schema appends a row
			_, err := tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS _local_collection_versions (
				version    INTEGER PRIMARY KEY AUTOINCREMENT,
				collection TEXT NOT NULL,
				indexes    TEXT NOT NULL,
				applied_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
			)`)
			return err
		},
	},
}

// Migrations returns the declared migrations in version order
func Migrations() []Migration {
	return append([]Migration(nil), migrations...)
}

// Version returns the highest applied migration version
func (s *Store) Version(ctx context.Context) (int, error) {
	return currentVersion(ctx, s.db)
}

func currentVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT MAX(version) FROM _local_migrations`).Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return int(v.Int64), nil
}

func (s *Store) migrate(ctx context.Context) error {
	return s.migrateTo(ctx, migrations, SchemaVersion)
}

// migrateTo applies every migration above the stored version up to target.
// Each version commits on its own so a failure leaves earlier versions intact.
func (s *Store) migrateTo(ctx context.Context, steps []Migration, target int) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current, err := currentVersion(ctx, s.db)
	if err != nil {
		return err
	}
	if current >= target {
		return nil
	}

	for _, m := range steps {
		if m.Version <= current || m.Version > target {
			continue
		}
		if err := s.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("failed to apply migration %d (%s): %w", m.Version, m.Name, err)
		}
		s.logger.Info("Applied local schema migration", "version", m.Version, "name", m.Name)
	}
	return nil
}

func (s *Store) applyMigration(ctx context.Context, m Migration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration transaction: %w", err)
	}
	defer tx.Rollback()

	if err := m.Apply(ctx, tx); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO _local_migrations (version, name) VALUES (?, ?)`, m.Version, m.Name); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}
	return tx.Commit()
}
