package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/reid15halo-ops/Local-Buisness-automizer-sub002/entity"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestOpenCreatesCollections(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	version, err := store.Version(ctx)
	require.NoError(t, err)
	require.Equal(t, SchemaVersion, version)

	for _, name := range []string{"customers", "invoices", "quotes", "orders", "jobs"} {
		require.True(t, store.HasCollection(name), "collection %s should exist", name)
	}

	var count int
	err = store.DB().QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='sync_queue'").Scan(&count)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	invoices, err := store.Collection("invoices")
	require.NoError(t, err)
	require.True(t, invoices.HasIndex("due_date"))
	require.True(t, invoices.HasIndex("customer_id"))

	// foreign keys enabled like the rest of the client databases
	var foreignKeys int
	require.NoError(t, store.DB().QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys))
	require.Equal(t, 1, foreignKeys)
}

func TestPutGetDelete(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	rec := entity.Record{"id": "C1", "user_id": "u1", "name": "Bauer GmbH", "status": "active", "visits": 3}
	require.NoError(t, store.Put(ctx, "customers", rec))

	got, err := store.Get(ctx, "customers", "C1")
	require.NoError(t, err)
	require.Equal(t, "Bauer GmbH", got["name"])
	require.Equal(t, json.Number("3"), got["visits"])

	// Put replaces by id
	rec["status"] = "inactive"
	require.NoError(t, store.Put(ctx, "customers", rec))
	active, err := store.GetAllByIndex(ctx, "customers", "status", "active")
	require.NoError(t, err)
	require.Empty(t, active)
	inactive, err := store.GetAllByIndex(ctx, "customers", "status", "inactive")
	require.NoError(t, err)
	require.Len(t, inactive, 1)

	require.NoError(t, store.Delete(ctx, "customers", "C1"))
	_, err = store.Get(ctx, "customers", "C1")
	require.ErrorIs(t, err, ErrNotFound)

	// deleting again is fine
	require.NoError(t, store.Delete(ctx, "customers", "C1"))
}

func TestPutAllAndIndexes(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	recs := []entity.Record{
		{"id": "I1", "user_id": "u1", "customer_id": "C1", "status": "open"},
		{"id": "I2", "user_id": "u1", "customer_id": "C2", "status": "paid"},
		{"id": "I3", "user_id": "u2", "customer_id": "C1", "status": "open"},
	}
	require.NoError(t, store.PutAll(ctx, "invoices", recs))

	all, err := store.GetAll(ctx, "invoices")
	require.NoError(t, err)
	require.Len(t, all, 3)

	byCustomer, err := store.GetAllByIndex(ctx, "invoices", "customer_id", "C1")
	require.NoError(t, err)
	require.Len(t, byCustomer, 2)

	byUser, err := store.GetAllByIndex(ctx, "invoices", "user_id", "u1")
	require.NoError(t, err)
	require.Len(t, byUser, 2)

	_, err = store.GetAllByIndex(ctx, "invoices", "title", "x")
	require.ErrorIs(t, err, ErrIndexNotFound)

	err = store.PutAll(ctx, "invoices", []entity.Record{{"status": "open"}})
	require.Error(t, err)
}

func TestUnknownCollection(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	err := store.Put(ctx, "photos", entity.Record{"id": "P1"})
	require.True(t, errors.Is(err, ErrCollectionNotFound))
	_, err = store.GetAll(ctx, "photos")
	require.ErrorIs(t, err, ErrCollectionNotFound)
	_, err = store.Get(ctx, "photos", "P1")
	require.ErrorIs(t, err, ErrCollectionNotFound)
}

func TestEnsureCollection(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	v, err := store.CollectionVersion(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, v)

	notes := Collection{Name: "user_u1_notes", Indexes: []string{"user_id"}}
	v, err = store.EnsureCollection(ctx, notes)
	require.NoError(t, err)
	require.Equal(t, 1, v)
	require.True(t, store.HasCollection("user_u1_notes"))

	// Nothing to change: no new version
	v, err = store.EnsureCollection(ctx, notes)
	require.NoError(t, err)
	require.Equal(t, 1, v)

	require.NoError(t, store.Put(ctx, "user_u1_notes", entity.Record{"id": "N1", "user_id": "u1", "kind": "memo"}))

	// Adding an index bumps the version and backfills existing rows
	v, err = store.EnsureCollection(ctx, Collection{Name: "user_u1_notes", Indexes: []string{"kind"}})
	require.NoError(t, err)
	require.Equal(t, 2, v)
	c, err := store.Collection("user_u1_notes")
	require.NoError(t, err)
	require.Equal(t, []string{"user_id", "kind"}, c.Indexes)

	memos, err := store.GetAllByIndex(ctx, "user_u1_notes", "kind", "memo")
	require.NoError(t, err)
	require.Len(t, memos, 1)

	var recorded int
	require.NoError(t, store.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM _local_collection_versions WHERE collection = 'user_u1_notes'`).Scan(&recorded))
	require.Equal(t, 2, recorded)

	// Schema version of the fixed migrations is untouched
	schema, err := store.Version(ctx)
	require.NoError(t, err)
	require.Equal(t, SchemaVersion, schema)

	_, err = store.EnsureCollection(ctx, Collection{Name: "Bad Name"})
	require.Error(t, err)
	_, err = store.EnsureCollection(ctx, Collection{Name: "_local_migrations"})
	require.Error(t, err)
	v, err = store.CollectionVersion(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, v)
}

func TestReopenKeepsData(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	defer db.Close()
	ctx := context.Background()

	store, err := New(ctx, db, slog.Default())
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "orders", entity.Record{"id": "O1", "user_id": "u1"}))

	reopened, err := New(ctx, db, nil)
	require.NoError(t, err)
	got, err := reopened.Get(ctx, "orders", "O1")
	require.NoError(t, err)
	require.Equal(t, "u1", got["user_id"])

	var applied int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM _local_migrations").Scan(&applied))
	require.Equal(t, SchemaVersion, applied)
}
