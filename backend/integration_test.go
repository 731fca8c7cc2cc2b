package backend

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/reid15halo-ops/Local-Buisness-automizer-sub002/entity"
	"github.com/reid15halo-ops/Local-Buisness-automizer-sub002/internal/auth"
	"github.com/reid15halo-ops/Local-Buisness-automizer-sub002/remote"
)

func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Postgres integration test in short mode")
	}
	ctx := context.Background()

	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15-alpine"),
		postgres.WithDatabase("tradesync_test"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(context.Background()) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestPGStore(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()

	store, err := NewPGStore(ctx, pool, nil, nil)
	require.NoError(t, err)
	// Initialization is idempotent
	_, err = NewPGStore(ctx, pool, nil, nil)
	require.NoError(t, err)

	alice := auth.SetAuthContext(ctx, "alice", "a-phone")
	bob := auth.SetAuthContext(ctx, "bob", "b-tablet")

	t.Run("requires user", func(t *testing.T) {
		_, err := store.Select(ctx, "customers", remote.Query{})
		require.Equal(t, remote.KindUnauthorized, remote.KindOf(err))
	})

	t.Run("unknown table", func(t *testing.T) {
		_, err := store.Select(alice, "payroll", remote.Query{})
		require.Equal(t, remote.KindRejected, remote.KindOf(err))
		err = store.Delete(alice, "payroll", "P1")
		require.Equal(t, remote.KindRejected, remote.KindOf(err))
	})

	t.Run("upsert and select", func(t *testing.T) {
		for i, status := range []string{"open", "paid", "open"} {
			_, err := store.Upsert(alice, "invoices", entity.Record{
				"id":          []string{"I1", "I2", "I3"}[i],
				"status":      status,
				"customer_id": "C1",
				"amount":      json.Number("99.90"),
				"created_at":  entity.FormatTime(time.Date(2025, 5, 1+i, 0, 0, 0, 0, time.UTC)),
			})
			require.NoError(t, err)
		}

		rows, err := store.Select(alice, "invoices", remote.DefaultQuery(entity.Filter{"status": "open"}))
		require.NoError(t, err)
		require.Len(t, rows, 2)
		require.Equal(t, "I3", rows[0].ID())
		require.Equal(t, "alice", rows[0]["user_id"])
		require.Equal(t, json.Number("99.90"), rows[0]["amount"])

		rows, err = store.Select(bob, "invoices", remote.Query{})
		require.NoError(t, err)
		require.Empty(t, rows)
	})

	t.Run("upsert replaces", func(t *testing.T) {
		first, err := store.Upsert(alice, "customers", entity.Record{"id": "C1", "name": "Old", "phone": "1", "created_at": "2025-05-12T08:30:00.000Z"})
		require.NoError(t, err)
		saved, err := store.Upsert(alice, "customers", entity.Record{"id": "C1", "name": "New", "created_at": "2025-05-12T09:30:00.000Z"})
		require.NoError(t, err)
		require.Equal(t, "New", saved["name"])
		require.Equal(t, first["created_at"], saved["created_at"])

		var column string
		require.NoError(t, pool.QueryRow(ctx, `SELECT created_at FROM trade.customers WHERE id = 'C1'`).Scan(&column))
		require.Equal(t, "2025-05-12T08:30:00.000Z", column)
		_, hasPhone := saved["phone"]
		require.False(t, hasPhone)
	})

	t.Run("foreign id is rejected", func(t *testing.T) {
		_, err := store.Upsert(bob, "customers", entity.Record{"id": "C1", "name": "hijack"})
		require.Equal(t, remote.KindRejected, remote.KindOf(err))

		rows, err := store.Select(alice, "customers", remote.Query{Eq: entity.Filter{"id": "C1"}})
		require.NoError(t, err)
		require.Equal(t, "New", rows[0]["name"])
	})

	t.Run("update merges", func(t *testing.T) {
		updated, err := store.Update(alice, "invoices", "I1", entity.Record{"status": "paid", "paid_at": "2025-05-20"})
		require.NoError(t, err)
		require.Equal(t, "paid", updated["status"])
		require.Equal(t, "C1", updated["customer_id"])

		_, err = store.Update(bob, "invoices", "I1", entity.Record{"status": "void"})
		require.Equal(t, remote.KindNotFound, remote.KindOf(err))
	})

	t.Run("delete is idempotent and scoped", func(t *testing.T) {
		require.NoError(t, store.Delete(bob, "invoices", "I2"))
		rows, err := store.Select(alice, "invoices", remote.Query{Eq: entity.Filter{"id": "I2"}})
		require.NoError(t, err)
		require.Len(t, rows, 1)

		require.NoError(t, store.Delete(alice, "invoices", "I2"))
		require.NoError(t, store.Delete(alice, "invoices", "I2"))
		rows, err = store.Select(alice, "invoices", remote.Query{Eq: entity.Filter{"id": "I2"}})
		require.NoError(t, err)
		require.Empty(t, rows)
	})

	t.Run("concurrent upserts", func(t *testing.T) {
		var wg sync.WaitGroup
		errs := make(chan error, 20)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := store.Upsert(alice, "jobs", entity.Record{"id": "J1", "attempt": i})
				errs <- err
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}
		rows, err := store.Select(alice, "jobs", remote.Query{})
		require.NoError(t, err)
		require.Len(t, rows, 1)
	})

	t.Run("metrics recorder", func(t *testing.T) {
		var mu sync.Mutex
		var timings []OpTiming
		cfg := DefaultServiceConfig()
		cfg.Metrics = MetricsRecorderFunc(func(_ context.Context, timing OpTiming) {
			mu.Lock()
			defer mu.Unlock()
			timings = append(timings, timing)
		})
		recorded, err := NewPGStore(ctx, pool, cfg, nil)
		require.NoError(t, err)

		_, err = recorded.Upsert(alice, "quotes", entity.Record{"id": "Q1"})
		require.NoError(t, err)
		_, err = recorded.Update(bob, "quotes", "Q1", entity.Record{"status": "x"})
		require.Error(t, err)

		mu.Lock()
		defer mu.Unlock()
		require.Len(t, timings, 2)
		require.Equal(t, OpTiming{Operation: remote.OpUpsert, Table: "quotes", Rows: 1}, withoutDuration(timings[0]))
		require.Equal(t, OpTiming{Operation: remote.OpUpdate, Table: "quotes", Error: true}, withoutDuration(timings[1]))
	})
}

func withoutDuration(t OpTiming) OpTiming {
	t.Duration = 0
	return t
}
