package syncqueue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/reid15halo-ops/Local-Buisness-automizer-sub002/entity"
	"github.com/reid15halo-ops/Local-Buisness-automizer-sub002/localstore"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestQueue(t *testing.T) (*Queue, *fakeClock) {
	t.Helper()
	store, err := localstore.Open(context.Background(), ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clock := &fakeClock{now: time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)}
	q := New(store, nil)
	q.SetClock(clock.Now)
	return q, clock
}

func TestEnqueueAndListPending(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	id1, err := q.Enqueue(ctx, Entry{UserID: "u1", Action: ActionUpsert, Table: "invoices", Data: entity.Record{"id": "I1", "amount": 100}})
	require.NoError(t, err)
	id2, err := q.Enqueue(ctx, Entry{UserID: "u2", Action: ActionDelete, Table: "customers", Data: entity.Record{"id": "C1"}})
	require.NoError(t, err)
	id3, err := q.Enqueue(ctx, Entry{UserID: "u1", Action: ActionUpdate, Table: "invoices", Data: entity.Record{"id": "I1", "status": "paid"}})
	require.NoError(t, err)
	require.Less(t, id1, id2)
	require.Less(t, id2, id3)

	all, err := q.ListPending(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, []int64{id1, id2, id3}, []int64{all[0].ID, all[1].ID, all[2].ID})

	first := all[0]
	require.Equal(t, ActionUpsert, first.Action)
	require.Equal(t, "invoices", first.Table)
	require.False(t, first.Synced)
	require.Zero(t, first.Retries)
	require.True(t, first.SyncedAt.IsZero())
	require.Equal(t, "I1", first.Data.ID())

	mine, err := q.ListPending(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	require.Equal(t, id1, mine[0].ID)
	require.Equal(t, id3, mine[1].ID)
}

func TestEnqueueValidation(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, Entry{UserID: "u1", Action: "merge", Table: "invoices"})
	require.Error(t, err)
	_, err = q.Enqueue(ctx, Entry{UserID: "u1", Action: ActionUpsert})
	require.Error(t, err)
}

func TestEnqueueKeepsCallerTimestamp(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	ts := time.Date(2024, 12, 24, 18, 0, 0, 0, time.UTC)
	id, err := q.Enqueue(ctx, Entry{UserID: "u1", Action: ActionInsert, Table: "orders", Data: entity.Record{"id": "O1"}, Timestamp: ts})
	require.NoError(t, err)

	e, err := q.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, ts.Equal(e.Timestamp))
}

func TestMarkSyncedIsMonotonic(t *testing.T) {
	q, clock := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, Entry{UserID: "u1", Action: ActionUpsert, Table: "quotes", Data: entity.Record{"id": "Q1"}})
	require.NoError(t, err)

	require.NoError(t, q.MarkSynced(ctx, id))
	e, err := q.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, e.Synced)
	require.True(t, clock.Now().Equal(e.SyncedAt))

	// Later calls neither revert nor move synced_at
	clock.Advance(time.Hour)
	require.NoError(t, q.MarkSynced(ctx, id))
	retries, err := q.IncrementRetry(ctx, id)
	require.NoError(t, err)
	require.Zero(t, retries)

	e, err = q.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, e.Synced)
	require.True(t, clock.Now().Add(-time.Hour).Equal(e.SyncedAt))

	pending, err := q.ListPending(ctx, "")
	require.NoError(t, err)
	require.Empty(t, pending)

	require.ErrorIs(t, q.MarkSynced(ctx, 9999), ErrEntryNotFound)
}

func TestRetryThreshold(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, Entry{UserID: "u1", Action: ActionUpsert, Table: "invoices", Data: entity.Record{"id": "I9"}})
	require.NoError(t, err)

	last := 0
	for i := 1; i <= MaxRetries; i++ {
		pending, err := q.ListPending(ctx, "")
		require.NoError(t, err)
		require.Len(t, pending, 1, "still pending before failure %d", i)

		retries, err := q.IncrementRetry(ctx, id)
		require.NoError(t, err)
		require.Greater(t, retries, last)
		last = retries
	}

	pending, err := q.ListPending(ctx, "")
	require.NoError(t, err)
	require.Empty(t, pending)

	givenUp, err := q.ListGivenUp(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, givenUp, 1)
	require.True(t, givenUp[0].GivenUp())

	_, err = q.IncrementRetry(ctx, 4242)
	require.ErrorIs(t, err, ErrEntryNotFound)
}

func TestGiveUp(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, Entry{UserID: "u1", Action: ActionUpsert, Table: "invoices", Data: entity.Record{"id": "I1"}})
	require.NoError(t, err)
	_, err = q.IncrementRetry(ctx, id)
	require.NoError(t, err)

	require.NoError(t, q.GiveUp(ctx, id))
	e, err := q.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, MaxRetries, e.Retries)

	st, err := q.Stats(ctx, "")
	require.NoError(t, err)
	require.Equal(t, Stats{Pending: 0, Synced: 0, GivenUp: 1}, st)
}

func TestCleanup(t *testing.T) {
	q, clock := newTestQueue(t)
	ctx := context.Background()

	old, err := q.Enqueue(ctx, Entry{UserID: "u1", Action: ActionUpsert, Table: "invoices", Data: entity.Record{"id": "I1"}})
	require.NoError(t, err)
	require.NoError(t, q.MarkSynced(ctx, old))

	clock.Advance(8 * 24 * time.Hour)

	recent, err := q.Enqueue(ctx, Entry{UserID: "u1", Action: ActionUpsert, Table: "invoices", Data: entity.Record{"id": "I2"}})
	require.NoError(t, err)
	require.NoError(t, q.MarkSynced(ctx, recent))

	pending, err := q.Enqueue(ctx, Entry{UserID: "u1", Action: ActionUpsert, Table: "invoices", Data: entity.Record{"id": "I3"}})
	require.NoError(t, err)

	removed, err := q.Cleanup(ctx, DefaultRetention)
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	_, err = q.Get(ctx, old)
	require.ErrorIs(t, err, ErrEntryNotFound)
	_, err = q.Get(ctx, recent)
	require.NoError(t, err)
	_, err = q.Get(ctx, pending)
	require.NoError(t, err)

	st, err := q.Stats(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 1, st.Pending)
	require.Equal(t, 1, st.Synced)
}

func TestParseAction(t *testing.T) {
	for _, s := range []string{"insert", "UPDATE", "delete", "upsert"} {
		_, err := ParseAction(s)
		require.NoError(t, err, s)
	}
	_, err := ParseAction("patch")
	require.Error(t, err)
}
