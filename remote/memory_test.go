package remote

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/reid15halo-ops/Local-Buisness-automizer-sub002/entity"
)

func TestMemoryStoreUpsertIsIdempotent(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	row := entity.Record{"id": "I1", "title": "INV-1", "amount": 100}
	_, err := m.Upsert(ctx, "invoices", row)
	require.NoError(t, err)
	_, err = m.Upsert(ctx, "invoices", row)
	require.NoError(t, err)

	rows := m.Rows("invoices")
	require.Len(t, rows, 1)
	require.Equal(t, json.Number("100"), rows[0]["amount"])
}

func TestMemoryStoreUpsertKeepsCreatedAt(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	_, err := m.Upsert(ctx, "customers", entity.Record{"id": "C1", "name": "Old", "created_at": "2025-05-12T08:30:00.000Z"})
	require.NoError(t, err)
	saved, err := m.Upsert(ctx, "customers", entity.Record{"id": "C1", "name": "New", "created_at": "2025-05-12T09:30:00.000Z"})
	require.NoError(t, err)
	require.Equal(t, "2025-05-12T08:30:00.000Z", saved["created_at"])
	require.Equal(t, "New", saved["name"])

	row, ok := m.Row("customers", "C1")
	require.True(t, ok)
	require.Equal(t, "2025-05-12T08:30:00.000Z", row["created_at"])
}

func TestMemoryStoreUpdateSelectDelete(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	_, err := m.Update(ctx, "jobs", "J1", entity.Record{"status": "running"})
	require.Equal(t, KindNotFound, KindOf(err))

	_, err = m.Upsert(ctx, "jobs", entity.Record{"id": "J1", "status": "pending", "created_at": "2025-01-01T00:00:00.000Z"})
	require.NoError(t, err)
	_, err = m.Upsert(ctx, "jobs", entity.Record{"id": "J2", "status": "pending", "created_at": "2025-02-01T00:00:00.000Z"})
	require.NoError(t, err)

	updated, err := m.Update(ctx, "jobs", "J1", entity.Record{"status": "running"})
	require.NoError(t, err)
	require.Equal(t, "running", updated["status"])
	require.Equal(t, "J1", updated.ID())

	pending, err := m.Select(ctx, "jobs", DefaultQuery(entity.Filter{"status": "pending"}))
	require.NoError(t, err)
	require.Len(t, pending, 1)

	all, err := m.Select(ctx, "jobs", DefaultQuery(nil))
	require.NoError(t, err)
	require.Equal(t, "J2", all[0].ID())

	require.NoError(t, m.Delete(ctx, "jobs", "J1"))
	require.NoError(t, m.Delete(ctx, "jobs", "J1"))
	_, ok := m.Row("jobs", "J1")
	require.False(t, ok)
}

func TestMemoryStoreFailureModes(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	m.SetOnline(false)
	_, err := m.Upsert(ctx, "customers", entity.Record{"id": "C1"})
	require.Equal(t, KindNetwork, KindOf(err))

	m.SetOnline(true)
	m.SetConfigured(false)
	require.False(t, m.IsConfigured())
	_, err = m.Select(ctx, "customers", Query{})
	require.Equal(t, KindNotConfigured, KindOf(err))

	m.SetConfigured(true)
	m.FailWhen(func(c Call) error {
		if c.ID == "C2" {
			return &Error{Kind: KindRejected, Message: "bad"}
		}
		if c.ID == "C3" {
			return errors.New("socket closed")
		}
		return nil
	})
	_, err = m.Upsert(ctx, "customers", entity.Record{"id": "C2"})
	require.Equal(t, KindRejected, KindOf(err))
	_, err = m.Upsert(ctx, "customers", entity.Record{"id": "C3"})
	require.Equal(t, KindUnknown, KindOf(err))
	_, err = m.Upsert(ctx, "customers", entity.Record{"id": "C4"})
	require.NoError(t, err)

	require.Len(t, m.Calls(), 5)
	require.Len(t, m.Rows("customers"), 1)
}

func TestErrorKindRetryable(t *testing.T) {
	require.True(t, KindNetwork.Retryable())
	require.True(t, KindServer.Retryable())
	require.True(t, KindUnauthorized.Retryable())
	require.False(t, KindRejected.Retryable())
	require.False(t, KindNotFound.Retryable())
	require.Equal(t, KindServer, KindForStatus(503))
	require.Equal(t, KindRejected, KindForStatus(422))
}
