// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/reid15halo-ops/Local-Buisness-automizer-sub002/entity"
)

// Call records one operation received by a MemoryStore
type Call struct {
	Op    string
	Table string
	ID    string
	Row   entity.Record
}

// MemoryStore is an in-process Store with upsert semantics. It can be taken
// offline or made to fail selected calls.
type MemoryStore struct {
	mu         sync.Mutex
	tables     map[string]map[string]entity.Record
	calls      []Call
	configured bool
	online     bool
	failWhen   func(Call) error
}

// NewMemoryStore returns a configured, online, empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tables:     make(map[string]map[string]entity.Record),
		configured: true,
		online:     true,
	}
}

// SetConfigured toggles IsConfigured
func (m *MemoryStore) SetConfigured(v bool) {
	m.mu.Lock()
	m.configured = v
	m.mu.Unlock()
}

// SetOnline makes every call fail with KindNetwork while false
func (m *MemoryStore) SetOnline(v bool) {
	m.mu.Lock()
	m.online = v
	m.mu.Unlock()
}

// FailWhen installs a hook consulted before every call; a non-nil result is
// returned as the call's error (wrapped in *Error unless it already is one).
// The hook runs without the store lock held so it may block.
func (m *MemoryStore) FailWhen(hook func(Call) error) {
	m.mu.Lock()
	m.failWhen = hook
	m.mu.Unlock()
}

// Calls returns the operations received so far, including failed ones
func (m *MemoryStore) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// Rows returns a snapshot of a table ordered by id
func (m *MemoryStore) Rows(table string) []entity.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]entity.Record, 0, len(m.tables[table]))
	for _, r := range m.tables[table] {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Row returns one stored row
func (m *MemoryStore) Row(table, id string) (entity.Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.tables[table][id]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

// IsConfigured implements Store
func (m *MemoryStore) IsConfigured() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.configured
}

func (m *MemoryStore) begin(call Call) error {
	m.mu.Lock()
	m.calls = append(m.calls, call)
	configured, online, hook := m.configured, m.online, m.failWhen
	m.mu.Unlock()

	if !configured {
		return NotConfigured(call.Op, call.Table)
	}
	if !online {
		return &Error{Kind: KindNetwork, Op: call.Op, Table: call.Table, Message: "offline"}
	}
	if hook != nil {
		if err := hook(call); err != nil {
			var re *Error
			if errors.As(err, &re) {
				return err
			}
			return &Error{Kind: KindUnknown, Op: call.Op, Table: call.Table, Err: err}
		}
	}
	return nil
}

// Select implements Store
func (m *MemoryStore) Select(ctx context.Context, table string, q Query) ([]entity.Record, error) {
	if err := m.begin(Call{Op: OpSelect, Table: table}); err != nil {
		return nil, err
	}
	m.mu.Lock()
	var out []entity.Record
	for _, r := range m.tables[table] {
		if entity.Matches(r, q.Eq) {
			out = append(out, r.Clone())
		}
	}
	m.mu.Unlock()

	if q.OrderBy != "" {
		sort.SliceStable(out, func(i, j int) bool {
			a, b := out[i].String(q.OrderBy), out[j].String(q.OrderBy)
			if q.Descending {
				return a > b
			}
			return a < b
		})
	}
	return out, nil
}

// Upsert implements Store
func (m *MemoryStore) Upsert(ctx context.Context, table string, row entity.Record) (entity.Record, error) {
	id := row.ID()
	if err := m.begin(Call{Op: OpUpsert, Table: table, ID: id, Row: row.Clone()}); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, &Error{Kind: KindRejected, Op: OpUpsert, Table: table, Message: "id is required"}
	}
	stored, err := entity.Normalize(row)
	if err != nil {
		return nil, &Error{Kind: KindRejected, Op: OpUpsert, Table: table, Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tables[table] == nil {
		m.tables[table] = make(map[string]entity.Record)
	}
	// created_at is set once per row
	if existing, ok := m.tables[table][id]; ok {
		if created, ok := existing[entity.FieldCreatedAt]; ok {
			stored[entity.FieldCreatedAt] = created
		}
	}
	m.tables[table][id] = stored
	return stored.Clone(), nil
}

// Update implements Store
func (m *MemoryStore) Update(ctx context.Context, table, id string, partial entity.Record) (entity.Record, error) {
	if err := m.begin(Call{Op: OpUpdate, Table: table, ID: id, Row: partial.Clone()}); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.tables[table][id]
	if !ok {
		return nil, &Error{Kind: KindNotFound, Op: OpUpdate, Table: table, Message: "row " + id + " not found"}
	}
	merged, err := entity.Normalize(current.Merge(partial))
	if err != nil {
		return nil, &Error{Kind: KindRejected, Op: OpUpdate, Table: table, Err: err}
	}
	merged[entity.FieldID] = id
	m.tables[table][id] = merged
	return merged.Clone(), nil
}

// Delete implements Store; deleting a missing row succeeds
func (m *MemoryStore) Delete(ctx context.Context, table, id string) error {
	if err := m.begin(Call{Op: OpDelete, Table: table, ID: id}); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tables[table], id)
	return nil
}

var _ Store = (*MemoryStore)(nil)
var _ Store = (*HTTPClient)(nil)
