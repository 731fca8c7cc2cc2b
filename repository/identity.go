// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"sync"

	"github.com/reid15halo-ops/Local-Buisness-automizer-sub002/entity"
	"github.com/reid15halo-ops/Local-Buisness-automizer-sub002/internal/auth"
)

// DefaultUserID owns records written without a known user
const DefaultUserID = "default"

// IdentityProvider resolves the signed-in user
type IdentityProvider interface {
	CurrentUserID(ctx context.Context) (string, bool)
}

// ContextIdentity reads the user id placed on the context by auth middleware
type ContextIdentity struct{}

// CurrentUserID implements IdentityProvider
func (ContextIdentity) CurrentUserID(ctx context.Context) (string, bool) {
	id, ok := auth.GetUserID(ctx)
	return id, ok && id != ""
}

// StaticIdentity always reports the same user
type StaticIdentity string

// CurrentUserID implements IdentityProvider
func (s StaticIdentity) CurrentUserID(context.Context) (string, bool) {
	return string(s), s != ""
}

// LegacySource is the coarse in-memory state consulted when a kind's local
// collection does not exist yet.
type LegacySource interface {
	Records(kind entity.Kind) []entity.Record
}

// MemoryLegacy is a LegacySource backed by a map
type MemoryLegacy struct {
	mu   sync.RWMutex
	data map[entity.Kind][]entity.Record
}

// NewMemoryLegacy creates an empty legacy source
func NewMemoryLegacy() *MemoryLegacy {
	return &MemoryLegacy{data: make(map[entity.Kind][]entity.Record)}
}

// Set replaces the records of a kind
func (m *MemoryLegacy) Set(kind entity.Kind, recs []entity.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[kind] = append([]entity.Record(nil), recs...)
}

// Records implements LegacySource
func (m *MemoryLegacy) Records(kind entity.Kind) []entity.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]entity.Record, 0, len(m.data[kind]))
	for _, r := range m.data[kind] {
		out = append(out, r.Clone())
	}
	return out
}
