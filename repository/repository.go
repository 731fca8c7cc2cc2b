// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package repository implements the offline-first read/write policy for
// customers, invoices, quotes, orders and jobs.
//
// Writes go to the remote store when it is configured and reachable and are
// always written through to the local store. Writes the remote store did not
// confirm are queued for the sync engine. Reads prefer the remote store,
// refresh the local cache from it and fall back to the local store.
package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/reid15halo-ops/Local-Buisness-automizer-sub002/entity"
	"github.com/reid15halo-ops/Local-Buisness-automizer-sub002/localstore"
	"github.com/reid15halo-ops/Local-Buisness-automizer-sub002/remote"
	"github.com/reid15halo-ops/Local-Buisness-automizer-sub002/syncengine"
	"github.com/reid15halo-ops/Local-Buisness-automizer-sub002/syncqueue"
)

// Options carries the optional collaborators
type Options struct {
	Remote   remote.Store // nil behaves as unconfigured
	Identity IdentityProvider
	Legacy   LegacySource
	Logger   *slog.Logger
	Now      func() time.Time
}

// Repository is the single read/write access point for entity data
type Repository struct {
	local    *localstore.Store
	queue    *syncqueue.Queue
	engine   *syncengine.Engine
	remote   remote.Store
	identity IdentityProvider
	legacy   LegacySource
	logger   *slog.Logger
	now      func() time.Time

	jobMu      sync.Mutex
	jobSubs    map[int]func(JobUpdate)
	jobOrder   []int
	nextJobSub int
}

// New wires a repository. engine may be nil when draining is driven elsewhere.
func New(local *localstore.Store, queue *syncqueue.Queue, engine *syncengine.Engine, opts Options) *Repository {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Repository{
		local:    local,
		queue:    queue,
		engine:   engine,
		remote:   opts.Remote,
		identity: opts.Identity,
		legacy:   opts.Legacy,
		logger:   opts.Logger,
		now:      opts.Now,
		jobSubs:  make(map[int]func(JobUpdate)),
	}
}

func (r *Repository) remoteReady() bool {
	return r.remote != nil && r.remote.IsConfigured()
}

// UserID resolves the current user, falling back to DefaultUserID
func (r *Repository) UserID(ctx context.Context) string {
	if r.identity != nil {
		if id, ok := r.identity.CurrentUserID(ctx); ok {
			return id
		}
	}
	return DefaultUserID
}

func hasMoney(kind entity.Kind) bool {
	return kind == entity.Invoices || kind == entity.Quotes || kind == entity.Orders
}

// Save upserts a record. The returned record is the server row when the
// remote store confirmed the write, otherwise the locally stamped record.
// An error means the write reached neither the remote store nor the queue.
func (r *Repository) Save(ctx context.Context, kind entity.Kind, data entity.Record) (entity.Record, error) {
	userID := r.UserID(ctx)
	rec := entity.Stamp(r.keepCreatedAt(ctx, kind, data), userID, r.now())
	if hasMoney(kind) {
		normalized, err := entity.NormalizeMoney(rec)
		if err != nil {
			r.logger.Warn("Keeping unparseable monetary fields as given", "table", kind, "id", rec.ID(), "error", err)
		}
		rec = normalized
	}
	rec, err := entity.Normalize(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to save %s: %w", kind, err)
	}

	r.mirror(ctx, kind, rec)

	if r.remoteReady() {
		saved, err := r.remote.Upsert(ctx, string(kind), rec)
		if err == nil {
			if saved.ID() == "" {
				saved = rec
			}
			r.mirror(ctx, kind, saved)
			return saved, nil
		}
		r.logger.Warn("Remote upsert failed, queued for sync", "table", kind, "id", rec.ID(), "kind", remote.KindOf(err), "error", err)
	}

	if err := r.enqueue(ctx, userID, syncqueue.ActionUpsert, kind, rec); err != nil {
		return rec, err
	}
	return rec, nil
}

// keepCreatedAt carries the cached created_at into a re-save that omits it
func (r *Repository) keepCreatedAt(ctx context.Context, kind entity.Kind, data entity.Record) entity.Record {
	if data.ID() == "" || data.String(entity.FieldCreatedAt) != "" {
		return data
	}
	cached, err := r.local.Get(ctx, string(kind), data.ID())
	if err != nil || cached.String(entity.FieldCreatedAt) == "" {
		return data
	}
	out := data.Clone()
	out[entity.FieldCreatedAt] = cached[entity.FieldCreatedAt]
	return out
}

// Delete removes a record remotely when possible and always locally
func (r *Repository) Delete(ctx context.Context, kind entity.Kind, id string) error {
	if id == "" {
		return fmt.Errorf("failed to delete %s: id is required", kind)
	}
	userID := r.UserID(ctx)

	var queueErr error
	remoteDone := false
	if r.remoteReady() {
		err := r.remote.Delete(ctx, string(kind), id)
		if err == nil || remote.KindOf(err) == remote.KindNotFound {
			remoteDone = true
		} else {
			r.logger.Warn("Remote delete failed, queued for sync", "table", kind, "id", id, "error", err)
		}
	}
	if !remoteDone {
		queueErr = r.enqueue(ctx, userID, syncqueue.ActionDelete, kind, entity.Record{entity.FieldID: id})
	}

	if err := r.local.Delete(ctx, string(kind), id); err != nil {
		r.logger.Warn("Failed to delete local copy", "table", kind, "id", id, "error", err)
	}
	return queueErr
}

// UpdateStatus applies a partial update of status plus extra fields by id
func (r *Repository) UpdateStatus(ctx context.Context, kind entity.Kind, id, status string, extra entity.Record) (entity.Record, error) {
	if id == "" {
		return nil, fmt.Errorf("failed to update %s status: id is required", kind)
	}
	userID := r.UserID(ctx)

	partial := extra.Clone()
	delete(partial, entity.FieldID)
	delete(partial, entity.FieldUserID)
	delete(partial, entity.FieldCreatedAt)
	partial[entity.FieldStatus] = status
	partial[entity.FieldUpdatedAt] = entity.FormatTime(r.now())
	partial, err := entity.Normalize(partial)
	if err != nil {
		return nil, fmt.Errorf("failed to update %s status: %w", kind, err)
	}

	local := r.applyLocal(ctx, kind, id, userID, partial)

	if r.remoteReady() {
		saved, err := r.remote.Update(ctx, string(kind), id, partial)
		if err == nil {
			if saved.ID() == "" {
				saved = local
			}
			r.mirror(ctx, kind, saved)
			return saved, nil
		}
		r.logger.Warn("Remote update failed, queued for sync", "table", kind, "id", id, "kind", remote.KindOf(err), "error", err)
	}

	data := partial.Clone()
	data[entity.FieldID] = id
	if err := r.enqueue(ctx, userID, syncqueue.ActionUpdate, kind, data); err != nil {
		return local, err
	}
	return local, nil
}

// applyLocal merges partial into the cached record, creating a stub when the
// record is not cached yet.
func (r *Repository) applyLocal(ctx context.Context, kind entity.Kind, id, userID string, partial entity.Record) entity.Record {
	current, err := r.local.Get(ctx, string(kind), id)
	if err != nil {
		if !errors.Is(err, localstore.ErrNotFound) {
			r.logger.Debug("Local read before status update failed", "table", kind, "id", id, "error", err)
		}
		current = entity.Record{
			entity.FieldID:        id,
			entity.FieldUserID:    userID,
			entity.FieldCreatedAt: partial[entity.FieldUpdatedAt],
		}
	}
	merged := current.Merge(partial)
	r.mirror(ctx, kind, merged)
	return merged
}

// Get lists records matching filter, newest first. It never fails: remote
// and local errors degrade to the next source and finally to an empty list.
func (r *Repository) Get(ctx context.Context, kind entity.Kind, filter entity.Filter) []entity.Record {
	userID := r.UserID(ctx)
	scoped := entity.Filter{}
	for k, v := range filter {
		scoped[k] = v
	}
	if _, ok := scoped[entity.FieldUserID]; !ok {
		scoped[entity.FieldUserID] = userID
	}

	if r.remoteReady() {
		rows, err := r.remote.Select(ctx, string(kind), remote.DefaultQuery(scoped))
		if err == nil {
			r.cache(ctx, kind, rows)
			if rows == nil {
				rows = []entity.Record{}
			}
			return rows
		}
		r.logger.Warn("Remote select failed, reading local cache", "table", kind, "error", err)
	}

	rows, err := r.readLocal(ctx, kind, scoped)
	if err == nil {
		return rows
	}
	if !errors.Is(err, localstore.ErrCollectionNotFound) {
		r.logger.Error("Local read failed", "table", kind, "error", err)
		return []entity.Record{}
	}
	r.logger.Warn("Local collection missing, using legacy state", "table", kind)
	return r.readLegacy(kind, scoped)
}

// GetByID returns one record, preferring the remote row
func (r *Repository) GetByID(ctx context.Context, kind entity.Kind, id string) (entity.Record, bool) {
	if r.remoteReady() {
		rows, err := r.remote.Select(ctx, string(kind), remote.Query{Eq: entity.Filter{entity.FieldID: id}})
		if err == nil && len(rows) > 0 {
			r.cache(ctx, kind, rows[:1])
			return rows[0], true
		}
		if err != nil {
			r.logger.Warn("Remote lookup failed, reading local cache", "table", kind, "id", id, "error", err)
		}
	}

	rec, err := r.local.Get(ctx, string(kind), id)
	if err == nil {
		return rec, true
	}
	if !errors.Is(err, localstore.ErrCollectionNotFound) {
		return nil, false
	}
	for _, rec := range r.readLegacy(kind, entity.Filter{entity.FieldID: id, entity.FieldUserID: r.UserID(ctx)}) {
		return rec, true
	}
	return nil, false
}

// readLocal narrows by the most selective available index and applies the
// rest of the filter in memory.
func (r *Repository) readLocal(ctx context.Context, kind entity.Kind, filter entity.Filter) ([]entity.Record, error) {
	coll, err := r.local.Collection(string(kind))
	if err != nil {
		return nil, err
	}

	var candidates []entity.Record
	index := ""
	for _, field := range []string{entity.FieldStatus, "customer_id", entity.FieldUserID} {
		if _, ok := filter[field]; ok && coll.HasIndex(field) {
			index = field
			break
		}
	}
	if index != "" {
		candidates, err = r.local.GetAllByIndex(ctx, coll.Name, index, filter[index])
	} else {
		candidates, err = r.local.GetAll(ctx, coll.Name)
	}
	if err != nil {
		return nil, err
	}

	out := make([]entity.Record, 0, len(candidates))
	for _, rec := range candidates {
		if entity.Matches(rec, filter) {
			out = append(out, rec)
		}
	}
	entity.SortByCreatedDesc(out)
	return out, nil
}

// readLegacy applies filter to the legacy state. Legacy records predate user
// scoping, so one without user_id belongs to whoever is signed in; one with a
// user_id must match the filter's.
func (r *Repository) readLegacy(kind entity.Kind, filter entity.Filter) []entity.Record {
	out := []entity.Record{}
	if r.legacy == nil {
		return out
	}
	rest := entity.Filter{}
	for k, v := range filter {
		if k != entity.FieldUserID {
			rest[k] = v
		}
	}
	owner, scoped := filter[entity.FieldUserID]
	for _, rec := range r.legacy.Records(kind) {
		if scoped && rec.String(entity.FieldUserID) != "" && rec.String(entity.FieldUserID) != entity.Canonical(owner) {
			continue
		}
		if entity.Matches(rec, rest) {
			out = append(out, rec)
		}
	}
	entity.SortByCreatedDesc(out)
	return out
}

func (r *Repository) mirror(ctx context.Context, kind entity.Kind, rec entity.Record) {
	if err := r.local.Put(ctx, string(kind), rec); err != nil {
		r.logger.Warn("Failed to write local copy", "table", kind, "id", rec.ID(), "error", err)
	}
}

func (r *Repository) cache(ctx context.Context, kind entity.Kind, rows []entity.Record) {
	if len(rows) == 0 {
		return
	}
	if err := r.local.PutAll(ctx, string(kind), rows); err != nil {
		r.logger.Warn("Failed to refresh local cache", "table", kind, "rows", len(rows), "error", err)
	}
}

func (r *Repository) enqueue(ctx context.Context, userID string, action syncqueue.Action, kind entity.Kind, data entity.Record) error {
	_, err := r.queue.Enqueue(ctx, syncqueue.Entry{
		UserID: userID,
		Action: action,
		Table:  string(kind),
		Data:   data,
	})
	if err != nil {
		r.logger.Error("Failed to queue change", "action", action, "table", kind, "id", data.ID(), "error", err)
		return fmt.Errorf("failed to queue %s %s/%s: %w", action, kind, data.ID(), err)
	}
	return nil
}

// SyncNow drains the sync queue; a drain already in progress is not an error
func (r *Repository) SyncNow(ctx context.Context) error {
	if r.engine == nil {
		return nil
	}
	_, err := r.engine.SyncNow(ctx)
	if errors.Is(err, syncengine.ErrSyncInProgress) {
		return nil
	}
	return err
}

// OnSync subscribes to drain summaries
func (r *Repository) OnSync(listener syncengine.Listener) (unsubscribe func()) {
	if r.engine == nil {
		return func() {}
	}
	return r.engine.OnSync(listener)
}

// PendingCount returns how many queued changes of the current user await sync
func (r *Repository) PendingCount(ctx context.Context) (int, error) {
	st, err := r.queue.Stats(ctx, r.UserID(ctx))
	if err != nil {
		return 0, err
	}
	return st.Pending, nil
}
