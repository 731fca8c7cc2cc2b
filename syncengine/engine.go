// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package syncengine drains the sync queue against the remote store.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/reid15halo-ops/Local-Buisness-automizer-sub002/connectivity"
	"github.com/reid15halo-ops/Local-Buisness-automizer-sub002/entity"
	"github.com/reid15halo-ops/Local-Buisness-automizer-sub002/remote"
	"github.com/reid15halo-ops/Local-Buisness-automizer-sub002/syncqueue"
)

// ErrSyncInProgress is returned by SyncNow while another drain is running
var ErrSyncInProgress = errors.New("sync already in progress")

// Summary reports the outcome of one drain
type Summary struct {
	Synced int `json:"synced"`
	Failed int `json:"failed"`
	Total  int `json:"total"`
}

// Listener receives drain summaries
type Listener func(Summary)

// Config holds engine settings
type Config struct {
	// Interval triggers periodic drains from Run; zero disables them
	Interval time.Duration
	// Retention is passed to queue cleanup after each drain; zero disables cleanup
	Retention time.Duration
	// DeadLetterRejected gives up on entries the remote store rejected as
	// invalid instead of retrying them up to the threshold.
	DeadLetterRejected bool
}

// DefaultConfig returns event-driven settings with the default retention
func DefaultConfig() *Config {
	return &Config{
		Interval:  0,
		Retention: syncqueue.DefaultRetention,
	}
}

// Engine replays queued mutations in order
type Engine struct {
	queue  *syncqueue.Queue
	remote remote.Store
	config *Config
	logger *slog.Logger

	running atomic.Bool

	mu        sync.Mutex
	nextID    int
	listeners map[int]Listener
	order     []int
}

// New creates an engine. A nil remote store behaves as unconfigured.
func New(queue *syncqueue.Queue, store remote.Store, config *Config, logger *slog.Logger) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		queue:     queue,
		remote:    store,
		config:    config,
		logger:    logger,
		listeners: make(map[int]Listener),
	}
}

// OnSync registers a summary listener
func (e *Engine) OnSync(l Listener) (unsubscribe func()) {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = l
	e.order = append(e.order, id)
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.listeners, id)
		for i, v := range e.order {
			if v == id {
				e.order = append(e.order[:i], e.order[i+1:]...)
				break
			}
		}
	}
}

// Running reports whether a drain is active
func (e *Engine) Running() bool {
	return e.running.Load()
}

// SyncNow drains the queue once. A call made while a drain is active returns
// ErrSyncInProgress without side effects.
func (e *Engine) SyncNow(ctx context.Context) (Summary, error) {
	if !e.running.CompareAndSwap(false, true) {
		return Summary{}, ErrSyncInProgress
	}
	defer e.running.Store(false)

	return e.drain(ctx)
}

func (e *Engine) drain(ctx context.Context) (Summary, error) {
	if e.remote == nil || !e.remote.IsConfigured() {
		e.logger.Debug("Remote store not configured, skipping sync")
		return Summary{}, nil
	}

	pending, err := e.queue.ListPending(ctx, "")
	if err != nil {
		return Summary{}, fmt.Errorf("failed to list pending changes: %w", err)
	}
	if len(pending) == 0 {
		return Summary{}, nil
	}

	e.logger.Info("Syncing queued changes", "pending", len(pending))
	summary := Summary{Total: len(pending)}
	for _, entry := range pending {
		if err := e.replay(ctx, entry); err != nil {
			summary.Failed++
			e.recordFailure(ctx, entry, err)
			continue
		}
		if err := e.queue.MarkSynced(ctx, entry.ID); err != nil {
			// Delivered but not recorded: the next drain replays it, which
			// upsert semantics make harmless.
			e.logger.Error("Failed to mark queue entry synced", "id", entry.ID, "error", err)
		}
		summary.Synced++
	}

	e.logger.Info("Sync finished", "synced", summary.Synced, "failed", summary.Failed, "total", summary.Total)
	e.emit(summary)

	if e.config.Retention > 0 {
		if _, err := e.queue.Cleanup(ctx, e.config.Retention); err != nil {
			e.logger.Warn("Sync queue cleanup failed", "error", err)
		}
	}
	return summary, nil
}

func (e *Engine) recordFailure(ctx context.Context, entry syncqueue.Entry, cause error) {
	if e.config.DeadLetterRejected && remote.KindOf(cause) == remote.KindRejected {
		e.logger.Warn("Remote store rejected queued change, giving up",
			"id", entry.ID, "action", entry.Action, "table", entry.Table, "error", cause)
		if err := e.queue.GiveUp(ctx, entry.ID); err != nil {
			e.logger.Error("Failed to give up queue entry", "id", entry.ID, "error", err)
		}
		return
	}

	retries, err := e.queue.IncrementRetry(ctx, entry.ID)
	if err != nil {
		e.logger.Error("Failed to increment queue entry retries", "id", entry.ID, "error", err)
		return
	}
	e.logger.Warn("Replay of queued change failed",
		"id", entry.ID, "action", entry.Action, "table", entry.Table, "retries", retries, "error", cause)
}

// replay dispatches one entry; panics raised by the remote store count as failures
func (e *Engine) replay(ctx context.Context, entry syncqueue.Entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("remote call panicked: %v", r)
		}
	}()

	switch entry.Action {
	case syncqueue.ActionInsert, syncqueue.ActionUpsert:
		_, err = e.remote.Upsert(ctx, entry.Table, entry.Data)
	case syncqueue.ActionUpdate:
		id := entry.Data.ID()
		if id == "" {
			return fmt.Errorf("update entry %d has no id", entry.ID)
		}
		partial := entry.Data.Clone()
		delete(partial, entity.FieldID)
		_, err = e.remote.Update(ctx, entry.Table, id, partial)
	case syncqueue.ActionDelete:
		id := entry.Data.ID()
		if id == "" {
			return fmt.Errorf("delete entry %d has no id", entry.ID)
		}
		err = e.remote.Delete(ctx, entry.Table, id)
		if remote.KindOf(err) == remote.KindNotFound {
			err = nil
		}
	default:
		err = fmt.Errorf("unknown action %q", entry.Action)
	}
	return err
}

func (e *Engine) emit(summary Summary) {
	e.mu.Lock()
	listeners := make([]Listener, 0, len(e.order))
	for _, id := range e.order {
		listeners = append(listeners, e.listeners[id])
	}
	e.mu.Unlock()

	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("Sync listener panicked", "panic", r)
				}
			}()
			l(summary)
		}()
	}
}

// WatchConnectivity drains the queue every time n reports the backend is back
func (e *Engine) WatchConnectivity(n connectivity.Notifier) (stop func()) {
	return n.OnOnline(func() {
		go e.trigger(context.Background(), "connectivity restored")
	})
}

// Run triggers a drain every Config.Interval until ctx is done. It returns
// immediately when no interval is configured.
func (e *Engine) Run(ctx context.Context) {
	if e.config.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(e.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.trigger(ctx, "interval")
		}
	}
}

func (e *Engine) trigger(ctx context.Context, reason string) {
	if _, err := e.SyncNow(ctx); err != nil && !errors.Is(err, ErrSyncInProgress) {
		e.logger.Error("Background sync failed", "reason", reason, "error", err)
	}
}
