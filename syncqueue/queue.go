// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package syncqueue is the durable FIFO log of writes that could not be
// confirmed against the remote store.
package syncqueue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/reid15halo-ops/Local-Buisness-automizer-sub002/entity"
	"github.com/reid15halo-ops/Local-Buisness-automizer-sub002/localstore"
)

const (
	// MaxRetries is the give-up threshold: entries with this many failed
	// replays are no longer pending.
	MaxRetries = 5

	// DefaultRetention is how long synced entries are kept before cleanup
	DefaultRetention = 7 * 24 * time.Hour
)

var ErrEntryNotFound = errors.New("sync queue entry not found")

// Action is the mutation recorded by an entry
type Action string

const (
	ActionInsert Action = "insert"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionUpsert Action = "upsert"
)

// ParseAction validates a stored action name
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(s)); a {
	case ActionInsert, ActionUpdate, ActionDelete, ActionUpsert:
		return a, nil
	default:
		return "", fmt.Errorf("unknown sync action %q", s)
	}
}

// Entry is a queued mutation
type Entry struct {
	ID        int64
	UserID    string
	Action    Action
	Table     string
	Data      entity.Record
	Timestamp time.Time
	Synced    bool
	Retries   int
	SyncedAt  time.Time // zero until synced
}

// GivenUp reports whether the entry reached the retry threshold without syncing
func (e Entry) GivenUp() bool {
	return !e.Synced && e.Retries >= MaxRetries
}

// Stats counts entries by delivery state
type Stats struct {
	Pending int
	Synced  int
	GivenUp int
}

// Queue stores entries in the local SQLite database
type Queue struct {
	db      *sql.DB
	logger  *slog.Logger
	now     func() time.Time
	writeMu sync.Mutex
}

// New creates a queue on a store migrated to at least the sync_queue version
func New(store *localstore.Store, logger *slog.Logger) *Queue {
	return NewWithDB(store.DB(), logger)
}

// NewWithDB creates a queue on a raw database handle
func NewWithDB(db *sql.DB, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{db: db, logger: logger, now: time.Now}
}

// SetClock overrides the time source
func (q *Queue) SetClock(now func() time.Time) {
	q.now = now
}

// Enqueue appends an entry as pending with zero retries. A zero Timestamp is
// replaced by the current time.
func (q *Queue) Enqueue(ctx context.Context, e Entry) (int64, error) {
	if _, err := ParseAction(string(e.Action)); err != nil {
		return 0, err
	}
	if e.Table == "" {
		return 0, fmt.Errorf("sync queue entry requires a table")
	}
	ts := e.Timestamp
	if ts.IsZero() {
		ts = q.now()
	}
	data := e.Data
	if data == nil {
		data = entity.Record{}
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal queue payload: %w", err)
	}

	q.writeMu.Lock()
	defer q.writeMu.Unlock()

	res, err := q.db.ExecContext(ctx, `
		INSERT INTO sync_queue (user_id, action, table_name, data, timestamp, synced, retries)
		VALUES (?, ?, ?, ?, ?, 0, 0)
	`, e.UserID, string(e.Action), e.Table, string(payload), ts.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue %s %s: %w", e.Action, e.Table, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue entry id: %w", err)
	}
	q.logger.Debug("Queued offline change", "id", id, "action", e.Action, "table", e.Table, "user_id", e.UserID)
	return id, nil
}

// ListPending returns unsynced entries below the retry threshold in insertion
// order. An empty userID lists every user's entries.
func (q *Queue) ListPending(ctx context.Context, userID string) ([]Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM sync_queue WHERE synced = 0 AND retries < ?`
	args := []any{MaxRetries}
	if userID != "" {
		query += ` AND user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY id`
	return q.list(ctx, query, args...)
}

// ListGivenUp returns entries excluded from replay after reaching the threshold
func (q *Queue) ListGivenUp(ctx context.Context, userID string) ([]Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM sync_queue WHERE synced = 0 AND retries >= ?`
	args := []any{MaxRetries}
	if userID != "" {
		query += ` AND user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY id`
	return q.list(ctx, query, args...)
}

// Get returns a single entry
func (q *Queue) Get(ctx context.Context, id int64) (Entry, error) {
	entries, err := q.list(ctx, `SELECT `+entryColumns+` FROM sync_queue WHERE id = ?`, id)
	if err != nil {
		return Entry{}, err
	}
	if len(entries) == 0 {
		return Entry{}, fmt.Errorf("%w: %d", ErrEntryNotFound, id)
	}
	return entries[0], nil
}

// MarkSynced flags the entry as delivered. Already synced entries keep their
// original synced_at.
func (q *Queue) MarkSynced(ctx context.Context, id int64) error {
	q.writeMu.Lock()
	defer q.writeMu.Unlock()

	res, err := q.db.ExecContext(ctx, `UPDATE sync_queue SET synced = 1, synced_at = ? WHERE id = ? AND synced = 0`, q.now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("failed to mark entry %d synced: %w", id, err)
	}
	return q.checkAffected(ctx, res, id)
}

// IncrementRetry records a failed replay and returns the new retry count.
// Synced entries are left unchanged.
func (q *Queue) IncrementRetry(ctx context.Context, id int64) (int, error) {
	q.writeMu.Lock()
	defer q.writeMu.Unlock()

	res, err := q.db.ExecContext(ctx, `UPDATE sync_queue SET retries = retries + 1 WHERE id = ? AND synced = 0`, id)
	if err != nil {
		return 0, fmt.Errorf("failed to increment retries for entry %d: %w", id, err)
	}
	if err := q.checkAffected(ctx, res, id); err != nil {
		return 0, err
	}
	var retries int
	if err := q.db.QueryRowContext(ctx, `SELECT retries FROM sync_queue WHERE id = ?`, id).Scan(&retries); err != nil {
		return 0, fmt.Errorf("failed to read retries for entry %d: %w", id, err)
	}
	if retries >= MaxRetries {
		q.logger.Warn("Sync queue entry reached retry limit, giving up", "id", id, "retries", retries)
	}
	return retries, nil
}

// GiveUp moves the entry straight to the given-up state
func (q *Queue) GiveUp(ctx context.Context, id int64) error {
	q.writeMu.Lock()
	defer q.writeMu.Unlock()

	res, err := q.db.ExecContext(ctx, `UPDATE sync_queue SET retries = MAX(retries, ?) WHERE id = ? AND synced = 0`, MaxRetries, id)
	if err != nil {
		return fmt.Errorf("failed to give up entry %d: %w", id, err)
	}
	return q.checkAffected(ctx, res, id)
}

// Cleanup permanently removes synced entries whose synced_at is older than
// olderThan and returns how many were removed.
func (q *Queue) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := q.now().Add(-olderThan).UnixMilli()

	q.writeMu.Lock()
	defer q.writeMu.Unlock()

	res, err := q.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE synced = 1 AND synced_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up sync queue: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count cleaned entries: %w", err)
	}
	if n > 0 {
		q.logger.Info("Cleaned up synced queue entries", "removed", n, "older_than", olderThan)
	}
	return n, nil
}

// Stats counts entries for a user, or for everyone when userID is empty
func (q *Queue) Stats(ctx context.Context, userID string) (Stats, error) {
	query := `
		SELECT
			COALESCE(SUM(CASE WHEN synced = 0 AND retries < ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN synced = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN synced = 0 AND retries >= ? THEN 1 ELSE 0 END), 0)
		FROM sync_queue`
	args := []any{MaxRetries, MaxRetries}
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	var st Stats
	if err := q.db.QueryRowContext(ctx, query, args...).Scan(&st.Pending, &st.Synced, &st.GivenUp); err != nil {
		return Stats{}, fmt.Errorf("failed to read sync queue stats: %w", err)
	}
	return st, nil
}

// checkAffected distinguishes a missing entry from a no-op on a synced one
func (q *Queue) checkAffected(ctx context.Context, res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n > 0 {
		return nil
	}
	var exists bool
	if err := q.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM sync_queue WHERE id = ?)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check entry %d: %w", id, err)
	}
	if !exists {
		return fmt.Errorf("%w: %d", ErrEntryNotFound, id)
	}
	return nil
}

const entryColumns = `id, user_id, action, table_name, data, timestamp, synced, retries, synced_at`

func (q *Queue) list(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync queue: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e        Entry
			action   string
			data     string
			ts       int64
			synced   int
			syncedAt sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.UserID, &action, &e.Table, &data, &ts, &synced, &e.Retries, &syncedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sync queue entry: %w", err)
		}
		if e.Action, err = ParseAction(action); err != nil {
			return nil, err
		}
		if e.Data, err = entity.Decode([]byte(data)); err != nil {
			return nil, fmt.Errorf("entry %d: %w", e.ID, err)
		}
		e.Timestamp = time.UnixMilli(ts)
		e.Synced = synced == 1
		if syncedAt.Valid {
			e.SyncedAt = time.UnixMilli(syncedAt.Int64)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync queue: %w", err)
	}
	return entries, nil
}
