// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package backend is the server side of the offline-first data layer: a
// Postgres document store per entity kind, JWT authentication and the REST
// handlers the client's remote store talks to.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reid15halo-ops/Local-Buisness-automizer-sub002/entity"
	"github.com/reid15halo-ops/Local-Buisness-automizer-sub002/internal/auth"
	"github.com/reid15halo-ops/Local-Buisness-automizer-sub002/remote"
)

// ServiceConfig holds configuration for the Postgres store
type ServiceConfig struct {
	Schema string   // e.g., "trade"
	Tables []string // tables served; each is created on startup

	Metrics    MetricsRecorder // optional per-call timings
	LogTimings bool            // log per-call timings at debug level
}

// DefaultServiceConfig serves every entity kind from schema "trade"
func DefaultServiceConfig() *ServiceConfig {
	tables := make([]string, 0, len(entity.AllKinds()))
	for _, k := range entity.AllKinds() {
		tables = append(tables, string(k))
	}
	return &ServiceConfig{Schema: "trade", Tables: tables}
}

// PGStore is a remote.Store over Postgres. Every call is scoped to the user
// found in the context (see auth.SetUserID).
type PGStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	config *ServiceConfig
	tables map[string]bool
	now    func() time.Time
}

// NewPGStore initializes the schema and returns a store backed by pool
func NewPGStore(ctx context.Context, pool *pgxpool.Pool, config *ServiceConfig, logger *slog.Logger) (*PGStore, error) {
	if config == nil {
		config = DefaultServiceConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := InitializeSchema(ctx, pool, config.Schema, config.Tables); err != nil {
		logger.Error("Failed to initialize database schema", "error", err)
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	logger.Debug("Database schema initialized successfully", "schema", config.Schema, "tables", config.Tables)

	tables := make(map[string]bool, len(config.Tables))
	for _, t := range config.Tables {
		tables[t] = true
	}
	return &PGStore{
		pool:   pool,
		logger: logger,
		config: config,
		tables: tables,
		now:    time.Now,
	}, nil
}

// IsConfigured implements remote.Store
func (s *PGStore) IsConfigured() bool {
	return s != nil && s.pool != nil
}

// Tables returns the served table names in sorted order
func (s *PGStore) Tables() []string {
	out := make([]string, 0, len(s.tables))
	for t := range s.tables {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (s *PGStore) scope(ctx context.Context, op, table string) (owner, qualified string, err error) {
	if !s.tables[table] {
		return "", "", &remote.Error{Kind: remote.KindRejected, Op: op, Table: table, Message: "unknown table"}
	}
	caller, ok := auth.FromContext(ctx)
	if !ok {
		return "", "", &remote.Error{Kind: remote.KindUnauthorized, Op: op, Table: table, Message: "no user in context"}
	}
	return caller.UserID, s.config.Schema + "." + table, nil
}

func serverError(op, table string, err error) error {
	var re *remote.Error
	if errors.As(err, &re) {
		return err
	}
	return &remote.Error{Kind: remote.KindServer, Op: op, Table: table, Err: err}
}

// columnExpr maps a record field to a SQL expression
func columnExpr(field string) string {
	switch field {
	case entity.FieldID, entity.FieldUserID, entity.FieldCreatedAt, entity.FieldUpdatedAt:
		return field
	default:
		return "data->>'" + field + "'"
	}
}

// Select implements remote.Store
func (s *PGStore) Select(ctx context.Context, table string, q remote.Query) (out []entity.Record, err error) {
	start := s.opStart()
	defer func() { s.observeOp(ctx, remote.OpSelect, table, start, len(out), err) }()

	owner, qualified, err := s.scope(ctx, remote.OpSelect, table)
	if err != nil {
		return nil, err
	}

	where := []string{"user_id = $1"}
	args := []any{owner}
	fields := make([]string, 0, len(q.Eq))
	for f := range q.Eq {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		if !isValidName(f) {
			return nil, &remote.Error{Kind: remote.KindRejected, Op: remote.OpSelect, Table: table, Message: "invalid filter field " + f}
		}
		if f == entity.FieldUserID {
			// Already scoped; a foreign user id matches nothing
			if entity.Canonical(q.Eq[f]) != owner {
				return []entity.Record{}, nil
			}
			continue
		}
		if q.Eq[f] == nil {
			where = append(where, columnExpr(f)+" IS NULL")
			continue
		}
		args = append(args, entity.Canonical(q.Eq[f]))
		where = append(where, fmt.Sprintf("%s = $%d", columnExpr(f), len(args)))
	}

	query := fmt.Sprintf(`SELECT data FROM %s WHERE %s`, qualified, strings.Join(where, " AND "))
	if q.OrderBy != "" {
		if !isValidName(q.OrderBy) {
			return nil, &remote.Error{Kind: remote.KindRejected, Op: remote.OpSelect, Table: table, Message: "invalid order field " + q.OrderBy}
		}
		dir := "ASC"
		if q.Descending {
			dir = "DESC"
		}
		query += fmt.Sprintf(` ORDER BY %s %s, id`, columnExpr(q.OrderBy), dir)
	} else {
		query += ` ORDER BY id`
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, serverError(remote.OpSelect, table, err)
	}
	defer rows.Close()

	out = []entity.Record{}
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, serverError(remote.OpSelect, table, err)
		}
		rec, err := entity.Decode(data)
		if err != nil {
			return nil, serverError(remote.OpSelect, table, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, serverError(remote.OpSelect, table, err)
	}
	return out, nil
}

// Upsert implements remote.Store. A row id owned by another user is rejected.
func (s *PGStore) Upsert(ctx context.Context, table string, row entity.Record) (saved entity.Record, err error) {
	start := s.opStart()
	defer func() { s.observeOp(ctx, remote.OpUpsert, table, start, boolToRows(saved != nil), err) }()

	owner, qualified, err := s.scope(ctx, remote.OpUpsert, table)
	if err != nil {
		return nil, err
	}
	id := row.ID()
	if id == "" {
		return nil, &remote.Error{Kind: remote.KindRejected, Op: remote.OpUpsert, Table: table, Message: "id is required"}
	}

	doc := row.Clone()
	doc[entity.FieldUserID] = owner
	now := entity.FormatTime(s.now())
	if doc.String(entity.FieldCreatedAt) == "" {
		doc[entity.FieldCreatedAt] = now
	}
	if doc.String(entity.FieldUpdatedAt) == "" {
		doc[entity.FieldUpdatedAt] = now
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, &remote.Error{Kind: remote.KindRejected, Op: remote.OpUpsert, Table: table, Err: err}
	}

	query := fmt.Sprintf(`
		INSERT INTO %[1]s (id, user_id, created_at, updated_at, data)
		VALUES ($1, $2, $3, $4, $5::jsonb)
		ON CONFLICT (id) DO UPDATE SET
			updated_at = EXCLUDED.updated_at,
			data       = EXCLUDED.data || jsonb_build_object('created_at', %[1]s.created_at)
		WHERE %[1]s.user_id = EXCLUDED.user_id
		RETURNING data`, qualified)

	var stored []byte
	err = withTxRetry(ctx, func() error {
		return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			return tx.QueryRow(ctx, query, id, owner, doc.String(entity.FieldCreatedAt), doc.String(entity.FieldUpdatedAt), payload).Scan(&stored)
		})
	})
	if errors.Is(err, pgx.ErrNoRows) {
		s.logger.Warn("Upsert of row owned by another user rejected", "table", table, "id", id, "user", owner)
		return nil, &remote.Error{Kind: remote.KindRejected, Op: remote.OpUpsert, Table: table, Status: 409, Message: "row " + id + " belongs to another user"}
	}
	if err != nil {
		return nil, serverError(remote.OpUpsert, table, err)
	}
	rec, err := entity.Decode(stored)
	if err != nil {
		return nil, serverError(remote.OpUpsert, table, err)
	}
	return rec, nil
}

// Update implements remote.Store by merging partial into the stored document
func (s *PGStore) Update(ctx context.Context, table, id string, partial entity.Record) (saved entity.Record, err error) {
	start := s.opStart()
	defer func() { s.observeOp(ctx, remote.OpUpdate, table, start, boolToRows(saved != nil), err) }()

	owner, qualified, err := s.scope(ctx, remote.OpUpdate, table)
	if err != nil {
		return nil, err
	}

	patch := partial.Clone()
	delete(patch, entity.FieldID)
	delete(patch, entity.FieldUserID)
	delete(patch, entity.FieldCreatedAt)
	if patch.String(entity.FieldUpdatedAt) == "" {
		patch[entity.FieldUpdatedAt] = entity.FormatTime(s.now())
	}
	payload, err := json.Marshal(patch)
	if err != nil {
		return nil, &remote.Error{Kind: remote.KindRejected, Op: remote.OpUpdate, Table: table, Err: err}
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET data = data || $1::jsonb, updated_at = $2
		WHERE id = $3 AND user_id = $4
		RETURNING data`, qualified)

	var stored []byte
	err = withTxRetry(ctx, func() error {
		return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			return tx.QueryRow(ctx, query, payload, patch.String(entity.FieldUpdatedAt), id, owner).Scan(&stored)
		})
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &remote.Error{Kind: remote.KindNotFound, Op: remote.OpUpdate, Table: table, Status: 404, Message: "row " + id + " not found"}
	}
	if err != nil {
		return nil, serverError(remote.OpUpdate, table, err)
	}
	rec, err := entity.Decode(stored)
	if err != nil {
		return nil, serverError(remote.OpUpdate, table, err)
	}
	return rec, nil
}

// Delete implements remote.Store; deleting a missing row succeeds
func (s *PGStore) Delete(ctx context.Context, table, id string) (err error) {
	start := s.opStart()
	defer func() { s.observeOp(ctx, remote.OpDelete, table, start, 0, err) }()

	owner, qualified, err := s.scope(ctx, remote.OpDelete, table)
	if err != nil {
		return err
	}
	err = withTxRetry(ctx, func() error {
		_, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1 AND user_id = $2`, qualified), id, owner)
		return err
	})
	if err != nil {
		return serverError(remote.OpDelete, table, err)
	}
	return nil
}

// Ping checks database connectivity
func (s *PGStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

var _ remote.Store = (*PGStore)(nil)

func boolToRows(ok bool) int {
	if ok {
		return 1
	}
	return 0
}
