// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// InitializeSchema creates the schema and one document table per entity kind
// if they don't exist.
func InitializeSchema(ctx context.Context, pool *pgxpool.Pool, schema string, tables []string) error {
	if !isValidName(schema) {
		return fmt.Errorf("invalid schema name %q", schema)
	}
	for _, t := range tables {
		if !isValidName(t) {
			return fmt.Errorf("invalid table name %q", t)
		}
	}

	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		stmts := []string{
			/*language=postgresql*/ fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, schema),
		}
		for _, t := range tables {
			qualified := schema + "." + t
			stmts = append(stmts,
				/*language=postgresql*/ fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
					id         TEXT  PRIMARY KEY,
					user_id    TEXT  NOT NULL,
					created_at TEXT  NOT NULL,
					updated_at TEXT  NOT NULL,
					data       JSONB NOT NULL
				)`, qualified),
				/*language=postgresql*/ fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_user_created_idx ON %s (user_id, created_at DESC)`, t, qualified),
				/*language=postgresql*/ fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_data_idx ON %s USING GIN (data jsonb_path_ops)`, t, qualified),
			)
		}
		for _, stmt := range stmts {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("failed to execute schema statement: %w", err)
			}
		}
		return nil
	})
}
