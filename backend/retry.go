// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	txMaxAttempts = 3
	txBackoffBase = 20 * time.Millisecond
)

func isRetryablePGTxError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.SQLState() {
	case "40001", // serialization_failure
		"40P01", // deadlock_detected
		"55P03": // lock_not_available (incl. lock_timeout)
		return true
	default:
		return false
	}
}

// withTxRetry runs fn until it succeeds, fails with a non-retryable error or
// runs out of attempts.
func withTxRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < txMaxAttempts; attempt++ {
		err = fn()
		if err == nil || !isRetryablePGTxError(err) || attempt == txMaxAttempts-1 {
			return err
		}
		if serr := sleepWithContext(ctx, txBackoffBase*time.Duration(1<<attempt)); serr != nil {
			return serr
		}
	}
	return err
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
