// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package remote defines the contract of the backend of record and its typed
// failure outcomes.
package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/reid15halo-ops/Local-Buisness-automizer-sub002/entity"
)

// Store is a CRUD API over named tables with upsert semantics keyed by id
type Store interface {
	// IsConfigured reports whether calls may be attempted at all
	IsConfigured() bool
	Select(ctx context.Context, table string, q Query) ([]entity.Record, error)
	Upsert(ctx context.Context, table string, row entity.Record) (entity.Record, error)
	Update(ctx context.Context, table, id string, partial entity.Record) (entity.Record, error)
	Delete(ctx context.Context, table, id string) error
}

// Query selects rows by equality filters with one ordering field
type Query struct {
	Eq         entity.Filter
	OrderBy    string
	Descending bool
}

// DefaultQuery filters by eq and orders newest first
func DefaultQuery(eq entity.Filter) Query {
	return Query{Eq: eq, OrderBy: entity.FieldCreatedAt, Descending: true}
}

// ErrorKind classifies remote failures
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindNotConfigured
	KindNetwork
	KindServer
	KindRejected
	KindUnauthorized
	KindNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotConfigured:
		return "not_configured"
	case KindNetwork:
		return "network"
	case KindServer:
		return "server"
	case KindRejected:
		return "rejected"
	case KindUnauthorized:
		return "unauthorized"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Retryable reports whether a later attempt may succeed without changing the
// payload.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindRejected, KindNotFound:
		return false
	default:
		return true
	}
}

// Error is the single failure type returned by Store implementations
type Error struct {
	Kind    ErrorKind
	Op      string
	Table   string
	Status  int    // HTTP status when the failure came from a response
	Message string // server supplied message
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("remote %s %s: %s", e.Op, e.Table, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the kind of a remote failure; non-remote errors are KindUnknown
func KindOf(err error) ErrorKind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindUnknown
}

// NotConfigured is returned by calls made on an unconfigured store
func NotConfigured(op, table string) *Error {
	return &Error{Kind: KindNotConfigured, Op: op, Table: table}
}

// KindForStatus maps an HTTP status code to an error kind
func KindForStatus(status int) ErrorKind {
	switch {
	case status == 401 || status == 403:
		return KindUnauthorized
	case status == 404:
		return KindNotFound
	case status >= 500:
		return KindServer
	case status >= 400:
		return KindRejected
	default:
		return KindUnknown
	}
}

// Operation names used in errors and call logs
const (
	OpSelect = "select"
	OpUpsert = "upsert"
	OpUpdate = "update"
	OpDelete = "delete"
)
