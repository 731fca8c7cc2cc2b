// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package entity defines the document records shared by the local store, the
// sync queue, the remote store and the repository.
package entity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Well-known record fields
const (
	FieldID        = "id"
	FieldUserID    = "user_id"
	FieldStatus    = "status"
	FieldCreatedAt = "created_at"
	FieldUpdatedAt = "updated_at"
)

// TimeLayout is the ISO-8601 UTC layout used for record timestamps.
// Fixed width keeps lexical order equal to time order.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// Kind names an entity collection (and the remote table of the same name)
type Kind string

const (
	Customers Kind = "customers"
	Invoices  Kind = "invoices"
	Quotes    Kind = "quotes"
	Orders    Kind = "orders"
	Jobs      Kind = "jobs"
)

// AllKinds returns every entity kind in a stable order
func AllKinds() []Kind {
	return []Kind{Customers, Invoices, Quotes, Orders, Jobs}
}

// Valid reports whether k is one of the known kinds
func (k Kind) Valid() bool {
	for _, known := range AllKinds() {
		if k == known {
			return true
		}
	}
	return false
}

func (k Kind) String() string { return string(k) }

// Record is a schemaless entity document
type Record map[string]any

// Filter holds equality predicates keyed by field name
type Filter map[string]any

// ID returns the record id or "" when absent
func (r Record) ID() string {
	return r.String(FieldID)
}

// String returns the canonical string form of a field, "" when absent
func (r Record) String(field string) string {
	v, ok := r[field]
	if !ok || v == nil {
		return ""
	}
	return Canonical(v)
}

// Clone returns a shallow copy of the record
func (r Record) Clone() Record {
	if r == nil {
		return Record{}
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Merge copies every field of partial over a clone of r
func (r Record) Merge(partial Record) Record {
	out := r.Clone()
	for k, v := range partial {
		out[k] = v
	}
	return out
}

// Canonical renders a field value for comparisons and index columns
func Canonical(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(t)
	case time.Time:
		return FormatTime(t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// Matches reports whether every filter field equals the record field
func Matches(rec Record, filter Filter) bool {
	for field, want := range filter {
		got, ok := rec[field]
		if !ok {
			if want == nil {
				continue
			}
			return false
		}
		if Canonical(got) != Canonical(want) {
			return false
		}
	}
	return true
}

// SortByCreatedDesc orders records newest first
func SortByCreatedDesc(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].String(FieldCreatedAt) > records[j].String(FieldCreatedAt)
	})
}

// FormatTime renders t in TimeLayout
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime accepts TimeLayout or any RFC 3339 timestamp
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// NewID generates an id from the millisecond timestamp in base 36 followed by
// a random suffix, upper-cased.
func NewID() string {
	return newIDAt(time.Now())
}

func newIDAt(t time.Time) string {
	ts := strconv.FormatInt(t.UnixMilli(), 36)
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return strings.ToUpper(ts + suffix)
}

// Stamp sets id, user_id, created_at and updated_at on a copy of rec.
// A present created_at is preserved and updated_at is always refreshed.
func Stamp(rec Record, userID string, now time.Time) Record {
	out := rec.Clone()
	if out.ID() == "" {
		out[FieldID] = newIDAt(now)
	}
	out[FieldUserID] = userID

	updated := FormatTime(now)
	created := out.String(FieldCreatedAt)
	if created == "" {
		created = updated
	} else if t, err := ParseTime(created); err == nil {
		created = FormatTime(t)
	} else {
		created = updated
	}
	if created > updated {
		updated = created
	}
	out[FieldCreatedAt] = created
	out[FieldUpdatedAt] = updated
	return out
}

// Decode parses a JSON document keeping numbers as json.Number
func Decode(data []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var rec Record
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	if rec == nil {
		rec = Record{}
	}
	return rec, nil
}

// DecodeList parses a JSON array of documents keeping numbers as json.Number
func DecodeList(data []byte) ([]Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var recs []Record
	if err := dec.Decode(&recs); err != nil {
		return nil, fmt.Errorf("failed to decode records: %w", err)
	}
	return recs, nil
}

// Normalize round-trips rec through JSON so value types match what a decoded
// document carries.
func Normalize(rec Record) (Record, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	return Decode(data)
}
