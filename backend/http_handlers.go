// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/reid15halo-ops/Local-Buisness-automizer-sub002/entity"
	"github.com/reid15halo-ops/Local-Buisness-automizer-sub002/internal/auth"
	"github.com/reid15halo-ops/Local-Buisness-automizer-sub002/remote"
)

const maxBodyBytes = 1 << 20

// ClientAuthenticator extracts both user and device identity from HTTP requests
// Implementations should validate auth (e.g., JWT) and provide both identifiers.
type ClientAuthenticator interface {
	GetUserID(r *http.Request) (string, error)
	GetDeviceID(r *http.Request) (string, error)
}

// RESTHandlers exposes a remote.Store over the REST wire used by remote.HTTPClient
type RESTHandlers struct {
	store         remote.Store
	authenticator ClientAuthenticator
	tables        map[string]bool
	logger        *slog.Logger
}

// NewRESTHandlers creates handlers serving only the listed tables. A nil
// authenticator trusts the user already placed on the request context.
func NewRESTHandlers(store remote.Store, authenticator ClientAuthenticator, tables []string, logger *slog.Logger) *RESTHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	allowed := make(map[string]bool, len(tables))
	for _, t := range tables {
		allowed[t] = true
	}
	return &RESTHandlers{
		store:         store,
		authenticator: authenticator,
		tables:        allowed,
		logger:        logger,
	}
}

// Register mounts the handlers on mux
func (h *RESTHandlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /rest/{table}", h.HandleSelect)
	mux.HandleFunc("POST /rest/{table}", h.HandleUpsert)
	mux.HandleFunc("PATCH /rest/{table}/{id}", h.HandleUpdate)
	mux.HandleFunc("DELETE /rest/{table}/{id}", h.HandleDelete)
}

// HandleHealth reports liveness
func (h *RESTHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Time: time.Now().UTC().Format(time.RFC3339)})
}

// authorize resolves the caller and puts it on the request context
func (h *RESTHandlers) authorize(w http.ResponseWriter, r *http.Request) (*http.Request, string, bool) {
	table := r.PathValue("table")
	if !h.tables[table] {
		writeError(w, http.StatusBadRequest, "unknown_table", "table "+table+" is not served")
		return nil, "", false
	}

	// Without an authenticator the identity must come from auth middleware
	if h.authenticator == nil {
		caller, ok := auth.FromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "authentication_failed", "no authenticated user")
			return nil, "", false
		}
		return r, caller.UserID, true
	}

	userID, err := h.authenticator.GetUserID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication_failed", err.Error())
		return nil, "", false
	}
	deviceID, err := h.authenticator.GetDeviceID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication_failed", err.Error())
		return nil, "", false
	}
	return r.WithContext(auth.SetAuthContext(r.Context(), userID, deviceID)), userID, true
}

// HandleSelect serves GET /rest/{table}?eq.<field>=<value>&order=<field>.<asc|desc>
func (h *RESTHandlers) HandleSelect(w http.ResponseWriter, r *http.Request) {
	r, userID, ok := h.authorize(w, r)
	if !ok {
		return
	}
	table := r.PathValue("table")

	q := remote.Query{Eq: entity.Filter{}}
	for key, values := range r.URL.Query() {
		switch {
		case strings.HasPrefix(key, "eq."):
			field := strings.TrimPrefix(key, "eq.")
			if !isValidName(field) {
				writeError(w, http.StatusBadRequest, "invalid_request", "invalid filter field "+field)
				return
			}
			q.Eq[field] = values[0]
		case key == "order":
			field, dir, _ := strings.Cut(values[0], ".")
			if !isValidName(field) || (dir != "" && dir != "asc" && dir != "desc") {
				writeError(w, http.StatusBadRequest, "invalid_request", "order must be <field>.<asc|desc>")
				return
			}
			q.OrderBy = field
			q.Descending = dir == "desc"
		default:
			writeError(w, http.StatusBadRequest, "invalid_request", "unsupported parameter "+key)
			return
		}
	}
	if want, ok := q.Eq[entity.FieldUserID]; ok && want != userID {
		writeJSON(w, http.StatusOK, []entity.Record{})
		return
	}
	q.Eq[entity.FieldUserID] = userID

	rows, err := h.store.Select(r.Context(), table, q)
	if err != nil {
		h.writeStoreError(w, "select_failed", err)
		return
	}
	if rows == nil {
		rows = []entity.Record{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// HandleUpsert serves POST /rest/{table}
func (h *RESTHandlers) HandleUpsert(w http.ResponseWriter, r *http.Request) {
	r, userID, ok := h.authorize(w, r)
	if !ok {
		return
	}
	table := r.PathValue("table")

	row, ok := h.readRecord(w, r)
	if !ok {
		return
	}
	if row.ID() == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "id is required")
		return
	}
	existing, found, err := h.findRow(r, table, row.ID())
	if err != nil {
		h.writeStoreError(w, "upsert_failed", err)
		return
	}
	if found && existing.String(entity.FieldUserID) != userID {
		writeError(w, http.StatusConflict, "conflict", "row "+row.ID()+" belongs to another user")
		return
	}
	row[entity.FieldUserID] = userID

	saved, err := h.store.Upsert(r.Context(), table, row)
	if err != nil {
		h.writeStoreError(w, "upsert_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// HandleUpdate serves PATCH /rest/{table}/{id}
func (h *RESTHandlers) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	r, userID, ok := h.authorize(w, r)
	if !ok {
		return
	}
	table, id := r.PathValue("table"), r.PathValue("id")

	partial, ok := h.readRecord(w, r)
	if !ok {
		return
	}
	delete(partial, entity.FieldID)
	delete(partial, entity.FieldUserID)

	existing, found, err := h.findRow(r, table, id)
	if err != nil {
		h.writeStoreError(w, "update_failed", err)
		return
	}
	if !found || existing.String(entity.FieldUserID) != userID {
		writeError(w, http.StatusNotFound, "not_found", "row "+id+" not found")
		return
	}

	saved, err := h.store.Update(r.Context(), table, id, partial)
	if err != nil {
		h.writeStoreError(w, "update_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// HandleDelete serves DELETE /rest/{table}/{id}; missing rows are not an error
func (h *RESTHandlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	r, userID, ok := h.authorize(w, r)
	if !ok {
		return
	}
	table, id := r.PathValue("table"), r.PathValue("id")

	existing, found, err := h.findRow(r, table, id)
	if err != nil {
		h.writeStoreError(w, "delete_failed", err)
		return
	}
	if found && existing.String(entity.FieldUserID) == userID {
		if err := h.store.Delete(r.Context(), table, id); err != nil {
			h.writeStoreError(w, "delete_failed", err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// findRow looks a row up by id within the caller's scope. Store errors are
// returned, never reported as a missing row.
func (h *RESTHandlers) findRow(r *http.Request, table, id string) (entity.Record, bool, error) {
	rows, err := h.store.Select(r.Context(), table, remote.Query{Eq: entity.Filter{entity.FieldID: id}})
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return rows[0], true, nil
}

func (h *RESTHandlers) readRecord(w http.ResponseWriter, r *http.Request) (entity.Record, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body too large")
		return nil, false
	}
	rec, err := entity.Decode(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Failed to parse JSON object")
		return nil, false
	}
	return rec, true
}

func (h *RESTHandlers) writeStoreError(w http.ResponseWriter, code string, err error) {
	var re *remote.Error
	if !errors.As(err, &re) {
		h.logger.Error("Store call failed", "error", err)
		writeError(w, http.StatusInternalServerError, code, "internal error")
		return
	}
	status := re.Status
	if status == 0 {
		switch re.Kind {
		case remote.KindNotFound:
			status = http.StatusNotFound
		case remote.KindRejected:
			status = http.StatusBadRequest
		case remote.KindUnauthorized:
			status = http.StatusForbidden
		default:
			status = http.StatusInternalServerError
		}
	}
	if status >= 500 {
		h.logger.Error("Store call failed", "op", re.Op, "table", re.Table, "error", err)
		writeError(w, status, code, "internal error")
		return
	}
	writeError(w, status, code, re.Message)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResponse := ErrorResponse{
		Error:   errorCode,
		Message: message,
	}
	json.NewEncoder(w).Encode(errorResponse)

	slog.Debug("HTTP error response",
		"status_code", statusCode,
		"error_code", errorCode,
		"message", message)
}
