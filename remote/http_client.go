// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/reid15halo-ops/Local-Buisness-automizer-sub002/entity"
)

// ErrorResponse is the JSON body returned with non-2xx responses
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HTTPClient talks to the REST backend
type HTTPClient struct {
	BaseURL string
	Token   func(context.Context) (string, error) // returns JWT
	HTTP    *http.Client
	logger  *slog.Logger
}

// NewHTTPClient creates a client for baseURL. An empty baseURL yields an
// unconfigured store.
func NewHTTPClient(baseURL string, tok func(ctx context.Context) (string, error), logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPClient{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		Token:   tok,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

// IsConfigured reports whether a base URL is set
func (c *HTTPClient) IsConfigured() bool {
	return c != nil && c.BaseURL != ""
}

// Ping checks GET /health
func (c *HTTPClient) Ping(ctx context.Context) error {
	if !c.IsConfigured() {
		return NotConfigured("ping", "")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return &Error{Kind: KindUnknown, Op: "ping", Err: fmt.Errorf("failed to create HTTP request: %w", err)}
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return &Error{Kind: KindNetwork, Op: "ping", Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return &Error{Kind: KindForStatus(resp.StatusCode), Op: "ping", Status: resp.StatusCode}
	}
	return nil
}

// Select runs GET /rest/{table}
func (c *HTTPClient) Select(ctx context.Context, table string, q Query) ([]entity.Record, error) {
	params := url.Values{}
	keys := make([]string, 0, len(q.Eq))
	for k := range q.Eq {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		params.Set("eq."+k, entity.Canonical(q.Eq[k]))
	}
	if q.OrderBy != "" {
		dir := "asc"
		if q.Descending {
			dir = "desc"
		}
		params.Set("order", q.OrderBy+"."+dir)
	}
	path := "/rest/" + url.PathEscape(table)
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	body, err := c.do(ctx, OpSelect, table, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	recs, err := entity.DecodeList(body)
	if err != nil {
		return nil, &Error{Kind: KindServer, Op: OpSelect, Table: table, Err: err}
	}
	return recs, nil
}

// Upsert runs POST /rest/{table}
func (c *HTTPClient) Upsert(ctx context.Context, table string, row entity.Record) (entity.Record, error) {
	return c.writeRow(ctx, OpUpsert, table, http.MethodPost, "/rest/"+url.PathEscape(table), row)
}

// Update runs PATCH /rest/{table}/{id}
func (c *HTTPClient) Update(ctx context.Context, table, id string, partial entity.Record) (entity.Record, error) {
	return c.writeRow(ctx, OpUpdate, table, http.MethodPatch, "/rest/"+url.PathEscape(table)+"/"+url.PathEscape(id), partial)
}

// Delete runs DELETE /rest/{table}/{id}
func (c *HTTPClient) Delete(ctx context.Context, table, id string) error {
	_, err := c.do(ctx, OpDelete, table, http.MethodDelete, "/rest/"+url.PathEscape(table)+"/"+url.PathEscape(id), nil)
	return err
}

func (c *HTTPClient) writeRow(ctx context.Context, op, table, method, path string, row entity.Record) (entity.Record, error) {
	jsonData, err := json.Marshal(row)
	if err != nil {
		return nil, &Error{Kind: KindRejected, Op: op, Table: table, Err: fmt.Errorf("failed to marshal row: %w", err)}
	}
	body, err := c.do(ctx, op, table, method, path, jsonData)
	if err != nil {
		return nil, err
	}
	rec, err := entity.Decode(body)
	if err != nil {
		return nil, &Error{Kind: KindServer, Op: op, Table: table, Err: err}
	}
	return rec, nil
}

func (c *HTTPClient) do(ctx context.Context, op, table, method, path string, payload []byte) ([]byte, error) {
	if !c.IsConfigured() {
		return nil, NotConfigured(op, table)
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return nil, &Error{Kind: KindUnknown, Op: op, Table: table, Err: fmt.Errorf("failed to create HTTP request: %w", err)}
	}
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")

	if c.Token != nil {
		token, err := c.Token(ctx)
		if err != nil {
			return nil, &Error{Kind: KindUnauthorized, Op: op, Table: table, Err: fmt.Errorf("failed to get JWT token: %w", err)}
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Op: op, Table: table, Err: fmt.Errorf("failed to send HTTP request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Op: op, Table: table, Status: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		re := &Error{Kind: KindForStatus(resp.StatusCode), Op: op, Table: table, Status: resp.StatusCode}
		var errResp ErrorResponse
		if json.Unmarshal(body, &errResp) == nil && (errResp.Error != "" || errResp.Message != "") {
			re.Message = strings.TrimSpace(errResp.Error + ": " + errResp.Message)
		} else {
			re.Message = strings.TrimSpace(string(body))
		}
		c.logger.Debug("Remote call failed", "op", op, "table", table, "status", resp.StatusCode, "message", re.Message)
		return nil, re
	}
	return body, nil
}
