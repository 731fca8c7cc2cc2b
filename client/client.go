// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package client wires the local store, sync queue, sync engine, connectivity
// monitor and entity repository into one offline-first data layer.
package client

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/reid15halo-ops/Local-Buisness-automizer-sub002/connectivity"
	"github.com/reid15halo-ops/Local-Buisness-automizer-sub002/localstore"
	"github.com/reid15halo-ops/Local-Buisness-automizer-sub002/remote"
	"github.com/reid15halo-ops/Local-Buisness-automizer-sub002/repository"
	"github.com/reid15halo-ops/Local-Buisness-automizer-sub002/syncengine"
	"github.com/reid15halo-ops/Local-Buisness-automizer-sub002/syncqueue"
)

// Config holds configuration for the offline-first client
type Config struct {
	DatabasePath string                                // SQLite file, ":memory:" for tests
	ServerURL    string                                // empty keeps the remote store unconfigured
	UserID       string                                // empty falls back to repository.DefaultUserID
	DeviceID     string                                // empty generates and persists one
	Token        func(context.Context) (string, error) // returns JWT

	HTTPTimeout   time.Duration // 30s
	ProbeInterval time.Duration // 15s, zero disables probing
	SyncInterval  time.Duration // 0, drains are event-driven by default
	Retention     time.Duration // 7 days

	DeadLetterRejected bool
	Logger             *slog.Logger
}

// DefaultConfig returns a configuration for a local database at path
func DefaultConfig(path string) *Config {
	return &Config{
		DatabasePath:  path,
		HTTPTimeout:   30 * time.Second,
		ProbeInterval: 15 * time.Second,
		SyncInterval:  0,
		Retention:     syncqueue.DefaultRetention,
	}
}

// Client owns every component of the data layer
type Client struct {
	config   *Config
	logger   *slog.Logger
	deviceID string

	local   *localstore.Store
	queue   *syncqueue.Queue
	remote  remote.Store
	engine  *syncengine.Engine
	monitor *connectivity.Monitor
	repo    *repository.Repository

	started   atomic.Bool
	cancel    context.CancelFunc
	stopWatch func()
	wg        sync.WaitGroup
}

// Open opens the local database and builds the data layer. When store is nil
// an HTTP remote store is created from Config.ServerURL.
func Open(ctx context.Context, config *Config, store remote.Store) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.DatabasePath == "" {
		return nil, fmt.Errorf("config.DatabasePath must be provided")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	local, err := localstore.Open(ctx, config.DatabasePath, logger)
	if err != nil {
		return nil, err
	}

	userID := config.UserID
	if userID == "" {
		userID = repository.DefaultUserID
	}
	deviceID := config.DeviceID
	if deviceID == "" {
		deviceID, err = EnsureDeviceID(ctx, local.DB(), userID)
		if err != nil {
			local.Close()
			return nil, err
		}
	}

	if store == nil {
		httpStore := remote.NewHTTPClient(config.ServerURL, config.Token, logger)
		if config.HTTPTimeout > 0 {
			httpStore.HTTP.Timeout = config.HTTPTimeout
		}
		store = httpStore
	}

	var probe connectivity.Probe
	if p, ok := store.(interface{ Ping(context.Context) error }); ok {
		probe = p.Ping
	}

	queue := syncqueue.New(local, logger)
	engine := syncengine.New(queue, store, &syncengine.Config{
		Interval:           config.SyncInterval,
		Retention:          config.Retention,
		DeadLetterRejected: config.DeadLetterRejected,
	}, logger)
	monitorConfig := connectivity.DefaultConfig()
	monitorConfig.Interval = config.ProbeInterval
	monitor := connectivity.NewMonitor(probe, monitorConfig, logger)

	repo := repository.New(local, queue, engine, repository.Options{
		Remote:   store,
		Identity: repository.StaticIdentity(config.UserID),
		Logger:   logger,
	})

	logger.Info("Offline client ready", "database", config.DatabasePath, "user", userID, "device", deviceID,
		"remote_configured", store.IsConfigured())

	return &Client{
		config:   config,
		logger:   logger,
		deviceID: deviceID,
		local:    local,
		queue:    queue,
		remote:   store,
		engine:   engine,
		monitor:  monitor,
		repo:     repo,
	}, nil
}

// EnsureDeviceID generates and persists a device ID if not already present
func EnsureDeviceID(ctx context.Context, db *sql.DB, userID string) (string, error) {
	var deviceID string
	err := db.QueryRowContext(ctx, `SELECT device_id FROM _client_info WHERE user_id = ?`, userID).Scan(&deviceID)
	if errors.Is(err, sql.ErrNoRows) {
		deviceID = uuid.New().String()
		_, err = db.ExecContext(ctx, `INSERT INTO _client_info (user_id, device_id, created_at) VALUES (?, ?, ?)`,
			userID, deviceID, time.Now().UnixMilli())
		if err != nil {
			return "", fmt.Errorf("failed to insert client info: %w", err)
		}
	} else if err != nil {
		return "", fmt.Errorf("failed to query client info: %w", err)
	}
	return deviceID, nil
}

// Start launches connectivity probing, reconnect-triggered drains and the
// periodic sync loop. It is a no-op when already started.
func (c *Client) Start(ctx context.Context) {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.stopWatch = c.engine.WatchConnectivity(c.monitor)

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.monitor.Run(ctx)
	}()
	go func() {
		defer c.wg.Done()
		c.engine.Run(ctx)
	}()
}

// Close stops background work and closes the local database
func (c *Client) Close() error {
	if c.started.Load() {
		c.cancel()
		c.stopWatch()
		c.wg.Wait()
	}
	return c.local.Close()
}

func (c *Client) Repository() *repository.Repository { return c.repo }
func (c *Client) Engine() *syncengine.Engine         { return c.engine }
func (c *Client) Queue() *syncqueue.Queue            { return c.queue }
func (c *Client) Monitor() *connectivity.Monitor     { return c.monitor }
func (c *Client) Local() *localstore.Store           { return c.local }
func (c *Client) Remote() remote.Store               { return c.remote }
func (c *Client) DeviceID() string                   { return c.deviceID }
