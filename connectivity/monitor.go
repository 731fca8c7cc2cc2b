// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package connectivity tracks whether the remote backend is reachable and
// notifies subscribers when it comes back.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Notifier delivers connectivity-restored events
type Notifier interface {
	OnOnline(callback func()) (unsubscribe func())
}

// Probe checks reachability; nil means online
type Probe func(ctx context.Context) error

// Config holds monitor settings
type Config struct {
	Interval     time.Duration // time between probes
	ProbeTimeout time.Duration
}

// DefaultConfig returns the default probing cadence
func DefaultConfig() *Config {
	return &Config{
		Interval:     15 * time.Second,
		ProbeTimeout: 5 * time.Second,
	}
}

// Monitor holds the online state. It starts offline.
type Monitor struct {
	probe  Probe
	config *Config
	logger *slog.Logger

	mu        sync.Mutex
	online    bool
	nextID    int
	listeners map[int]func()
}

// NewMonitor creates a monitor; probe may be nil when state is only set manually
func NewMonitor(probe Probe, config *Config, logger *slog.Logger) *Monitor {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		probe:     probe,
		config:    config,
		logger:    logger,
		listeners: make(map[int]func()),
	}
}

// OnOnline implements Notifier
func (m *Monitor) OnOnline(callback func()) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = callback
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// Online reports the last known state
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline records the state; an offline-to-online transition notifies
// listeners synchronously.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	var callbacks []func()
	if online {
		callbacks = make([]func(), 0, len(m.listeners))
		for _, cb := range m.listeners {
			callbacks = append(callbacks, cb)
		}
	}
	m.mu.Unlock()

	if !online {
		m.logger.Info("Remote backend unreachable")
		return
	}
	m.logger.Info("Remote backend reachable again", "listeners", len(callbacks))
	for _, cb := range callbacks {
		m.notify(cb)
	}
}

func (m *Monitor) notify(cb func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Connectivity listener panicked", "panic", r)
		}
	}()
	cb()
}

// Check runs the probe once and updates the state
func (m *Monitor) Check(ctx context.Context) bool {
	if m.probe == nil {
		return m.Online()
	}
	probeCtx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
	defer cancel()
	err := m.probe(probeCtx)
	if err != nil {
		m.logger.Debug("Connectivity probe failed", "error", err)
	}
	m.SetOnline(err == nil)
	return err == nil
}

// Run probes immediately and then every Interval until ctx is done
func (m *Monitor) Run(ctx context.Context) {
	if m.probe == nil || m.config.Interval <= 0 {
		return
	}
	m.Check(ctx)
	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
