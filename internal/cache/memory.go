/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Entry is a cached value with its expiry.
type Entry struct {
	Value     []byte
	ExpiresAt time.Time
}

// Memory is a process-scoped TTL cache. The clock and backing map are
// injected so callers own the state and tests control time.
type Memory struct {
	mu      sync.Mutex
	entries map[string]Entry
	now     func() time.Time
	config  Config
}

// NewMemory creates an in-memory cache. Nil entries or now fall back to a
// fresh map and time.Now.
func NewMemory(cfg Config, entries map[string]Entry, now func() time.Time) *Memory {
	if entries == nil {
		entries = make(map[string]Entry)
	}
	if now == nil {
		now = time.Now
	}
	return &Memory{entries: entries, now: now, config: cfg.withDefaults()}
}

func (m *Memory) get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if !m.now().Before(entry.ExpiresAt) {
		delete(m.entries, key)
		return nil, false
	}
	return append([]byte(nil), entry.Value...), true
}

func (m *Memory) set(key string, data []byte, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = Entry{Value: append([]byte(nil), data...), ExpiresAt: m.now().Add(ttl)}
}

func (m *Memory) delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}

func (m *Memory) flush(prefix string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for key := range m.entries {
		if strings.HasPrefix(key, prefix) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed
}

// Sweep removes expired entries and returns how many were dropped.
func (m *Memory) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for key, entry := range m.entries {
		if !now.Before(entry.ExpiresAt) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, expired or not.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// GetPlaylist implements Store.
func (m *Memory) GetPlaylist(_ context.Context, playlistID string) ([]byte, bool) {
	return m.get(KeyPlaylist + playlistID)
}

// SetPlaylist implements Store.
func (m *Memory) SetPlaylist(_ context.Context, playlistID string, data []byte) error {
	m.set(KeyPlaylist+playlistID, data, m.config.PlaylistTTL)
	return nil
}

// InvalidatePlaylist implements Store.
func (m *Memory) InvalidatePlaylist(_ context.Context, playlistID string) error {
	m.delete(KeyPlaylist + playlistID)
	return nil
}

// GetPlan implements Store.
func (m *Memory) GetPlan(_ context.Context, planID string) ([]byte, bool) {
	return m.get(KeyPlan + planID)
}

// SetPlan implements Store.
func (m *Memory) SetPlan(_ context.Context, planID string, data []byte) error {
	m.set(KeyPlan+planID, data, m.config.PlanTTL)
	return nil
}

// InvalidatePlan implements Store.
func (m *Memory) InvalidatePlan(_ context.Context, planID string) error {
	m.delete(KeyPlan + planID)
	return nil
}
