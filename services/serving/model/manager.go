// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package model

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/Bellwether/services/serving/datatypes"
)

// Manager owns the champion and challenger serving slots.
//
// # Description
//
// The manager is the single writer for slot pointers. Reads (Acquire) are
// lock-free atomic loads; writes (Reload, Unload) swap the whole slot and
// retire the previous one, so a reload is invisible to requests that are
// already scoring. Concurrent reloads of the same role collapse into one
// registry fetch via singleflight; a reload that fails in the registry
// leaves the currently served slot untouched.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Manager struct {
	registry Registry
	log      *slog.Logger

	// slots is keyed by role and fully populated at construction, so the
	// map itself is never written after NewManager returns.
	slots  map[string]*atomic.Pointer[Slot]
	flight singleflight.Group
}

// reloadResult carries a slot swap outcome through singleflight.
type reloadResult struct {
	Previous Metadata
	Current  Metadata
}

// NewManager builds an empty manager. Call Reload (or LoadInitial) to
// populate the champion before serving traffic.
func NewManager(registry Registry, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		registry: registry,
		log:      log,
		slots: map[string]*atomic.Pointer[Slot]{
			datatypes.RoleChampion:   new(atomic.Pointer[Slot]),
			datatypes.RoleChallenger: new(atomic.Pointer[Slot]),
		},
	}
}

// slot returns the pointer cell for a role, or nil for unknown roles.
func (m *Manager) slot(role string) *atomic.Pointer[Slot] {
	return m.slots[role]
}

// Acquire returns the current slot for a role together with its release
// function. Callers must release when scoring finishes; defer is the
// expected shape. Returns ErrUnavailable when the role has no model.
func (m *Manager) Acquire(role string) (*Slot, func(), error) {
	cell := m.slot(role)
	if cell == nil {
		return nil, nil, fmt.Errorf("%w: unknown role %q", ErrUnavailable, role)
	}
	slot := cell.Load()
	if slot == nil {
		return nil, nil, fmt.Errorf("%w: no model loaded for role %q", ErrUnavailable, role)
	}
	// A reload may retire the slot between the load above and this
	// acquire. That is fine: retired slots still score correctly, and
	// the next Acquire observes the replacement.
	return slot, slot.Acquire(), nil
}

// Reload resolves an alias through the registry and swaps it into the
// role's slot. It returns the metadata of the replaced slot (zero when the
// role was empty) and of the new one. Concurrent reloads of the same role
// share one result.
func (m *Manager) Reload(ctx context.Context, role, alias string) (prev, curr Metadata, err error) {
	cell := m.slot(role)
	if cell == nil {
		return Metadata{}, Metadata{}, fmt.Errorf("%w: unknown role %q", ErrUnavailable, role)
	}

	result, err, shared := m.flight.Do(role, func() (interface{}, error) {
		return m.swapSlot(ctx, cell, role, alias)
	})
	if err != nil {
		return Metadata{}, Metadata{}, err
	}
	if shared {
		m.log.Debug("reload deduplicated", "role", role, "alias", alias)
	}

	outcome, ok := result.(reloadResult)
	if !ok {
		return Metadata{}, Metadata{}, fmt.Errorf("%w: unexpected reload result type %T", ErrUnavailable, result)
	}
	return outcome.Previous, outcome.Current, nil
}

// swapSlot performs the registry fetch and pointer swap for Reload.
func (m *Manager) swapSlot(ctx context.Context, cell *atomic.Pointer[Slot], role, alias string) (interface{}, error) {
	manifest, err := m.registry.Resolve(ctx, alias)
	if err != nil {
		return nil, fmt.Errorf("resolve alias %q for role %q: %w", alias, role, err)
	}
	scorer, err := m.registry.Open(ctx, manifest)
	if err != nil {
		return nil, fmt.Errorf("open model %s for role %q: %w", manifest.Version, role, err)
	}

	meta := Metadata{
		Name:     manifest.Name,
		Alias:    alias,
		Version:  manifest.Version,
		Source:   manifest.Source,
		LoadedAt: time.Now().UTC(),
	}
	next := NewSlot(scorer, meta)

	prev := cell.Swap(next)
	var prevMeta Metadata
	if prev != nil {
		prev.Retire()
		prevMeta = prev.Metadata()
	}

	m.log.Info("model slot swapped",
		"role", role,
		"alias", alias,
		"version", meta.Version,
		"previous_version", prevMeta.Version,
		"source", meta.Source,
	)
	return reloadResult{Previous: prevMeta, Current: meta}, nil
}

// LoadInitial populates a role at startup and returns the loaded metadata.
func (m *Manager) LoadInitial(ctx context.Context, role, alias string) (Metadata, error) {
	_, curr, err := m.Reload(ctx, role, alias)
	return curr, err
}

// Unload removes the challenger so all traffic returns to the champion.
// The champion itself can never be unloaded.
func (m *Manager) Unload(role string) (Metadata, error) {
	if role == datatypes.RoleChampion {
		return Metadata{}, ErrChampionRequired
	}
	cell := m.slot(role)
	if cell == nil {
		return Metadata{}, fmt.Errorf("%w: unknown role %q", ErrUnavailable, role)
	}

	prev := cell.Swap(nil)
	if prev == nil {
		return Metadata{}, fmt.Errorf("%w: no model loaded for role %q", ErrUnavailable, role)
	}
	prev.Retire()

	meta := prev.Metadata()
	m.log.Info("model slot unloaded", "role", role, "version", meta.Version)
	return meta, nil
}

// Metadata returns the current metadata for a role.
func (m *Manager) Metadata(role string) (Metadata, bool) {
	cell := m.slot(role)
	if cell == nil {
		return Metadata{}, false
	}
	slot := cell.Load()
	if slot == nil {
		return Metadata{}, false
	}
	return slot.Metadata(), true
}

// HasChallenger reports whether a challenger is currently loaded.
func (m *Manager) HasChallenger() bool {
	_, ok := m.Metadata(datatypes.RoleChallenger)
	return ok
}
