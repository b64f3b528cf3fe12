// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package routing assigns prediction requests to the champion or challenger
// model slot.
package routing

import (
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/AleutianAI/Bellwether/services/serving/datatypes"
	"github.com/AleutianAI/Bellwether/services/serving/model"
)

// Decision records which slot served a request. It travels into response
// metadata, the audit log, and the prediction log.
type Decision struct {
	Role      string `json:"role"`
	Alias     string `json:"alias"`
	Version   string `json:"version"`
	RequestID string `json:"request_id"`
}

// State is the router's observable condition, served by the status endpoint.
type State struct {
	Split            float64 `json:"split"`
	Enabled          bool    `json:"enabled"`
	Active           bool    `json:"active"`
	ChallengerLoaded bool    `json:"challenger_loaded"`
}

// Router splits traffic between the champion and challenger slots.
//
// # Description
//
// Assignment is deterministic: the request id is hashed (FNV-1a) to a
// fraction in [0,1) and compared against the configured split, so one id
// always lands on the same side under a fixed configuration. The router is
// fail-safe toward the champion: a disabled split, a zero split, or a
// missing challenger all route to the champion, and a challenger that
// vanishes between decision and acquire falls back rather than failing the
// request.
//
// State changes only through Configure or challenger load/unload. Drift
// verdicts never move traffic on their own.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Route takes a read lock only
// long enough to copy the configuration.
type Router struct {
	manager *model.Manager
	log     *slog.Logger

	mu      sync.RWMutex
	split   float64
	enabled bool
}

// NewRouter builds a router over the slot manager. split is the challenger
// probability and must be in [0,1].
func NewRouter(manager *model.Manager, split float64, enabled bool, log *slog.Logger) (*Router, error) {
	if err := validateSplit(split); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		manager: manager,
		log:     log,
		split:   split,
		enabled: enabled,
	}, nil
}

func validateSplit(split float64) error {
	if split < 0 || split > 1 {
		return fmt.Errorf("challenger split must be in [0,1], got %g", split)
	}
	return nil
}

// Configure replaces the split and enabled flag. The change applies to the
// next Route call; in-flight requests keep their decision.
func (r *Router) Configure(split float64, enabled bool) error {
	if err := validateSplit(split); err != nil {
		return err
	}

	r.mu.Lock()
	prevSplit, prevEnabled := r.split, r.enabled
	r.split = split
	r.enabled = enabled
	r.mu.Unlock()

	r.log.Info("router reconfigured",
		"split", split,
		"enabled", enabled,
		"previous_split", prevSplit,
		"previous_enabled", prevEnabled,
	)
	return nil
}

// Snapshot reports the current configuration and whether the split is
// actually in effect.
func (r *Router) Snapshot() State {
	r.mu.RLock()
	split, enabled := r.split, r.enabled
	r.mu.RUnlock()

	loaded := r.manager.HasChallenger()
	return State{
		Split:            split,
		Enabled:          enabled,
		Active:           enabled && split > 0 && loaded,
		ChallengerLoaded: loaded,
	}
}

// Route picks a slot for the request and acquires it. The caller must call
// release when scoring finishes. Returns model.ErrUnavailable only when the
// champion itself is missing.
func (r *Router) Route(requestID string) (Decision, *model.Slot, func(), error) {
	if r.pick(requestID) == datatypes.RoleChallenger {
		slot, release, err := r.manager.Acquire(datatypes.RoleChallenger)
		if err == nil {
			return decision(slot, datatypes.RoleChallenger, requestID), slot, release, nil
		}
		r.log.Debug("challenger gone at acquire, serving champion", "request_id", requestID)
	}

	slot, release, err := r.manager.Acquire(datatypes.RoleChampion)
	if err != nil {
		return Decision{}, nil, nil, err
	}
	return decision(slot, datatypes.RoleChampion, requestID), slot, release, nil
}

// pick applies the split to the hashed request id.
func (r *Router) pick(requestID string) string {
	r.mu.RLock()
	split, enabled := r.split, r.enabled
	r.mu.RUnlock()

	if !enabled || split <= 0 {
		return datatypes.RoleChampion
	}
	if !r.manager.HasChallenger() {
		return datatypes.RoleChampion
	}
	if hashFraction(requestID) < split {
		return datatypes.RoleChallenger
	}
	return datatypes.RoleChampion
}

// decision stamps the served slot's identity onto the routing outcome.
func decision(slot *model.Slot, role, requestID string) Decision {
	meta := slot.Metadata()
	return Decision{
		Role:      role,
		Alias:     meta.Alias,
		Version:   meta.Version,
		RequestID: requestID,
	}
}

// hashFraction maps a request id to [0,1) with FNV-1a. The top 53 bits of
// the hash feed the float mantissa, so the full precision of float64 is
// used and split == 1 routes every id to the challenger.
func hashFraction(requestID string) float64 {
	h := fnv.New64a()
	h.Write([]byte(requestID))
	return float64(h.Sum64()>>11) / (1 << 53)
}
