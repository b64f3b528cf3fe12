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
	"sync"
	"sync/atomic"
	"time"
)

// Metadata identifies the artifact a slot serves.
type Metadata struct {
	Name     string    `json:"model_name,omitempty"`
	Alias    string    `json:"alias"`
	Version  string    `json:"version"`
	Source   string    `json:"source"`
	LoadedAt time.Time `json:"loaded_at"`
}

// Slot wraps a ready-to-score model together with a reference count.
//
// # Description
//
// A Slot is never mutated after construction. The Manager swaps whole slots
// on reload; requests that acquired the old slot keep scoring against it
// until they release, so a reload never breaks an in-flight prediction. The
// reference count exists for that lifetime contract and for observability,
// not for freeing memory: a retired slot is garbage collected once the last
// holder lets go.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Slot struct {
	scorer   Scorer
	meta     Metadata
	refCount atomic.Int64
	retired  atomic.Bool
}

// NewSlot wraps a scorer and its metadata.
func NewSlot(scorer Scorer, meta Metadata) *Slot {
	return &Slot{scorer: scorer, meta: meta}
}

// Acquire registers a holder and returns the release function, which is
// safe to call more than once. Callers release via defer so that request
// cancellation cannot leak a reference.
func (s *Slot) Acquire() func() {
	s.refCount.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() {
			s.refCount.Add(-1)
		})
	}
}

// Scorer returns the wrapped scoring function.
func (s *Slot) Scorer() Scorer {
	return s.scorer
}

// Metadata returns the slot's artifact identity.
func (s *Slot) Metadata() Metadata {
	return s.meta
}

// Retire marks the slot as replaced. In-flight holders are unaffected.
func (s *Slot) Retire() {
	s.retired.Store(true)
}

// Retired reports whether the slot has been replaced.
func (s *Slot) Retired() bool {
	return s.retired.Load()
}

// InUse reports whether any holder has the slot acquired.
func (s *Slot) InUse() bool {
	return s.refCount.Load() > 0
}

// RefCount returns the current holder count.
func (s *Slot) RefCount() int64 {
	return s.refCount.Load()
}
