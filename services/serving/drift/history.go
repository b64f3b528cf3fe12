// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package drift

import "sync"

// DefaultHistorySize is the number of past verdicts retained when the
// configuration does not set one.
const DefaultHistorySize = 64

// History is a fixed-capacity ring of past verdicts, oldest overwritten
// first.
//
// # Description
//
// The drift-history endpoint and the CLI read recent verdicts from here.
// Memory stays bounded no matter how long the process runs: once full,
// every Add evicts the oldest entry.
//
// # Thread Safety
//
// Safe for concurrent use. The analyzer goroutine writes, request handlers
// read.
type History struct {
	mu    sync.Mutex
	data  []*Verdict
	next  int
	count int
}

// NewHistory creates a ring holding up to capacity verdicts. A
// non-positive capacity falls back to DefaultHistorySize.
func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = DefaultHistorySize
	}
	return &History{data: make([]*Verdict, capacity)}
}

// Add records a verdict, evicting the oldest when full.
func (h *History) Add(v *Verdict) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.data[h.next] = v
	h.next = (h.next + 1) % len(h.data)
	if h.count < len(h.data) {
		h.count++
	}
}

// Last returns up to n verdicts, newest first. n <= 0 returns everything
// retained.
func (h *History) Last(n int) []*Verdict {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n <= 0 || n > h.count {
		n = h.count
	}
	out := make([]*Verdict, 0, n)
	idx := h.next - 1
	for i := 0; i < n; i++ {
		if idx < 0 {
			idx += len(h.data)
		}
		out = append(out, h.data[idx])
		idx--
	}
	return out
}

// Len returns how many verdicts are retained.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Cap returns the ring capacity.
func (h *History) Cap() int {
	return len(h.data)
}
