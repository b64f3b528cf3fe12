// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package drift implements online detection of distribution shift between
// live prediction traffic and the frozen training distribution.
//
// The pipeline is: every scored observation is appended to a RollingBuffer;
// when the buffer reaches capacity the whole batch is swapped out and handed
// to the Monitor, whose Analyzer compares each field against the Reference
// statistics and publishes a Verdict. Serving never waits on any part of
// this pipeline.
package drift

import (
	"sync"

	"github.com/AleutianAI/Bellwether/services/serving/datatypes"
)

// DefaultBufferThreshold is the buffer capacity, and therefore the analysis
// batch size, when the configuration does not set one.
const DefaultBufferThreshold = 100

// batchQueueDepth bounds how many full batches may wait for the analyzer.
// Beyond this, new full batches are dropped and counted rather than
// stalling the serving path.
const batchQueueDepth = 2

// Batch is one drained buffer generation handed to the analyzer.
type Batch struct {
	// Vectors in arrival order.
	Vectors []datatypes.FeatureVector

	// Epoch is the drain generation that produced this batch. Strictly
	// increasing across swaps.
	Epoch uint64
}

// RollingBuffer accumulates scored observations until an analysis batch is
// full.
//
// # Description
//
// RollingBuffer is a bounded FIFO with capacity equal to the drift buffer
// threshold. Appends never block on analysis: when an append brings the
// buffer to capacity, the same critical section swaps the entire contents
// out as a Batch and offers it to the analysis queue. If the queue is full
// the batch is dropped and counted; the serving path is never the party
// that waits.
//
// The observable size never exceeds the capacity, arrival order is
// preserved within a batch, and a drain is atomic: a vector appended during
// an analysis pass lands in the next epoch, never the one being analyzed.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Append and the drain family
// share one mutex with short critical sections.
type RollingBuffer struct {
	mu      sync.Mutex
	vecs    []datatypes.FeatureVector
	cap     int
	epoch   uint64
	dropped uint64
	closed  bool
	out     chan Batch
}

// NewRollingBuffer creates a buffer with the given capacity. A
// non-positive capacity falls back to DefaultBufferThreshold.
func NewRollingBuffer(capacity int) *RollingBuffer {
	if capacity < 1 {
		capacity = DefaultBufferThreshold
	}
	return &RollingBuffer{
		vecs: make([]datatypes.FeatureVector, 0, capacity),
		cap:  capacity,
		out:  make(chan Batch, batchQueueDepth),
	}
}

// Append adds one observation to the tail.
//
// # Outputs
//
//   - size: Buffer size after the append, and after any swap it caused.
//   - triggered: True when this append filled the buffer and scheduled an
//     analysis batch (the batch may still be dropped if the queue is full).
func (b *RollingBuffer) Append(v datatypes.FeatureVector) (size int, triggered bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.vecs = append(b.vecs, v)
	if len(b.vecs) < b.cap {
		return len(b.vecs), false
	}

	batch := b.swapLocked()
	if b.closed {
		// Shutdown in progress; nobody is consuming batches anymore.
		b.dropped++
		return 0, true
	}
	select {
	case b.out <- batch:
	default:
		b.dropped++
	}
	return 0, true
}

// swapLocked takes the current contents as a new-epoch batch. Callers hold
// b.mu and guarantee the buffer is non-empty.
func (b *RollingBuffer) swapLocked() Batch {
	b.epoch++
	batch := Batch{Vectors: b.vecs, Epoch: b.epoch}
	b.vecs = make([]datatypes.FeatureVector, 0, b.cap)
	return batch
}

// Drain atomically removes and returns everything in the buffer. Draining
// an empty buffer returns an empty batch without advancing the epoch, so
// racing drains resolve to exactly one analysis pass.
func (b *RollingBuffer) Drain() Batch {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.vecs) == 0 {
		return Batch{Epoch: b.epoch}
	}
	return b.swapLocked()
}

// DrainMin drains only if at least min observations are buffered. The size
// check and the swap happen under one lock acquisition, so a concurrent
// trigger cannot leave the caller holding a batch smaller than min.
func (b *RollingBuffer) DrainMin(min int) (Batch, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.vecs) < min || len(b.vecs) == 0 {
		return Batch{Epoch: b.epoch}, false
	}
	return b.swapLocked(), true
}

// Batches is the queue of full batches awaiting analysis.
func (b *RollingBuffer) Batches() <-chan Batch {
	return b.out
}

// Size returns the current number of buffered observations.
func (b *RollingBuffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.vecs)
}

// Capacity returns the configured buffer threshold.
func (b *RollingBuffer) Capacity() int {
	return b.cap
}

// Epoch returns the current drain generation.
func (b *RollingBuffer) Epoch() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.epoch
}

// DroppedBatches returns how many full batches were discarded because the
// analysis queue was full.
func (b *RollingBuffer) DroppedBatches() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Close stops batch scheduling and closes the analysis queue. Appends after
// Close still succeed so shutdown never races the serving path; full
// batches are counted dropped instead of scheduled.
func (b *RollingBuffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.out)
}
