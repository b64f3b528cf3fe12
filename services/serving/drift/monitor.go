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

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultHeartbeatInterval is how often the monitor logs buffer health when
// the configuration does not set one.
const DefaultHeartbeatInterval = 30 * time.Second

// verdictFeedDepth buffers each subscriber's verdict channel. A subscriber
// that falls behind misses verdicts rather than slowing analysis.
const verdictFeedDepth = 8

// MonitorConfig tunes the background monitor.
type MonitorConfig struct {
	// HeartbeatInterval is the housekeeping tick: buffer fill logging and
	// dropped-batch reporting.
	HeartbeatInterval time.Duration

	// HistorySize bounds the retained verdict ring.
	HistorySize int

	// Disabled pins the verdict at StatusDisabled. Start becomes a no-op
	// and AnalyzeNow skips without draining.
	Disabled bool
}

// TriggerResult is the outcome of a forced analysis request.
//
// On success Verdict is the freshly published verdict. On a skip, Skipped
// is true, Reason says why, and Verdict is the retained (unchanged) one.
type TriggerResult struct {
	Skipped bool     `json:"skipped"`
	Reason  string   `json:"reason,omitempty"`
	Verdict *Verdict `json:"verdict"`
}

// Monitor runs drift analysis in the background.
//
// # Description
//
// Monitor consumes full batches from the RollingBuffer's queue, runs the
// Analyzer over them, and publishes each verdict to the VerdictStore, the
// History ring, and any feed subscribers. It also serves the forced
// analysis path (AnalyzeNow), serialized against scheduled passes so at
// most one analysis runs at any moment.
//
// # Thread Safety
//
// Start and Stop are safe to call from any goroutine; Start is idempotent
// while running. AnalyzeNow, Verdict, LastVerdicts, and Subscribe are safe
// for concurrent use.
type Monitor struct {
	buffer   *RollingBuffer
	analyzer *Analyzer
	store    *VerdictStore
	history  *History
	log      *slog.Logger
	interval time.Duration
	disabled bool

	// sem serializes analysis passes across the scheduled and forced
	// paths. Capacity 1.
	sem chan struct{}

	runningMu sync.Mutex
	running   bool
	stopChan  chan struct{}
	wg        sync.WaitGroup

	subMu  sync.Mutex
	subs   map[uint64]chan *Verdict
	nextID uint64
}

// NewMonitor wires a buffer and an analyzer into a background monitor. The
// verdict store starts at no_analysis.
func NewMonitor(buffer *RollingBuffer, analyzer *Analyzer, cfg MonitorConfig, log *slog.Logger) *Monitor {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Monitor{
		buffer:   buffer,
		analyzer: analyzer,
		store:    NewVerdictStore(NewInitialVerdict(!cfg.Disabled)),
		history:  NewHistory(cfg.HistorySize),
		log:      log,
		interval: cfg.HeartbeatInterval,
		disabled: cfg.Disabled,
		sem:      make(chan struct{}, 1),
		subs:     make(map[uint64]chan *Verdict),
	}
}

// Start launches the background loop. Calling Start on a running or
// disabled monitor is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	if m.disabled {
		m.log.Info("drift monitoring disabled")
		return
	}
	m.runningMu.Lock()
	defer m.runningMu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.stopChan = make(chan struct{})

	m.wg.Add(1)
	go m.loop(ctx)
	m.log.Info("drift monitor started",
		"buffer_capacity", m.buffer.Capacity(),
		"min_batch", m.analyzer.MinBatch(),
		"comparator", m.analyzer.ComparatorName())
}

// Stop halts the background loop and waits for an in-flight pass to finish.
// Calling Stop on a stopped monitor is a no-op.
func (m *Monitor) Stop() {
	m.runningMu.Lock()
	if !m.running {
		m.runningMu.Unlock()
		return
	}
	m.running = false
	close(m.stopChan)
	m.runningMu.Unlock()

	m.wg.Wait()
	m.log.Info("drift monitor stopped")
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	var lastDropped uint64
	for {
		select {
		case batch, ok := <-m.buffer.Batches():
			if !ok {
				return
			}
			m.runScheduled(batch)
		case <-ticker.C:
			lastDropped = m.heartbeat(lastDropped)
		case <-m.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// runScheduled analyzes one queued batch. A skipped pass retains the stored
// verdict and is logged, never escalated.
func (m *Monitor) runScheduled(batch Batch) {
	m.sem <- struct{}{}
	defer func() { <-m.sem }()

	v, err := m.analyzer.Analyze(batch, TriggerThreshold)
	if err != nil {
		m.log.Warn("scheduled analysis skipped",
			"error", err,
			"batch_size", len(batch.Vectors),
			"epoch", batch.Epoch)
		return
	}
	m.publish(v)
}

// heartbeat logs buffer health and newly dropped batches. Returns the new
// dropped-batch watermark.
func (m *Monitor) heartbeat(lastDropped uint64) uint64 {
	dropped := m.buffer.DroppedBatches()
	if dropped > lastDropped {
		m.log.Warn("analysis batches dropped",
			"dropped_total", dropped,
			"dropped_new", dropped-lastDropped)
	}
	m.log.Debug("drift monitor heartbeat",
		"buffer_size", m.buffer.Size(),
		"buffer_capacity", m.buffer.Capacity(),
		"epoch", m.buffer.Epoch(),
		"verdict_status", m.store.Load().Status)
	return dropped
}

// AnalyzeNow drains the buffer and analyzes immediately.
//
// # Description
//
// The operator path: drains whatever the buffer holds, provided it meets
// the analyzer's minimum, and publishes the verdict synchronously. The size
// check and the drain are one atomic step, so a concurrent threshold
// trigger can never leave this path holding a sub-minimum batch. When
// monitoring is disabled, a pass is already running, or the buffer is
// below the minimum, nothing is drained and the previous verdict is
// retained.
//
// # Outputs
//
//   - TriggerResult: Fresh verdict on success; retained verdict plus
//     reason on a skip.
//   - error: Wraps ErrAnalysisSkipped on the skip paths, nil on success.
func (m *Monitor) AnalyzeNow(ctx context.Context) (TriggerResult, error) {
	if m.disabled {
		return TriggerResult{
			Skipped: true,
			Reason:  "drift monitoring disabled",
			Verdict: m.store.Load(),
		}, fmt.Errorf("%w: monitoring disabled", ErrAnalysisSkipped)
	}
	select {
	case m.sem <- struct{}{}:
	default:
		return TriggerResult{
			Skipped: true,
			Reason:  "analysis already in progress",
			Verdict: m.store.Load(),
		}, ErrAnalysisInProgress
	}
	defer func() { <-m.sem }()

	if err := ctx.Err(); err != nil {
		return TriggerResult{Skipped: true, Reason: "request canceled", Verdict: m.store.Load()},
			fmt.Errorf("%w: %w", ErrAnalysisSkipped, err)
	}

	batch, ok := m.buffer.DrainMin(m.analyzer.MinBatch())
	if !ok {
		return TriggerResult{
			Skipped: true,
			Reason:  fmt.Sprintf("insufficient data: need at least %d buffered observations", m.analyzer.MinBatch()),
			Verdict: m.store.Load(),
		}, ErrInsufficientData
	}

	v, err := m.analyzer.Analyze(batch, TriggerForced)
	if err != nil {
		// Unreachable with an atomic DrainMin, kept as a guard.
		return TriggerResult{Skipped: true, Reason: err.Error(), Verdict: m.store.Load()}, err
	}
	m.publish(v)
	return TriggerResult{Verdict: v}, nil
}

// publish replaces the stored verdict, appends to history, and fans out to
// feed subscribers without blocking on any of them.
func (m *Monitor) publish(v *Verdict) {
	m.store.Store(v)
	m.history.Add(v)

	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- v:
		default:
		}
	}
}

// Verdict returns the currently stored verdict. Never nil.
func (m *Monitor) Verdict() *Verdict {
	return m.store.Load()
}

// LastVerdicts returns up to n past verdicts, newest first.
func (m *Monitor) LastVerdicts(n int) []*Verdict {
	return m.history.Last(n)
}

// Subscribe registers a verdict feed consumer. The returned cancel func
// must be called when the consumer goes away; it closes the channel.
func (m *Monitor) Subscribe() (<-chan *Verdict, func()) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	id := m.nextID
	m.nextID++
	ch := make(chan *Verdict, verdictFeedDepth)
	m.subs[id] = ch

	cancel := func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		if sub, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}
