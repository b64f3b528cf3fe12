// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package serving orchestrates a prediction request end to end: payload
// validation, champion/challenger routing, scoring, and the fire-and-forget
// fanout to the drift buffer, the prediction log, and the metrics sink.
package serving

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/Bellwether/services/serving/datatypes"
	"github.com/AleutianAI/Bellwether/services/serving/drift"
	"github.com/AleutianAI/Bellwether/services/serving/model"
	"github.com/AleutianAI/Bellwether/services/serving/observability"
	"github.com/AleutianAI/Bellwether/services/serving/routing"
	"github.com/AleutianAI/Bellwether/services/serving/storage/predlog"
)

// =============================================================================
// Wiring
// =============================================================================

// Caller identifies the transport-level requester. Handlers fill it from
// the request context; the controller threads it into audit entries.
type Caller struct {
	RequestID string
	ClientIP  string
	Subject   string
}

// Options wires the controller's collaborators.
//
// Manager, Router, Buffer, Monitor, PredictionLog, Reference, and Metrics
// are required. Sink defaults to a NopSink, Audit and Logger to defaults
// built from slog.
type Options struct {
	Manager       *model.Manager
	Router        *routing.Router
	Buffer        *drift.RollingBuffer
	Monitor       *drift.Monitor
	PredictionLog *predlog.Store
	Reference     *drift.Reference
	Sink          observability.MetricsSink
	Metrics       *observability.ServingMetrics
	Audit         *observability.Audit
	Logger        *slog.Logger

	// DriftDisabled stops served vectors from entering the rolling buffer.
	// The monitor should be built with the matching MonitorConfig.Disabled
	// so the stored verdict reports the same state.
	DriftDisabled bool
}

// Controller is the serving orchestrator.
//
// # Description
//
// One Controller serves the whole HTTP surface. The hot path (Predict,
// PredictBatch) validates, routes, scores, and then fans out to the drift
// buffer, the prediction log, and the metrics sink without letting any of
// them fail or slow the response. Admin paths delegate to the model
// Manager and the Router. A background goroutine watches published drift
// verdicts and folds them into metrics and the sink.
//
// # Thread Safety
//
// All methods are safe for concurrent use. The hot path takes no locks of
// its own: routing reads are atomic snapshots, buffer appends are
// internally synchronized, and prediction log writes go through a bounded
// queue.
type Controller struct {
	manager       *model.Manager
	router        *routing.Router
	buffer        *drift.RollingBuffer
	monitor       *drift.Monitor
	predLog       *predlog.Store
	reference     *drift.Reference
	sink          observability.MetricsSink
	metrics       *observability.ServingMetrics
	audit         *observability.Audit
	log           *slog.Logger
	driftDisabled bool

	// droppedSeen is the buffer drop count already folded into the
	// counter metric.
	droppedSeen atomic.Uint64

	unsubscribe func()
	wg          sync.WaitGroup
	closeOnce   sync.Once
}

// NewController validates the wiring and starts the verdict watcher.
func NewController(opts Options) (*Controller, error) {
	switch {
	case opts.Manager == nil:
		return nil, fmt.Errorf("serving: manager is required")
	case opts.Router == nil:
		return nil, fmt.Errorf("serving: router is required")
	case opts.Buffer == nil:
		return nil, fmt.Errorf("serving: drift buffer is required")
	case opts.Monitor == nil:
		return nil, fmt.Errorf("serving: drift monitor is required")
	case opts.PredictionLog == nil:
		return nil, fmt.Errorf("serving: prediction log is required")
	case opts.Reference == nil:
		return nil, fmt.Errorf("serving: reference distribution is required")
	case opts.Metrics == nil:
		return nil, fmt.Errorf("serving: metrics are required")
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "controller")

	sink := opts.Sink
	if sink == nil {
		sink = observability.NopSink{}
	}
	audit := opts.Audit
	if audit == nil {
		audit = observability.NewAudit(opts.Logger)
	}

	c := &Controller{
		manager:       opts.Manager,
		router:        opts.Router,
		buffer:        opts.Buffer,
		monitor:       opts.Monitor,
		predLog:       opts.PredictionLog,
		reference:     opts.Reference,
		sink:          sink,
		metrics:       opts.Metrics,
		audit:         audit,
		log:           log,
		driftDisabled: opts.DriftDisabled,
	}

	ch, cancel := c.monitor.Subscribe()
	c.unsubscribe = cancel
	c.wg.Add(1)
	go c.watchVerdicts(ch)

	return c, nil
}

// Close detaches the verdict watcher. It does not close the collaborators;
// shutdown order belongs to the caller that built them.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.unsubscribe()
		c.wg.Wait()
	})
}

// watchVerdicts folds every published verdict into the counter metrics and
// the external sink. Runs until the subscription is canceled.
func (c *Controller) watchVerdicts(ch <-chan *drift.Verdict) {
	defer c.wg.Done()
	for v := range ch {
		c.metrics.RecordAnalysis(v.Trigger, v.Status)
		c.metrics.SetDriftBufferFill(c.buffer.Size())
		c.sink.Verdict(observability.VerdictPoint{
			Status:        v.Status,
			Trigger:       v.Trigger,
			Detected:      v.Detected,
			DriftedFields: len(v.DriftedFields),
			Samples:       v.SamplesAnalyzed,
			At:            v.Timestamp,
		})
		if v.Detected {
			c.log.Warn("drift detected",
				"drifted_columns", v.DriftedFields,
				"samples_analyzed", v.SamplesAnalyzed,
				"trigger", v.Trigger)
		}
	}
}

// =============================================================================
// Prediction Path
// =============================================================================

// Predict serves one observation.
//
// # Description
//
// Validates the payload, routes the request id to a slot, scores, and
// returns the priced response. The served vector then fans out to the
// drift buffer, the prediction log, and the metrics sink; none of those
// can fail or delay the response beyond their own enqueue cost.
//
// # Outputs
//
//   - error: Wraps datatypes.ErrInvalidInput on a malformed payload,
//     model.ErrUnavailable when no champion is loaded, and
//     model.ErrScoringFailure when the scorer rejects the input.
func (c *Controller) Predict(ctx context.Context, payload datatypes.FeaturePayload, caller Caller) (datatypes.PredictionResponse, error) {
	start := time.Now()
	if caller.RequestID == "" {
		caller.RequestID = uuid.New().String()
	}

	if err := payload.Validate(); err != nil {
		return datatypes.PredictionResponse{}, err
	}
	vec, err := payload.Vector()
	if err != nil {
		return datatypes.PredictionResponse{}, err
	}
	flags := c.flagsFor(vec)

	decision, slot, release, err := c.router.Route(caller.RequestID)
	if err != nil {
		c.metrics.RecordPrediction(datatypes.RoleChampion, false, time.Since(start).Seconds())
		return datatypes.PredictionResponse{}, err
	}
	defer release()

	price, err := slot.Scorer().Score(ctx, vec)
	latency := time.Since(start)
	if err != nil {
		c.metrics.RecordPrediction(decision.Role, false, latency.Seconds())
		return datatypes.PredictionResponse{}, err
	}

	c.observe(vec)
	c.sink.Prediction(observability.PredictionPoint{
		RequestID:  caller.RequestID,
		Role:       decision.Role,
		Version:    decision.Version,
		Price:      price,
		Latency:    latency,
		RangeFlags: len(flags),
		At:         start,
	})
	c.predLog.Append(predlog.Record{
		RequestID:    caller.RequestID,
		Role:         decision.Role,
		Alias:        decision.Alias,
		ModelVersion: decision.Version,
		Price:        price,
		LatencyMS:    millis(latency),
		RangeFlags:   flags,
		Features:     vec,
		CreatedAt:    start.UTC(),
	})
	c.metrics.RecordPrediction(decision.Role, true, latency.Seconds())
	c.audit.Prediction(caller.RequestID, decision.Role, decision.Version, caller.ClientIP, price)

	return datatypes.PredictionResponse{
		RequestID:        caller.RequestID,
		PredictedPrice:   price,
		ModelVersion:     decision.Version,
		ServedBy:         decision.Role,
		RangeFlags:       flags,
		ProcessingTimeMs: millis(latency),
	}, nil
}

// PredictBatch serves up to MaxBatchPredictions observations under one
// routing decision.
//
// # Description
//
// The envelope is validated as a whole (count bounds), then every element
// is validated and scored independently: a malformed or unscorable element
// reports an error at its index and never aborts the rest. All elements go
// through the slot picked for the batch's request id, so the response
// carries a single model version and role.
//
// Per-element results skip the prediction log and the sink: batch elements
// share one request id, and the log is keyed by it. The counter metrics
// still see every element.
func (c *Controller) PredictBatch(ctx context.Context, req datatypes.BatchPredictionRequest, caller Caller) (datatypes.BatchPredictionResponse, error) {
	start := time.Now()
	if caller.RequestID == "" {
		caller.RequestID = uuid.New().String()
	}

	if err := req.Validate(); err != nil {
		return datatypes.BatchPredictionResponse{}, err
	}

	decision, slot, release, err := c.router.Route(caller.RequestID)
	if err != nil {
		c.metrics.RecordPrediction(datatypes.RoleChampion, false, time.Since(start).Seconds())
		return datatypes.BatchPredictionResponse{}, err
	}
	defer release()
	scorer := slot.Scorer()

	results := make([]datatypes.BatchPredictionItem, len(req.Predictions))
	succeeded := 0
	for i := range req.Predictions {
		results[i] = c.predictElement(ctx, scorer, decision.Role, &req.Predictions[i], i)
		if results[i].Error == "" {
			succeeded++
		}
	}

	return datatypes.BatchPredictionResponse{
		Results:          results,
		Total:            len(results),
		Succeeded:        succeeded,
		Failed:           len(results) - succeeded,
		ModelVersion:     decision.Version,
		ServedBy:         decision.Role,
		ProcessingTimeMs: millis(time.Since(start)),
	}, nil
}

// predictElement scores one batch element against the already-acquired
// scorer. Failures land in the item's Error field.
func (c *Controller) predictElement(ctx context.Context, scorer model.Scorer, role string, payload *datatypes.FeaturePayload, index int) datatypes.BatchPredictionItem {
	item := datatypes.BatchPredictionItem{Index: index}
	start := time.Now()

	if err := payload.Validate(); err != nil {
		item.Error = err.Error()
		return item
	}
	vec, err := payload.Vector()
	if err != nil {
		item.Error = err.Error()
		return item
	}
	flags := c.flagsFor(vec)

	price, err := scorer.Score(ctx, vec)
	if err != nil {
		c.metrics.RecordPrediction(role, false, time.Since(start).Seconds())
		item.Error = err.Error()
		return item
	}

	c.observe(vec)
	c.metrics.RecordPrediction(role, true, time.Since(start).Seconds())
	item.PredictedPrice = &price
	item.RangeFlags = flags
	return item
}

// flagsFor returns the plausibility flags for a vector and folds the
// flagged field names into the counter metric.
func (c *Controller) flagsFor(v datatypes.FeatureVector) []string {
	if fields := v.FlaggedFields(); len(fields) > 0 {
		c.metrics.RecordRangeFlags(fields)
	}
	return v.RangeFlags()
}

// observe feeds one served vector to the drift buffer. Never fails the
// caller; buffer-side batch drops are folded into the counter metric.
func (c *Controller) observe(v datatypes.FeatureVector) (size int, triggered bool) {
	if c.driftDisabled {
		return 0, false
	}
	size, triggered = c.buffer.Append(v)
	c.metrics.SetDriftBufferFill(size)
	if triggered {
		c.syncBatchDrops()
	}
	return size, triggered
}

// syncBatchDrops converts the buffer's monotonic drop total into counter
// increments, exactly once per drop across concurrent callers.
func (c *Controller) syncBatchDrops() {
	total := c.buffer.DroppedBatches()
	for {
		seen := c.droppedSeen.Load()
		if total <= seen {
			return
		}
		if c.droppedSeen.CompareAndSwap(seen, total) {
			for n := seen; n < total; n++ {
				c.metrics.RecordBatchDrop()
			}
			return
		}
	}
}

// =============================================================================
// Feedback
// =============================================================================

// Feedback records ground truth against a previously served prediction.
//
// # Description
//
// The true price is attached to the logged prediction when the request id
// matches one; a miss is reported as "orphaned", not an error. The
// observation also feeds the drift buffer: the vector embedded in the
// submission when present, otherwise the vector stored with the matched
// prediction. An orphaned submission without features touches nothing.
func (c *Controller) Feedback(ctx context.Context, req datatypes.FeedbackRequest, caller Caller) (datatypes.FeedbackResponse, error) {
	if err := req.Validate(); err != nil {
		return datatypes.FeedbackResponse{}, err
	}

	rec, err := c.predLog.AttachFeedback(ctx, req.RequestID, predlog.FeedbackRecord{
		TruePrice: *req.TruePrice,
		Comments:  req.Comments,
	})
	matched := err == nil
	if err != nil && !errors.Is(err, predlog.ErrNotFound) {
		return datatypes.FeedbackResponse{}, err
	}
	c.metrics.RecordFeedback(matched)

	var vec datatypes.FeatureVector
	haveVec := false
	switch {
	case req.Features != nil:
		vec, err = req.Features.Vector()
		if err != nil {
			return datatypes.FeedbackResponse{}, err
		}
		haveVec = true
	case matched:
		vec, haveVec = rec.Features, true
	}

	size, triggered := c.buffer.Size(), false
	if haveVec {
		size, triggered = c.observe(vec)
	}

	status := "recorded"
	if !matched {
		status = "orphaned"
		c.log.Info("feedback for unknown request id", "request_id", req.RequestID)
	}
	return datatypes.FeedbackResponse{
		Status:            status,
		BufferSize:        size,
		BufferThreshold:   c.buffer.Capacity(),
		AnalysisTriggered: triggered,
	}, nil
}

// Prediction returns one logged prediction by request id. The error wraps
// predlog.ErrNotFound when the id matches nothing.
func (c *Controller) Prediction(ctx context.Context, requestID string) (predlog.Record, error) {
	return c.predLog.Get(ctx, requestID)
}

// =============================================================================
// Drift Monitoring
// =============================================================================

// DriftStatus is the monitoring snapshot served by the drift-status
// endpoint. The embedded verdict flattens into the response body.
type DriftStatus struct {
	Enabled bool `json:"enabled"`
	*drift.Verdict
	BufferSize     int    `json:"buffer_size"`
	BufferCapacity int    `json:"buffer_capacity"`
	BufferEpoch    uint64 `json:"buffer_epoch"`
	DroppedBatches uint64 `json:"dropped_batches"`
}

// DriftStatus reports the retained verdict plus live buffer condition.
// Every read is an atomic snapshot; the request path takes no locks.
func (c *Controller) DriftStatus() DriftStatus {
	return DriftStatus{
		Enabled:        !c.driftDisabled,
		Verdict:        c.monitor.Verdict(),
		BufferSize:     c.buffer.Size(),
		BufferCapacity: c.buffer.Capacity(),
		BufferEpoch:    c.buffer.Epoch(),
		DroppedBatches: c.buffer.DroppedBatches(),
	}
}

// DriftHistory returns up to n past verdicts, newest first.
func (c *Controller) DriftHistory(n int) []*drift.Verdict {
	return c.monitor.LastVerdicts(n)
}

// SubscribeVerdicts registers a live verdict feed consumer. The cancel
// func must be called when the consumer goes away.
func (c *Controller) SubscribeVerdicts() (<-chan *drift.Verdict, func()) {
	return c.monitor.Subscribe()
}

// AnalyzeNow drains the buffer and analyzes immediately.
//
// Skips (buffer below minimum, pass already running, monitoring disabled)
// return the retained verdict and an error wrapping
// drift.ErrAnalysisSkipped. Fresh verdicts reach the metrics and the sink
// through the watcher, so only skips are counted here.
func (c *Controller) AnalyzeNow(ctx context.Context, caller Caller) (drift.TriggerResult, error) {
	res, err := c.monitor.AnalyzeNow(ctx)
	switch {
	case err != nil && res.Skipped:
		c.metrics.RecordAnalysis(drift.TriggerForced, "skipped")
		c.audit.ForcedAnalysis(caller.Subject, res.Reason, caller.ClientIP)
	case err != nil:
		c.metrics.RecordAnalysis(drift.TriggerForced, "error")
		c.audit.ForcedAnalysis(caller.Subject, "error", caller.ClientIP)
	default:
		c.metrics.SetDriftBufferFill(c.buffer.Size())
		c.audit.ForcedAnalysis(caller.Subject, res.Verdict.Status, caller.ClientIP)
	}
	return res, err
}

// ReferenceStats exposes the training-set reference distribution backing
// the drift comparisons.
func (c *Controller) ReferenceStats() drift.ReferenceSnapshot {
	return c.reference.Snapshot()
}

// =============================================================================
// Model Administration
// =============================================================================

// ReloadModel swaps the slot for a role to the registry's current model
// for an alias. An empty alias re-resolves the alias the slot is already
// serving, or the role name when the slot is empty. In-flight requests
// finish on the old model.
func (c *Controller) ReloadModel(ctx context.Context, req datatypes.ReloadRequest, caller Caller) (datatypes.ReloadResponse, error) {
	req.EnsureDefaults()
	if err := req.Validate(); err != nil {
		return datatypes.ReloadResponse{}, err
	}
	alias := req.Alias
	if alias == "" {
		alias = req.Role
		if meta, ok := c.manager.Metadata(req.Role); ok && meta.Alias != "" {
			alias = meta.Alias
		}
	}

	prev, curr, err := c.manager.Reload(ctx, req.Role, alias)
	c.metrics.RecordReload(req.Role, err == nil)
	if err != nil {
		return datatypes.ReloadResponse{}, err
	}
	c.audit.ModelReload(caller.Subject, req.Role, alias, prev.Version, curr.Version, caller.ClientIP)

	return datatypes.ReloadResponse{
		Status:          "reloaded",
		Role:            req.Role,
		Alias:           curr.Alias,
		PreviousVersion: prev.Version,
		CurrentVersion:  curr.Version,
		Source:          curr.Source,
		LoadedAt:        curr.LoadedAt,
	}, nil
}

// UnloadChallenger retires the challenger slot and routes everything to
// the champion. Unloading the champion is refused by the manager.
func (c *Controller) UnloadChallenger(caller Caller) (model.Metadata, error) {
	meta, err := c.manager.Unload(datatypes.RoleChallenger)
	if err != nil {
		return model.Metadata{}, err
	}
	c.audit.ModelUnload(caller.Subject, meta.Version, caller.ClientIP)
	return meta, nil
}

// ConfigureSplit applies a partial router update: absent fields keep their
// current values.
func (c *Controller) ConfigureSplit(req datatypes.SplitConfigRequest, caller Caller) (routing.State, error) {
	if err := req.Validate(); err != nil {
		return routing.State{}, err
	}

	state := c.router.Snapshot()
	split, enabled := state.Split, state.Enabled
	if req.TrafficSplit != nil {
		split = *req.TrafficSplit
	}
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	if err := c.router.Configure(split, enabled); err != nil {
		return routing.State{}, err
	}
	c.audit.RouterChange(caller.Subject, split, enabled, caller.ClientIP)
	return c.router.Snapshot(), nil
}

// ABStatus combines router state with the metadata of both slots.
type ABStatus struct {
	Router     routing.State   `json:"router"`
	Champion   *model.Metadata `json:"champion,omitempty"`
	Challenger *model.Metadata `json:"challenger,omitempty"`
}

// ABStatus reports the router's condition and what each slot is serving.
func (c *Controller) ABStatus() ABStatus {
	st := ABStatus{Router: c.router.Snapshot()}
	if meta, ok := c.manager.Metadata(datatypes.RoleChampion); ok {
		st.Champion = &meta
	}
	if meta, ok := c.manager.Metadata(datatypes.RoleChallenger); ok {
		st.Challenger = &meta
	}
	return st
}

// ModelMetadata reports the loaded model for one role.
func (c *Controller) ModelMetadata(role string) (model.Metadata, bool) {
	return c.manager.Metadata(role)
}

// FeatureImportance returns the per-field importance of the model serving
// a role, together with that model's metadata.
func (c *Controller) FeatureImportance(role string) (map[string]float64, model.Metadata, error) {
	slot, release, err := c.manager.Acquire(role)
	if err != nil {
		return nil, model.Metadata{}, err
	}
	defer release()
	return slot.Scorer().FeatureImportance(), slot.Metadata(), nil
}

// millis converts a duration to fractional milliseconds for wire payloads.
func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1e3
}
