// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package predlog persists one record per served prediction so that
// ground-truth feedback arriving later can be reconciled against what the
// model actually saw and said.
//
// Writes are asynchronous: the serving path enqueues and returns, a single
// writer goroutine drains the queue into BadgerDB. A full queue drops the
// record rather than stalling a prediction.
package predlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/Bellwether/services/serving/datatypes"
	"github.com/AleutianAI/Bellwether/services/serving/observability"
	"github.com/AleutianAI/Bellwether/services/serving/storage/badger"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrNotFound indicates no record exists for the request id.
	ErrNotFound = errors.New("prediction not found")

	// ErrClosed indicates the store has been closed.
	ErrClosed = errors.New("prediction log closed")
)

// =============================================================================
// Records
// =============================================================================

// FeedbackRecord is ground truth attached to a prediction after the fact.
type FeedbackRecord struct {
	TruePrice  float64   `json:"true_price"`
	Comments   string    `json:"comments,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// Record is one served prediction as stored in the log.
//
// The feature vector is kept so that feedback submissions without their own
// vector can still feed the drift buffer with the exact inputs the model
// scored.
type Record struct {
	RequestID    string                  `json:"request_id"`
	Role         string                  `json:"role"`
	Alias        string                  `json:"alias"`
	ModelVersion string                  `json:"model_version"`
	Price        float64                 `json:"price"`
	LatencyMS    float64                 `json:"latency_ms"`
	RangeFlags   []string                `json:"range_flags,omitempty"`
	Features     datatypes.FeatureVector `json:"features"`
	CreatedAt    time.Time               `json:"created_at"`
	Feedback     *FeedbackRecord         `json:"feedback,omitempty"`
}

// =============================================================================
// Store
// =============================================================================

// Config holds configuration for the prediction log.
type Config struct {
	// Path is the directory for the BadgerDB files.
	// Required unless InMemory is true.
	Path string

	// InMemory runs the log without disk persistence. Useful for testing.
	InMemory bool

	// QueueSize bounds the asynchronous write queue. Defaults to 256.
	QueueSize int

	// Retention expires records after this duration. 0 keeps them forever.
	Retention time.Duration

	// Logger for store events. Defaults to slog.Default().
	Logger *slog.Logger

	// Metrics records write outcomes. Optional.
	Metrics *observability.ServingMetrics
}

// queued is one unit of work for the writer goroutine. A non-nil ack marks
// a flush barrier instead of a record.
type queued struct {
	rec Record
	ack chan struct{}
}

// Store is the badger-backed prediction log.
//
// # Description
//
// Append enqueues a record and returns immediately; a single writer
// goroutine performs the actual BadgerDB writes. Get and AttachFeedback
// operate synchronously against the database. Records carry the configured
// retention as a TTL.
//
// # Thread Safety
//
// Safe for concurrent use. The write queue decouples request handling from
// storage latency; the mutex only guards the open/closed transition.
type Store struct {
	db      *badger.DB
	log     *slog.Logger
	metrics *observability.ServingMetrics
	ttl     time.Duration

	queue   chan queued
	done    chan struct{}
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
}

// Open opens the prediction log and starts its writer goroutine.
func Open(cfg Config) (*Store, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "prediction_log")

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}

	dbCfg := badger.DefaultConfig()
	if cfg.InMemory {
		dbCfg = badger.InMemoryConfig()
	}
	dbCfg.Path = cfg.Path
	dbCfg.Logger = cfg.Logger

	db, err := badger.OpenDB(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open prediction log: %w", err)
	}

	s := &Store{
		db:      db,
		log:     log,
		metrics: cfg.Metrics,
		ttl:     cfg.Retention,
		queue:   make(chan queued, queueSize),
		done:    make(chan struct{}),
	}
	go s.writeLoop()

	log.Info("prediction log opened",
		"path", cfg.Path,
		"in_memory", cfg.InMemory,
		"queue_size", queueSize,
		"retention", cfg.Retention.String(),
	)
	return s, nil
}

// Append enqueues a record for asynchronous persistence. Never blocks: if
// the queue is full the record is dropped and counted.
func (s *Store) Append(rec Record) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.drop(rec.RequestID, "store closed")
		return
	}

	select {
	case s.queue <- queued{rec: rec}:
	default:
		s.drop(rec.RequestID, "queue full")
	}
}

// Flush blocks until every record enqueued before the call has been
// written. Used by shutdown and tests.
func (s *Store) Flush() {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return
	}
	ack := make(chan struct{})
	s.queue <- queued{ack: ack}
	s.mu.RUnlock()
	<-ack
}

// Get returns the record for a request id.
func (s *Store) Get(ctx context.Context, requestID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Record{}, ErrClosed
	}

	var rec Record
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		item, err := txn.Get(recordKey(requestID))
		if errors.Is(err, dgbadger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, requestID)
		}
		if err != nil {
			return fmt.Errorf("read prediction record: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// AttachFeedback stores ground truth against an existing record and
// returns the updated record. Returns ErrNotFound when the prediction was
// never logged or has already expired.
func (s *Store) AttachFeedback(ctx context.Context, requestID string, fb FeedbackRecord) (Record, error) {
	if fb.ReceivedAt.IsZero() {
		fb.ReceivedAt = time.Now().UTC()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Record{}, ErrClosed
	}

	var rec Record
	err := s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		item, err := txn.Get(recordKey(requestID))
		if errors.Is(err, dgbadger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, requestID)
		}
		if err != nil {
			return fmt.Errorf("read prediction record: %w", err)
		}
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		}); err != nil {
			return fmt.Errorf("decode prediction record: %w", err)
		}

		rec.Feedback = &fb
		return s.setRecord(txn, rec)
	})
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Dropped returns how many records were discarded because the queue was
// full or the store was closed.
func (s *Store) Dropped() int64 {
	return s.dropped.Load()
}

// Close drains the queue, stops the writer, and closes the database.
// Safe to call once; Append calls after Close drop silently.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.queue)
	<-s.done
	return s.db.Close()
}

// =============================================================================
// Internals
// =============================================================================

func recordKey(requestID string) []byte {
	return []byte("pred:" + requestID)
}

// writeLoop is the single writer. It exits when the queue closes.
func (s *Store) writeLoop() {
	defer close(s.done)
	for item := range s.queue {
		if item.ack != nil {
			close(item.ack)
			continue
		}
		if err := s.put(item.rec); err != nil {
			s.recordWrite(observability.LogWriteError)
			s.log.Warn("prediction log write failed",
				"request_id", item.rec.RequestID,
				"error", err,
			)
			continue
		}
		s.recordWrite(observability.LogWriteOK)
	}
}

func (s *Store) put(rec Record) error {
	return s.db.WithTxn(context.Background(), func(txn *dgbadger.Txn) error {
		return s.setRecord(txn, rec)
	})
}

func (s *Store) setRecord(txn *dgbadger.Txn, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode prediction record: %w", err)
	}
	entry := dgbadger.NewEntry(recordKey(rec.RequestID), data)
	if s.ttl > 0 {
		entry = entry.WithTTL(s.ttl)
	}
	return txn.SetEntry(entry)
}

func (s *Store) drop(requestID, reason string) {
	s.dropped.Add(1)
	s.recordWrite(observability.LogWriteDropped)
	s.log.Warn("prediction record dropped", "request_id", requestID, "reason", reason)
}

func (s *Store) recordWrite(status observability.LogWriteStatus) {
	if s.metrics != nil {
		s.metrics.RecordLogWrite(status)
	}
}
