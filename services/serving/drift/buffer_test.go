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
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/Bellwether/services/serving/datatypes"
)

// seqVector returns a vector whose MedInc encodes a sequence number, so
// tests can verify arrival order across a swap.
func seqVector(seq int) datatypes.FeatureVector {
	return datatypes.NewFeatureVector([datatypes.FeatureCount]float64{
		float64(seq), 41, 6.9, 1.0, 322, 2.5, 37.88, -122.23,
	})
}

func TestRollingBuffer_AccumulatesBelowCapacity(t *testing.T) {
	b := NewRollingBuffer(100)

	for i := 0; i < 99; i++ {
		size, triggered := b.Append(seqVector(i))
		require.False(t, triggered, "append %d must not trigger below capacity", i)
		require.Equal(t, i+1, size)
	}

	assert.Equal(t, 99, b.Size())
	assert.Equal(t, uint64(0), b.Epoch())
	select {
	case batch := <-b.Batches():
		t.Fatalf("unexpected batch scheduled: %d vectors", len(batch.Vectors))
	default:
	}
}

func TestRollingBuffer_TriggersExactlyAtCapacity(t *testing.T) {
	b := NewRollingBuffer(10)

	for i := 0; i < 9; i++ {
		b.Append(seqVector(i))
	}
	size, triggered := b.Append(seqVector(9))

	require.True(t, triggered)
	assert.Equal(t, 0, size, "swap resets the observable size")
	assert.Equal(t, 0, b.Size())
	assert.Equal(t, uint64(1), b.Epoch())

	batch := <-b.Batches()
	require.Len(t, batch.Vectors, 10)
	assert.Equal(t, uint64(1), batch.Epoch)
	for i, v := range batch.Vectors {
		assert.Equal(t, float64(i), v.Value(0), "arrival order preserved")
	}
}

func TestRollingBuffer_AppendAfterTriggerStartsNextEpoch(t *testing.T) {
	b := NewRollingBuffer(5)

	for i := 0; i < 5; i++ {
		b.Append(seqVector(i))
	}
	// The batch for epoch 1 is swapped out; this append belongs to epoch 2.
	size, triggered := b.Append(seqVector(5))
	require.False(t, triggered)
	require.Equal(t, 1, size)

	first := <-b.Batches()
	require.Len(t, first.Vectors, 5)
	assert.Equal(t, float64(4), first.Vectors[4].Value(0))

	for i := 6; i < 10; i++ {
		b.Append(seqVector(i))
	}
	second := <-b.Batches()
	require.Len(t, second.Vectors, 5)
	assert.Equal(t, uint64(2), second.Epoch)
	assert.Equal(t, float64(5), second.Vectors[0].Value(0),
		"vector appended mid-epoch lands at the head of the next batch")
}

func TestRollingBuffer_DropsBatchesWhenQueueFull(t *testing.T) {
	b := NewRollingBuffer(2)

	// Queue depth is 2; the third full batch has nowhere to go.
	for i := 0; i < 6; i++ {
		b.Append(seqVector(i))
	}

	assert.Equal(t, uint64(1), b.DroppedBatches())
	assert.Equal(t, uint64(3), b.Epoch(), "epoch advances even for dropped batches")
	assert.Equal(t, 0, b.Size(), "serving path never stalls on a full queue")
}

func TestRollingBuffer_Drain(t *testing.T) {
	b := NewRollingBuffer(100)
	for i := 0; i < 7; i++ {
		b.Append(seqVector(i))
	}

	batch := b.Drain()
	require.Len(t, batch.Vectors, 7)
	assert.Equal(t, uint64(1), batch.Epoch)
	assert.Equal(t, 0, b.Size())

	// The racing loser observes an empty buffer and is a no-op.
	empty := b.Drain()
	assert.Empty(t, empty.Vectors)
	assert.Equal(t, uint64(1), empty.Epoch, "empty drain does not advance the epoch")
}

func TestRollingBuffer_DrainMin(t *testing.T) {
	b := NewRollingBuffer(100)
	for i := 0; i < 5; i++ {
		b.Append(seqVector(i))
	}

	_, ok := b.DrainMin(10)
	require.False(t, ok)
	assert.Equal(t, 5, b.Size(), "a refused drain leaves the buffer intact")

	batch, ok := b.DrainMin(5)
	require.True(t, ok)
	assert.Len(t, batch.Vectors, 5)
	assert.Equal(t, 0, b.Size())
}

func TestRollingBuffer_ConcurrentAppendsConserveVectors(t *testing.T) {
	const (
		capacity  = 100
		writers   = 8
		perWriter = 250
	)
	b := NewRollingBuffer(capacity)

	var consumed sync.WaitGroup
	consumed.Add(1)
	received := 0
	done := make(chan struct{})
	go func() {
		defer consumed.Done()
		for {
			select {
			case batch := <-b.Batches():
				received += len(batch.Vectors)
				if len(batch.Vectors) > capacity {
					t.Errorf("batch of %d exceeds capacity %d", len(batch.Vectors), capacity)
				}
			case <-done:
				// Drain anything scheduled after the writers finished.
				for {
					select {
					case batch := <-b.Batches():
						received += len(batch.Vectors)
					default:
						return
					}
				}
			}
		}
	}()

	var writersWG sync.WaitGroup
	for w := 0; w < writers; w++ {
		writersWG.Add(1)
		go func(w int) {
			defer writersWG.Done()
			for i := 0; i < perWriter; i++ {
				b.Append(seqVector(w*perWriter + i))
				if size := b.Size(); size > capacity {
					t.Errorf("observed size %d above capacity %d", size, capacity)
				}
			}
		}(w)
	}
	writersWG.Wait()
	close(done)
	consumed.Wait()

	total := received + b.Size() + int(b.DroppedBatches())*capacity
	assert.Equal(t, writers*perWriter, total,
		"every appended vector is consumed, buffered, or in a counted dropped batch")
}

func TestRollingBuffer_CloseStopsScheduling(t *testing.T) {
	b := NewRollingBuffer(2)
	b.Close()

	// Appends after Close never panic; full batches are counted dropped.
	b.Append(seqVector(0))
	_, triggered := b.Append(seqVector(1))
	require.True(t, triggered)
	assert.Equal(t, uint64(1), b.DroppedBatches())

	_, ok := <-b.Batches()
	assert.False(t, ok, "batch queue is closed")
}

func TestRollingBuffer_DefaultCapacity(t *testing.T) {
	b := NewRollingBuffer(0)
	assert.Equal(t, DefaultBufferThreshold, b.Capacity())
}
