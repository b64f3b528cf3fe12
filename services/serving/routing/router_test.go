// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routing

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/Bellwether/services/serving/datatypes"
	"github.com/AleutianAI/Bellwether/services/serving/model"
)

// stubScorer lets tests tell which slot served by the returned price.
type stubScorer struct {
	price float64
}

func (s stubScorer) Score(_ context.Context, _ datatypes.FeatureVector) (float64, error) {
	return s.price, nil
}

func (s stubScorer) FeatureImportance() map[string]float64 {
	return map[string]float64{"MedInc": 1}
}

// stubRegistry resolves any alias to a manifest named after it.
type stubRegistry struct {
	scorers map[string]model.Scorer
}

func (r *stubRegistry) Resolve(_ context.Context, alias string) (model.Manifest, error) {
	if _, ok := r.scorers[alias]; !ok {
		return model.Manifest{}, model.ErrUnavailable
	}
	return model.Manifest{Name: "california-housing", Version: alias, Artifact: "model.yaml"}, nil
}

func (r *stubRegistry) Open(_ context.Context, m model.Manifest) (model.Scorer, error) {
	s, ok := r.scorers[m.Version]
	if !ok {
		return nil, model.ErrUnavailable
	}
	return s, nil
}

// newTestManager loads a champion, and optionally a challenger, from stubs.
func newTestManager(t *testing.T, withChallenger bool) *model.Manager {
	t.Helper()

	reg := &stubRegistry{scorers: map[string]model.Scorer{
		"1.0.0": stubScorer{price: 1.0},
		"2.0.0": stubScorer{price: 2.0},
	}}
	m := model.NewManager(reg, nil)

	_, err := m.LoadInitial(context.Background(), datatypes.RoleChampion, "1.0.0")
	require.NoError(t, err)
	if withChallenger {
		_, err := m.LoadInitial(context.Background(), datatypes.RoleChallenger, "2.0.0")
		require.NoError(t, err)
	}
	return m
}

// routeAll sends n distinct request ids through the router and counts how
// many land on each role.
func routeAll(t *testing.T, r *Router, n int) (champion, challenger int) {
	t.Helper()

	for i := 0; i < n; i++ {
		d, _, release, err := r.Route(fmt.Sprintf("req-%04d", i))
		require.NoError(t, err)
		release()
		switch d.Role {
		case datatypes.RoleChampion:
			champion++
		case datatypes.RoleChallenger:
			challenger++
		default:
			t.Fatalf("unknown role %q", d.Role)
		}
	}
	return champion, challenger
}

// =============================================================================
// Construction and Configuration
// =============================================================================

func TestNewRouter_RejectsBadSplit(t *testing.T) {
	m := newTestManager(t, false)

	for _, split := range []float64{-0.1, 1.1, 2} {
		_, err := NewRouter(m, split, true, nil)
		require.Error(t, err, "split %g", split)
	}
}

func TestRouter_ConfigureRejectsBadSplit(t *testing.T) {
	m := newTestManager(t, false)
	r, err := NewRouter(m, 0.5, true, nil)
	require.NoError(t, err)

	require.Error(t, r.Configure(-0.5, true))
	require.Error(t, r.Configure(1.5, true))

	// Failed reconfiguration leaves the previous settings in place.
	state := r.Snapshot()
	assert.Equal(t, 0.5, state.Split)
	assert.True(t, state.Enabled)
}

// =============================================================================
// Split Boundaries
// =============================================================================

func TestRouter_SplitZeroAlwaysChampion(t *testing.T) {
	m := newTestManager(t, true)
	r, err := NewRouter(m, 0, true, nil)
	require.NoError(t, err)

	champion, challenger := routeAll(t, r, 1000)
	assert.Equal(t, 1000, champion)
	assert.Zero(t, challenger)
}

func TestRouter_SplitOneAlwaysChallenger(t *testing.T) {
	m := newTestManager(t, true)
	r, err := NewRouter(m, 1, true, nil)
	require.NoError(t, err)

	champion, challenger := routeAll(t, r, 1000)
	assert.Zero(t, champion)
	assert.Equal(t, 1000, challenger)
}

func TestRouter_SplitHalfHitsBothSides(t *testing.T) {
	m := newTestManager(t, true)
	r, err := NewRouter(m, 0.5, true, nil)
	require.NoError(t, err)

	champion, challenger := routeAll(t, r, 1000)
	assert.Equal(t, 1000, champion+challenger)
	assert.Greater(t, challenger, 300, "half split should route a fair share to the challenger")
	assert.Greater(t, champion, 300, "half split should route a fair share to the champion")
}

// =============================================================================
// Fail-Safe Behavior
// =============================================================================

func TestRouter_NoChallengerAlwaysChampion(t *testing.T) {
	m := newTestManager(t, false)
	r, err := NewRouter(m, 1, true, nil)
	require.NoError(t, err)

	champion, challenger := routeAll(t, r, 200)
	assert.Equal(t, 200, champion)
	assert.Zero(t, challenger, "missing challenger overrides any split")
}

func TestRouter_DisabledAlwaysChampion(t *testing.T) {
	m := newTestManager(t, true)
	r, err := NewRouter(m, 1, false, nil)
	require.NoError(t, err)

	champion, challenger := routeAll(t, r, 200)
	assert.Equal(t, 200, champion)
	assert.Zero(t, challenger)
}

func TestRouter_ChampionMissingIsAnError(t *testing.T) {
	reg := &stubRegistry{scorers: map[string]model.Scorer{}}
	m := model.NewManager(reg, nil)
	r, err := NewRouter(m, 0, true, nil)
	require.NoError(t, err)

	_, _, _, err = r.Route("req-1")
	require.ErrorIs(t, err, model.ErrUnavailable)
}

func TestRouter_UnloadedChallengerFallsBack(t *testing.T) {
	m := newTestManager(t, true)
	r, err := NewRouter(m, 1, true, nil)
	require.NoError(t, err)

	d, _, release, err := r.Route("req-1")
	require.NoError(t, err)
	release()
	require.Equal(t, datatypes.RoleChallenger, d.Role)

	_, err = m.Unload(datatypes.RoleChallenger)
	require.NoError(t, err)

	d, _, release, err = r.Route("req-1")
	require.NoError(t, err)
	release()
	assert.Equal(t, datatypes.RoleChampion, d.Role, "same id reroutes to champion after unload")
}

// =============================================================================
// Determinism
// =============================================================================

func TestRouter_DecisionIsDeterministicPerID(t *testing.T) {
	m := newTestManager(t, true)
	r, err := NewRouter(m, 0.5, true, nil)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("req-%04d", i)

		first, _, release, err := r.Route(id)
		require.NoError(t, err)
		release()

		for repeat := 0; repeat < 5; repeat++ {
			d, _, release, err := r.Route(id)
			require.NoError(t, err)
			release()
			assert.Equal(t, first.Role, d.Role, "id %s flapped between roles", id)
		}
	}
}

func TestHashFraction_RangeAndDeterminism(t *testing.T) {
	for i := 0; i < 1000; i++ {
		id := fmt.Sprintf("req-%04d", i)
		f := hashFraction(id)
		require.GreaterOrEqual(t, f, 0.0)
		require.Less(t, f, 1.0)
		require.Equal(t, f, hashFraction(id))
	}
}

// =============================================================================
// Decision Metadata and State
// =============================================================================

func TestRouter_DecisionCarriesSlotIdentity(t *testing.T) {
	m := newTestManager(t, true)
	r, err := NewRouter(m, 1, true, nil)
	require.NoError(t, err)

	d, slot, release, err := r.Route("req-42")
	require.NoError(t, err)
	defer release()

	assert.Equal(t, datatypes.RoleChallenger, d.Role)
	assert.Equal(t, "2.0.0", d.Version)
	assert.Equal(t, "2.0.0", d.Alias)
	assert.Equal(t, "req-42", d.RequestID)

	price, err := slot.Scorer().Score(context.Background(), datatypes.FeatureVector{})
	require.NoError(t, err)
	assert.Equal(t, 2.0, price, "decision names the slot that actually scores")
}

func TestRouter_SnapshotStateTransitions(t *testing.T) {
	m := newTestManager(t, true)
	r, err := NewRouter(m, 0, true, nil)
	require.NoError(t, err)

	state := r.Snapshot()
	assert.False(t, state.Active, "zero split is Disabled even with a challenger")
	assert.True(t, state.ChallengerLoaded)

	require.NoError(t, r.Configure(0.25, true))
	state = r.Snapshot()
	assert.True(t, state.Active)
	assert.Equal(t, 0.25, state.Split)

	require.NoError(t, r.Configure(0.25, false))
	assert.False(t, r.Snapshot().Active, "disable flag wins over split")

	require.NoError(t, r.Configure(0.25, true))
	_, err = m.Unload(datatypes.RoleChallenger)
	require.NoError(t, err)
	state = r.Snapshot()
	assert.False(t, state.Active, "unloading the challenger deactivates the split")
	assert.False(t, state.ChallengerLoaded)
}
