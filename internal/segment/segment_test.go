package segment

import (
	"errors"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/models"
)

func TestSegmentBasic(t *testing.T) {
	got := Segment([]float64{0.5, 1.0, 1.9, 2.0, 3.5, 5.0, 5.01}, 2.0, 1.0, 3.0)
	assert.Equal(t, []float64{-1.0, -0.1, 0, 1.5, 3.0}, roundAll(got))
}

func TestSegmentEmptyIsNotNil(t *testing.T) {
	got := Segment([]float64{10, 20}, 0, 1, 1)
	require.NotNil(t, got)
	assert.Empty(t, got)

	got = Segment(nil, 0, 1, 1)
	require.NotNil(t, got)
	assert.Empty(t, got)
}

func TestWindowMatchesDefinition(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for iter := 0; iter < 200; iter++ {
		spikes := make([]float64, rng.Intn(50))
		for i := range spikes {
			spikes[i] = rng.Float64()*20 - 5
		}
		a := rng.Float64()*10 - 2
		pre := rng.Float64() * 3
		b := a + pre + rng.Float64()*3
		event := a + pre

		var want []float64
		for _, s := range spikes {
			if a <= s && s <= b {
				want = append(want, s-event)
			}
		}

		got := Window(spikes, a, b, pre)
		require.Len(t, got, len(want))
		for i := range want {
			assert.Equal(t, want[i], got[i])
		}
	}
}

func TestSegmentPreservesOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	spikes := make([]float64, 100)
	for i := range spikes {
		spikes[i] = rng.Float64() * 10
	}
	sort.Float64s(spikes)
	got := Segment(spikes, 5, 2, 2)
	assert.True(t, sort.Float64sAreSorted(got))
	for _, s := range got {
		assert.GreaterOrEqual(t, s, -2.0)
		assert.LessOrEqual(t, s, 2.0)
	}
}

func TestResolve(t *testing.T) {
	stop := 9.0
	tr := TrialEvents{
		TrialID: 3,
		Start:   20,
		Stop:    &stop,
		Events: []models.EventTime{
			{TrialID: 3, TrialEvent: models.EventCueStart, EventTime: 2.5},
			{TrialID: 3, TrialEvent: models.EventPoleIn, EventTime: 0.5},
			{TrialID: 3, TrialEvent: models.EventPoleIn, EventTime: 0.7},
		},
	}

	v, err := tr.Resolve(models.EventCueStart)
	require.NoError(t, err)
	assert.Equal(t, 22.5, v)

	v, err = tr.Resolve(models.EventTrialStart)
	require.NoError(t, err)
	assert.Equal(t, 20.0, v)

	v, err = tr.Resolve(models.EventTrialStop)
	require.NoError(t, err)
	assert.Equal(t, 9.0, v)

	_, err = tr.Resolve(models.EventPoleIn)
	var ce *EventChoiceError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, 2, ce.Matches)

	_, err = tr.Resolve(models.EventPoleOut)
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, 0, ce.Matches)

	tr.Stop = nil
	_, err = tr.Resolve(models.EventTrialStop)
	assert.True(t, errors.As(err, &ce))
}

func TestGroupEvents(t *testing.T) {
	trials := []models.Trial{{TrialID: 1, StartTime: 0}, {TrialID: 2, StartTime: 10}}
	events := []models.EventTime{
		{TrialID: 2, TrialEvent: models.EventCueStart, EventTime: 2},
		{TrialID: 1, TrialEvent: models.EventCueStart, EventTime: 1},
	}
	groups := GroupEvents(trials, events)
	require.Len(t, groups, 2)
	v, err := groups[1].Resolve(models.EventCueStart)
	require.NoError(t, err)
	assert.Equal(t, 12.0, v)
}

func TestComputePSTH(t *testing.T) {
	rate, centers, err := ComputePSTH([]float64{-0.5, -0.45, 0, 0.1, 1.0}, 0.5, 1.0, 0.5)
	require.NoError(t, err)
	require.Len(t, centers, 3)
	assert.InDeltaSlice(t, []float64{-0.25, 0.25, 0.75}, centers, 1e-12)
	// two spikes in the first bin, two in the second, the spike at +post in the last
	assert.InDeltaSlice(t, []float64{4, 4, 2}, rate, 1e-12)

	rate, _, err = ComputePSTH(nil, 0.5, 1.0, 0.5)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0}, rate)

	_, _, err = ComputePSTH(nil, 0.5, 1.0, 0)
	assert.Error(t, err)
}

func roundAll(values []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		if v < 0 {
			out[i] = -float64(int(-v*1e6+0.5)) / 1e6
		} else {
			out[i] = float64(int(v*1e6+0.5)) / 1e6
		}
	}
	return out
}
