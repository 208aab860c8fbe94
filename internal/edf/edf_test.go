// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package edf_test

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/edf"
)

func tempFile(t *testing.T, name string) *os.File {
	t.Helper()
	f, err := os.OpenFile(filepath.Join(t.TempDir(), name), os.O_RDWR|os.O_CREATE, 0o644)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, f.Close())
	})
	return f
}

func TestWriterRoundTrip(t *testing.T) {
	f := tempFile(t, "roundtrip.edf")
	start := time.Date(2017, 11, 2, 0, 0, 0, 0, time.UTC)

	ew, err := edf.Create(f, edf.Header{
		PatientID:      "ANM371470",
		RecordingID:    "session 0",
		StartTime:      start,
		RecordDuration: 0.25,
		Signals: []edf.Signal{
			{Label: "a", PhysicalDimension: "uV", PhysicalMin: -500, PhysicalMax: 500, SamplesPerRecord: 4},
			{Label: "b", PhysicalDimension: "uV", PhysicalMin: 0, PhysicalMax: 10, SamplesPerRecord: 2},
		},
	})
	require.NoError(t, err)

	require.NoError(t, ew.WriteRecord([][]float64{{-500, -250, 0, 500}, {1, 2}}))
	require.NoError(t, ew.WriteRecord([][]float64{{100, 200, 300, 400}, {9, math.NaN()}}))
	require.NoError(t, ew.Close())

	er, err := edf.Open(f)
	require.NoError(t, err)

	hdr := er.Header()
	assert.Equal(t, edf.Version0, hdr.Version)
	assert.Equal(t, "ANM371470", hdr.PatientID)
	assert.Equal(t, 2, hdr.Records)
	assert.InDelta(t, 0.25, hdr.RecordDuration, 1e-12)
	assert.True(t, start.Equal(hdr.StartTime))
	require.Len(t, hdr.Signals, 2)
	assert.Equal(t, "b", hdr.Signals[1].Label)
	assert.Equal(t, 2, hdr.Signals[1].SamplesPerRecord)

	a, err := er.Samples(0)
	require.NoError(t, err)
	want := []float64{-500, -250, 0, 500, 100, 200, 300, 400}
	require.Len(t, a, len(want))
	for i := range want {
		assert.InDelta(t, want[i], a[i], 0.02, "sample %d", i)
	}

	rec, err := er.ReadRecord(1)
	require.NoError(t, err)
	assert.InDelta(t, 9, rec[1][0], 1e-3)
	// NaN is stored at the bottom of the range.
	assert.InDelta(t, 0, rec[1][1], 1e-9)

	_, err = er.ReadRecord(2)
	require.Error(t, err)
}

func TestWriterRejectsBadRecords(t *testing.T) {
	f := tempFile(t, "bad.edf")

	_, err := edf.Create(f, edf.Header{RecordDuration: 1})
	require.Error(t, err)

	_, err = edf.Create(f, edf.Header{
		RecordDuration: 1,
		Signals:        []edf.Signal{{Label: "flat", PhysicalMin: 1, PhysicalMax: 1, SamplesPerRecord: 1}},
	})
	require.Error(t, err)

	_, err = edf.Create(f, edf.Header{
		RecordDuration: 1,
		Signals:        []edf.Signal{{Label: "huge", PhysicalMax: 1, SamplesPerRecord: edf.MaxRecordBytes}},
	})
	require.Error(t, err)

	ew, err := edf.Create(f, edf.Header{
		RecordDuration: 1,
		Signals:        []edf.Signal{{Label: "x", PhysicalMax: 1, SamplesPerRecord: 2}},
	})
	require.NoError(t, err)
	require.Error(t, ew.WriteRecord([][]float64{{0.5}}))
	require.Error(t, ew.WriteRecord([][]float64{{0.5, 0.5}, {0.5, 0.5}}))
}

func TestWritePSTH(t *testing.T) {
	f := tempFile(t, "psth.edf")

	set := edf.PSTHSet{
		PatientID:   "anm1",
		RecordingID: "anm1_2017-11-02_0",
		StartTime:   time.Date(2017, 11, 2, 0, 0, 0, 0, time.UTC),
		BinWidth:    0.1,
		Alignment:   "cue_start",
		UnitIDs:     []int{3, 5},
		TrialIDs:    []int{0, 1, 2},
		Rates: [][][]float64{
			{{0, 10, 20}, {5, 5, 5}, {1, 2, 3}},
			{{40, 30, 20}, nil, {0, 0, 12.5}},
		},
	}
	hdr, err := edf.WritePSTH(f, set)
	require.NoError(t, err)
	assert.Equal(t, 3, hdr.Records)
	assert.InDelta(t, 0.3, hdr.RecordDuration, 1e-9)

	er, err := edf.Open(f)
	require.NoError(t, err)
	got := er.Header()
	require.Len(t, got.Signals, 2)
	assert.Equal(t, "unit 3", got.Signals[0].Label)
	assert.Equal(t, "unit 5", got.Signals[1].Label)
	assert.Equal(t, "spk/s", got.Signals[0].PhysicalDimension)
	assert.Equal(t, 3, got.Signals[0].SamplesPerRecord)
	assert.InDelta(t, 0.3, got.RecordDuration, 1e-9)

	unit3, err := er.Samples(0)
	require.NoError(t, err)
	want := []float64{0, 10, 20, 5, 5, 5, 1, 2, 3}
	for i := range want {
		assert.InDelta(t, want[i], unit3[i], 1e-2, "sample %d", i)
	}

	trial2, err := er.ReadRecord(2)
	require.NoError(t, err)
	assert.InDelta(t, 12.5, trial2[1][2], 1e-2)
}

func TestWritePSTHShapeMismatch(t *testing.T) {
	f := tempFile(t, "mismatch.edf")

	_, err := edf.WritePSTH(f, edf.PSTHSet{
		BinWidth: 0.1,
		UnitIDs:  []int{1},
		TrialIDs: []int{0, 1},
		Rates:    [][][]float64{{{1, 2}}},
	})
	require.Error(t, err)

	_, err = edf.WritePSTH(f, edf.PSTHSet{
		BinWidth: 0.1,
		UnitIDs:  []int{1},
		TrialIDs: []int{0, 1},
		Rates:    [][][]float64{{{1, 2}, {1, 2, 3}}},
	})
	require.Error(t, err)
}
