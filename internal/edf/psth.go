package edf

import (
	"errors"
	"fmt"
	"io"
	"math"
	"time"
)

// PSTHSet is a session's trial-aligned firing rates, laid out as
// Rates[unit][trial][bin]. Missing trials hold NaN.
type PSTHSet struct {
	PatientID   string
	RecordingID string
	StartTime   time.Time
	// BinWidth is the PSTH bin width in seconds.
	BinWidth float64
	// Alignment names the event the bins are relative to.
	Alignment string
	UnitIDs   []int
	TrialIDs  []int
	Rates     [][][]float64
}

func (p PSTHSet) bins() int {
	for _, unit := range p.Rates {
		for _, trial := range unit {
			if len(trial) > 0 {
				return len(trial)
			}
		}
	}
	return 0
}

// WritePSTH writes one signal per unit and one data record per trial, in
// TrialIDs order. The record duration is the span of one PSTH.
func WritePSTH(w io.WriteSeeker, set PSTHSet) (Header, error) {
	if len(set.UnitIDs) == 0 || len(set.TrialIDs) == 0 {
		return Header{}, errors.New("edf: empty psth set")
	}
	if len(set.Rates) != len(set.UnitIDs) {
		return Header{}, fmt.Errorf("edf: %d units but %d rate rows", len(set.UnitIDs), len(set.Rates))
	}
	if set.BinWidth <= 0 {
		return Header{}, fmt.Errorf("edf: bin width must be positive, got %g", set.BinWidth)
	}
	bins := set.bins()
	if bins == 0 {
		return Header{}, errors.New("edf: psth set has no bins")
	}

	signals := make([]Signal, len(set.UnitIDs))
	for u, id := range set.UnitIDs {
		if len(set.Rates[u]) != len(set.TrialIDs) {
			return Header{}, fmt.Errorf("edf: unit %d: %d trials, want %d", id, len(set.Rates[u]), len(set.TrialIDs))
		}
		lo, hi := rateRange(set.Rates[u])
		signals[u] = Signal{
			Label:             fmt.Sprintf("unit %d", id),
			TransducerType:    "trial-aligned PSTH",
			PhysicalDimension: "spk/s",
			PhysicalMin:       lo,
			PhysicalMax:       hi,
			DigitalMin:        DigitalMin,
			DigitalMax:        DigitalMax,
			Prefiltering:      fmt.Sprintf("bin:%gs align:%s", set.BinWidth, set.Alignment),
			SamplesPerRecord:  bins,
		}
	}

	ew, err := Create(w, Header{
		Version:        Version0,
		PatientID:      set.PatientID,
		RecordingID:    set.RecordingID,
		StartTime:      set.StartTime,
		RecordDuration: float64(bins) * set.BinWidth,
		Signals:        signals,
	})
	if err != nil {
		return Header{}, err
	}

	record := make([][]float64, len(set.UnitIDs))
	for n := range set.TrialIDs {
		for u := range set.UnitIDs {
			row := set.Rates[u][n]
			switch len(row) {
			case bins:
				record[u] = row
			case 0:
				record[u] = nanRow(bins)
			default:
				return Header{}, fmt.Errorf("edf: unit %d trial %d: %d bins, want %d", set.UnitIDs[u], set.TrialIDs[n], len(row), bins)
			}
		}
		if err := ew.WriteRecord(record); err != nil {
			return Header{}, fmt.Errorf("trial %d: %w", set.TrialIDs[n], err)
		}
	}
	if err := ew.Close(); err != nil {
		return Header{}, err
	}
	return ew.Header(), nil
}

// rateRange is widened to two decimals so header rounding never clips data.
func rateRange(trials [][]float64) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, row := range trials {
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	if math.IsInf(lo, 1) {
		return 0, 1
	}
	lo = math.Floor(lo*100) / 100
	hi = math.Ceil(hi*100) / 100
	if hi <= lo {
		hi = lo + 1
	}
	return lo, hi
}

func nanRow(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
