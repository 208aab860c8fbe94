// Package segment aligns session-long spike trains to trial events.
package segment

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/models"
)

// Segment returns the spikes within [event-pre, event+post], relative to
// event, in input order. The result is never nil.
func Segment(spikes []float64, event, pre, post float64) []float64 {
	return window(spikes, event-pre, event+post, event)
}

// Window returns the spikes within [lo, hi] relative to lo+pre.
func Window(spikes []float64, lo, hi, pre float64) []float64 {
	return window(spikes, lo, hi, lo+pre)
}

func window(spikes []float64, lo, hi, origin float64) []float64 {
	out := []float64{}
	for _, s := range spikes {
		if s >= lo && s <= hi {
			out = append(out, s-origin)
		}
	}
	return out
}

// EventChoiceError means a trial has no usable time, or more than one,
// for the alignment event.
type EventChoiceError struct {
	TrialID int
	Event   string
	Matches int
}

func (e *EventChoiceError) Error() string {
	if e.Matches == 0 {
		return fmt.Sprintf("trial %d: no time for event %q", e.TrialID, e.Event)
	}
	return fmt.Sprintf("trial %d: %d times for event %q", e.TrialID, e.Matches, e.Event)
}

// TrialEvents is one trial with its event rows. Event rows are relative to
// the trial start.
type TrialEvents struct {
	TrialID int
	Start   float64
	Stop    *float64
	Events  []models.EventTime
}

// Resolve returns the session-relative time of event in this trial.
func (t TrialEvents) Resolve(event string) (float64, error) {
	switch event {
	case models.EventTrialStart:
		return t.Start, nil
	case models.EventTrialStop:
		if t.Stop == nil {
			return 0, &EventChoiceError{TrialID: t.TrialID, Event: event}
		}
		return *t.Stop, nil
	}

	var (
		found   float64
		matches int
	)
	for _, e := range t.Events {
		if e.TrialEvent == event {
			found = e.EventTime
			matches++
		}
	}
	if matches != 1 {
		return 0, &EventChoiceError{TrialID: t.TrialID, Event: event, Matches: matches}
	}
	return t.Start + found, nil
}

// GroupEvents builds TrialEvents for every trial, attaching event rows by
// trial id.
func GroupEvents(trials []models.Trial, events []models.EventTime) []TrialEvents {
	byTrial := map[int][]models.EventTime{}
	for _, e := range events {
		byTrial[e.TrialID] = append(byTrial[e.TrialID], e)
	}
	out := make([]TrialEvents, len(trials))
	for i, tr := range trials {
		out[i] = TrialEvents{
			TrialID: tr.TrialID,
			Start:   tr.StartTime,
			Stop:    tr.StopTime,
			Events:  byTrial[tr.TrialID],
		}
	}
	return out
}

// ComputePSTH bins event-aligned spikes into consecutive bins of width bin
// starting at -pre and covering post. It returns the firing rate (spikes/s)
// of each bin and the bin centers.
func ComputePSTH(segmented []float64, pre, post, bin float64) (rate, centers []float64, err error) {
	if bin <= 0 {
		return nil, nil, fmt.Errorf("bin size must be positive, got %v", bin)
	}
	if pre+post <= 0 {
		return nil, nil, fmt.Errorf("empty window [-%v, %v]", pre, post)
	}

	n := int(math.Ceil((pre+post)/bin - 1e-9))
	if n < 1 {
		n = 1
	}
	edges := floats.Span(make([]float64, n+1), -pre, -pre+float64(n)*bin)

	centers = make([]float64, n)
	for i := range centers {
		centers[i] = (edges[i] + edges[i+1]) / 2
	}

	// The window is closed at both ends; widen the top edge so a spike
	// exactly at +post lands in the last bin.
	dividers := make([]float64, len(edges))
	copy(dividers, edges)
	dividers[n] = math.Nextafter(dividers[n], math.Inf(1))

	x := make([]float64, 0, len(segmented))
	for _, s := range segmented {
		if s >= dividers[0] && s < dividers[n] {
			x = append(x, s)
		}
	}
	sort.Float64s(x)

	counts := make([]float64, n)
	if len(x) > 0 {
		counts = stat.Histogram(counts, dividers, x, nil)
	}
	floats.Scale(1/bin, counts)
	return counts, centers, nil
}
