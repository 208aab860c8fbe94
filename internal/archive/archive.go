// Package archive decodes the processed-data MAT archives of the ALM
// projection-neuron dataset into typed per-session records.
package archive

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Archive holds every session stored in one archive file.
type Archive struct {
	// Name is the recording name: the file base name without ".mat".
	Name string
	// PSTHTime is the time axis shared by every PSTH in the archive (s).
	PSTHTime []float64
	Sessions []Session
}

type Session struct {
	// Index is the position of the session in the archive; it becomes the
	// session id.
	Index          int
	SubjectID      string
	Date           time.Time
	Probe          Probe
	Location       Location
	InsertionDepth float64
	Trials         []Trial
	Units          []Unit
	LickLeft       []float64
	LickRight      []float64
	// PSTH is indexed [unit][trial][time bin], units in Units order.
	PSTH [][][]float64
}

type Probe struct {
	Name   string
	Type   string
	Shanks []Shank
}

type Shank struct {
	ID       int
	Channels []int
}

// ChannelCounts is the number of recording sites over all shanks.
func (p Probe) ChannelCounts() int {
	n := 0
	for _, s := range p.Shanks {
		n += len(s.Channels)
	}
	return n
}

type Location struct {
	Region     string
	Hemisphere string
}

// Trial times are in seconds; StartTime is session-relative, the event times
// are relative to the trial start.
type Trial struct {
	ID          int
	StartTime   float64
	StimPresent int
	Good        int
	Type        string
	Response    string
	PoleIn      float64
	PoleOut     float64
	CueStart    float64
}

type Unit struct {
	ID         int
	Depth      float64
	Channel    int
	Quality    string
	SpikeTimes []float64
}

// FormatError reports a field of an archive that does not have the
// expected shape or content.
type FormatError struct {
	Archive string
	Session int
	Field   string
	Err     error
}

func (e *FormatError) Error() string {
	if e.Session < 0 {
		return fmt.Sprintf("archive %s: %s: %v", e.Archive, e.Field, e.Err)
	}
	return fmt.Sprintf("archive %s: session %d: %s: %v", e.Archive, e.Session, e.Field, e.Err)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

var hemispheres = map[string]string{
	"L": "left",
	"R": "right",
	"B": "bilateral",
}

var dateLayouts = []string{"20060102", "060102", "2006-01-02", "01022006"}

// ParseDate accepts the date spellings used in recording file names.
func ParseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if len(layout) != len(s) {
			continue
		}
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

var timeUnits = map[string]float64{
	"nanosecond":  1e-9,
	"microsecond": 1e-6,
	"millisecond": 1e-3,
	"second":      1,
	"minute":      60,
	"hour":        3600,
	"day":         86400,
}

// TimeUnitFactor converts a unit name such as "Millisecond" or "seconds"
// into seconds per unit.
func TimeUnitFactor(name string) (float64, error) {
	key := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(name)), "s")
	if f, ok := timeUnits[key]; ok {
		return f, nil
	}
	return 0, fmt.Errorf("unknown time unit %q", name)
}

// recordingName strips directory and extension from an archive path.
func recordingName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".mat")
}
