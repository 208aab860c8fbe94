// Package archivetest builds small synthetic archives with the layout of
// the processed-data MAT files.
package archivetest

import (
	"fmt"

	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/matfile"
)

// Constants of every generated session. Trial-relative times are seconds,
// spike times are stored in milliseconds.
const (
	ProbeName   = "A4x8-5mm-100-200-177"
	ProbeType   = "nn_silicon_probe"
	TrialPeriod = 10.0
	PoleIn      = 0.5
	PoleOut     = 1.5
	CueStart    = 2.0
	Depth       = 812.0
)

// SpikeOffsetsMS are the cue-aligned spike times of every unit in every trial.
var SpikeOffsetsMS = []float64{-100, 250, 900}

// PSTHTime is the archive's PSTH time axis.
var PSTHTime = []float64{-0.15, -0.05, 0.05, 0.15}

type Session struct {
	Subject  string
	Date     string
	Location string
	Units    int
	Trials   int
}

// UnitID is the id encoded in unit u's key name.
func UnitID(u int) int {
	return 2*u + 3
}

// PSTHValue is bin t of unit u in trial n.
func PSTHValue(u, n, t int) float64 {
	return float64(u*100 + n*10 + t)
}

// Outcome returns the one-hot column set for trial j; trial index 2 is an
// early lick.
func Outcome(j int) int {
	return j % 6
}

func FileName(s Session) string {
	return fmt.Sprintf("ALM_%s_%s.mat", s.Subject, s.Date)
}

// Vars returns the meta, obj, tt, psth and time variables for sessions.
func Vars(sessions ...Session) []matfile.Var {
	var metas, objs []map[string]matfile.Value
	var tts, psths []matfile.Value
	for _, s := range sessions {
		meta, obj, psth := build(s)
		metas = append(metas, meta)
		objs = append(objs, obj)
		tts = append(tts, matfile.NewVector(nil))
		psths = append(psths, psth)
	}
	return []matfile.Var{
		{Name: "meta", Value: matfile.NewStruct([]string{"filename", "unitNumber", "depth", "channel"}, metas...)},
		{Name: "obj", Value: matfile.NewStruct(objFields, objs...)},
		{Name: "tt", Value: matfile.NewCell(tts...)},
		{Name: "psth", Value: matfile.NewCell(psths...)},
		{Name: "time", Value: matfile.NewVector(PSTHTime)},
	}
}

// Write writes an archive holding sessions to path.
func Write(path string, sessions ...Session) error {
	return matfile.WriteFile(path, true, Vars(sessions...)...)
}

var objFields = []string{
	"sessionMeta", "timeUnitNames", "trialTimeUnit", "trialIDs", "trialStartTimes",
	"trialTypeMat", "trialPropertiesHash", "eventSeriesHash",
}

func build(s Session) (meta, obj map[string]matfile.Value, psth matfile.Value) {
	location := s.Location
	if location == "" {
		location = "ALM_L"
	}

	ids := make([]float64, s.Trials)
	starts := make([]float64, s.Trials)
	poleIn := make([]float64, s.Trials)
	poleOut := make([]float64, s.Trials)
	cue := make([]float64, s.Trials)
	good := make([]float64, s.Trials)
	kinds := 8
	typeMat := make([]float64, kinds*s.Trials)
	lickLeft := make([]matfile.Value, s.Trials)
	lickRight := make([]matfile.Value, s.Trials)
	for j := 0; j < s.Trials; j++ {
		ids[j] = float64(j + 1)
		starts[j] = TrialPeriod * float64(j)
		poleIn[j], poleOut[j], cue[j] = PoleIn, PoleOut, CueStart
		good[j] = 1
		if j == 1 {
			good[j] = 0
		}
		typeMat[Outcome(j)+j*kinds] = 1
		if j == 2 {
			typeMat[6+j*kinds] = 1
		}
		typeMat[kinds-1+j*kinds] = float64(j % 2)
		if j%2 == 0 {
			lickLeft[j] = matfile.NewVector([]float64{2.1, 2.3})
		} else {
			lickLeft[j] = matfile.NewVector(nil)
		}
		lickRight[j] = matfile.NewVector([]float64{2.2})
	}

	props := matfile.NewCell(
		matfile.NewVector(poleIn),
		matfile.NewVector(poleOut),
		matfile.NewVector(cue),
		matfile.NewVector(good),
		matfile.NewVector(nil),
		matfile.NewCell(lickLeft...),
		matfile.NewCell(lickRight...),
	)

	names := make([]matfile.Value, s.Units)
	units := make([]map[string]matfile.Value, s.Units)
	depths := make([]float64, s.Units)
	channels := make([]float64, s.Units)
	for u := 0; u < s.Units; u++ {
		names[u] = matfile.NewString(fmt.Sprintf("cell%d_sorted", UnitID(u)))
		var times, trials []float64
		for j := 0; j < s.Trials; j++ {
			for _, t := range SpikeOffsetsMS {
				times = append(times, t)
				trials = append(trials, float64(j+1))
			}
		}
		quality := "good"
		if u%2 == 1 {
			quality = "fair"
		}
		units[u] = map[string]matfile.Value{
			"eventTimes":  matfile.NewVector(times),
			"eventTrials": matfile.NewVector(trials),
			"timeUnit":    matfile.NewScalar(2),
			"quality":     matfile.NewString(quality),
		}
		depths[u] = 800 + 10*float64(u)
		channels[u] = float64(u + 1)
	}

	nt := len(PSTHTime)
	cube := make([]float64, nt*s.Units*s.Trials)
	for u := 0; u < s.Units; u++ {
		for n := 0; n < s.Trials; n++ {
			for t := 0; t < nt; t++ {
				cube[t+u*nt+n*nt*s.Units] = PSTHValue(u, n, t)
			}
		}
	}

	unitFields := []string{"eventTimes", "eventTrials", "timeUnit", "quality"}
	var keyNames, values, depth, channel matfile.Value
	if s.Units == 1 {
		// MATLAB stores lone entries as scalars rather than 1-element containers.
		keyNames = names[0]
		values = matfile.NewStruct(unitFields, units[0])
		depth = matfile.NewScalar(depths[0])
		channel = matfile.NewScalar(channels[0])
		psth = matfile.NewArray([]int{nt, s.Trials}, cube)
	} else {
		keyNames = matfile.NewCell(names...)
		values = matfile.NewStruct(unitFields, units...)
		depth = matfile.NewVector(depths)
		channel = matfile.NewVector(channels)
		psth = matfile.NewArray([]int{nt, s.Units, s.Trials}, cube)
	}

	meta = map[string]matfile.Value{
		"filename":   matfile.NewString(FileName(s)),
		"unitNumber": matfile.NewScalar(float64(s.Units)),
		"depth":      depth,
		"channel":    channel,
	}
	obj = map[string]matfile.Value{
		"sessionMeta": matfile.NewStruct(
			[]string{"probeName", "probeType", "siteLabels", "siteGroups", "location", "depth"},
			map[string]matfile.Value{
				"probeName":  matfile.NewString(ProbeName),
				"probeType":  matfile.NewString(ProbeType),
				"siteLabels": matfile.NewCell(matfile.NewString("shank1"), matfile.NewString("shank2")),
				"siteGroups": matfile.NewCell(
					matfile.NewVector([]float64{1, 2, 3, 4}),
					matfile.NewVector([]float64{5, 6, 7, 8}),
				),
				"location": matfile.NewString(location),
				"depth":    matfile.NewScalar(Depth),
			},
		),
		"timeUnitNames":       matfile.NewCell(matfile.NewString("Second"), matfile.NewString("Millisecond")),
		"trialTimeUnit":       matfile.NewScalar(1),
		"trialIDs":            matfile.NewVector(ids),
		"trialStartTimes":     matfile.NewVector(starts),
		"trialTypeMat":        matfile.NewArray([]int{kinds, s.Trials}, typeMat),
		"trialPropertiesHash": matfile.NewStruct([]string{"value"}, map[string]matfile.Value{"value": props}),
		"eventSeriesHash": matfile.NewStruct([]string{"keyNames", "value"}, map[string]matfile.Value{
			"keyNames": keyNames,
			"value":    values,
		}),
	}
	return meta, obj, psth
}
