// Package nwb models the parts of an NWB 2.x file used by the export and
// writes them with the hdmf-zarr layout.
package nwb

import (
	"fmt"
	"time"
)

const (
	Version       = "2.5.0"
	NamespaceCore = "core"
	NamespaceHDMF = "hdmf-common"

	pathElectrodes = "/general/extracellular_ephys/electrodes"
	pathUnits      = "/units"
	pathTrials     = "/intervals/trials"
)

type File struct {
	Identifier          string
	SessionDescription  string
	SessionStartTime    time.Time
	FileCreateDate      time.Time
	Experimenters       []string
	Institution         string
	RelatedPublications []string
	Subject             *Subject

	Devices         []*Device
	ElectrodeGroups []*ElectrodeGroup
	Acquisition     []*BehavioralEvents
	Processing      []*ProcessingModule

	electrodes *DynamicTable
	units      *DynamicTable
	trials     *DynamicTable
}

type Subject struct {
	SubjectID   string
	Description string
	Genotype    string
	Sex         string
	Species     string
}

type Device struct {
	Name        string
	Description string
}

type ElectrodeGroup struct {
	Name        string
	Description string
	Location    string
	Device      *Device
}

// Path is where the group is stored; electrode rows reference it.
func (g *ElectrodeGroup) Path() string {
	return "/general/extracellular_ephys/" + g.Name
}

// TimeSeries stores Data sampled at irregular Timestamps (s).
type TimeSeries struct {
	Name       string
	Data       []float64
	Unit       string
	Conversion float64
	Timestamps []float64
}

type BehavioralEvents struct {
	Name   string
	Series []*TimeSeries
}

func (b *BehavioralEvents) CreateTimeSeries(name, unit string, data, timestamps []float64) (*TimeSeries, error) {
	if len(data) != len(timestamps) {
		return nil, fmt.Errorf("time series %s: %d samples for %d timestamps", name, len(data), len(timestamps))
	}
	ts := &TimeSeries{Name: name, Data: data, Unit: unit, Conversion: 1, Timestamps: timestamps}
	b.Series = append(b.Series, ts)
	return ts, nil
}

type ProcessingModule struct {
	Name        string
	Description string
	Tables      []*DynamicTable
}

func (m *ProcessingModule) Add(t *DynamicTable) {
	m.Tables = append(m.Tables, t)
}

func NewFile(identifier, description string, start time.Time) *File {
	return &File{
		Identifier:         identifier,
		SessionDescription: description,
		SessionStartTime:   start,
		FileCreateDate:     time.Now(),
	}
}

func (f *File) CreateDevice(name, description string) *Device {
	d := &Device{Name: name, Description: description}
	f.Devices = append(f.Devices, d)
	return d
}

func (f *File) CreateElectrodeGroup(name, description, location string, device *Device) *ElectrodeGroup {
	g := &ElectrodeGroup{Name: name, Description: description, Location: location, Device: device}
	f.ElectrodeGroups = append(f.ElectrodeGroups, g)
	return g
}

func (f *File) AddAcquisition(b *BehavioralEvents) {
	f.Acquisition = append(f.Acquisition, b)
}

func (f *File) CreateProcessingModule(name, description string) *ProcessingModule {
	m := &ProcessingModule{Name: name, Description: description}
	f.Processing = append(f.Processing, m)
	return m
}

// Electrodes returns the electrodes table, creating it with its required
// columns on first use.
func (f *File) Electrodes() *DynamicTable {
	if f.electrodes == nil {
		t := NewDynamicTable("electrodes", "metadata about extracellular electrodes")
		for _, c := range []struct {
			name, desc string
			kind       ColumnKind
		}{
			{"x", "the x coordinate of the channel location", FloatColumn},
			{"y", "the y coordinate of the channel location", FloatColumn},
			{"z", "the z coordinate of the channel location", FloatColumn},
			{"imp", "the impedance of the channel", FloatColumn},
			{"location", "the location of channel within the subject e.g. brain region", TextColumn},
			{"filtering", "description of hardware filtering", TextColumn},
			{"group", "a reference to the ElectrodeGroup this electrode is a part of", ReferenceColumn},
			{"group_name", "the name of the ElectrodeGroup this electrode is a part of", TextColumn},
		} {
			_, _ = t.AddColumn(c.name, c.desc, c.kind)
		}
		f.electrodes = t
	}
	return f.electrodes
}

// AddElectrode appends a channel of group; unknown coordinates are NaN.
func (f *File) AddElectrode(id int, x, y, z, imp float64, filtering string, group *ElectrodeGroup) error {
	return f.Electrodes().AddRow(int64(id), map[string]any{
		"x":          x,
		"y":          y,
		"z":          z,
		"imp":        imp,
		"location":   group.Location,
		"filtering":  filtering,
		"group":      group.Path(),
		"group_name": group.Name,
	})
}

// Units returns the units table with spike_times and electrodes columns.
func (f *File) Units() *DynamicTable {
	if f.units == nil {
		t := newTable("units", "Data on spiking units", "Units", NamespaceCore)
		_, _ = t.AddColumn("spike_times", "the spike times for each unit", RaggedFloatColumn)
		_, _ = t.AddRegionColumn("electrodes", "the electrodes that each spike unit came from", f.Electrodes(), true)
		f.units = t
	}
	return f.units
}

// Trials returns the trials table with start_time and stop_time columns.
func (f *File) Trials() *DynamicTable {
	if f.trials == nil {
		t := newTable("trials", "experimental trials", "TimeIntervals", NamespaceCore)
		_, _ = t.AddColumn("start_time", "Start time of epoch, in seconds", FloatColumn)
		_, _ = t.AddColumn("stop_time", "Stop time of epoch, in seconds", FloatColumn)
		f.trials = t
	}
	return f.trials
}

func (f *File) HasUnits() bool  { return f.units != nil }
func (f *File) HasTrials() bool { return f.trials != nil }
