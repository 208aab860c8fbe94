package nwb

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/zarr"
)

func sampleFile(t *testing.T) *File {
	t.Helper()
	f := NewFile("bae4_2017-11-07_0", "", time.Date(2017, 11, 7, 0, 0, 0, 0, time.UTC))
	f.Experimenters = []string{"Mike Economo"}
	f.Institution = "Janelia Research Campus"
	f.Subject = &Subject{SubjectID: "bae4", Species: "Mus musculus"}

	probe := f.CreateDevice("A4x8", "")
	group := f.CreateElectrodeGroup("A4x8: 8", "N/A", "brain_region: ALM", probe)
	for ch := 1; ch <= 3; ch++ {
		require.NoError(t, f.AddElectrode(ch, 0, 0, 0, -1, "Bandpass filtered 300-6K Hz", group))
	}

	units := f.Units()
	_, err := units.AddColumn("depth", "depth this unit", FloatColumn)
	require.NoError(t, err)
	require.NoError(t, units.AddRow(3, map[string]any{"spike_times": []float64{0.1, 0.2}, "electrodes": []int{0}, "depth": 800.0}))
	require.NoError(t, units.AddRow(5, map[string]any{"spike_times": []float64{0.3}, "electrodes": []int{2}, "depth": nil}))

	trials := f.Trials()
	for i := 1; i <= 2; i++ {
		require.NoError(t, trials.AddRow(int64(i), map[string]any{"start_time": float64(i) * 10, "stop_time": math.NaN()}))
	}

	be := &BehavioralEvents{Name: "lick_times"}
	_, err = be.CreateTimeSeries("lick_left_times", "a.u.", []float64{1, 1}, []float64{2.1, 2.3})
	require.NoError(t, err)
	f.AddAcquisition(be)

	psth := NewDynamicTable("PSTH", "trial-aligned unit PSTH")
	_, err = psth.AddRegionColumn("unit_id", "unit_id - link to the units table", units, false)
	require.NoError(t, err)
	_, err = psth.AddRegionColumn("trial_id", "trial_id - link to the trial table", trials, false)
	require.NoError(t, err)
	_, err = psth.AddColumn("psth", "trial-aligned unit PSTH", RaggedFloatColumn)
	require.NoError(t, err)
	require.NoError(t, psth.AddRow(0, map[string]any{"unit_id": 1, "trial_id": 0, "psth": []float64{1, 2, 3}}))
	f.CreateProcessingModule("ecephys", "trial-aligned unit PSTH").Add(psth)
	return f
}

func int64s(raw []byte) []int64 {
	out := make([]int64, len(raw)/8)
	for i := range out {
		out[i] = int64(binary.LittleEndian.Uint64(raw[8*i:]))
	}
	return out
}

func TestWriteLayout(t *testing.T) {
	store := zarr.NewMemStore()
	require.NoError(t, Write(store, sampleFile(t)))

	root, ok := store.Get(".zattrs")
	require.True(t, ok)
	assert.Equal(t, "NWBFile", gjson.GetBytes(root, "neurodata_type").String())
	assert.Equal(t, Version, gjson.GetBytes(root, "nwb_version").String())
	assert.NotEmpty(t, gjson.GetBytes(root, "object_id").String())

	unitsAttrs, ok := store.Get("units/.zattrs")
	require.True(t, ok)
	assert.Equal(t, "Units", gjson.GetBytes(unitsAttrs, "neurodata_type").String())
	assert.Equal(t, `["spike_times","electrodes","depth"]`, gjson.GetBytes(unitsAttrs, "colnames").Raw)

	ids, _ := store.Get("units/id/0")
	assert.Equal(t, []int64{3, 5}, int64s(ids))
	ends, _ := store.Get("units/spike_times_index/0")
	assert.Equal(t, []int64{2, 3}, int64s(ends))

	indexAttrs, _ := store.Get("units/spike_times_index/.zattrs")
	assert.Equal(t, "VectorIndex", gjson.GetBytes(indexAttrs, "neurodata_type").String())
	assert.Equal(t, "/units/spike_times", gjson.GetBytes(indexAttrs, "target.value.path").String())

	regionAttrs, _ := store.Get("units/electrodes/.zattrs")
	assert.Equal(t, "DynamicTableRegion", gjson.GetBytes(regionAttrs, "neurodata_type").String())
	assert.Equal(t, "/general/extracellular_ephys/electrodes", gjson.GetBytes(regionAttrs, "table.value.path").String())

	depth, _ := store.Get("units/depth/0")
	assert.True(t, math.IsNaN(math.Float64frombits(binary.LittleEndian.Uint64(depth[8:]))))

	trialsMeta, ok := store.Get("intervals/trials/id/.zarray")
	require.True(t, ok)
	assert.Equal(t, int64(2), gjson.GetBytes(trialsMeta, "shape.0").Int())

	groupRef, _ := store.Get("general/extracellular_ephys/electrodes/group/0")
	assert.Equal(t, "/general/extracellular_ephys/A4x8: 8", gjson.GetBytes(groupRef, "0.path").String())

	groupAttrs, _ := store.Get("general/extracellular_ephys/A4x8: 8/.zattrs")
	assert.Equal(t, "/general/devices/A4x8", gjson.GetBytes(groupAttrs, "zarr_link.0.path").String())

	psthAttrs, _ := store.Get("processing/ecephys/PSTH/.zattrs")
	assert.Equal(t, "DynamicTable", gjson.GetBytes(psthAttrs, "neurodata_type").String())
	unitRegion, _ := store.Get("processing/ecephys/PSTH/unit_id/.zattrs")
	assert.Equal(t, "/units", gjson.GetBytes(unitRegion, "table.value.path").String())

	_, ok = store.Get("acquisition/lick_times/lick_left_times/timestamps/0")
	assert.True(t, ok)
	identifier, _ := store.Get("identifier/.zarray")
	assert.Equal(t, "[]", gjson.GetBytes(identifier, "shape").Raw)
}

func TestObjectIDsAreShared(t *testing.T) {
	store := zarr.NewMemStore()
	require.NoError(t, Write(store, sampleFile(t)))

	unitsAttrs, _ := store.Get("units/.zattrs")
	regionAttrs, _ := store.Get("processing/ecephys/PSTH/unit_id/.zattrs")
	assert.Equal(t,
		gjson.GetBytes(unitsAttrs, "object_id").String(),
		gjson.GetBytes(regionAttrs, "table.value.object_id").String())
}

func TestAddRowValidation(t *testing.T) {
	tbl := NewDynamicTable("t", "test")
	_, err := tbl.AddColumn("a", "", FloatColumn)
	require.NoError(t, err)
	_, err = tbl.AddColumn("name", "", TextColumn)
	require.NoError(t, err)

	assert.Error(t, tbl.AddRow(1, map[string]any{"a": 1.0}))
	assert.Error(t, tbl.AddRow(1, map[string]any{"a": 1.0, "name": "x", "extra": 2}))
	assert.Error(t, tbl.AddRow(1, map[string]any{"a": "nope", "name": "x"}))
	assert.Equal(t, 0, tbl.Len())

	require.NoError(t, tbl.AddRow(1, map[string]any{"a": 1, "name": "x"}))
	assert.Equal(t, 1, tbl.Len())
	_, err = tbl.AddColumn("late", "", IntColumn)
	assert.Error(t, err)

	_, err = tbl.AddColumn("a", "", IntColumn)
	assert.Error(t, err)
	_, err = tbl.AddColumn("r", "", RegionColumn)
	assert.Error(t, err)
}

func TestRegionRowOutOfRange(t *testing.T) {
	target := NewDynamicTable("target", "")
	tbl := NewDynamicTable("t", "")
	_, err := tbl.AddRegionColumn("ref", "", target, false)
	require.NoError(t, err)
	assert.Error(t, tbl.AddRow(0, map[string]any{"ref": 0}))
}

func TestDetachedTableFails(t *testing.T) {
	f := NewFile("x", "", time.Now())
	other := NewDynamicTable("other", "")
	require.NoError(t, other.AddRow(0, nil))

	bad := NewDynamicTable("bad", "")
	_, err := bad.AddRegionColumn("r", "", other, false)
	require.NoError(t, err)
	require.NoError(t, bad.AddRow(0, map[string]any{"r": 0}))
	f.CreateProcessingModule("m", "").Add(bad)

	assert.Error(t, Write(zarr.NewMemStore(), f))
}

func TestTimeSeriesLengthMismatch(t *testing.T) {
	be := &BehavioralEvents{Name: "lick_times"}
	_, err := be.CreateTimeSeries("x", "a.u.", []float64{1}, nil)
	assert.Error(t, err)
}
