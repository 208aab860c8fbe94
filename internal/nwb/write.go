package nwb

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/zarr"
)

const timeLayout = "2006-01-02T15:04:05.999999-07:00"

type writer struct {
	z     *zarr.Writer
	ids   map[string]string
	newID func() string
}

// Write stores f on store. Every typed group and dataset gets a fresh
// object id.
func Write(store zarr.Store, f *File, opts ...zarr.Option) error {
	w := &writer{
		z:     zarr.NewWriter(store, opts...),
		ids:   map[string]string{},
		newID: uuid.NewString,
	}
	if err := w.file(f); err != nil {
		return fmt.Errorf("nwb %s: %w", f.Identifier, err)
	}
	return nil
}

func (w *writer) objectID(path string) string {
	if id, ok := w.ids[path]; ok {
		return id
	}
	id := w.newID()
	w.ids[path] = id
	return id
}

func (w *writer) typed(path, typ, namespace string, attrs map[string]any) map[string]any {
	out := map[string]any{
		"namespace":      namespace,
		"neurodata_type": typ,
		"object_id":      w.objectID(path),
	}
	for k, v := range attrs {
		out[k] = v
	}
	return out
}

func (w *writer) ref(path string) map[string]any {
	return zarr.ObjectAttr(zarr.Ref(path, w.objectID(path)))
}

func (w *writer) file(f *File) error {
	if f.electrodes != nil {
		f.electrodes.path = pathElectrodes
	}
	if f.units != nil {
		f.units.path = pathUnits
	}
	if f.trials != nil {
		f.trials.path = pathTrials
	}
	for _, m := range f.Processing {
		for _, t := range m.Tables {
			t.path = "/processing/" + m.Name + "/" + t.Name
		}
	}

	if err := w.z.Group("/", w.typed("/", "NWBFile", NamespaceCore, map[string]any{"nwb_version": Version})); err != nil {
		return err
	}
	scalars := []struct {
		name, value string
	}{
		{"identifier", f.Identifier},
		{"session_description", f.SessionDescription},
		{"session_start_time", f.SessionStartTime.Format(timeLayout)},
		{"timestamps_reference_time", f.SessionStartTime.Format(timeLayout)},
	}
	for _, s := range scalars {
		if err := w.z.Array("/"+s.name, zarr.ScalarString(s.value), nil); err != nil {
			return err
		}
	}
	if err := w.z.Array("/file_create_date", zarr.Strings([]string{f.FileCreateDate.Format(timeLayout)}), nil); err != nil {
		return err
	}
	for _, g := range []string{"/acquisition", "/analysis", "/processing", "/stimulus", "/stimulus/presentation", "/stimulus/templates", "/general"} {
		if err := w.z.Group(g, nil); err != nil {
			return err
		}
	}

	if err := w.general(f); err != nil {
		return err
	}
	if f.units != nil {
		if err := w.table(f.units); err != nil {
			return err
		}
	}
	if f.trials != nil {
		if err := w.z.Group("/intervals", nil); err != nil {
			return err
		}
		if err := w.table(f.trials); err != nil {
			return err
		}
	}
	for _, b := range f.Acquisition {
		if err := w.behavioralEvents("/acquisition/"+b.Name, b); err != nil {
			return err
		}
	}
	for _, m := range f.Processing {
		p := "/processing/" + m.Name
		if err := w.z.Group(p, w.typed(p, "ProcessingModule", NamespaceCore, map[string]any{"description": m.Description})); err != nil {
			return err
		}
		for _, t := range m.Tables {
			if err := w.table(t); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *writer) general(f *File) error {
	if len(f.Experimenters) > 0 {
		if err := w.z.Array("/general/experimenter", zarr.Strings(f.Experimenters), nil); err != nil {
			return err
		}
	}
	if f.Institution != "" {
		if err := w.z.Array("/general/institution", zarr.ScalarString(f.Institution), nil); err != nil {
			return err
		}
	}
	if len(f.RelatedPublications) > 0 {
		if err := w.z.Array("/general/related_publications", zarr.Strings(f.RelatedPublications), nil); err != nil {
			return err
		}
	}

	if s := f.Subject; s != nil {
		p := "/general/subject"
		if err := w.z.Group(p, w.typed(p, "Subject", NamespaceCore, nil)); err != nil {
			return err
		}
		for _, field := range []struct{ name, value string }{
			{"subject_id", s.SubjectID},
			{"description", s.Description},
			{"genotype", s.Genotype},
			{"sex", s.Sex},
			{"species", s.Species},
		} {
			if field.value == "" {
				continue
			}
			if err := w.z.Array(p+"/"+field.name, zarr.ScalarString(field.value), nil); err != nil {
				return err
			}
		}
	}

	if len(f.Devices) > 0 {
		if err := w.z.Group("/general/devices", nil); err != nil {
			return err
		}
	}
	for _, d := range f.Devices {
		p := "/general/devices/" + d.Name
		if err := w.z.Group(p, w.typed(p, "Device", NamespaceCore, map[string]any{"description": d.Description})); err != nil {
			return err
		}
	}

	if len(f.ElectrodeGroups) == 0 && f.electrodes == nil {
		return nil
	}
	if err := w.z.Group("/general/extracellular_ephys", nil); err != nil {
		return err
	}
	for _, g := range f.ElectrodeGroups {
		attrs := map[string]any{
			"description": g.Description,
			"location":    g.Location,
		}
		if g.Device != nil {
			devicePath := "/general/devices/" + g.Device.Name
			attrs["zarr_link"] = []map[string]any{{
				"name":      "device",
				"source":    ".",
				"path":      devicePath,
				"object_id": w.objectID(devicePath),
			}}
		}
		if err := w.z.Group(g.Path(), w.typed(g.Path(), "ElectrodeGroup", NamespaceCore, attrs)); err != nil {
			return err
		}
	}
	if f.electrodes != nil {
		return w.table(f.electrodes)
	}
	return nil
}

func (w *writer) behavioralEvents(p string, b *BehavioralEvents) error {
	if err := w.z.Group(p, w.typed(p, "BehavioralEvents", NamespaceCore, nil)); err != nil {
		return err
	}
	for _, ts := range b.Series {
		sp := p + "/" + ts.Name
		if err := w.z.Group(sp, w.typed(sp, "TimeSeries", NamespaceCore, map[string]any{
			"comments":    "no comments",
			"description": "no description",
		})); err != nil {
			return err
		}
		data, err := zarr.Float64s(ts.Data)
		if err != nil {
			return err
		}
		if err := w.z.Array(sp+"/data", data, map[string]any{
			"conversion": ts.Conversion,
			"offset":     0.0,
			"resolution": -1.0,
			"unit":       ts.Unit,
		}); err != nil {
			return err
		}
		stamps, err := zarr.Float64s(ts.Timestamps)
		if err != nil {
			return err
		}
		if err := w.z.Array(sp+"/timestamps", stamps, map[string]any{
			"interval": 1,
			"unit":     "seconds",
		}); err != nil {
			return err
		}
	}
	return nil
}

func (w *writer) table(t *DynamicTable) error {
	if t.path == "" {
		return fmt.Errorf("table %s is not attached to the file", t.Name)
	}
	colnames := make([]string, len(t.columns))
	for i, c := range t.columns {
		colnames[i] = c.Name
	}
	if err := w.z.Group(t.path, w.typed(t.path, t.NeurodataType, t.Namespace, map[string]any{
		"colnames":    colnames,
		"description": t.Description,
	})); err != nil {
		return err
	}

	ids, err := zarr.Int64s(t.ids)
	if err != nil {
		return err
	}
	if err := w.z.Array(t.path+"/id", ids, w.typed(t.path+"/id", "ElementIdentifiers", NamespaceHDMF, nil)); err != nil {
		return err
	}

	for _, c := range t.columns {
		if err := w.column(t, c); err != nil {
			return fmt.Errorf("table %s: column %s: %w", t.Name, c.Name, err)
		}
	}
	return nil
}

func (w *writer) column(t *DynamicTable, c *Column) error {
	p := t.path + "/" + c.Name
	attrs := map[string]any{"description": c.Description}
	typ := "VectorData"

	var (
		data zarr.Array
		err  error
	)
	switch c.Kind {
	case FloatColumn, RaggedFloatColumn:
		data, err = zarr.Float64s(c.floats)
	case IntColumn:
		data, err = zarr.Int64s(c.ints)
	case TextColumn:
		data = zarr.Strings(c.texts)
	case BoolColumn:
		data = zarr.Bools(c.bools)
	case ReferenceColumn:
		refs := make([]zarr.Reference, len(c.texts))
		for i, target := range c.texts {
			refs[i] = zarr.Ref(target, w.objectID(target))
		}
		data, err = zarr.References(refs)
	case RegionColumn, RaggedRegionColumn:
		if c.Target.path == "" {
			return fmt.Errorf("target table %s is not attached to the file", c.Target.Name)
		}
		typ = "DynamicTableRegion"
		attrs["table"] = w.ref(c.Target.path)
		data, err = zarr.Int64s(c.ints)
	default:
		return fmt.Errorf("unknown column kind %d", c.Kind)
	}
	if err != nil {
		return err
	}
	if err := w.z.Array(p, data, w.typed(p, typ, NamespaceHDMF, attrs)); err != nil {
		return err
	}

	if c.Kind != RaggedFloatColumn && c.Kind != RaggedRegionColumn {
		return nil
	}
	index, err := zarr.Int64s(c.ends)
	if err != nil {
		return err
	}
	ip := p + "_index"
	return w.z.Array(ip, index, w.typed(ip, "VectorIndex", NamespaceHDMF, map[string]any{
		"description": fmt.Sprintf("Index for VectorData '%s'", c.Name),
		"target":      w.ref(p),
	}))
}

// FormatTime renders t the way NWB datetime datasets are written.
func FormatTime(t time.Time) string {
	return t.Format(timeLayout)
}
