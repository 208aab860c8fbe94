package archive

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/matfile"
)

// Column order of the trial-type one-hot matrix.
var trialOutcomes = [6]struct{ typ, response string }{
	{"lick right", "correct"},
	{"lick left", "correct"},
	{"lick right", "incorrect"},
	{"lick left", "incorrect"},
	{"lick right", "no response"},
	{"lick left", "no response"},
}

const earlyLickColumn = 6

// Rows of trialPropertiesHash.value.
const (
	propPoleIn    = 0
	propPoleOut   = 1
	propCueStart  = 2
	propGood      = 3
	propLickLeft  = 5
	propLickRight = 6
)

var unitNumber = regexp.MustCompile(`\d+`)

// Open reads and parses the archive at path.
func Open(path string) (*Archive, error) {
	f, err := matfile.Open(path)
	if err != nil {
		return nil, err
	}
	return Parse(path, f)
}

// Parse decodes the per-session variables meta, obj and psth plus the
// shared time axis. name is the archive path or file name.
func Parse(name string, f *matfile.File) (*Archive, error) {
	a := &Archive{Name: recordingName(name)}
	top := &parser{archive: a.Name, session: -1}

	metaV, err := top.variable(f, "meta")
	if err != nil {
		return nil, err
	}
	objV, err := top.variable(f, "obj")
	if err != nil {
		return nil, err
	}
	metas, err := matfile.Items(metaV)
	if err != nil {
		return nil, top.fail("meta", err)
	}
	objs, err := matfile.Items(objV)
	if err != nil {
		return nil, top.fail("obj", err)
	}
	if len(metas) != len(objs) {
		return nil, top.fail("obj", fmt.Errorf("%d sessions in obj, %d in meta", len(objs), len(metas)))
	}

	var psths []matfile.Value
	if v, ok := f.Var("psth"); ok {
		if cell, isCell := v.(*matfile.Cell); isCell {
			psths = cell.Elems
		} else {
			psths = []matfile.Value{v}
		}
		if len(psths) != len(metas) {
			return nil, top.fail("psth", fmt.Errorf("%d sessions in psth, %d in meta", len(psths), len(metas)))
		}
	}
	if v, ok := f.Var("time"); ok {
		if a.PSTHTime, err = matfile.Floats(v); err != nil {
			return nil, top.fail("time", err)
		}
	}

	for i := range metas {
		p := &parser{archive: a.Name, session: i}
		var psth matfile.Value
		if psths != nil {
			psth = psths[i]
		}
		s, err := p.parseSession(metas[i], objs[i], psth, a.PSTHTime)
		if err != nil {
			return nil, err
		}
		a.Sessions = append(a.Sessions, *s)
	}
	return a, nil
}

type parser struct {
	archive string
	session int
}

func (p *parser) fail(field string, err error) error {
	var fe *FormatError
	if errors.As(err, &fe) {
		return err
	}
	return &FormatError{Archive: p.archive, Session: p.session, Field: field, Err: err}
}

func (p *parser) variable(f *matfile.File, name string) (matfile.Value, error) {
	v, ok := f.Var(name)
	if !ok {
		return nil, p.fail(name, fmt.Errorf("variable missing"))
	}
	return v, nil
}

func (p *parser) field(v matfile.Value, path ...string) (matfile.Value, error) {
	out, err := matfile.Field(v, path...)
	if err != nil {
		return nil, p.fail(strings.Join(path, "."), err)
	}
	return out, nil
}

func (p *parser) float(v matfile.Value, path ...string) (float64, error) {
	fv, err := p.field(v, path...)
	if err != nil {
		return 0, err
	}
	out, err := matfile.Float(fv)
	if err != nil {
		return 0, p.fail(strings.Join(path, "."), err)
	}
	return out, nil
}

func (p *parser) int(v matfile.Value, path ...string) (int, error) {
	fv, err := p.field(v, path...)
	if err != nil {
		return 0, err
	}
	out, err := matfile.Int(fv)
	if err != nil {
		return 0, p.fail(strings.Join(path, "."), err)
	}
	return out, nil
}

func (p *parser) floats(v matfile.Value, path ...string) ([]float64, error) {
	fv, err := p.field(v, path...)
	if err != nil {
		return nil, err
	}
	out, err := matfile.Floats(fv)
	if err != nil {
		return nil, p.fail(strings.Join(path, "."), err)
	}
	return out, nil
}

func (p *parser) string(v matfile.Value, path ...string) (string, error) {
	fv, err := p.field(v, path...)
	if err != nil {
		return "", err
	}
	out, err := matfile.String(fv)
	if err != nil {
		return "", p.fail(strings.Join(path, "."), err)
	}
	return out, nil
}

func (p *parser) strings(v matfile.Value, path ...string) ([]string, error) {
	fv, err := p.field(v, path...)
	if err != nil {
		return nil, err
	}
	out, err := matfile.Strings(fv)
	if err != nil {
		return nil, p.fail(strings.Join(path, "."), err)
	}
	return out, nil
}

func (p *parser) parseSession(meta, obj, psth matfile.Value, psthTime []float64) (*Session, error) {
	s := &Session{Index: p.session}

	filename, err := p.string(meta, "filename")
	if err != nil {
		return nil, err
	}
	parts := strings.Split(strings.TrimSuffix(filename, ".mat"), "_")
	if len(parts) < 2 {
		return nil, p.fail("filename", fmt.Errorf("want <subject>_<date> suffix in %q", filename))
	}
	s.SubjectID = strings.ToLower(parts[len(parts)-2])
	if s.Date, err = ParseDate(parts[len(parts)-1]); err != nil {
		return nil, p.fail("filename", err)
	}

	if err := p.probe(obj, s); err != nil {
		return nil, err
	}

	unitNames, err := p.strings(obj, "timeUnitNames")
	if err != nil {
		return nil, err
	}
	conv := func(field string, unit int) (float64, error) {
		if unit < 1 || unit > len(unitNames) {
			return 0, p.fail(field, fmt.Errorf("time unit %d out of range 1..%d", unit, len(unitNames)))
		}
		f, err := TimeUnitFactor(unitNames[unit-1])
		if err != nil {
			return 0, p.fail(field, err)
		}
		return f, nil
	}

	trialUnit, err := p.int(obj, "trialTimeUnit")
	if err != nil {
		return nil, err
	}
	trialConv, err := conv("trialTimeUnit", trialUnit)
	if err != nil {
		return nil, err
	}

	props, err := p.properties(obj)
	if err != nil {
		return nil, err
	}
	if err := p.trials(obj, props, trialConv, s); err != nil {
		return nil, err
	}
	if s.LickLeft, err = p.licks(props[propLickLeft], trialConv, s.Trials, "lick left"); err != nil {
		return nil, err
	}
	if s.LickRight, err = p.licks(props[propLickRight], trialConv, s.Trials, "lick right"); err != nil {
		return nil, err
	}
	if err := p.units(meta, obj, conv, s); err != nil {
		return nil, err
	}
	if psth != nil {
		if s.PSTH, err = p.psth(psth, len(s.Units), len(s.Trials), len(psthTime)); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (p *parser) probe(obj matfile.Value, s *Session) error {
	var err error
	if s.Probe.Name, err = p.string(obj, "sessionMeta", "probeName"); err != nil {
		return err
	}
	if s.Probe.Type, err = p.string(obj, "sessionMeta", "probeType"); err != nil {
		return err
	}

	labels, err := p.strings(obj, "sessionMeta", "siteLabels")
	if err != nil {
		return err
	}
	groupsV, err := p.field(obj, "sessionMeta", "siteGroups")
	if err != nil {
		return err
	}
	groups := []matfile.Value{groupsV}
	if cell, ok := groupsV.(*matfile.Cell); ok {
		groups = cell.Elems
	}
	if len(groups) != len(labels) {
		return p.fail("sessionMeta.siteGroups", fmt.Errorf("%d groups for %d labels", len(groups), len(labels)))
	}
	for i, label := range labels {
		id, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(label), "shank"))
		if err != nil {
			return p.fail("sessionMeta.siteLabels", fmt.Errorf("bad shank label %q", label))
		}
		sites, err := matfile.Floats(groups[i])
		if err != nil {
			return p.fail("sessionMeta.siteGroups", err)
		}
		shank := Shank{ID: id, Channels: make([]int, len(sites))}
		for j, c := range sites {
			shank.Channels[j] = int(c)
		}
		s.Probe.Shanks = append(s.Probe.Shanks, shank)
	}

	location, err := p.string(obj, "sessionMeta", "location")
	if err != nil {
		return err
	}
	region, hemi, ok := strings.Cut(location, "_")
	if !ok || hemispheres[hemi] == "" {
		return p.fail("sessionMeta.location", fmt.Errorf("want REGION_{L,R,B}, got %q", location))
	}
	s.Location = Location{Region: region, Hemisphere: hemispheres[hemi]}

	s.InsertionDepth, err = p.float(obj, "sessionMeta", "depth")
	return err
}

func (p *parser) properties(obj matfile.Value) ([]matfile.Value, error) {
	v, err := p.field(obj, "trialPropertiesHash", "value")
	if err != nil {
		return nil, err
	}
	props, err := matfile.Items(v)
	if err != nil {
		return nil, p.fail("trialPropertiesHash.value", err)
	}
	if len(props) <= propLickRight {
		return nil, p.fail("trialPropertiesHash.value", fmt.Errorf("want at least %d properties, got %d", propLickRight+1, len(props)))
	}
	return props, nil
}

func (p *parser) trials(obj matfile.Value, props []matfile.Value, conv float64, s *Session) error {
	ids, err := p.floats(obj, "trialIDs")
	if err != nil {
		return err
	}
	n := len(ids)

	starts, err := p.floats(obj, "trialStartTimes")
	if err != nil {
		return err
	}
	typeV, err := p.field(obj, "trialTypeMat")
	if err != nil {
		return err
	}
	typeMat, ok := typeV.(*matfile.Numeric)
	if !ok || len(typeMat.Dims()) != 2 {
		return p.fail("trialTypeMat", fmt.Errorf("want a 2-D numeric matrix"))
	}
	kinds := typeMat.Dims()[0]
	if kinds <= earlyLickColumn || typeMat.Dims()[1] != n {
		return p.fail("trialTypeMat", fmt.Errorf("dimensions %v do not fit %d trials", typeMat.Dims(), n))
	}

	columns := map[int][]float64{}
	for _, idx := range []int{propPoleIn, propPoleOut, propCueStart, propGood} {
		values, err := matfile.Floats(props[idx])
		if err != nil {
			return p.fail(fmt.Sprintf("trialPropertiesHash.value{%d}", idx+1), err)
		}
		columns[idx] = values
	}
	for field, values := range map[string][]float64{
		"trialStartTimes":              starts,
		"trialPropertiesHash.value{1}": columns[propPoleIn],
		"trialPropertiesHash.value{2}": columns[propPoleOut],
		"trialPropertiesHash.value{3}": columns[propCueStart],
		"trialPropertiesHash.value{4}": columns[propGood],
	} {
		if len(values) != n {
			return p.fail(field, fmt.Errorf("%d values for %d trials", len(values), n))
		}
	}

	s.Trials = make([]Trial, n)
	for j := 0; j < n; j++ {
		tr := Trial{
			ID:          j + 1,
			StartTime:   starts[j] * conv,
			StimPresent: int(typeMat.At(kinds-1, j)),
			Good:        int(columns[propGood][j]),
			PoleIn:      columns[propPoleIn][j] * conv,
			PoleOut:     columns[propPoleOut][j] * conv,
			CueStart:    columns[propCueStart][j] * conv,
		}
		if typeMat.At(earlyLickColumn, j) != 0 {
			tr.Type = "lick right"
			if typeMat.At(1, j) != 0 || typeMat.At(3, j) != 0 {
				tr.Type = "lick left"
			}
			tr.Response = "early lick"
		} else {
			found := false
			for k := range trialOutcomes {
				if typeMat.At(k, j) != 0 {
					tr.Type, tr.Response = trialOutcomes[k].typ, trialOutcomes[k].response
					found = true
					break
				}
			}
			if !found {
				return p.fail("trialTypeMat", fmt.Errorf("trial %d has no outcome flag set", j+1))
			}
		}
		s.Trials[j] = tr
	}
	return nil
}

// licks shifts trial-relative lick times onto the session clock.
func (p *parser) licks(v matfile.Value, conv float64, trials []Trial, field string) ([]float64, error) {
	perTrial := []matfile.Value{v}
	if cell, ok := v.(*matfile.Cell); ok {
		perTrial = cell.Elems
	}
	if len(perTrial) != len(trials) {
		return nil, p.fail(field, fmt.Errorf("%d entries for %d trials", len(perTrial), len(trials)))
	}
	out := []float64{}
	for i, item := range perTrial {
		licks, err := matfile.Floats(item)
		if err != nil {
			return nil, p.fail(field, err)
		}
		for _, l := range licks {
			out = append(out, l*conv+trials[i].StartTime)
		}
	}
	return out, nil
}

func (p *parser) units(meta, obj matfile.Value, conv func(string, int) (float64, error), s *Session) error {
	names, err := p.strings(obj, "eventSeriesHash", "keyNames")
	if err != nil {
		return err
	}
	valuesV, err := p.field(obj, "eventSeriesHash", "value")
	if err != nil {
		return err
	}
	values, err := matfile.Items(valuesV)
	if err != nil {
		return p.fail("eventSeriesHash.value", err)
	}
	depths, err := p.floats(meta, "depth")
	if err != nil {
		return err
	}
	channels, err := p.floats(meta, "channel")
	if err != nil {
		return err
	}
	n := len(names)
	for field, got := range map[string]int{
		"eventSeriesHash.value": len(values),
		"meta.depth":            len(depths),
		"meta.channel":          len(channels),
	} {
		if got != n {
			return p.fail(field, fmt.Errorf("%d entries for %d units", got, n))
		}
	}

	s.Units = make([]Unit, n)
	for i, name := range names {
		field := fmt.Sprintf("eventSeriesHash.value{%d}", i+1)
		m := unitNumber.FindString(name)
		if m == "" {
			return p.fail("eventSeriesHash.keyNames", fmt.Errorf("no unit number in %q", name))
		}
		id, _ := strconv.Atoi(m)

		unitTime, err := p.int(values[i], "timeUnit")
		if err != nil {
			return err
		}
		unitConv, err := conv(field+".timeUnit", unitTime)
		if err != nil {
			return err
		}
		times, err := p.floats(values[i], "eventTimes")
		if err != nil {
			return err
		}
		trialsOf, err := p.floats(values[i], "eventTrials")
		if err != nil {
			return err
		}
		if len(times) != len(trialsOf) {
			return p.fail(field, fmt.Errorf("%d event times for %d event trials", len(times), len(trialsOf)))
		}
		spikes := make([]float64, len(times))
		for k, t := range times {
			tr := int(trialsOf[k]) - 1
			if tr < 0 || tr >= len(s.Trials) {
				return p.fail(field+".eventTrials", fmt.Errorf("trial %v out of range", trialsOf[k]))
			}
			spikes[k] = t*unitConv + s.Trials[tr].StartTime + s.Trials[tr].CueStart
		}

		qualityV, err := p.field(values[i], "quality")
		if err != nil {
			return err
		}

		s.Units[i] = Unit{
			ID:         id,
			Depth:      depths[i],
			Channel:    int(channels[i]),
			Quality:    text(qualityV),
			SpikeTimes: spikes,
		}
	}
	return nil
}

// psth reshapes a (time, unit, trial) cube, or a (time, trial) matrix for
// single-unit sessions, into [unit][trial][time].
func (p *parser) psth(v matfile.Value, units, trials, bins int) ([][][]float64, error) {
	cube, ok := v.(*matfile.Numeric)
	if !ok {
		return nil, p.fail("psth", fmt.Errorf("want numeric array"))
	}
	if cube.Len() == 0 {
		return nil, nil
	}
	dims := cube.Dims()
	var nt, nu, nn int
	switch len(dims) {
	case 2:
		nt, nu, nn = dims[0], 1, dims[1]
	case 3:
		nt, nu, nn = dims[0], dims[1], dims[2]
	default:
		return nil, p.fail("psth", fmt.Errorf("want 2 or 3 dimensions, got %v", dims))
	}
	if nu != units {
		return nil, p.fail("psth", fmt.Errorf("%d units in psth, %d in eventSeriesHash", nu, units))
	}
	if nn != trials {
		return nil, p.fail("psth", fmt.Errorf("%d trials in psth, %d in trialIDs", nn, trials))
	}
	if bins > 0 && nt != bins {
		return nil, p.fail("psth", fmt.Errorf("%d time bins, time axis has %d", nt, bins))
	}

	out := make([][][]float64, nu)
	for u := 0; u < nu; u++ {
		out[u] = make([][]float64, nn)
		for n := 0; n < nn; n++ {
			row := make([]float64, nt)
			for t := 0; t < nt; t++ {
				row[t] = cube.Data[t+u*nt+n*nt*nu]
			}
			out[u][n] = row
		}
	}
	return out, nil
}

// text renders a quality label that may be stored as char or number.
func text(v matfile.Value) string {
	if s, err := matfile.String(v); err == nil {
		return s
	}
	if f, err := matfile.Float(v); err == nil && !math.IsNaN(f) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return ""
}
