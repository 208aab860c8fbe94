package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/config"
	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/edf"
	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/lock"
	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/models"
	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/nwb"
	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/repository"
	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/zarr"
)

const (
	ContainerDirectory = "directory"
	ContainerZip       = "zip"

	FormatNWB = "nwb"
	FormatEDF = "edf"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrExportInProgress = errors.New("export already in progress")
)

// Used when ExportService.Locker is unset; guards exports within this process.
var processExportLocker = lock.NewMemoryLocker()

const defaultExportLockTTL = 30 * time.Minute

// ExportOptions controls where and how a session is written.
type ExportOptions struct {
	OutputDir        string   `json:"output_dir"`
	Overwrite        bool     `json:"overwrite"`
	Container        string   `json:"container"`
	Compression      string   `json:"compression"`
	CompressionLevel int      `json:"compression_level"`
	Formats          []string `json:"formats"`
}

func ExportOptionsFromConfig(cfg config.ExportConfig) ExportOptions {
	return ExportOptions{
		OutputDir:        cfg.OutputDir,
		Overwrite:        cfg.Overwrite,
		Container:        cfg.Container,
		Compression:      cfg.Compression,
		CompressionLevel: cfg.CompressionLevel,
		Formats:          cfg.Formats,
	}
}

func (o ExportOptions) wants(format string) bool {
	if len(o.Formats) == 0 {
		return format == FormatNWB
	}
	for _, f := range o.Formats {
		if strings.EqualFold(strings.TrimSpace(f), format) {
			return true
		}
	}
	return false
}

// ExportService writes one NWB container per session. Exports of the same
// session are serialized through Locker under "export:<identifier>".
type ExportService struct {
	Repo    repository.Repository
	Logger  *zap.Logger
	Config  config.ExportConfig
	Locker  lock.Locker
	LockTTL time.Duration
}

type ExportResult struct {
	Identifier string   `json:"identifier"`
	Path       string   `json:"path,omitempty"`
	EDFPaths   []string `json:"edf_paths,omitempty"`
	Skipped    bool     `json:"skipped"`
	Units      int      `json:"units"`
	Trials     int      `json:"trials"`
	PSTHs      int      `json:"psths"`
}

// Identifier names a session's export: <subject>_<YYYY-MM-DD>_<session id>.
func Identifier(sess models.Session) string {
	return fmt.Sprintf("%s_%s_%d", sess.SubjectID, sess.SessionTime.Format("2006-01-02"), sess.SessionID)
}

// OutputPath is where the NWB container of identifier is written.
func OutputPath(opts ExportOptions, identifier string) string {
	name := identifier + ".nwb.zarr"
	if opts.Container == ContainerZip {
		name += ".zip"
	}
	return filepath.Join(opts.OutputDir, name)
}

// ExportAll exports every session in key order and stops at the first error.
func (s *ExportService) ExportAll(ctx context.Context, opts ExportOptions) ([]ExportResult, error) {
	if s == nil || s.Repo == nil {
		return nil, fmt.Errorf("export service not configured")
	}
	var results []ExportResult
	err := eachSession(ctx, s.Repo, func(sess models.Session) error {
		res, err := s.ExportSession(ctx, sess.Key(), opts)
		if errors.Is(err, ErrExportInProgress) {
			s.logWarn("export in progress elsewhere, skipped", zap.String("session", sess.Key().String()))
			results = append(results, ExportResult{Identifier: Identifier(sess), Skipped: true})
			return nil
		}
		if err != nil {
			return err
		}
		results = append(results, *res)
		return nil
	})
	return results, err
}

// ExportSession writes the container of one session. With Overwrite unset
// an existing container is left untouched and the result is marked skipped.
func (s *ExportService) ExportSession(ctx context.Context, key models.SessionKey, opts ExportOptions) (*ExportResult, error) {
	if s == nil || s.Repo == nil {
		return nil, fmt.Errorf("export service not configured")
	}
	if opts.Container == "" {
		opts.Container = ContainerDirectory
	}
	if opts.Container != ContainerDirectory && opts.Container != ContainerZip {
		return nil, fmt.Errorf("unknown export container %q", opts.Container)
	}

	sess, err := s.Repo.GetSession(ctx, key)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, key)
	}
	res := &ExportResult{Identifier: Identifier(*sess)}
	res.Path = OutputPath(opts, res.Identifier)

	release, err := s.lock(ctx, res.Identifier)
	if err != nil {
		return nil, err
	}
	defer release()

	if !opts.Overwrite && opts.wants(FormatNWB) && exists(res.Path) {
		res.Skipped = true
		if s.Logger != nil {
			s.Logger.Info("export exists, skipped", zap.String("identifier", res.Identifier), zap.String("path", res.Path))
		}
		return res, nil
	}

	b, err := s.build(ctx, *sess)
	if err != nil {
		return nil, fmt.Errorf("export %s: %w", res.Identifier, err)
	}
	if b.file.HasUnits() {
		res.Units = b.file.Units().Len()
	}
	if b.file.HasTrials() {
		res.Trials = b.file.Trials().Len()
	}
	res.PSTHs = len(b.psths)

	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, err
	}
	if opts.wants(FormatNWB) {
		if err := s.writeNWB(res.Path, b.file, opts); err != nil {
			return nil, fmt.Errorf("export %s: %w", res.Identifier, err)
		}
	} else {
		res.Path = ""
	}
	if opts.wants(FormatEDF) {
		paths, err := s.writeEDF(ctx, opts, res.Identifier, *sess, b)
		if err != nil {
			return nil, fmt.Errorf("export %s: %w", res.Identifier, err)
		}
		res.EDFPaths = paths
	}

	if s.Logger != nil {
		s.Logger.Info("session exported",
			zap.String("identifier", res.Identifier),
			zap.String("path", res.Path),
			zap.Int("units", res.Units),
			zap.Int("trials", res.Trials),
			zap.Int("psths", res.PSTHs),
		)
	}
	return res, nil
}

func (s *ExportService) lock(ctx context.Context, identifier string) (func(), error) {
	locker := s.Locker
	if locker == nil {
		locker = processExportLocker
	}
	ttl := s.LockTTL
	if ttl <= 0 {
		ttl = defaultExportLockTTL
	}
	release, ok, err := locker.TryLock(ctx, "export:"+identifier, ttl)
	if err != nil {
		return nil, fmt.Errorf("export %s: lock: %w", identifier, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrExportInProgress, identifier)
	}
	return release, nil
}

// built is an assembled file plus the rows the EDF export reuses.
type built struct {
	file   *nwb.File
	units  []models.UnitSpikeTimes
	trials []models.Trial
	psths  []models.UnitPSTH
}

func (s *ExportService) build(ctx context.Context, sess models.Session) (*built, error) {
	key := sess.Key()
	loc := time.UTC
	if tz := strings.TrimSpace(s.Config.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("export timezone: %w", err)
		}
		loc = l
	}
	y, m, d := sess.SessionTime.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)

	f := nwb.NewFile(Identifier(sess), sess.SessionNote, start)
	f.Institution = s.Config.Institution
	f.RelatedPublications = s.Config.RelatedPublications

	experimenters, err := s.Repo.ListExperimenters(ctx, key)
	if err != nil {
		return nil, err
	}
	f.Experimenters = experimenters

	subj, err := s.Repo.GetSubject(ctx, sess.SubjectID)
	if err != nil {
		return nil, err
	}
	if subj != nil {
		alleles, err := s.Repo.ListSubjectAlleles(ctx, sess.SubjectID)
		if err != nil {
			return nil, err
		}
		names := make([]string, len(alleles))
		for i, a := range alleles {
			names[i] = a.Allele
		}
		f.Subject = &nwb.Subject{
			SubjectID:   subj.SubjectID,
			Description: subj.SubjectDescription,
			Genotype:    strings.Join(names, " x "),
			Sex:         subj.Sex,
			Species:     subj.Species,
		}
	}

	b := &built{file: f}
	if err := s.addUnits(ctx, b, key); err != nil {
		return nil, err
	}
	if err := s.addLicks(ctx, f, key); err != nil {
		return nil, err
	}
	if err := s.addTrials(ctx, b, key); err != nil {
		return nil, err
	}
	if err := s.addPSTHs(ctx, b, key); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *ExportService) addUnits(ctx context.Context, b *built, key models.SessionKey) error {
	f := b.file
	insertion, err := s.Repo.GetProbeInsertion(ctx, key)
	if err != nil || insertion == nil {
		return err
	}

	device := f.CreateDevice(insertion.ProbeName, "")
	group := f.CreateElectrodeGroup(
		fmt.Sprintf("%s: %d", insertion.ProbeName, insertion.ChannelCounts),
		"N/A",
		insertion.Location().Describe(),
		device,
	)
	channels, err := s.Repo.ListProbeChannels(ctx, insertion.Probe())
	if err != nil {
		return err
	}
	for _, ch := range channels {
		if err := f.AddElectrode(ch.ChannelID, 0, 0, 0, -1, s.Config.HardwareFilter, group); err != nil {
			return err
		}
	}

	units := f.Units()
	for _, c := range []struct {
		name, desc string
		kind       nwb.ColumnKind
	}{
		{"depth", "depth this unit", nwb.FloatColumn},
		{"quality", "quality of the spike sorted unit", nwb.TextColumn},
		{"cell_type", "cell type (e.g. PTlower, PTupper)", nwb.TextColumn},
	} {
		if _, err := units.AddColumn(c.name, c.desc, c.kind); err != nil {
			return err
		}
	}

	rows, err := s.Repo.ListUnits(ctx, key)
	if err != nil {
		return err
	}
	electrodes := f.Electrodes()
	for _, u := range rows {
		spikes, err := models.DecodeFloats(u.SpikeTimes)
		if err != nil {
			return fmt.Errorf("unit %d: %w", u.UnitID, err)
		}
		region := []int{}
		if idx, ok := electrodes.IndexOf(int64(u.ChannelID)); ok {
			region = append(region, idx)
		} else {
			s.logWarn("unit channel not on probe", zap.String("subject_id", key.SubjectID), zap.Int("session_id", key.SessionID), zap.Int("unit_id", u.UnitID), zap.Int("channel_id", u.ChannelID))
		}
		if err := units.AddRow(int64(u.UnitID), map[string]any{
			"spike_times": spikes,
			"electrodes":  region,
			"depth":       u.UnitDepth,
			"quality":     u.UnitQuality,
			"cell_type":   string(u.UnitCellType),
		}); err != nil {
			return err
		}
	}
	b.units = rows
	return nil
}

func (s *ExportService) addLicks(ctx context.Context, f *nwb.File, key models.SessionKey) error {
	licks, err := s.Repo.GetLickTimes(ctx, key)
	if err != nil || licks == nil {
		return err
	}
	be := &nwb.BehavioralEvents{Name: "lick_times"}
	for _, series := range []struct {
		name string
		raw  []byte
	}{
		{"lick_left_times", licks.LickLeftTimes},
		{"lick_right_times", licks.LickRightTimes},
	} {
		stamps, err := models.DecodeFloats(series.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", series.name, err)
		}
		ones := make([]float64, len(stamps))
		for i := range ones {
			ones[i] = 1
		}
		if _, err := be.CreateTimeSeries(series.name, "a.u.", ones, stamps); err != nil {
			return err
		}
	}
	f.AddAcquisition(be)
	return nil
}

func (s *ExportService) addTrials(ctx context.Context, b *built, key models.SessionKey) error {
	set, err := s.Repo.GetTrialSet(ctx, key)
	if err != nil || set == nil {
		return err
	}
	trials, err := s.Repo.ListTrials(ctx, key)
	if err != nil {
		return err
	}
	events, err := s.Repo.ListEventTimes(ctx, key)
	if err != nil {
		return err
	}

	names := map[string]bool{}
	byTrial := map[int]map[string]float64{}
	for _, e := range events {
		if e.TrialEvent == models.EventTrialStart || e.TrialEvent == models.EventTrialStop {
			continue
		}
		names[e.TrialEvent] = true
		if byTrial[e.TrialID] == nil {
			byTrial[e.TrialID] = map[string]float64{}
		}
		byTrial[e.TrialID][e.TrialEvent] = e.EventTime
	}
	eventNames := make([]string, 0, len(names))
	for n := range names {
		eventNames = append(eventNames, n)
	}
	sort.Strings(eventNames)
	described, err := s.Repo.ListExperimentalEvents(ctx, eventNames)
	if err != nil {
		return err
	}
	descriptions := map[string]string{}
	for _, e := range described {
		descriptions[e.Event] = e.Description
	}

	table := b.file.Trials()
	for _, c := range models.TrialColumnDescriptions {
		kind := nwb.TextColumn
		if c.Name == "trial_stim_present" || c.Name == "trial_is_good" {
			kind = nwb.IntColumn
		}
		if _, err := table.AddColumn(c.Name, c.Description, kind); err != nil {
			return err
		}
	}
	for _, n := range eventNames {
		if _, err := table.AddColumn(n, descriptions[n], nwb.FloatColumn); err != nil {
			return err
		}
	}

	for _, tr := range trials {
		row := map[string]any{
			"start_time":         tr.StartTime,
			"stop_time":          nil,
			"trial_stim_present": tr.TrialStimPresent,
			"trial_is_good":      tr.TrialIsGood,
			"trial_type":         tr.TrialType,
			"trial_response":     tr.TrialResponse,
		}
		for _, n := range eventNames {
			if v, ok := byTrial[tr.TrialID][n]; ok {
				row[n] = v
			} else {
				row[n] = nil
			}
		}
		if err := table.AddRow(int64(tr.TrialID), row); err != nil {
			return err
		}
	}
	b.trials = trials
	return nil
}

func (s *ExportService) addPSTHs(ctx context.Context, b *built, key models.SessionKey) error {
	f := b.file
	if !f.HasUnits() || !f.HasTrials() {
		return nil
	}
	rows, err := s.Repo.ListUnitPSTHs(ctx, key, nil)
	if err != nil || len(rows) == 0 {
		return err
	}

	table := nwb.NewDynamicTable("PSTH", "trial-aligned unit PSTH")
	if _, err := table.AddRegionColumn("unit_id", "unit_id - link to the units table", f.Units(), false); err != nil {
		return err
	}
	if _, err := table.AddRegionColumn("trial_id", "trial_id - link to the trial table", f.Trials(), false); err != nil {
		return err
	}
	if _, err := table.AddColumn("trial_seg_setting", "trial segmentation setting the PSTH was computed under", nwb.IntColumn); err != nil {
		return err
	}
	if _, err := table.AddColumn("psth", "trial-aligned unit PSTH", nwb.RaggedFloatColumn); err != nil {
		return err
	}
	if _, err := table.AddColumn("psth_time", "timestamps of the PSTH", nwb.RaggedFloatColumn); err != nil {
		return err
	}

	kept := rows[:0]
	for _, p := range rows {
		unitIdx, okUnit := f.Units().IndexOf(int64(p.UnitID))
		trialIdx, okTrial := f.Trials().IndexOf(int64(p.TrialID))
		if !okUnit || !okTrial {
			s.logWarn("psth row without unit or trial", zap.String("subject_id", key.SubjectID), zap.Int("session_id", key.SessionID), zap.Int("unit_id", p.UnitID), zap.Int("trial_id", p.TrialID))
			continue
		}
		psth, err := models.DecodeFloats(p.PSTH)
		if err != nil {
			return err
		}
		psthTime, err := models.DecodeFloats(p.PSTHTime)
		if err != nil {
			return err
		}
		if err := table.AddRow(int64(table.Len()), map[string]any{
			"unit_id":           unitIdx,
			"trial_id":          trialIdx,
			"trial_seg_setting": int64(p.TrialSegSetting),
			"psth":              psth,
			"psth_time":         psthTime,
		}); err != nil {
			return err
		}
		kept = append(kept, p)
	}
	f.CreateProcessingModule("ecephys", "trial-aligned unit PSTH").Add(table)
	b.psths = kept
	return nil
}

// writeNWB writes to a temp path of its own next to path and renames it
// into place, so a failed export never leaves a partial container at path.
func (s *ExportService) writeNWB(path string, f *nwb.File, opts ExportOptions) (err error) {
	dir, base := filepath.Dir(path), filepath.Base(path)
	var tmp string
	if opts.Container == ContainerZip {
		fh, err := os.CreateTemp(dir, base+".partial-*")
		if err != nil {
			return err
		}
		tmp = fh.Name()
		_ = fh.Close()
		_ = os.Chmod(tmp, 0o644)
	} else {
		if tmp, err = os.MkdirTemp(dir, base+".partial-*"); err != nil {
			return err
		}
		_ = os.Chmod(tmp, 0o755)
	}
	defer func() {
		if err != nil {
			_ = os.RemoveAll(tmp)
		}
	}()

	var store zarr.Store
	if opts.Container == ContainerZip {
		store, err = zarr.NewZipStore(tmp)
	} else {
		store, err = zarr.NewDirStore(tmp)
	}
	if err != nil {
		return err
	}

	var zopts []zarr.Option
	if strings.EqualFold(opts.Compression, "gzip") {
		level := opts.CompressionLevel
		if level <= 0 {
			level = 5
		}
		zopts = append(zopts, zarr.WithGzip(level))
	}
	werr := nwb.Write(store, f, zopts...)
	cerr := store.Close()
	if werr != nil {
		return werr
	}
	if cerr != nil {
		return cerr
	}

	if err := os.RemoveAll(path); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// writeEDF writes one EDF file per segmentation setting that has PSTHs.
func (s *ExportService) writeEDF(ctx context.Context, opts ExportOptions, identifier string, sess models.Session, b *built) ([]string, error) {
	if len(b.psths) == 0 {
		return nil, nil
	}
	bySetting := map[uint][]models.UnitPSTH{}
	var ids []uint
	for _, p := range b.psths {
		if _, ok := bySetting[p.TrialSegSetting]; !ok {
			ids = append(ids, p.TrialSegSetting)
		}
		bySetting[p.TrialSegSetting] = append(bySetting[p.TrialSegSetting], p)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	settings, err := s.Repo.ListSegmentationSettings(ctx, ids)
	if err != nil {
		return nil, err
	}
	events := map[uint]string{}
	for _, st := range settings {
		events[st.TrialSegSetting] = st.Event
	}

	var paths []string
	for _, id := range ids {
		set, err := psthSet(identifier, sess, events[id], b.units, b.trials, bySetting[id])
		if err != nil {
			return paths, fmt.Errorf("setting %d: %w", id, err)
		}
		p := filepath.Join(opts.OutputDir, fmt.Sprintf("%s_psth_%d.edf", identifier, id))
		if !opts.Overwrite && exists(p) {
			continue
		}
		if err := writeEDFFile(p, set); err != nil {
			return paths, fmt.Errorf("setting %d: %w", id, err)
		}
		paths = append(paths, p)
	}
	return paths, nil
}

func psthSet(identifier string, sess models.Session, event string, units []models.UnitSpikeTimes, trials []models.Trial, rows []models.UnitPSTH) (edf.PSTHSet, error) {
	set := edf.PSTHSet{
		PatientID:   sess.SubjectID,
		RecordingID: identifier,
		StartTime:   sess.SessionTime,
		Alignment:   event,
		UnitIDs:     make([]int, len(units)),
		TrialIDs:    make([]int, len(trials)),
		Rates:       make([][][]float64, len(units)),
	}
	unitPos := map[int]int{}
	for i, u := range units {
		set.UnitIDs[i] = u.UnitID
		unitPos[u.UnitID] = i
		set.Rates[i] = make([][]float64, len(trials))
	}
	trialPos := map[int]int{}
	for i, tr := range trials {
		set.TrialIDs[i] = tr.TrialID
		trialPos[tr.TrialID] = i
	}

	for _, p := range rows {
		u, okU := unitPos[p.UnitID]
		n, okN := trialPos[p.TrialID]
		if !okU || !okN {
			continue
		}
		rate, err := models.DecodeFloats(p.PSTH)
		if err != nil {
			return set, err
		}
		set.Rates[u][n] = rate
		if set.BinWidth == 0 {
			axis, err := models.DecodeFloats(p.PSTHTime)
			if err != nil {
				return set, err
			}
			if len(axis) > 1 {
				set.BinWidth = axis[1] - axis[0]
			}
		}
	}
	if set.BinWidth <= 0 {
		return set, fmt.Errorf("cannot derive bin width from psth time axis")
	}
	return set, nil
}

func writeEDFFile(path string, set edf.PSTHSet) (err error) {
	fh, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".partial-*")
	if err != nil {
		return err
	}
	tmp := fh.Name()
	_ = fh.Chmod(0o644)
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()
	_, werr := edf.WritePSTH(fh, set)
	cerr := fh.Close()
	if werr != nil {
		return werr
	}
	if cerr != nil {
		return cerr
	}
	return os.Rename(tmp, path)
}

func (s *ExportService) logWarn(msg string, fields ...zap.Field) {
	if s != nil && s.Logger != nil {
		s.Logger.Warn(msg, fields...)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
