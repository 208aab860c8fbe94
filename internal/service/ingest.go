package service

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/archive"
	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/celltype"
	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/config"
	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/models"
	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/repository"
)

// IngestService loads processed-data archives into the relational schema.
// Every insert is idempotent, so a file can be ingested any number of times.
type IngestService struct {
	Repo         repository.Repository
	Logger       *zap.Logger
	Config       config.IngestConfig
	Segmentation config.SegmentationConfig
	CellTypes    *celltype.Table
}

// IngestResult counts what one archive added to the schema.
type IngestResult struct {
	File         string `json:"file"`
	Sessions     int    `json:"sessions"`
	NewSessions  int    `json:"new_sessions"`
	NewTrialSets int    `json:"new_trial_sets"`
	Trials       int    `json:"trials"`
	Units        int64  `json:"units"`
	PSTHs        int    `json:"psths"`
}

// Seed writes the reference rows ingestion and segmentation depend on.
func (s *IngestService) Seed(ctx context.Context) error {
	if err := s.Repo.SeedExperimentalEvents(ctx, models.DefaultExperimentalEvents()); err != nil {
		return fmt.Errorf("seed experimental events: %w", err)
	}
	settings, err := SegmentationSettings(s.Segmentation)
	if err != nil {
		return err
	}
	if err := s.Repo.UpsertSegmentationSettings(ctx, settings); err != nil {
		return fmt.Errorf("seed segmentation settings: %w", err)
	}
	return nil
}

// IngestDir ingests every archive in dir matching the configured pattern,
// in lexical order. The first failing file aborts the run.
func (s *IngestService) IngestDir(ctx context.Context, dir string) ([]IngestResult, error) {
	if dir == "" {
		dir = s.Config.DataDir
	}
	pattern := s.Config.Pattern
	if pattern == "" {
		pattern = "*.mat"
	}
	files, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	if len(files) == 0 {
		s.logWarn("no archives found", zap.String("dir", dir), zap.String("pattern", pattern))
		return nil, nil
	}

	if err := s.Seed(ctx); err != nil {
		return nil, err
	}
	results := make([]IngestResult, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := s.IngestFile(ctx, f)
		if err != nil {
			return results, err
		}
		results = append(results, *res)
	}
	return results, nil
}

// IngestFile parses one archive and inserts every session in it.
func (s *IngestService) IngestFile(ctx context.Context, path string) (*IngestResult, error) {
	if s == nil || s.Repo == nil {
		return nil, fmt.Errorf("ingest service not configured")
	}
	a, err := archive.Open(path)
	if err != nil {
		return nil, err
	}
	cellType, err := s.CellTypes.Lookup(a.Name)
	if err != nil {
		return nil, fmt.Errorf("archive %s: %w", a.Name, err)
	}
	if err := s.Repo.SeedExperimentalEvents(ctx, models.DefaultExperimentalEvents()); err != nil {
		return nil, err
	}

	res := &IngestResult{File: filepath.Base(path), Sessions: len(a.Sessions)}
	for i := range a.Sessions {
		sess := &a.Sessions[i]
		if err := s.ingestSession(ctx, a, sess, cellType, res); err != nil {
			return nil, fmt.Errorf("archive %s: session %d: %w", a.Name, sess.Index, err)
		}
	}

	if err := s.Repo.RecordIngestedFile(ctx, &models.IngestedFile{
		FileName:   res.File,
		Sessions:   len(a.Sessions),
		IngestedAt: time.Now().UTC(),
	}); err != nil {
		return nil, err
	}
	if s.Logger != nil {
		s.Logger.Info("archive ingested",
			zap.String("file", res.File),
			zap.Int("sessions", res.Sessions),
			zap.Int("new_sessions", res.NewSessions),
			zap.Int("trials", res.Trials),
			zap.Int64("units", res.Units),
			zap.Int("psths", res.PSTHs),
		)
	}
	return res, nil
}

func (s *IngestService) ingestSession(ctx context.Context, a *archive.Archive, sess *archive.Session, cellType models.CellType, res *IngestResult) error {
	key := models.SessionKey{SubjectID: sess.SubjectID, SessionID: sess.Index}

	if err := s.Repo.InsertSubject(ctx, &models.Subject{
		SubjectID:    sess.SubjectID,
		Species:      defaultString(s.Config.Species, "Mus musculus"),
		AnimalSource: defaultString(s.Config.AnimalSource, "N/A"),
		Sex:          "U",
	}); err != nil {
		return err
	}

	created, err := s.Repo.CreateSessionIfAbsent(ctx, &models.Session{
		SubjectID:   key.SubjectID,
		SessionID:   key.SessionID,
		SessionTime: sess.Date,
	}, s.Config.Experimenters)
	if err != nil {
		return err
	}
	if created {
		res.NewSessions++
		if s.Logger != nil {
			s.Logger.Info("session created", zap.String("subject_id", key.SubjectID), zap.Int("session_id", key.SessionID), zap.Time("session_time", sess.Date))
		}
	}

	probe, shanks, channels := probeRows(sess.Probe)
	if _, err := s.Repo.CreateProbeIfAbsent(ctx, &probe, shanks, channels); err != nil {
		return err
	}

	location := models.BrainLocation{
		BrainRegion:    sess.Location.Region,
		BrainSubregion: defaultString(s.Config.BrainSubregion, "N/A"),
		CorticalLayer:  defaultString(s.Config.CorticalLayer, "5"),
		Hemisphere:     sess.Location.Hemisphere,
	}
	if err := s.Repo.InsertBrainLocation(ctx, &location); err != nil {
		return err
	}
	insertion := models.ProbeInsertion{
		SubjectID:      key.SubjectID,
		SessionID:      key.SessionID,
		ProbeName:      probe.ProbeName,
		ChannelCounts:  probe.ChannelCounts,
		BrainRegion:    location.BrainRegion,
		BrainSubregion: location.BrainSubregion,
		CorticalLayer:  location.CorticalLayer,
		Hemisphere:     location.Hemisphere,
		InsertionDepth: decimal.NewFromFloat(sess.InsertionDepth).Round(2),
	}
	if err := s.Repo.InsertProbeInsertion(ctx, &insertion); err != nil {
		return err
	}

	trials, events := trialRows(key, sess.Trials)
	created, err = s.Repo.CreateTrialSetIfAbsent(ctx, &models.TrialSet{
		SubjectID:   key.SubjectID,
		SessionID:   key.SessionID,
		TrialCounts: len(trials),
	}, trials, events)
	if err != nil {
		return err
	}
	if created {
		res.NewTrialSets++
		res.Trials += len(trials)
	}

	before, err := s.Repo.CountUnits(ctx, key)
	if err != nil {
		return err
	}
	if err := s.Repo.InsertUnits(ctx, unitRows(insertion, sess.Units, cellType)); err != nil {
		return err
	}
	after, err := s.Repo.CountUnits(ctx, key)
	if err != nil {
		return err
	}
	res.Units += after - before

	if err := s.Repo.InsertLickTimes(ctx, &models.LickTimes{
		SubjectID:      key.SubjectID,
		SessionID:      key.SessionID,
		LickLeftTimes:  models.EncodeFloats(sess.LickLeft),
		LickRightTimes: models.EncodeFloats(sess.LickRight),
	}); err != nil {
		return err
	}

	if len(sess.PSTH) > 0 {
		n, err := s.importPSTHs(ctx, insertion, sess, a.PSTHTime)
		if err != nil {
			return err
		}
		res.PSTHs += n
	}
	return nil
}

// importPSTHs stores the archive's precomputed PSTHs under the configured
// segmentation setting and reports how many rows were new.
func (s *IngestService) importPSTHs(ctx context.Context, insertion models.ProbeInsertion, sess *archive.Session, psthTime []float64) (int, error) {
	key := models.SessionKey{SubjectID: insertion.SubjectID, SessionID: insertion.SessionID}
	setting := s.Config.PSTHSetting
	before, err := s.Repo.ListUnitPSTHKeys(ctx, key, setting)
	if err != nil {
		return 0, err
	}

	timeAxis := models.EncodeFloats(psthTime)
	var rows []models.UnitPSTH
	for u, trials := range sess.PSTH {
		unitID := sess.Units[u].ID
		for n, psth := range trials {
			rows = append(rows, models.UnitPSTH{
				SubjectID:       insertion.SubjectID,
				SessionID:       insertion.SessionID,
				ProbeName:       insertion.ProbeName,
				UnitID:          unitID,
				TrialID:         sess.Trials[n].ID,
				TrialSegSetting: setting,
				PSTH:            models.EncodeFloats(psth),
				PSTHTime:        timeAxis,
				Origin:          models.PSTHOriginImported,
			})
		}
	}
	if err := s.Repo.InsertUnitPSTHs(ctx, rows); err != nil {
		return 0, err
	}
	after, err := s.Repo.ListUnitPSTHKeys(ctx, key, setting)
	if err != nil {
		return 0, err
	}
	return len(after) - len(before), nil
}

func probeRows(p archive.Probe) (models.Probe, []models.ProbeShank, []models.ProbeChannel) {
	probe := models.Probe{ProbeName: p.Name, ChannelCounts: p.ChannelCounts(), ProbeType: p.Type}
	shanks := make([]models.ProbeShank, 0, len(p.Shanks))
	var channels []models.ProbeChannel
	for _, sh := range p.Shanks {
		shanks = append(shanks, models.ProbeShank{ProbeName: probe.ProbeName, ChannelCounts: probe.ChannelCounts, ShankID: sh.ID})
		for _, ch := range sh.Channels {
			channels = append(channels, models.ProbeChannel{
				ProbeName:     probe.ProbeName,
				ChannelCounts: probe.ChannelCounts,
				ChannelID:     ch,
				ShankID:       sh.ID,
			})
		}
	}
	return probe, shanks, channels
}

func trialRows(key models.SessionKey, in []archive.Trial) ([]models.Trial, []models.EventTime) {
	trials := make([]models.Trial, 0, len(in))
	events := make([]models.EventTime, 0, 3*len(in))
	for _, tr := range in {
		trials = append(trials, models.Trial{
			SubjectID:        key.SubjectID,
			SessionID:        key.SessionID,
			TrialID:          tr.ID,
			StartTime:        tr.StartTime,
			TrialStimPresent: tr.StimPresent,
			TrialIsGood:      tr.Good,
			TrialType:        tr.Type,
			TrialResponse:    tr.Response,
		})
		for _, e := range []struct {
			name string
			at   float64
		}{
			{models.EventPoleIn, tr.PoleIn},
			{models.EventPoleOut, tr.PoleOut},
			{models.EventCueStart, tr.CueStart},
		} {
			events = append(events, models.EventTime{
				SubjectID:  key.SubjectID,
				SessionID:  key.SessionID,
				TrialID:    tr.ID,
				TrialEvent: e.name,
				EventTime:  e.at,
			})
		}
	}
	return trials, events
}

func unitRows(insertion models.ProbeInsertion, in []archive.Unit, cellType models.CellType) []models.UnitSpikeTimes {
	out := make([]models.UnitSpikeTimes, 0, len(in))
	for _, u := range in {
		out = append(out, models.UnitSpikeTimes{
			SubjectID:    insertion.SubjectID,
			SessionID:    insertion.SessionID,
			ProbeName:    insertion.ProbeName,
			UnitID:       u.ID,
			ChannelID:    u.Channel,
			UnitCellType: cellType,
			UnitQuality:  u.Quality,
			UnitDepth:    u.Depth,
			SpikeTimes:   models.EncodeFloats(u.SpikeTimes),
		})
	}
	return out
}

// SegmentationSettings converts the configured windows into rows.
func SegmentationSettings(cfg config.SegmentationConfig) ([]models.TrialSegmentationSetting, error) {
	out := make([]models.TrialSegmentationSetting, 0, len(cfg.Settings))
	seen := map[uint]bool{}
	for _, st := range cfg.Settings {
		if seen[st.ID] {
			return nil, fmt.Errorf("segmentation setting %d defined twice", st.ID)
		}
		seen[st.ID] = true
		if strings.TrimSpace(st.Event) == "" {
			return nil, fmt.Errorf("segmentation setting %d: event is required", st.ID)
		}
		if st.Pre < 0 || st.Post < 0 || st.BinSize < 0 {
			return nil, fmt.Errorf("segmentation setting %d: negative duration", st.ID)
		}
		out = append(out, models.TrialSegmentationSetting{
			TrialSegSetting:  st.ID,
			Event:            st.Event,
			PreStimDuration:  decimal.NewFromFloat(st.Pre),
			PostStimDuration: decimal.NewFromFloat(st.Post),
			BinSize:          decimal.NewFromFloat(st.BinSize),
		})
	}
	return out, nil
}

func (s *IngestService) logWarn(msg string, fields ...zap.Field) {
	if s != nil && s.Logger != nil {
		s.Logger.Warn(msg, fields...)
	}
}

func defaultString(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
