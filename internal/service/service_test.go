package service

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/tidwall/gjson"

	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/archive/archivetest"
	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/celltype"
	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/config"
	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/db"
	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/edf"
	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/models"
	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/repository"
	gormrepository "github.com/datajoint-company/DJ-NWB-Economo-2018/internal/repository/gorm"
)

const recording = "ALM_Projections"

var (
	cueSetting    = config.SegmentationSetting{ID: 0, Event: models.EventCueStart, Pre: 1.5, Post: 3.0}
	poleInSetting = config.SegmentationSetting{ID: 1, Event: models.EventPoleIn, Pre: 0.5, Post: 2.0, BinSize: 0.05}
)

func newTestRepo(t *testing.T) repository.Repository {
	t.Helper()
	conn, err := db.Open(config.DBConfig{Driver: db.DriverSQLite, DSN: filepath.Join(t.TempDir(), "economo.db")})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(conn) })
	if err := db.AutoMigrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gormrepository.New(conn.Gorm).WithBatchSize(5)
}

// writeFixture writes an archive with a 2-unit, 4-trial session and a
// 1-unit, 3-trial session.
func writeFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	err := archivetest.Write(filepath.Join(dir, recording+".mat"),
		archivetest.Session{Subject: "ANM1", Date: "20171102", Units: 2, Trials: 4},
		archivetest.Session{Subject: "ANM1", Date: "20171103", Units: 1, Trials: 3},
	)
	if err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return dir
}

func newIngest(repo repository.Repository) *IngestService {
	return &IngestService{
		Repo: repo,
		Config: config.IngestConfig{
			Pattern:       "*.mat",
			Experimenters: []string{"Mike Economo"},
			PSTHSetting:   cueSetting.ID,
		},
		Segmentation: config.SegmentationConfig{Settings: []config.SegmentationSetting{cueSetting, poleInSetting}},
		CellTypes:    celltype.New(map[string]models.CellType{recording: models.CellTypePTLower}),
	}
}

func ingestFixture(t *testing.T, repo repository.Repository) {
	t.Helper()
	if _, err := newIngest(repo).IngestDir(context.Background(), writeFixture(t)); err != nil {
		t.Fatalf("ingest: %v", err)
	}
}

func TestIngestIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	dir := writeFixture(t)
	svc := newIngest(repo)

	first, err := svc.IngestDir(ctx, dir)
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("results=%d want=1", len(first))
	}
	got := first[0]
	if got.Sessions != 2 || got.NewSessions != 2 || got.NewTrialSets != 2 {
		t.Fatalf("first=%+v", got)
	}
	if got.Trials != 7 || got.Units != 3 || got.PSTHs != 11 {
		t.Fatalf("first=%+v want trials=7 units=3 psths=11", got)
	}

	second, err := svc.IngestDir(ctx, dir)
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	again := second[0]
	if again.NewSessions != 0 || again.NewTrialSets != 0 || again.Trials != 0 || again.Units != 0 || again.PSTHs != 0 {
		t.Fatalf("second=%+v want nothing new", again)
	}

	key := models.SessionKey{SubjectID: "anm1", SessionID: 0}
	units, err := repo.CountUnits(ctx, key)
	if err != nil || units != 2 {
		t.Fatalf("units=%d err=%v want=2", units, err)
	}
	trials, err := repo.CountTrials(ctx, key)
	if err != nil || trials != 4 {
		t.Fatalf("trials=%d err=%v want=4", trials, err)
	}
	files, err := repo.ListIngestedFiles(ctx)
	if err != nil || len(files) != 1 || files[0].Sessions != 2 {
		t.Fatalf("ingested files=%+v err=%v", files, err)
	}

	unit, err := repo.GetUnit(ctx, models.UnitKey{SubjectID: "anm1", SessionID: 0, ProbeName: archivetest.ProbeName, UnitID: archivetest.UnitID(0)})
	if err != nil || unit == nil {
		t.Fatalf("unit=%v err=%v", unit, err)
	}
	if unit.UnitCellType != models.CellTypePTLower {
		t.Fatalf("cell type=%q", unit.UnitCellType)
	}
}

func TestIngestUnknownRecordingAborts(t *testing.T) {
	svc := newIngest(newTestRepo(t))
	svc.CellTypes = celltype.New(nil)
	if _, err := svc.IngestDir(context.Background(), writeFixture(t)); err == nil {
		t.Fatalf("expected error for recording missing from the animal key")
	}
}

func TestSegmentationPopulate(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	ingestFixture(t, repo)
	svc := &SegmentationService{Repo: repo}

	res, err := svc.Populate(ctx)
	if err != nil {
		t.Fatalf("populate: %v", err)
	}
	// (2 units x 4 trials + 1 unit x 3 trials) per setting.
	if res.Inserted != 22 || res.Skipped != 0 || res.Sessions != 2 {
		t.Fatalf("res=%+v", res)
	}

	again, err := svc.Populate(ctx)
	if err != nil || again.Inserted != 0 {
		t.Fatalf("again=%+v err=%v", again, err)
	}

	unitID, trialID, setting := archivetest.UnitID(1), 2, cueSetting.ID
	rows, err := repo.ListTrialSegments(ctx, repository.ListTrialSegmentsParams{
		Session:   models.SessionKey{SubjectID: "anm1", SessionID: 0},
		UnitID:    &unitID,
		TrialID:   &trialID,
		SettingID: &setting,
	})
	if err != nil || len(rows) != 1 {
		t.Fatalf("rows=%d err=%v", len(rows), err)
	}
	got, err := models.DecodeFloats(rows[0].SegmentedSpikeTimes)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != len(archivetest.SpikeOffsetsMS) {
		t.Fatalf("segmented=%v", got)
	}
	for i, ms := range archivetest.SpikeOffsetsMS {
		if math.Abs(got[i]-ms/1000) > 1e-9 {
			t.Fatalf("segmented[%d]=%v want=%v", i, got[i], ms/1000)
		}
	}
}

func TestSegmentationSkipsMissingEvent(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	ingestFixture(t, repo)

	// Trials carry no stop time, so aligning on trial_stop has nothing to use.
	stop, err := SegmentationSettings(config.SegmentationConfig{Settings: []config.SegmentationSetting{
		{ID: 7, Event: models.EventTrialStop, Pre: 1, Post: 1},
	}})
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	if err := repo.UpsertSegmentationSettings(ctx, stop); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	res, err := (&SegmentationService{Repo: repo}).Populate(ctx, 7)
	if err != nil {
		t.Fatalf("populate: %v", err)
	}
	if res.Inserted != 0 || res.Skipped != 11 {
		t.Fatalf("res=%+v want inserted=0 skipped=11", res)
	}
}

func TestPSTHPopulate(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	ingestFixture(t, repo)
	if _, err := (&SegmentationService{Repo: repo}).Populate(ctx); err != nil {
		t.Fatalf("segment: %v", err)
	}

	svc := &PSTHService{Repo: repo}
	res, err := svc.Populate(ctx)
	if err != nil {
		t.Fatalf("psth: %v", err)
	}
	// Only the binned setting is computed; the cue setting holds imported rows.
	if res.Inserted != 11 {
		t.Fatalf("inserted=%d want=11", res.Inserted)
	}
	again, err := svc.Populate(ctx)
	if err != nil || again.Inserted != 0 {
		t.Fatalf("again=%+v err=%v", again, err)
	}

	setting := poleInSetting.ID
	rows, err := repo.ListUnitPSTHs(ctx, models.SessionKey{SubjectID: "anm1", SessionID: 0}, &setting)
	if err != nil || len(rows) != 8 {
		t.Fatalf("rows=%d err=%v want=8", len(rows), err)
	}
	if rows[0].Origin != models.PSTHOriginComputed {
		t.Fatalf("origin=%q", rows[0].Origin)
	}
	rate, _ := models.DecodeFloats(rows[0].PSTH)
	if len(rate) != 50 {
		t.Fatalf("bins=%d want=50", len(rate))
	}
	total := 0.0
	for _, r := range rate {
		total += r * poleInSetting.BinSize
	}
	// Two of the three spikes fall inside [pole_in-0.5, pole_in+2].
	if math.Abs(total-2) > 1e-9 {
		t.Fatalf("spike count=%v want=2", total)
	}

	cue := cueSetting.ID
	imported, err := repo.ListUnitPSTHs(ctx, models.SessionKey{SubjectID: "anm1", SessionID: 0}, &cue)
	if err != nil || len(imported) != 8 || imported[0].Origin != models.PSTHOriginImported {
		t.Fatalf("imported=%d err=%v", len(imported), err)
	}
}

func newExport(repo repository.Repository) *ExportService {
	return &ExportService{
		Repo: repo,
		Config: config.ExportConfig{
			Institution:         "Janelia Research Campus",
			RelatedPublications: []string{"https://doi.org/10.1038/s41586-018-0642-9"},
			HardwareFilter:      "Bandpass filtered 300-6K Hz",
			Timezone:            "UTC",
		},
	}
}

func readJSON(t *testing.T, path string) []byte {
	t.Helper()
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return raw
}

func TestExportSessionMatchesStore(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	ingestFixture(t, repo)

	opts := ExportOptions{
		OutputDir:   t.TempDir(),
		Container:   ContainerDirectory,
		Compression: "gzip",
		Formats:     []string{FormatNWB, FormatEDF},
	}
	key := models.SessionKey{SubjectID: "anm1", SessionID: 0}
	res, err := newExport(repo).ExportSession(ctx, key, opts)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if res.Identifier != "anm1_2017-11-02_0" {
		t.Fatalf("identifier=%q", res.Identifier)
	}
	if res.Skipped {
		t.Fatalf("unexpected skip")
	}

	units, _ := repo.CountUnits(ctx, key)
	trials, _ := repo.CountTrials(ctx, key)
	if int64(res.Units) != units || int64(res.Trials) != trials {
		t.Fatalf("res=%+v want units=%d trials=%d", res, units, trials)
	}

	root := res.Path
	if got := gjson.GetBytes(readJSON(t, filepath.Join(root, "units", "id", ".zarray")), "shape.0").Int(); got != units {
		t.Fatalf("units rows=%d want=%d", got, units)
	}
	if got := gjson.GetBytes(readJSON(t, filepath.Join(root, "intervals", "trials", "id", ".zarray")), "shape.0").Int(); got != trials {
		t.Fatalf("trial rows=%d want=%d", got, trials)
	}
	if got := gjson.GetBytes(readJSON(t, filepath.Join(root, ".zattrs")), "neurodata_type").String(); got != "NWBFile" {
		t.Fatalf("root type=%q", got)
	}
	electrodes := gjson.GetBytes(readJSON(t, filepath.Join(root, "general", "extracellular_ephys", "electrodes", "id", ".zarray")), "shape.0").Int()
	if electrodes != 8 {
		t.Fatalf("electrodes=%d want=8", electrodes)
	}
	trialCols := gjson.GetBytes(readJSON(t, filepath.Join(root, "intervals", "trials", ".zattrs")), "colnames").Raw
	want := `["start_time","stop_time","trial_stim_present","trial_is_good","trial_type","trial_response","cue_start","pole_in","pole_out"]`
	if trialCols != want {
		t.Fatalf("trial columns=%s", trialCols)
	}
	if got := gjson.GetBytes(readJSON(t, filepath.Join(root, "processing", "ecephys", "PSTH", "id", ".zarray")), "shape.0").Int(); got != 8 {
		t.Fatalf("psth rows=%d want=8", got)
	}
	if _, err := os.Stat(filepath.Join(root, "acquisition", "lick_times", "lick_right_times", "timestamps", ".zarray")); err != nil {
		t.Fatalf("lick series: %v", err)
	}
	if _, err := os.Stat(root + ".partial"); !os.IsNotExist(err) {
		t.Fatalf("temp output left behind: %v", err)
	}

	if len(res.EDFPaths) != 1 {
		t.Fatalf("edf paths=%v", res.EDFPaths)
	}
	fh, err := os.Open(res.EDFPaths[0])
	if err != nil {
		t.Fatalf("open edf: %v", err)
	}
	defer fh.Close()
	er, err := edf.Open(fh)
	if err != nil {
		t.Fatalf("read edf: %v", err)
	}
	if hdr := er.Header(); hdr.Records != 4 || len(hdr.Signals) != 2 {
		t.Fatalf("edf records=%d signals=%d", hdr.Records, len(hdr.Signals))
	}
}

func TestExportWithoutOverwriteIsNoop(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	ingestFixture(t, repo)
	svc := newExport(repo)
	opts := ExportOptions{OutputDir: t.TempDir(), Container: ContainerDirectory}
	key := models.SessionKey{SubjectID: "anm1", SessionID: 1}

	first, err := svc.ExportSession(ctx, key, opts)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	attrs := filepath.Join(first.Path, ".zattrs")
	before := readJSON(t, attrs)

	second, err := svc.ExportSession(ctx, key, opts)
	if err != nil {
		t.Fatalf("second export: %v", err)
	}
	if !second.Skipped {
		t.Fatalf("expected skip")
	}
	if string(readJSON(t, attrs)) != string(before) {
		t.Fatalf("existing output was rewritten")
	}

	opts.Overwrite = true
	third, err := svc.ExportSession(ctx, key, opts)
	if err != nil || third.Skipped {
		t.Fatalf("third=%+v err=%v", third, err)
	}
	// Object ids are fresh on every write.
	if string(readJSON(t, attrs)) == string(before) {
		t.Fatalf("overwrite kept old output")
	}
}

func TestExportAllZip(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	ingestFixture(t, repo)

	opts := ExportOptions{OutputDir: t.TempDir(), Container: ContainerZip}
	results, err := newExport(repo).ExportAll(ctx, opts)
	if err != nil {
		t.Fatalf("export all: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results=%d want=2", len(results))
	}

	zr, err := zip.OpenReader(results[1].Path)
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	defer zr.Close()
	found := map[string]bool{}
	for _, f := range zr.File {
		found[f.Name] = true
	}
	for _, name := range []string{".zattrs", "units/.zattrs", "intervals/trials/.zattrs", "general/extracellular_ephys/electrodes/.zattrs"} {
		if !found[name] {
			t.Fatalf("zip is missing %s", name)
		}
	}
}

func TestExportUnknownSession(t *testing.T) {
	_, err := newExport(newTestRepo(t)).ExportSession(context.Background(), models.SessionKey{SubjectID: "nobody"}, ExportOptions{OutputDir: t.TempDir()})
	if err == nil {
		t.Fatalf("expected error")
	}
}
