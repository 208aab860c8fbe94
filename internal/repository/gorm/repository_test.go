package gormrepository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/config"
	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/db"
	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/models"
	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/repository"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	conn, err := db.Open(config.DBConfig{
		Driver: db.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "pipeline.db"),
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(conn) })
	if err := db.AutoMigrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(conn.Gorm).WithBatchSize(3)
}

func TestCreateSessionIfAbsent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	session := &models.Session{
		SubjectID:   "bae4",
		SessionID:   1,
		SessionTime: time.Date(2017, 11, 7, 0, 0, 0, 0, time.UTC),
	}
	created, err := store.CreateSessionIfAbsent(ctx, session, []string{"Mike Economo", "Mike Economo", " "})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !created {
		t.Fatalf("expected first insert to create the session")
	}

	again := *session
	created, err = store.CreateSessionIfAbsent(ctx, &again, []string{"Someone Else"})
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if created {
		t.Fatalf("expected second insert to be skipped")
	}

	names, err := store.ListExperimenters(ctx, session.Key())
	if err != nil {
		t.Fatalf("experimenters: %v", err)
	}
	if len(names) != 1 || names[0] != "Mike Economo" {
		t.Fatalf("experimenters=%v", names)
	}

	got, err := store.GetSession(ctx, models.SessionKey{SubjectID: "bae4", SessionID: 2})
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing session, got %#v", got)
	}
}

func TestListSessionsOrderAndFilter(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	day := time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, s := range []models.Session{
		{SubjectID: "b", SessionID: 1, SessionTime: day.AddDate(0, 0, 2)},
		{SubjectID: "a", SessionID: 2, SessionTime: day},
		{SubjectID: "a", SessionID: 1, SessionTime: day.AddDate(0, 0, 1)},
	} {
		s := s
		if _, err := store.CreateSessionIfAbsent(ctx, &s, nil); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	items, err := store.ListSessions(ctx, repository.ListSessionsParams{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"a/1", "a/2", "b/1"}
	if len(items) != len(want) {
		t.Fatalf("len=%d want %d", len(items), len(want))
	}
	for i, item := range items {
		if item.Key().String() != want[i] {
			t.Fatalf("items[%d]=%s want %s", i, item.Key(), want[i])
		}
	}

	subject := "a"
	total, err := store.CountSessions(ctx, repository.ListSessionsParams{SubjectID: &subject})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if total != 2 {
		t.Fatalf("total=%d want 2", total)
	}

	asc := false
	items, err = store.ListSessions(ctx, repository.ListSessionsParams{OrderBy: "session_time", Asc: &asc, Limit: 1})
	if err != nil {
		t.Fatalf("list by time: %v", err)
	}
	if len(items) != 1 || items[0].Key().String() != "b/1" {
		t.Fatalf("latest=%v", items)
	}
}

func TestCreateTrialSetIfAbsentWritesParts(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	key := models.SessionKey{SubjectID: "bae4", SessionID: 1}

	var trials []models.Trial
	var events []models.EventTime
	for i := 1; i <= 5; i++ {
		trials = append(trials, models.Trial{
			SubjectID: key.SubjectID, SessionID: key.SessionID, TrialID: i,
			StartTime: float64(i) * 10, TrialType: "lick left", TrialResponse: "correct",
		})
		events = append(events, models.EventTime{
			SubjectID: key.SubjectID, SessionID: key.SessionID, TrialID: i,
			TrialEvent: models.EventCueStart, EventTime: 2.5,
		})
	}
	set := &models.TrialSet{SubjectID: key.SubjectID, SessionID: key.SessionID, TrialCounts: len(trials)}

	created, err := store.CreateTrialSetIfAbsent(ctx, set, trials, events)
	if err != nil || !created {
		t.Fatalf("created=%v err=%v", created, err)
	}
	created, err = store.CreateTrialSetIfAbsent(ctx, set, trials, events)
	if err != nil || created {
		t.Fatalf("second created=%v err=%v", created, err)
	}

	n, err := store.CountTrials(ctx, key)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 5 {
		t.Fatalf("trials=%d want 5", n)
	}
	got, err := store.ListEventTimes(ctx, key)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(got) != 5 || got[0].TrialID != 1 || got[4].TrialID != 5 {
		t.Fatalf("events=%v", got)
	}
}

func TestInsertUnitsSkipsDuplicates(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	key := models.SessionKey{SubjectID: "bae4", SessionID: 1}

	units := make([]models.UnitSpikeTimes, 0, 7)
	for i := 1; i <= 7; i++ {
		units = append(units, models.UnitSpikeTimes{
			SubjectID: key.SubjectID, SessionID: key.SessionID, ProbeName: "A4x8-5mm-100-200-177",
			UnitID: i, ChannelID: i, UnitCellType: models.CellTypePTLower,
			SpikeTimes: models.EncodeFloats([]float64{0.1, 0.2}),
		})
	}
	if err := store.InsertUnits(ctx, units); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := store.InsertUnits(ctx, units); err != nil {
		t.Fatalf("re-insert: %v", err)
	}
	n, err := store.CountUnits(ctx, key)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 7 {
		t.Fatalf("units=%d want 7", n)
	}

	unit, err := store.GetUnit(ctx, units[3].Key())
	if err != nil || unit == nil {
		t.Fatalf("get unit=%v err=%v", unit, err)
	}
	spikes, err := models.DecodeFloats(unit.SpikeTimes)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(spikes) != 2 || spikes[1] != 0.2 {
		t.Fatalf("spikes=%v", spikes)
	}
}

func TestSegmentKeysBySetting(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	key := models.SessionKey{SubjectID: "bae4", SessionID: 1}

	if err := store.UpsertSegmentationSettings(ctx, []models.TrialSegmentationSetting{
		{TrialSegSetting: 0, Event: models.EventCueStart, PreStimDuration: decimal.NewFromFloat(1.5), PostStimDuration: decimal.NewFromFloat(3)},
		{TrialSegSetting: 1, Event: models.EventPoleIn, PreStimDuration: decimal.NewFromFloat(0.5), PostStimDuration: decimal.NewFromFloat(2)},
	}); err != nil {
		t.Fatalf("settings: %v", err)
	}
	settings, err := store.ListSegmentationSettings(ctx, []uint{1})
	if err != nil {
		t.Fatalf("list settings: %v", err)
	}
	if len(settings) != 1 || settings[0].Event != models.EventPoleIn {
		t.Fatalf("settings=%v", settings)
	}

	var rows []models.TrialSegmentedUnitSpikeTimes
	for setting := uint(0); setting < 2; setting++ {
		for trial := 1; trial <= 4; trial++ {
			rows = append(rows, models.TrialSegmentedUnitSpikeTimes{
				SubjectID: key.SubjectID, SessionID: key.SessionID, ProbeName: "p", UnitID: 1,
				TrialID: trial, TrialSegSetting: setting,
				SegmentedSpikeTimes: models.EncodeFloats(nil),
			})
		}
	}
	if err := store.InsertTrialSegments(ctx, rows); err != nil {
		t.Fatalf("insert: %v", err)
	}

	keys, err := store.ListTrialSegmentKeys(ctx, key, 1)
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 4 {
		t.Fatalf("keys=%d want 4", len(keys))
	}
	for _, k := range keys {
		if k.TrialSegSetting != 1 || k.ProbeName != "p" {
			t.Fatalf("unexpected key %#v", k)
		}
	}

	trial := 2
	got, err := store.ListTrialSegments(ctx, repository.ListTrialSegmentsParams{Session: key, TrialID: &trial})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("segments for trial 2=%d want 2", len(got))
	}
}

func TestNormalizeLimit(t *testing.T) {
	if got := normalizeLimit(0, 100); got != 100 {
		t.Fatalf("normalizeLimit(0)=%d", got)
	}
	if got := normalizeLimit(10000, 100); got != 500 {
		t.Fatalf("normalizeLimit(10000)=%d", got)
	}
	if got := normalizeOffset(-3); got != 0 {
		t.Fatalf("normalizeOffset(-3)=%d", got)
	}
}
