package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/archive/archivetest"
	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/auth"
	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/celltype"
	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/config"
	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/db"
	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/lock"
	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/models"
	gormrepository "github.com/datajoint-company/DJ-NWB-Economo-2018/internal/repository/gorm"
	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/service"
)

type fixture struct {
	engine *gin.Engine
	jwt    auth.JWT
	outDir string
	locker *lock.MemoryLocker
}

func newFixture(t *testing.T, secret string) fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	conn, err := db.Open(config.DBConfig{Driver: db.DriverSQLite, DSN: filepath.Join(t.TempDir(), "economo.db")})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(conn) })
	if err := db.AutoMigrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	repo := gormrepository.New(conn.Gorm)

	dataDir := t.TempDir()
	err = archivetest.Write(filepath.Join(dataDir, "ALM_Projections.mat"),
		archivetest.Session{Subject: "ANM1", Date: "20171102", Units: 2, Trials: 4},
		archivetest.Session{Subject: "ANM2", Date: "20171103", Units: 1, Trials: 3},
	)
	if err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	cue := config.SegmentationSetting{ID: 0, Event: models.EventCueStart, Pre: 1.5, Post: 3.0}
	ingest := &service.IngestService{
		Repo:         repo,
		Config:       config.IngestConfig{Pattern: "*.mat", Experimenters: []string{"Mike Economo"}},
		Segmentation: config.SegmentationConfig{Settings: []config.SegmentationSetting{cue}},
		CellTypes:    celltype.New(map[string]models.CellType{"ALM_Projections": models.CellTypePTLower}),
	}
	if _, err := ingest.IngestDir(ctx, dataDir); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if _, err := (&service.SegmentationService{Repo: repo}).Populate(ctx); err != nil {
		t.Fatalf("segment: %v", err)
	}

	j := auth.JWT{Secret: []byte(secret), TokenTTL: time.Hour}
	outDir := t.TempDir()
	locker := lock.NewMemoryLocker()
	r := gin.New()
	(&HealthHandler{DB: conn.Gorm}).Register(r)
	(&SessionHandler{
		Repo:          repo,
		Export:        &service.ExportService{Repo: repo, Locker: locker},
		JWT:           j,
		ExportOptions: service.ExportOptions{OutputDir: outDir, Overwrite: true, Container: service.ContainerDirectory},
	}).Register(r)
	return fixture{engine: r, jwt: j, outDir: outDir, locker: locker}
}

func (f fixture) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	f := newFixture(t, "")
	for _, path := range []string{"/healthz", "/readyz"} {
		w := f.do(t, http.MethodGet, path, "", "")
		if w.Code != http.StatusOK {
			t.Fatalf("%s code=%d body=%s", path, w.Code, w.Body.String())
		}
	}
	w := f.do(t, http.MethodGet, "/readyz", "", "")
	if got := gjson.Get(w.Body.String(), "sessions").Int(); got != 2 {
		t.Fatalf("sessions=%d body=%s", got, w.Body.String())
	}
	if got := gjson.Get(w.Body.String(), "segmentation_settings").Int(); got != 1 {
		t.Fatalf("segmentation_settings=%d body=%s", got, w.Body.String())
	}
}

func TestReadyReportsMissingSchema(t *testing.T) {
	gin.SetMode(gin.TestMode)
	conn, err := db.Open(config.DBConfig{Driver: db.DriverSQLite, DSN: filepath.Join(t.TempDir(), "empty.db")})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(conn) })
	r := gin.New()
	(&HealthHandler{DB: conn.Gorm}).Register(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("code=%d body=%s", w.Code, w.Body.String())
	}
	if got := gjson.Get(w.Body.String(), "status").String(); got != "schema_missing" {
		t.Fatalf("status=%q", got)
	}
	if got := gjson.Get(w.Body.String(), "tables.0").String(); got != (models.Session{}).TableName() {
		t.Fatalf("first missing table=%q", got)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("healthz code=%d", w.Code)
	}
}

func TestListSessions(t *testing.T) {
	f := newFixture(t, "")
	w := f.do(t, http.MethodGet, "/api/sessions?limit=1", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("code=%d body=%s", w.Code, w.Body.String())
	}
	body := w.Body.Bytes()
	if got := gjson.GetBytes(body, "meta.total").Int(); got != 2 {
		t.Fatalf("total=%d want=2", got)
	}
	if !gjson.GetBytes(body, "meta.has_next").Bool() {
		t.Fatalf("has_next=false body=%s", body)
	}
	if got := gjson.GetBytes(body, "data.#").Int(); got != 1 {
		t.Fatalf("items=%d want=1", got)
	}

	w = f.do(t, http.MethodGet, "/api/sessions?subject_id=anm2", "", "")
	body = w.Body.Bytes()
	if got := gjson.GetBytes(body, "data.0.subject_id").String(); got != "anm2" {
		t.Fatalf("subject=%q want=anm2", got)
	}
	if got := gjson.GetBytes(body, "data.0.session_date").String(); got != "2017-11-03" {
		t.Fatalf("date=%q", got)
	}
}

func TestGetSession(t *testing.T) {
	f := newFixture(t, "")
	w := f.do(t, http.MethodGet, "/api/sessions/anm1/0", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("code=%d body=%s", w.Code, w.Body.String())
	}
	body := w.Body.Bytes()
	if got := gjson.GetBytes(body, "data.trial_count").Int(); got != 4 {
		t.Fatalf("trial_count=%d want=4", got)
	}
	if got := gjson.GetBytes(body, "data.unit_count").Int(); got != 2 {
		t.Fatalf("unit_count=%d want=2", got)
	}
	if got := gjson.GetBytes(body, "data.experimenters.0").String(); got != "Mike Economo" {
		t.Fatalf("experimenter=%q", got)
	}
	if got := gjson.GetBytes(body, "data.identifier").String(); got != "anm1_2017-11-02_0" {
		t.Fatalf("identifier=%q", got)
	}

	if w := f.do(t, http.MethodGet, "/api/sessions/anm1/9", "", ""); w.Code != http.StatusNotFound {
		t.Fatalf("missing session code=%d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/api/sessions/anm1/abc", "", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("bad key code=%d", w.Code)
	}
}

func TestUnitsAndSegments(t *testing.T) {
	f := newFixture(t, "")
	w := f.do(t, http.MethodGet, "/api/sessions/anm1/0/units", "", "")
	body := w.Body.Bytes()
	if got := gjson.GetBytes(body, "data.#").Int(); got != 2 {
		t.Fatalf("units=%d want=2 body=%s", got, body)
	}
	if gjson.GetBytes(body, "data.0.spike_times").Exists() {
		t.Fatalf("spike times included without spikes=true")
	}
	if got := gjson.GetBytes(body, "data.0.cell_type").String(); got != string(models.CellTypePTLower) {
		t.Fatalf("cell_type=%q", got)
	}

	w = f.do(t, http.MethodGet, "/api/sessions/anm1/0/units?spikes=true", "", "")
	body = w.Body.Bytes()
	if n := gjson.GetBytes(body, "data.0.spike_times.#").Int(); n != gjson.GetBytes(body, "data.0.spike_count").Int() {
		t.Fatalf("spike_times=%d spike_count=%d", n, gjson.GetBytes(body, "data.0.spike_count").Int())
	}

	unit := archivetest.UnitID(0)
	w = f.do(t, http.MethodGet, "/api/sessions/anm1/0/units/"+strconv.Itoa(unit)+"/segments?setting=0", "", "")
	body = w.Body.Bytes()
	if got := gjson.GetBytes(body, "data.#").Int(); got != 4 {
		t.Fatalf("segments=%d want=4 body=%s", got, body)
	}
	if got := gjson.GetBytes(body, "data.0.trial_id").Int(); got != 1 {
		t.Fatalf("first trial=%d want=1", got)
	}

	w = f.do(t, http.MethodGet, "/api/sessions/anm1/0/units/"+strconv.Itoa(unit)+"/segments?setting=5", "", "")
	if got := gjson.GetBytes(w.Body.Bytes(), "data.#").Int(); got != 0 {
		t.Fatalf("segments for unknown setting=%d", got)
	}
}

func TestExport(t *testing.T) {
	f := newFixture(t, "")
	w := f.do(t, http.MethodPost, "/api/sessions/anm1/0/export", "", `{"container":"zip"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("code=%d body=%s", w.Code, w.Body.String())
	}
	path := gjson.GetBytes(w.Body.Bytes(), "data.path").String()
	if filepath.Base(path) != "anm1_2017-11-02_0.nwb.zarr.zip" {
		t.Fatalf("path=%q", path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("stat export: %v", err)
	}

	if w := f.do(t, http.MethodPost, "/api/sessions/ANM9/0/export", "", ""); w.Code != http.StatusNotFound {
		t.Fatalf("missing session code=%d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/api/sessions/anm1/0/export", "", `{"container":"tar"}`); w.Code != http.StatusInternalServerError {
		t.Fatalf("bad container code=%d", w.Code)
	}
}

func TestExportConflictWhileRunning(t *testing.T) {
	f := newFixture(t, "")
	release, ok, err := f.locker.TryLock(context.Background(), "export:anm1_2017-11-02_0", time.Minute)
	if err != nil || !ok {
		t.Fatalf("lock ok=%v err=%v", ok, err)
	}
	if w := f.do(t, http.MethodPost, "/api/sessions/anm1/0/export", "", ""); w.Code != http.StatusConflict {
		t.Fatalf("code=%d want=%d body=%s", w.Code, http.StatusConflict, w.Body.String())
	}
	// The other session is not blocked.
	if w := f.do(t, http.MethodPost, "/api/sessions/anm2/1/export", "", ""); w.Code != http.StatusOK {
		t.Fatalf("other session code=%d body=%s", w.Code, w.Body.String())
	}

	release()
	if w := f.do(t, http.MethodPost, "/api/sessions/anm1/0/export", "", ""); w.Code != http.StatusOK {
		t.Fatalf("after release code=%d body=%s", w.Code, w.Body.String())
	}
}

func TestAPIRequiresToken(t *testing.T) {
	f := newFixture(t, "s3cret")
	if w := f.do(t, http.MethodGet, "/api/sessions", "", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("no token code=%d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/healthz", "", ""); w.Code != http.StatusOK {
		t.Fatalf("healthz code=%d", w.Code)
	}

	read, _, err := f.jwt.Sign("lab", auth.ScopeRead)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if w := f.do(t, http.MethodGet, "/api/sessions", read, ""); w.Code != http.StatusOK {
		t.Fatalf("read token code=%d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/api/sessions/anm1/0/export", read, ""); w.Code != http.StatusForbidden {
		t.Fatalf("read token export code=%d", w.Code)
	}

	export, _, _ := f.jwt.Sign("lab", auth.ScopeExport)
	if w := f.do(t, http.MethodPost, "/api/sessions/anm1/0/export", export, ""); w.Code != http.StatusOK {
		t.Fatalf("export token code=%d body=%s", w.Code, w.Body.String())
	}
}
