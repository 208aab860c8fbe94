package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/auth"
	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/config"
	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/db"
)

func TestParseSettingIDs(t *testing.T) {
	ids, err := parseSettingIDs(" 0, 1,,3 ")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !reflect.DeepEqual(ids, []uint{0, 1, 3}) {
		t.Fatalf("ids=%v", ids)
	}
	if ids, _ := parseSettingIDs(""); ids != nil {
		t.Fatalf("empty ids=%v", ids)
	}
	if _, err := parseSettingIDs("1,-2"); err == nil {
		t.Fatalf("expected error")
	}
}

func newTestApp(t *testing.T) (*app, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	cfg := config.Config{
		DB:     config.DBConfig{Driver: db.DriverSQLite, DSN: filepath.Join(t.TempDir(), "economo.db"), AutoMigrate: true},
		Server: config.ServerConfig{JWTSecret: "s3cret", TokenTTL: time.Hour},
	}
	a := &app{cfg: cfg, logger: zap.NewNop(), stdout: &out}
	t.Cleanup(a.close)
	return a, &out
}

func TestTokenCommand(t *testing.T) {
	a, out := newTestApp(t)
	if err := a.dispatch([]string{"token", "--subject", "lab", "--scope", "export"}); err != nil {
		t.Fatalf("token: %v", err)
	}
	tok := gjson.GetBytes(out.Bytes(), "token").String()
	claims, err := auth.JWT{Secret: []byte("s3cret")}.Verify(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "lab" || claims.Scope != auth.ScopeExport {
		t.Fatalf("claims=%+v", claims)
	}
	if err := a.dispatch([]string{"token", "--scope", "admin"}); err == nil {
		t.Fatalf("expected scope error")
	}
}

func TestMigrateAndEmptyExport(t *testing.T) {
	a, out := newTestApp(t)
	if err := a.dispatch([]string{"migrate"}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !gjson.GetBytes(out.Bytes(), "migrated").Bool() {
		t.Fatalf("output=%s", out.String())
	}

	out.Reset()
	if err := a.dispatch([]string{"export", "--out", t.TempDir()}); err != nil {
		t.Fatalf("export: %v", err)
	}
	if got := bytes.TrimSpace(out.Bytes()); string(got) != "null" {
		t.Fatalf("export output=%s", got)
	}
	if err := a.dispatch([]string{"export", "--subject", "ANM1"}); err == nil {
		t.Fatalf("expected --session error")
	}
}

func TestUnknownCommand(t *testing.T) {
	a, _ := newTestApp(t)
	if err := a.dispatch([]string{"frobnicate"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRouterServesSwaggerDoc(t *testing.T) {
	a, _ := newTestApp(t)
	repo, err := a.store()
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	engine, err := a.router(repo)
	if err != nil {
		t.Fatalf("router: %v", err)
	}

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/swagger/doc.json", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("doc.json code=%d", w.Code)
	}
	doc := w.Body.Bytes()
	for _, path := range []string{"/api/sessions", "/api/sessions/{subject}/{session}/export", "/readyz"} {
		if !gjson.GetBytes(doc, "paths."+gjson.Escape(path)).Exists() {
			t.Fatalf("doc.json lacks %s", path)
		}
	}
	if got := gjson.GetBytes(doc, "info.title").String(); got != "Economo 2018 ephys API" {
		t.Fatalf("title=%q", got)
	}

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("readyz code=%d body=%s", w.Code, w.Body.String())
	}
}
