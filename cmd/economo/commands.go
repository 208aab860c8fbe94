package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/auth"
	cronrunner "github.com/datajoint-company/DJ-NWB-Economo-2018/internal/cron"
	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/db"
	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/handler"
	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/models"
	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/repository"
	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/service"

	_ "github.com/datajoint-company/DJ-NWB-Economo-2018/docs"
)

func (a *app) dispatch(args []string) error {
	if len(args) == 0 {
		return errors.New("missing command")
	}
	switch args[0] {
	case "migrate":
		return a.migrateCmd(args[1:])
	case "ingest":
		return a.ingestCmd(args[1:])
	case "segment":
		return a.segmentCmd(args[1:])
	case "psth":
		return a.psthCmd(args[1:])
	case "export":
		return a.exportCmd(args[1:])
	case "run":
		return a.runCmd(args[1:])
	case "serve":
		return a.serveCmd(args[1:])
	case "token":
		return a.tokenCmd(args[1:])
	default:
		usage(os.Stderr)
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet("economo "+name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func (a *app) migrateCmd(args []string) error {
	if err := newFlagSet("migrate").Parse(args); err != nil {
		return err
	}
	if _, err := a.store(); err != nil {
		return err
	}
	if !a.cfg.DB.AutoMigrate {
		if err := db.AutoMigrate(a.conn); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return a.print(map[string]any{"migrated": true, "driver": a.conn.Driver})
}

func (a *app) ingestCmd(args []string) error {
	fs := newFlagSet("ingest")
	dir := fs.String("dir", a.cfg.Ingest.DataDir, "directory of .mat archives")
	file := fs.String("file", "", "ingest one archive instead of a directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	repo, err := a.store()
	if err != nil {
		return err
	}
	svc, err := a.ingestService(repo)
	if err != nil {
		return err
	}
	if f := strings.TrimSpace(*file); f != "" {
		if err := svc.Seed(ctx); err != nil {
			return err
		}
		res, err := svc.IngestFile(ctx, f)
		if err != nil {
			return err
		}
		return a.print(res)
	}
	res, err := svc.IngestDir(ctx, strings.TrimSpace(*dir))
	if err != nil {
		return err
	}
	return a.print(res)
}

func (a *app) segmentCmd(args []string) error {
	fs := newFlagSet("segment")
	raw := fs.String("setting", "", "comma separated setting ids (default all)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ids, err := parseSettingIDs(*raw)
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	repo, err := a.store()
	if err != nil {
		return err
	}
	res, err := (&service.SegmentationService{Repo: repo, Logger: a.logger}).Populate(ctx, ids...)
	if err != nil {
		return err
	}
	return a.print(res)
}

func (a *app) psthCmd(args []string) error {
	fs := newFlagSet("psth")
	raw := fs.String("setting", "", "comma separated setting ids (default all with a bin size)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ids, err := parseSettingIDs(*raw)
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	repo, err := a.store()
	if err != nil {
		return err
	}
	res, err := (&service.PSTHService{Repo: repo, Logger: a.logger}).Populate(ctx, ids...)
	if err != nil {
		return err
	}
	return a.print(res)
}

func (a *app) exportCmd(args []string) error {
	opts := service.ExportOptionsFromConfig(a.cfg.Export)
	fs := newFlagSet("export")
	subject := fs.String("subject", "", "subject id (with --session exports one session)")
	session := fs.Int("session", -1, "session id")
	out := fs.String("out", opts.OutputDir, "output directory")
	overwrite := fs.Bool("overwrite", opts.Overwrite, "replace existing files")
	container := fs.String("container", opts.Container, "directory|zip")
	formats := fs.String("format", strings.Join(opts.Formats, ","), "comma separated: nwb,edf")
	if err := fs.Parse(args); err != nil {
		return err
	}
	opts.OutputDir = strings.TrimSpace(*out)
	opts.Overwrite = *overwrite
	opts.Container = strings.TrimSpace(*container)
	opts.Formats = splitList(*formats)

	ctx, stop := signalContext()
	defer stop()
	repo, err := a.store()
	if err != nil {
		return err
	}
	svc, err := a.exportService(repo)
	if err != nil {
		return err
	}

	if s := strings.TrimSpace(*subject); s != "" || *session >= 0 {
		if s == "" || *session < 0 {
			return errors.New("--subject and --session go together")
		}
		res, err := svc.ExportSession(ctx, models.SessionKey{SubjectID: s, SessionID: *session}, opts)
		if err != nil {
			return err
		}
		return a.print(res)
	}
	res, err := svc.ExportAll(ctx, opts)
	if err != nil {
		return err
	}
	return a.print(res)
}

func (a *app) runCmd(args []string) error {
	fs := newFlagSet("run")
	schedule := fs.String("schedule", "", `repeat on a cron spec, e.g. "@every 1h" (runs once when empty)`)
	if err := fs.Parse(args); err != nil {
		return err
	}
	spec := strings.TrimSpace(*schedule)
	if spec != "" {
		if err := cronrunner.ValidateSpec(spec); err != nil {
			return fmt.Errorf("--schedule: %w", err)
		}
	}

	ctx, stop := signalContext()
	defer stop()

	locker, err := a.lockBackend()
	if err != nil {
		return err
	}

	repo, err := a.store()
	if err != nil {
		return err
	}
	p, err := a.pipeline(repo)
	if err != nil {
		return err
	}

	runner := cronrunner.New(a.logger, ctx, locker, a.cfg.Lock.TTL)
	if spec == "" {
		var res *service.PipelineResult
		ran, err := runner.RunLocked(ctx, a.cfg.Lock.Key, func(ctx context.Context) error {
			var err error
			res, err = p.Run(ctx)
			return err
		})
		if err != nil {
			return err
		}
		if !ran {
			return a.print(map[string]any{"skipped": true, "reason": "pipeline lock held"})
		}
		return a.print(res)
	}

	if _, err := runner.Add(spec, a.cfg.Lock.Key, pipelineJob(p)); err != nil {
		return err
	}
	a.logger.Info("pipeline scheduled", zap.String("spec", spec))
	runner.Start()
	<-ctx.Done()
	runner.Stop()
	return nil
}

// router wires the HTTP API and the swagger UI.
func (a *app) router(repo repository.Repository) (*gin.Engine, error) {
	if strings.EqualFold(a.cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())

	jwt := auth.JWT{Secret: []byte(a.cfg.Server.JWTSecret), TokenTTL: a.cfg.Server.TokenTTL}
	if !jwt.Enabled() {
		a.logger.Warn("server.jwt_secret is empty, API is unauthenticated")
	}
	export, err := a.exportService(repo)
	if err != nil {
		return nil, err
	}
	(&handler.HealthHandler{DB: a.conn.Gorm}).Register(engine)
	(&handler.SessionHandler{
		Repo:          repo,
		Export:        export,
		JWT:           jwt,
		Logger:        a.logger,
		ExportOptions: service.ExportOptionsFromConfig(a.cfg.Export),
	}).Register(engine)
	engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	return engine, nil
}

func (a *app) serveCmd(args []string) error {
	fs := newFlagSet("serve")
	addr := fs.String("addr", a.cfg.Server.HTTPAddr, "listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	repo, err := a.store()
	if err != nil {
		return err
	}

	engine, err := a.router(repo)
	if err != nil {
		return err
	}

	var runner *cronrunner.Runner
	if a.cfg.Schedule.Enabled {
		locker, err := a.lockBackend()
		if err != nil {
			return err
		}
		p, err := a.pipeline(repo)
		if err != nil {
			return err
		}
		runner = cronrunner.New(a.logger, ctx, locker, a.cfg.Lock.TTL)
		if _, err := runner.Add(a.cfg.Schedule.Spec, a.cfg.Lock.Key, pipelineJob(p)); err != nil {
			return fmt.Errorf("schedule.spec: %w", err)
		}
		runner.Start()
	}

	srv := &http.Server{
		Addr:    strings.TrimSpace(*addr),
		Handler: engine,
	}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	if runner != nil {
		runner.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown failed", zap.Error(err))
	}
	a.logger.Info("http server stopped")
	return nil
}

func (a *app) tokenCmd(args []string) error {
	fs := newFlagSet("token")
	subject := fs.String("subject", "economo", "token subject")
	scope := fs.String("scope", auth.ScopeRead, "read|export")
	ttl := fs.Duration("ttl", a.cfg.Server.TokenTTL, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *scope != auth.ScopeRead && *scope != auth.ScopeExport {
		return fmt.Errorf("unknown scope %q", *scope)
	}
	jwt := auth.JWT{Secret: []byte(a.cfg.Server.JWTSecret), TokenTTL: *ttl}
	tok, exp, err := jwt.Sign(strings.TrimSpace(*subject), *scope)
	if err != nil {
		return err
	}
	return a.print(map[string]any{"token": tok, "expires_at": exp.Format(time.RFC3339)})
}

func pipelineJob(p *service.Pipeline) func(context.Context) error {
	return func(ctx context.Context) error {
		_, err := p.Run(ctx)
		return err
	}
}

func parseSettingIDs(raw string) ([]uint, error) {
	var ids []uint
	for _, v := range splitList(raw) {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid setting id %q", v)
		}
		ids = append(ids, uint(n))
	}
	return ids, nil
}

func splitList(raw string) []string {
	var out []string
	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
