package main

import (
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/celltype"
	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/config"
	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/db"
	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/lock"
	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/repository"
	gormrepository "github.com/datajoint-company/DJ-NWB-Economo-2018/internal/repository/gorm"
	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/service"
)

// app holds what every command shares. The database is opened on first use
// so that commands like token run without one.
type app struct {
	cfg    config.Config
	logger *zap.Logger
	stdout io.Writer

	conn   *db.DB
	repo   repository.Repository
	locker lock.Locker
}

func (a *app) store() (repository.Repository, error) {
	if a.repo != nil {
		return a.repo, nil
	}
	conn, err := db.Open(a.cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	if err := db.SetTimezone(conn, a.cfg.DB.Timezone); err != nil {
		a.logger.Warn("failed to set timezone", zap.Error(err))
	}
	if a.cfg.DB.AutoMigrate {
		if err := db.AutoMigrate(conn); err != nil {
			_ = db.Close(conn)
			return nil, fmt.Errorf("auto-migrate: %w", err)
		}
	}
	a.conn = conn
	a.repo = gormrepository.New(conn.Gorm).WithBatchSize(a.cfg.Ingest.BatchSize)
	return a.repo, nil
}

// lockBackend is shared by the pipeline and exports so that both see the
// same keys.
func (a *app) lockBackend() (lock.Locker, error) {
	if a.locker != nil {
		return a.locker, nil
	}
	l, err := lock.New(a.cfg.Lock)
	if err != nil {
		return nil, err
	}
	a.locker = l
	return l, nil
}

func (a *app) close() {
	if c, ok := a.locker.(io.Closer); ok {
		_ = c.Close()
	}
	a.locker = nil
	if a.conn != nil {
		_ = db.Close(a.conn)
		a.conn = nil
		a.repo = nil
	}
}

func (a *app) ingestService(repo repository.Repository) (*service.IngestService, error) {
	cells, err := celltype.Load(a.cfg.Ingest.AnimalKey)
	if err != nil {
		return nil, err
	}
	return &service.IngestService{
		Repo:         repo,
		Logger:       a.logger,
		Config:       a.cfg.Ingest,
		Segmentation: a.cfg.Segmentation,
		CellTypes:    cells,
	}, nil
}

func (a *app) exportService(repo repository.Repository) (*service.ExportService, error) {
	locker, err := a.lockBackend()
	if err != nil {
		return nil, err
	}
	return &service.ExportService{
		Repo:    repo,
		Logger:  a.logger,
		Config:  a.cfg.Export,
		Locker:  locker,
		LockTTL: a.cfg.Lock.TTL,
	}, nil
}

func (a *app) pipeline(repo repository.Repository) (*service.Pipeline, error) {
	ingest, err := a.ingestService(repo)
	if err != nil {
		return nil, err
	}
	export, err := a.exportService(repo)
	if err != nil {
		return nil, err
	}
	return &service.Pipeline{
		Ingest:        ingest,
		Segmentation:  &service.SegmentationService{Repo: repo, Logger: a.logger},
		PSTH:          &service.PSTHService{Repo: repo, Logger: a.logger},
		Export:        export,
		ExportOptions: service.ExportOptionsFromConfig(a.cfg.Export),
		DataDir:       a.cfg.Ingest.DataDir,
		Logger:        a.logger,
	}, nil
}

func (a *app) print(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(a.stdout, string(b))
	return err
}
