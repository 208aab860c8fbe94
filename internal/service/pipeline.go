package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Pipeline runs the full ETL in order: ingest, segment, psth, export.
type Pipeline struct {
	Ingest        *IngestService
	Segmentation  *SegmentationService
	PSTH          *PSTHService
	Export        *ExportService
	ExportOptions ExportOptions
	DataDir       string
	Logger        *zap.Logger
}

type PipelineResult struct {
	StartedAt    time.Time           `json:"started_at"`
	FinishedAt   time.Time           `json:"finished_at"`
	Ingested     []IngestResult      `json:"ingested"`
	Segmentation *SegmentationResult `json:"segmentation"`
	PSTH         *PSTHResult         `json:"psth"`
	Exported     []ExportResult      `json:"exported"`
}

// Run stops at the first failing stage; the partial result is returned with
// the error.
func (p *Pipeline) Run(ctx context.Context) (*PipelineResult, error) {
	if p == nil || p.Ingest == nil || p.Segmentation == nil || p.PSTH == nil || p.Export == nil {
		return nil, fmt.Errorf("pipeline not configured")
	}
	res := &PipelineResult{StartedAt: time.Now().UTC()}
	defer func() { res.FinishedAt = time.Now().UTC() }()

	var err error
	if res.Ingested, err = p.Ingest.IngestDir(ctx, p.DataDir); err != nil {
		return res, fmt.Errorf("ingest: %w", err)
	}
	if res.Segmentation, err = p.Segmentation.Populate(ctx); err != nil {
		return res, fmt.Errorf("segment: %w", err)
	}
	if res.PSTH, err = p.PSTH.Populate(ctx); err != nil {
		return res, fmt.Errorf("psth: %w", err)
	}
	if res.Exported, err = p.Export.ExportAll(ctx, p.ExportOptions); err != nil {
		return res, fmt.Errorf("export: %w", err)
	}
	if p.Logger != nil {
		p.Logger.Info("pipeline complete",
			zap.Int("files", len(res.Ingested)),
			zap.Int("segments", res.Segmentation.Inserted),
			zap.Int("psths", res.PSTH.Inserted),
			zap.Int("exports", len(res.Exported)),
		)
	}
	return res, nil
}
