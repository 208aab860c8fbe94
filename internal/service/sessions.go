package service

import (
	"context"

	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/models"
	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/repository"
)

const pageSize = 500

// eachSession walks every session in key order, one page at a time.
func eachSession(ctx context.Context, repo repository.Repository, fn func(models.Session) error) error {
	asc := true
	for offset := 0; ; offset += pageSize {
		page, err := repo.ListSessions(ctx, repository.ListSessionsParams{
			Limit:  pageSize,
			Offset: offset,
			Asc:    &asc,
		})
		if err != nil {
			return err
		}
		for _, sess := range page {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(sess); err != nil {
				return err
			}
		}
		if len(page) < pageSize {
			return nil
		}
	}
}

// listSegments pages through the trial segments of one session and setting.
func listSegments(ctx context.Context, repo repository.Repository, key models.SessionKey, setting uint) ([]models.TrialSegmentedUnitSpikeTimes, error) {
	var out []models.TrialSegmentedUnitSpikeTimes
	for offset := 0; ; offset += pageSize {
		page, err := repo.ListTrialSegments(ctx, repository.ListTrialSegmentsParams{
			Session:   key,
			SettingID: &setting,
			Limit:     pageSize,
			Offset:    offset,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < pageSize {
			return out, nil
		}
	}
}

func keySet(keys []models.SegmentKey) map[models.SegmentKey]bool {
	out := make(map[models.SegmentKey]bool, len(keys))
	for _, k := range keys {
		out[k] = true
	}
	return out
}
