package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/models"
	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/repository"
	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/segment"
)

// PSTHService computes UnitPSTH rows from segmented spike times for every
// setting with a positive bin size. Rows that already exist, imported ones
// included, are left alone.
type PSTHService struct {
	Repo   repository.Repository
	Logger *zap.Logger
}

type PSTHResult struct {
	Sessions int `json:"sessions"`
	Inserted int `json:"inserted"`
}

func (s *PSTHService) Populate(ctx context.Context, settingIDs ...uint) (*PSTHResult, error) {
	if s == nil || s.Repo == nil {
		return nil, fmt.Errorf("psth service not configured")
	}
	all, err := s.Repo.ListSegmentationSettings(ctx, settingIDs)
	if err != nil {
		return nil, err
	}
	var settings []models.TrialSegmentationSetting
	for _, st := range all {
		if st.BinSize.IsPositive() {
			settings = append(settings, st)
		}
	}
	res := &PSTHResult{}
	if len(settings) == 0 {
		return res, nil
	}

	err = eachSession(ctx, s.Repo, func(sess models.Session) error {
		res.Sessions++
		for _, st := range settings {
			n, err := s.populate(ctx, sess.Key(), st)
			if err != nil {
				return fmt.Errorf("session %s: setting %d: %w", sess.Key(), st.TrialSegSetting, err)
			}
			res.Inserted += n
		}
		return nil
	})
	if err != nil {
		return res, err
	}
	if s.Logger != nil {
		s.Logger.Info("psth computation done", zap.Int("sessions", res.Sessions), zap.Int("inserted", res.Inserted))
	}
	return res, nil
}

func (s *PSTHService) populate(ctx context.Context, key models.SessionKey, st models.TrialSegmentationSetting) (int, error) {
	existing, err := s.Repo.ListUnitPSTHKeys(ctx, key, st.TrialSegSetting)
	if err != nil {
		return 0, err
	}
	done := keySet(existing)
	segments, err := listSegments(ctx, s.Repo, key, st.TrialSegSetting)
	if err != nil {
		return 0, err
	}

	pre, _ := st.PreStimDuration.Float64()
	post, _ := st.PostStimDuration.Float64()
	bin, _ := st.BinSize.Float64()

	var rows []models.UnitPSTH
	var centers datatypes.JSON
	for _, seg := range segments {
		if done[seg.Key()] {
			continue
		}
		spikes, err := models.DecodeFloats(seg.SegmentedSpikeTimes)
		if err != nil {
			return 0, fmt.Errorf("unit %d trial %d: %w", seg.UnitID, seg.TrialID, err)
		}
		rate, mids, err := segment.ComputePSTH(spikes, pre, post, bin)
		if err != nil {
			return 0, err
		}
		if centers == nil {
			centers = models.EncodeFloats(mids)
		}
		rows = append(rows, models.UnitPSTH{
			SubjectID:       seg.SubjectID,
			SessionID:       seg.SessionID,
			ProbeName:       seg.ProbeName,
			UnitID:          seg.UnitID,
			TrialID:         seg.TrialID,
			TrialSegSetting: seg.TrialSegSetting,
			PSTH:            models.EncodeFloats(rate),
			PSTHTime:        centers,
			Origin:          models.PSTHOriginComputed,
		})
	}
	if err := s.Repo.InsertUnitPSTHs(ctx, rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}
