package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/models"
	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/repository"
	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/segment"
)

// SegmentationService fills TrialSegmentedUnitSpikeTimes for every unit,
// trial and segmentation setting that has no row yet.
type SegmentationService struct {
	Repo   repository.Repository
	Logger *zap.Logger
}

type SegmentationResult struct {
	Sessions int `json:"sessions"`
	Inserted int `json:"inserted"`
	Skipped  int `json:"skipped"`
}

// Populate segments under the given settings, or all settings when none are
// named. A trial whose alignment event is missing or ambiguous is skipped.
func (s *SegmentationService) Populate(ctx context.Context, settingIDs ...uint) (*SegmentationResult, error) {
	if s == nil || s.Repo == nil {
		return nil, fmt.Errorf("segmentation service not configured")
	}
	settings, err := s.Repo.ListSegmentationSettings(ctx, settingIDs)
	if err != nil {
		return nil, err
	}
	res := &SegmentationResult{}
	if len(settings) == 0 {
		return res, nil
	}

	err = eachSession(ctx, s.Repo, func(sess models.Session) error {
		res.Sessions++
		return s.populateSession(ctx, sess.Key(), settings, res)
	})
	if err != nil {
		return res, err
	}
	if s.Logger != nil {
		s.Logger.Info("trial segmentation done",
			zap.Int("sessions", res.Sessions),
			zap.Int("inserted", res.Inserted),
			zap.Int("skipped", res.Skipped),
		)
	}
	return res, nil
}

func (s *SegmentationService) populateSession(ctx context.Context, key models.SessionKey, settings []models.TrialSegmentationSetting, res *SegmentationResult) error {
	units, err := s.Repo.ListUnits(ctx, key)
	if err != nil {
		return err
	}
	if len(units) == 0 {
		return nil
	}
	trials, err := s.Repo.ListTrials(ctx, key)
	if err != nil {
		return err
	}
	events, err := s.Repo.ListEventTimes(ctx, key)
	if err != nil {
		return err
	}
	grouped := segment.GroupEvents(trials, events)

	spikes := make([][]float64, len(units))
	for i, u := range units {
		if spikes[i], err = models.DecodeFloats(u.SpikeTimes); err != nil {
			return fmt.Errorf("unit %d: %w", u.UnitID, err)
		}
	}

	for _, st := range settings {
		existing, err := s.Repo.ListTrialSegmentKeys(ctx, key, st.TrialSegSetting)
		if err != nil {
			return err
		}
		done := keySet(existing)
		pre, _ := st.PreStimDuration.Float64()
		post, _ := st.PostStimDuration.Float64()

		var rows []models.TrialSegmentedUnitSpikeTimes
		for _, tr := range grouped {
			at, err := tr.Resolve(st.Event)
			if err != nil {
				var choice *segment.EventChoiceError
				if !errors.As(err, &choice) {
					return err
				}
				pending := 0
				for _, u := range units {
					if !done[segmentKey(u.Key(), tr.TrialID, st.TrialSegSetting)] {
						pending++
					}
				}
				if pending > 0 {
					res.Skipped += pending
					s.logWarn("segmentation skipped trial",
						zap.String("subject_id", key.SubjectID),
						zap.Int("session_id", key.SessionID),
						zap.Uint("trial_seg_setting", st.TrialSegSetting),
						zap.Int("units", pending),
						zap.Error(err),
					)
				}
				continue
			}
			for i, u := range units {
				sk := segmentKey(u.Key(), tr.TrialID, st.TrialSegSetting)
				if done[sk] {
					continue
				}
				rows = append(rows, models.TrialSegmentedUnitSpikeTimes{
					SubjectID:           u.SubjectID,
					SessionID:           u.SessionID,
					ProbeName:           u.ProbeName,
					UnitID:              u.UnitID,
					TrialID:             tr.TrialID,
					TrialSegSetting:     st.TrialSegSetting,
					SegmentedSpikeTimes: models.EncodeFloats(segment.Segment(spikes[i], at, pre, post)),
				})
			}
		}
		if err := s.Repo.InsertTrialSegments(ctx, rows); err != nil {
			return err
		}
		res.Inserted += len(rows)
	}
	return nil
}

func (s *SegmentationService) logWarn(msg string, fields ...zap.Field) {
	if s != nil && s.Logger != nil {
		s.Logger.Warn(msg, fields...)
	}
}

func segmentKey(u models.UnitKey, trialID int, setting uint) models.SegmentKey {
	return models.SegmentKey{UnitKey: u, TrialID: trialID, TrialSegSetting: setting}
}
