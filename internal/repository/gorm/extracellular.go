package gormrepository

import (
	"context"

	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/models"
	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/repository"
)

func (s *Store) InsertProbeInsertion(ctx context.Context, item *models.ProbeInsertion) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return skipDuplicates(s.db.WithContext(ctx)).Create(item).Error
}

// GetProbeInsertion returns the session's first insertion by probe name.
// Sessions in this dataset carry a single probe.
func (s *Store) GetProbeInsertion(ctx context.Context, key models.SessionKey) (*models.ProbeInsertion, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	return first[models.ProbeInsertion](s.db.WithContext(ctx).Scopes(sessionScope(key)).Order("probe_name asc"))
}

func (s *Store) InsertUnits(ctx context.Context, items []models.UnitSpikeTimes) error {
	if s == nil || s.db == nil || len(items) == 0 {
		return nil
	}
	return createInBatches(skipDuplicates(s.db.WithContext(ctx)), items, s.batchSize)
}

func (s *Store) ListUnits(ctx context.Context, key models.SessionKey) ([]models.UnitSpikeTimes, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.UnitSpikeTimes
	if err := s.db.WithContext(ctx).
		Scopes(sessionScope(key)).
		Order("probe_name asc").
		Order("unit_id asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) GetUnit(ctx context.Context, key models.UnitKey) (*models.UnitSpikeTimes, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	return first[models.UnitSpikeTimes](s.db.WithContext(ctx).
		Scopes(sessionScope(key.Session())).
		Where("probe_name = ? AND unit_id = ?", key.ProbeName, key.UnitID))
}

func (s *Store) CountUnits(ctx context.Context, key models.SessionKey) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := s.db.WithContext(ctx).Model(&models.UnitSpikeTimes{}).Scopes(sessionScope(key)).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) InsertTrialSegments(ctx context.Context, items []models.TrialSegmentedUnitSpikeTimes) error {
	if s == nil || s.db == nil || len(items) == 0 {
		return nil
	}
	return createInBatches(skipDuplicates(s.db.WithContext(ctx)), items, s.batchSize)
}

func (s *Store) ListTrialSegments(ctx context.Context, params repository.ListTrialSegmentsParams) ([]models.TrialSegmentedUnitSpikeTimes, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.TrialSegmentedUnitSpikeTimes{}).Scopes(sessionScope(params.Session))
	if params.UnitID != nil {
		query = query.Where("unit_id = ?", *params.UnitID)
	}
	if params.TrialID != nil {
		query = query.Where("trial_id = ?", *params.TrialID)
	}
	if params.SettingID != nil {
		query = query.Where("trial_seg_setting = ?", *params.SettingID)
	}
	var items []models.TrialSegmentedUnitSpikeTimes
	if err := query.
		Order("trial_seg_setting asc").
		Order("unit_id asc").
		Order("trial_id asc").
		Limit(normalizeLimit(params.Limit, 100)).
		Offset(normalizeOffset(params.Offset)).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// ListTrialSegmentKeys returns the keys already segmented for one setting.
func (s *Store) ListTrialSegmentKeys(ctx context.Context, key models.SessionKey, settingID uint) ([]models.SegmentKey, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var rows []models.TrialSegmentedUnitSpikeTimes
	if err := s.db.WithContext(ctx).
		Model(&models.TrialSegmentedUnitSpikeTimes{}).
		Select("subject_id", "session_id", "probe_name", "unit_id", "trial_id", "trial_seg_setting").
		Scopes(sessionScope(key)).
		Where("trial_seg_setting = ?", settingID).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.SegmentKey, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.Key())
	}
	return out, nil
}

func (s *Store) InsertUnitPSTHs(ctx context.Context, items []models.UnitPSTH) error {
	if s == nil || s.db == nil || len(items) == 0 {
		return nil
	}
	return createInBatches(skipDuplicates(s.db.WithContext(ctx)), items, s.batchSize)
}

func (s *Store) ListUnitPSTHs(ctx context.Context, key models.SessionKey, settingID *uint) ([]models.UnitPSTH, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.UnitPSTH{}).Scopes(sessionScope(key))
	if settingID != nil {
		query = query.Where("trial_seg_setting = ?", *settingID)
	}
	var items []models.UnitPSTH
	if err := query.
		Order("trial_seg_setting asc").
		Order("unit_id asc").
		Order("trial_id asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListUnitPSTHKeys(ctx context.Context, key models.SessionKey, settingID uint) ([]models.SegmentKey, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var rows []models.UnitPSTH
	if err := s.db.WithContext(ctx).
		Model(&models.UnitPSTH{}).
		Select("subject_id", "session_id", "probe_name", "unit_id", "trial_id", "trial_seg_setting").
		Scopes(sessionScope(key)).
		Where("trial_seg_setting = ?", settingID).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.SegmentKey, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.Key())
	}
	return out, nil
}
