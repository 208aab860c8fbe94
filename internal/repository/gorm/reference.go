package gormrepository

import (
	"context"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/models"
)

func (s *Store) InsertSubject(ctx context.Context, item *models.Subject) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if strings.TrimSpace(item.SubjectID) == "" {
		return nil
	}
	return skipDuplicates(s.db.WithContext(ctx)).Create(item).Error
}

func (s *Store) GetSubject(ctx context.Context, subjectID string) (*models.Subject, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	return first[models.Subject](s.db.WithContext(ctx).Where("subject_id = ?", subjectID))
}

func (s *Store) ListSubjectAlleles(ctx context.Context, subjectID string) ([]models.SubjectAllele, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.SubjectAllele
	if err := s.db.WithContext(ctx).
		Where("subject_id = ?", subjectID).
		Order("allele asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) SeedExperimentalEvents(ctx context.Context, items []models.ExperimentalEvent) error {
	if s == nil || s.db == nil || len(items) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event"}},
		DoUpdates: clause.AssignmentColumns([]string{"description"}),
	}).Create(&items).Error
}

func (s *Store) ListExperimentalEvents(ctx context.Context, names []string) ([]models.ExperimentalEvent, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.ExperimentalEvent{})
	if names != nil {
		if len(names) == 0 {
			return []models.ExperimentalEvent{}, nil
		}
		query = query.Where("event IN ?", names)
	}
	var items []models.ExperimentalEvent
	if err := query.Order("event asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CreateProbeIfAbsent(ctx context.Context, probe *models.Probe, shanks []models.ProbeShank, channels []models.ProbeChannel) (bool, error) {
	if s == nil || s.db == nil || probe == nil {
		return false, nil
	}
	created := false
	err := s.InTx(ctx, func(tx *gorm.DB) error {
		found, err := exists(tx, &models.Probe{}, func(db *gorm.DB) *gorm.DB {
			return db.Where("probe_name = ? AND channel_counts = ?", probe.ProbeName, probe.ChannelCounts)
		})
		if err != nil || found {
			return err
		}
		if err := tx.Create(probe).Error; err != nil {
			return err
		}
		if err := createInBatches(tx, shanks, s.batchSize); err != nil {
			return err
		}
		if err := createInBatches(tx, channels, s.batchSize); err != nil {
			return err
		}
		created = true
		return nil
	})
	return created, err
}

func (s *Store) ListProbeChannels(ctx context.Context, probe models.Probe) ([]models.ProbeChannel, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.ProbeChannel
	if err := s.db.WithContext(ctx).
		Where("probe_name = ? AND channel_counts = ?", probe.ProbeName, probe.ChannelCounts).
		Order("channel_id asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) InsertBrainLocation(ctx context.Context, item *models.BrainLocation) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return skipDuplicates(s.db.WithContext(ctx)).Create(item).Error
}

func (s *Store) UpsertSegmentationSettings(ctx context.Context, items []models.TrialSegmentationSetting) error {
	if s == nil || s.db == nil || len(items) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "trial_seg_setting"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"event",
			"pre_stim_duration",
			"post_stim_duration",
			"bin_size",
		}),
	}).Create(&items).Error
}

func (s *Store) ListSegmentationSettings(ctx context.Context, ids []uint) ([]models.TrialSegmentationSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.TrialSegmentationSetting{})
	if len(ids) > 0 {
		query = query.Where("trial_seg_setting IN ?", ids)
	}
	var items []models.TrialSegmentationSetting
	if err := query.Order("trial_seg_setting asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
