package gormrepository

import (
	"context"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/models"
	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/repository"
)

func (s *Store) CreateSessionIfAbsent(ctx context.Context, session *models.Session, experimenters []string) (bool, error) {
	if s == nil || s.db == nil || session == nil {
		return false, nil
	}
	created := false
	err := s.InTx(ctx, func(tx *gorm.DB) error {
		found, err := exists(tx, &models.Session{}, sessionScope(session.Key()))
		if err != nil || found {
			return err
		}
		if err := tx.Create(session).Error; err != nil {
			return err
		}
		rows := make([]models.SessionExperimenter, 0, len(experimenters))
		seen := map[string]bool{}
		for _, name := range experimenters {
			name = strings.TrimSpace(name)
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			rows = append(rows, models.SessionExperimenter{
				SubjectID:    session.SubjectID,
				SessionID:    session.SessionID,
				Experimenter: name,
			})
		}
		if err := createInBatches(tx, rows, s.batchSize); err != nil {
			return err
		}
		created = true
		return nil
	})
	return created, err
}

func (s *Store) GetSession(ctx context.Context, key models.SessionKey) (*models.Session, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	return first[models.Session](s.db.WithContext(ctx).Scopes(sessionScope(key)))
}

func (s *Store) ListSessions(ctx context.Context, params repository.ListSessionsParams) ([]models.Session, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.Session{})
	query = applySessionFilters(query, params)
	query = applySessionOrder(query, params.OrderBy, params.Asc)

	var items []models.Session
	if err := query.
		Limit(normalizeLimit(params.Limit, 100)).
		Offset(normalizeOffset(params.Offset)).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountSessions(ctx context.Context, params repository.ListSessionsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	query := applySessionFilters(s.db.WithContext(ctx).Model(&models.Session{}), params)
	if err := query.Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func applySessionFilters(query *gorm.DB, params repository.ListSessionsParams) *gorm.DB {
	if params.SubjectID != nil && strings.TrimSpace(*params.SubjectID) != "" {
		query = query.Where("subject_id = ?", strings.TrimSpace(*params.SubjectID))
	}
	return query
}

func applySessionOrder(query *gorm.DB, orderBy string, asc *bool) *gorm.DB {
	desc := asc != nil && !*asc
	switch strings.ToLower(strings.TrimSpace(orderBy)) {
	case "session_time":
		return query.Order(clause.OrderByColumn{Column: clause.Column{Name: "session_time"}, Desc: desc}).
			Order("subject_id asc").
			Order("session_id asc")
	case "session_id":
		return query.Order(clause.OrderByColumn{Column: clause.Column{Name: "session_id"}, Desc: desc}).
			Order("subject_id asc")
	default:
		return query.Order(clause.OrderByColumn{Column: clause.Column{Name: "subject_id"}, Desc: desc}).
			Order(clause.OrderByColumn{Column: clause.Column{Name: "session_id"}, Desc: desc})
	}
}

func (s *Store) ListExperimenters(ctx context.Context, key models.SessionKey) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var names []string
	if err := s.db.WithContext(ctx).
		Model(&models.SessionExperimenter{}).
		Scopes(sessionScope(key)).
		Order("experimenter asc").
		Pluck("experimenter", &names).Error; err != nil {
		return nil, err
	}
	return names, nil
}

func (s *Store) CreateTrialSetIfAbsent(ctx context.Context, set *models.TrialSet, trials []models.Trial, events []models.EventTime) (bool, error) {
	if s == nil || s.db == nil || set == nil {
		return false, nil
	}
	created := false
	err := s.InTx(ctx, func(tx *gorm.DB) error {
		key := models.SessionKey{SubjectID: set.SubjectID, SessionID: set.SessionID}
		found, err := exists(tx, &models.TrialSet{}, sessionScope(key))
		if err != nil || found {
			return err
		}
		if err := tx.Create(set).Error; err != nil {
			return err
		}
		if err := createInBatches(tx, trials, s.batchSize); err != nil {
			return err
		}
		if err := createInBatches(tx, events, s.batchSize); err != nil {
			return err
		}
		created = true
		return nil
	})
	return created, err
}

func (s *Store) GetTrialSet(ctx context.Context, key models.SessionKey) (*models.TrialSet, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	return first[models.TrialSet](s.db.WithContext(ctx).Scopes(sessionScope(key)))
}

func (s *Store) ListTrials(ctx context.Context, key models.SessionKey) ([]models.Trial, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Trial
	if err := s.db.WithContext(ctx).
		Scopes(sessionScope(key)).
		Order("trial_id asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountTrials(ctx context.Context, key models.SessionKey) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := s.db.WithContext(ctx).Model(&models.Trial{}).Scopes(sessionScope(key)).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) ListEventTimes(ctx context.Context, key models.SessionKey) ([]models.EventTime, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.EventTime
	if err := s.db.WithContext(ctx).
		Scopes(sessionScope(key)).
		Order("trial_id asc").
		Order("trial_event asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) InsertLickTimes(ctx context.Context, item *models.LickTimes) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return skipDuplicates(s.db.WithContext(ctx)).Create(item).Error
}

func (s *Store) GetLickTimes(ctx context.Context, key models.SessionKey) (*models.LickTimes, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	return first[models.LickTimes](s.db.WithContext(ctx).Scopes(sessionScope(key)))
}

func (s *Store) RecordIngestedFile(ctx context.Context, item *models.IngestedFile) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "file_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"sessions", "ingested_at"}),
	}).Create(item).Error
}

func (s *Store) ListIngestedFiles(ctx context.Context) ([]models.IngestedFile, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.IngestedFile
	if err := s.db.WithContext(ctx).Order("file_name asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
