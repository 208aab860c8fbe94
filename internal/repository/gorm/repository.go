package gormrepository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/models"
	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/repository"
)

type Store struct {
	db        *gorm.DB
	batchSize int
}

var _ repository.Repository = (*Store)(nil)

func New(db *gorm.DB) *Store {
	return &Store{db: db, batchSize: 200}
}

// WithBatchSize sets the row count per multi-row INSERT.
func (s *Store) WithBatchSize(n int) *Store {
	if s != nil && n > 0 {
		s.batchSize = n
	}
	return s
}

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

func sessionScope(key models.SessionKey) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("subject_id = ? AND session_id = ?", key.SubjectID, key.SessionID)
	}
}

// skipDuplicates returns a reusable handle whose inserts ignore rows that
// collide on the primary key.
func skipDuplicates(db *gorm.DB) *gorm.DB {
	return db.Clauses(clause.OnConflict{DoNothing: true}).Session(&gorm.Session{})
}

func exists(tx *gorm.DB, model any, scope func(*gorm.DB) *gorm.DB) (bool, error) {
	var n int64
	if err := tx.Model(model).Scopes(scope).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

func first[T any](query *gorm.DB) (*T, error) {
	var item T
	err := query.First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func createInBatches[T any](db *gorm.DB, items []T, batchSize int) error {
	if len(items) == 0 {
		return nil
	}
	if batchSize <= 0 {
		batchSize = 200
	}
	for i := 0; i < len(items); i += batchSize {
		end := i + batchSize
		if end > len(items) {
			end = len(items)
		}
		if err := db.CreateInBatches(items[i:end], batchSize).Error; err != nil {
			return err
		}
	}
	return nil
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
