package db

import (
	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		// reference
		&models.Subject{},
		&models.SubjectAllele{},
		&models.ExperimentalEvent{},
		&models.Probe{},
		&models.ProbeShank{},
		&models.ProbeChannel{},
		&models.BrainLocation{},
		// acquisition
		&models.Session{},
		&models.SessionExperimenter{},
		&models.TrialSet{},
		&models.Trial{},
		&models.EventTime{},
		// extracellular
		&models.ProbeInsertion{},
		&models.UnitSpikeTimes{},
		&models.TrialSegmentationSetting{},
		&models.TrialSegmentedUnitSpikeTimes{},
		&models.UnitPSTH{},
		// behavior
		&models.LickTimes{},
		&models.IngestedFile{},
	)
}
