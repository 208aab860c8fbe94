package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type TrialSegmentationSetting struct {
	TrialSegSetting  uint            `gorm:"primaryKey;autoIncrement:false"`
	Event            string          `gorm:"type:varchar(32);not null"`
	PreStimDuration  decimal.Decimal `gorm:"type:decimal(4,2);not null;comment:(s)"`
	PostStimDuration decimal.Decimal `gorm:"type:decimal(4,2);not null;comment:(s)"`
	BinSize          decimal.Decimal `gorm:"type:decimal(6,4);not null;comment:(s) 0 disables PSTH computation"`
}

func (TrialSegmentationSetting) TableName() string {
	return "trial_segmentation_setting"
}

type TrialSegmentedUnitSpikeTimes struct {
	SubjectID           string         `gorm:"primaryKey;type:varchar(64)"`
	SessionID           int            `gorm:"primaryKey;autoIncrement:false"`
	ProbeName           string         `gorm:"primaryKey;type:varchar(64)"`
	UnitID              int            `gorm:"primaryKey;autoIncrement:false"`
	TrialID             int            `gorm:"primaryKey;autoIncrement:false"`
	TrialSegSetting     uint           `gorm:"primaryKey;autoIncrement:false"`
	SegmentedSpikeTimes datatypes.JSON `gorm:"not null"`
}

func (TrialSegmentedUnitSpikeTimes) TableName() string {
	return "trial_segmented_unit_spike_times"
}

func (t TrialSegmentedUnitSpikeTimes) Key() SegmentKey {
	return SegmentKey{
		UnitKey:         UnitKey{SubjectID: t.SubjectID, SessionID: t.SessionID, ProbeName: t.ProbeName, UnitID: t.UnitID},
		TrialID:         t.TrialID,
		TrialSegSetting: t.TrialSegSetting,
	}
}

const (
	PSTHOriginImported = "imported"
	PSTHOriginComputed = "computed"
)

type UnitPSTH struct {
	SubjectID       string         `gorm:"primaryKey;type:varchar(64)"`
	SessionID       int            `gorm:"primaryKey;autoIncrement:false"`
	ProbeName       string         `gorm:"primaryKey;type:varchar(64)"`
	UnitID          int            `gorm:"primaryKey;autoIncrement:false"`
	TrialID         int            `gorm:"primaryKey;autoIncrement:false"`
	TrialSegSetting uint           `gorm:"primaryKey;autoIncrement:false"`
	PSTH            datatypes.JSON `gorm:"column:psth;not null"`
	PSTHTime        datatypes.JSON `gorm:"column:psth_time;not null"`
	Origin          string         `gorm:"type:varchar(16);not null"`
}

func (UnitPSTH) TableName() string {
	return "unit_psth"
}

func (p UnitPSTH) Key() SegmentKey {
	return SegmentKey{
		UnitKey:         UnitKey{SubjectID: p.SubjectID, SessionID: p.SessionID, ProbeName: p.ProbeName, UnitID: p.UnitID},
		TrialID:         p.TrialID,
		TrialSegSetting: p.TrialSegSetting,
	}
}
