package models

import (
	"fmt"

	"gorm.io/datatypes"
)

// CellType is the projection class tagged in a recording.
type CellType string

const (
	CellTypePTLower CellType = "PTlower"
	CellTypePTUpper CellType = "PTupper"
)

func ParseCellType(s string) (CellType, error) {
	switch CellType(s) {
	case CellTypePTLower, CellTypePTUpper:
		return CellType(s), nil
	}
	return "", fmt.Errorf("unknown cell type %q", s)
}

type UnitSpikeTimes struct {
	SubjectID    string         `gorm:"primaryKey;type:varchar(64)"`
	SessionID    int            `gorm:"primaryKey;autoIncrement:false"`
	ProbeName    string         `gorm:"primaryKey;type:varchar(64)"`
	UnitID       int            `gorm:"primaryKey;autoIncrement:false"`
	ChannelID    int            `gorm:"not null"`
	UnitCellType CellType       `gorm:"type:varchar(16);not null"`
	UnitQuality  string         `gorm:"type:varchar(32)"`
	UnitDepth    float64        `gorm:"not null;comment:(um)"`
	SpikeTimes   datatypes.JSON `gorm:"not null;comment:(s) relative to session start"`
}

func (UnitSpikeTimes) TableName() string {
	return "unit_spike_times"
}

func (u UnitSpikeTimes) Key() UnitKey {
	return UnitKey{SubjectID: u.SubjectID, SessionID: u.SessionID, ProbeName: u.ProbeName, UnitID: u.UnitID}
}
