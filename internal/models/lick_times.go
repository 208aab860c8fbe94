package models

import "gorm.io/datatypes"

type LickTimes struct {
	SubjectID      string         `gorm:"primaryKey;type:varchar(64)"`
	SessionID      int            `gorm:"primaryKey;autoIncrement:false"`
	LickLeftTimes  datatypes.JSON `gorm:"not null;comment:(s) relative to session start"`
	LickRightTimes datatypes.JSON `gorm:"not null;comment:(s) relative to session start"`
}

func (LickTimes) TableName() string {
	return "lick_times"
}
