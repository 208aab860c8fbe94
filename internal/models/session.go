package models

import "time"

type Session struct {
	SubjectID   string    `gorm:"primaryKey;type:varchar(64)"`
	SessionID   int       `gorm:"primaryKey;autoIncrement:false"`
	SessionTime time.Time `gorm:"type:date;not null"`
	SessionNote string    `gorm:"type:varchar(2048)"`
}

func (Session) TableName() string {
	return "session"
}

func (s Session) Key() SessionKey {
	return SessionKey{SubjectID: s.SubjectID, SessionID: s.SessionID}
}

type SessionExperimenter struct {
	SubjectID    string `gorm:"primaryKey;type:varchar(64)"`
	SessionID    int    `gorm:"primaryKey;autoIncrement:false"`
	Experimenter string `gorm:"primaryKey;type:varchar(64)"`
}

func (SessionExperimenter) TableName() string {
	return "session_experimenter"
}
