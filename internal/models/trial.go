package models

type TrialSet struct {
	SubjectID   string `gorm:"primaryKey;type:varchar(64)"`
	SessionID   int    `gorm:"primaryKey;autoIncrement:false"`
	TrialCounts int    `gorm:"not null"`
}

func (TrialSet) TableName() string {
	return "trial_set"
}

type Trial struct {
	SubjectID        string   `gorm:"primaryKey;type:varchar(64)"`
	SessionID        int      `gorm:"primaryKey;autoIncrement:false"`
	TrialID          int      `gorm:"primaryKey;autoIncrement:false"`
	StartTime        float64  `gorm:"not null"`
	StopTime         *float64 `gorm:"default:null"`
	TrialStimPresent int      `gorm:"not null"`
	TrialIsGood      int      `gorm:"not null"`
	TrialType        string   `gorm:"type:varchar(32);not null"`
	TrialResponse    string   `gorm:"type:varchar(32);not null"`
}

func (Trial) TableName() string {
	return "trial"
}

// TrialColumnDescriptions documents the non-key trial attributes that are
// carried into exported trial tables.
var TrialColumnDescriptions = []struct {
	Name        string
	Description string
}{
	{"trial_stim_present", "is this a stim or no-stim trial"},
	{"trial_is_good", "good/bad status of trial (bad trials excluded from analysis)"},
	{"trial_type", "type of trial (lick left, lick right)"},
	{"trial_response", "the animal's response to this trial (correct, incorrect, early lick, no response)"},
}

// EventTime holds a trial event relative to the start of its trial (s).
type EventTime struct {
	SubjectID  string  `gorm:"primaryKey;type:varchar(64)"`
	SessionID  int     `gorm:"primaryKey;autoIncrement:false"`
	TrialID    int     `gorm:"primaryKey;autoIncrement:false"`
	TrialEvent string  `gorm:"primaryKey;type:varchar(32)"`
	EventTime  float64 `gorm:"not null"`
}

func (EventTime) TableName() string {
	return "trial_event_time"
}
