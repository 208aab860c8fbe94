package models

const (
	EventTrialStart = "trial_start"
	EventTrialStop  = "trial_stop"
	EventPoleIn     = "pole_in"
	EventPoleOut    = "pole_out"
	EventCueStart   = "cue_start"
)

type ExperimentalEvent struct {
	Event       string `gorm:"primaryKey;type:varchar(32)"`
	Description string `gorm:"type:varchar(256)"`
}

func (ExperimentalEvent) TableName() string {
	return "experimental_event"
}

func DefaultExperimentalEvents() []ExperimentalEvent {
	return []ExperimentalEvent{
		{Event: EventTrialStart, Description: "start of the trial"},
		{Event: EventTrialStop, Description: "end of the trial"},
		{Event: EventPoleIn, Description: "onset of pole motion into reach of the whiskers (sample epoch start)"},
		{Event: EventPoleOut, Description: "onset of pole retraction (sample epoch end)"},
		{Event: EventCueStart, Description: "onset of the auditory go cue (response epoch start)"},
	}
}
