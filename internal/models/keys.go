package models

import "fmt"

// SessionKey identifies one recording session of one subject.
type SessionKey struct {
	SubjectID string `json:"subject_id"`
	SessionID int    `json:"session_id"`
}

func (k SessionKey) String() string {
	return fmt.Sprintf("%s/%d", k.SubjectID, k.SessionID)
}

// UnitKey identifies one sorted unit on the session's probe insertion.
type UnitKey struct {
	SubjectID string `json:"subject_id"`
	SessionID int    `json:"session_id"`
	ProbeName string `json:"probe_name"`
	UnitID    int    `json:"unit_id"`
}

func (k UnitKey) Session() SessionKey {
	return SessionKey{SubjectID: k.SubjectID, SessionID: k.SessionID}
}

// SegmentKey identifies one trial-segmented record of a unit.
type SegmentKey struct {
	UnitKey
	TrialID         int  `json:"trial_id"`
	TrialSegSetting uint `json:"trial_seg_setting"`
}
