package models

import "time"

type QueueKey struct {
	DoctorID string `json:"doctor_id"`
	ClinicID string `json:"clinic_id"`
}

func (k QueueKey) String() string {
	return k.DoctorID + "-" + k.ClinicID
}

type QueueState struct {
	QueueKey     string    `json:"queue_key"`
	DoctorID     string    `json:"doctor_id"`
	ClinicID     string    `json:"clinic_id"`
	CurrentToken int       `json:"current_token"`
	TotalTokens  int       `json:"total_tokens"`
	LastUpdated  time.Time `json:"last_updated"`
}

// NewQueueState returns the zeroed state a queue starts in before its first token.
func NewQueueState(key QueueKey, now time.Time) QueueState {
	return QueueState{
		QueueKey:    key.String(),
		DoctorID:    key.DoctorID,
		ClinicID:    key.ClinicID,
		LastUpdated: now,
	}
}

func (s QueueState) Key() QueueKey {
	return QueueKey{DoctorID: s.DoctorID, ClinicID: s.ClinicID}
}

type TimeSlot struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}
