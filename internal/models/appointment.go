package models

import "time"

type Appointment struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	DoctorID      string    `json:"doctor_id"`
	ClinicID      string    `json:"clinic_id"`
	Date          string    `json:"date"`
	TimeSlot      TimeSlot  `json:"time_slot"`
	TokenNumber   int       `json:"token_number"`
	Status        string    `json:"status"`
	PatientName   string    `json:"patient_name,omitempty"`
	PatientPhone  string    `json:"patient_phone,omitempty"`
	PatientAge    int       `json:"patient_age,omitempty"`
	PatientGender string    `json:"patient_gender,omitempty"`
	PatientNotes  string    `json:"patient_notes,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (a Appointment) QueueKey() QueueKey {
	return QueueKey{DoctorID: a.DoctorID, ClinicID: a.ClinicID}
}

const (
	StatusBooked     = "booked"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)
