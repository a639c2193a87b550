package models

type OperatingHours struct {
	Open  string   `json:"open"`
	Close string   `json:"close"`
	Days  []string `json:"days"`
}

type Clinic struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Address        string         `json:"address"`
	Phone          string         `json:"phone"`
	Email          string         `json:"email"`
	Description    string         `json:"description,omitempty"`
	OperatingHours OperatingHours `json:"operating_hours"`
}

type Doctor struct {
	ID              string `json:"id"`
	ClinicID        string `json:"clinic_id"`
	Name            string `json:"name"`
	Specialization  string `json:"specialization"`
	Qualification   string `json:"qualification"`
	ExperienceYears int    `json:"experience_years"`
	Bio             string `json:"bio,omitempty"`
	RoomNumber      string `json:"room_number"`
	ConsultationFee int    `json:"consultation_fee"`
}
