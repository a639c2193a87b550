package memory

import (
	"time"

	"medcare/token-service/internal/models"
)

var weekdays = []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday"}

func (s *Store) seed(now time.Time) {
	s.clinics = []models.Clinic{
		{
			ID:          "clinic-1",
			Name:        "City Medical Center",
			Address:     "123 Health Street, Medical District, City 12345",
			Phone:       "+1 (555) 123-4567",
			Email:       "info@citymedical.com",
			Description: "A leading healthcare facility providing comprehensive medical services",
			OperatingHours: models.OperatingHours{
				Open: "09:00", Close: "18:00",
				Days: append(append([]string{}, weekdays...), "Saturday"),
			},
		},
		{
			ID:          "clinic-2",
			Name:        "Wellness Care Clinic",
			Address:     "456 Wellness Avenue, Health Zone, City 12345",
			Phone:       "+1 (555) 234-5678",
			Email:       "contact@wellnesscare.com",
			Description: "Your trusted partner in health and wellness",
			OperatingHours: models.OperatingHours{
				Open: "08:00", Close: "20:00",
				Days: append([]string{}, weekdays...),
			},
		},
		{
			ID:          "clinic-3",
			Name:        "Family Health Hub",
			Address:     "789 Family Road, Community Center, City 12345",
			Phone:       "+1 (555) 345-6789",
			Email:       "hello@familyhealth.com",
			Description: "Comprehensive family healthcare services",
			OperatingHours: models.OperatingHours{
				Open: "07:00", Close: "19:00",
				Days: append(append([]string{}, weekdays...), "Saturday", "Sunday"),
			},
		},
	}

	s.doctors = []models.Doctor{
		{ID: "doctor-1", ClinicID: "clinic-1", Name: "Dr. Sarah Johnson", Specialization: "Cardiology", Qualification: "MD, FACC", ExperienceYears: 15, Bio: "Expert in cardiovascular diseases with 15 years of experience", RoomNumber: "101", ConsultationFee: 500},
		{ID: "doctor-2", ClinicID: "clinic-1", Name: "Dr. Michael Chen", Specialization: "Pediatrics", Qualification: "MD, DCH", ExperienceYears: 12, Bio: "Specialized in child healthcare and development", RoomNumber: "102", ConsultationFee: 400},
		{ID: "doctor-3", ClinicID: "clinic-2", Name: "Dr. Emily Rodriguez", Specialization: "Dermatology", Qualification: "MD, FAAD", ExperienceYears: 10, Bio: "Expert in skin care and dermatological conditions", RoomNumber: "201", ConsultationFee: 450},
		{ID: "doctor-4", ClinicID: "clinic-2", Name: "Dr. James Wilson", Specialization: "Orthopedics", Qualification: "MD, MS", ExperienceYears: 18, Bio: "Specialized in bone and joint disorders", RoomNumber: "202", ConsultationFee: 600},
		{ID: "doctor-5", ClinicID: "clinic-3", Name: "Dr. Priya Sharma", Specialization: "General Medicine", Qualification: "MD", ExperienceYears: 8, Bio: "Comprehensive primary care physician", RoomNumber: "301", ConsultationFee: 350},
		{ID: "doctor-6", ClinicID: "clinic-3", Name: "Dr. Robert Taylor", Specialization: "Neurology", Qualification: "MD, DM", ExperienceYears: 20, Bio: "Expert in neurological disorders and treatments", RoomNumber: "302", ConsultationFee: 700},
	}

	counters := []struct {
		doctorID, clinicID string
		current, total     int
	}{
		{"doctor-1", "clinic-1", 3, 10},
		{"doctor-2", "clinic-1", 1, 8},
		{"doctor-3", "clinic-2", 2, 6},
		{"doctor-4", "clinic-2", 4, 12},
		{"doctor-5", "clinic-3", 1, 5},
		{"doctor-6", "clinic-3", 3, 9},
	}
	for _, c := range counters {
		key := models.QueueKey{DoctorID: c.doctorID, ClinicID: c.clinicID}
		state := models.NewQueueState(key, now)
		state.CurrentToken = c.current
		state.TotalTokens = c.total
		s.queues[key] = state
	}
}
