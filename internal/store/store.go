package store

import (
	"context"
	"time"

	"medcare/token-service/internal/models"
)

// QueueStore holds per-queue token counters. IssueToken is the only path that
// increments total_tokens.
type QueueStore interface {
	GetState(ctx context.Context, key models.QueueKey) (models.QueueState, error)
	IssueToken(ctx context.Context, key models.QueueKey, issuedAt time.Time) (models.QueueState, error)
	AdvanceToken(ctx context.Context, key models.QueueKey, advancedAt time.Time) (models.QueueState, bool, error)
}

type StatusUpdateInput struct {
	AppointmentID string
	Action        string
	OccurredAt    time.Time
}

type AppointmentStore interface {
	CreateAppointment(ctx context.Context, appointment models.Appointment) (models.Appointment, error)
	GetAppointment(ctx context.Context, appointmentID string) (models.Appointment, error)
	ListAppointmentsByUser(ctx context.Context, userID string) ([]models.Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, input StatusUpdateInput) (models.Appointment, error)
}

// BookingStore issues a token and records the appointment built from the
// resulting state as one unit: both are committed or neither is. build must
// not call back into the store.
type BookingStore interface {
	BookAppointment(ctx context.Context, key models.QueueKey, issuedAt time.Time, build func(models.QueueState) (models.Appointment, error)) (models.Appointment, models.QueueState, error)
}

type DirectoryStore interface {
	ListClinics(ctx context.Context) ([]models.Clinic, error)
	GetClinic(ctx context.Context, clinicID string) (models.Clinic, error)
	ListDoctors(ctx context.Context, clinicID string) ([]models.Doctor, error)
	GetDoctor(ctx context.Context, doctorID string) (models.Doctor, error)
}
