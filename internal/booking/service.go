package booking

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"medcare/token-service/internal/models"
	"medcare/token-service/internal/queue"
	"medcare/token-service/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	GuestUserID = "guest"
	maxAge      = 150
)

var ErrInvalidInput = errors.New("invalid booking input")

var phonePattern = regexp.MustCompile(`^[+]?[(]?[0-9]{1,4}[)]?[-\s.]?[(]?[0-9]{1,4}[)]?[-\s.]?[0-9]{1,9}$`)

type Allocator interface {
	Book(ctx context.Context, bookings store.BookingStore, key models.QueueKey, openTime string, build func(queue.Allocation) (models.Appointment, error)) (models.Appointment, queue.Allocation, error)
}

type QueueReader interface {
	GetState(ctx context.Context, key models.QueueKey) (models.QueueState, error)
}

type BookInput struct {
	UserID        string `json:"user_id"`
	DoctorID      string `json:"doctor_id"`
	ClinicID      string `json:"clinic_id"`
	PatientName   string `json:"patient_name"`
	PatientPhone  string `json:"patient_phone"`
	PatientAge    int    `json:"patient_age"`
	PatientGender string `json:"patient_gender"`
	PatientNotes  string `json:"patient_notes"`
}

type AppointmentProgress struct {
	Appointment models.Appointment `json:"appointment"`
	queue.Progress
}

type Service struct {
	allocator    Allocator
	bookings     store.BookingStore
	queues       QueueReader
	appointments store.AppointmentStore
	directory    store.DirectoryStore
	logger       *zap.Logger
	now          func() time.Time
	newID        func() string
}

func NewService(allocator Allocator, bookings store.BookingStore, queues QueueReader, appointments store.AppointmentStore, directory store.DirectoryStore, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		allocator:    allocator,
		bookings:     bookings,
		queues:       queues,
		appointments: appointments,
		directory:    directory,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
		newID:        uuid.NewString,
	}
}

// Book allocates a token with the doctor's queue and records the appointment
// for today. The token and the appointment are committed together, so a
// failed booking leaves the queue's total_tokens unchanged.
func (s *Service) Book(ctx context.Context, input BookInput) (models.Appointment, error) {
	if err := validate(input); err != nil {
		return models.Appointment{}, err
	}

	doctor, err := s.directory.GetDoctor(ctx, input.DoctorID)
	if err != nil {
		return models.Appointment{}, err
	}
	clinic, err := s.directory.GetClinic(ctx, input.ClinicID)
	if err != nil {
		return models.Appointment{}, err
	}
	if doctor.ClinicID != clinic.ID {
		return models.Appointment{}, fmt.Errorf("%w: %s does not practice at %s", store.ErrDoctorNotFound, doctor.ID, clinic.ID)
	}

	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		userID = GuestUserID
	}
	key := models.QueueKey{DoctorID: doctor.ID, ClinicID: clinic.ID}
	now := s.now()
	created, _, err := s.allocator.Book(ctx, s.bookings, key, clinic.OperatingHours.Open, func(allocation queue.Allocation) (models.Appointment, error) {
		return models.Appointment{
			ID:            s.newID(),
			UserID:        userID,
			DoctorID:      doctor.ID,
			ClinicID:      clinic.ID,
			Date:          now.Format(time.DateOnly),
			TimeSlot:      allocation.TimeSlot,
			TokenNumber:   allocation.TokenNumber,
			Status:        models.StatusBooked,
			PatientName:   strings.TrimSpace(input.PatientName),
			PatientPhone:  strings.TrimSpace(input.PatientPhone),
			PatientAge:    input.PatientAge,
			PatientGender: input.PatientGender,
			PatientNotes:  input.PatientNotes,
			CreatedAt:     now,
			UpdatedAt:     now,
		}, nil
	})
	if err != nil {
		return models.Appointment{}, err
	}
	s.logger.Info("appointment booked",
		zap.String("appointment_id", created.ID),
		zap.String("queue_key", key.String()),
		zap.Int("token_number", created.TokenNumber),
	)
	return created, nil
}

func (s *Service) Get(ctx context.Context, appointmentID string) (models.Appointment, error) {
	return s.appointments.GetAppointment(ctx, appointmentID)
}

func (s *Service) ListByUser(ctx context.Context, userID string) ([]models.Appointment, error) {
	if strings.TrimSpace(userID) == "" {
		userID = GuestUserID
	}
	return s.appointments.ListAppointmentsByUser(ctx, userID)
}

func (s *Service) Start(ctx context.Context, appointmentID string) (models.Appointment, error) {
	return s.transition(ctx, appointmentID, store.ActionStart)
}

func (s *Service) Complete(ctx context.Context, appointmentID string) (models.Appointment, error) {
	return s.transition(ctx, appointmentID, store.ActionComplete)
}

func (s *Service) Cancel(ctx context.Context, appointmentID string) (models.Appointment, error) {
	return s.transition(ctx, appointmentID, store.ActionCancel)
}

func (s *Service) transition(ctx context.Context, appointmentID, action string) (models.Appointment, error) {
	return s.appointments.UpdateAppointmentStatus(ctx, store.StatusUpdateInput{
		AppointmentID: appointmentID,
		Action:        action,
		OccurredAt:    s.now(),
	})
}

// Progress reports where an appointment's token stands in its live queue.
func (s *Service) Progress(ctx context.Context, appointmentID string) (AppointmentProgress, error) {
	appointment, err := s.appointments.GetAppointment(ctx, appointmentID)
	if err != nil {
		return AppointmentProgress{}, err
	}
	state, err := s.queues.GetState(ctx, appointment.QueueKey())
	if err != nil {
		return AppointmentProgress{}, err
	}
	return AppointmentProgress{
		Appointment: appointment,
		Progress:    queue.ProgressFor(state, appointment.TokenNumber),
	}, nil
}

func validate(input BookInput) error {
	if strings.TrimSpace(input.DoctorID) == "" || strings.TrimSpace(input.ClinicID) == "" {
		return fmt.Errorf("%w: doctor_id and clinic_id are required", ErrInvalidInput)
	}
	if strings.TrimSpace(input.PatientName) == "" {
		return fmt.Errorf("%w: patient name is required", ErrInvalidInput)
	}
	if input.PatientAge <= 0 || input.PatientAge > maxAge {
		return fmt.Errorf("%w: patient age must be between 1 and %d", ErrInvalidInput, maxAge)
	}
	phone := strings.TrimSpace(input.PatientPhone)
	if phone == "" {
		return fmt.Errorf("%w: phone number is required", ErrInvalidInput)
	}
	if !phonePattern.MatchString(phone) {
		return fmt.Errorf("%w: invalid phone number", ErrInvalidInput)
	}
	return nil
}
