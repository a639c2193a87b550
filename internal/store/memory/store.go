package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"medcare/token-service/internal/models"
	"medcare/token-service/internal/store"
)

// Store is the offline backend. Queue state is created lazily on first read
// and lives for the lifetime of the process.
type Store struct {
	mu           sync.Mutex
	queues       map[models.QueueKey]models.QueueState
	appointments map[string]models.Appointment
	clinics      []models.Clinic
	doctors      []models.Doctor
	now          func() time.Time
}

type Options struct {
	SeedDemoData bool
	Now          func() time.Time
}

func NewStore(options Options) *Store {
	now := options.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	s := &Store{
		queues:       make(map[models.QueueKey]models.QueueState),
		appointments: make(map[string]models.Appointment),
		now:          now,
	}
	if options.SeedDemoData {
		s.seed(now())
	}
	return s
}

func (s *Store) GetState(ctx context.Context, key models.QueueKey) (models.QueueState, error) {
	if err := ctx.Err(); err != nil {
		return models.QueueState{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked(key), nil
}

func (s *Store) IssueToken(ctx context.Context, key models.QueueKey, issuedAt time.Time) (models.QueueState, error) {
	if err := ctx.Err(); err != nil {
		return models.QueueState{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.stateLocked(key)
	state.TotalTokens++
	state.LastUpdated = issuedAt
	s.queues[key] = state
	return state, nil
}

// BookAppointment commits the incremented queue and the appointment under one
// lock; a build error leaves both untouched.
func (s *Store) BookAppointment(ctx context.Context, key models.QueueKey, issuedAt time.Time, build func(models.QueueState) (models.Appointment, error)) (models.Appointment, models.QueueState, error) {
	if err := ctx.Err(); err != nil {
		return models.Appointment{}, models.QueueState{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.stateLocked(key)
	state.TotalTokens++
	state.LastUpdated = issuedAt
	appointment, err := build(state)
	if err != nil {
		return models.Appointment{}, models.QueueState{}, err
	}
	if _, exists := s.appointments[appointment.ID]; exists {
		return models.Appointment{}, models.QueueState{}, fmt.Errorf("%w: appointment %s already exists", store.ErrInvalidState, appointment.ID)
	}
	s.queues[key] = state
	s.appointments[appointment.ID] = appointment
	return appointment, state, nil
}

func (s *Store) AdvanceToken(ctx context.Context, key models.QueueKey, advancedAt time.Time) (models.QueueState, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.QueueState{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.stateLocked(key)
	if state.CurrentToken >= state.TotalTokens {
		return state, false, nil
	}
	state.CurrentToken++
	state.LastUpdated = advancedAt
	s.queues[key] = state
	return state, true, nil
}

func (s *Store) stateLocked(key models.QueueKey) models.QueueState {
	state, ok := s.queues[key]
	if !ok {
		state = models.NewQueueState(key, s.now())
		s.queues[key] = state
	}
	return state
}

func (s *Store) CreateAppointment(ctx context.Context, appointment models.Appointment) (models.Appointment, error) {
	if err := ctx.Err(); err != nil {
		return models.Appointment{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appointments[appointment.ID] = appointment
	return appointment, nil
}

func (s *Store) GetAppointment(ctx context.Context, appointmentID string) (models.Appointment, error) {
	if err := ctx.Err(); err != nil {
		return models.Appointment{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	appointment, ok := s.appointments[appointmentID]
	if !ok {
		return models.Appointment{}, store.ErrAppointmentNotFound
	}
	return appointment, nil
}

func (s *Store) ListAppointmentsByUser(ctx context.Context, userID string) ([]models.Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var appointments []models.Appointment
	for _, appointment := range s.appointments {
		if appointment.UserID == userID {
			appointments = append(appointments, appointment)
		}
	}
	sort.Slice(appointments, func(i, j int) bool {
		return appointments[i].CreatedAt.After(appointments[j].CreatedAt)
	})
	return appointments, nil
}

func (s *Store) UpdateAppointmentStatus(ctx context.Context, input store.StatusUpdateInput) (models.Appointment, error) {
	if err := ctx.Err(); err != nil {
		return models.Appointment{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	appointment, ok := s.appointments[input.AppointmentID]
	if !ok {
		return models.Appointment{}, store.ErrAppointmentNotFound
	}
	next, err := store.NextStatus(input.Action, appointment.Status)
	if err != nil {
		return models.Appointment{}, err
	}
	appointment.Status = next
	appointment.UpdatedAt = input.OccurredAt
	s.appointments[appointment.ID] = appointment
	return appointment, nil
}

func (s *Store) ListClinics(ctx context.Context) ([]models.Clinic, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clinics := make([]models.Clinic, len(s.clinics))
	copy(clinics, s.clinics)
	return clinics, nil
}

func (s *Store) GetClinic(ctx context.Context, clinicID string) (models.Clinic, error) {
	if err := ctx.Err(); err != nil {
		return models.Clinic{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, clinic := range s.clinics {
		if clinic.ID == clinicID {
			return clinic, nil
		}
	}
	return models.Clinic{}, store.ErrClinicNotFound
}

func (s *Store) ListDoctors(ctx context.Context, clinicID string) ([]models.Doctor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var doctors []models.Doctor
	for _, doctor := range s.doctors {
		if doctor.ClinicID == clinicID {
			doctors = append(doctors, doctor)
		}
	}
	return doctors, nil
}

func (s *Store) GetDoctor(ctx context.Context, doctorID string) (models.Doctor, error) {
	if err := ctx.Err(); err != nil {
		return models.Doctor{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, doctor := range s.doctors {
		if doctor.ID == doctorID {
			return doctor, nil
		}
	}
	return models.Doctor{}, store.ErrDoctorNotFound
}

// AddClinic and AddDoctor register directory entries; used by tests and seeding.
func (s *Store) AddClinic(clinic models.Clinic) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clinics = append(s.clinics, clinic)
}

func (s *Store) AddDoctor(doctor models.Doctor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doctors = append(s.doctors, doctor)
}
