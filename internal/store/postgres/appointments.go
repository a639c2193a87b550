package postgres

import (
	"context"
	"errors"
	"fmt"

	"medcare/token-service/internal/models"
	"medcare/token-service/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const appointmentColumns = `appointment_id, user_id, doctor_id, clinic_id, appointment_date, start_time, end_time,
	token_number, status, patient_name, patient_phone, patient_age, patient_gender, patient_notes, created_at, updated_at`

func (s *Store) CreateAppointment(ctx context.Context, appointment models.Appointment) (models.Appointment, error) {
	if err := insertAppointment(ctx, s.db, appointment); err != nil {
		return models.Appointment{}, err
	}
	return appointment, nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertAppointment(ctx context.Context, db execer, appointment models.Appointment) error {
	_, err := db.Exec(ctx, `
		INSERT INTO appointments (`+appointmentColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`, appointment.ID, appointment.UserID, appointment.DoctorID, appointment.ClinicID, appointment.Date,
		appointment.TimeSlot.StartTime, appointment.TimeSlot.EndTime, appointment.TokenNumber, appointment.Status,
		appointment.PatientName, appointment.PatientPhone, appointment.PatientAge, appointment.PatientGender,
		appointment.PatientNotes, appointment.CreatedAt, appointment.UpdatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: %s", store.ErrDoctorNotFound, appointment.DoctorID)
		}
		return backendError(err)
	}
	return nil
}

func (s *Store) GetAppointment(ctx context.Context, appointmentID string) (models.Appointment, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE appointment_id = $1
	`, appointmentID)
	appointment, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Appointment{}, store.ErrAppointmentNotFound
		}
		return models.Appointment{}, backendError(err)
	}
	return appointment, nil
}

func (s *Store) ListAppointmentsByUser(ctx context.Context, userID string) ([]models.Appointment, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, backendError(err)
	}
	defer rows.Close()

	var appointments []models.Appointment
	for rows.Next() {
		appointment, err := scanAppointment(rows)
		if err != nil {
			return nil, backendError(err)
		}
		appointments = append(appointments, appointment)
	}
	if err := rows.Err(); err != nil {
		return nil, backendError(err)
	}
	return appointments, nil
}

func (s *Store) UpdateAppointmentStatus(ctx context.Context, input store.StatusUpdateInput) (appointment models.Appointment, err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return models.Appointment{}, backendError(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var current string
	err = tx.QueryRow(ctx, `
		SELECT status FROM appointments WHERE appointment_id = $1 FOR UPDATE
	`, input.AppointmentID).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Appointment{}, store.ErrAppointmentNotFound
		}
		return models.Appointment{}, backendError(err)
	}

	next, err := store.NextStatus(input.Action, current)
	if err != nil {
		return models.Appointment{}, err
	}

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2, updated_at = $3
		WHERE appointment_id = $1
		RETURNING `+appointmentColumns+`
	`, input.AppointmentID, next, input.OccurredAt)
	appointment, err = scanAppointment(row)
	if err != nil {
		return models.Appointment{}, backendError(err)
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Appointment{}, backendError(err)
	}
	return appointment, nil
}

func scanAppointment(row pgx.Row) (models.Appointment, error) {
	var a models.Appointment
	err := row.Scan(&a.ID, &a.UserID, &a.DoctorID, &a.ClinicID, &a.Date, &a.TimeSlot.StartTime, &a.TimeSlot.EndTime,
		&a.TokenNumber, &a.Status, &a.PatientName, &a.PatientPhone, &a.PatientAge, &a.PatientGender, &a.PatientNotes,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return models.Appointment{}, err
	}
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return a, nil
}
