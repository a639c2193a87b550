package postgres

import (
	"context"
	"errors"

	"medcare/token-service/internal/models"
	"medcare/token-service/internal/store"

	"github.com/jackc/pgx/v5"
)

const clinicColumns = "clinic_id, name, address, phone, email, description, open_time, close_time, operating_days"

const doctorColumns = `doctor_id, clinic_id, name, specialization, qualification, experience_years, bio,
	room_number, consultation_fee`

func (s *Store) ListClinics(ctx context.Context) ([]models.Clinic, error) {
	rows, err := s.db.Query(ctx, `SELECT `+clinicColumns+` FROM clinics ORDER BY clinic_id`)
	if err != nil {
		return nil, backendError(err)
	}
	defer rows.Close()

	var clinics []models.Clinic
	for rows.Next() {
		clinic, err := scanClinic(rows)
		if err != nil {
			return nil, backendError(err)
		}
		clinics = append(clinics, clinic)
	}
	if err := rows.Err(); err != nil {
		return nil, backendError(err)
	}
	return clinics, nil
}

func (s *Store) GetClinic(ctx context.Context, clinicID string) (models.Clinic, error) {
	row := s.db.QueryRow(ctx, `SELECT `+clinicColumns+` FROM clinics WHERE clinic_id = $1`, clinicID)
	clinic, err := scanClinic(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Clinic{}, store.ErrClinicNotFound
		}
		return models.Clinic{}, backendError(err)
	}
	return clinic, nil
}

func (s *Store) ListDoctors(ctx context.Context, clinicID string) ([]models.Doctor, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+doctorColumns+`
		FROM doctors
		WHERE clinic_id = $1
		ORDER BY doctor_id
	`, clinicID)
	if err != nil {
		return nil, backendError(err)
	}
	defer rows.Close()

	var doctors []models.Doctor
	for rows.Next() {
		doctor, err := scanDoctor(rows)
		if err != nil {
			return nil, backendError(err)
		}
		doctors = append(doctors, doctor)
	}
	if err := rows.Err(); err != nil {
		return nil, backendError(err)
	}
	return doctors, nil
}

func (s *Store) GetDoctor(ctx context.Context, doctorID string) (models.Doctor, error) {
	row := s.db.QueryRow(ctx, `SELECT `+doctorColumns+` FROM doctors WHERE doctor_id = $1`, doctorID)
	doctor, err := scanDoctor(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Doctor{}, store.ErrDoctorNotFound
		}
		return models.Doctor{}, backendError(err)
	}
	return doctor, nil
}

func scanClinic(row pgx.Row) (models.Clinic, error) {
	var c models.Clinic
	err := row.Scan(&c.ID, &c.Name, &c.Address, &c.Phone, &c.Email, &c.Description,
		&c.OperatingHours.Open, &c.OperatingHours.Close, &c.OperatingHours.Days)
	return c, err
}

func scanDoctor(row pgx.Row) (models.Doctor, error) {
	var d models.Doctor
	err := row.Scan(&d.ID, &d.ClinicID, &d.Name, &d.Specialization, &d.Qualification, &d.ExperienceYears, &d.Bio,
		&d.RoomNumber, &d.ConsultationFee)
	return d, err
}
