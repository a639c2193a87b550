package store

import "errors"

var (
	ErrQueueNotFound       = errors.New("queue not found")
	ErrBackendUnavailable  = errors.New("backend unavailable")
	ErrClinicNotFound      = errors.New("clinic not found")
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrInvalidState        = errors.New("invalid appointment state")
)
