package store

import (
	"context"
	"time"

	"medcare/token-service/internal/models"
)

// SplitBooking books across a queue backend and a separate appointment
// backend. The two writes cannot share a transaction, so the appointment is
// written only after the token commits and is detached from the caller's
// cancellation. An appointment write that still fails leaves the token
// issued.
type SplitBooking struct {
	Queues       QueueStore
	Appointments AppointmentStore
}

func (b SplitBooking) BookAppointment(ctx context.Context, key models.QueueKey, issuedAt time.Time, build func(models.QueueState) (models.Appointment, error)) (models.Appointment, models.QueueState, error) {
	state, err := b.Queues.IssueToken(ctx, key, issuedAt)
	if err != nil {
		return models.Appointment{}, models.QueueState{}, err
	}
	appointment, err := build(state)
	if err != nil {
		return models.Appointment{}, state, err
	}
	created, err := b.Appointments.CreateAppointment(context.WithoutCancel(ctx), appointment)
	if err != nil {
		return models.Appointment{}, state, err
	}
	return created, state, nil
}
