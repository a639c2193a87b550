package queue

import (
	"context"
	"time"

	"medcare/token-service/internal/metrics"
	"medcare/token-service/internal/models"
	"medcare/token-service/internal/store"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Allocation struct {
	QueueKey             string            `json:"queue_key"`
	TokenNumber          int               `json:"token_number"`
	TimeSlot             models.TimeSlot   `json:"time_slot"`
	TokensAhead          int               `json:"tokens_ahead"`
	EstimatedWaitMinutes int               `json:"estimated_wait_minutes"`
	State                models.QueueState `json:"state"`
}

// Publisher receives committed queue snapshots.
type Publisher interface {
	Publish(state models.QueueState)
}

type Allocator struct {
	store     store.QueueStore
	publisher Publisher
	logger    *zap.Logger
	metrics   *metrics.QueueMetrics
	tracer    trace.Tracer
	now       func() time.Time
}

func NewAllocator(st store.QueueStore, publisher Publisher, logger *zap.Logger, m *metrics.QueueMetrics) *Allocator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Allocator{
		store:     st,
		publisher: publisher,
		logger:    logger,
		metrics:   m,
		tracer:    otel.Tracer("medcare/token-service/queue"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Allocate issues the next token for key and estimates its consultation slot
// relative to openTime ("HH:MM"). Nothing is committed when the input is
// invalid.
func (a *Allocator) Allocate(ctx context.Context, key models.QueueKey, openTime string) (Allocation, error) {
	return a.allocate(ctx, "queue.allocate", key, openTime, func(ctx context.Context, _ int) (models.QueueState, error) {
		return a.store.IssueToken(ctx, key, a.now())
	})
}

// Book allocates like Allocate but stores the appointment build makes from
// the allocation in the same commit as the token. The snapshot is published
// only once both are stored.
func (a *Allocator) Book(ctx context.Context, bookings store.BookingStore, key models.QueueKey, openTime string, build func(Allocation) (models.Appointment, error)) (models.Appointment, Allocation, error) {
	var booked models.Appointment
	allocation, err := a.allocate(ctx, "queue.book", key, openTime, func(ctx context.Context, openMinutes int) (models.QueueState, error) {
		appointment, state, err := bookings.BookAppointment(ctx, key, a.now(), func(state models.QueueState) (models.Appointment, error) {
			return build(allocationFor(key, openMinutes, state))
		})
		booked = appointment
		return state, err
	})
	if err != nil {
		return models.Appointment{}, Allocation{}, err
	}
	return booked, allocation, nil
}

func (a *Allocator) allocate(ctx context.Context, spanName string, key models.QueueKey, openTime string, issue func(ctx context.Context, openMinutes int) (models.QueueState, error)) (Allocation, error) {
	ctx, span := a.tracer.Start(ctx, spanName, trace.WithAttributes(
		attribute.String("queue.key", key.String()),
		attribute.String("queue.open_time", openTime),
	))
	defer span.End()

	if err := ValidateKey(key); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Allocation{}, err
	}
	openMinutes, err := ParseClock(openTime)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Allocation{}, err
	}

	state, err := issue(ctx, openMinutes)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.logger.Error("token issue failed", zap.String("queue_key", key.String()), zap.Error(err))
		return Allocation{}, err
	}

	allocation := allocationFor(key, openMinutes, state)
	span.SetAttributes(attribute.Int("queue.token_number", allocation.TokenNumber), attribute.Int("queue.tokens_ahead", allocation.TokensAhead))
	a.metrics.ObserveTokenIssued()

	if a.publisher != nil {
		a.publisher.Publish(state)
	}
	return allocation, nil
}

func allocationFor(key models.QueueKey, openMinutes int, state models.QueueState) Allocation {
	token := state.TotalTokens
	ahead := TokensAhead(token, state.CurrentToken)
	return Allocation{
		QueueKey:             key.String(),
		TokenNumber:          token,
		TimeSlot:             SlotFor(openMinutes, ahead),
		TokensAhead:          ahead,
		EstimatedWaitMinutes: EstimatedWait(ahead),
		State:                state,
	}
}
