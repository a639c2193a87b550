package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"medcare/token-service/internal/models"
	"medcare/token-service/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// NotifyChannel carries QueueState JSON for every committed queue change.
const NotifyChannel = "queue_state"

const foreignKeyViolation = "23503"

// db is the subset of *pgxpool.Pool the store needs.
type db interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	db  db
	now func() time.Time
}

func NewStore(pool db) *Store {
	return &Store{
		db:  pool,
		now: func() time.Time { return time.Now().UTC() },
	}
}

const queueColumns = "doctor_id, clinic_id, current_token, total_tokens, last_updated"

func (s *Store) GetState(ctx context.Context, key models.QueueKey) (models.QueueState, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+queueColumns+`
		FROM queue_states
		WHERE doctor_id = $1 AND clinic_id = $2
	`, key.DoctorID, key.ClinicID)
	state, err := scanQueueState(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.NewQueueState(key, s.now()), nil
		}
		return models.QueueState{}, backendError(err)
	}
	return state, nil
}

func (s *Store) IssueToken(ctx context.Context, key models.QueueKey, issuedAt time.Time) (state models.QueueState, err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return models.QueueState{}, backendError(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if state, err = issueToken(ctx, tx, key, issuedAt); err != nil {
		return models.QueueState{}, err
	}
	if err = notifyState(ctx, tx, state); err != nil {
		return models.QueueState{}, backendError(err)
	}
	if err = tx.Commit(ctx); err != nil {
		return models.QueueState{}, backendError(err)
	}
	return state, nil
}

// BookAppointment issues the token and inserts the appointment in one
// transaction. The queue notification is sent only if both succeed.
func (s *Store) BookAppointment(ctx context.Context, key models.QueueKey, issuedAt time.Time, build func(models.QueueState) (models.Appointment, error)) (appointment models.Appointment, state models.QueueState, err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return models.Appointment{}, models.QueueState{}, backendError(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if state, err = issueToken(ctx, tx, key, issuedAt); err != nil {
		return models.Appointment{}, models.QueueState{}, err
	}
	if appointment, err = build(state); err != nil {
		return models.Appointment{}, models.QueueState{}, err
	}
	if err = insertAppointment(ctx, tx, appointment); err != nil {
		return models.Appointment{}, models.QueueState{}, err
	}
	if err = notifyState(ctx, tx, state); err != nil {
		return models.Appointment{}, models.QueueState{}, backendError(err)
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Appointment{}, models.QueueState{}, backendError(err)
	}
	return appointment, state, nil
}

func issueToken(ctx context.Context, tx pgx.Tx, key models.QueueKey, issuedAt time.Time) (models.QueueState, error) {
	row := tx.QueryRow(ctx, `
		INSERT INTO queue_states (doctor_id, clinic_id, current_token, total_tokens, last_updated)
		VALUES ($1, $2, 0, 1, $3)
		ON CONFLICT (doctor_id, clinic_id)
		DO UPDATE SET total_tokens = queue_states.total_tokens + 1, last_updated = EXCLUDED.last_updated
		RETURNING `+queueColumns+`
	`, key.DoctorID, key.ClinicID, issuedAt)
	state, err := scanQueueState(row)
	if err != nil {
		if isForeignKeyViolation(err) {
			return models.QueueState{}, fmt.Errorf("%w: %s", store.ErrQueueNotFound, key)
		}
		return models.QueueState{}, backendError(err)
	}
	return state, nil
}

// AdvanceToken moves current_token forward unless it already equals
// total_tokens, in which case the unchanged state is returned.
func (s *Store) AdvanceToken(ctx context.Context, key models.QueueKey, advancedAt time.Time) (state models.QueueState, advanced bool, err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return models.QueueState{}, false, backendError(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	row := tx.QueryRow(ctx, `
		UPDATE queue_states
		SET current_token = current_token + 1, last_updated = $3
		WHERE doctor_id = $1 AND clinic_id = $2 AND current_token < total_tokens
		RETURNING `+queueColumns+`
	`, key.DoctorID, key.ClinicID, advancedAt)
	state, err = scanQueueState(row)
	switch {
	case err == nil:
		advanced = true
		if err = notifyState(ctx, tx, state); err != nil {
			return models.QueueState{}, false, backendError(err)
		}
	case errors.Is(err, pgx.ErrNoRows):
		row = tx.QueryRow(ctx, `
			SELECT `+queueColumns+`
			FROM queue_states
			WHERE doctor_id = $1 AND clinic_id = $2
		`, key.DoctorID, key.ClinicID)
		state, err = scanQueueState(row)
		if errors.Is(err, pgx.ErrNoRows) {
			state, err = models.NewQueueState(key, s.now()), nil
		}
		if err != nil {
			return models.QueueState{}, false, backendError(err)
		}
	default:
		return models.QueueState{}, false, backendError(err)
	}

	if err = tx.Commit(ctx); err != nil {
		return models.QueueState{}, false, backendError(err)
	}
	return state, advanced, nil
}

func scanQueueState(row pgx.Row) (models.QueueState, error) {
	var state models.QueueState
	if err := row.Scan(&state.DoctorID, &state.ClinicID, &state.CurrentToken, &state.TotalTokens, &state.LastUpdated); err != nil {
		return models.QueueState{}, err
	}
	state.QueueKey = state.Key().String()
	state.LastUpdated = state.LastUpdated.UTC()
	return state, nil
}

func notifyState(ctx context.Context, tx pgx.Tx, state models.QueueState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, "SELECT pg_notify($1, $2)", NotifyChannel, string(payload))
	return err
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation
}

func backendError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", store.ErrBackendUnavailable, err)
}
