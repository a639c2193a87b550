package postgres

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"medcare/token-service/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

const defaultListenRetry = 2 * time.Second

type listenConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

// NotifySource pushes queue changes committed by any service instance to the
// tracker using LISTEN/NOTIFY. All watched keys share one dedicated
// connection outside the store's pool; it is opened with the first watcher
// and closed after the last one leaves.
type NotifySource struct {
	connect func(ctx context.Context) (listenConn, error)
	retry   time.Duration
	logger  *zap.Logger

	mu       sync.Mutex
	watchers map[models.QueueKey]map[uint64]func(models.QueueState)
	nextID   uint64
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewNotifySource(connString string, logger *zap.Logger) *NotifySource {
	return newNotifySource(func(ctx context.Context) (listenConn, error) {
		conn, err := pgx.Connect(ctx, connString)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}, logger)
}

func newNotifySource(connect func(ctx context.Context) (listenConn, error), logger *zap.Logger) *NotifySource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotifySource{
		connect:  connect,
		retry:    defaultListenRetry,
		logger:   logger,
		watchers: make(map[models.QueueKey]map[uint64]func(models.QueueState)),
	}
}

// Watch forwards notifications for key to emit until ctx is cancelled.
func (s *NotifySource) Watch(ctx context.Context, key models.QueueKey, emit func(models.QueueState)) error {
	id := s.register(key, emit)
	defer s.unregister(key, id)
	<-ctx.Done()
	return nil
}

func (s *NotifySource) register(key models.QueueKey, emit func(models.QueueState)) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	if s.watchers[key] == nil {
		s.watchers[key] = make(map[uint64]func(models.QueueState))
	}
	s.watchers[key][id] = emit

	if s.cancel == nil {
		ctx, cancel := context.WithCancel(context.Background())
		previous := s.done
		done := make(chan struct{})
		s.cancel = cancel
		s.done = done
		go func() {
			defer close(done)
			// A listener that is still shutting down keeps its connection
			// until it exits; wait so only one is ever open.
			if previous != nil {
				<-previous
			}
			s.run(ctx)
		}()
	}
	return id
}

func (s *NotifySource) unregister(key models.QueueKey, id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.watchers[key], id)
	if len(s.watchers[key]) == 0 {
		delete(s.watchers, key)
	}
	if len(s.watchers) == 0 && s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *NotifySource) run(ctx context.Context) {
	for {
		err := s.listen(ctx)
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("queue listener interrupted", zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.retry):
		}
	}
}

func (s *NotifySource) listen(ctx context.Context) error {
	conn, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = conn.Close(closeCtx)
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		return err
	}
	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		state, ok := decodeNotification(notification)
		if !ok {
			s.logger.Warn("dropping malformed queue notification", zap.String("payload", notification.Payload))
			continue
		}
		s.dispatch(state)
	}
}

func (s *NotifySource) dispatch(state models.QueueState) {
	s.mu.Lock()
	emitters := make([]func(models.QueueState), 0, len(s.watchers[state.Key()]))
	for _, emit := range s.watchers[state.Key()] {
		emitters = append(emitters, emit)
	}
	s.mu.Unlock()

	for _, emit := range emitters {
		emit(state)
	}
}

func decodeNotification(notification *pgconn.Notification) (models.QueueState, bool) {
	if notification == nil || notification.Channel != NotifyChannel {
		return models.QueueState{}, false
	}
	var state models.QueueState
	if err := json.Unmarshal([]byte(notification.Payload), &state); err != nil {
		return models.QueueState{}, false
	}
	if state.DoctorID == "" || state.ClinicID == "" {
		return models.QueueState{}, false
	}
	state.QueueKey = state.Key().String()
	return state, true
}
