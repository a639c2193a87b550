package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"medcare/token-service/internal/models"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

type fakeListenConn struct {
	exec      func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	wait      func(ctx context.Context) (*pgconn.Notification, error)
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeListenConn(notifications <-chan *pgconn.Notification) *fakeListenConn {
	return &fakeListenConn{
		exec: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			return pgconn.CommandTag{}, nil
		},
		wait: func(ctx context.Context) (*pgconn.Notification, error) {
			select {
			case n := <-notifications:
				return n, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
		closed: make(chan struct{}),
	}
}

func (f *fakeListenConn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return f.exec(ctx, sql, args...)
}

func (f *fakeListenConn) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	return f.wait(ctx)
}

func (f *fakeListenConn) Close(context.Context) error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func notificationFor(t *testing.T, state models.QueueState) *pgconn.Notification {
	t.Helper()
	payload, err := json.Marshal(state)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return &pgconn.Notification{Channel: NotifyChannel, Payload: string(payload)}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func watchedKeys(s *NotifySource) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watchers)
}

func TestNotifySourceSharesOneConnectionAcrossKeys(t *testing.T) {
	notifications := make(chan *pgconn.Notification, 8)
	conn := newFakeListenConn(notifications)
	var listened atomic.Value
	conn.exec = func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
		listened.Store(sql)
		return pgconn.CommandTag{}, nil
	}
	var connects atomic.Int32
	source := newNotifySource(func(ctx context.Context) (listenConn, error) {
		connects.Add(1)
		return conn, nil
	}, zap.NewNop())
	source.retry = time.Millisecond

	keys := []models.QueueKey{
		{DoctorID: "doctor-1", ClinicID: "clinic-1"},
		{DoctorID: "doctor-2", ClinicID: "clinic-1"},
		{DoctorID: "doctor-3", ClinicID: "clinic-2"},
	}
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	emitted := make([]chan models.QueueState, len(keys))
	for i, key := range keys {
		emitted[i] = make(chan models.QueueState, 4)
		wg.Add(1)
		go func(key models.QueueKey, out chan models.QueueState) {
			defer wg.Done()
			if err := source.Watch(ctx, key, func(state models.QueueState) { out <- state }); err != nil {
				t.Errorf("watch: %v", err)
			}
		}(key, emitted[i])
	}
	waitUntil(t, "watchers", func() bool { return watchedKeys(source) == len(keys) })

	notifications <- notificationFor(t, models.NewQueueState(models.QueueKey{DoctorID: "doctor-9", ClinicID: "clinic-9"}, time.Now()))
	notifications <- &pgconn.Notification{Channel: NotifyChannel, Payload: "not json"}
	for i, key := range keys {
		state := models.NewQueueState(key, time.Now())
		state.TotalTokens = i + 1
		notifications <- notificationFor(t, state)
	}

	for i, key := range keys {
		select {
		case state := <-emitted[i]:
			if state.Key() != key || state.TotalTokens != i+1 || state.QueueKey != key.String() {
				t.Fatalf("unexpected state for %v: %+v", key, state)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("no notification for %v", key)
		}
	}
	if got := connects.Load(); got != 1 {
		t.Fatalf("expected one listen connection for %d keys, got %d", len(keys), got)
	}
	if got, _ := listened.Load().(string); got != "LISTEN queue_state" {
		t.Fatalf("unexpected listen statement %q", got)
	}

	cancel()
	wg.Wait()
	select {
	case <-conn.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("listen connection not closed after last watcher left")
	}
}

func TestNotifySourceReconnectsAfterIdle(t *testing.T) {
	var (
		mu    sync.Mutex
		conns []*fakeListenConn
	)
	source := newNotifySource(func(ctx context.Context) (listenConn, error) {
		mu.Lock()
		defer mu.Unlock()
		for _, previous := range conns {
			select {
			case <-previous.closed:
			default:
				t.Errorf("new listen connection opened while a previous one is still open")
			}
		}
		conn := newFakeListenConn(make(chan *pgconn.Notification))
		conns = append(conns, conn)
		return conn, nil
	}, zap.NewNop())

	connCount := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(conns)
	}

	for round := 1; round <= 2; round++ {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- source.Watch(ctx, testKey, func(models.QueueState) {}) }()
		waitUntil(t, "listen connection", func() bool { return connCount() == round })
		cancel()
		if err := <-done; err != nil {
			t.Fatalf("watch: %v", err)
		}
	}
}

func TestNotifySourceRetriesAfterConnectFailure(t *testing.T) {
	var attempts atomic.Int32
	retried := make(chan struct{})
	source := newNotifySource(func(context.Context) (listenConn, error) {
		if attempts.Add(1) == 3 {
			close(retried)
		}
		return nil, errors.New("connection refused")
	}, zap.NewNop())
	source.retry = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- source.Watch(ctx, testKey, func(models.QueueState) {}) }()

	select {
	case <-retried:
	case <-time.After(2 * time.Second):
		t.Fatal("expected listener to retry")
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("watch: %v", err)
	}
}

func TestDecodeNotificationRejectsForeignChannel(t *testing.T) {
	if _, ok := decodeNotification(&pgconn.Notification{Channel: "other", Payload: `{"doctor_id":"d","clinic_id":"c"}`}); ok {
		t.Fatal("expected foreign channel to be ignored")
	}
	if _, ok := decodeNotification(&pgconn.Notification{Channel: NotifyChannel, Payload: `{}`}); ok {
		t.Fatal("expected payload without key to be ignored")
	}
}
