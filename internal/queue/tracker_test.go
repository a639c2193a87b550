package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"medcare/token-service/internal/metrics"
	"medcare/token-service/internal/models"
	"medcare/token-service/internal/store/memory"

	"github.com/prometheus/client_golang/prometheus"
)

type stubSource struct {
	started atomic.Int32
	stopped atomic.Int32
	emits   chan func(models.QueueState)
}

func newStubSource() *stubSource {
	return &stubSource{emits: make(chan func(models.QueueState), 4)}
}

func (s *stubSource) Watch(ctx context.Context, key models.QueueKey, emit func(models.QueueState)) error {
	s.started.Add(1)
	s.emits <- emit
	<-ctx.Done()
	s.stopped.Add(1)
	return nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, family := range families {
		if family.GetName() == name && len(family.GetMetric()) > 0 {
			return family.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}

func stateOf(current, total int) models.QueueState {
	state := models.NewQueueState(testKey, time.Now())
	state.CurrentToken = current
	state.TotalTokens = total
	return state
}

func TestTrackerDeliversToSubscribersOfKey(t *testing.T) {
	tracker := NewTracker(memory.NewStore(memory.Options{}), TrackerOptions{})

	var got []models.QueueState
	unsubscribe, err := tracker.Subscribe(testKey, func(state models.QueueState) {
		got = append(got, state)
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsubscribe()

	other := models.QueueKey{DoctorID: "doc-2", ClinicID: "clinic-1"}
	otherState := models.NewQueueState(other, time.Now())
	otherState.TotalTokens = 1
	tracker.Publish(otherState)
	tracker.Publish(stateOf(0, 1))

	if len(got) != 1 || got[0].TotalTokens != 1 || got[0].QueueKey != "doc-1-clinic-1" {
		t.Fatalf("unexpected deliveries %+v", got)
	}
}

func TestTrackerUnsubscribeIsScopedAndIdempotent(t *testing.T) {
	tracker := NewTracker(memory.NewStore(memory.Options{}), TrackerOptions{})

	var first, second int
	unsubscribeFirst, _ := tracker.Subscribe(testKey, func(models.QueueState) { first++ })
	unsubscribeSecond, _ := tracker.Subscribe(testKey, func(models.QueueState) { second++ })
	defer unsubscribeSecond()

	tracker.Publish(stateOf(0, 1))
	unsubscribeFirst()
	unsubscribeFirst()
	tracker.Publish(stateOf(0, 2))

	if first != 1 {
		t.Fatalf("expected first subscriber to stop after one delivery, got %d", first)
	}
	if second != 2 {
		t.Fatalf("expected second subscriber to keep receiving, got %d", second)
	}
}

func TestTrackerDropsStaleAndDuplicateSnapshots(t *testing.T) {
	tracker := NewTracker(memory.NewStore(memory.Options{}), TrackerOptions{})

	var got []models.QueueState
	unsubscribe, _ := tracker.Subscribe(testKey, func(state models.QueueState) {
		got = append(got, state)
	})
	defer unsubscribe()

	tracker.Publish(stateOf(1, 3))
	tracker.Publish(stateOf(1, 3))
	tracker.Publish(stateOf(0, 3))
	tracker.Publish(stateOf(2, 2))
	tracker.Publish(stateOf(2, 3))

	if len(got) != 2 {
		t.Fatalf("expected two deliveries, got %+v", got)
	}
	if got[1].CurrentToken != 2 || got[1].TotalTokens != 3 {
		t.Fatalf("unexpected last delivery %+v", got[1])
	}
}

func TestTrackerIsolatesPanickingSubscriber(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewQueueMetrics(reg)
	tracker := NewTracker(memory.NewStore(memory.Options{}), TrackerOptions{Metrics: m})

	unsubscribeBad, _ := tracker.Subscribe(testKey, func(models.QueueState) { panic("boom") })
	defer unsubscribeBad()
	var delivered int
	unsubscribeGood, _ := tracker.Subscribe(testKey, func(models.QueueState) { delivered++ })
	defer unsubscribeGood()

	tracker.Publish(stateOf(0, 1))

	if delivered != 1 {
		t.Fatalf("expected healthy subscriber to receive update, got %d", delivered)
	}
	if got := counterValue(t, reg, "medcare_queue_subscriber_panics_total"); got != 1 {
		t.Fatalf("expected one recorded panic, got %v", got)
	}
}

func TestTrackerRunsSourceWhileSubscribed(t *testing.T) {
	source := newStubSource()
	tracker := NewTracker(memory.NewStore(memory.Options{}), TrackerOptions{Source: source})
	defer tracker.Close()

	var mu sync.Mutex
	var got []models.QueueState
	record := func(state models.QueueState) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, state)
	}
	unsubscribeFirst, _ := tracker.Subscribe(testKey, record)
	unsubscribeSecond, _ := tracker.Subscribe(testKey, func(models.QueueState) {})

	emit := <-source.emits
	if source.started.Load() != 1 {
		t.Fatalf("expected a single source per key, got %d", source.started.Load())
	}
	emit(stateOf(1, 2))
	mu.Lock()
	if len(got) != 1 {
		mu.Unlock()
		t.Fatalf("expected source update to reach subscriber, got %+v", got)
	}
	mu.Unlock()

	unsubscribeFirst()
	if source.stopped.Load() != 0 {
		t.Fatal("source stopped while a subscriber remained")
	}
	unsubscribeSecond()
	waitFor(t, func() bool { return source.stopped.Load() == 1 })

	unsubscribeAgain, _ := tracker.Subscribe(testKey, record)
	defer unsubscribeAgain()
	<-source.emits
	if source.started.Load() != 2 {
		t.Fatalf("expected source to restart for new subscriber, got %d starts", source.started.Load())
	}
}

func TestTrackerAdvancePublishesOnlyWhenMoved(t *testing.T) {
	st := memory.NewStore(memory.Options{})
	ctx := context.Background()
	if _, err := st.IssueToken(ctx, testKey, time.Now()); err != nil {
		t.Fatalf("issue: %v", err)
	}
	tracker := NewTracker(st, TrackerOptions{})

	var deliveries int
	unsubscribe, _ := tracker.Subscribe(testKey, func(models.QueueState) { deliveries++ })
	defer unsubscribe()

	state, err := tracker.Advance(ctx, testKey)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if state.CurrentToken != 1 {
		t.Fatalf("expected current token 1, got %+v", state)
	}
	state, err = tracker.Advance(ctx, testKey)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if state.CurrentToken != 1 {
		t.Fatalf("expected clamp at total, got %+v", state)
	}
	if deliveries != 1 {
		t.Fatalf("expected a single delivery, got %d", deliveries)
	}
}

func TestTrackerSubscribeRejectsInvalidKey(t *testing.T) {
	tracker := NewTracker(memory.NewStore(memory.Options{}), TrackerOptions{})
	if _, err := tracker.Subscribe(models.QueueKey{ClinicID: "clinic-1"}, func(models.QueueState) {}); err != ErrInvalidQueueKey {
		t.Fatalf("expected ErrInvalidQueueKey, got %v", err)
	}
}

func TestTrackerSubscriberMayAdvanceItsOwnQueue(t *testing.T) {
	st := memory.NewStore(memory.Options{})
	tracker := NewTracker(st, TrackerOptions{})
	allocator := NewAllocator(st, tracker, nil, nil)
	ctx := context.Background()

	var mu sync.Mutex
	var seen []models.QueueState
	unsubscribe, err := tracker.Subscribe(testKey, func(state models.QueueState) {
		mu.Lock()
		seen = append(seen, state)
		mu.Unlock()
		if state.CurrentToken < state.TotalTokens {
			if _, err := tracker.Advance(ctx, testKey); err != nil {
				t.Errorf("advance from subscriber: %v", err)
			}
		}
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsubscribe()

	done := make(chan error, 1)
	go func() {
		_, err := allocator.Allocate(ctx, testKey, "09:00")
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("allocate: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("allocate blocked by a subscriber advancing the same queue")
	}

	if _, err := allocator.Allocate(ctx, testKey, "09:00"); err != nil {
		t.Fatalf("second allocate: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := [][2]int{{0, 1}, {1, 1}, {1, 2}, {2, 2}}
	if len(seen) != len(want) {
		t.Fatalf("expected %d snapshots, got %+v", len(want), seen)
	}
	for i, w := range want {
		if seen[i].CurrentToken != w[0] || seen[i].TotalTokens != w[1] {
			t.Fatalf("snapshot %d: expected current=%d total=%d, got %+v", i, w[0], w[1], seen[i])
		}
	}
}

type slowStopSource struct {
	running chan struct{}
	exited  atomic.Bool
}

func (s *slowStopSource) Watch(ctx context.Context, key models.QueueKey, emit func(models.QueueState)) error {
	close(s.running)
	<-ctx.Done()
	time.Sleep(20 * time.Millisecond)
	s.exited.Store(true)
	return nil
}

func TestTrackerLastUnsubscribeWaitsForSource(t *testing.T) {
	source := &slowStopSource{running: make(chan struct{})}
	tracker := NewTracker(memory.NewStore(memory.Options{}), TrackerOptions{Source: source})
	defer tracker.Close()

	unsubscribe, err := tracker.Subscribe(testKey, func(models.QueueState) {})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	<-source.running
	unsubscribe()
	if !source.exited.Load() {
		t.Fatal("source still running after last unsubscribe returned")
	}
}

func TestTrackerSubscriberMayUnsubscribeFromSourceDelivery(t *testing.T) {
	source := newStubSource()
	tracker := NewTracker(memory.NewStore(memory.Options{}), TrackerOptions{Source: source})
	defer tracker.Close()

	var unsubscribe func()
	returned := make(chan struct{})
	unsubscribe, err := tracker.Subscribe(testKey, func(models.QueueState) {
		unsubscribe()
		close(returned)
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	emit := <-source.emits
	go emit(stateOf(1, 1))

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("unsubscribe from a source delivery blocked")
	}
	waitFor(t, func() bool { return source.stopped.Load() == 1 })
}
