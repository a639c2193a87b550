package queue

import (
	"context"
	"testing"
	"time"

	"medcare/token-service/internal/models"
	"medcare/token-service/internal/store/memory"
)

func TestSimulatedTickAdvancesWithProbability(t *testing.T) {
	st := memory.NewStore(memory.Options{})
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := st.IssueToken(ctx, testKey, time.Now()); err != nil {
			t.Fatalf("issue: %v", err)
		}
	}

	rolls := []float64{0.9, 0.1, 0.2, 0.05}
	source := NewSimulatedSource(st, SimulationOptions{
		Rand: func() float64 {
			roll := rolls[0]
			rolls = rolls[1:]
			return roll
		},
	})

	var emitted []models.QueueState
	emit := func(state models.QueueState) { emitted = append(emitted, state) }
	for i := 0; i < 4; i++ {
		source.Tick(ctx, testKey, emit)
	}

	if len(emitted) != 2 {
		t.Fatalf("expected two advances, got %+v", emitted)
	}
	if emitted[0].CurrentToken != 1 || emitted[1].CurrentToken != 2 {
		t.Fatalf("unexpected progression %+v", emitted)
	}
	state, _ := st.GetState(ctx, testKey)
	if state.CurrentToken != 2 {
		t.Fatalf("expected clamp at total tokens, got %+v", state)
	}
}

func TestSimulatedWatchStopsOnCancel(t *testing.T) {
	st := memory.NewStore(memory.Options{})
	if _, err := st.IssueToken(context.Background(), testKey, time.Now()); err != nil {
		t.Fatalf("issue: %v", err)
	}
	source := NewSimulatedSource(st, SimulationOptions{
		Interval: time.Millisecond,
		Rand:     func() float64 { return 0 },
	})

	ctx, cancel := context.WithCancel(context.Background())
	emitted := make(chan models.QueueState, 1)
	done := make(chan error, 1)
	go func() {
		done <- source.Watch(ctx, testKey, func(state models.QueueState) { emitted <- state })
	}()

	select {
	case state := <-emitted:
		if state.CurrentToken != 1 {
			t.Fatalf("unexpected state %+v", state)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("simulation did not advance")
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("watch: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
}
