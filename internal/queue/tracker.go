package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"medcare/token-service/internal/metrics"
	"medcare/token-service/internal/models"
	"medcare/token-service/internal/store"

	"go.uber.org/zap"
)

// Source feeds queue state changes for a single key into the tracker. Watch
// blocks until ctx is cancelled.
type Source interface {
	Watch(ctx context.Context, key models.QueueKey, emit func(models.QueueState)) error
}

// Tracker fans queue snapshots out to subscribers. A key's Source runs only
// while the key has at least one subscriber.
type Tracker struct {
	store   store.QueueStore
	source  Source
	logger  *zap.Logger
	metrics *metrics.QueueMetrics
	now     func() time.Time

	mu      sync.Mutex
	watches map[models.QueueKey]*watch
	nextID  uint64
}

type TrackerOptions struct {
	Source  Source
	Logger  *zap.Logger
	Metrics *metrics.QueueMetrics
	Now     func() time.Time
}

// watch fields are guarded by Tracker.mu. Accepted snapshots queue in
// pending and are handed out in order by whichever goroutine is draining,
// so a subscriber may publish, advance or allocate on its own key.
type watch struct {
	subscribers map[uint64]*subscriber
	cancel      context.CancelFunc
	done        chan struct{}

	last           models.QueueState
	hasLast        bool
	pending        []models.QueueState
	draining       bool
	sourceDraining bool
}

type subscriber struct {
	onUpdate func(models.QueueState)
	closed   atomic.Bool
}

func NewTracker(st store.QueueStore, options TrackerOptions) *Tracker {
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := options.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Tracker{
		store:   st,
		source:  options.Source,
		logger:  logger,
		metrics: options.Metrics,
		now:     now,
		watches: make(map[models.QueueKey]*watch),
	}
}

func (t *Tracker) GetState(ctx context.Context, key models.QueueKey) (models.QueueState, error) {
	if err := ValidateKey(key); err != nil {
		return models.QueueState{}, err
	}
	return t.store.GetState(ctx, key)
}

// Advance moves the queue on by one token, never past total_tokens, and
// publishes the new state when it changed.
func (t *Tracker) Advance(ctx context.Context, key models.QueueKey) (models.QueueState, error) {
	if err := ValidateKey(key); err != nil {
		return models.QueueState{}, err
	}
	state, advanced, err := t.store.AdvanceToken(ctx, key, t.now())
	if err != nil {
		return models.QueueState{}, err
	}
	if advanced {
		t.metrics.ObserveAdvance("staff")
		t.Publish(state)
	}
	return state, nil
}

// Subscribe registers onUpdate for snapshots of key. The returned function
// removes this subscription only and is safe to call more than once.
func (t *Tracker) Subscribe(key models.QueueKey, onUpdate func(models.QueueState)) (func(), error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	sub := &subscriber{onUpdate: onUpdate}

	t.mu.Lock()
	t.nextID++
	id := t.nextID
	w, ok := t.watches[key]
	if !ok {
		w = &watch{subscribers: make(map[uint64]*subscriber)}
		t.watches[key] = w
		t.startLocked(key, w)
	}
	w.subscribers[id] = sub
	t.mu.Unlock()
	t.metrics.SubscriptionOpened()

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.closed.Store(true)
			t.unsubscribe(key, id)
			t.metrics.SubscriptionClosed()
		})
	}, nil
}

func (t *Tracker) unsubscribe(key models.QueueKey, id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	w, ok := t.watches[key]
	if !ok {
		return
	}
	if _, ok := w.subscribers[id]; !ok {
		return
	}
	delete(w.subscribers, id)
	if len(w.subscribers) > 0 {
		return
	}
	delete(t.watches, key)
	t.logger.Debug("queue watch stopped", zap.String("queue_key", key.String()))
	if w.cancel == nil {
		return
	}
	w.cancel()

	// Wait for the source to exit so it cannot commit after the last
	// unsubscribe returns. A subscriber running on the source goroutine
	// cannot wait for itself.
	if w.sourceDraining {
		return
	}
	t.mu.Unlock()
	<-w.done
	t.mu.Lock()
}

func (t *Tracker) startLocked(key models.QueueKey, w *watch) {
	if t.source == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})
	t.logger.Debug("queue watch started", zap.String("queue_key", key.String()))
	go func() {
		defer close(w.done)
		emit := func(state models.QueueState) { t.publish(state, w) }
		if err := t.source.Watch(ctx, key, emit); err != nil && ctx.Err() == nil {
			t.logger.Error("queue source stopped", zap.String("queue_key", key.String()), zap.Error(err))
		}
	}()
}

// Publish delivers state to the current subscribers of its key. Snapshots
// that repeat or predate the last accepted one are dropped. When another
// goroutine is already delivering for the key, state is queued behind it and
// Publish returns without waiting.
func (t *Tracker) Publish(state models.QueueState) {
	t.publish(state, nil)
}

// publish accepts state for delivery. from is the watch whose source emitted
// it, or nil for local publishes.
func (t *Tracker) publish(state models.QueueState, from *watch) {
	key := state.Key()

	t.mu.Lock()
	w, ok := t.watches[key]
	if !ok || (from != nil && w != from) {
		t.mu.Unlock()
		return
	}
	if w.hasLast && !isNewer(state, w.last) {
		t.mu.Unlock()
		return
	}
	w.last = state
	w.hasLast = true
	w.pending = append(w.pending, state)
	if w.draining {
		t.mu.Unlock()
		return
	}
	w.draining = true
	w.sourceDraining = from != nil
	t.mu.Unlock()

	t.drain(key, w)
}

func (t *Tracker) drain(key models.QueueKey, w *watch) {
	for {
		t.mu.Lock()
		if len(w.pending) == 0 {
			w.draining = false
			w.sourceDraining = false
			t.mu.Unlock()
			return
		}
		state := w.pending[0]
		w.pending = w.pending[1:]
		subs := make([]*subscriber, 0, len(w.subscribers))
		for _, sub := range w.subscribers {
			subs = append(subs, sub)
		}
		t.mu.Unlock()

		for _, sub := range subs {
			t.deliver(key, sub, state)
		}
	}
}

func (t *Tracker) deliver(key models.QueueKey, sub *subscriber, state models.QueueState) {
	if sub.closed.Load() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			t.metrics.ObserveSubscriberPanic()
			t.logger.Error("queue subscriber panicked", zap.String("queue_key", key.String()), zap.Any("panic", r))
		}
	}()
	sub.onUpdate(state)
}

// Close stops every running source and waits for them to exit.
func (t *Tracker) Close() {
	t.mu.Lock()
	watches := t.watches
	t.watches = make(map[models.QueueKey]*watch)
	t.mu.Unlock()

	for _, w := range watches {
		for _, sub := range w.subscribers {
			sub.closed.Store(true)
		}
		if w.cancel != nil {
			w.cancel()
			<-w.done
		}
	}
}

func isNewer(state, last models.QueueState) bool {
	if state.TotalTokens < last.TotalTokens || state.CurrentToken < last.CurrentToken {
		return false
	}
	return state.TotalTokens > last.TotalTokens || state.CurrentToken > last.CurrentToken
}
