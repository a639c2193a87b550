package queue

import (
	"context"
	"math/rand"
	"time"

	"medcare/token-service/internal/metrics"
	"medcare/token-service/internal/models"
	"medcare/token-service/internal/store"

	"go.uber.org/zap"
)

const (
	DefaultSimulationInterval    = 3 * time.Second
	DefaultSimulationProbability = 0.3
)

// SimulatedSource stands in for a live push feed by randomly advancing the
// current token of watched queues.
type SimulatedSource struct {
	store       store.QueueStore
	interval    time.Duration
	probability float64
	rand        func() float64
	now         func() time.Time
	logger      *zap.Logger
	metrics     *metrics.QueueMetrics
}

type SimulationOptions struct {
	Interval    time.Duration
	Probability float64
	Rand        func() float64
	Now         func() time.Time
	Logger      *zap.Logger
	Metrics     *metrics.QueueMetrics
}

func NewSimulatedSource(st store.QueueStore, options SimulationOptions) *SimulatedSource {
	if options.Interval <= 0 {
		options.Interval = DefaultSimulationInterval
	}
	if options.Probability < 0 || options.Probability > 1 {
		options.Probability = DefaultSimulationProbability
	}
	if options.Rand == nil {
		options.Rand = rand.Float64
	}
	if options.Now == nil {
		options.Now = func() time.Time { return time.Now().UTC() }
	}
	if options.Logger == nil {
		options.Logger = zap.NewNop()
	}
	return &SimulatedSource{
		store:       st,
		interval:    options.Interval,
		probability: options.Probability,
		rand:        options.Rand,
		now:         options.Now,
		logger:      options.Logger,
		metrics:     options.Metrics,
	}
}

func (s *SimulatedSource) Watch(ctx context.Context, key models.QueueKey, emit func(models.QueueState)) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Tick(ctx, key, emit)
		}
	}
}

// Tick runs a single simulation step for key.
func (s *SimulatedSource) Tick(ctx context.Context, key models.QueueKey, emit func(models.QueueState)) {
	if s.rand() >= s.probability {
		return
	}
	state, advanced, err := s.store.AdvanceToken(ctx, key, s.now())
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("simulated advance failed", zap.String("queue_key", key.String()), zap.Error(err))
		}
		return
	}
	if !advanced {
		return
	}
	s.metrics.ObserveAdvance("simulation")
	emit(state)
}
