package redisstore

import (
	"context"
	"errors"
	"time"

	"medcare/token-service/internal/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultResubscribeDelay = 2 * time.Second

// PubSubSource forwards snapshots published by the store scripts.
type PubSubSource struct {
	client redis.UniversalClient
	retry  time.Duration
	logger *zap.Logger
}

func NewPubSubSource(client redis.UniversalClient, logger *zap.Logger) *PubSubSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PubSubSource{client: client, retry: defaultResubscribeDelay, logger: logger}
}

func (s *PubSubSource) Watch(ctx context.Context, key models.QueueKey, emit func(models.QueueState)) error {
	for {
		err := s.subscribe(ctx, key, emit)
		if ctx.Err() != nil {
			return nil
		}
		s.logger.Warn("queue subscription interrupted", zap.String("queue_key", key.String()), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.retry):
		}
	}
}

func (s *PubSubSource) subscribe(ctx context.Context, key models.QueueKey, emit func(models.QueueState)) error {
	sub := s.client.Subscribe(ctx, EventsChannel(key))
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return errors.New("subscription channel closed")
			}
			state, err := decodeState(msg.Payload)
			if err != nil {
				s.logger.Warn("dropping malformed queue event", zap.String("payload", msg.Payload), zap.Error(err))
				continue
			}
			if state.Key() == key {
				emit(state)
			}
		}
	}
}
