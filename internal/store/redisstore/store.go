package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"medcare/token-service/internal/models"
	"medcare/token-service/internal/store"

	"github.com/redis/go-redis/v9"
)

// Queue counters live in a hash per key. Both scripts publish the resulting
// snapshot on the key's events channel so every instance sees the change.
var issueScript = redis.NewScript(`
local total = redis.call('HINCRBY', KEYS[1], 'total_tokens', 1)
local current = tonumber(redis.call('HGET', KEYS[1], 'current_token') or '0')
redis.call('HSET', KEYS[1], 'doctor_id', ARGV[1], 'clinic_id', ARGV[2], 'current_token', current, 'last_updated', ARGV[3])
local payload = cjson.encode({
	queue_key = ARGV[4], doctor_id = ARGV[1], clinic_id = ARGV[2],
	current_token = current, total_tokens = total, last_updated = ARGV[3]
})
redis.call('PUBLISH', KEYS[2], payload)
return payload
`)

var advanceScript = redis.NewScript(`
local total = tonumber(redis.call('HGET', KEYS[1], 'total_tokens') or '0')
local current = tonumber(redis.call('HGET', KEYS[1], 'current_token') or '0')
local updated = redis.call('HGET', KEYS[1], 'last_updated') or ARGV[3]
local advanced = 0
if current < total then
	current = current + 1
	updated = ARGV[3]
	advanced = 1
	redis.call('HSET', KEYS[1], 'current_token', current, 'last_updated', updated)
end
local payload = cjson.encode({
	queue_key = ARGV[4], doctor_id = ARGV[1], clinic_id = ARGV[2],
	current_token = current, total_tokens = total, last_updated = updated
})
if advanced == 1 then
	redis.call('PUBLISH', KEYS[2], payload)
end
return {advanced, payload}
`)

type Store struct {
	client redis.UniversalClient
	now    func() time.Time
}

func NewStore(client redis.UniversalClient) *Store {
	return &Store{
		client: client,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// keyPart encodes key as "<len(doctor)>:<doctor>:<clinic>". The length prefix
// keeps distinct keys apart even when their IDs contain separators.
func keyPart(key models.QueueKey) string {
	return strconv.Itoa(len(key.DoctorID)) + ":" + key.DoctorID + ":" + key.ClinicID
}

func stateKey(key models.QueueKey) string {
	return "queue:" + keyPart(key)
}

// EventsChannel is the pub/sub channel carrying snapshots for key.
func EventsChannel(key models.QueueKey) string {
	return "queue:" + keyPart(key) + ":events"
}

func (s *Store) GetState(ctx context.Context, key models.QueueKey) (models.QueueState, error) {
	fields, err := s.client.HGetAll(ctx, stateKey(key)).Result()
	if err != nil {
		return models.QueueState{}, backendError(err)
	}
	state := models.NewQueueState(key, s.now())
	if len(fields) == 0 {
		return state, nil
	}
	if state.CurrentToken, err = strconv.Atoi(fields["current_token"]); err != nil {
		return models.QueueState{}, fmt.Errorf("%w: current_token: %w", store.ErrBackendUnavailable, err)
	}
	if state.TotalTokens, err = strconv.Atoi(fields["total_tokens"]); err != nil {
		return models.QueueState{}, fmt.Errorf("%w: total_tokens: %w", store.ErrBackendUnavailable, err)
	}
	if updated, err := time.Parse(time.RFC3339Nano, fields["last_updated"]); err == nil {
		state.LastUpdated = updated.UTC()
	}
	return state, nil
}

func (s *Store) IssueToken(ctx context.Context, key models.QueueKey, issuedAt time.Time) (models.QueueState, error) {
	payload, err := issueScript.Run(ctx, s.client, scriptKeys(key), scriptArgs(key, issuedAt)...).Text()
	if err != nil {
		return models.QueueState{}, backendError(err)
	}
	return decodeState(payload)
}

func (s *Store) AdvanceToken(ctx context.Context, key models.QueueKey, advancedAt time.Time) (models.QueueState, bool, error) {
	result, err := advanceScript.Run(ctx, s.client, scriptKeys(key), scriptArgs(key, advancedAt)...).Slice()
	if err != nil {
		return models.QueueState{}, false, backendError(err)
	}
	if len(result) != 2 {
		return models.QueueState{}, false, fmt.Errorf("%w: unexpected advance reply %v", store.ErrBackendUnavailable, result)
	}
	advanced, _ := result[0].(int64)
	payload, _ := result[1].(string)
	state, err := decodeState(payload)
	if err != nil {
		return models.QueueState{}, false, err
	}
	return state, advanced == 1, nil
}

func scriptKeys(key models.QueueKey) []string {
	return []string{stateKey(key), EventsChannel(key)}
}

func scriptArgs(key models.QueueKey, at time.Time) []any {
	return []any{key.DoctorID, key.ClinicID, at.UTC().Format(time.RFC3339Nano), key.String()}
}

func decodeState(payload string) (models.QueueState, error) {
	var state models.QueueState
	if err := json.Unmarshal([]byte(payload), &state); err != nil {
		return models.QueueState{}, fmt.Errorf("%w: decode queue state: %w", store.ErrBackendUnavailable, err)
	}
	state.LastUpdated = state.LastUpdated.UTC()
	return state, nil
}

func backendError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", store.ErrBackendUnavailable, err)
}
