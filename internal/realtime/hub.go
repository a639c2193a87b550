package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"medcare/token-service/internal/models"
	"medcare/token-service/internal/queue"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
	"go.uber.org/zap"
)

const (
	MessageQueueState = "queue.state"
	MessageError      = "error"

	sendBuffer      = 16
	snapshotTimeout = 5 * time.Second
)

// Tracker is the part of queue.Tracker the hub needs.
type Tracker interface {
	GetState(ctx context.Context, key models.QueueKey) (models.QueueState, error)
	Subscribe(key models.QueueKey, onUpdate func(models.QueueState)) (func(), error)
}

type Envelope struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type SubscribeMessage struct {
	Action   string `json:"action"`
	DoctorID string `json:"doctor_id"`
	ClinicID string `json:"clinic_id"`
}

// Client is one realtime session. It follows at most one queue at a time.
type Client struct {
	ID   string
	Send chan []byte

	mu          sync.Mutex
	closed      bool
	key         models.QueueKey
	generation  uint64
	last        models.QueueState
	delivered   bool
	unsubscribe func()
}

func NewClient() *Client {
	return &Client{ID: uuid.NewString(), Send: make(chan []byte, sendBuffer)}
}

// Key reports the queue the client currently follows.
func (c *Client) Key() models.QueueKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.key
}

type Hub struct {
	tracker Tracker
	logger  *zap.Logger

	mu      sync.RWMutex
	clients map[string]*Client
}

func New(tracker Tracker, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{tracker: tracker, logger: logger, clients: make(map[string]*Client)}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

// Unregister drops the client's queue subscription and closes its send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	delete(h.clients, client.ID)
	h.mu.Unlock()

	client.mu.Lock()
	unsubscribe := client.unsubscribe
	client.unsubscribe = nil
	if !client.closed {
		client.closed = true
		close(client.Send)
	}
	client.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Subscribe points client at key, replacing any previous subscription, and
// queues the current snapshot for it.
func (h *Hub) Subscribe(ctx context.Context, client *Client, key models.QueueKey) error {
	if err := queue.ValidateKey(key); err != nil {
		return err
	}
	h.Unsubscribe(client)

	client.mu.Lock()
	if client.closed {
		client.mu.Unlock()
		return nil
	}
	client.generation++
	generation := client.generation
	client.key = key
	client.delivered = false
	client.mu.Unlock()

	unsubscribe, err := h.tracker.Subscribe(key, func(state models.QueueState) {
		h.deliver(client, generation, state)
	})
	if err != nil {
		return err
	}

	client.mu.Lock()
	if client.closed || client.generation != generation {
		client.mu.Unlock()
		unsubscribe()
		return nil
	}
	client.unsubscribe = unsubscribe
	client.mu.Unlock()

	state, err := h.tracker.GetState(ctx, key)
	if err != nil {
		return err
	}
	h.deliver(client, generation, state)
	return nil
}

func (h *Hub) Unsubscribe(client *Client) {
	client.mu.Lock()
	unsubscribe := client.unsubscribe
	client.unsubscribe = nil
	client.generation++
	client.key = models.QueueKey{}
	client.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// deliver enqueues state for client unless it belongs to an older
// subscription or would move the client's view backwards. A full buffer drops
// the message.
func (h *Hub) deliver(client *Client, generation uint64, state models.QueueState) {
	client.mu.Lock()
	defer client.mu.Unlock()
	if client.closed || client.generation != generation {
		return
	}
	if client.delivered && !advancedFrom(state, client.last) {
		return
	}

	payload, err := json.Marshal(Envelope{Type: MessageQueueState, Payload: state})
	if err != nil {
		h.logger.Error("encode queue state", zap.String("client_id", client.ID), zap.Error(err))
		return
	}
	select {
	case client.Send <- payload:
		client.last = state
		client.delivered = true
	default:
		h.logger.Warn("drop message for client", zap.String("client_id", client.ID), zap.String("queue_key", state.QueueKey))
	}
}

func (h *Hub) sendError(client *Client, code, message string) {
	payload, err := json.Marshal(Envelope{Type: MessageError, Payload: errorPayload{Code: code, Message: message}})
	if err != nil {
		return
	}
	client.mu.Lock()
	defer client.mu.Unlock()
	if client.closed {
		return
	}
	select {
	case client.Send <- payload:
	default:
	}
}

// HandleMessage applies one inbound client frame.
func (h *Hub) HandleMessage(ctx context.Context, client *Client, data []byte) {
	msg, ok := ParseSubscribe(data)
	if !ok {
		h.sendError(client, "invalid_request", "expected subscribe or unsubscribe action")
		return
	}
	if msg.Action == "unsubscribe" {
		h.Unsubscribe(client)
		return
	}
	key := models.QueueKey{DoctorID: strings.TrimSpace(msg.DoctorID), ClinicID: strings.TrimSpace(msg.ClinicID)}
	if err := h.Subscribe(ctx, client, key); err != nil {
		h.logger.Warn("realtime subscribe failed", zap.String("client_id", client.ID), zap.String("queue_key", key.String()), zap.Error(err))
		h.sendError(client, "subscribe_failed", err.Error())
	}
}

// Handler serves the SockJS endpoint under prefix.
func (h *Hub) Handler(prefix string) http.Handler {
	return sockjs.NewHandler(prefix, sockjs.DefaultOptions, h.serveSession)
}

func (h *Hub) serveSession(session sockjs.Session) {
	client := NewClient()
	h.Register(client)
	defer h.Unregister(client)

	go func() {
		for msg := range client.Send {
			if err := session.Send(string(msg)); err != nil {
				return
			}
		}
	}()

	for {
		msg, err := session.Recv()
		if err != nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
		h.HandleMessage(ctx, client, []byte(msg))
		cancel()
	}
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, false
	}
	return msg, true
}

func advancedFrom(state, last models.QueueState) bool {
	if state.TotalTokens < last.TotalTokens || state.CurrentToken < last.CurrentToken {
		return false
	}
	return state.TotalTokens > last.TotalTokens || state.CurrentToken > last.CurrentToken
}
