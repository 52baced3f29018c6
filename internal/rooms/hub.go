package rooms

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"go.uber.org/zap"

	"jagruk/preparedness/internal/metrics"
)

var ErrClosed = errors.New("hub closed")

// Message is the frame delivered to a connection.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func NewMessage(event string, payload any) (Message, error) {
	if payload == nil {
		return Message{Event: event}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Event: event, Data: data}, nil
}

// Client is a live connection. Deliver must not block; it reports false when
// the message was dropped.
type Client interface {
	ID() string
	Deliver(Message) bool
}

// Publisher is what state-changing services use to announce transitions.
// Publishing is fire-and-forget.
type Publisher interface {
	Publish(ctx context.Context, key Key, event string, payload any)
}

// Hub keeps room memberships for live connections and fans events out to
// them. Memberships live only in memory and are rebuilt as clients rejoin.
type Hub struct {
	log *zap.Logger

	mu      sync.RWMutex
	rooms   map[Key]map[string]Client
	members map[string]map[Key]struct{}
	closed  bool
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		log:     log,
		rooms:   make(map[Key]map[string]Client),
		members: make(map[string]map[Key]struct{}),
	}
}

func (h *Hub) Join(c Client, key Key) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	room, ok := h.rooms[key]
	if !ok {
		room = make(map[string]Client)
		h.rooms[key] = room
	}
	if _, ok := room[c.ID()]; ok {
		return nil
	}
	room[c.ID()] = c
	joined, ok := h.members[c.ID()]
	if !ok {
		joined = make(map[Key]struct{})
		h.members[c.ID()] = joined
	}
	joined[key] = struct{}{}
	metrics.RoomMemberships.Inc()
	return nil
}

func (h *Hub) Leave(c Client, key Key) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c.ID(), key)
}

// LeaveAll drops every membership of the client. It is called on disconnect.
func (h *Hub) LeaveAll(c Client) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	joined := h.members[c.ID()]
	n := 0
	for key := range joined {
		h.removeLocked(c.ID(), key)
		n++
	}
	return n
}

func (h *Hub) removeLocked(clientID string, key Key) {
	room, ok := h.rooms[key]
	if !ok {
		return
	}
	if _, ok := room[clientID]; !ok {
		return
	}
	delete(room, clientID)
	if len(room) == 0 {
		delete(h.rooms, key)
	}
	if joined, ok := h.members[clientID]; ok {
		delete(joined, key)
		if len(joined) == 0 {
			delete(h.members, clientID)
		}
	}
	metrics.RoomMemberships.Dec()
}

// Broadcast encodes payload once and hands it to every client in the room at
// call time. It returns how many clients accepted the message.
func (h *Hub) Broadcast(key Key, event string, payload any) (int, error) {
	msg, err := NewMessage(event, payload)
	if err != nil {
		return 0, err
	}
	metrics.Broadcasts.WithLabelValues(event).Inc()
	return h.Deliver(key, msg), nil
}

// Deliver sends an already encoded message to the room.
func (h *Hub) Deliver(key Key, msg Message) int {
	h.mu.RLock()
	room := h.rooms[key]
	targets := make([]Client, 0, len(room))
	for _, c := range room {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if c.Deliver(msg) {
			delivered++
			metrics.Deliveries.WithLabelValues("sent").Inc()
			continue
		}
		metrics.Deliveries.WithLabelValues("dropped").Inc()
		h.log.Debug("delivery dropped",
			zap.String("client", c.ID()),
			zap.String("room", key.String()),
			zap.String("event", msg.Event),
		)
	}
	return delivered
}

func (h *Hub) Publish(_ context.Context, key Key, event string, payload any) {
	n, err := h.Broadcast(key, event, payload)
	if err != nil {
		h.log.Error("broadcast encode failed", zap.String("event", event), zap.Error(err))
		return
	}
	h.log.Debug("broadcast",
		zap.String("room", key.String()),
		zap.String("event", event),
		zap.Int("delivered", n),
	)
}

func (h *Hub) Members(key Key) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[key])
}

func (h *Hub) Rooms(c Client) []Key {
	h.mu.RLock()
	defer h.mu.RUnlock()
	joined := h.members[c.ID()]
	out := make([]Key, 0, len(joined))
	for key := range joined {
		out = append(out, key)
	}
	return out
}

// Close clears every membership. Later joins fail with ErrClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, joined := range h.members {
		metrics.RoomMemberships.Sub(float64(len(joined)))
	}
	h.rooms = make(map[Key]map[string]Client)
	h.members = make(map[string]map[Key]struct{})
}
