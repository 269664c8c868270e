package api

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// WSEvent is the JSON envelope for every websocket frame.
type WSEvent struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// RoomRegistry maps room ids to the set of subscribed live connections.
// A room id is either a chat id or a user id (the user's personal
// channel). It is constructed in main and owned by the gateway; there is
// no package-level instance.
type RoomRegistry struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	rooms   map[string]map[*Client]bool
	logger  *zap.Logger
}

func NewRoomRegistry(logger *zap.Logger) *RoomRegistry {
	return &RoomRegistry{
		clients: make(map[*Client]bool),
		rooms:   make(map[string]map[*Client]bool),
		logger:  logger,
	}
}

// Register adds a connection and subscribes it to the owner's personal
// channel.
func (r *RoomRegistry) Register(c *Client) {
	r.mu.Lock()
	r.clients[c] = true
	r.join(c.UserID, c)
	r.mu.Unlock()
	r.logger.Debug("client registered", zap.String("user_id", c.UserID))
}

// Unregister removes a connection from every room and the personal
// channel; no partial-unsubscribe state is observable afterwards.
func (r *RoomRegistry) Unregister(c *Client) {
	r.mu.Lock()
	if _, ok := r.clients[c]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.clients, c)
	for roomID, members := range r.rooms {
		delete(members, c)
		if len(members) == 0 {
			delete(r.rooms, roomID)
		}
	}
	close(c.send)
	r.mu.Unlock()
	r.logger.Debug("client unregistered", zap.String("user_id", c.UserID))
}

// Join subscribes a connection to a room.
func (r *RoomRegistry) Join(roomID string, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[c]; !ok {
		return
	}
	r.join(roomID, c)
}

func (r *RoomRegistry) join(roomID string, c *Client) {
	if _, ok := r.rooms[roomID]; !ok {
		r.rooms[roomID] = make(map[*Client]bool)
	}
	r.rooms[roomID][c] = true
}

// Leave unsubscribes a connection from a room.
func (r *RoomRegistry) Leave(roomID string, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if members, ok := r.rooms[roomID]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(r.rooms, roomID)
		}
	}
}

// RoomHasUser reports whether any of userID's connections is subscribed
// to the room.
func (r *RoomRegistry) RoomHasUser(roomID, userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for c := range r.rooms[roomID] {
		if c.UserID == userID {
			return true
		}
	}
	return false
}

// Broadcast delivers an event to every current subscriber of the room
// except the optionally excluded connection. Delivery is best-effort: a
// subscriber with a full send buffer is skipped, not retried.
func (r *RoomRegistry) Broadcast(roomID, event string, payload interface{}, exclude *Client) {
	data, err := json.Marshal(WSEvent{Type: event, Payload: payload})
	if err != nil {
		r.logger.Error("failed to marshal event", zap.String("event", event), zap.Error(err))
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for c := range r.rooms[roomID] {
		if c == exclude {
			continue
		}
		c.trySend(data)
	}
}

// BroadcastExceptUser is Broadcast with echo suppression across all of a
// user's connections rather than a single one.
func (r *RoomRegistry) BroadcastExceptUser(roomID, event string, payload interface{}, exceptUserID string) {
	data, err := json.Marshal(WSEvent{Type: event, Payload: payload})
	if err != nil {
		r.logger.Error("failed to marshal event", zap.String("event", event), zap.Error(err))
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for c := range r.rooms[roomID] {
		if c.UserID == exceptUserID {
			continue
		}
		c.trySend(data)
	}
}

// BroadcastToUser delivers to a user's personal channel regardless of
// room membership.
func (r *RoomRegistry) BroadcastToUser(userID, event string, payload interface{}) {
	r.Broadcast(userID, event, payload, nil)
}

// BroadcastAll delivers to every connected client. Used for presence.
func (r *RoomRegistry) BroadcastAll(event string, payload interface{}) {
	data, err := json.Marshal(WSEvent{Type: event, Payload: payload})
	if err != nil {
		r.logger.Error("failed to marshal event", zap.String("event", event), zap.Error(err))
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for c := range r.clients {
		c.trySend(data)
	}
}
