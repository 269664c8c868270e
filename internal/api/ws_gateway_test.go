package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/alumnet/backend/internal/auth"
	"github.com/alumnet/backend/internal/domain"
)

type fakeChatRepo struct {
	mu    sync.Mutex
	chats map[string]*domain.Chat
}

func (r *fakeChatRepo) clone(c *domain.Chat) *domain.Chat {
	cp := *c
	cp.Participants = append([]string(nil), c.Participants...)
	cp.Messages = append([]domain.Message(nil), c.Messages...)
	return &cp
}

func (r *fakeChatRepo) FindChatsForUser(_ context.Context, userID string) ([]*domain.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Chat
	for _, c := range r.chats {
		if c.IsParticipant(userID) {
			out = append(out, r.clone(c))
		}
	}
	return out, nil
}

func (r *fakeChatRepo) FindChatByID(_ context.Context, id string) (*domain.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chats[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return r.clone(c), nil
}

func (r *fakeChatRepo) FindOrCreateIndividual(_ context.Context, userA, userB string) (*domain.Chat, error) {
	chat, err := domain.NewIndividualChat(userA, userB)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.chats[chat.ID] = r.clone(chat)
	r.mu.Unlock()
	return chat, nil
}

func (r *fakeChatRepo) Create(_ context.Context, chat *domain.Chat) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chats[chat.ID] = r.clone(chat)
	return nil
}

func (r *fakeChatRepo) Save(_ context.Context, chat *domain.Chat) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.chats[chat.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if stored.Version != chat.Version {
		return domain.ErrVersionConflict
	}
	next := r.clone(chat)
	next.Version++
	r.chats[chat.ID] = next
	chat.Version = next.Version
	return nil
}

type fakeDirectory struct {
	users map[string]*domain.User
}

func (d *fakeDirectory) GetUser(_ context.Context, id string) (*domain.User, error) {
	u, ok := d.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return u, nil
}

func (d *fakeDirectory) GetUsers(_ context.Context, ids []string) ([]*domain.User, error) {
	var out []*domain.User
	for _, id := range ids {
		if u, ok := d.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

type gatewayFixture struct {
	server   *httptest.Server
	registry *RoomRegistry
	jwt      *auth.JWTManager
	chatID   string
}

// newGatewayFixture wires a gateway over in-memory storage with one group
// chat for u1/u2/u3. u4 exists but is not a participant.
func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()

	logger := zap.NewNop()
	repo := &fakeChatRepo{chats: map[string]*domain.Chat{}}
	dir := &fakeDirectory{users: map[string]*domain.User{
		"u1": {ID: "u1", Name: "Asha"},
		"u2": {ID: "u2", Name: "Ben"},
		"u3": {ID: "u3", Name: "Chitra"},
		"u4": {ID: "u4", Name: "Dan"},
	}}

	chat, err := domain.NewGroupChat("u1", "Reunion", "", []string{"u2", "u3"})
	require.NoError(t, err)
	require.NoError(t, repo.Create(context.Background(), chat))

	registry := NewRoomRegistry(logger)
	broadcaster := NewBroadcaster(registry, logger)
	service := domain.NewChatService(repo, dir, broadcaster)
	jwtManager := auth.NewJWTManager("test-secret", time.Hour)
	gateway := NewGateway(registry, service, dir, jwtManager, logger)

	server := httptest.NewServer(http.HandlerFunc(gateway.HandleWebSocket))
	t.Cleanup(server.Close)

	return &gatewayFixture{
		server:   server,
		registry: registry,
		jwt:      jwtManager,
		chatID:   chat.ID,
	}
}

func (f *gatewayFixture) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	token, err := f.jwt.GenerateToken(userID, userID+"@example.edu")
	require.NoError(t, err)

	url := strings.Replace(f.server.URL, "http", "ws", 1) + "?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, eventType string, payload interface{}) {
	t.Helper()
	data, err := json.Marshal(map[string]interface{}{"type": eventType, "payload": payload})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func readEvent(t *testing.T, conn *websocket.Conn) WSEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev WSEvent
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func waitForRoom(t *testing.T, f *gatewayFixture, roomID, userID string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.registry.RoomHasUser(roomID, userID)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandshakeRejectsMissingToken(t *testing.T) {
	f := newGatewayFixture(t)

	url := strings.Replace(f.server.URL, "http", "ws", 1)
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandshakeRejectsInvalidToken(t *testing.T) {
	f := newGatewayFixture(t)

	url := strings.Replace(f.server.URL, "http", "ws", 1) + "?token=not-a-token"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandshakeRejectsUnknownUser(t *testing.T) {
	f := newGatewayFixture(t)

	token, err := f.jwt.GenerateToken("ghost", "ghost@example.edu")
	require.NoError(t, err)
	url := strings.Replace(f.server.URL, "http", "ws", 1) + "?token=" + token
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestJoinChatRequiresMembership(t *testing.T) {
	f := newGatewayFixture(t)
	outsider := f.dial(t, "u4")

	send(t, outsider, "join_chat", map[string]string{"chat_id": f.chatID})

	ev := readEvent(t, outsider)
	assert.Equal(t, "error", ev.Type)
	payload, ok := ev.Payload.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "NOT_AUTHORIZED", payload["code"])
	assert.False(t, f.registry.RoomHasUser(f.chatID, "u4"))
}

func TestTypingIsRelayedWithoutEcho(t *testing.T) {
	f := newGatewayFixture(t)
	a := f.dial(t, "u1")
	b := f.dial(t, "u2")

	send(t, a, "join_chat", map[string]string{"chat_id": f.chatID})
	send(t, b, "join_chat", map[string]string{"chat_id": f.chatID})
	waitForRoom(t, f, f.chatID, "u1")
	waitForRoom(t, f, f.chatID, "u2")

	send(t, a, "typing_start", map[string]string{"chat_id": f.chatID})

	ev := readEvent(t, b)
	assert.Equal(t, "user_typing", ev.Type)
	payload := ev.Payload.(map[string]interface{})
	assert.Equal(t, f.chatID, payload["chat_id"])
	user := payload["user"].(map[string]interface{})
	assert.Equal(t, "u1", user["id"])
	assert.Equal(t, "Asha", user["name"])
}

func TestSendMessageReachesRoomAndPersonalChannels(t *testing.T) {
	f := newGatewayFixture(t)
	a := f.dial(t, "u1")
	b := f.dial(t, "u2")
	c := f.dial(t, "u3")

	// u1 and u2 watch the room; u3 is connected but has not joined it
	send(t, a, "join_chat", map[string]string{"chat_id": f.chatID})
	send(t, b, "join_chat", map[string]string{"chat_id": f.chatID})
	waitForRoom(t, f, f.chatID, "u1")
	waitForRoom(t, f, f.chatID, "u2")
	waitForRoom(t, f, "u3", "u3")

	send(t, a, "send_message", map[string]string{"chat_id": f.chatID, "content": "hello"})

	for _, conn := range []*websocket.Conn{a, b, c} {
		ev := readEvent(t, conn)
		require.Equal(t, "new_message", ev.Type)
		payload := ev.Payload.(map[string]interface{})
		assert.Equal(t, f.chatID, payload["chat_id"])
		msg := payload["message"].(map[string]interface{})
		assert.Equal(t, "hello", msg["content"])
		assert.Equal(t, "u1", msg["sender"])
		sender := payload["sender"].(map[string]interface{})
		assert.Equal(t, "Asha", sender["name"])
	}
}

func TestSendMessageToChatNotMemberOf(t *testing.T) {
	f := newGatewayFixture(t)
	outsider := f.dial(t, "u4")

	send(t, outsider, "send_message", map[string]string{"chat_id": f.chatID, "content": "let me in"})

	ev := readEvent(t, outsider)
	assert.Equal(t, "error", ev.Type)
	payload := ev.Payload.(map[string]interface{})
	assert.Equal(t, "NOT_AUTHORIZED", payload["code"])
}

func TestSetStatusBroadcastsPresence(t *testing.T) {
	f := newGatewayFixture(t)
	a := f.dial(t, "u1")
	b := f.dial(t, "u2")
	waitForRoom(t, f, "u1", "u1")
	waitForRoom(t, f, "u2", "u2")

	send(t, a, "set_status", map[string]string{"status": "online"})

	ev := readEvent(t, b)
	assert.Equal(t, "user_status_change", ev.Type)
	payload := ev.Payload.(map[string]interface{})
	assert.Equal(t, "u1", payload["user_id"])
	assert.Equal(t, "online", payload["status"])
}
