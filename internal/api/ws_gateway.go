package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/alumnet/backend/internal/auth"
	"github.com/alumnet/backend/internal/domain"
	"github.com/alumnet/backend/pkg/response"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // mobile clients send no Origin header
	},
}

// Gateway authenticates live connections, binds them to a user identity
// and translates inbound events into ChatService calls and outbound
// broadcasts.
type Gateway struct {
	registry *RoomRegistry
	chats    *domain.ChatService
	users    domain.UserDirectory
	jwt      *auth.JWTManager
	logger   *zap.Logger
}

func NewGateway(registry *RoomRegistry, chats *domain.ChatService, users domain.UserDirectory, jwt *auth.JWTManager, logger *zap.Logger) *Gateway {
	return &Gateway{
		registry: registry,
		chats:    chats,
		users:    users,
		jwt:      jwt,
		logger:   logger,
	}
}

// HandleWebSocket authenticates the handshake credential and upgrades the
// connection. A missing or invalid credential refuses the connection
// before any room join.
func (g *Gateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := handshakeToken(r)
	if token == "" {
		response.Unauthorized(w, "missing credential")
		return
	}

	claims, err := g.jwt.ValidateToken(token)
	if err != nil {
		response.Unauthorized(w, "invalid credential")
		return
	}

	user, err := g.users.GetUser(r.Context(), claims.UserID)
	if err != nil {
		response.Unauthorized(w, "user not found")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(user, conn)
	g.registry.Register(client)
	g.logger.Info("user connected", zap.String("user_id", user.ID))

	go client.writePump()
	go client.readPump(g)
}

// handshakeToken extracts the bearer credential passed out-of-band at
// connect time, from the auth query parameter or the Authorization header.
func handshakeToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
		return parts[1]
	}
	return ""
}

type inboundEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type chatRoomPayload struct {
	ChatID string `json:"chat_id"`
}

type sendMessagePayload struct {
	ChatID      string              `json:"chat_id"`
	Content     string              `json:"content"`
	Attachments []domain.Attachment `json:"attachments,omitempty"`
}

type markReadPayload struct {
	ChatID     string   `json:"chat_id"`
	MessageIDs []string `json:"message_ids"`
}

type statusPayload struct {
	Status string `json:"status"`
}

type userRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (g *Gateway) handleEvent(c *Client, data []byte) {
	var env inboundEvent
	if err := json.Unmarshal(data, &env); err != nil {
		g.logger.Debug("malformed event", zap.String("user_id", c.UserID), zap.Error(err))
		return
	}

	ctx := context.Background()

	switch env.Type {
	case "join_chat":
		var p chatRoomPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.ChatID == "" {
			return
		}
		// Membership is checked before subscribing so a connection can
		// never listen in on a chat it does not belong to.
		if err := g.chats.VerifyParticipant(ctx, p.ChatID, c.UserID); err != nil {
			g.sendError(c, err)
			return
		}
		g.registry.Join(p.ChatID, c)
		g.logger.Debug("joined chat room", zap.String("user_id", c.UserID), zap.String("chat_id", p.ChatID))

	case "leave_chat":
		var p chatRoomPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.ChatID == "" {
			return
		}
		g.registry.Leave(p.ChatID, c)

	case "send_message":
		var p sendMessagePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.ChatID == "" {
			return
		}
		if _, err := g.chats.SendMessage(ctx, p.ChatID, c.UserID, p.Content, p.Attachments); err != nil {
			g.sendError(c, err)
		}

	case "typing_start":
		var p chatRoomPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.ChatID == "" {
			return
		}
		g.registry.Broadcast(p.ChatID, "user_typing", map[string]interface{}{
			"chat_id": p.ChatID,
			"user":    userRef{ID: c.UserID, Name: c.user.Name},
		}, c)

	case "typing_end":
		var p chatRoomPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.ChatID == "" {
			return
		}
		g.registry.Broadcast(p.ChatID, "user_stopped_typing", map[string]interface{}{
			"chat_id": p.ChatID,
			"user":    userRef{ID: c.UserID, Name: c.user.Name},
		}, c)

	case "mark_read":
		var p markReadPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.ChatID == "" {
			return
		}
		if _, err := g.chats.MarkRead(ctx, p.ChatID, c.UserID); err != nil {
			g.sendError(c, err)
		}

	case "set_status":
		var p statusPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.Status == "" {
			return
		}
		g.registry.BroadcastAll("user_status_change", map[string]interface{}{
			"user_id": c.UserID,
			"status":  p.Status,
		})

	default:
		g.logger.Debug("unknown event type", zap.String("type", env.Type), zap.String("user_id", c.UserID))
	}
}

// sendError reports a failed operation back to the calling connection.
func (g *Gateway) sendError(c *Client, err error) {
	code, message := errorCode(err)
	data, marshalErr := json.Marshal(WSEvent{Type: "error", Payload: map[string]string{
		"code":    code,
		"message": message,
	}})
	if marshalErr != nil {
		return
	}
	c.trySend(data)
}

// disconnect runs once when a connection's read loop exits.
func (g *Gateway) disconnect(c *Client) {
	g.registry.Unregister(c)
	g.registry.BroadcastAll("user_status_change", map[string]interface{}{
		"user_id": c.UserID,
		"status":  "offline",
	})
	g.logger.Info("user disconnected", zap.String("user_id", c.UserID))
}
