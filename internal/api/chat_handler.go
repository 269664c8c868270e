package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/alumnet/backend/internal/domain"
	"github.com/alumnet/backend/internal/middleware"
	"github.com/alumnet/backend/pkg/response"
	"github.com/alumnet/backend/pkg/validator"
)

const (
	maxNameLen    = 100
	maxContentLen = 4000
)

type ChatHandler struct {
	chatService *domain.ChatService
	logger      *zap.Logger
}

func NewChatHandler(chatService *domain.ChatService, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		logger:      logger,
	}
}

// GetChats returns the caller's active chats with unread counts
func (h *ChatHandler) GetChats(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	chats, err := h.chatService.ListChats(r.Context(), userID)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	response.OK(w, map[string]interface{}{"chats": chats})
}

// GetChat returns one chat with full history and marks it read for the
// caller
func (h *ChatHandler) GetChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	chat, err := h.chatService.GetChat(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	response.OK(w, chat)
}

// CreateGroupChat creates a group chat with the caller as admin
func (h *ChatHandler) CreateGroupChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	var req struct {
		Name         string   `json:"name"`
		Participants []string `json:"participants"`
		Description  string   `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request")
		return
	}

	name := validator.SanitizeString(req.Name, maxNameLen)
	if !validator.ValidateName(name) {
		response.BadRequest(w, "group name is required")
		return
	}

	chat, err := h.chatService.CreateGroupChat(r.Context(), userID, name, req.Description, req.Participants)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	response.Created(w, chat)
}

// GetOrCreateIndividualChat finds or creates the individual chat with the
// given user
func (h *ChatHandler) GetOrCreateIndividualChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	chat, err := h.chatService.GetOrCreateIndividualChat(r.Context(), userID, chi.URLParam(r, "userId"))
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	response.OK(w, chat)
}

// SendMessage appends a message to the chat
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	var req struct {
		Content     string              `json:"content"`
		Attachments []domain.Attachment `json:"attachments"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request")
		return
	}

	content := validator.SanitizeString(req.Content, maxContentLen)
	msg, err := h.chatService.SendMessage(r.Context(), chi.URLParam(r, "id"), userID, content, req.Attachments)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	response.OK(w, msg)
}

// UpdateChat renames a group chat. Admin only
func (h *ChatHandler) UpdateChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	var req struct {
		Name        *string `json:"name"`
		Description *string `json:"description"`
		GroupImage  *string `json:"group_image"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request")
		return
	}

	chat, err := h.chatService.UpdateChat(r.Context(), chi.URLParam(r, "id"), userID, req.Name, req.Description, req.GroupImage)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	response.OK(w, chat)
}

// AddParticipant adds a user to a group chat. Admin only
func (h *ChatHandler) AddParticipant(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		response.BadRequest(w, "invalid request")
		return
	}

	chat, err := h.chatService.AddParticipant(r.Context(), chi.URLParam(r, "id"), userID, req.UserID)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	response.OK(w, chat)
}

// RemoveParticipant removes a user from a group chat. Admin only
func (h *ChatHandler) RemoveParticipant(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	chat, err := h.chatService.RemoveParticipant(r.Context(), chi.URLParam(r, "id"), userID, chi.URLParam(r, "userId"))
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	response.OK(w, chat)
}

// LeaveChat removes the caller from the chat
func (h *ChatHandler) LeaveChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "not authenticated")
		return
	}

	if err := h.chatService.LeaveChat(r.Context(), chi.URLParam(r, "id"), userID); err != nil {
		respondError(w, h.logger, err)
		return
	}

	response.OK(w, map[string]string{"message": "left chat successfully"})
}
