package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// saveAttempts bounds the optimistic-concurrency retry loop. Each retry
// re-reads the chat and re-applies the mutation, so a lost conditional
// write never duplicates side effects.
const saveAttempts = 3

// errNoChange signals that a mutation turned out to be a no-op and the
// aggregate does not need to be written back.
var errNoChange = errors.New("no change")

// ChatSummary pairs a chat with caller-specific derived state and the
// resolved participant identities for rendering.
type ChatSummary struct {
	Chat        *Chat   `json:"chat"`
	UnreadCount int     `json:"unread_count"`
	Users       []*User `json:"users,omitempty"`
}

// ChatService orchestrates aggregate mutations: load, authorize, mutate,
// persist, then publish the resulting domain event.
type ChatService struct {
	repo   ChatRepository
	users  UserDirectory
	events EventPublisher
}

func NewChatService(repo ChatRepository, users UserDirectory, events EventPublisher) *ChatService {
	if events == nil {
		events = NopPublisher{}
	}
	return &ChatService{repo: repo, users: users, events: events}
}

// update runs mutate against a fresh read of the chat and persists the
// result, retrying on version conflicts.
func (s *ChatService) update(ctx context.Context, chatID string, mutate func(*Chat) error) (*Chat, error) {
	for attempt := 0; attempt < saveAttempts; attempt++ {
		chat, err := s.repo.FindChatByID(ctx, chatID)
		if err != nil {
			return nil, err
		}

		if err := mutate(chat); err != nil {
			if errors.Is(err, errNoChange) {
				return chat, nil
			}
			return nil, err
		}

		err = s.repo.Save(ctx, chat)
		if err == nil {
			return chat, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("saving chat %s: %w", chatID, ErrVersionConflict)
}

// ListChats returns the caller's active chats ordered by last activity,
// each annotated with the caller-specific unread count.
func (s *ChatService) ListChats(ctx context.Context, userID string) ([]*ChatSummary, error) {
	chats, err := s.repo.FindChatsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.summarize(ctx, userID, chats)
}

// GetChat returns a single chat with full history and, as a side effect,
// marks every message read for the caller.
func (s *ChatService) GetChat(ctx context.Context, chatID, userID string) (*ChatSummary, error) {
	var marked []string
	chat, err := s.update(ctx, chatID, func(c *Chat) error {
		if !c.IsParticipant(userID) {
			return ErrNotAuthorized
		}
		marked = c.MarkRead(userID, time.Now().UTC())
		if len(marked) == 0 {
			return errNoChange
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(marked) > 0 {
		s.events.Publish(ChatEvent{
			Type:         EventMessagesRead,
			ChatID:       chat.ID,
			ActorID:      userID,
			Participants: chat.Participants,
			MessageIDs:   marked,
		})
	}

	summaries, err := s.summarize(ctx, userID, []*Chat{chat})
	if err != nil {
		return nil, err
	}
	return summaries[0], nil
}

// CreateGroupChat creates a group chat with the caller as admin. At least
// 2 other participants are required.
func (s *ChatService) CreateGroupChat(ctx context.Context, creatorID, name, description string, participants []string) (*ChatSummary, error) {
	chat, err := NewGroupChat(creatorID, name, description, participants)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, chat); err != nil {
		return nil, err
	}

	s.events.Publish(ChatEvent{
		Type:         EventChatUpdated,
		ChatID:       chat.ID,
		ActorID:      creatorID,
		Participants: chat.Participants,
		Chat:         chat,
	})

	summaries, err := s.summarize(ctx, creatorID, []*Chat{chat})
	if err != nil {
		return nil, err
	}
	return summaries[0], nil
}

// GetOrCreateIndividualChat finds or creates the single individual chat
// for the unordered caller/other pair.
func (s *ChatService) GetOrCreateIndividualChat(ctx context.Context, userID, otherID string) (*ChatSummary, error) {
	if userID == otherID {
		return nil, ErrSelfChat
	}
	if _, err := s.users.GetUser(ctx, otherID); err != nil {
		return nil, err
	}

	chat, err := s.repo.FindOrCreateIndividual(ctx, userID, otherID)
	if err != nil {
		return nil, err
	}

	summaries, err := s.summarize(ctx, userID, []*Chat{chat})
	if err != nil {
		return nil, err
	}
	return summaries[0], nil
}

// SendMessage appends a message on behalf of senderID and publishes
// MessageSent after the chat has been persisted.
func (s *ChatService) SendMessage(ctx context.Context, chatID, senderID, content string, attachments []Attachment) (*Message, error) {
	var msg *Message
	chat, err := s.update(ctx, chatID, func(c *Chat) error {
		m, err := c.AppendMessage(senderID, content, attachments)
		if err != nil {
			return err
		}
		msg = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	sender, err := s.users.GetUser(ctx, senderID)
	if err != nil {
		sender = &User{ID: senderID}
	}

	s.events.Publish(ChatEvent{
		Type:         EventMessageSent,
		ChatID:       chat.ID,
		ActorID:      senderID,
		Participants: chat.Participants,
		Sender:       sender,
		Message:      msg,
	})
	return msg, nil
}

// MarkRead marks all of the chat's messages read for userID and returns
// the ids of messages that gained a receipt. Idempotent.
func (s *ChatService) MarkRead(ctx context.Context, chatID, userID string) ([]string, error) {
	var marked []string
	chat, err := s.update(ctx, chatID, func(c *Chat) error {
		if !c.IsParticipant(userID) {
			return ErrNotAuthorized
		}
		marked = c.MarkRead(userID, time.Now().UTC())
		if len(marked) == 0 {
			return errNoChange
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(marked) > 0 {
		s.events.Publish(ChatEvent{
			Type:         EventMessagesRead,
			ChatID:       chat.ID,
			ActorID:      userID,
			Participants: chat.Participants,
			MessageIDs:   marked,
		})
	}
	return marked, nil
}

// UpdateChat renames a group chat. Admin only.
func (s *ChatService) UpdateChat(ctx context.Context, chatID, requesterID string, name, description, image *string) (*Chat, error) {
	chat, err := s.update(ctx, chatID, func(c *Chat) error {
		return c.Rename(requesterID, name, description, image)
	})
	if err != nil {
		return nil, err
	}

	s.events.Publish(ChatEvent{
		Type:         EventChatUpdated,
		ChatID:       chat.ID,
		ActorID:      requesterID,
		Participants: chat.Participants,
		Chat:         chat,
	})
	return chat, nil
}

// AddParticipant adds a user to a group chat. Admin only.
func (s *ChatService) AddParticipant(ctx context.Context, chatID, requesterID, newUserID string) (*Chat, error) {
	if _, err := s.users.GetUser(ctx, newUserID); err != nil {
		return nil, err
	}

	chat, err := s.update(ctx, chatID, func(c *Chat) error {
		return c.AddParticipant(requesterID, newUserID)
	})
	if err != nil {
		return nil, err
	}

	s.events.Publish(ChatEvent{
		Type:         EventParticipantAdded,
		ChatID:       chat.ID,
		ActorID:      requesterID,
		Participants: chat.Participants,
		TargetID:     newUserID,
		Chat:         chat,
	})
	return chat, nil
}

// RemoveParticipant removes a user from a group chat. Admin only.
func (s *ChatService) RemoveParticipant(ctx context.Context, chatID, requesterID, targetUserID string) (*Chat, error) {
	chat, err := s.update(ctx, chatID, func(c *Chat) error {
		return c.RemoveParticipant(requesterID, targetUserID)
	})
	if err != nil {
		return nil, err
	}

	s.events.Publish(ChatEvent{
		Type:         EventParticipantRemoved,
		ChatID:       chat.ID,
		ActorID:      requesterID,
		Participants: chat.Participants,
		TargetID:     targetUserID,
		Chat:         chat,
	})
	return chat, nil
}

// LeaveChat removes the caller from the chat, reassigning the admin role
// or archiving the chat as needed.
func (s *ChatService) LeaveChat(ctx context.Context, chatID, userID string) error {
	chat, err := s.update(ctx, chatID, func(c *Chat) error {
		if !c.IsParticipant(userID) {
			return ErrNotAuthorized
		}
		c.Leave(userID)
		return nil
	})
	if err != nil {
		return err
	}

	s.events.Publish(ChatEvent{
		Type:         EventParticipantLeft,
		ChatID:       chat.ID,
		ActorID:      userID,
		Participants: chat.Participants,
		Chat:         chat,
	})
	return nil
}

// VerifyParticipant checks that userID belongs to the chat. Used by the
// realtime gateway before subscribing a connection to a room.
func (s *ChatService) VerifyParticipant(ctx context.Context, chatID, userID string) error {
	chat, err := s.repo.FindChatByID(ctx, chatID)
	if err != nil {
		return err
	}
	if !chat.IsParticipant(userID) {
		return ErrNotAuthorized
	}
	return nil
}

// summarize resolves participant identities in bulk and computes the
// caller-specific unread count for each chat.
func (s *ChatService) summarize(ctx context.Context, userID string, chats []*Chat) ([]*ChatSummary, error) {
	idSet := map[string]bool{}
	var ids []string
	for _, c := range chats {
		for _, p := range c.Participants {
			if !idSet[p] {
				idSet[p] = true
				ids = append(ids, p)
			}
		}
	}

	byID := map[string]*User{}
	if len(ids) > 0 {
		users, err := s.users.GetUsers(ctx, ids)
		if err != nil {
			return nil, err
		}
		for _, u := range users {
			byID[u.ID] = u
		}
	}

	out := make([]*ChatSummary, 0, len(chats))
	for _, c := range chats {
		summary := &ChatSummary{Chat: c, UnreadCount: c.UnreadCount(userID)}
		for _, p := range c.Participants {
			if u, ok := byID[p]; ok {
				summary.Users = append(summary.Users, u)
			}
		}
		out = append(out, summary)
	}
	return out, nil
}
