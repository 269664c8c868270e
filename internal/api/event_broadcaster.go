package api

import (
	"go.uber.org/zap"

	"github.com/alumnet/backend/internal/domain"
)

// Broadcaster translates domain events into room and personal-channel
// broadcasts. It is the only subscriber of the ChatService's events, which
// keeps persistence logic free of transport concerns.
type Broadcaster struct {
	registry *RoomRegistry
	logger   *zap.Logger
}

func NewBroadcaster(registry *RoomRegistry, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{registry: registry, logger: logger}
}

// Publish fans an event out to the chat room and, where relevant, to the
// personal channels of participants who are not watching the room.
// Delivery is best-effort; persistence has already happened.
func (b *Broadcaster) Publish(ev domain.ChatEvent) {
	switch ev.Type {
	case domain.EventMessageSent:
		payload := map[string]interface{}{
			"chat_id": ev.ChatID,
			"message": ev.Message,
		}
		if ev.Sender != nil {
			payload["sender"] = map[string]string{
				"id":            ev.Sender.ID,
				"name":          ev.Sender.Name,
				"profile_image": ev.Sender.ProfileImage,
			}
		}
		b.registry.Broadcast(ev.ChatID, "new_message", payload, nil)
		// Participants not subscribed to the room still learn about the
		// message through their personal channel.
		for _, p := range ev.Participants {
			if p == ev.ActorID || b.registry.RoomHasUser(ev.ChatID, p) {
				continue
			}
			b.registry.BroadcastToUser(p, "new_message", payload)
		}

	case domain.EventMessagesRead:
		b.registry.BroadcastExceptUser(ev.ChatID, "messages_read", map[string]interface{}{
			"chat_id":     ev.ChatID,
			"message_ids": ev.MessageIDs,
			"user_id":     ev.ActorID,
		}, ev.ActorID)

	case domain.EventParticipantAdded:
		payload := map[string]interface{}{
			"chat_id": ev.ChatID,
			"user_id": ev.TargetID,
			"chat":    ev.Chat,
		}
		b.registry.Broadcast(ev.ChatID, "participant_added", payload, nil)
		b.registry.BroadcastToUser(ev.TargetID, "chat_updated", payload)

	case domain.EventParticipantRemoved:
		payload := map[string]interface{}{
			"chat_id": ev.ChatID,
			"user_id": ev.TargetID,
		}
		b.registry.Broadcast(ev.ChatID, "participant_removed", payload, nil)
		b.registry.BroadcastToUser(ev.TargetID, "participant_removed", payload)

	case domain.EventParticipantLeft:
		b.registry.Broadcast(ev.ChatID, "participant_left", map[string]interface{}{
			"chat_id": ev.ChatID,
			"user_id": ev.ActorID,
		}, nil)

	case domain.EventChatUpdated:
		payload := map[string]interface{}{
			"chat_id": ev.ChatID,
			"chat":    ev.Chat,
		}
		b.registry.Broadcast(ev.ChatID, "chat_updated", payload, nil)
		// Covers newly created chats whose participants have not joined
		// the room yet.
		for _, p := range ev.Participants {
			if p == ev.ActorID || b.registry.RoomHasUser(ev.ChatID, p) {
				continue
			}
			b.registry.BroadcastToUser(p, "chat_updated", payload)
		}

	default:
		b.logger.Warn("unhandled domain event", zap.String("type", string(ev.Type)))
	}
}

var _ domain.EventPublisher = (*Broadcaster)(nil)
