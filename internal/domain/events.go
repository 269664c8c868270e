package domain

// EventType identifies a chat domain event.
type EventType string

const (
	EventMessageSent        EventType = "message_sent"
	EventMessagesRead       EventType = "messages_read"
	EventParticipantAdded   EventType = "participant_added"
	EventParticipantRemoved EventType = "participant_removed"
	EventParticipantLeft    EventType = "participant_left"
	EventChatUpdated        EventType = "chat_updated"
)

// ChatEvent is published by the ChatService after a successful mutation.
// Persistence always happens before publication.
type ChatEvent struct {
	Type    EventType
	ChatID  string
	ActorID string
	// Participants is the post-mutation participant snapshot, used for
	// personal-channel delivery.
	Participants []string
	// Sender is populated for EventMessageSent so transports can
	// denormalize name/avatar without another lookup.
	Sender     *User
	Message    *Message
	MessageIDs []string
	// TargetID is the added/removed user for membership events.
	TargetID string
	Chat     *Chat
}

// EventPublisher receives domain events for broadcast. Delivery is
// best-effort and fire-and-forget; publishers must not block.
type EventPublisher interface {
	Publish(event ChatEvent)
}

// NopPublisher discards events. Useful for tools and tests.
type NopPublisher struct{}

func (NopPublisher) Publish(ChatEvent) {}
