package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound                 = errors.New("chat not found")
	ErrNotAuthorized            = errors.New("not authorized")
	ErrNotParticipant           = errors.New("not a participant of this chat")
	ErrEmptyContent             = errors.New("message content is empty")
	ErrAlreadyMember            = errors.New("user already in chat")
	ErrInsufficientParticipants = errors.New("group chat must have at least 2 other participants")
	ErrSelfChat                 = errors.New("cannot chat with self")
	ErrStorageUnavailable       = errors.New("storage unavailable")
	ErrVersionConflict          = errors.New("chat was modified concurrently")
)

// ChatKind distinguishes two-participant chats from group chats.
type ChatKind string

const (
	ChatKindIndividual ChatKind = "individual"
	ChatKindGroup      ChatKind = "group"
)

// AttachmentKind is a closed enumeration; unknown kinds are rejected.
type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentFile  AttachmentKind = "file"
)

// Attachment references externally stored media by URI.
type Attachment struct {
	Kind AttachmentKind `bson:"kind" json:"kind"`
	URL  string         `bson:"url" json:"url"`
	Name string         `bson:"name,omitempty" json:"name,omitempty"`
}

// Validate checks the attachment kind against the closed enumeration.
func (a Attachment) Validate() error {
	switch a.Kind {
	case AttachmentImage, AttachmentFile:
	default:
		return fmt.Errorf("unknown attachment kind %q", a.Kind)
	}
	if a.URL == "" {
		return errors.New("attachment url is required")
	}
	return nil
}

// ReadReceipt records that a user has read a message.
type ReadReceipt struct {
	UserID string    `bson:"user" json:"user"`
	ReadAt time.Time `bson:"read_at" json:"read_at"`
}

// Message is owned by its parent Chat and never referenced independently.
type Message struct {
	ID          string        `bson:"id" json:"id"`
	SenderID    string        `bson:"sender" json:"sender"`
	Content     string        `bson:"content" json:"content"`
	Attachments []Attachment  `bson:"attachments,omitempty" json:"attachments,omitempty"`
	ReadBy      []ReadReceipt `bson:"read_by" json:"read_by"`
	CreatedAt   time.Time     `bson:"created_at" json:"created_at"`
}

func (m *Message) readAtFor(userID string) (time.Time, bool) {
	for _, r := range m.ReadBy {
		if r.UserID == userID {
			return r.ReadAt, true
		}
	}
	return time.Time{}, false
}

// ChatMetadata holds denormalized counters kept in lockstep with the
// message sequence and participant set.
type ChatMetadata struct {
	ParticipantCount int       `bson:"participant_count" json:"participant_count"`
	MessageCount     int       `bson:"message_count" json:"message_count"`
	LastActivity     time.Time `bson:"last_activity" json:"last_activity"`
}

// Chat is the unit of consistency: every mutation is applied to the full
// aggregate and persisted atomically by the repository.
type Chat struct {
	ID           string       `bson:"_id" json:"id"`
	Kind         ChatKind     `bson:"kind" json:"kind"`
	Name         string       `bson:"name,omitempty" json:"name,omitempty"`
	Description  string       `bson:"description,omitempty" json:"description,omitempty"`
	GroupImage   string       `bson:"group_image,omitempty" json:"group_image,omitempty"`
	AdminID      string       `bson:"admin,omitempty" json:"admin,omitempty"`
	Participants []string     `bson:"participants" json:"participants"`
	Messages     []Message    `bson:"messages" json:"messages"`
	LastMessage  *Message     `bson:"last_message,omitempty" json:"last_message,omitempty"`
	IsActive     bool         `bson:"is_active" json:"is_active"`
	Metadata     ChatMetadata `bson:"metadata" json:"metadata"`
	// PairKey is the canonical unordered participant pair for individual
	// chats; the repository enforces a unique index on it.
	PairKey   string    `bson:"pair_key,omitempty" json:"-"`
	Version   int64     `bson:"version" json:"-"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// NewIndividualChat creates a two-participant chat. Callers must go through
// ChatRepository.FindOrCreateIndividual so at most one chat exists per pair.
func NewIndividualChat(userA, userB string) (*Chat, error) {
	if userA == userB {
		return nil, ErrSelfChat
	}
	now := time.Now().UTC()
	return &Chat{
		ID:           uuid.NewString(),
		Kind:         ChatKindIndividual,
		Participants: []string{userA, userB},
		IsActive:     true,
		Metadata:     ChatMetadata{ParticipantCount: 2, LastActivity: now},
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// NewGroupChat creates a group chat with the creator as admin. The creator
// is added to the participant set if not already listed.
func NewGroupChat(creatorID, name, description string, participants []string) (*Chat, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("group name is required")
	}

	members := make([]string, 0, len(participants)+1)
	seen := map[string]bool{creatorID: true}
	members = append(members, creatorID)
	for _, id := range participants {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		members = append(members, id)
	}
	if len(members) < 3 {
		return nil, ErrInsufficientParticipants
	}

	now := time.Now().UTC()
	return &Chat{
		ID:           uuid.NewString(),
		Kind:         ChatKindGroup,
		Name:         name,
		Description:  description,
		AdminID:      creatorID,
		Participants: members,
		IsActive:     true,
		Metadata:     ChatMetadata{ParticipantCount: len(members), LastActivity: now},
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// IsParticipant reports whether userID is currently in the chat.
func (c *Chat) IsParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// AppendMessage is the only code path allowed to grow the message sequence;
// it keeps lastMessage and metadata in lockstep.
func (c *Chat) AppendMessage(senderID, content string, attachments []Attachment) (*Message, error) {
	if !c.IsParticipant(senderID) {
		return nil, ErrNotParticipant
	}
	if strings.TrimSpace(content) == "" && len(attachments) == 0 {
		return nil, ErrEmptyContent
	}
	for _, a := range attachments {
		if err := a.Validate(); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	msg := Message{
		ID:          uuid.NewString(),
		SenderID:    senderID,
		Content:     content,
		Attachments: attachments,
		// Sender always appears in its own read-receipt set.
		ReadBy:    []ReadReceipt{{UserID: senderID, ReadAt: now}},
		CreatedAt: now,
	}
	c.Messages = append(c.Messages, msg)

	last := msg
	c.LastMessage = &last
	c.Metadata.MessageCount = len(c.Messages)
	c.Metadata.LastActivity = now
	c.UpdatedAt = now

	return &c.Messages[len(c.Messages)-1], nil
}

// MarkRead appends a read receipt for userID to every message that lacks
// one. It is idempotent and returns the ids of newly receipted messages.
func (c *Chat) MarkRead(userID string, asOf time.Time) []string {
	var marked []string
	for i := range c.Messages {
		if _, ok := c.Messages[i].readAtFor(userID); ok {
			continue
		}
		c.Messages[i].ReadBy = append(c.Messages[i].ReadBy, ReadReceipt{UserID: userID, ReadAt: asOf})
		marked = append(marked, c.Messages[i].ID)
	}
	if len(marked) > 0 {
		c.UpdatedAt = asOf
	}
	return marked
}

// UnreadCount is a derived query: the number of messages created after the
// latest read receipt userID holds on any message (all messages if none).
func (c *Chat) UnreadCount(userID string) int {
	var latest time.Time
	var hasRead bool
	for i := range c.Messages {
		if at, ok := c.Messages[i].readAtFor(userID); ok {
			if !hasRead || at.After(latest) {
				latest = at
				hasRead = true
			}
		}
	}
	if !hasRead {
		return len(c.Messages)
	}
	count := 0
	for i := range c.Messages {
		if c.Messages[i].CreatedAt.After(latest) {
			count++
		}
	}
	return count
}

// AddParticipant adds newUserID to a group chat. Admin only.
func (c *Chat) AddParticipant(requesterID, newUserID string) error {
	if c.Kind != ChatKindGroup || requesterID != c.AdminID {
		return ErrNotAuthorized
	}
	if c.IsParticipant(newUserID) {
		return ErrAlreadyMember
	}
	c.Participants = append(c.Participants, newUserID)
	c.Metadata.ParticipantCount = len(c.Participants)
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// RemoveParticipant removes targetUserID. Admin only. Removing the admin
// follows the same reassignment rules as Leave so the chat never ends up
// with an admin outside the participant set.
func (c *Chat) RemoveParticipant(requesterID, targetUserID string) error {
	if requesterID != c.AdminID {
		return ErrNotAuthorized
	}
	c.removeAndReassign(targetUserID)
	return nil
}

// Leave removes userID unconditionally. If the admin leaves and participants
// remain, the first-inserted remaining participant becomes admin; an emptied
// chat is archived via IsActive rather than deleted.
func (c *Chat) Leave(userID string) {
	c.removeAndReassign(userID)
}

func (c *Chat) removeAndReassign(userID string) {
	kept := c.Participants[:0]
	for _, p := range c.Participants {
		if p != userID {
			kept = append(kept, p)
		}
	}
	c.Participants = kept

	if c.AdminID == userID && len(c.Participants) > 0 {
		c.AdminID = c.Participants[0]
	}
	if len(c.Participants) == 0 {
		c.IsActive = false
	}
	c.Metadata.ParticipantCount = len(c.Participants)
	c.UpdatedAt = time.Now().UTC()
}

// Rename updates group name, description and image. Admin only. Nil fields
// are left unchanged.
func (c *Chat) Rename(requesterID string, name, description, image *string) error {
	if c.Kind != ChatKindGroup || requesterID != c.AdminID {
		return ErrNotAuthorized
	}
	if name != nil && strings.TrimSpace(*name) != "" {
		c.Name = *name
	}
	if description != nil {
		c.Description = *description
	}
	if image != nil {
		c.GroupImage = *image
	}
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// ChatRepository is the document store contract. Save must be atomic with
// respect to concurrent mutation of the same chat; implementations use a
// version token and return ErrVersionConflict when a conditional write
// loses, letting the service re-apply the mutation on a fresh read.
type ChatRepository interface {
	FindChatsForUser(ctx context.Context, userID string) ([]*Chat, error)
	FindChatByID(ctx context.Context, id string) (*Chat, error)
	FindOrCreateIndividual(ctx context.Context, userA, userB string) (*Chat, error)
	Create(ctx context.Context, chat *Chat) error
	Save(ctx context.Context, chat *Chat) error
}
