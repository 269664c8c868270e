package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGroup(t *testing.T) *Chat {
	t.Helper()
	chat, err := NewGroupChat("u1", "Class of 2015", "", []string{"u2", "u3"})
	require.NoError(t, err)
	return chat
}

func TestNewGroupChat(t *testing.T) {
	chat := newTestGroup(t)

	assert.Equal(t, ChatKindGroup, chat.Kind)
	assert.Equal(t, "u1", chat.AdminID)
	assert.Equal(t, []string{"u1", "u2", "u3"}, chat.Participants)
	assert.True(t, chat.IsActive)
	assert.Equal(t, 3, chat.Metadata.ParticipantCount)
}

func TestNewGroupChatInsufficientParticipants(t *testing.T) {
	_, err := NewGroupChat("u1", "Too small", "", []string{"u2"})
	assert.ErrorIs(t, err, ErrInsufficientParticipants)

	// duplicates and the creator's own id don't count twice
	_, err = NewGroupChat("u1", "Too small", "", []string{"u1", "u2", "u2"})
	assert.ErrorIs(t, err, ErrInsufficientParticipants)
}

func TestNewGroupChatRequiresName(t *testing.T) {
	_, err := NewGroupChat("u1", "  ", "", []string{"u2", "u3"})
	assert.Error(t, err)
}

func TestNewIndividualChat(t *testing.T) {
	chat, err := NewIndividualChat("a", "b")
	require.NoError(t, err)
	assert.Equal(t, ChatKindIndividual, chat.Kind)
	assert.Len(t, chat.Participants, 2)

	_, err = NewIndividualChat("a", "a")
	assert.ErrorIs(t, err, ErrSelfChat)
}

func TestAppendMessage(t *testing.T) {
	chat := newTestGroup(t)

	msg, err := chat.AppendMessage("u2", "hello", nil)
	require.NoError(t, err)

	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "u2", msg.SenderID)
	assert.False(t, msg.CreatedAt.IsZero())

	// sender self-read on send
	require.Len(t, msg.ReadBy, 1)
	assert.Equal(t, "u2", msg.ReadBy[0].UserID)

	// denormalized caches stay in lockstep
	require.NotNil(t, chat.LastMessage)
	assert.Equal(t, msg.ID, chat.LastMessage.ID)
	assert.Equal(t, 1, chat.Metadata.MessageCount)
	assert.Equal(t, msg.CreatedAt, chat.Metadata.LastActivity)
}

func TestAppendMessageNotParticipant(t *testing.T) {
	chat := newTestGroup(t)

	_, err := chat.AppendMessage("intruder", "hi", nil)
	assert.ErrorIs(t, err, ErrNotParticipant)
	assert.Empty(t, chat.Messages)
}

func TestAppendMessageEmptyContent(t *testing.T) {
	chat := newTestGroup(t)

	_, err := chat.AppendMessage("u1", "   ", nil)
	assert.ErrorIs(t, err, ErrEmptyContent)

	// attachments alone are enough
	_, err = chat.AppendMessage("u1", "", []Attachment{{Kind: AttachmentImage, URL: "https://cdn/img.png"}})
	assert.NoError(t, err)
}

func TestAppendMessageRejectsUnknownAttachmentKind(t *testing.T) {
	chat := newTestGroup(t)

	_, err := chat.AppendMessage("u1", "", []Attachment{{Kind: "hologram", URL: "x"}})
	assert.Error(t, err)
}

func TestMarkReadIdempotent(t *testing.T) {
	chat := newTestGroup(t)
	_, err := chat.AppendMessage("u1", "one", nil)
	require.NoError(t, err)
	_, err = chat.AppendMessage("u2", "two", nil)
	require.NoError(t, err)

	marked := chat.MarkRead("u3", time.Now().UTC())
	assert.Len(t, marked, 2)

	again := chat.MarkRead("u3", time.Now().UTC().Add(time.Minute))
	assert.Empty(t, again)

	// receipt sets unchanged by the second call
	for _, m := range chat.Messages {
		count := 0
		for _, r := range m.ReadBy {
			if r.UserID == "u3" {
				count++
			}
		}
		assert.Equal(t, 1, count)
	}
	assert.Equal(t, 0, chat.UnreadCount("u3"))
}

func TestUnreadCount(t *testing.T) {
	chat := newTestGroup(t)

	assert.Equal(t, 0, chat.UnreadCount("u3"))

	_, err := chat.AppendMessage("u2", "hello", nil)
	require.NoError(t, err)

	// sender has read its own message, others have not
	assert.Equal(t, 0, chat.UnreadCount("u2"))
	assert.Equal(t, 1, chat.UnreadCount("u3"))

	chat.MarkRead("u3", time.Now().UTC())
	assert.Equal(t, 0, chat.UnreadCount("u3"))

	_, err = chat.AppendMessage("u1", "anyone there?", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, chat.UnreadCount("u3"))
}

func TestGroupScenario(t *testing.T) {
	chat, err := NewGroupChat("U1", "Reunion", "", []string{"U2", "U3"})
	require.NoError(t, err)
	assert.Equal(t, "U1", chat.AdminID)

	msg, err := chat.AppendMessage("U2", "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", chat.LastMessage.Content)
	assert.Equal(t, 1, chat.Metadata.MessageCount)
	assert.Equal(t, "hello", msg.Content)

	assert.Equal(t, 1, chat.UnreadCount("U3"))
	chat.MarkRead("U3", time.Now().UTC())
	assert.Equal(t, 0, chat.UnreadCount("U3"))
}

func TestAddParticipant(t *testing.T) {
	chat := newTestGroup(t)

	require.NoError(t, chat.AddParticipant("u1", "u4"))
	assert.True(t, chat.IsParticipant("u4"))
	assert.Equal(t, 4, chat.Metadata.ParticipantCount)

	assert.ErrorIs(t, chat.AddParticipant("u1", "u4"), ErrAlreadyMember)
	assert.ErrorIs(t, chat.AddParticipant("u2", "u5"), ErrNotAuthorized)
}

func TestAddParticipantIndividualChat(t *testing.T) {
	chat, err := NewIndividualChat("a", "b")
	require.NoError(t, err)
	assert.ErrorIs(t, chat.AddParticipant("a", "c"), ErrNotAuthorized)
}

func TestRemoveParticipant(t *testing.T) {
	chat := newTestGroup(t)

	assert.ErrorIs(t, chat.RemoveParticipant("u2", "u3"), ErrNotAuthorized)

	require.NoError(t, chat.RemoveParticipant("u1", "u3"))
	assert.False(t, chat.IsParticipant("u3"))
	assert.Equal(t, 2, chat.Metadata.ParticipantCount)
}

func TestLeaveReassignsAdmin(t *testing.T) {
	chat := newTestGroup(t)

	chat.Leave("u1")

	assert.False(t, chat.IsParticipant("u1"))
	// deterministic: first-inserted remaining participant
	assert.Equal(t, "u2", chat.AdminID)
	assert.True(t, chat.IsActive)
}

func TestLeaveLastParticipantArchives(t *testing.T) {
	chat := newTestGroup(t)

	chat.Leave("u2")
	chat.Leave("u3")
	assert.Equal(t, "u1", chat.AdminID)
	assert.True(t, chat.IsActive)

	chat.Leave("u1")
	assert.Empty(t, chat.Participants)
	assert.False(t, chat.IsActive)
}

func TestRename(t *testing.T) {
	chat := newTestGroup(t)

	name := "Alumni 2015"
	desc := "official channel"
	require.NoError(t, chat.Rename("u1", &name, &desc, nil))
	assert.Equal(t, "Alumni 2015", chat.Name)
	assert.Equal(t, "official channel", chat.Description)

	// nil fields are left unchanged
	require.NoError(t, chat.Rename("u1", nil, nil, nil))
	assert.Equal(t, "Alumni 2015", chat.Name)

	assert.ErrorIs(t, chat.Rename("u2", &name, nil, nil), ErrNotAuthorized)
}
