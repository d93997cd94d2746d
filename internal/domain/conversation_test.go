package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDirectPairKey(t *testing.T) {
	assert.Equal(t, "alice:bob", DirectPairKey("alice", "bob"))
	assert.Equal(t, "alice:bob", DirectPairKey("bob", "alice"), "order of connection must not matter")
	assert.NotEqual(t, DirectPairKey("alice", "bob"), DirectPairKey("alice", "carol"))
}

func TestConversationRoles(t *testing.T) {
	group := &Conversation{
		Kind:         KindGroup,
		Owner:        "carol",
		Admins:       []string{"carol", "dave"},
		Participants: []string{"carol", "dave", "erin"},
	}

	assert.True(t, group.IsOwner("carol"))
	assert.False(t, group.IsOwner("dave"))
	assert.True(t, group.IsAdmin("dave"))
	assert.False(t, group.IsAdmin("erin"))
	assert.True(t, group.CanModerate("carol"))
	assert.True(t, group.CanModerate("dave"))
	assert.False(t, group.CanModerate("erin"))
	assert.False(t, group.IsParticipant("mallory"))

	// direct conversations have no roles, whatever the fields say
	direct := &Conversation{
		Kind:         KindDirect,
		Owner:        "alice",
		Admins:       []string{"alice"},
		Participants: []string{"alice", "bob"},
	}
	assert.False(t, direct.IsOwner("alice"))
	assert.False(t, direct.IsAdmin("alice"))
	assert.False(t, direct.CanModerate("alice"))
}

func TestCanEditOrDelete(t *testing.T) {
	sender := "dave"
	msg := &Message{SenderID: &sender}
	group := &Conversation{
		Kind:         KindGroup,
		Owner:        "carol",
		Admins:       []string{"carol"},
		Participants: []string{"carol", "dave", "erin"},
	}

	assert.True(t, group.CanEditOrDelete("dave", msg), "the sender")
	assert.True(t, group.CanEditOrDelete("carol", msg), "a moderator")
	assert.False(t, group.CanEditOrDelete("erin", msg), "a bystander")

	system := &Message{} // no sender
	assert.False(t, group.CanEditOrDelete("erin", system))
	assert.True(t, group.CanEditOrDelete("carol", system))
}

func TestMessageHelpers(t *testing.T) {
	m := &Message{Kind: KindSystem}
	assert.True(t, m.IsSystem())

	m = &Message{ReadBy: []ReadReceipt{{UserID: "bob"}}}
	assert.True(t, m.HasRead("bob"))
	assert.False(t, m.HasRead("alice"))
}

func TestErrorKinds(t *testing.T) {
	assert.Equal(t, KindValidation, KindOf(NewValidationError("bad")))
	assert.Equal(t, KindAuthorization, KindOf(NewAuthorizationError("no")))
	assert.Equal(t, KindNotFound, KindOf(NewNotFoundError("gone")))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))

	wrapped := NewInternalError("save failed", errors.New("io timeout"))
	assert.Equal(t, KindInternal, KindOf(wrapped))
	assert.Contains(t, wrapped.Error(), "io timeout")
	assert.ErrorContains(t, errors.Unwrap(wrapped), "io timeout")
}
