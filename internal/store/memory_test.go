package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gebre-tech/backend/internal/domain"
)

func seedMessages(t *testing.T, s *MemoryMessageStore, conversationID string, n int) []*domain.Message {
	t.Helper()
	base := time.Now().UTC()
	out := make([]*domain.Message, 0, n)
	for i := 0; i < n; i++ {
		sender := "alice"
		m := &domain.Message{
			ID:             fmt.Sprintf("m%03d", i),
			ConversationID: conversationID,
			SenderID:       &sender,
			Kind:           domain.KindText,
			Content:        fmt.Sprintf("message %d", i),
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, s.Insert(context.Background(), m))
		out = append(out, m)
	}
	return out
}

func TestHistoryPaging(t *testing.T) {
	s := NewMemoryMessageStore()
	seedMessages(t, s, "conv", 7)
	seedMessages(t, s, "other", 2)

	page1, err := s.History(context.Background(), "conv", 1, 3)
	require.NoError(t, err)
	require.Len(t, page1, 3)
	assert.Equal(t, "message 0", page1[0].Content, "history is chronological")
	assert.Equal(t, "message 2", page1[2].Content)

	page3, err := s.History(context.Background(), "conv", 3, 3)
	require.NoError(t, err)
	assert.Len(t, page3, 1)

	empty, err := s.History(context.Background(), "conv", 9, 3)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestClampPage(t *testing.T) {
	page, size := ClampPage(0, 0)
	assert.Equal(t, 1, page)
	assert.Equal(t, DefaultPageSize, size)

	_, size = ClampPage(1, 10_000)
	assert.Equal(t, MaxPageSize, size)

	page, size = ClampPage(4, 25)
	assert.Equal(t, 4, page)
	assert.Equal(t, 25, size)
}

func TestMutationsReturnUpdatedRecord(t *testing.T) {
	s := NewMemoryMessageStore()
	msgs := seedMessages(t, s, "conv", 1)
	id := msgs[0].ID

	edited, err := s.SetContent(context.Background(), id, "new body", nil, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, "new body", edited.Content)
	assert.NotNil(t, edited.EditedAt)

	reacted, err := s.SetReaction(context.Background(), id, "bob", "👍")
	require.NoError(t, err)
	assert.Equal(t, "👍", reacted.Reactions["bob"])

	tombed, err := s.Tombstone(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, tombed.Deleted)
	assert.Equal(t, domain.TombstoneContent, tombed.Content)
	assert.Nil(t, tombed.Attachment)
	assert.Equal(t, "👍", tombed.Reactions["bob"], "tombstoning freezes reactions in place")

	_, err = s.SetContent(context.Background(), "missing", "x", nil, time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoredRecordsAreIsolated(t *testing.T) {
	s := NewMemoryMessageStore()
	msgs := seedMessages(t, s, "conv", 1)

	got, err := s.Get(context.Background(), msgs[0].ID)
	require.NoError(t, err)
	got.Content = "mutated by caller"

	again, err := s.Get(context.Background(), msgs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "message 0", again.Content, "callers must not reach the store's copy")
}

func TestConversationMembershipMutations(t *testing.T) {
	s := NewMemoryConversationStore()
	conv := &domain.Conversation{
		ID:           "g1",
		Kind:         domain.KindGroup,
		Owner:        "carol",
		Admins:       []string{"carol", "dave"},
		Participants: []string{"carol", "dave", "erin"},
	}
	require.NoError(t, s.Insert(context.Background(), conv))

	require.NoError(t, s.AddParticipant(context.Background(), "g1", "frank"))
	require.NoError(t, s.AddParticipant(context.Background(), "g1", "frank")) // set semantics

	got, err := s.Get(context.Background(), "g1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"carol", "dave", "erin", "frank"}, got.Participants)

	// removing a participant strips admin rights with it
	require.NoError(t, s.RemoveParticipant(context.Background(), "g1", "dave"))
	got, err = s.Get(context.Background(), "g1")
	require.NoError(t, err)
	assert.NotContains(t, got.Participants, "dave")
	assert.NotContains(t, got.Admins, "dave")

	require.NoError(t, s.SetOwner(context.Background(), "g1", "erin"))
	got, err = s.Get(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, "erin", got.Owner)

	assert.ErrorIs(t, s.AddParticipant(context.Background(), "missing", "x"), ErrNotFound)
}

func TestDirectPairConstraint(t *testing.T) {
	s := NewMemoryConversationStore()
	conv := &domain.Conversation{
		ID:           "d1",
		Kind:         domain.KindDirect,
		PairKey:      domain.DirectPairKey("alice", "bob"),
		Participants: []string{"alice", "bob"},
	}
	require.NoError(t, s.Insert(context.Background(), conv))

	dup := &domain.Conversation{
		ID:           "d2",
		Kind:         domain.KindDirect,
		PairKey:      domain.DirectPairKey("bob", "alice"),
		Participants: []string{"alice", "bob"},
	}
	assert.ErrorIs(t, s.Insert(context.Background(), dup), ErrDuplicate)

	found, err := s.FindDirectByPairKey(context.Background(), domain.DirectPairKey("alice", "bob"))
	require.NoError(t, err)
	assert.Equal(t, "d1", found.ID)

	// deleting releases the pair key for re-creation
	require.NoError(t, s.Delete(context.Background(), "d1"))
	_, err = s.FindDirectByPairKey(context.Background(), domain.DirectPairKey("alice", "bob"))
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, s.Insert(context.Background(), dup))
}
