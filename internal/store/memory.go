package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gebre-tech/backend/internal/domain"
)

// MemoryMessageStore implements MessageStore in process memory for tests and
// single-node development.
type MemoryMessageStore struct {
	mu       sync.RWMutex
	messages map[string]*domain.Message
}

func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{messages: make(map[string]*domain.Message)}
}

func cloneMessage(m *domain.Message) *domain.Message {
	cp := *m
	if m.Envelope != nil {
		env := *m.Envelope
		cp.Envelope = &env
	}
	if m.Attachment != nil {
		att := *m.Attachment
		cp.Attachment = &att
	}
	if m.Reactions != nil {
		cp.Reactions = make(map[string]string, len(m.Reactions))
		for k, v := range m.Reactions {
			cp.Reactions[k] = v
		}
	}
	cp.DeliveredTo = append([]string(nil), m.DeliveredTo...)
	cp.ReadBy = append([]domain.ReadReceipt(nil), m.ReadBy...)
	return &cp
}

func (s *MemoryMessageStore) Insert(ctx context.Context, m *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[m.ID]; ok {
		return ErrDuplicate
	}
	s.messages[m.ID] = cloneMessage(m)
	return nil
}

func (s *MemoryMessageStore) Get(ctx context.Context, id string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneMessage(m), nil
}

func (s *MemoryMessageStore) mutate(id string, f func(*domain.Message)) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	f(m)
	return cloneMessage(m), nil
}

func (s *MemoryMessageStore) SetContent(ctx context.Context, id, content string, env *domain.CryptoEnvelope, editedAt time.Time) (*domain.Message, error) {
	return s.mutate(id, func(m *domain.Message) {
		m.Content = content
		if env != nil {
			m.Envelope = env
		}
		at := editedAt
		m.EditedAt = &at
	})
}

func (s *MemoryMessageStore) Tombstone(ctx context.Context, id string) (*domain.Message, error) {
	return s.mutate(id, func(m *domain.Message) {
		m.Deleted = true
		m.Content = domain.TombstoneContent
		m.Attachment = nil
		m.Envelope = nil
	})
}

func (s *MemoryMessageStore) SetReaction(ctx context.Context, id, userID, emoji string) (*domain.Message, error) {
	return s.mutate(id, func(m *domain.Message) {
		if emoji == "" {
			delete(m.Reactions, userID)
			return
		}
		if m.Reactions == nil {
			m.Reactions = make(map[string]string)
		}
		m.Reactions[userID] = emoji
	})
}

func (s *MemoryMessageStore) AddReadReceipt(ctx context.Context, id string, r domain.ReadReceipt) (*domain.Message, error) {
	return s.mutate(id, func(m *domain.Message) {
		if !m.HasRead(r.UserID) {
			m.ReadBy = append(m.ReadBy, r)
		}
	})
}

func (s *MemoryMessageStore) SetPinned(ctx context.Context, id string, pinned bool) (*domain.Message, error) {
	return s.mutate(id, func(m *domain.Message) {
		m.Pinned = pinned
	})
}

func (s *MemoryMessageStore) History(ctx context.Context, conversationID string, page, pageSize int) ([]*domain.Message, error) {
	page, pageSize = ClampPage(page, pageSize)

	s.mu.RLock()
	var all []*domain.Message
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			all = append(all, cloneMessage(m))
		}
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	start := (page - 1) * pageSize
	if start >= len(all) {
		return nil, nil
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], nil
}

// MemoryConversationStore implements ConversationStore in process memory.
// It enforces the same unique direct-pair constraint as the Mongo store so
// resolver races behave identically in tests.
type MemoryConversationStore struct {
	mu    sync.RWMutex
	convs map[string]*domain.Conversation
	pairs map[string]string // pair_key -> conversation id
}

func NewMemoryConversationStore() *MemoryConversationStore {
	return &MemoryConversationStore{
		convs: make(map[string]*domain.Conversation),
		pairs: make(map[string]string),
	}
}

func cloneConversation(c *domain.Conversation) *domain.Conversation {
	cp := *c
	cp.Participants = append([]string(nil), c.Participants...)
	cp.Admins = append([]string(nil), c.Admins...)
	if c.PinnedMessageID != nil {
		id := *c.PinnedMessageID
		cp.PinnedMessageID = &id
	}
	return &cp
}

func (s *MemoryConversationStore) Insert(ctx context.Context, c *domain.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convs[c.ID]; ok {
		return ErrDuplicate
	}
	if c.Kind == domain.KindDirect && c.PairKey != "" {
		if _, ok := s.pairs[c.PairKey]; ok {
			return ErrDuplicate
		}
		s.pairs[c.PairKey] = c.ID
	}
	s.convs[c.ID] = cloneConversation(c)
	return nil
}

func (s *MemoryConversationStore) Get(ctx context.Context, id string) (*domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneConversation(c), nil
}

func (s *MemoryConversationStore) FindDirectByPairKey(ctx context.Context, pairKey string) (*domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.pairs[pairKey]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneConversation(s.convs[id]), nil
}

func (s *MemoryConversationStore) ListForUser(ctx context.Context, userID string, kind domain.ConversationKind) ([]*domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Conversation
	for _, c := range s.convs {
		if kind != "" && c.Kind != kind {
			continue
		}
		if c.IsParticipant(userID) {
			out = append(out, cloneConversation(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryConversationStore) mutate(id string, f func(*domain.Conversation)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok {
		return ErrNotFound
	}
	f(c)
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func addToSet(set []string, v string) []string {
	for _, x := range set {
		if x == v {
			return set
		}
	}
	return append(set, v)
}

func removeFromSet(set []string, v string) []string {
	out := make([]string, 0, len(set))
	for _, x := range set {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

func (s *MemoryConversationStore) AddParticipant(ctx context.Context, id, userID string) error {
	return s.mutate(id, func(c *domain.Conversation) {
		c.Participants = addToSet(c.Participants, userID)
	})
}

func (s *MemoryConversationStore) RemoveParticipant(ctx context.Context, id, userID string) error {
	return s.mutate(id, func(c *domain.Conversation) {
		c.Participants = removeFromSet(c.Participants, userID)
		c.Admins = removeFromSet(c.Admins, userID)
	})
}

func (s *MemoryConversationStore) AddAdmin(ctx context.Context, id, userID string) error {
	return s.mutate(id, func(c *domain.Conversation) {
		c.Admins = addToSet(c.Admins, userID)
	})
}

func (s *MemoryConversationStore) RemoveAdmin(ctx context.Context, id, userID string) error {
	return s.mutate(id, func(c *domain.Conversation) {
		c.Admins = removeFromSet(c.Admins, userID)
	})
}

func (s *MemoryConversationStore) SetOwner(ctx context.Context, id, userID string) error {
	return s.mutate(id, func(c *domain.Conversation) {
		c.Owner = userID
	})
}

func (s *MemoryConversationStore) SetPinnedMessage(ctx context.Context, id string, messageID *string) error {
	return s.mutate(id, func(c *domain.Conversation) {
		c.PinnedMessageID = messageID
	})
}

func (s *MemoryConversationStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok {
		return ErrNotFound
	}
	if c.PairKey != "" {
		delete(s.pairs, c.PairKey)
	}
	delete(s.convs, id)
	return nil
}
