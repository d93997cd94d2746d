// Package store is the persistence boundary. The engine consumes these
// interfaces only; MongoDB backs them in production and MemoryStore backs
// tests and single-node development.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/gebre-tech/backend/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrDuplicate signals a unique-constraint conflict, e.g. two
	// connections racing to create the same direct-pair conversation.
	ErrDuplicate = errors.New("duplicate")
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

type MessageStore interface {
	Insert(ctx context.Context, m *domain.Message) error
	Get(ctx context.Context, id string) (*domain.Message, error)
	// SetContent applies an edit and returns the updated record.
	SetContent(ctx context.Context, id, content string, env *domain.CryptoEnvelope, editedAt time.Time) (*domain.Message, error)
	// Tombstone marks the message deleted and replaces its body. Reactions
	// and read state are frozen as-is.
	Tombstone(ctx context.Context, id string) (*domain.Message, error)
	// SetReaction records userID's latest reaction; a second reaction from
	// the same user overwrites. Empty emoji removes the reaction.
	SetReaction(ctx context.Context, id, userID, emoji string) (*domain.Message, error)
	// AddReadReceipt is idempotent: adding the same user twice is a no-op.
	AddReadReceipt(ctx context.Context, id string, r domain.ReadReceipt) (*domain.Message, error)
	SetPinned(ctx context.Context, id string, pinned bool) (*domain.Message, error)
	// History returns page (1-based) of pageSize messages in chronological
	// order.
	History(ctx context.Context, conversationID string, page, pageSize int) ([]*domain.Message, error)
}

type ConversationStore interface {
	// Insert fails with ErrDuplicate when a direct conversation with the
	// same pair key already exists.
	Insert(ctx context.Context, c *domain.Conversation) error
	Get(ctx context.Context, id string) (*domain.Conversation, error)
	FindDirectByPairKey(ctx context.Context, pairKey string) (*domain.Conversation, error)
	ListForUser(ctx context.Context, userID string, kind domain.ConversationKind) ([]*domain.Conversation, error)
	AddParticipant(ctx context.Context, id, userID string) error
	// RemoveParticipant also drops the user from the admin set.
	RemoveParticipant(ctx context.Context, id, userID string) error
	AddAdmin(ctx context.Context, id, userID string) error
	RemoveAdmin(ctx context.Context, id, userID string) error
	SetOwner(ctx context.Context, id, userID string) error
	SetPinnedMessage(ctx context.Context, id string, messageID *string) error
	Delete(ctx context.Context, id string) error
}

// ClampPage normalizes client-supplied pagination.
func ClampPage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}
