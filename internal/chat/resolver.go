package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gebre-tech/backend/internal/domain"
	"github.com/gebre-tech/backend/internal/store"
)

// Mode is the conversation kind an entry point declares. Direct and group
// chats historically had separate connection endpoints; a single session
// type checks the declared mode against the actual kind once, at resolve
// time.
type Mode string

const (
	ModeDirect Mode = "direct"
	ModeGroup  Mode = "group"
	// ModeAny skips the kind check; REST endpoints that work on both kinds
	// resolve with it.
	ModeAny Mode = ""
)

// Resolution failures map to distinct close codes in the session layer.
var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNotParticipant       = errors.New("not a participant")
	ErrWrongKind            = errors.New("wrong conversation kind for this entry point")
	ErrNoMemberships        = errors.New("no group memberships")
)

// Target identifies what a connection wants to bind to: an explicit
// conversation id, or a peer user id for implicit direct conversations.
type Target struct {
	ConversationID string
	PeerID         string
}

type Resolver struct {
	convs store.ConversationStore
	now   func() time.Time
}

func NewResolver(convs store.ConversationStore) *Resolver {
	return &Resolver{convs: convs, now: time.Now}
}

// Resolve loads or creates the conversation for t and verifies userID is a
// participant whose entry point matches the conversation kind.
func (r *Resolver) Resolve(ctx context.Context, userID string, t Target, mode Mode) (*domain.Conversation, error) {
	if t.ConversationID != "" {
		return r.resolveExplicit(ctx, userID, t.ConversationID, mode)
	}
	if t.PeerID != "" {
		if mode != ModeDirect {
			return nil, ErrWrongKind
		}
		return r.resolveDirect(ctx, userID, t.PeerID)
	}
	return nil, domain.NewValidationError("no conversation target")
}

func (r *Resolver) resolveExplicit(ctx context.Context, userID, conversationID string, mode Mode) (*domain.Conversation, error) {
	conv, err := r.convs.Get(ctx, conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if !conv.IsParticipant(userID) {
		return nil, ErrNotParticipant
	}
	if (mode == ModeDirect && conv.Kind != domain.KindDirect) ||
		(mode == ModeGroup && conv.Kind != domain.KindGroup) {
		return nil, ErrWrongKind
	}
	return conv, nil
}

// resolveDirect finds the direct conversation for {userID, peerID}, creating
// it on first contact. Two connections racing to create the same pair's
// conversation are resolved by the unique pair-key constraint: the loser
// falls back to a lookup, so the pair never ends up with two conversations.
func (r *Resolver) resolveDirect(ctx context.Context, userID, peerID string) (*domain.Conversation, error) {
	if peerID == userID {
		return nil, domain.NewValidationError("cannot open a direct conversation with yourself")
	}
	pairKey := domain.DirectPairKey(userID, peerID)

	conv, err := r.convs.FindDirectByPairKey(ctx, pairKey)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("find direct conversation: %w", err)
	}

	now := r.now().UTC()
	conv = &domain.Conversation{
		ID:           uuid.NewString(),
		Kind:         domain.KindDirect,
		PairKey:      pairKey,
		Participants: []string{userID, peerID},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err = r.convs.Insert(ctx, conv)
	if err == nil {
		return conv, nil
	}
	if errors.Is(err, store.ErrDuplicate) {
		return r.convs.FindDirectByPairKey(ctx, pairKey)
	}
	return nil, fmt.Errorf("create direct conversation: %w", err)
}

// Conversations lists the conversations userID participates in, optionally
// filtered by kind.
func (r *Resolver) Conversations(ctx context.Context, userID string, kind domain.ConversationKind) ([]*domain.Conversation, error) {
	convs, err := r.convs.ListForUser(ctx, userID, kind)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return convs, nil
}

// MembershipChannels lists the group conversations userID belongs to, for
// the "join all my groups" connection variant.
func (r *Resolver) MembershipChannels(ctx context.Context, userID string) ([]*domain.Conversation, error) {
	convs, err := r.convs.ListForUser(ctx, userID, domain.KindGroup)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	if len(convs) == 0 {
		return nil, ErrNoMemberships
	}
	return convs, nil
}
