package chat

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/gebre-tech/backend/internal/domain"
	"github.com/gebre-tech/backend/internal/store"
)

// Actor is the acting user for administrative operations; Name feeds the
// human-readable system messages.
type Actor struct {
	ID   string
	Name string
}

func (a Actor) display() string {
	if a.Name != "" {
		return a.Name
	}
	return a.ID
}

// CreateGroup creates a group conversation owned by the actor. The owner is
// always seeded into the admin set, keeping owner ∈ admins ⊆ participants
// from the start.
func (e *Engine) CreateGroup(ctx context.Context, actor Actor, name string, memberIDs []string) (*domain.Conversation, error) {
	if name == "" {
		return nil, domain.NewValidationError("group name is required")
	}
	now := e.now().UTC()
	conv := &domain.Conversation{
		ID:           uuid.NewString(),
		Kind:         domain.KindGroup,
		Name:         name,
		Owner:        actor.ID,
		Admins:       []string{actor.ID},
		Participants: []string{actor.ID},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	for _, id := range memberIDs {
		if id != "" && !conv.IsParticipant(id) {
			conv.Participants = append(conv.Participants, id)
		}
	}
	if err := e.convs.Insert(ctx, conv); err != nil {
		return nil, domain.NewInternalError("failed to create group", err)
	}
	if err := e.systemMessage(ctx, conv, "%s created the group %q", actor.display(), name); err != nil {
		return nil, err
	}
	return conv, nil
}

// AddMember: admin or owner.
func (e *Engine) AddMember(ctx context.Context, conv *domain.Conversation, actor Actor, memberID string) error {
	if err := requireGroup(conv); err != nil {
		return err
	}
	if memberID == "" {
		return domain.NewValidationError("member_id is required")
	}
	if !conv.CanModerate(actor.ID) {
		return domain.NewAuthorizationError("only admins can add members")
	}
	if conv.IsParticipant(memberID) {
		return domain.NewValidationError("user is already a member")
	}
	if err := e.convs.AddParticipant(ctx, conv.ID, memberID); err != nil {
		return domain.NewInternalError("failed to add member", err)
	}
	return e.announce(ctx, conv, "%s added %s to the group", actor.display(), memberID)
}

// RemoveMember: admin or owner; the owner can never be removed.
func (e *Engine) RemoveMember(ctx context.Context, conv *domain.Conversation, actor Actor, memberID string) error {
	if err := requireGroup(conv); err != nil {
		return err
	}
	if memberID == "" {
		return domain.NewValidationError("member_id is required")
	}
	if !conv.CanModerate(actor.ID) {
		return domain.NewAuthorizationError("only admins can remove members")
	}
	if memberID == conv.Owner {
		return domain.NewAuthorizationError("the owner cannot be removed")
	}
	if !conv.IsParticipant(memberID) {
		return domain.NewNotFoundError("user is not a member")
	}
	if err := e.convs.RemoveParticipant(ctx, conv.ID, memberID); err != nil {
		return domain.NewInternalError("failed to remove member", err)
	}
	return e.announce(ctx, conv, "%s removed %s from the group", actor.display(), memberID)
}

// PromoteAdmin: owner only.
func (e *Engine) PromoteAdmin(ctx context.Context, conv *domain.Conversation, actor Actor, memberID string) error {
	if err := requireGroup(conv); err != nil {
		return err
	}
	if memberID == "" {
		return domain.NewValidationError("member_id is required")
	}
	if !conv.IsOwner(actor.ID) {
		return domain.NewAuthorizationError("only the owner can promote admins")
	}
	if !conv.IsParticipant(memberID) {
		return domain.NewNotFoundError("user is not a member")
	}
	if conv.IsAdmin(memberID) {
		return domain.NewValidationError("user is already an admin")
	}
	if err := e.convs.AddAdmin(ctx, conv.ID, memberID); err != nil {
		return domain.NewInternalError("failed to promote admin", err)
	}
	return e.announce(ctx, conv, "%s promoted %s to admin", actor.display(), memberID)
}

// DemoteAdmin: owner only; demoting the owner is rejected, never silently
// ignored, so owner ∈ admins holds after any sequence of promote/demote.
func (e *Engine) DemoteAdmin(ctx context.Context, conv *domain.Conversation, actor Actor, memberID string) error {
	if err := requireGroup(conv); err != nil {
		return err
	}
	if memberID == "" {
		return domain.NewValidationError("member_id is required")
	}
	if !conv.IsOwner(actor.ID) {
		return domain.NewAuthorizationError("only the owner can demote admins")
	}
	if memberID == conv.Owner {
		return domain.NewAuthorizationError("the owner cannot be demoted")
	}
	if !conv.IsAdmin(memberID) {
		return domain.NewValidationError("user is not an admin")
	}
	if err := e.convs.RemoveAdmin(ctx, conv.ID, memberID); err != nil {
		return domain.NewInternalError("failed to demote admin", err)
	}
	return e.announce(ctx, conv, "%s demoted %s from admin", actor.display(), memberID)
}

// TransferOwnership: owner only; the target must already be a member. The
// new owner is added to the admin set if absent and the old owner stays an
// admin.
func (e *Engine) TransferOwnership(ctx context.Context, conv *domain.Conversation, actor Actor, memberID string) error {
	if err := requireGroup(conv); err != nil {
		return err
	}
	if memberID == "" {
		return domain.NewValidationError("member_id is required")
	}
	if !conv.IsOwner(actor.ID) {
		return domain.NewAuthorizationError("only the owner can transfer ownership")
	}
	if !conv.IsParticipant(memberID) {
		return domain.NewNotFoundError("user is not a member")
	}
	if memberID == conv.Owner {
		return domain.NewValidationError("user is already the owner")
	}
	if !conv.IsAdmin(memberID) {
		if err := e.convs.AddAdmin(ctx, conv.ID, memberID); err != nil {
			return domain.NewInternalError("failed to transfer ownership", err)
		}
	}
	if err := e.convs.SetOwner(ctx, conv.ID, memberID); err != nil {
		return domain.NewInternalError("failed to transfer ownership", err)
	}
	return e.announce(ctx, conv, "%s transferred ownership to %s", actor.display(), memberID)
}

// Leave: any member except the owner, who must transfer first.
func (e *Engine) Leave(ctx context.Context, conv *domain.Conversation, actor Actor) error {
	if err := requireGroup(conv); err != nil {
		return err
	}
	if !conv.IsParticipant(actor.ID) {
		return domain.NewNotFoundError("user is not a member")
	}
	if conv.IsOwner(actor.ID) {
		return domain.NewAuthorizationError("the owner must transfer ownership before leaving")
	}
	if err := e.convs.RemoveParticipant(ctx, conv.ID, actor.ID); err != nil {
		return domain.NewInternalError("failed to leave group", err)
	}
	return e.announce(ctx, conv, "%s left the group", actor.display())
}

// DeleteGroup: owner only. Broadcasts `group_deleted` and removes the
// conversation record; message history is left to the store's retention.
func (e *Engine) DeleteGroup(ctx context.Context, conv *domain.Conversation, actor Actor) error {
	if err := requireGroup(conv); err != nil {
		return err
	}
	if !conv.IsOwner(actor.ID) {
		return domain.NewAuthorizationError("only the owner can delete the group")
	}
	if err := e.convs.Delete(ctx, conv.ID); err != nil {
		return domain.NewInternalError("failed to delete group", err)
	}
	ev := domain.NewEvent(domain.EventGroupDeleted, conv.ID)
	ev.SenderID = actor.ID
	return e.publish(ctx, conv.ID, ev)
}

func requireGroup(conv *domain.Conversation) error {
	if conv.Kind != domain.KindGroup {
		return domain.NewValidationError("group actions are only available in group conversations")
	}
	return nil
}

// announce reloads the conversation, appends the system message and
// broadcasts the updated snapshot. Every successful administrative action
// goes through here.
func (e *Engine) announce(ctx context.Context, conv *domain.Conversation, format string, args ...any) error {
	fresh, err := e.convs.Get(ctx, conv.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.NewNotFoundError("conversation not found")
		}
		return domain.NewInternalError("failed to reload conversation", err)
	}
	*conv = *fresh

	if err := e.systemMessage(ctx, conv, format, args...); err != nil {
		return err
	}
	ev := domain.NewEvent(domain.EventGroupUpdated, conv.ID)
	ev.Conversation = fresh
	return e.publish(ctx, conv.ID, ev)
}
