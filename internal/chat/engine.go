// Package chat holds the message lifecycle engine and the membership and
// permission model. The engine validates and applies operations against the
// store, then publishes the resulting event to the conversation channel.
package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gebre-tech/backend/internal/bus"
	"github.com/gebre-tech/backend/internal/dedup"
	"github.com/gebre-tech/backend/internal/domain"
	"github.com/gebre-tech/backend/internal/notify"
	"github.com/gebre-tech/backend/internal/store"
)

type Engine struct {
	msgs     store.MessageStore
	convs    store.ConversationStore
	bus      bus.Bus
	ledger   dedup.Ledger
	notifier notify.Notifier // optional
	log      *zap.SugaredLogger
	now      func() time.Time
}

func NewEngine(msgs store.MessageStore, convs store.ConversationStore, b bus.Bus, ledger dedup.Ledger, notifier notify.Notifier, log *zap.SugaredLogger) *Engine {
	return &Engine{
		msgs:     msgs,
		convs:    convs,
		bus:      b,
		ledger:   ledger,
		notifier: notifier,
		log:      log,
		now:      time.Now,
	}
}

type CreateInput struct {
	ClientID   string
	Kind       domain.MessageKind
	Content    string
	Envelope   *domain.CryptoEnvelope
	Attachment *domain.Attachment
	ParentID   string
}

// CreateMessage persists a new message and fans it out. A client id already
// marked in the ledger means the client retried: the create is silently
// dropped with no second persistence and no second broadcast. The returned
// ack event maps the client id to the server-assigned id and goes only to
// the originating session; nil, nil means duplicate-suppressed.
func (e *Engine) CreateMessage(ctx context.Context, conv *domain.Conversation, senderID string, in CreateInput) (*domain.Event, error) {
	if in.ClientID == "" {
		return nil, domain.NewValidationError("message_id is required")
	}
	if in.Content == "" && in.Attachment == nil {
		return nil, domain.NewValidationError("message cannot be empty")
	}
	if !conv.IsParticipant(senderID) {
		return nil, domain.NewAuthorizationError("not a participant of this conversation")
	}

	fresh, err := e.ledger.MarkIfNew(ctx, conv.ID, senderID, in.ClientID)
	if err != nil {
		return nil, domain.NewInternalError("idempotency check failed", err)
	}
	if !fresh {
		e.log.Debugw("duplicate create suppressed",
			"conversation", conv.ID, "sender", senderID, "client_id", in.ClientID)
		return nil, nil
	}

	kind := in.Kind
	if kind == "" {
		kind = domain.KindText
		if in.Attachment != nil {
			kind = domain.KindFile
		}
	}
	now := e.now().UTC()
	sender := senderID
	m := &domain.Message{
		ID:             uuid.NewString(),
		ClientID:       in.ClientID,
		ConversationID: conv.ID,
		SenderID:       &sender,
		Kind:           kind,
		Content:        in.Content,
		Envelope:       in.Envelope,
		Attachment:     in.Attachment,
		DeliveredTo:    append([]string(nil), conv.Participants...),
		ReadBy:         []domain.ReadReceipt{},
		CreatedAt:      now,
	}
	if in.ParentID != "" {
		parent := in.ParentID
		m.ParentID = &parent
	}

	if err := e.msgs.Insert(ctx, m); err != nil {
		return nil, domain.NewInternalError("failed to save message", err)
	}
	e.notifyPersisted(ctx, m)

	ev := domain.NewEvent(domain.EventMessage, conv.ID)
	ev.Message = m
	ev.SenderID = senderID
	if err := e.publish(ctx, conv.ID, ev); err != nil {
		// the write already happened; report, never retry here. Retrying
		// is the client's job and the ledger makes it safe.
		return nil, err
	}

	ack := domain.NewEvent(domain.EventAck, conv.ID)
	ack.ClientID = in.ClientID
	ack.MessageID = m.ID
	ack.Message = m
	return ack, nil
}

// EditMessage replaces the body. Only the original sender may edit, or a
// group admin/owner. The full message is republished under the `message`
// type; clients replace-by-id on receipt.
func (e *Engine) EditMessage(ctx context.Context, conv *domain.Conversation, actorID, messageID, content string, env *domain.CryptoEnvelope) error {
	if messageID == "" {
		return domain.NewValidationError("message_id is required")
	}
	if content == "" {
		return domain.NewValidationError("message cannot be empty")
	}
	m, err := e.messageInConversation(ctx, conv, messageID)
	if err != nil {
		return err
	}
	if m.Deleted {
		return domain.NewValidationError("cannot edit a deleted message")
	}
	if !conv.CanEditOrDelete(actorID, m) {
		return domain.NewAuthorizationError("not allowed to edit this message")
	}

	updated, err := e.msgs.SetContent(ctx, messageID, content, env, e.now().UTC())
	if err != nil {
		return domain.NewInternalError("failed to edit message", err)
	}

	ev := domain.NewEvent(domain.EventMessage, conv.ID)
	ev.Message = updated
	ev.SenderID = actorID
	return e.publish(ctx, conv.ID, ev)
}

// DeleteMessage tombstones: the record keeps its id and conversation, the
// body is replaced, and reactions/read state are frozen. The broadcast uses
// the distinct `message_deleted` type. Deleting a tombstone is a no-op.
func (e *Engine) DeleteMessage(ctx context.Context, conv *domain.Conversation, actorID, messageID string) error {
	if messageID == "" {
		return domain.NewValidationError("message_id is required")
	}
	m, err := e.messageInConversation(ctx, conv, messageID)
	if err != nil {
		return err
	}
	if m.Deleted {
		return nil
	}
	if !conv.CanEditOrDelete(actorID, m) {
		return domain.NewAuthorizationError("not allowed to delete this message")
	}

	updated, err := e.msgs.Tombstone(ctx, messageID)
	if err != nil {
		return domain.NewInternalError("failed to delete message", err)
	}

	ev := domain.NewEvent(domain.EventMessageDeleted, conv.ID)
	ev.MessageID = messageID
	ev.Message = updated
	ev.SenderID = actorID
	return e.publish(ctx, conv.ID, ev)
}

// React records the actor's latest reaction; a second reaction from the same
// user overwrites rather than appends. An empty emoji clears it.
func (e *Engine) React(ctx context.Context, conv *domain.Conversation, actorID, messageID, emoji string) error {
	if messageID == "" {
		return domain.NewValidationError("message_id is required")
	}
	if !conv.IsParticipant(actorID) {
		return domain.NewAuthorizationError("not a participant of this conversation")
	}
	m, err := e.messageInConversation(ctx, conv, messageID)
	if err != nil {
		return err
	}
	if m.Deleted {
		return domain.NewValidationError("cannot react to a deleted message")
	}

	updated, err := e.msgs.SetReaction(ctx, messageID, actorID, emoji)
	if err != nil {
		return domain.NewInternalError("failed to set reaction", err)
	}

	ev := domain.NewEvent(domain.EventMessage, conv.ID)
	ev.Message = updated
	ev.SenderID = actorID
	return e.publish(ctx, conv.ID, ev)
}

// MarkRead adds the actor to the read-by set. Adding twice is a no-op. The
// broadcast is a `read_receipt` event so receipt-only updates don't appear
// as new messages in client history.
func (e *Engine) MarkRead(ctx context.Context, conv *domain.Conversation, actorID, messageID string) error {
	if messageID == "" {
		return domain.NewValidationError("message_id is required")
	}
	if !conv.IsParticipant(actorID) {
		return domain.NewAuthorizationError("not a participant of this conversation")
	}
	m, err := e.messageInConversation(ctx, conv, messageID)
	if err != nil {
		return err
	}
	if m.Deleted {
		return domain.NewValidationError("read state of a deleted message is frozen")
	}

	at := e.now().UTC()
	if _, err := e.msgs.AddReadReceipt(ctx, messageID, domain.ReadReceipt{UserID: actorID, At: at}); err != nil {
		return domain.NewInternalError("failed to record read receipt", err)
	}

	ev := domain.NewEvent(domain.EventReadReceipt, conv.ID)
	ev.MessageID = messageID
	ev.UserID = actorID
	ev.ReadAt = &at
	return e.publish(ctx, conv.ID, ev)
}

// SetPinned pins or unpins a message. Group-only, admin/owner-only; the
// conversation's pinned reference is kept in step with the message flag.
func (e *Engine) SetPinned(ctx context.Context, conv *domain.Conversation, actorID, messageID string, pinned bool) error {
	if messageID == "" {
		return domain.NewValidationError("message_id is required")
	}
	if conv.Kind != domain.KindGroup {
		return domain.NewValidationError("pinning is only available in group conversations")
	}
	if !conv.CanModerate(actorID) {
		return domain.NewAuthorizationError("only admins can pin or unpin messages")
	}
	m, err := e.messageInConversation(ctx, conv, messageID)
	if err != nil {
		return err
	}
	if m.Deleted {
		return domain.NewValidationError("cannot pin a deleted message")
	}

	updated, err := e.msgs.SetPinned(ctx, messageID, pinned)
	if err != nil {
		return domain.NewInternalError("failed to update pin", err)
	}
	var ref *string
	if pinned {
		ref = &messageID
	}
	if err := e.convs.SetPinnedMessage(ctx, conv.ID, ref); err != nil {
		return domain.NewInternalError("failed to update pinned reference", err)
	}
	conv.PinnedMessageID = ref

	ev := domain.NewEvent(domain.EventMessage, conv.ID)
	ev.Message = updated
	ev.SenderID = actorID
	return e.publish(ctx, conv.ID, ev)
}

// Typing is ephemeral: never persisted, just rebroadcast with the acting
// user's identity.
func (e *Engine) Typing(ctx context.Context, conv *domain.Conversation, actorID string) error {
	if !conv.IsParticipant(actorID) {
		return domain.NewAuthorizationError("not a participant of this conversation")
	}
	ev := domain.NewEvent(domain.EventTyping, conv.ID)
	ev.SenderID = actorID
	return e.publish(ctx, conv.ID, ev)
}

// History answers a paginated history request. The reply goes only to the
// requesting session, never to the channel.
func (e *Engine) History(ctx context.Context, conv *domain.Conversation, actorID string, page, pageSize int) (*domain.Event, error) {
	if !conv.IsParticipant(actorID) {
		return nil, domain.NewAuthorizationError("not a participant of this conversation")
	}
	msgs, err := e.msgs.History(ctx, conv.ID, page, pageSize)
	if err != nil {
		return nil, domain.NewInternalError("failed to load history", err)
	}
	ev := domain.NewEvent(domain.EventHistory, conv.ID)
	ev.Messages = msgs
	return ev, nil
}

// Refresh reloads conv in place. Long-lived sessions hold a snapshot from
// bind time; refreshing before permission-sensitive actions means a demoted
// admin or removed member loses their powers on the next action, not the
// next reconnect.
func (e *Engine) Refresh(ctx context.Context, conv *domain.Conversation) error {
	fresh, err := e.convs.Get(ctx, conv.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.NewNotFoundError("conversation not found")
		}
		return domain.NewInternalError("failed to reload conversation", err)
	}
	*conv = *fresh
	return nil
}

func (e *Engine) messageInConversation(ctx context.Context, conv *domain.Conversation, id string) (*domain.Message, error) {
	m, err := e.msgs.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.NewNotFoundError("message not found")
		}
		return nil, domain.NewInternalError("failed to load message", err)
	}
	if m.ConversationID != conv.ID {
		return nil, domain.NewNotFoundError("message not found")
	}
	return m, nil
}

func (e *Engine) publish(ctx context.Context, conversationID string, ev *domain.Event) error {
	if err := e.bus.Publish(ctx, bus.ConversationChannel(conversationID), ev); err != nil {
		e.log.Errorw("broadcast failed", "conversation", conversationID, "event", ev.Type, "err", err)
		return domain.NewInternalError("broadcast failed", err)
	}
	return nil
}

func (e *Engine) notifyPersisted(ctx context.Context, m *domain.Message) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.MessagePersisted(ctx, m); err != nil {
		e.log.Warnw("notification publish failed", "message", m.ID, "err", err)
	}
}

// systemMessage appends a sender-less message narrating an administrative
// action and broadcasts it.
func (e *Engine) systemMessage(ctx context.Context, conv *domain.Conversation, format string, args ...any) error {
	m := &domain.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Kind:           domain.KindSystem,
		Content:        fmt.Sprintf(format, args...),
		DeliveredTo:    append([]string(nil), conv.Participants...),
		ReadBy:         []domain.ReadReceipt{},
		CreatedAt:      e.now().UTC(),
	}
	if err := e.msgs.Insert(ctx, m); err != nil {
		return domain.NewInternalError("failed to save system message", err)
	}
	ev := domain.NewEvent(domain.EventMessage, conv.ID)
	ev.Message = m
	return e.publish(ctx, conv.ID, ev)
}
