package ws

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gebre-tech/backend/internal/bus"
	"github.com/gebre-tech/backend/internal/chat"
	"github.com/gebre-tech/backend/internal/dedup"
	"github.com/gebre-tech/backend/internal/domain"
	"github.com/gebre-tech/backend/internal/media"
	"github.com/gebre-tech/backend/internal/store"
)

type env struct {
	engine *chat.Engine
	msgs   *store.MemoryMessageStore
	convs  *store.MemoryConversationStore
	hub    *bus.Hub
}

func newEnv(t *testing.T) *env {
	t.Helper()
	msgs := store.NewMemoryMessageStore()
	convs := store.NewMemoryConversationStore()
	hub := bus.NewHub()
	engine := chat.NewEngine(msgs, convs, hub, dedup.NewMemoryLedger(time.Hour), nil, zap.NewNop().Sugar())
	return &env{engine: engine, msgs: msgs, convs: convs, hub: hub}
}

func (e *env) directConv(t *testing.T, a, b string) *domain.Conversation {
	t.Helper()
	now := time.Now().UTC()
	conv := &domain.Conversation{
		ID:           uuid.NewString(),
		Kind:         domain.KindDirect,
		PairKey:      domain.DirectPairKey(a, b),
		Participants: []string{a, b},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, e.convs.Insert(context.Background(), conv))
	return conv
}

func (e *env) groupConv(t *testing.T, owner string, members ...string) *domain.Conversation {
	t.Helper()
	now := time.Now().UTC()
	conv := &domain.Conversation{
		ID:           uuid.NewString(),
		Kind:         domain.KindGroup,
		Name:         "g",
		Owner:        owner,
		Admins:       []string{owner},
		Participants: append([]string{owner}, members...),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, e.convs.Insert(context.Background(), conv))
	return conv
}

func (e *env) session(userID string, uploader media.Uploader) *Session {
	return NewSession(nil, userID, userID, e.engine, uploader, e.hub, zap.NewNop().Sugar(), Config{})
}

func drain(s *Session) []*domain.Event {
	var out []*domain.Event
	for {
		select {
		case ev := <-s.send:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func typed(events []*domain.Event, t domain.EventType) []*domain.Event {
	var out []*domain.Event
	for _, ev := range events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func frame(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

type fakeUploader struct {
	key   string
	ctype string
	data  []byte
}

func (f *fakeUploader) Upload(_ context.Context, key, contentType string, data []byte) (*domain.Attachment, error) {
	f.key, f.ctype, f.data = key, contentType, data
	return &domain.Attachment{URL: "https://files.test/" + key}, nil
}

func TestTypedMessageFrame(t *testing.T) {
	e := newEnv(t)
	conv := e.directConv(t, "alice", "bob")
	s := e.session("alice", nil)
	s.bind(conv, true)
	defer s.Close()

	s.handleText(frame(t, map[string]any{
		"type": "message", "message": "hello", "message_id": "c1",
	}))

	events := drain(s)
	acks := typed(events, domain.EventAck)
	require.Len(t, acks, 1)
	assert.Equal(t, "c1", acks[0].ClientID)
	require.Len(t, typed(events, domain.EventMessage), 1)
}

func TestUntypedFrameBecomesMessage(t *testing.T) {
	e := newEnv(t)
	conv := e.directConv(t, "alice", "bob")
	s := e.session("alice", nil)
	s.bind(conv, true)
	defer s.Close()

	// the minimal historical schema: no type field at all
	s.handleText(frame(t, map[string]any{"message": "hello"}))

	events := drain(s)
	require.Len(t, typed(events, domain.EventMessage), 1)
	assert.Equal(t, "hello", typed(events, domain.EventMessage)[0].Message.Content)
}

// An unrecognized type is not rejected: it rides the same fallback as the
// minimal schema and is handled as a message create. With no body that
// surfaces as a validation error, not an unknown-type error, which can mask
// client-side typos in the type field.
func TestUnknownTypeFallsThroughToMessageArm(t *testing.T) {
	e := newEnv(t)
	conv := e.directConv(t, "alice", "bob")
	s := e.session("alice", nil)
	s.bind(conv, true)
	defer s.Close()

	s.handleText(frame(t, map[string]any{"type": "reactionn", "message_id": "m1", "emoji": "👍"}))

	events := drain(s)
	errs := typed(events, domain.EventError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error, "message cannot be empty")
	assert.Empty(t, typed(events, domain.EventMessage))
}

func TestPingPong(t *testing.T) {
	e := newEnv(t)
	conv := e.directConv(t, "alice", "bob")
	s := e.session("alice", nil)
	s.bind(conv, true)
	defer s.Close()

	s.handleText(frame(t, map[string]any{"type": "ping"}))

	events := drain(s)
	require.Len(t, typed(events, domain.EventPong), 1)
}

func TestMalformedFrame(t *testing.T) {
	e := newEnv(t)
	conv := e.directConv(t, "alice", "bob")
	s := e.session("alice", nil)
	s.bind(conv, true)
	defer s.Close()

	s.handleText([]byte("{not json"))

	events := drain(s)
	errs := typed(events, domain.EventError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error, "malformed")
}

func TestHistoryRepliesOnlyToRequester(t *testing.T) {
	e := newEnv(t)
	conv := e.directConv(t, "alice", "bob")

	alice := e.session("alice", nil)
	alice.bind(conv, true)
	defer alice.Close()
	bob := e.session("bob", nil)
	bob.bind(conv, true)
	defer bob.Close()

	alice.handleText(frame(t, map[string]any{"message": "hello", "message_id": "c1"}))
	drain(alice)
	drain(bob)

	alice.handleText(frame(t, map[string]any{"type": "history", "page": 1, "page_size": 10}))

	aliceEvents := drain(alice)
	require.Len(t, typed(aliceEvents, domain.EventHistory), 1)
	assert.Len(t, typed(aliceEvents, domain.EventHistory)[0].Messages, 1)
	assert.Empty(t, typed(drain(bob), domain.EventHistory), "history must not broadcast")
}

func TestEditAndDeleteFrames(t *testing.T) {
	e := newEnv(t)
	conv := e.directConv(t, "alice", "bob")
	s := e.session("alice", nil)
	s.bind(conv, true)
	defer s.Close()

	s.handleText(frame(t, map[string]any{"message": "hello", "message_id": "c1"}))
	acks := typed(drain(s), domain.EventAck)
	require.Len(t, acks, 1)
	id := acks[0].MessageID

	s.handleText(frame(t, map[string]any{"type": "edit", "message_id": id, "content": "hello again"}))
	edits := typed(drain(s), domain.EventMessage)
	require.Len(t, edits, 1)
	assert.Equal(t, "hello again", edits[0].Message.Content)

	s.handleText(frame(t, map[string]any{"type": "delete", "message_id": id}))
	dels := typed(drain(s), domain.EventMessageDeleted)
	require.Len(t, dels, 1)
	assert.Equal(t, id, dels[0].MessageID)
}

func TestReactionAndReadReceiptFrames(t *testing.T) {
	e := newEnv(t)
	conv := e.directConv(t, "alice", "bob")
	alice := e.session("alice", nil)
	alice.bind(conv, true)
	defer alice.Close()
	bob := e.session("bob", nil)
	bob.bind(conv, true)
	defer bob.Close()

	alice.handleText(frame(t, map[string]any{"message": "hello", "message_id": "c1"}))
	id := typed(drain(alice), domain.EventAck)[0].MessageID
	drain(bob)

	bob.handleText(frame(t, map[string]any{"type": "reaction", "message_id": id, "emoji": "👍"}))
	updates := typed(drain(alice), domain.EventMessage)
	require.Len(t, updates, 1)
	assert.Equal(t, "👍", updates[0].Message.Reactions["bob"])

	bob.handleText(frame(t, map[string]any{"type": "read_receipt", "message_id": id}))
	receipts := typed(drain(alice), domain.EventReadReceipt)
	require.Len(t, receipts, 1)
	assert.Equal(t, "bob", receipts[0].UserID)
}

func TestAttachmentMetadataThenBinary(t *testing.T) {
	e := newEnv(t)
	conv := e.directConv(t, "alice", "bob")
	up := &fakeUploader{}
	s := e.session("alice", up)
	s.bind(conv, true)
	defer s.Close()

	s.handleText(frame(t, map[string]any{
		"message_id": "c1",
		"file_name":  "report.pdf",
		"file_type":  "application/pdf",
		"file_size":  3,
	}))
	assert.Empty(t, drain(s), "metadata alone produces nothing")
	require.NotNil(t, s.pendingMeta)

	s.handleBinary([]byte{1, 2, 3})

	events := drain(s)
	msgs := typed(events, domain.EventMessage)
	require.Len(t, msgs, 1)
	att := msgs[0].Message.Attachment
	require.NotNil(t, att)
	assert.Equal(t, "report.pdf", att.Name)
	assert.Equal(t, "application/pdf", att.Type)
	assert.Equal(t, int64(3), att.Size)
	assert.Contains(t, att.URL, conv.ID)
	assert.Equal(t, []byte{1, 2, 3}, up.data)
	assert.Nil(t, s.pendingMeta, "metadata is consumed by its binary frame")
}

func TestBinaryWithoutMetadata(t *testing.T) {
	e := newEnv(t)
	conv := e.directConv(t, "alice", "bob")
	s := e.session("alice", &fakeUploader{})
	s.bind(conv, true)
	defer s.Close()

	s.handleBinary([]byte{1, 2, 3})

	errs := typed(drain(s), domain.EventError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error, "metadata")
}

func TestGroupActionFrame(t *testing.T) {
	e := newEnv(t)
	conv := e.groupConv(t, "carol", "dave")
	s := e.session("carol", nil)
	s.bind(conv, true)
	defer s.Close()

	s.handleText(frame(t, map[string]any{"type": "group_action", "action": "add", "member_id": "erin"}))

	events := drain(s)
	updates := typed(events, domain.EventGroupUpdated)
	require.Len(t, updates, 1)
	assert.Contains(t, updates[0].Conversation.Participants, "erin")
}

func TestGroupActionAuthorizationError(t *testing.T) {
	e := newEnv(t)
	conv := e.groupConv(t, "carol", "dave")
	s := e.session("dave", nil)
	s.bind(conv, true)
	defer s.Close()

	s.handleText(frame(t, map[string]any{"type": "group_action", "action": "add", "member_id": "erin"}))

	errs := typed(drain(s), domain.EventError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error, "admins")
}

func TestStaleRoleIsReCheckedPerAction(t *testing.T) {
	e := newEnv(t)
	seed := e.groupConv(t, "carol", "dave")
	require.NoError(t, e.convs.AddAdmin(context.Background(), seed.ID, "dave"))
	conv, err := e.convs.Get(context.Background(), seed.ID)
	require.NoError(t, err)
	require.True(t, conv.IsAdmin("dave"))

	s := e.session("dave", nil)
	s.bind(conv, true)
	defer s.Close()

	// demote dave behind the session's back; its snapshot still says admin
	require.NoError(t, e.convs.RemoveAdmin(context.Background(), conv.ID, "dave"))

	s.handleText(frame(t, map[string]any{"type": "group_action", "action": "add", "member_id": "erin"}))

	errs := typed(drain(s), domain.EventError)
	require.Len(t, errs, 1, "role changes must take effect on the next action, not the next reconnect")
}

func TestLeaveUnbinds(t *testing.T) {
	e := newEnv(t)
	conv := e.groupConv(t, "carol", "dave")
	s := e.session("dave", nil)
	s.bind(conv, true)
	defer s.Close()

	require.Equal(t, 1, e.hub.SubscriberCount(bus.ConversationChannel(conv.ID)))
	s.handleText(frame(t, map[string]any{"type": "group_action", "action": "leave"}))

	assert.Empty(t, typed(drain(s), domain.EventError))
	assert.Equal(t, 0, e.hub.SubscriberCount(bus.ConversationChannel(conv.ID)))
}

func TestDeleteGroupFrame(t *testing.T) {
	e := newEnv(t)
	conv := e.groupConv(t, "carol", "dave")
	s := e.session("carol", nil)
	s.bind(conv, true)
	defer s.Close()

	s.handleText(frame(t, map[string]any{"type": "delete_group"}))

	events := drain(s)
	require.Len(t, typed(events, domain.EventGroupDeleted), 1)
	assert.Equal(t, 0, e.hub.SubscriberCount(bus.ConversationChannel(conv.ID)))
}

func TestMultiChannelSessionNeedsExplicitTarget(t *testing.T) {
	e := newEnv(t)
	g1 := e.groupConv(t, "carol", "dave")
	g2 := e.groupConv(t, "erin", "carol")
	s := e.session("carol", nil)
	s.bind(g1, false)
	s.bind(g2, false)
	defer s.Close()

	s.handleText(frame(t, map[string]any{"message": "hello", "message_id": "c1"}))
	errs := typed(drain(s), domain.EventError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error, "group_id")

	s.handleText(frame(t, map[string]any{"message": "hello", "message_id": "c2", "group_id": g2.ID}))
	events := drain(s)
	msgs := typed(events, domain.EventMessage)
	require.Len(t, msgs, 1)
	assert.Equal(t, g2.ID, msgs[0].ConversationID)

	s.handleText(frame(t, map[string]any{"message": "hello", "message_id": "c3", "group_id": "unknown"}))
	errs = typed(drain(s), domain.EventError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error, "not connected")
}

func TestReceiveDropsWhenBufferFull(t *testing.T) {
	e := newEnv(t)
	conv := e.directConv(t, "alice", "bob")
	s := NewSession(nil, "alice", "alice", e.engine, nil, e.hub, zap.NewNop().Sugar(), Config{SendBuffer: 2})
	s.bind(conv, true)
	defer s.Close()

	for i := 0; i < 5; i++ {
		s.Receive(domain.NewEvent(domain.EventTyping, conv.ID))
	}
	assert.Len(t, drain(s), 2, "a slow consumer loses events, it never blocks the publisher")
}

func TestCloseIsIdempotent(t *testing.T) {
	e := newEnv(t)
	conv := e.directConv(t, "alice", "bob")
	s := e.session("alice", nil)
	s.bind(conv, true)

	s.Close()
	s.Close()
	assert.Equal(t, 0, e.hub.SubscriberCount(bus.ConversationChannel(conv.ID)))

	// events after close are discarded without panicking
	s.Receive(domain.NewEvent(domain.EventTyping, conv.ID))
}

func TestCloseDuringLeaveFramesIsSafe(t *testing.T) {
	e := newEnv(t)
	s := e.session("alice", nil)
	var frames [][]byte
	for i := 0; i < 16; i++ {
		conv := e.groupConv(t, "bob", "alice")
		s.bind(conv, false)
		frames = append(frames, frame(t, map[string]any{
			"type": "group_action", "action": "leave", "group_id": conv.ID,
		}))
	}

	// the read pump unbinds on each leave while the peer drops and the
	// write pump's deferred Close tears down the remaining subscriptions
	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, f := range frames {
			s.handleText(f)
		}
	}()
	s.Close()
	<-done

	assert.Empty(t, s.subs)
	assert.Empty(t, s.convs)
}

func TestRemovedMemberStopsReceivingAfterSnapshot(t *testing.T) {
	e := newEnv(t)
	conv := e.groupConv(t, "bob", "alice")
	s := e.session("alice", nil)
	s.bind(conv, true)
	defer s.Close()

	ctx := context.Background()

	// a snapshot that still includes alice keeps the binding
	fresh, err := e.convs.Get(ctx, conv.ID)
	require.NoError(t, err)
	ev := domain.NewEvent(domain.EventGroupUpdated, conv.ID)
	ev.Conversation = fresh
	s.prune(ev)
	require.NoError(t, e.hub.Publish(ctx, bus.ConversationChannel(conv.ID), domain.NewEvent(domain.EventMessage, conv.ID)))
	require.Len(t, typed(drain(s), domain.EventMessage), 1)

	// an admin removes alice elsewhere; delivering the updated snapshot
	// drops her subscription
	require.NoError(t, e.convs.RemoveParticipant(ctx, conv.ID, "alice"))
	fresh, err = e.convs.Get(ctx, conv.ID)
	require.NoError(t, err)
	ev = domain.NewEvent(domain.EventGroupUpdated, conv.ID)
	ev.Conversation = fresh
	s.prune(ev)

	require.NoError(t, e.hub.Publish(ctx, bus.ConversationChannel(conv.ID), domain.NewEvent(domain.EventMessage, conv.ID)))
	assert.Empty(t, typed(drain(s), domain.EventMessage))
}

func TestGroupDeletedEventDropsBinding(t *testing.T) {
	e := newEnv(t)
	conv := e.groupConv(t, "bob", "alice")
	s := e.session("alice", nil)
	s.bind(conv, true)
	defer s.Close()

	s.prune(domain.NewEvent(domain.EventGroupDeleted, conv.ID))

	_, err := s.target(&Frame{GroupID: conv.ID})
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
	assert.Equal(t, 0, e.hub.SubscriberCount(bus.ConversationChannel(conv.ID)))
}
