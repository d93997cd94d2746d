// Package ws binds an authenticated websocket connection to one or more
// conversation channels and translates between wire frames and engine
// operations. One Session per connection; the read pump is the only frame
// consumer, the write pump the only frame producer.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gebre-tech/backend/internal/bus"
	"github.com/gebre-tech/backend/internal/chat"
	"github.com/gebre-tech/backend/internal/domain"
	"github.com/gebre-tech/backend/internal/media"
)

// opTimeout bounds a single frame's store round trips.
const opTimeout = 10 * time.Second

// Config carries the per-connection tuning knobs.
type Config struct {
	PingInterval   time.Duration
	ReadDeadline   time.Duration
	WriteDeadline  time.Duration
	MaxMessageSize int64
	SendBuffer     int
}

func (c Config) withDefaults() Config {
	if c.PingInterval <= 0 {
		c.PingInterval = 25 * time.Second
	}
	if c.ReadDeadline <= 0 {
		c.ReadDeadline = 60 * time.Second
	}
	if c.WriteDeadline <= 0 {
		c.WriteDeadline = 10 * time.Second
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 1 << 20
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	return c
}

// wsConn is the slice of *websocket.Conn the session uses.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Session is one authenticated connection bound to conversation channels.
// Single-target connections (a direct chat or one group) have a primary
// conversation that frames implicitly address; the all-groups variant has no
// primary and every frame must name its group.
type Session struct {
	userID   string
	username string
	engine   *chat.Engine
	uploader media.Uploader // nil when attachments are disabled
	bus      bus.Bus
	log      *zap.SugaredLogger
	cfg      Config

	conn wsConn
	send chan *domain.Event
	done chan struct{}
	once sync.Once

	// mu guards the channel bindings. The read pump unbinds on leave and
	// delete_group while Close may run on the write pump after a write
	// failure, so every access goes through the lock.
	mu      sync.Mutex
	primary *domain.Conversation
	convs   map[string]*domain.Conversation
	subs    map[string]func()

	// heartbeat, when set, is invoked on every ping tick; the handler uses
	// it to keep the presence record alive.
	heartbeat func()

	// pendingMeta buffers an attachment metadata frame until its binary
	// payload arrives on the next frame.
	pendingMeta *Frame
}

func NewSession(conn wsConn, userID, username string, engine *chat.Engine, uploader media.Uploader, b bus.Bus, log *zap.SugaredLogger, cfg Config) *Session {
	cfg = cfg.withDefaults()
	return &Session{
		userID:   userID,
		username: username,
		engine:   engine,
		uploader: uploader,
		bus:      b,
		log:      log,
		cfg:      cfg,
		conn:     conn,
		send:     make(chan *domain.Event, cfg.SendBuffer),
		done:     make(chan struct{}),
		convs:    make(map[string]*domain.Conversation),
		subs:     make(map[string]func()),
	}
}

// bind subscribes the session to a conversation's channel. The first primary
// bind becomes the implicit target for frames that name no conversation.
func (s *Session) bind(conv *domain.Conversation, primary bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if primary {
		s.primary = conv
	}
	s.convs[conv.ID] = conv
	s.subs[conv.ID] = s.bus.Subscribe(bus.ConversationChannel(conv.ID), s)
}

func (s *Session) unbind(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if unsub, ok := s.subs[conversationID]; ok {
		unsub()
		delete(s.subs, conversationID)
	}
	delete(s.convs, conversationID)
	if s.primary != nil && s.primary.ID == conversationID {
		s.primary = nil
	}
}

// Receive implements bus.Subscriber. It must never block the publisher: a
// consumer that cannot keep up loses events rather than stalling the channel.
func (s *Session) Receive(ev *domain.Event) {
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.send <- ev:
	default:
		s.log.Warnw("send buffer full, dropping event",
			"user", s.userID, "event", ev.Type, "conversation", ev.ConversationID)
	}
}

// Run drives the pumps until the connection drops. Blocks.
func (s *Session) Run() {
	go s.writePump()
	s.readPump()
}

// Close is idempotent and safe from any goroutine.
func (s *Session) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		for id, unsub := range s.subs {
			unsub()
			delete(s.subs, id)
		}
		s.mu.Unlock()
		close(s.done)
		if s.conn != nil {
			_ = s.conn.Close()
		}
	})
}

func (s *Session) readPump() {
	defer s.Close()
	s.conn.SetReadLimit(s.cfg.MaxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadDeadline))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadDeadline))
	})
	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadDeadline))
		switch mt {
		case websocket.TextMessage:
			s.handleText(data)
		case websocket.BinaryMessage:
			s.handleBinary(data)
		}
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	defer s.Close()
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.send:
			data, err := json.Marshal(ev)
			if err != nil {
				s.log.Errorw("event marshal failed", "event", ev.Type, "err", err)
				continue
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteDeadline))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
			s.prune(ev)
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteDeadline)); err != nil {
				return
			}
			if s.heartbeat != nil {
				s.heartbeat()
			}
		}
	}
}

// prune drops a channel binding once a delivered event shows the session no
// longer belongs there: a group snapshot without this user, or a group
// deletion. The event still reaches the client first.
func (s *Session) prune(ev *domain.Event) {
	switch ev.Type {
	case domain.EventGroupUpdated:
		if ev.Conversation != nil && !ev.Conversation.IsParticipant(s.userID) {
			s.unbind(ev.ConversationID)
		}
	case domain.EventGroupDeleted:
		s.unbind(ev.ConversationID)
	}
}

func (s *Session) handleText(data []byte) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		s.fail("", domain.NewValidationError("malformed frame"))
		return
	}
	if f.attachmentMetadataOnly() {
		s.pendingMeta = &f
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	s.dispatch(ctx, &f)
}

// handleBinary consumes the payload announced by the preceding metadata
// frame. A binary frame with no pending metadata has nowhere to go.
func (s *Session) handleBinary(data []byte) {
	meta := s.pendingMeta
	s.pendingMeta = nil
	if meta == nil {
		s.fail("", domain.NewValidationError("binary frame without preceding file metadata"))
		return
	}
	if s.uploader == nil {
		s.fail("", domain.NewValidationError("attachments are not enabled"))
		return
	}
	conv, err := s.target(meta)
	if err != nil {
		s.fail("", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	key := fmt.Sprintf("%s/%s-%s", conv.ID, uuid.NewString(), meta.FileName)
	att, err := s.uploader.Upload(ctx, key, meta.FileType, data)
	if err != nil {
		s.fail(conv.ID, domain.NewInternalError("attachment upload failed", err))
		return
	}
	att.Name = meta.FileName
	if att.Type == "" {
		att.Type = meta.FileType
	}
	if att.Size == 0 {
		att.Size = int64(len(data))
	}

	ack, err := s.engine.CreateMessage(ctx, conv, s.userID, chat.CreateInput{
		ClientID:   clientID(meta),
		Kind:       domain.KindFile,
		Content:    meta.body(),
		Envelope:   meta.envelope(),
		Attachment: att,
		ParentID:   meta.ParentMessageID,
	})
	if err != nil {
		s.fail(conv.ID, err)
		return
	}
	if ack != nil {
		s.Receive(ack)
	}
}

func (s *Session) dispatch(ctx context.Context, f *Frame) {
	if f.Type == FramePing {
		s.Receive(domain.NewEvent(domain.EventPong, f.conversationRef()))
		return
	}

	conv, err := s.target(f)
	if err != nil {
		s.fail(f.conversationRef(), err)
		return
	}

	switch f.Type {
	case FrameEdit:
		err = s.refreshed(ctx, conv, func() error {
			return s.engine.EditMessage(ctx, conv, s.userID, f.MessageID, f.body(), f.envelope())
		})
	case FrameDelete:
		err = s.refreshed(ctx, conv, func() error {
			return s.engine.DeleteMessage(ctx, conv, s.userID, f.MessageID)
		})
	case FrameReaction:
		err = s.engine.React(ctx, conv, s.userID, f.MessageID, f.emoji())
	case FrameReadReceipt:
		err = s.engine.MarkRead(ctx, conv, s.userID, f.MessageID)
	case FrameTyping:
		err = s.engine.Typing(ctx, conv, s.userID)
	case FramePin:
		err = s.refreshed(ctx, conv, func() error {
			return s.engine.SetPinned(ctx, conv, s.userID, f.MessageID, true)
		})
	case FrameUnpin:
		err = s.refreshed(ctx, conv, func() error {
			return s.engine.SetPinned(ctx, conv, s.userID, f.MessageID, false)
		})
	case FrameGroupAction:
		err = s.refreshed(ctx, conv, func() error {
			return s.groupAction(ctx, conv, f)
		})
	case FrameDeleteGroup:
		err = s.refreshed(ctx, conv, func() error {
			return s.engine.DeleteGroup(ctx, conv, chat.Actor{ID: s.userID, Name: s.username})
		})
		if err == nil {
			s.unbind(conv.ID)
		}
	case FrameHistory:
		var ev *domain.Event
		ev, err = s.engine.History(ctx, conv, s.userID, f.Page, f.PageSize)
		if err == nil {
			s.Receive(ev)
		}
	default:
		// Anything unrecognized, including frames with no type at all, falls
		// through to message creation. Minimal-schema clients depend on this;
		// it also means a typo'd type silently becomes a message.
		var ack *domain.Event
		ack, err = s.engine.CreateMessage(ctx, conv, s.userID, chat.CreateInput{
			ClientID: clientID(f),
			Kind:     domain.MessageKind(f.Kind),
			Content:  f.body(),
			Envelope: f.envelope(),
			ParentID: f.ParentMessageID,
		})
		if err == nil && ack != nil {
			s.Receive(ack)
		}
	}

	if err != nil {
		s.fail(conv.ID, err)
	}
}

func (s *Session) groupAction(ctx context.Context, conv *domain.Conversation, f *Frame) error {
	actor := chat.Actor{ID: s.userID, Name: s.username}
	switch f.Action {
	case ActionAdd:
		return s.engine.AddMember(ctx, conv, actor, f.MemberID)
	case ActionRemove:
		return s.engine.RemoveMember(ctx, conv, actor, f.MemberID)
	case ActionPromote:
		return s.engine.PromoteAdmin(ctx, conv, actor, f.MemberID)
	case ActionDemote:
		return s.engine.DemoteAdmin(ctx, conv, actor, f.MemberID)
	case ActionTransfer:
		return s.engine.TransferOwnership(ctx, conv, actor, f.MemberID)
	case ActionLeave:
		if err := s.engine.Leave(ctx, conv, actor); err != nil {
			return err
		}
		s.unbind(conv.ID)
		return nil
	default:
		return domain.NewValidationError("unknown group action %q", f.Action)
	}
}

// clientID returns the client-supplied message id, or a fresh one when the
// sender omitted it. A synthesized id still satisfies the ledger but gives
// the retry no protection; only clients that send ids get dedup.
func clientID(f *Frame) string {
	if f.MessageID != "" {
		return f.MessageID
	}
	return uuid.NewString()
}

// target picks the conversation a frame addresses: an explicit reference on
// multi-channel sessions, the primary conversation otherwise.
func (s *Session) target(f *Frame) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ref := f.conversationRef(); ref != "" {
		if conv, ok := s.convs[ref]; ok {
			return conv, nil
		}
		return nil, domain.NewNotFoundError("not connected to conversation %q", ref)
	}
	if s.primary != nil {
		return s.primary, nil
	}
	return nil, domain.NewValidationError("group_id is required on this connection")
}

// refreshed reloads the conversation snapshot before a role-sensitive action
// so demotions and removals made elsewhere take effect immediately.
func (s *Session) refreshed(ctx context.Context, conv *domain.Conversation, op func() error) error {
	if err := s.engine.Refresh(ctx, conv); err != nil {
		return err
	}
	return op()
}

// fail reports an operation error in-band. Internal details never cross the
// wire; the client gets a generic message and the log gets the cause.
func (s *Session) fail(conversationID string, err error) {
	msg := err.Error()
	if domain.KindOf(err) == domain.KindInternal {
		s.log.Errorw("frame handling failed", "user", s.userID, "conversation", conversationID, "err", err)
		msg = "internal error"
	}
	ev := domain.NewEvent(domain.EventError, conversationID)
	ev.Error = msg
	s.Receive(ev)
}
