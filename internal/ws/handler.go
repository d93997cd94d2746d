package ws

import (
	"context"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gebre-tech/backend/internal/auth"
	"github.com/gebre-tech/backend/internal/bus"
	"github.com/gebre-tech/backend/internal/chat"
	"github.com/gebre-tech/backend/internal/media"
	"github.com/gebre-tech/backend/internal/presence"
)

// Handler produces the per-endpoint websocket callbacks. Authentication and
// conversation binding happen here, before any frame is read; failures close
// the socket with a specific code and no session is created.
type Handler struct {
	Validator      *auth.Validator
	Resolver       *chat.Resolver
	Engine         *chat.Engine
	Bus            bus.Bus
	Uploader       media.Uploader
	Presence       presence.Tracker // optional
	Log            *zap.SugaredLogger
	Config         Config
	ConnectTimeout time.Duration
}

func (h *Handler) connectTimeout() time.Duration {
	if h.ConnectTimeout <= 0 {
		return 10 * time.Second
	}
	return h.ConnectTimeout
}

// Direct serves /ws/chat/:peer_id. An explicit conversation_id query
// parameter skips the pair lookup; otherwise the direct conversation with
// the peer is found or created.
func (h *Handler) Direct() func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		claims, ok := h.authenticate(c)
		if !ok {
			return
		}
		peerID := c.Params("peer_id")
		conversationID := c.Query("conversation_id")
		if conversationID == "" && !bus.ValidChannelID(peerID) {
			closeWith(c, CloseInvalidChannel, "invalid peer id")
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), h.connectTimeout())
		conv, err := h.Resolver.Resolve(ctx, claims.UserID, chat.Target{
			ConversationID: conversationID,
			PeerID:         peerID,
		}, chat.ModeDirect)
		cancel()
		if err != nil {
			closeWith(c, resolveCloseCode(err), "cannot join conversation")
			return
		}

		s := h.newSession(c, claims)
		s.bind(conv, true)
		h.run(s, claims.UserID)
	}
}

// Group serves /ws/group/:group_id: one group conversation by id.
func (h *Handler) Group() func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		claims, ok := h.authenticate(c)
		if !ok {
			return
		}
		groupID := c.Params("group_id")
		if !bus.ValidChannelID(groupID) {
			closeWith(c, CloseInvalidChannel, "invalid group id")
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), h.connectTimeout())
		conv, err := h.Resolver.Resolve(ctx, claims.UserID, chat.Target{
			ConversationID: groupID,
		}, chat.ModeGroup)
		cancel()
		if err != nil {
			closeWith(c, resolveCloseCode(err), "cannot join group")
			return
		}

		s := h.newSession(c, claims)
		s.bind(conv, true)
		h.run(s, claims.UserID)
	}
}

// AllGroups serves /ws/groups: one connection subscribed to every group the
// user belongs to. Frames must name their group; a user with no memberships
// is rejected at connect time.
func (h *Handler) AllGroups() func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		claims, ok := h.authenticate(c)
		if !ok {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), h.connectTimeout())
		convs, err := h.Resolver.MembershipChannels(ctx, claims.UserID)
		cancel()
		if err != nil {
			closeWith(c, resolveCloseCode(err), "cannot join groups")
			return
		}

		s := h.newSession(c, claims)
		for _, conv := range convs {
			s.bind(conv, false)
		}
		h.run(s, claims.UserID)
	}
}

// run drives the session pumps, bracketing them with presence updates when a
// tracker is configured. Presence failures never take a connection down.
func (h *Handler) run(s *Session, userID string) {
	if h.Presence != nil {
		connID := uuid.NewString()
		h.touchPresence(func(ctx context.Context) error {
			return h.Presence.Connected(ctx, userID, connID)
		}, userID)
		s.heartbeat = func() {
			h.touchPresence(func(ctx context.Context) error {
				return h.Presence.Connected(ctx, userID, connID)
			}, userID)
		}
		defer h.touchPresence(func(ctx context.Context) error {
			return h.Presence.Disconnected(ctx, userID, connID)
		}, userID)
	}
	s.Run()
}

func (h *Handler) touchPresence(f func(context.Context) error, userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f(ctx); err != nil {
		h.Log.Warnw("presence update failed", "user", userID, "err", err)
	}
}

func (h *Handler) newSession(c *websocket.Conn, claims *auth.Claims) *Session {
	return NewSession(c, claims.UserID, claims.Username, h.Engine, h.Uploader, h.Bus, h.Log, h.Config)
}

// authenticate validates the token query parameter. The credential rides the
// URL because browser websocket clients cannot set headers on the upgrade.
func (h *Handler) authenticate(c *websocket.Conn) (*auth.Claims, bool) {
	claims, err := h.Validator.Validate(c.Query("token"))
	if err != nil {
		closeWith(c, authCloseCode(err), "authentication failed")
		return nil, false
	}
	return claims, true
}

func closeWith(c *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = c.Close()
}
