// Package server wires the fiber application: websocket entry points, the
// small REST surface for group management and history, and health.
package server

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/gebre-tech/backend/internal/auth"
	"github.com/gebre-tech/backend/internal/chat"
	"github.com/gebre-tech/backend/internal/domain"
	"github.com/gebre-tech/backend/internal/presence"
	"github.com/gebre-tech/backend/internal/ws"
)

type Deps struct {
	Validator *auth.Validator
	Resolver  *chat.Resolver
	Engine    *chat.Engine
	WS        *ws.Handler
	Presence  presence.Tracker
	Log       *zap.SugaredLogger
}

type Server struct {
	app      *fiber.App
	resolver *chat.Resolver
	engine   *chat.Engine
	auth     *auth.Validator
	presence presence.Tracker
	log      *zap.SugaredLogger
}

func New(d Deps) *Server {
	s := &Server{
		resolver: d.Resolver,
		engine:   d.Engine,
		auth:     d.Validator,
		presence: d.Presence,
		log:      d.Log,
	}
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	v1 := app.Group("/v1", s.requireAuth)
	v1.Post("/groups", s.createGroup)
	v1.Get("/conversations", s.listConversations)
	v1.Get("/conversations/:conversation_id/messages", s.history)
	if s.presence != nil {
		v1.Get("/users/:user_id/presence", s.userPresence)
	}

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/chat/:peer_id", websocket.New(d.WS.Direct()))
	app.Get("/ws/group/:group_id", websocket.New(d.WS.Group()))
	app.Get("/ws/groups", websocket.New(d.WS.AllGroups()))

	s.app = app
	return s
}

func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// App exposes the fiber app for endpoint tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// requireAuth accepts a bearer token or, matching the websocket entry
// points, a token query parameter.
func (s *Server) requireAuth(c *fiber.Ctx) error {
	token := strings.TrimPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
	if token == "" {
		token = c.Query("token")
	}
	claims, err := s.auth.Validate(token)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "authentication failed"})
	}
	c.Locals("claims", claims)
	return c.Next()
}

func claimsFrom(c *fiber.Ctx) *auth.Claims {
	return c.Locals("claims").(*auth.Claims)
}

type createGroupRequest struct {
	Name      string   `json:"name"`
	MemberIDs []string `json:"member_ids"`
}

func (s *Server) createGroup(c *fiber.Ctx) error {
	claims := claimsFrom(c)
	var req createGroupRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	conv, err := s.engine.CreateGroup(c.Context(), chat.Actor{ID: claims.UserID, Name: claims.Username}, req.Name, req.MemberIDs)
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(conv)
}

func (s *Server) listConversations(c *fiber.Ctx) error {
	claims := claimsFrom(c)
	kind := domain.ConversationKind(c.Query("kind"))
	convs, err := s.resolver.Conversations(c.Context(), claims.UserID, kind)
	if err != nil {
		return s.fail(c, err)
	}
	if convs == nil {
		convs = []*domain.Conversation{}
	}
	return c.JSON(convs)
}

func (s *Server) history(c *fiber.Ctx) error {
	claims := claimsFrom(c)
	conv, err := s.resolver.Resolve(c.Context(), claims.UserID, chat.Target{
		ConversationID: c.Params("conversation_id"),
	}, chat.ModeAny)
	if err != nil {
		return s.fail(c, err)
	}
	page, _ := strconv.Atoi(c.Query("page"))
	pageSize, _ := strconv.Atoi(c.Query("page_size"))
	ev, err := s.engine.History(c.Context(), conv, claims.UserID, page, pageSize)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{
		"conversation_id": conv.ID,
		"messages":        ev.Messages,
	})
}

func (s *Server) userPresence(c *fiber.Ctx) error {
	info, err := s.presence.Get(c.Context(), c.Params("user_id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(info)
}

func (s *Server) fail(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, chat.ErrConversationNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "conversation not found"})
	case errors.Is(err, chat.ErrNotParticipant):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "not a participant"})
	}
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case domain.KindAuthorization:
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": err.Error()})
	case domain.KindNotFound:
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	case domain.KindAuthentication:
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
	default:
		s.log.Errorw("request failed", "path", c.Path(), "err", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
}
