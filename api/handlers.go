package api

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/recall/api/search"
	"github.com/papercomputeco/recall/pkg/memory"
)

const defaultSessionListLimit = 50

// SessionRequest is the body of session create and update requests.
type SessionRequest struct {
	Title string `json:"title"`
}

// MessageRequest is the body of POST /v1/sessions/:id/messages.
type MessageRequest struct {
	Role     memory.Role    `json:"role"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`

	// Timestamp defaults to the time the request is handled.
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// MemoryRequest is the body of POST /v1/sessions/:id/memories.
type MemoryRequest struct {
	Content  string         `json:"content"`
	Type     string         `json:"type,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

func (s *Server) handleCreateSession(c *fiber.Ctx) error {
	var req SessionRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return errorJSON(c, fiber.StatusBadRequest, "invalid request body")
		}
	}

	session, err := s.engine.CreateSession(c.Context(), req.Title)
	if err != nil {
		return s.storeError(c, err, "failed to create session")
	}

	return c.Status(fiber.StatusCreated).JSON(session)
}

func (s *Server) handleListSessions(c *fiber.Ctx) error {
	limit, err := positiveQueryInt(c, "limit", defaultSessionListLimit)
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	}

	sessions, err := s.engine.ListSessions(c.Context(), limit)
	if err != nil {
		return s.storeError(c, err, "failed to list sessions")
	}
	if sessions == nil {
		sessions = []*memory.Session{}
	}

	return c.JSON(map[string]any{
		"count":    len(sessions),
		"sessions": sessions,
	})
}

func (s *Server) handleGetSession(c *fiber.Ctx) error {
	session, err := s.engine.GetSession(c.Context(), c.Params("id"))
	if err != nil {
		return s.storeError(c, err, "failed to get session")
	}
	return c.JSON(session)
}

func (s *Server) handleUpdateSession(c *fiber.Ctx) error {
	var req SessionRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid request body")
	}

	session, err := s.engine.UpdateSessionTitle(c.Context(), c.Params("id"), req.Title)
	if err != nil {
		return s.storeError(c, err, "failed to update session")
	}
	return c.JSON(session)
}

func (s *Server) handleDeleteSession(c *fiber.Ctx) error {
	if err := s.engine.DeleteSession(c.Context(), c.Params("id")); err != nil {
		return s.storeError(c, err, "failed to delete session")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleSaveMessage(c *fiber.Ctx) error {
	var req MessageRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid request body")
	}
	if !req.Role.Valid() {
		return errorJSON(c, fiber.StatusBadRequest, "role must be one of user, assistant, system, tool")
	}
	if req.Content == "" {
		return errorJSON(c, fiber.StatusBadRequest, "content is required")
	}

	sessionID := c.Params("id")
	if _, err := s.engine.GetSession(c.Context(), sessionID); err != nil {
		return s.storeError(c, err, "failed to get session")
	}

	msg := memory.NewMessage(req.Role, req.Content)
	if req.Metadata != nil {
		msg.Metadata = req.Metadata
	}
	if req.Timestamp != nil {
		msg.Timestamp = req.Timestamp.UTC()
	}

	if !s.engine.SaveMessage(c.Context(), sessionID, msg) {
		return errorJSON(c, fiber.StatusInternalServerError, "failed to save message")
	}

	return c.Status(fiber.StatusCreated).JSON(msg)
}

func (s *Server) handleStoreMemory(c *fiber.Ctx) error {
	var req MemoryRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.Content == "" {
		return errorJSON(c, fiber.StatusBadRequest, "content is required")
	}

	t := memory.TypeContext
	if req.Type != "" {
		var err error
		if t, err = memory.ParseType(req.Type); err != nil {
			return errorJSON(c, fiber.StatusBadRequest, err.Error())
		}
	}

	sessionID := c.Params("id")
	if _, err := s.engine.GetSession(c.Context(), sessionID); err != nil {
		return s.storeError(c, err, "failed to get session")
	}

	mem, err := s.engine.StoreMemory(c.Context(), sessionID, req.Content, t, req.Metadata)
	if err != nil {
		return s.storeError(c, err, "failed to store memory")
	}

	return c.Status(fiber.StatusCreated).JSON(mem)
}

// handleContext handles GET /v1/sessions/:id/context.
// Query parameters:
//   - query (optional): the text of the current turn
//   - max_tokens (optional, default 4000): the context budget
func (s *Server) handleContext(c *fiber.Ctx) error {
	maxTokens, err := positiveQueryInt(c, "max_tokens", search.DefaultMaxTokens)
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	}

	sessionID := c.Params("id")
	if _, err := s.engine.GetSession(c.Context(), sessionID); err != nil {
		return s.storeError(c, err, "failed to get session")
	}

	out := search.Context(c.Context(), s.engine, search.ContextInput{
		Query:     c.Query("query"),
		SessionID: sessionID,
		MaxTokens: maxTokens,
	}, s.logger)

	return c.JSON(out)
}

func (s *Server) handleMetrics(c *fiber.Ctx) error {
	metrics, err := s.engine.PerformanceMetrics(c.Context())
	if err != nil {
		return s.storeError(c, err, "failed to compute metrics")
	}
	return c.JSON(metrics)
}

// positiveQueryInt reads an optional positive integer query parameter.
func positiveQueryInt(c *fiber.Ctx, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, key+" must be a positive integer")
	}
	return n, nil
}
