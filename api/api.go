package api

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/recall/api/search"
	"github.com/papercomputeco/recall/pkg/manager"
	"github.com/papercomputeco/recall/pkg/memory"
)

// Engine is the memory engine surface served over HTTP.
type Engine interface {
	search.Engine

	CreateSession(ctx context.Context, title string) (*memory.Session, error)
	GetSession(ctx context.Context, id string) (*memory.Session, error)
	ListSessions(ctx context.Context, limit int) ([]*memory.Session, error)
	UpdateSessionTitle(ctx context.Context, id, title string) (*memory.Session, error)
	DeleteSession(ctx context.Context, id string) error

	SaveMessage(ctx context.Context, sessionID string, msg *memory.Message) bool
	StoreMemory(ctx context.Context, sessionID, content string, t memory.Type, metadata map[string]any) (*memory.Memory, error)

	PerformanceMetrics(ctx context.Context) (*manager.Metrics, error)
}

// Server is the API server for managing sessions and querying memories.
type Server struct {
	config Config
	engine Engine
	logger *slog.Logger
	app    *fiber.App
}

// NewServer creates a new API server.
func NewServer(config Config, engine Engine, logger *slog.Logger) (*Server, error) {
	if engine == nil {
		return nil, errors.New("engine is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	// Path params and bodies outlive the request: session ids are stored and
	// queued for compression, so they must not alias fasthttp's buffers.
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		Immutable:             true,
	})

	s := &Server{
		config: config,
		engine: engine,
		logger: logger,
		app:    app,
	}

	app.Get("/ping", s.handlePing)

	v1 := app.Group("/v1")
	v1.Post("/sessions", s.handleCreateSession)
	v1.Get("/sessions", s.handleListSessions)
	v1.Get("/sessions/:id", s.handleGetSession)
	v1.Patch("/sessions/:id", s.handleUpdateSession)
	v1.Delete("/sessions/:id", s.handleDeleteSession)
	v1.Post("/sessions/:id/messages", s.handleSaveMessage)
	v1.Post("/sessions/:id/memories", s.handleStoreMemory)
	v1.Get("/sessions/:id/context", s.handleContext)
	v1.Get("/search", s.handleSearchEndpoint)
	v1.Get("/metrics", s.handleMetrics)

	if config.MCP != nil {
		app.All("/mcp", adaptor.HTTPHandler(config.MCP))
	}

	return s, nil
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server",
		"listen", s.config.ListenAddr,
		"mcp", s.config.MCP != nil,
	)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
