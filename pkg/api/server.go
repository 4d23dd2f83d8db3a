// Package api exposes the read API and WebSocket endpoint over gin. All
// task-scoped reads are served from projection engine snapshots; nothing
// here mutates projection state.
package api

import (
	"context"
	"database/sql"

	"github.com/gin-gonic/gin"

	"github.com/runloom/runloom/pkg/events"
	"github.com/runloom/runloom/pkg/orchestrator"
	"github.com/runloom/runloom/pkg/projection"
	"github.com/runloom/runloom/pkg/services"
)

// Primer replays a task's persisted events into the projection before a
// cold read. Implemented by events.Ingestor.
type Primer interface {
	Prime(ctx context.Context, taskID string) error
}

// Server wires handlers to their backing stores.
type Server struct {
	engine      *projection.Engine
	runners     *orchestrator.Registry
	eventSvc    *services.EventService
	runSvc      *services.RunService
	connManager *events.ConnectionManager
	primer      Primer
	db          *sql.DB
}

// NewServer creates the API server.
func NewServer(
	engine *projection.Engine,
	runners *orchestrator.Registry,
	eventSvc *services.EventService,
	runSvc *services.RunService,
	connManager *events.ConnectionManager,
	primer Primer,
	db *sql.DB,
) *Server {
	return &Server{
		engine:      engine,
		runners:     runners,
		eventSvc:    eventSvc,
		runSvc:      runSvc,
		connManager: connManager,
		primer:      primer,
		db:          db,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(), securityHeaders())
	s.RegisterRoutes(r)
	return r
}

// RegisterRoutes attaches all endpoints to the given engine.
func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", s.health)
	r.GET("/ws", s.handleWebSocket)

	v1 := r.Group("/api/v1")
	{
		tasks := v1.Group("/tasks/:id")
		{
			tasks.GET("/timeline", s.getTimeline)
			tasks.GET("/plan", s.getPlan)
			tasks.GET("/plan/stream", s.getPlanStream)
			tasks.GET("/message", s.getCurrentMessage)
			tasks.GET("/todos", s.getTodoLists)
			tasks.GET("/events", s.getRawEvents)
			tasks.GET("/approvals", s.getPendingApprovals)
			tasks.GET("/runs/latest", s.getLatestRun)
		}

		runs := v1.Group("/runs/:id")
		{
			runs.GET("/subagents", s.getRunSubAgents)
			runs.GET("/toolcalls", s.getRunToolCalls)
			runs.GET("/events", s.getRunEvents)
		}

		v1.POST("/approvals/:id/resolve", s.resolveApproval)
	}
}
