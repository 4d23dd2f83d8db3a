package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/runloom/runloom/pkg/models"
)

// Task-scoped reads. All of them are projection snapshots: an unknown task
// id yields empty collections rather than 404, because a task with no
// events yet is indistinguishable from an unknown one.

// primeProjection back-fills the task's projection from the log before the
// snapshot is taken, so polling consumers see events that predate this
// process. Replay failure is logged and the read serves the in-memory view.
func (s *Server) primeProjection(c *gin.Context, taskID string) {
	if s.primer == nil {
		return
	}
	if err := s.primer.Prime(c.Request.Context(), taskID); err != nil {
		slog.Warn("Projection replay failed", "task_id", taskID, "error", err)
	}
}

func (s *Server) getTimeline(c *gin.Context) {
	taskID := c.Param("id")
	s.primeProjection(c, taskID)
	c.JSON(http.StatusOK, models.TimelineResponse{
		Items: s.engine.Timeline(taskID),
	})
}

func (s *Server) getPlan(c *gin.Context) {
	taskID := c.Param("id")
	s.primeProjection(c, taskID)
	c.JSON(http.StatusOK, models.PlanResponse{
		Plan: s.engine.Plan(taskID),
	})
}

func (s *Server) getPlanStream(c *gin.Context) {
	taskID := c.Param("id")
	s.primeProjection(c, taskID)
	c.JSON(http.StatusOK, gin.H{
		"text": s.engine.PlanStreamText(taskID),
	})
}

func (s *Server) getCurrentMessage(c *gin.Context) {
	taskID := c.Param("id")
	s.primeProjection(c, taskID)
	c.JSON(http.StatusOK, models.StreamResponse{
		Stream: s.engine.CurrentMessage(taskID),
	})
}

func (s *Server) getTodoLists(c *gin.Context) {
	taskID := c.Param("id")
	s.primeProjection(c, taskID)
	c.JSON(http.StatusOK, models.TodoListsResponse{
		Lists: s.engine.TodoLists(taskID),
	})
}

// getRawEvents serves the in-memory diagnostic tail, not the full log; the
// run-scoped events endpoint reads the database.
func (s *Server) getRawEvents(c *gin.Context) {
	taskID := c.Param("id")
	s.primeProjection(c, taskID)
	c.JSON(http.StatusOK, models.EventsResponse{
		Events: s.engine.RawEvents(taskID),
	})
}

func (s *Server) getPendingApprovals(c *gin.Context) {
	taskID := c.Param("id")
	s.primeProjection(c, taskID)
	c.JSON(http.StatusOK, models.ApprovalsResponse{
		Approvals: s.engine.PendingApprovals(taskID),
	})
}

func (s *Server) getLatestRun(c *gin.Context) {
	run, err := s.runSvc.GetLatestRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}
