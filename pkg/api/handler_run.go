package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/runloom/runloom/pkg/models"
)

// getRunSubAgents lists the sub-agents spawned for a live run, served from
// the orchestrator's registry (sub-agent records are owned by the runner,
// not the projection).
func (s *Server) getRunSubAgents(c *gin.Context) {
	subAgents, err := s.runners.ListSubAgents(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no live runner for run"})
		return
	}
	c.JSON(http.StatusOK, models.SubAgentsResponse{SubAgents: subAgents})
}

// getRunToolCalls lists the tool_call timeline items of the run's task.
func (s *Server) getRunToolCalls(c *gin.Context) {
	run, err := s.runSvc.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	s.primeProjection(c, run.TaskID)
	c.JSON(http.StatusOK, gin.H{
		"tool_calls": s.engine.ToolCalls(run.TaskID),
	})
}

// getRunEvents lists the run's full persisted event log in seq order.
func (s *Server) getRunEvents(c *gin.Context) {
	evts, err := s.eventSvc.GetRunEvents(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.EventsResponse{Events: evts})
}
