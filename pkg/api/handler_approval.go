package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/runloom/runloom/pkg/models"
)

// resolveApproval routes an operator decision to the waiting runner. The
// resolution event flows back through the log, so the projection's approval
// state updates the same way every other consumer's does.
func (s *Server) resolveApproval(c *gin.Context) {
	var req models.ResolveApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	err := s.runners.ResolveApproval(c.Request.Context(), c.Param("id"), req.Approve, req.Reason)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "resolved", "approved": req.Approve})
}
