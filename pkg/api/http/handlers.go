package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/aescanero/dagrun/pkg/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RunSubmitResponse represents a run submission response
type RunSubmitResponse struct {
	RunID       string `json:"run_id"`
	WorkflowID  string `json:"workflow_id"`
	Status      string `json:"status"`
	SubmittedAt string `json:"submitted_at"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func abortWithError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// handleHealth reports the worker pool health
func (s *Server) handleHealth(c *gin.Context) {
	if s.health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
		return
	}

	status := s.health.GetStatus()
	code := http.StatusOK
	state := "healthy"
	if !status.Healthy {
		code = http.StatusServiceUnavailable
		state = "unhealthy"
	}

	c.JSON(code, gin.H{
		"status":      state,
		"timestamp":   status.Timestamp.Format(time.RFC3339),
		"active_runs": s.orchestrator.ActiveRuns(),
		"workers":     status,
	})
}

// handleSubmitRun creates and dispatches a run of a workflow. An optional
// wait query parameter (a duration) blocks until the run is terminal.
func (s *Server) handleSubmitRun(c *gin.Context) {
	workflowID := c.Param("id")

	var wait time.Duration
	if raw := c.Query("wait"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			abortWithError(c, http.StatusBadRequest, "INVALID_REQUEST", "wait must be a non-negative duration")
			return
		}
		wait = d
	}

	dispatch, err := s.orchestrator.SubmitRun(c.Request.Context(), workflowID)
	if err != nil {
		s.logger.Error("failed to submit run",
			zap.String("workflow_id", workflowID),
			zap.Error(err))
		s.writeSubmitError(c, err)
		return
	}

	if wait > 0 {
		run, err := s.orchestrator.WaitForRun(c.Request.Context(), dispatch.RunID(), wait)
		if err == nil {
			c.JSON(http.StatusOK, run)
			return
		}
		s.logger.Info("run still in progress after wait",
			zap.String("run_id", dispatch.RunID()),
			zap.Error(err))
	}

	// The worker may already have moved the run on
	status := domain.ExecutionStatusInProgress
	if run, err := s.orchestrator.GetRun(c.Request.Context(), dispatch.RunID()); err == nil {
		status = run.Status
	} else {
		s.logger.Warn("failed to read submitted run",
			zap.String("run_id", dispatch.RunID()),
			zap.Error(err))
	}

	c.JSON(http.StatusAccepted, RunSubmitResponse{
		RunID:       dispatch.RunID(),
		WorkflowID:  workflowID,
		Status:      string(status),
		SubmittedAt: time.Now().UTC().Format(time.RFC3339),
	})
}

// writeSubmitError maps planning errors to API error codes
func (s *Server) writeSubmitError(c *gin.Context, err error) {
	var invalidErr *domain.InvalidWorkflowError
	var configErr *domain.ConfigurationError

	switch {
	case errors.As(err, &invalidErr):
		abortWithError(c, http.StatusUnprocessableEntity, "INVALID_WORKFLOW", err.Error())
	case errors.As(err, &configErr):
		abortWithError(c, http.StatusUnprocessableEntity, "CONFIGURATION_ERROR", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		abortWithError(c, http.StatusNotFound, "NOT_FOUND", "Workflow not found")
	case errors.Is(err, domain.ErrRunAlreadyStarted):
		abortWithError(c, http.StatusConflict, "RUN_ALREADY_STARTED", err.Error())
	default:
		abortWithError(c, http.StatusInternalServerError, "SUBMISSION_FAILED", err.Error())
	}
}

// handleGetRun returns the run record
func (s *Server) handleGetRun(c *gin.Context) {
	run, err := s.orchestrator.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeLookupError(c, err)
		return
	}

	c.JSON(http.StatusOK, run)
}

// handleListTasks returns the execution records of a run in plan order
func (s *Server) handleListTasks(c *gin.Context) {
	runID := c.Param("id")

	if _, err := s.orchestrator.GetRun(c.Request.Context(), runID); err != nil {
		s.writeLookupError(c, err)
		return
	}

	records, err := s.orchestrator.ListTaskExecutions(c.Request.Context(), runID)
	if err != nil {
		s.writeLookupError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id": runID,
		"tasks":  records,
		"total":  len(records),
	})
}

// handleCancelRun cancels a dispatched run
func (s *Server) handleCancelRun(c *gin.Context) {
	runID := c.Param("id")

	if err := s.orchestrator.CancelRun(c.Request.Context(), runID); err != nil {
		s.logger.Warn("failed to cancel run",
			zap.String("run_id", runID),
			zap.Error(err))
		abortWithError(c, http.StatusConflict, "CANCELLATION_FAILED", err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id":       runID,
		"status":       domain.ExecutionStatusCancelled,
		"cancelled_at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) writeLookupError(c *gin.Context, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		abortWithError(c, http.StatusNotFound, "NOT_FOUND", "Run not found")
		return
	}
	s.logger.Error("failed to read run", zap.Error(err))
	abortWithError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
}
