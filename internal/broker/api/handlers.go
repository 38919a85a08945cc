// Package api exposes the broker's HTTP surface.
package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vigilops/vigilops/internal/broker"
	"github.com/vigilops/vigilops/internal/common/constants"
	"github.com/vigilops/vigilops/internal/common/errors"
	"github.com/vigilops/vigilops/internal/common/logger"
	v1 "github.com/vigilops/vigilops/pkg/api/v1"
)

// Handler contains HTTP handlers for the broker API
type Handler struct {
	service *broker.Service
	logger  *logger.Logger
}

// NewHandler creates a new API handler
func NewHandler(service *broker.Service, log *logger.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  log.WithFields(zap.String("component", "broker-api")),
	}
}

// Investigate starts or resumes an investigation and streams its events
// back as SSE until a terminal event or disconnect.
// POST /v1/investigate
func (h *Handler) Investigate(c *gin.Context) {
	var req v1.InvestigateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := errors.ValidationError("request", err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	run, err := h.service.StartInvestigation(c.Request.Context(), &req)
	if err != nil {
		h.logger.Error("failed to start investigation",
			zap.String("thread_id", req.ThreadID), zap.Error(err))
		appErr := errors.From(err, "failed to start investigation")
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	h.streamRun(c, run)
}

// Interrupt stops the running investigation for a thread and streams the
// sandbox's confirmation events.
// POST /v1/interrupt
func (h *Handler) Interrupt(c *gin.Context) {
	var req v1.InterruptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := errors.ValidationError("request", err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	run, err := h.service.Interrupt(c.Request.Context(), req.ThreadID)
	if err != nil {
		h.logger.Warn("failed to interrupt investigation",
			zap.String("thread_id", req.ThreadID), zap.Error(err))
		appErr := errors.From(err, "failed to interrupt investigation")
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	h.streamRun(c, run)
}

// Answer relays answers to the sandbox's pending question.
// POST /v1/answer
func (h *Handler) Answer(c *gin.Context) {
	var req v1.AnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := errors.ValidationError("request", err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	resp, err := h.service.Answer(c.Request.Context(), &req)
	if err != nil {
		appErr := errors.From(err, "failed to deliver answer")
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ListSandboxes returns the sandboxes the orchestrator tracks.
// GET /v1/sandboxes
func (h *Handler) ListSandboxes(c *gin.Context) {
	sandboxes := h.service.Sandboxes()
	c.JSON(http.StatusOK, gin.H{
		"sandboxes": sandboxes,
		"total":     len(sandboxes),
	})
}

// DeleteSandbox tears down the sandbox for a thread.
// DELETE /v1/sandboxes/:thread_id
func (h *Handler) DeleteSandbox(c *gin.Context) {
	threadID := c.Param("thread_id")
	if threadID == "" {
		appErr := errors.BadRequest("thread_id is required")
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	if err := h.service.DeleteSandbox(c.Request.Context(), threadID); err != nil {
		h.logger.Error("failed to delete sandbox",
			zap.String("thread_id", threadID), zap.Error(err))
		appErr := errors.From(err, "failed to delete sandbox")
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted", "thread_id": threadID})
}

// History returns persisted investigation records for a thread.
// GET /v1/threads/:thread_id/history
func (h *Handler) History(c *gin.Context) {
	threadID := c.Param("thread_id")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	records, err := h.service.InvestigationHistory(c.Request.Context(), threadID, limit)
	if err != nil {
		appErr := errors.From(err, "failed to load history")
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records, "total": len(records)})
}

// Health reports liveness and sweeps expired download tokens.
// GET /health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.Health(c.Request.Context()))
}

// streamRun switches the response to SSE and relays the run to the caller.
func (h *Handler) streamRun(c *gin.Context, run *broker.Run) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		run.Close()
		appErr := errors.InternalError("streaming unsupported by connection", nil)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Header(constants.HeaderThreadID, run.ThreadID)
	c.Writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	_ = run.Stream(c.Request.Context(), c.Writer, flusher.Flush)
}
