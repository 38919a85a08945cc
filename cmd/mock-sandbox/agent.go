package main

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vigilops/vigilops/internal/common/logger"
	"github.com/vigilops/vigilops/internal/stream"
	v1 "github.com/vigilops/vigilops/pkg/api/v1"
)

// agent holds the mock sandbox's mutable state: its claimed identity, the
// currently running scenario, and any question waiting for an answer.
type agent struct {
	mu         sync.Mutex
	claimed    bool
	sandboxJWT string

	running   bool
	interrupt chan struct{}

	pendingQuestion string
	answerCh        chan map[string]any

	logger *logger.Logger
}

func newAgent(log *logger.Logger) *agent {
	return &agent{logger: log}
}

// handleClaim stores the session identity. Claiming twice is allowed; the
// newest JWT wins.
func (a *agent) handleClaim(c *gin.Context) {
	var req v1.ClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid claim body"})
		return
	}

	a.mu.Lock()
	a.claimed = true
	a.sandboxJWT = req.SandboxJWT
	a.mu.Unlock()

	a.logger.Info("Sandbox claimed")
	c.JSON(http.StatusOK, gin.H{"status": "claimed"})
}

// handleExecute streams a scripted scenario as SSE. The scenario is chosen
// by keywords in the prompt; see scenarios.go.
func (a *agent) handleExecute(c *gin.Context) {
	var req v1.ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid execute body"})
		return
	}

	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		c.JSON(http.StatusConflict, gin.H{"detail": "an investigation is already running"})
		return
	}
	a.running = true
	a.interrupt = make(chan struct{}, 1)
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
	}()

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "streaming unsupported"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	a.logger.Info("Executing scenario",
		zap.String("thread_id", req.ThreadID),
		zap.Int("file_downloads", len(req.FileDownloads)),
	)
	a.runScenario(c, &req, flusher)
}

// handleInterrupt stops a running scenario and confirms with a short stream.
func (a *agent) handleInterrupt(c *gin.Context) {
	var req v1.InterruptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid interrupt body"})
		return
	}

	a.mu.Lock()
	if a.running && a.interrupt != nil {
		select {
		case a.interrupt <- struct{}{}:
		default:
		}
	}
	a.mu.Unlock()

	flusher, _ := c.Writer.(http.Flusher)
	c.Header("Content-Type", "text/event-stream")
	c.Writer.WriteHeader(http.StatusOK)

	a.emit(c, flusher, mustEvent(req.ThreadID, stream.EventResult, stream.Result{
		Text:    "Investigation interrupted.",
		Success: true,
		Subtype: "interrupted",
	}))
}

// handleAnswer resolves the pending question, if any.
func (a *agent) handleAnswer(c *gin.Context) {
	var req v1.AnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid answer body"})
		return
	}

	a.mu.Lock()
	ch := a.answerCh
	pending := a.pendingQuestion
	a.mu.Unlock()

	if ch == nil || pending == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "No pending question"})
		return
	}

	select {
	case ch <- req.Answers:
		c.JSON(http.StatusOK, v1.AnswerResponse{Status: "accepted", ThreadID: req.ThreadID})
	case <-time.After(2 * time.Second):
		c.JSON(http.StatusBadRequest, gin.H{"detail": "No pending question"})
	}
}

func (a *agent) handleHealth(c *gin.Context) {
	a.mu.Lock()
	claimed := a.claimed
	a.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"status": "ok", "claimed": claimed})
}

// emit writes one SSE frame and flushes it.
func (a *agent) emit(c *gin.Context, flusher http.Flusher, ev stream.Event) bool {
	frame, err := stream.EncodeSSE(ev)
	if err != nil {
		return false
	}
	if _, err := c.Writer.Write(frame); err != nil {
		return false
	}
	if flusher != nil {
		flusher.Flush()
	}
	return true
}

func mustEvent(threadID string, typ stream.EventType, payload any) stream.Event {
	ev, err := stream.New(threadID, typ, payload)
	if err != nil {
		panic(err)
	}
	return ev
}

func promptContains(prompt string, keyword string) bool {
	return strings.Contains(strings.ToLower(prompt), keyword)
}
