package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vigilops/vigilops/internal/stream"
	v1 "github.com/vigilops/vigilops/pkg/api/v1"
)

// Scenario keywords. A prompt containing one of these selects the matching
// script; anything else runs the default investigation.
//
//	"ask me"    - emits a question and waits for /answer
//	"fail"      - ends with an error event
//	"truncate"  - closes the stream without a terminal event
//	"download"  - fetches each file_download through its proxy URL first
const stepDelay = 50 * time.Millisecond

func (a *agent) runScenario(c *gin.Context, req *v1.ExecuteRequest, flusher http.Flusher) {
	threadID := req.ThreadID

	switch {
	case promptContains(req.Prompt, "truncate"):
		a.emit(c, flusher, mustEvent(threadID, stream.EventThought, stream.Thought{
			Text: "Starting investigation...",
		}))
		// Simulates an agent crash: no terminal event.
		return

	case promptContains(req.Prompt, "fail"):
		a.emit(c, flusher, mustEvent(threadID, stream.EventThought, stream.Thought{
			Text: "Attempting to reach the target system...",
		}))
		time.Sleep(stepDelay)
		a.emit(c, flusher, mustEvent(threadID, stream.EventError, stream.Error{
			Message:     "target system unreachable",
			Recoverable: true,
		}))
		return

	case promptContains(req.Prompt, "ask me"):
		a.questionScenario(c, req, flusher)
		return
	}

	if len(req.FileDownloads) > 0 {
		a.downloadScenario(c, req, flusher)
		return
	}

	a.defaultScenario(c, req, flusher)
}

// defaultScenario walks through a plausible investigation: thoughts, a tool
// call, and a successful result.
func (a *agent) defaultScenario(c *gin.Context, req *v1.ExecuteRequest, flusher http.Flusher) {
	threadID := req.ThreadID
	steps := []stream.Event{
		mustEvent(threadID, stream.EventThought, stream.Thought{
			Text: "Looking at recent alerts for the affected service.",
		}),
		mustEvent(threadID, stream.EventToolStart, stream.ToolStart{
			Name:      "query_metrics",
			ToolUseID: "tool-1",
			Input:     map[string]any{"query": "error_rate{service=\"checkout\"}"},
		}),
		mustEvent(threadID, stream.EventToolEnd, stream.ToolEnd{
			Name:      "query_metrics",
			ToolUseID: "tool-1",
			Success:   true,
			Output:    "error rate spiked at 14:02 UTC",
		}),
		mustEvent(threadID, stream.EventResult, stream.Result{
			Text:    "Error rate spike traced to a bad deploy at 14:00 UTC. Rolling back resolves it.",
			Success: true,
		}),
	}

	for _, ev := range steps {
		select {
		case <-a.interrupt:
			a.emit(c, flusher, mustEvent(threadID, stream.EventResult, stream.Result{
				Text: "Interrupted.", Success: true, Subtype: "interrupted",
			}))
			return
		case <-c.Request.Context().Done():
			return
		case <-time.After(stepDelay):
		}
		if !a.emit(c, flusher, ev) {
			return
		}
	}
}

// questionScenario emits a question event, pauses until /answer delivers a
// response or the question times out, then finishes.
func (a *agent) questionScenario(c *gin.Context, req *v1.ExecuteRequest, flusher http.Flusher) {
	threadID := req.ThreadID

	a.mu.Lock()
	a.pendingQuestion = "q-1"
	a.answerCh = make(chan map[string]any, 1)
	ch := a.answerCh
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.pendingQuestion = ""
		a.answerCh = nil
		a.mu.Unlock()
	}()

	a.emit(c, flusher, mustEvent(threadID, stream.EventQuestion, stream.Question{
		Questions: []stream.QuestionSpec{{
			ID:       "q-1",
			Question: "Which environment should I investigate?",
			Options:  []string{"production", "staging"},
		}},
	}))

	select {
	case answers := <-ch:
		raw, _ := json.Marshal(answers)
		a.emit(c, flusher, mustEvent(threadID, stream.EventResult, stream.Result{
			Text:    fmt.Sprintf("Investigated using answers %s. No anomalies found.", raw),
			Success: true,
		}))
	case <-time.After(30 * time.Second):
		a.emit(c, flusher, mustEvent(threadID, stream.EventQuestionTimeout, stream.QuestionTimeout{}))
		a.emit(c, flusher, mustEvent(threadID, stream.EventResult, stream.Result{
			Text: "Question timed out, proceeding with production. No anomalies found.", Success: true,
		}))
	case <-c.Request.Context().Done():
	}
}

// downloadScenario exercises the file proxy: every file_download is fetched
// through its proxy URL before the result is emitted.
func (a *agent) downloadScenario(c *gin.Context, req *v1.ExecuteRequest, flusher http.Flusher) {
	threadID := req.ThreadID
	client := &http.Client{Timeout: 30 * time.Second}

	for _, fd := range req.FileDownloads {
		a.emit(c, flusher, mustEvent(threadID, stream.EventToolStart, stream.ToolStart{
			Name:      "fetch_attachment",
			ToolUseID: "dl-" + fd.Token[:8],
			Input:     map[string]any{"filename": fd.Filename},
		}))

		resp, err := client.Get(fd.ProxyURL)
		success := err == nil && resp.StatusCode == http.StatusOK
		output := ""
		if err != nil {
			output = err.Error()
		} else {
			output = fmt.Sprintf("status %d", resp.StatusCode)
			resp.Body.Close()
		}

		a.emit(c, flusher, mustEvent(threadID, stream.EventToolEnd, stream.ToolEnd{
			Name:      "fetch_attachment",
			ToolUseID: "dl-" + fd.Token[:8],
			Success:   success,
			Output:    output,
		}))
	}

	a.emit(c, flusher, mustEvent(threadID, stream.EventResult, stream.Result{
		Text:    fmt.Sprintf("Analyzed %d attachment(s).", len(req.FileDownloads)),
		Success: true,
	}))
}
