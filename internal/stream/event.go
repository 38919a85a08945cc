// Package stream defines the event protocol spoken between in-sandbox agents
// and the orchestration plane. Agents emit a flat sequence of tagged events;
// the orchestrator forwards them byte-for-byte and only inspects the tag to
// detect terminal events.
package stream

import (
	"encoding/json"
	"fmt"
)

// EventType tags a stream event variant.
type EventType string

const (
	EventThought         EventType = "thought"
	EventToolStart       EventType = "tool_start"
	EventToolEnd         EventType = "tool_end"
	EventQuestion        EventType = "question"
	EventQuestionTimeout EventType = "question_timeout"
	EventResult          EventType = "result"
	EventError           EventType = "error"
)

// Event is the wire envelope for a single stream event.
type Event struct {
	Type     EventType       `json:"type"`
	Data     json.RawMessage `json:"data"`
	ThreadID string          `json:"thread_id,omitempty"`
}

// Thought is a free-form reasoning step emitted by the agent.
type Thought struct {
	Text            string `json:"text"`
	ParentToolUseID string `json:"parent_tool_use_id,omitempty"`
}

// ToolStart marks the beginning of a tool invocation.
type ToolStart struct {
	Name            string         `json:"name"`
	Input           map[string]any `json:"input,omitempty"`
	ToolUseID       string         `json:"tool_use_id"`
	ParentToolUseID string         `json:"parent_tool_use_id,omitempty"`
}

// ToolEnd marks the completion of a tool invocation.
type ToolEnd struct {
	Name            string `json:"name"`
	ToolUseID       string `json:"tool_use_id"`
	Success         bool   `json:"success"`
	Output          string `json:"output,omitempty"`
	ParentToolUseID string `json:"parent_tool_use_id,omitempty"`
}

// QuestionSpec is a single question the agent wants answered by the user.
type QuestionSpec struct {
	ID          string   `json:"id"`
	Question    string   `json:"question"`
	Options     []string `json:"options,omitempty"`
	MultiSelect bool     `json:"multi_select,omitempty"`
}

// Question asks the user one or more questions and pauses the agent.
type Question struct {
	Questions []QuestionSpec `json:"questions"`
}

// QuestionTimeout signals that a pending question expired unanswered.
type QuestionTimeout struct{}

// ImageRef is an inline image attached to a result.
type ImageRef struct {
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
	Filename  string `json:"filename,omitempty"`
}

// FileRef is a file produced by the agent and referenced from a result.
type FileRef struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	URL      string `json:"url,omitempty"`
}

// Result is the terminal success/summary event of an investigation turn.
type Result struct {
	Text    string     `json:"text"`
	Success bool       `json:"success"`
	Subtype string     `json:"subtype,omitempty"`
	Images  []ImageRef `json:"images,omitempty"`
	Files   []FileRef  `json:"files,omitempty"`
}

// Error is the terminal failure event of an investigation turn.
type Error struct {
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

// New builds an Event with the payload marshaled into Data.
func New(threadID string, typ EventType, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return Event{Type: typ, Data: data, ThreadID: threadID}, nil
}

// NewError builds an orchestrator-side error event. It never fails: the
// payload is a fixed shape.
func NewError(threadID, message string, recoverable bool) Event {
	data, _ := json.Marshal(Error{Message: message, Recoverable: recoverable})
	return Event{Type: EventError, Data: data, ThreadID: threadID}
}

// IsTerminal reports whether the event type ends a stream.
func (t EventType) IsTerminal() bool {
	return t == EventResult || t == EventError
}
