// Package bus carries orchestrator lifecycle events: sandbox create/ready/
// delete/reap and investigation start/finish. Events flow over NATS when a
// broker is configured and in process otherwise, so single-node deployments
// need no extra infrastructure.
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is one lifecycle notification. Every event in this plane concerns a
// thread, so the thread ID travels at the top level rather than in Data.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Source    string         `json:"source"`
	ThreadID  string         `json:"thread_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// NewEvent creates an event with a fresh ID and the current time.
func NewEvent(eventType, source, threadID string, data map[string]any) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		ThreadID:  threadID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// Handler consumes one event. Returning an error logs the failure; delivery
// is not retried.
type Handler func(ctx context.Context, event *Event) error

// Subscription is a live handler registration.
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// EventBus publishes lifecycle events and registers subscribers. Subjects
// use NATS naming; Subscribe accepts the NATS wildcards * (one token) and
// > (rest of the subject).
type EventBus interface {
	Publish(ctx context.Context, subject string, event *Event) error
	Subscribe(subject string, handler Handler) (Subscription, error)
	Close()
	IsConnected() bool
}
