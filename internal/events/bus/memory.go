package bus

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/vigilops/vigilops/internal/common/logger"
)

// MemoryEventBus delivers events in process. It backs single-node
// deployments where no NATS URL is configured and keeps the same subject
// semantics, including wildcard subscriptions.
//
// Delivery is synchronous: Publish invokes every matching handler before
// returning. Handlers must not block and must not publish from within
// themselves.
type MemoryEventBus struct {
	mu     sync.RWMutex
	subs   []*memorySubscription
	closed bool
	logger *logger.Logger
}

type memorySubscription struct {
	bus     *MemoryEventBus
	subject string
	matcher *regexp.Regexp // nil for exact-match subjects
	handler Handler

	mu     sync.Mutex
	active bool
}

// NewMemoryEventBus creates an empty in-process bus.
func NewMemoryEventBus(log *logger.Logger) *MemoryEventBus {
	return &MemoryEventBus{
		logger: log.WithFields(zap.String("component", "memory_bus")),
	}
}

// Publish delivers the event to every subscription whose subject matches.
func (b *MemoryEventBus) Publish(ctx context.Context, subject string, event *Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("event bus is closed")
	}
	// Snapshot the matching handlers so a handler can unsubscribe without
	// deadlocking against the bus lock.
	matched := make([]*memorySubscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.matches(subject) {
			matched = append(matched, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range matched {
		if !sub.IsValid() {
			continue
		}
		if err := sub.handler(ctx, event); err != nil {
			b.logger.Error("Event handler failed",
				zap.String("subject", subject),
				zap.String("event_type", event.Type),
				zap.String("thread_id", event.ThreadID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// Subscribe registers a handler for a subject or wildcard pattern.
func (b *MemoryEventBus) Subscribe(subject string, handler Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("event bus is closed")
	}

	sub := &memorySubscription{
		bus:     b,
		subject: subject,
		matcher: compileSubject(subject),
		handler: handler,
		active:  true,
	}
	b.subs = append(b.subs, sub)
	return sub, nil
}

// Close deactivates every subscription and rejects further publishes.
func (b *MemoryEventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for _, sub := range b.subs {
		sub.mu.Lock()
		sub.active = false
		sub.mu.Unlock()
	}
	b.subs = nil
}

// IsConnected reports whether the bus still accepts publishes.
func (b *MemoryEventBus) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.closed
}

// Unsubscribe deactivates the subscription and removes it from the bus.
func (s *memorySubscription) Unsubscribe() error {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	for i, sub := range s.bus.subs {
		if sub == s {
			s.bus.subs = append(s.bus.subs[:i], s.bus.subs[i+1:]...)
			break
		}
	}
	return nil
}

// IsValid reports whether the subscription still receives events.
func (s *memorySubscription) IsValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *memorySubscription) matches(subject string) bool {
	if s.matcher == nil {
		return subject == s.subject
	}
	return s.matcher.MatchString(subject)
}

// compileSubject turns a NATS-style pattern into a regexp. Exact subjects
// (no wildcards) return nil and are compared directly.
func compileSubject(pattern string) *regexp.Regexp {
	if !strings.ContainsAny(pattern, "*>") {
		return nil
	}
	escaped := regexp.QuoteMeta(pattern)
	escaped = strings.ReplaceAll(escaped, `\*`, `[^.]+`)
	escaped = strings.ReplaceAll(escaped, `>`, `.+`)
	re, err := regexp.Compile("^" + escaped + "$")
	if err != nil {
		return nil
	}
	return re
}
