package streaming

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/vigilops/vigilops/internal/common/logger"
	"github.com/vigilops/vigilops/internal/events/bus"
)

// ThreadBroadcaster fans a payload out to every observer of a thread. The
// Hub implements it.
type ThreadBroadcaster interface {
	BroadcastToThread(threadID string, data []byte)
}

// lifecycleNotice is the frame observers receive for bus events, alongside
// the mirrored stream events. The "kind" field lets clients tell the two
// apart.
type lifecycleNotice struct {
	Kind     string         `json:"kind"`
	Type     string         `json:"type"`
	ThreadID string         `json:"thread_id"`
	Data     map[string]any `json:"data,omitempty"`
}

// MirrorLifecycle subscribes to every orchestrator subject and forwards
// thread-scoped lifecycle events to that thread's observers, so a console
// watching a thread sees sandbox state changes between stream events.
func MirrorLifecycle(b bus.EventBus, target ThreadBroadcaster, log *logger.Logger) (bus.Subscription, error) {
	return b.Subscribe("vigilops.>", func(ctx context.Context, ev *bus.Event) error {
		if ev.ThreadID == "" {
			return nil
		}
		payload, err := json.Marshal(lifecycleNotice{
			Kind:     "lifecycle",
			Type:     ev.Type,
			ThreadID: ev.ThreadID,
			Data:     ev.Data,
		})
		if err != nil {
			log.Warn("Could not encode lifecycle notice",
				zap.String("type", ev.Type), zap.Error(err))
			return nil
		}
		target.BroadcastToThread(ev.ThreadID, payload)
		return nil
	})
}
