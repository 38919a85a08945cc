package streaming

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigilops/vigilops/internal/common/logger"
	"github.com/vigilops/vigilops/internal/events"
	"github.com/vigilops/vigilops/internal/events/bus"
)

type recordingBroadcaster struct {
	threads  []string
	payloads [][]byte
}

func (r *recordingBroadcaster) BroadcastToThread(threadID string, data []byte) {
	r.threads = append(r.threads, threadID)
	r.payloads = append(r.payloads, data)
}

func TestMirrorLifecycleForwardsThreadEvents(t *testing.T) {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "text"})
	require.NoError(t, err)
	b := bus.NewMemoryEventBus(log)
	target := &recordingBroadcaster{}

	sub, err := MirrorLifecycle(b, target, log)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, b.Publish(context.Background(), events.SubjectSandbox,
		bus.NewEvent(events.SandboxReady, "vigilops-orchestrator", "alert-42", map[string]any{
			"sandbox": "investigation-alert-42",
		})))
	require.NoError(t, b.Publish(context.Background(), events.SubjectInvestigation,
		bus.NewEvent(events.InvestigationStarted, "vigilops-orchestrator", "alert-42", nil)))

	require.Len(t, target.threads, 2)
	assert.Equal(t, []string{"alert-42", "alert-42"}, target.threads)

	var notice lifecycleNotice
	require.NoError(t, json.Unmarshal(target.payloads[0], &notice))
	assert.Equal(t, "lifecycle", notice.Kind)
	assert.Equal(t, events.SandboxReady, notice.Type)
	assert.Equal(t, "investigation-alert-42", notice.Data["sandbox"])
}

func TestMirrorLifecycleSkipsUnscopedEvents(t *testing.T) {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "text"})
	require.NoError(t, err)
	b := bus.NewMemoryEventBus(log)
	target := &recordingBroadcaster{}

	_, err = MirrorLifecycle(b, target, log)
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), events.SubjectSandbox,
		bus.NewEvent(events.SandboxReaped, "vigilops-orchestrator", "", nil)))
	assert.Empty(t, target.threads)
}
