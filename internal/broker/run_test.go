package broker

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigilops/vigilops/internal/common/logger"
	"github.com/vigilops/vigilops/internal/sandbox"
	"github.com/vigilops/vigilops/internal/stream"
)

type capturedEvent struct {
	threadID string
	data     []byte
}

type fakeMirror struct {
	events []capturedEvent
}

func (m *fakeMirror) BroadcastToThread(threadID string, data []byte) {
	m.events = append(m.events, capturedEvent{threadID: threadID, data: data})
}

func testRun(t *testing.T, body string, mirror EventMirror) *Run {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "text"})
	require.NoError(t, err)

	svc := &Service{mirror: mirror, logger: log}
	return &Run{
		svc:      svc,
		ThreadID: "thread-1",
		Sandbox:  &sandbox.Info{Name: "investigation-thread-1"},
		resp:     &http.Response{Body: io.NopCloser(strings.NewReader(body))},
		cancel:   func() {},
		logger:   log,
	}
}

func sseFrame(t *testing.T, typ stream.EventType, payload any) string {
	t.Helper()
	ev, err := stream.New("thread-1", typ, payload)
	require.NoError(t, err)
	frame, err := stream.EncodeSSE(ev)
	require.NoError(t, err)
	return string(frame)
}

func TestStreamPassesBytesThroughUnchanged(t *testing.T) {
	body := sseFrame(t, stream.EventThought, stream.Thought{Text: "looking"}) +
		sseFrame(t, stream.EventToolStart, stream.ToolStart{Name: "query", ToolUseID: "t1"}) +
		sseFrame(t, stream.EventToolEnd, stream.ToolEnd{Name: "query", ToolUseID: "t1", Success: true}) +
		sseFrame(t, stream.EventResult, stream.Result{Text: "done", Success: true})

	run := testRun(t, body, nil)
	var out bytes.Buffer
	err := run.Stream(context.Background(), &out, func() {})
	require.NoError(t, err)

	// Byte-for-byte: the relay adds nothing and reorders nothing when the
	// stream terminates cleanly.
	assert.Equal(t, body, out.String())
}

func TestStreamAppendsErrorOnTruncatedStream(t *testing.T) {
	body := sseFrame(t, stream.EventThought, stream.Thought{Text: "starting"})

	run := testRun(t, body, nil)
	var out bytes.Buffer
	err := run.Stream(context.Background(), &out, func() {})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out.String(), body), "original bytes come first")

	appended := strings.TrimPrefix(out.String(), body)
	ev, ok := stream.PeekLine([]byte(appended))
	require.True(t, ok, "appended frame must be a well-formed event")
	assert.Equal(t, stream.EventError, ev.Type)
	assert.Contains(t, string(ev.Data), `"recoverable":false`)
}

func TestStreamTerminalErrorNotDoubled(t *testing.T) {
	body := sseFrame(t, stream.EventError, stream.Error{Message: "agent crashed", Recoverable: true})

	run := testRun(t, body, nil)
	var out bytes.Buffer
	require.NoError(t, run.Stream(context.Background(), &out, func() {}))

	// The sandbox's own error event terminates the stream; nothing appended.
	assert.Equal(t, body, out.String())
}

func TestStreamMirrorsEventsInOrder(t *testing.T) {
	body := sseFrame(t, stream.EventThought, stream.Thought{Text: "a"}) +
		": keepalive\n" +
		sseFrame(t, stream.EventResult, stream.Result{Text: "b", Success: true})

	mirror := &fakeMirror{}
	run := testRun(t, body, mirror)
	var out bytes.Buffer
	require.NoError(t, run.Stream(context.Background(), &out, func() {}))

	require.Len(t, mirror.events, 2, "comment lines are not mirrored")
	first, ok := stream.PeekLine(append([]byte("data: "), mirror.events[0].data...))
	require.True(t, ok)
	assert.Equal(t, stream.EventThought, first.Type)
	second, ok := stream.PeekLine(append([]byte("data: "), mirror.events[1].data...))
	require.True(t, ok)
	assert.Equal(t, stream.EventResult, second.Type)

	// Non-event lines still pass through to the caller.
	assert.Contains(t, out.String(), ": keepalive\n")
}

type failingWriter struct {
	wrote int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.wrote > 0 {
		return 0, io.ErrClosedPipe
	}
	w.wrote++
	return len(p), nil
}

func TestStreamStopsWhenCallerGone(t *testing.T) {
	body := sseFrame(t, stream.EventThought, stream.Thought{Text: "a"}) +
		sseFrame(t, stream.EventResult, stream.Result{Text: "b", Success: true})

	run := testRun(t, body, nil)
	err := run.Stream(context.Background(), &failingWriter{}, func() {})
	assert.Error(t, err)
}
