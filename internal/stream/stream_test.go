package stream

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeSSEFrame(t *testing.T) {
	ev, err := New("thread-1", EventThought, Thought{Text: "checking dashboards"})
	require.NoError(t, err)

	frame, err := EncodeSSE(ev)
	require.NoError(t, err)

	s := string(frame)
	assert.True(t, len(s) > 0)
	assert.Equal(t, "data: ", s[:6])
	assert.Equal(t, "\n\n", s[len(s)-2:])

	var decoded Event
	require.NoError(t, json.Unmarshal(frame[6:len(frame)-2], &decoded))
	assert.Equal(t, EventThought, decoded.Type)
	assert.Equal(t, "thread-1", decoded.ThreadID)
}

func TestPeekLineDecodesDataFrames(t *testing.T) {
	ev, err := New("thread-1", EventResult, Result{Text: "done", Success: true})
	require.NoError(t, err)
	frame, err := EncodeSSE(ev)
	require.NoError(t, err)

	decoded, ok := PeekLine(frame)
	require.True(t, ok)
	assert.Equal(t, EventResult, decoded.Type)

	var res Result
	require.NoError(t, json.Unmarshal(decoded.Data, &res))
	assert.Equal(t, "done", res.Text)
	assert.True(t, res.Success)
}

func TestPeekLineIgnoresNonDataLines(t *testing.T) {
	cases := []string{
		"",
		"\n",
		": keepalive comment\n",
		"event: custom\n",
		"data:\n",
		"data: not-json\n",
		"data: {\"no_type\":true}\n",
	}
	for _, line := range cases {
		_, ok := PeekLine([]byte(line))
		assert.False(t, ok, "line %q must not decode", line)
	}
}

func TestPeekLineUnknownTypePassesThrough(t *testing.T) {
	// Forward-compatibility: unknown tags still decode, the relay just
	// treats them as non-terminal.
	ev, ok := PeekLine([]byte(`data: {"type":"future_event","data":{}}` + "\n"))
	require.True(t, ok)
	assert.Equal(t, EventType("future_event"), ev.Type)
	assert.False(t, ev.Type.IsTerminal())
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, EventResult.IsTerminal())
	assert.True(t, EventError.IsTerminal())
	assert.False(t, EventThought.IsTerminal())
	assert.False(t, EventToolStart.IsTerminal())
	assert.False(t, EventQuestion.IsTerminal())
	assert.False(t, EventQuestionTimeout.IsTerminal())
}

func TestIsDataLine(t *testing.T) {
	assert.True(t, IsDataLine([]byte("data: {}\n")))
	assert.True(t, IsDataLine([]byte("  data: {}\n")))
	assert.False(t, IsDataLine([]byte(": comment\n")))
	assert.False(t, IsDataLine([]byte("id: 3\n")))
}

func TestNewErrorShape(t *testing.T) {
	ev := NewError("thread-1", "sandbox stream ended unexpectedly", false)
	assert.Equal(t, EventError, ev.Type)

	var e Error
	require.NoError(t, json.Unmarshal(ev.Data, &e))
	assert.Equal(t, "sandbox stream ended unexpectedly", e.Message)
	assert.False(t, e.Recoverable)
}
