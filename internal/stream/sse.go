package stream

import (
	"bytes"
	"encoding/json"
)

const dataPrefix = "data: "

// EncodeSSE renders an event as a complete SSE frame:
//
//	data: {"type":"...","data":{...},"thread_id":"..."}\n\n
func EncodeSSE(ev Event) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.Grow(len(dataPrefix) + len(payload) + 2)
	buf.WriteString(dataPrefix)
	buf.Write(payload)
	buf.WriteString("\n\n")
	return buf.Bytes(), nil
}

// PeekLine inspects a single SSE line without mutating it. It returns the
// decoded event and true when the line is a well-formed data frame carrying
// a stream event. Lines that are not data frames, or whose payload does not
// parse, return ok=false; callers forward the bytes regardless.
func PeekLine(line []byte) (Event, bool) {
	trimmed := bytes.TrimRight(line, "\r\n")
	if !bytes.HasPrefix(trimmed, []byte("data:")) {
		return Event{}, false
	}
	body := bytes.TrimSpace(trimmed[len("data:"):])
	if len(body) == 0 {
		return Event{}, false
	}
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return Event{}, false
	}
	if ev.Type == "" {
		return Event{}, false
	}
	return ev, true
}

// IsDataLine reports whether an SSE line is a data frame.
func IsDataLine(line []byte) bool {
	return bytes.HasPrefix(bytes.TrimLeft(line, " \t"), []byte("data:"))
}
