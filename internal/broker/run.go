package broker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/vigilops/vigilops/internal/common/logger"
	"github.com/vigilops/vigilops/internal/events"
	"github.com/vigilops/vigilops/internal/persistence"
	"github.com/vigilops/vigilops/internal/sandbox"
	"github.com/vigilops/vigilops/internal/stream"
)

// Run is one in-flight relay of a sandbox event stream to a caller.
type Run struct {
	svc      *Service
	ThreadID string
	Sandbox  *sandbox.Info

	resp     *http.Response
	cancel   context.CancelFunc
	recordID string
	logger   *logger.Logger
}

// Stream relays the sandbox's SSE bytes to w unchanged, flushing after every
// line. Events are decoded passively: well-formed data frames are mirrored
// to observers and watched for a terminal event. A stream that ends without
// one gets a synthesized non-recoverable error event appended.
func (r *Run) Stream(ctx context.Context, w io.Writer, flush func()) error {
	defer r.cancel()
	defer r.resp.Body.Close()

	reader := bufio.NewReader(r.resp.Body)
	sawTerminal := false
	var terminal stream.Event

	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			if werr := r.writeLine(ctx, w, flush, line); werr != nil {
				r.logger.Debug("Caller disconnected mid-stream", zap.Error(werr))
				r.svc.finishRecord(r.recordID, persistence.OutcomeInterrupted, "caller disconnected")
				return werr
			}
			if ev, ok := stream.PeekLine(line); ok {
				r.mirror(line)
				if ev.Type.IsTerminal() {
					sawTerminal = true
					terminal = ev
				}
			}
		}
		if err != nil {
			if err != io.EOF {
				r.logger.Warn("Sandbox stream read failed", zap.Error(err))
			}
			break
		}
	}

	if !sawTerminal {
		r.appendBrokenStreamError(w, flush)
		r.svc.finishRecord(r.recordID, persistence.OutcomeFailed, "stream ended without terminal event")
		r.publishOutcome(ctx, events.InvestigationFailed, "stream ended without terminal event")
		return nil
	}

	outcome, detail := terminalOutcome(terminal)
	r.svc.finishRecord(r.recordID, outcome, detail)
	if outcome == persistence.OutcomeCompleted {
		r.publishOutcome(ctx, events.InvestigationFinished, detail)
	} else {
		r.publishOutcome(ctx, events.InvestigationFailed, detail)
	}
	return nil
}

// Close releases the upstream response without streaming it.
func (r *Run) Close() {
	r.cancel()
	r.resp.Body.Close()
}

func (r *Run) writeLine(ctx context.Context, w io.Writer, flush func(), line []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if _, err := w.Write(line); err != nil {
		return err
	}
	// Flush on frame boundaries so events reach the caller immediately.
	if len(bytes.TrimSpace(line)) == 0 || bytes.HasSuffix(line, []byte("\n")) {
		flush()
	}
	return nil
}

func (r *Run) mirror(line []byte) {
	if r.svc.mirror == nil {
		return
	}
	payload := bytes.TrimSpace(bytes.TrimPrefix(bytes.TrimSpace(line), []byte("data:")))
	if len(payload) > 0 {
		r.svc.mirror.BroadcastToThread(r.ThreadID, payload)
	}
}

// appendBrokenStreamError tells the caller the investigation died without a
// verdict. Best effort: the caller may already be gone.
func (r *Run) appendBrokenStreamError(w io.Writer, flush func()) {
	frame, err := stream.EncodeSSE(stream.NewError(
		r.ThreadID, "sandbox stream ended unexpectedly", false))
	if err != nil {
		return
	}
	if _, err := w.Write(frame); err == nil {
		flush()
	}
}

func (r *Run) publishOutcome(ctx context.Context, eventType, detail string) {
	r.svc.publish(ctx, events.SubjectInvestigation, eventType, r.ThreadID, map[string]any{
		"sandbox": r.Sandbox.Name,
		"detail":  detail,
	})
}

func terminalOutcome(ev stream.Event) (string, string) {
	switch ev.Type {
	case stream.EventResult:
		var res stream.Result
		if err := json.Unmarshal(ev.Data, &res); err == nil && !res.Success {
			return persistence.OutcomeFailed, res.Subtype
		}
		return persistence.OutcomeCompleted, ""
	case stream.EventError:
		var e stream.Error
		_ = json.Unmarshal(ev.Data, &e)
		return persistence.OutcomeFailed, e.Message
	default:
		return persistence.OutcomeCompleted, ""
	}
}
