// Package routerclient talks to sandboxes through the sandbox router
// gateway. The router terminates at a single base URL and dispatches to the
// target sandbox using identity headers, so the orchestrator never needs
// direct network reachability to sandbox containers.
package routerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/vigilops/vigilops/internal/common/config"
	"github.com/vigilops/vigilops/internal/common/constants"
	apperrors "github.com/vigilops/vigilops/internal/common/errors"
	"github.com/vigilops/vigilops/internal/common/logger"
	v1 "github.com/vigilops/vigilops/pkg/api/v1"
)

// Client issues requests to sandboxes via the router gateway.
type Client struct {
	baseURL   string
	agentPort int
	namespace string

	// streamClient has no timeout; investigations stream for minutes and
	// are bounded by the request context instead.
	streamClient *http.Client
	syncClient   *http.Client

	logger *logger.Logger
}

// New creates a router client from sandbox configuration.
func New(cfg config.SandboxConfig, log *logger.Logger) *Client {
	return &Client{
		baseURL:      cfg.RouterURL,
		agentPort:    cfg.AgentPort,
		namespace:    cfg.Namespace,
		streamClient: &http.Client{},
		syncClient:   &http.Client{Timeout: constants.AnswerTimeout},
		logger:       log,
	}
}

// Execute starts an investigation turn and returns the sandbox's streaming
// response. The caller owns the response body and must close it.
func (c *Client) Execute(ctx context.Context, sandboxName string, req *v1.ExecuteRequest) (*http.Response, error) {
	return c.stream(ctx, sandboxName, "/execute", req)
}

// Interrupt asks the sandbox to stop the current investigation. The sandbox
// answers with a short event stream ending in a result event.
func (c *Client) Interrupt(ctx context.Context, sandboxName string, req *v1.InterruptRequest) (*http.Response, error) {
	return c.stream(ctx, sandboxName, "/interrupt", req)
}

// Answer delivers answers to a pending question synchronously. Upstream
// rejections keep their status and detail so callers can pass them through.
func (c *Client) Answer(ctx context.Context, sandboxName string, req *v1.AnswerRequest) (*v1.AnswerResponse, error) {
	httpReq, err := c.newRequest(ctx, sandboxName, http.MethodPost, "/answer", req)
	if err != nil {
		return nil, err
	}

	resp, err := c.syncClient.Do(httpReq)
	if err != nil {
		return nil, apperrors.InternalError("sandbox answer request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail := readErrorDetail(resp.Body)
		switch resp.StatusCode {
		case http.StatusBadRequest, http.StatusNotFound:
			return nil, apperrors.UpstreamStatus(resp.StatusCode, detail)
		default:
			return nil, apperrors.InternalError(
				fmt.Sprintf("sandbox answer failed with status %d", resp.StatusCode), nil)
		}
	}

	var out v1.AnswerResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apperrors.InternalError("decode sandbox answer response", err)
	}
	return &out, nil
}

// Claim injects the sandbox JWT and optional team token into a warm sandbox.
func (c *Client) Claim(ctx context.Context, sandboxName string, req *v1.ClaimRequest) error {
	ctx, cancel := context.WithTimeout(ctx, constants.ClaimTimeout)
	defer cancel()

	httpReq, err := c.newRequest(ctx, sandboxName, http.MethodPost, "/claim", req)
	if err != nil {
		return err
	}

	resp, err := c.syncClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("claim sandbox %s: %w", sandboxName, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("claim sandbox %s: status %d", sandboxName, resp.StatusCode)
	}
	return nil
}

// Health probes the sandbox's /health endpoint through the router. A nil
// return means the sandbox answered 200 within the timeout.
func (c *Client) Health(ctx context.Context, sandboxName string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := c.newRequest(ctx, sandboxName, http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.syncClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("health check %s: %w", sandboxName, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check %s: status %d", sandboxName, resp.StatusCode)
	}
	return nil
}

func (c *Client) stream(ctx context.Context, sandboxName, path string, body any) (*http.Response, error) {
	httpReq, err := c.newRequest(ctx, sandboxName, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sandbox %s %s: %w", sandboxName, path, err)
	}

	if resp.StatusCode != http.StatusOK {
		detail := readErrorDetail(resp.Body)
		resp.Body.Close()
		c.logger.Warn("Sandbox rejected streaming request",
			zap.String("sandbox", sandboxName),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
		)
		return nil, apperrors.UpstreamStatus(resp.StatusCode, detail)
	}
	return resp, nil
}

func (c *Client) newRequest(ctx context.Context, sandboxName, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(constants.HeaderSandboxID, sandboxName)
	req.Header.Set(constants.HeaderSandboxPort, strconv.Itoa(c.agentPort))
	req.Header.Set(constants.HeaderSandboxNamespace, c.namespace)
	return req, nil
}

// readErrorDetail extracts the "detail" field from an upstream error body,
// falling back to the raw body text.
func readErrorDetail(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(raw) == 0 {
		return "upstream error"
	}
	var body struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Detail != "" {
			return body.Detail
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return string(raw)
}
