// Package configclient is a thin HTTP client for the external configuration
// service: routing-key lookups, tenant/team provisioning, impersonation
// tokens, and effective config reads. An empty base URL disables the client
// and every call reports ErrDisabled.
package configclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/vigilops/vigilops/internal/common/config"
	"github.com/vigilops/vigilops/internal/common/logger"
)

// ErrDisabled is returned when no config service is configured.
var ErrDisabled = errors.New("config service is not configured")

// ErrNotFound is returned when a lookup matches nothing.
var ErrNotFound = errors.New("not found in config service")

// Routing is the tenant/team pair a routing key resolves to.
type Routing struct {
	TenantID string `json:"tenant_id"`
	TeamID   string `json:"team_id"`
}

// EffectiveConfig is the merged configuration for a team, deepest node wins.
type EffectiveConfig struct {
	TenantID string         `json:"tenant_id"`
	TeamID   string         `json:"team_id"`
	Values   map[string]any `json:"values"`
}

// Client calls the external configuration service. Calls are single-shot;
// retry policy belongs to the caller.
type Client struct {
	baseURL    string
	adminToken string
	httpClient *http.Client
	logger     *logger.Logger
}

// New creates a config service client. A client with an empty base URL is
// valid but disabled.
func New(cfg config.ConfigServiceConfig, log *logger.Logger) *Client {
	return &Client{
		baseURL:    cfg.BaseURL,
		adminToken: cfg.AdminToken,
		httpClient: &http.Client{Timeout: cfg.TimeoutDuration()},
		logger:     log,
	}
}

// Enabled reports whether a config service endpoint is configured.
func (c *Client) Enabled() bool {
	return c.baseURL != ""
}

// LookupRouting resolves a trigger routing key (for example a Slack channel
// ID) to its tenant and team. Returns ErrNotFound for unregistered keys.
func (c *Client) LookupRouting(ctx context.Context, surface, routingKey string) (*Routing, error) {
	var out Routing
	path := fmt.Sprintf("/v1/routing/%s/%s", url.PathEscape(surface), url.PathEscape(routingKey))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RegisterRoutingKey binds a surface routing key to a team.
func (c *Client) RegisterRoutingKey(ctx context.Context, surface, routingKey, tenantID, teamID string) error {
	body := map[string]string{
		"surface":     surface,
		"routing_key": routingKey,
		"tenant_id":   tenantID,
		"team_id":     teamID,
	}
	return c.do(ctx, http.MethodPost, "/v1/routing", body, nil)
}

// CreateTenantNode creates the tenant node if it does not already exist.
func (c *Client) CreateTenantNode(ctx context.Context, tenantID string) error {
	body := map[string]string{"tenant_id": tenantID}
	err := c.do(ctx, http.MethodPost, "/v1/tenants", body, nil)
	if isConflict(err) {
		return nil
	}
	return err
}

// CreateTeamNode creates the team node under a tenant if it does not exist.
func (c *Client) CreateTeamNode(ctx context.Context, tenantID, teamID string) error {
	body := map[string]string{"tenant_id": tenantID, "team_id": teamID}
	err := c.do(ctx, http.MethodPost, "/v1/teams", body, nil)
	if isConflict(err) {
		return nil
	}
	return err
}

// IssueTeamImpersonationToken mints a short-lived token scoped to the team,
// used by sandboxes to read team-level configuration.
func (c *Client) IssueTeamImpersonationToken(ctx context.Context, tenantID, teamID string) (string, error) {
	body := map[string]string{"tenant_id": tenantID, "team_id": teamID}
	var out struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/tokens/impersonate", body, &out); err != nil {
		return "", err
	}
	return out.Token, nil
}

// GetEffectiveConfig returns the merged configuration visible to a team.
func (c *Client) GetEffectiveConfig(ctx context.Context, tenantID, teamID string) (*EffectiveConfig, error) {
	var out EffectiveConfig
	path := fmt.Sprintf("/v1/config/%s/%s/effective",
		url.PathEscape(tenantID), url.PathEscape(teamID))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// statusError keeps the upstream status for callers that care.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("config service returned %d: %s", e.status, e.body)
}

func isConflict(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.status == http.StatusConflict
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if !c.Enabled() {
		return ErrDisabled
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.adminToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.adminToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("config service request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		io.Copy(io.Discard, resp.Body)
		return ErrNotFound
	case resp.StatusCode >= 400:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &statusError{status: resp.StatusCode, body: string(raw)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode config service response: %w", err)
		}
	} else {
		io.Copy(io.Discard, resp.Body)
	}
	return nil
}
