// Package broker orchestrates investigations: it resolves tenancy, mints
// session JWTs, ensures a sandbox exists and is ready, trades file
// credentials for download tokens, and relays the sandbox's event stream
// back to the caller.
package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vigilops/vigilops/internal/common/config"
	apperrors "github.com/vigilops/vigilops/internal/common/errors"
	"github.com/vigilops/vigilops/internal/common/logger"
	"github.com/vigilops/vigilops/internal/configclient"
	"github.com/vigilops/vigilops/internal/events"
	"github.com/vigilops/vigilops/internal/events/bus"
	"github.com/vigilops/vigilops/internal/fileproxy"
	"github.com/vigilops/vigilops/internal/persistence"
	"github.com/vigilops/vigilops/internal/sandbox"
	"github.com/vigilops/vigilops/internal/sandbox/routerclient"
	"github.com/vigilops/vigilops/internal/tokenvault"
	v1 "github.com/vigilops/vigilops/pkg/api/v1"
)

const eventSource = "vigilops-orchestrator"

// recordTimeout bounds best-effort record writes made off the request path.
const recordTimeout = 5 * time.Second

// Service wires the orchestration plane's components together.
type Service struct {
	cfg          *config.Config
	manager      *sandbox.Manager
	vault        *tokenvault.Vault
	proxy        *fileproxy.Proxy
	router       *routerclient.Client
	configClient *configclient.Client
	records      persistence.Store
	bus          bus.EventBus
	mirror       EventMirror
	logger       *logger.Logger
}

// EventMirror receives a copy of every decoded stream event for a thread.
// The observer hub implements it; a nil mirror disables mirroring.
type EventMirror interface {
	BroadcastToThread(threadID string, data []byte)
}

// NewService creates the broker service.
func NewService(
	cfg *config.Config,
	manager *sandbox.Manager,
	vault *tokenvault.Vault,
	proxy *fileproxy.Proxy,
	router *routerclient.Client,
	cc *configclient.Client,
	records persistence.Store,
	eventBus bus.EventBus,
	mirror EventMirror,
	log *logger.Logger,
) *Service {
	return &Service{
		cfg:          cfg,
		manager:      manager,
		vault:        vault,
		proxy:        proxy,
		router:       router,
		configClient: cc,
		records:      records,
		bus:          eventBus,
		mirror:       mirror,
		logger:       log.WithFields(zap.String("component", "broker")),
	}
}

// StartInvestigation performs every step up to the sandbox accepting the
// execute request: identity resolution, session JWT, sandbox provisioning,
// readiness, claim, and attachment token minting. The returned Run streams
// the sandbox's response.
func (s *Service) StartInvestigation(ctx context.Context, req *v1.InvestigateRequest) (*Run, error) {
	threadID := req.ThreadID
	if threadID == "" {
		threadID = uuid.New().String()
	}
	if err := sandbox.ValidateThreadID(threadID); err != nil {
		return nil, apperrors.BadRequest(err.Error())
	}

	tenantID, teamID := s.resolveTenancy(req)
	log := s.logger.WithFields(
		zap.String("thread_id", threadID),
		zap.String("tenant_id", tenantID),
		zap.String("team_id", teamID),
	)

	sandboxJWT, _, err := s.vault.GetOrCreate(threadID, tenantID, teamID)
	if err != nil {
		return nil, apperrors.InternalError("failed to mint session JWT", err)
	}

	teamToken := req.TeamToken
	if teamToken == "" && s.configClient.Enabled() {
		token, err := s.configClient.IssueTeamImpersonationToken(ctx, tenantID, teamID)
		if err != nil {
			log.Warn("Could not issue team impersonation token", zap.Error(err))
		} else {
			teamToken = token
		}
	}

	info, created, err := s.manager.GetOrCreate(ctx, sandbox.CreateParams{
		ThreadID:   threadID,
		TenantID:   tenantID,
		TeamID:     teamID,
		SandboxJWT: sandboxJWT,
		TeamToken:  teamToken,
	})
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to provision sandbox")
	}

	if created || info.State != sandbox.StateReady {
		if err := s.manager.WaitForReady(ctx, info); err != nil {
			if errors.Is(err, sandbox.ErrReadyTimeout) {
				return nil, apperrors.InternalError(
					fmt.Sprintf("sandbox %s did not become ready in time", info.Name), err)
			}
			return nil, apperrors.Wrap(err, "waiting for sandbox readiness")
		}
	}

	if err := s.manager.EnsureClaimed(ctx, info, sandboxJWT, teamToken); err != nil {
		return nil, apperrors.InternalError("failed to claim sandbox", err)
	}

	downloads, err := s.mintDownloads(req.FileAttachments)
	if err != nil {
		return nil, apperrors.InternalError("failed to mint download tokens", err)
	}

	rec := &persistence.Record{
		ThreadID: threadID,
		TenantID: tenantID,
		TeamID:   teamID,
		Sandbox:  info.Name,
		Prompt:   req.Prompt,
	}
	if s.records != nil {
		if err := s.records.Start(ctx, rec); err != nil {
			log.Warn("Could not persist investigation record", zap.Error(err))
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, s.cfg.Sandbox.RequestTimeoutDuration())
	resp, err := s.router.Execute(execCtx, info.Name, &v1.ExecuteRequest{
		Prompt:        req.Prompt,
		ThreadID:      threadID,
		Images:        req.Images,
		FileDownloads: downloads,
	})
	if err != nil {
		cancel()
		s.finishRecord(rec.ID, persistence.OutcomeFailed, err.Error())
		return nil, apperrors.Wrap(err, "sandbox execute failed")
	}

	s.publish(ctx, events.SubjectInvestigation, events.InvestigationStarted, threadID, map[string]any{
		"tenant_id": tenantID,
		"team_id":   teamID,
		"sandbox":   info.Name,
		"created":   created,
	})

	return &Run{
		svc:      s,
		ThreadID: threadID,
		Sandbox:  info,
		resp:     resp,
		cancel:   cancel,
		recordID: rec.ID,
		logger:   log,
	}, nil
}

// Interrupt asks the thread's sandbox to stop its current investigation and
// returns the sandbox's short confirmation stream.
func (s *Service) Interrupt(ctx context.Context, threadID string) (*Run, error) {
	info, err := s.manager.Get(ctx, threadID)
	if err != nil {
		if errors.Is(err, sandbox.ErrNotFound) {
			return nil, apperrors.NotFoundMessage(
				fmt.Sprintf("No active sandbox for thread '%s'", threadID))
		}
		return nil, apperrors.Wrap(err, "sandbox lookup failed")
	}

	resp, err := s.router.Interrupt(ctx, info.Name, &v1.InterruptRequest{ThreadID: threadID})
	if err != nil {
		return nil, apperrors.Wrap(err, "sandbox interrupt failed")
	}

	return &Run{
		svc:      s,
		ThreadID: threadID,
		Sandbox:  info,
		resp:     resp,
		cancel:   func() {},
		logger:   s.logger.WithFields(zap.String("thread_id", threadID)),
	}, nil
}

// Answer relays user answers to the sandbox's pending question. Upstream 400
// and 404 responses pass through with their detail; anything else surfaces
// as an internal error.
func (s *Service) Answer(ctx context.Context, req *v1.AnswerRequest) (*v1.AnswerResponse, error) {
	info, err := s.manager.Get(ctx, req.ThreadID)
	if err != nil {
		if errors.Is(err, sandbox.ErrNotFound) {
			return nil, apperrors.NotFoundMessage(
				fmt.Sprintf("No active sandbox for thread '%s'", req.ThreadID))
		}
		return nil, apperrors.Wrap(err, "sandbox lookup failed")
	}
	return s.router.Answer(ctx, info.Name, req)
}

// DeleteSandbox tears down the sandbox for a thread. Missing sandboxes are
// not an error; the session JWT stays in the vault.
func (s *Service) DeleteSandbox(ctx context.Context, threadID string) error {
	return s.manager.Delete(ctx, threadID)
}

// Sandboxes lists the sandboxes the orchestrator currently tracks.
func (s *Service) Sandboxes() []*sandbox.Info {
	return s.manager.List()
}

// InvestigationHistory returns persisted records for a thread, newest first.
func (s *Service) InvestigationHistory(ctx context.Context, threadID string, limit int) ([]persistence.Record, error) {
	if s.records == nil {
		return nil, nil
	}
	return s.records.ByThread(ctx, threadID, limit)
}

// Health garbage-collects expired download tokens and reports runtime
// reachability.
func (s *Service) Health(ctx context.Context) *v1.HealthResponse {
	s.proxy.CollectExpired()

	status := "ok"
	if err := s.manager.HealthCheck(ctx); err != nil {
		s.logger.Warn("Runtime health check failed", zap.Error(err))
		status = "degraded"
	}
	return &v1.HealthResponse{
		Status:               status,
		ActiveDownloadTokens: s.proxy.ActiveTokens(),
	}
}

func (s *Service) resolveTenancy(req *v1.InvestigateRequest) (string, string) {
	tenantID := req.TenantID
	if tenantID == "" {
		tenantID = s.cfg.Tenancy.DefaultTenantID
	}
	teamID := req.TeamID
	if teamID == "" {
		teamID = s.cfg.Tenancy.DefaultTeamID
	}
	return tenantID, teamID
}

// mintDownloads trades each attachment's credential for a single-use token.
// The credential never leaves the orchestrator.
func (s *Service) mintDownloads(attachments []v1.FileAttachment) ([]v1.FileDownload, error) {
	if len(attachments) == 0 {
		return nil, nil
	}
	base := strings.TrimRight(s.cfg.FileProxy.PublicBaseURL, "/")
	out := make([]v1.FileDownload, 0, len(attachments))
	for _, att := range attachments {
		token, err := s.proxy.Mint(att.DownloadURL, att.AuthHeader, att.Filename, att.Size, att.MediaType)
		if err != nil {
			return nil, err
		}
		out = append(out, v1.FileDownload{
			Token:     token,
			Filename:  att.Filename,
			Size:      att.Size,
			MediaType: att.MediaType,
			ProxyURL:  fmt.Sprintf("%s/proxy/files/%s", base, token),
		})
	}
	return out, nil
}

func (s *Service) finishRecord(id, outcome, detail string) {
	if s.records == nil || id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := s.records.Finish(ctx, id, outcome, detail); err != nil {
		s.logger.Warn("Could not finish investigation record", zap.Error(err))
	}
}

func (s *Service) publish(ctx context.Context, subject, eventType, threadID string, data map[string]any) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, subject, bus.NewEvent(eventType, eventSource, threadID, data)); err != nil {
		s.logger.Warn("Failed to publish event", zap.String("type", eventType), zap.Error(err))
	}
}
