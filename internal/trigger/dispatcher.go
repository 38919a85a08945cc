package trigger

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vigilops/vigilops/internal/broker"
	"github.com/vigilops/vigilops/internal/common/config"
	"github.com/vigilops/vigilops/internal/common/logger"
	"github.com/vigilops/vigilops/internal/configclient"
	"github.com/vigilops/vigilops/internal/stream"
	v1 "github.com/vigilops/vigilops/pkg/api/v1"
)

// Dispatcher turns surface triggers into investigations and relays the
// event stream back through the originating adapter.
type Dispatcher struct {
	svc      *broker.Service
	cc       *configclient.Client
	surfaces *SurfaceConfig
	tenancy  config.TenancyConfig
	logger   *logger.Logger
}

// NewDispatcher creates a trigger dispatcher.
func NewDispatcher(svc *broker.Service, cc *configclient.Client, surfaces *SurfaceConfig, tenancy config.TenancyConfig, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		svc:      svc,
		cc:       cc,
		surfaces: surfaces,
		tenancy:  tenancy,
		logger:   log.WithFields(zap.String("component", "trigger")),
	}
}

// Handle runs one trigger end to end: routing, investigation, and event
// relay. It blocks until the stream ends or the adapter fails.
func (d *Dispatcher) Handle(ctx context.Context, adapter Adapter, trig *Trigger) error {
	mapping := d.surfaces.Lookup(adapter.Surface())
	if !mapping.Enabled {
		return fmt.Errorf("surface %s is disabled", adapter.Surface())
	}

	tenantID, teamID, err := d.resolveRouting(ctx, trig.Identifiers, mapping)
	if err != nil {
		return err
	}

	threadID := DeriveThreadID(trig.Identifiers)
	log := d.logger.WithFields(
		zap.String("surface", adapter.Surface()),
		zap.String("thread_id", threadID),
	)

	run, err := d.svc.StartInvestigation(ctx, &v1.InvestigateRequest{
		Prompt:          trig.Prompt,
		ThreadID:        threadID,
		TenantID:        tenantID,
		TeamID:          teamID,
		Images:          trig.Images,
		FileAttachments: trig.Files,
	})
	if err != nil {
		return fmt.Errorf("start investigation: %w", err)
	}

	// The run writes SSE into the pipe; the relay side decodes frames and
	// delivers each event to the adapter exactly once, in order.
	pr, pw := io.Pipe()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer pw.Close()
		return run.Stream(gctx, pw, func() {})
	})

	g.Go(func() error {
		defer pr.Close()
		return d.relay(gctx, adapter, trig.Identifiers, pr)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		log.Warn("Trigger relay ended with error", zap.Error(err))
		return err
	}
	return nil
}

// resolveRouting maps the trigger's routing key to a tenant and team. Keys
// unknown to the config service either auto-provision under the surface's
// defaults or fall back to them without registration.
func (d *Dispatcher) resolveRouting(ctx context.Context, ids Identifiers, mapping SurfaceMapping) (string, string, error) {
	tenantID := mapping.DefaultTenantID
	if tenantID == "" {
		tenantID = d.tenancy.DefaultTenantID
	}
	teamID := mapping.DefaultTeamID
	if teamID == "" {
		teamID = d.tenancy.DefaultTeamID
	}

	if !d.cc.Enabled() {
		return tenantID, teamID, nil
	}

	routing, err := d.cc.LookupRouting(ctx, ids.Surface, ids.RoutingKey)
	if err == nil {
		return routing.TenantID, routing.TeamID, nil
	}
	if !errors.Is(err, configclient.ErrNotFound) {
		return "", "", fmt.Errorf("routing lookup for %s/%s: %w", ids.Surface, ids.RoutingKey, err)
	}

	if mapping.AutoProvision {
		if err := d.provision(ctx, ids, tenantID, teamID); err != nil {
			d.logger.Warn("Auto-provisioning failed, using defaults",
				zap.String("routing_key", ids.RoutingKey), zap.Error(err))
		}
	}
	return tenantID, teamID, nil
}

// provision creates the tenant and team nodes and registers the routing key.
// Creation is idempotent; a concurrent trigger for the same key loses the
// registration race harmlessly.
func (d *Dispatcher) provision(ctx context.Context, ids Identifiers, tenantID, teamID string) error {
	if err := d.cc.CreateTenantNode(ctx, tenantID); err != nil {
		return err
	}
	if err := d.cc.CreateTeamNode(ctx, tenantID, teamID); err != nil {
		return err
	}
	return d.cc.RegisterRoutingKey(ctx, ids.Surface, ids.RoutingKey, tenantID, teamID)
}

// relay reads SSE frames and hands decoded events to the adapter in order.
func (d *Dispatcher) relay(ctx context.Context, adapter Adapter, ids Identifiers, r io.Reader) error {
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			if ev, ok := stream.PeekLine(line); ok {
				if rerr := adapter.Respond(ctx, ids, ev); rerr != nil {
					return fmt.Errorf("adapter respond: %w", rerr)
				}
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}
