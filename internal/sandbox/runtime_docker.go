package sandbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vigilops/vigilops/internal/common/logger"
	"github.com/vigilops/vigilops/internal/sandbox/docker"
)

// Labels stamped on every container this orchestrator manages. Recovery
// after a restart lists containers by the managed label and rebuilds the
// in-memory store from the rest.
const (
	labelManaged    = "vigilops.managed"
	labelThreadID   = "vigilops.thread-id"
	labelTenantID   = "vigilops.tenant-id"
	labelTeamID     = "vigilops.team-id"
	labelNamespace  = "vigilops.namespace"
	labelShutdownAt = "vigilops.shutdown-at"
)

// DockerRuntime runs sandboxes as Docker containers.
type DockerRuntime struct {
	client *docker.Client
	logger *logger.Logger
}

// NewDockerRuntime creates a Docker-backed sandbox runtime.
func NewDockerRuntime(client *docker.Client, log *logger.Logger) *DockerRuntime {
	return &DockerRuntime{
		client: client,
		logger: log,
	}
}

// Create creates and starts the sandbox container. The container name is the
// sandbox name, so the runtime enforces at most one live sandbox per thread.
func (r *DockerRuntime) Create(ctx context.Context, spec CreateSpec) (*Info, error) {
	now := time.Now().UTC()
	shutdownAt := now.Add(spec.TTL)

	containerID, err := r.client.CreateContainer(ctx, docker.ContainerConfig{
		Name:  spec.Name,
		Image: spec.Image,
		Env:   spec.Env,
		Labels: map[string]string{
			labelManaged:    "true",
			labelThreadID:   spec.ThreadID,
			labelTenantID:   spec.TenantID,
			labelTeamID:     spec.TeamID,
			labelNamespace:  spec.Namespace,
			labelShutdownAt: shutdownAt.Format(time.RFC3339),
		},
	})
	if err != nil {
		if isNameConflict(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("create sandbox %s: %w", spec.Name, err)
	}

	if err := r.client.StartContainer(ctx, containerID); err != nil {
		// Leave the container for the reaper rather than guessing at cleanup.
		return nil, fmt.Errorf("start sandbox %s: %w", spec.Name, err)
	}

	r.logger.Info("Sandbox container started",
		zap.String("sandbox", spec.Name),
		zap.String("thread_id", spec.ThreadID),
		zap.Time("shutdown_at", shutdownAt),
	)

	return &Info{
		Name:       spec.Name,
		ThreadID:   spec.ThreadID,
		TenantID:   spec.TenantID,
		TeamID:     spec.TeamID,
		Namespace:  spec.Namespace,
		CreatedAt:  now,
		ShutdownAt: shutdownAt,
		State:      StatePending,
	}, nil
}

// Get looks up a sandbox container by name.
func (r *DockerRuntime) Get(ctx context.Context, name string) (*Info, error) {
	ctr, err := r.client.GetContainerInfo(ctx, name)
	if err != nil {
		if docker.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("inspect sandbox %s: %w", name, err)
	}
	if ctr.Labels[labelManaged] != "true" {
		return nil, ErrNotFound
	}
	return infoFromContainer(ctr), nil
}

// Delete force-removes a sandbox container and its volumes.
func (r *DockerRuntime) Delete(ctx context.Context, name string) error {
	if err := r.client.RemoveContainer(ctx, name, true); err != nil {
		if docker.IsNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("remove sandbox %s: %w", name, err)
	}
	r.logger.Info("Sandbox container removed", zap.String("sandbox", name))
	return nil
}

// List returns every managed sandbox container, live or exited.
func (r *DockerRuntime) List(ctx context.Context) ([]*Info, error) {
	containers, err := r.client.ListContainers(ctx, map[string]string{
		labelManaged: "true",
	})
	if err != nil {
		return nil, err
	}
	infos := make([]*Info, 0, len(containers))
	for i := range containers {
		infos = append(infos, infoFromContainer(&containers[i]))
	}
	return infos, nil
}

// HealthCheck pings the Docker daemon.
func (r *DockerRuntime) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx)
}

func infoFromContainer(ctr *docker.ContainerInfo) *Info {
	info := &Info{
		Name:      ctr.Name,
		ThreadID:  ctr.Labels[labelThreadID],
		TenantID:  ctr.Labels[labelTenantID],
		TeamID:    ctr.Labels[labelTeamID],
		Namespace: ctr.Labels[labelNamespace],
		CreatedAt: ctr.StartedAt,
		State:     mapContainerState(ctr.State),
	}
	if raw := ctr.Labels[labelShutdownAt]; raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			info.ShutdownAt = t
		}
	}
	return info
}

func mapContainerState(state string) State {
	switch state {
	case "created":
		return StatePending
	case "running":
		return StateRunning
	case "removing":
		return StateTerminating
	case "exited", "dead":
		return StateDeleted
	default:
		return StatePending
	}
}

// isNameConflict detects the daemon's name-in-use error on create. The SDK
// does not expose a typed error for it.
func isNameConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "is already in use") || strings.Contains(msg, "Conflict")
}
