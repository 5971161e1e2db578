package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"

	"github.com/poolwarden/poolwarden/internal/config"
	"github.com/poolwarden/poolwarden/pkg/logging"
)

// DockerAdapter implements Adapter using the Docker SDK.
// This is the development/fallback mode.
type DockerAdapter struct {
	client *client.Client
	cfg    *config.BackendConfig
	logger *logging.Logger
}

// NewDockerAdapter creates a new Docker-based adapter.
func NewDockerAdapter(cfg *config.BackendConfig, logger *logging.Logger) (*DockerAdapter, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	return &DockerAdapter{
		client: cli,
		cfg:    cfg,
		logger: logger.With("component", "docker"),
	}, nil
}

// Close closes the Docker client connection.
func (a *DockerAdapter) Close() error {
	return a.client.Close()
}

// Start creates and starts a container named after the instance id.
func (a *DockerAdapter) Start(ctx context.Context, id string) error {
	containerCfg := &container.Config{
		Image:    a.cfg.Image,
		Hostname: id,
		Labels: map[string]string{
			"app":         "poolwarden",
			"instance-id": id,
		},
	}

	hostCfg := &container.HostConfig{
		RestartPolicy: container.RestartPolicy{
			Name: container.RestartPolicyDisabled,
		},
	}

	var networkCfg *network.NetworkingConfig
	if a.cfg.Network != "" {
		networkCfg = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				a.cfg.Network: {},
			},
		}
	}

	resp, err := a.client.ContainerCreate(ctx, containerCfg, hostCfg, networkCfg, nil, id)
	if err != nil {
		return a.classify(fmt.Errorf("failed to create container: %w", err))
	}

	if err := a.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		// Clean up the half-created container. Error ignored because it may
		// never have been fully created.
		_ = a.client.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return a.classify(fmt.Errorf("failed to start container: %w", err))
	}

	return nil
}

// Stop stops and removes the instance's container. Missing containers are
// treated as already stopped.
func (a *DockerAdapter) Stop(ctx context.Context, id string) error {
	timeout := int(a.cfg.StopTimeout.Seconds())
	if err := a.client.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
		if !client.IsErrNotFound(err) {
			return fmt.Errorf("failed to stop container: %w", err)
		}
	}

	if err := a.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		if !client.IsErrNotFound(err) {
			return fmt.Errorf("failed to remove container: %w", err)
		}
	}

	return nil
}

// Status reports the instance's runtime state via container inspection.
func (a *DockerAdapter) Status(ctx context.Context, id string) (InstanceStatus, error) {
	inspect, err := a.client.ContainerInspect(ctx, id)
	if err != nil {
		if client.IsErrNotFound(err) {
			return StatusStopped, nil
		}
		return StatusUnknown, fmt.Errorf("failed to inspect container: %w", err)
	}

	if inspect.State != nil && inspect.State.Running {
		return StatusRunning, nil
	}
	return StatusStopped, nil
}

// RenewLiveness touches the container as a best-effort keep-alive signal.
func (a *DockerAdapter) RenewLiveness(ctx context.Context, id string) error {
	_, err := a.client.ContainerInspect(ctx, id)
	if err != nil {
		return fmt.Errorf("liveness renewal failed: %w", err)
	}
	return nil
}

// classify translates the daemon's documented capacity error text into a
// typed CapacityError. String matching is confined to this boundary.
func (a *DockerAdapter) classify(err error) error {
	if a.cfg.CapacityErrorMatch != "" && strings.Contains(err.Error(), a.cfg.CapacityErrorMatch) {
		return &CapacityError{Msg: err.Error()}
	}
	return err
}

// Compile-time checks that DockerAdapter implements the adapter interfaces.
var (
	_ Adapter         = (*DockerAdapter)(nil)
	_ LivenessRenewer = (*DockerAdapter)(nil)
)
