package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/containers/podman/v5/pkg/bindings"
	"github.com/containers/podman/v5/pkg/bindings/containers"
	"github.com/containers/podman/v5/pkg/specgen"
	nettypes "github.com/containers/common/libnetwork/types"

	"github.com/poolwarden/poolwarden/internal/config"
	"github.com/poolwarden/poolwarden/pkg/logging"
)

// PodmanAdapter implements Adapter using the Podman API.
type PodmanAdapter struct {
	conn   context.Context // Podman connection context
	cfg    *config.BackendConfig
	logger *logging.Logger
}

// NewPodmanAdapter creates a new Podman-based adapter.
func NewPodmanAdapter(cfg *config.BackendConfig, logger *logging.Logger) (*PodmanAdapter, error) {
	conn, err := bindings.NewConnection(context.Background(), cfg.PodmanSocketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Podman socket at %s: %w", cfg.PodmanSocketPath, err)
	}

	return &PodmanAdapter{
		conn:   conn,
		cfg:    cfg,
		logger: logger.With("component", "podman"),
	}, nil
}

// Close is a no-op for Podman (connection is context-based).
func (a *PodmanAdapter) Close() error {
	return nil
}

// Start creates and starts a container named after the instance id.
func (a *PodmanAdapter) Start(ctx context.Context, id string) error {
	s := specgen.NewSpecGenerator(a.cfg.Image, false)
	s.Name = id
	s.Hostname = id
	s.Labels = map[string]string{
		"app":         "poolwarden",
		"instance-id": id,
	}

	if a.cfg.Network != "" {
		s.Networks = map[string]nettypes.PerNetworkOptions{
			a.cfg.Network: {},
		}
	}

	createResponse, err := containers.CreateWithSpec(a.conn, s, nil)
	if err != nil {
		return a.classify(fmt.Errorf("failed to create container: %w", err))
	}

	if err := containers.Start(a.conn, createResponse.ID, nil); err != nil {
		_, _ = containers.Remove(a.conn, createResponse.ID, new(containers.RemoveOptions).WithForce(true))
		return a.classify(fmt.Errorf("failed to start container: %w", err))
	}

	return nil
}

// Stop stops and removes the instance's container. Missing containers are
// treated as already stopped.
func (a *PodmanAdapter) Stop(ctx context.Context, id string) error {
	timeout := uint(a.cfg.StopTimeout.Seconds())
	stopOpts := new(containers.StopOptions).WithTimeout(timeout).WithIgnore(true)
	if err := containers.Stop(a.conn, id, stopOpts); err != nil {
		if !isNoSuchContainer(err) {
			a.logger.Warn("Failed to stop container", "instanceID", id, "error", err)
		}
	}

	removeOpts := new(containers.RemoveOptions).WithForce(true).WithIgnore(true)
	if _, err := containers.Remove(a.conn, id, removeOpts); err != nil {
		if !isNoSuchContainer(err) {
			return fmt.Errorf("failed to remove container: %w", err)
		}
	}

	return nil
}

// Status reports the instance's runtime state via container inspection.
func (a *PodmanAdapter) Status(ctx context.Context, id string) (InstanceStatus, error) {
	data, err := containers.Inspect(a.conn, id, nil)
	if err != nil {
		if isNoSuchContainer(err) {
			return StatusStopped, nil
		}
		return StatusUnknown, fmt.Errorf("failed to inspect container: %w", err)
	}

	if data.State != nil && data.State.Status == "running" {
		return StatusRunning, nil
	}
	return StatusStopped, nil
}

// RenewLiveness touches the container as a best-effort keep-alive signal.
func (a *PodmanAdapter) RenewLiveness(ctx context.Context, id string) error {
	exists, err := containers.Exists(a.conn, id, nil)
	if err != nil {
		return fmt.Errorf("liveness renewal failed: %w", err)
	}
	if !exists {
		return fmt.Errorf("liveness renewal failed: container %s not found", id)
	}
	return nil
}

// classify translates the backend's documented capacity error text into a
// typed CapacityError. String matching is confined to this boundary.
func (a *PodmanAdapter) classify(err error) error {
	if a.cfg.CapacityErrorMatch != "" && strings.Contains(err.Error(), a.cfg.CapacityErrorMatch) {
		return &CapacityError{Msg: err.Error()}
	}
	return err
}

func isNoSuchContainer(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such container")
}

// Compile-time checks that PodmanAdapter implements the adapter interfaces.
var (
	_ Adapter         = (*PodmanAdapter)(nil)
	_ LivenessRenewer = (*PodmanAdapter)(nil)
)
