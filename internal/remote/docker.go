package remote

import (
	"context"
	"fmt"
	"strings"

	"github.com/Data-Integrities/backend-ai/internal/models"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// ContainerAPI is the subset of the docker client used for container actors.
type ContainerAPI interface {
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerKill(ctx context.Context, containerID, signal string) error
}

// NewDockerClient connects to the daemon configured in the environment.
func NewDockerClient() (*client.Client, error) {
	return client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
}

// ContainerActor observes and controls one docker container.
type ContainerActor struct {
	API       ContainerAPI
	Container string
}

func (c *ContainerActor) Observe(ctx context.Context) (Observation, error) {
	inspect, err := c.API.ContainerInspect(ctx, c.Container)
	if err != nil {
		if client.IsErrNotFound(err) {
			return Observation{State: models.ActorStopped, Detail: "not found"}, nil
		}
		return Observation{State: models.ActorUnknown}, fmt.Errorf("failed to inspect container: %w", err)
	}
	if inspect.ContainerJSONBase == nil || inspect.State == nil {
		return Observation{State: models.ActorUnknown}, nil
	}
	if inspect.State.Running {
		return Observation{State: models.ActorRunning, Detail: inspect.State.Status}, nil
	}
	return Observation{State: models.ActorStopped, Detail: inspect.State.Status}, nil
}

// Dispatch starts or stops the container according to the operation kind.
// Completion is picked up by the poller.
func (c *ContainerActor) Dispatch(ctx context.Context, op Operation) error {
	switch {
	case hasKindPrefix(op.Kind, "start-", "deploy-"):
		if err := c.API.ContainerStart(ctx, c.Container, container.StartOptions{}); err != nil {
			return fmt.Errorf("failed to start container: %w", err)
		}
	case hasKindPrefix(op.Kind, "stop-"):
		if err := c.API.ContainerStop(ctx, c.Container, container.StopOptions{}); err != nil {
			return fmt.Errorf("failed to stop container: %w", err)
		}
	case hasKindPrefix(op.Kind, "restart-"):
		if err := c.API.ContainerStop(ctx, c.Container, container.StopOptions{}); err != nil {
			return fmt.Errorf("failed to stop container: %w", err)
		}
		if err := c.API.ContainerStart(ctx, c.Container, container.StartOptions{}); err != nil {
			return fmt.Errorf("failed to start container: %w", err)
		}
	case hasKindPrefix(op.Kind, "kill-", "terminate-"):
		return c.Terminate(ctx)
	default:
		return fmt.Errorf("%w: kind %q on container %s", ErrNoTransport, op.Kind, c.Container)
	}
	return nil
}

// Terminate sends SIGKILL to the container.
func (c *ContainerActor) Terminate(ctx context.Context) error {
	if err := c.API.ContainerKill(ctx, c.Container, "SIGKILL"); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "is not running") {
			return nil
		}
		return fmt.Errorf("failed to kill container: %w", err)
	}
	return nil
}
