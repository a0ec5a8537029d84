// Package docker runs one container per room against a local Docker
// daemon, recording the container's identity and address in the registry.
package docker

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/rs/zerolog/log"

	"github.com/ets-cfuhrman-pfe/EvalueTonSavoir-sub003/internal/provider"
	"github.com/ets-cfuhrman-pfe/EvalueTonSavoir-sub003/internal/rooms"

	dockerclient "github.com/docker/docker/client"
)

const roomLabel = "evaluetonsavoir.room"

// apiClient is the slice of the Docker SDK this provider touches; tests
// substitute a fake.
type apiClient interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options types.ContainerStartOptions) error
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options types.ContainerRemoveOptions) error
}

type Provider struct {
	provider.Base

	cli       apiClient
	image     string
	redisAddr string
}

func New(base provider.Base, image, redisAddr string) (*Provider, error) {
	cli, err := dockerclient.NewClientWithOpts(dockerclient.FromEnv, dockerclient.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &Provider{Base: base, cli: cli, image: image, redisAddr: redisAddr}, nil
}

// NewWithClient wires a prebuilt client; used by tests.
func NewWithClient(base provider.Base, cli apiClient, image, redisAddr string) *Provider {
	return &Provider{Base: base, cli: cli, image: image, redisAddr: redisAddr}
}

func containerName(roomID string) string { return "quizroom-" + roomID }

func (p *Provider) CreateRoom(ctx context.Context, opts rooms.Options) (*rooms.RoomInfo, error) {
	if opts.RoomID == "" {
		opts.RoomID = rooms.NewRoomID()
	}

	created, err := p.cli.ContainerCreate(ctx, &container.Config{
		Image: p.image,
		Env: []string{
			"QUIZ_ROOM_ID=" + opts.RoomID,
			"QUIZ_REDIS_ADDR=" + p.redisAddr,
		},
		Labels: map[string]string{roomLabel: opts.RoomID},
	}, nil, nil, nil, containerName(opts.RoomID))
	if err != nil {
		return nil, fmt.Errorf("create container for %s: %w", opts.RoomID, err)
	}

	info := &rooms.RoomInfo{
		RoomID:      opts.RoomID,
		Status:      rooms.StatusCreating,
		Provider:    rooms.ProviderDocker,
		CreatedAt:   time.Now(),
		ContainerID: created.ID,
	}
	if err := p.Registry.PutRoomInfo(ctx, info); err != nil {
		return nil, err
	}

	if err := p.cli.ContainerStart(ctx, created.ID, types.ContainerStartOptions{}); err != nil {
		errMsg := err.Error()
		errStatus := rooms.StatusError
		_, _ = p.UpdateRoomInfo(ctx, opts.RoomID, rooms.Patch{Status: &errStatus, Error: &errMsg})
		return nil, fmt.Errorf("start container for %s: %w", opts.RoomID, err)
	}

	if refreshed, err := p.refreshStatus(ctx, info); err == nil {
		info = refreshed
	}
	log.Info().Str("module", "provider.docker").Str("room", info.RoomID).Str("container", created.ID).Msg("room created")
	return info, nil
}

// refreshStatus polls the daemon and folds its view of the container into
// the registry record.
func (p *Provider) refreshStatus(ctx context.Context, info *rooms.RoomInfo) (*rooms.RoomInfo, error) {
	inspected, err := p.cli.ContainerInspect(ctx, info.ContainerID)
	if err != nil {
		return info, err
	}

	now := time.Now()
	patch := rooms.Patch{LastUpdate: &now}
	if inspected.NetworkSettings != nil && inspected.NetworkSettings.IPAddress != "" {
		ip := inspected.NetworkSettings.IPAddress
		patch.ContainerIP = &ip
	}
	if inspected.State != nil {
		cs := &rooms.ContainerStatus{Running: inspected.State.Running}
		if t, err := time.Parse(time.RFC3339Nano, inspected.State.StartedAt); err == nil && !t.IsZero() {
			cs.StartedAt = &t
		}
		if t, err := time.Parse(time.RFC3339Nano, inspected.State.FinishedAt); err == nil && !t.IsZero() {
			cs.FinishedAt = &t
		}
		patch.ContainerStatus = cs
		status := rooms.StatusRunning
		if !inspected.State.Running {
			status = rooms.StatusError
			msg := fmt.Sprintf("container not running: %s", inspected.State.Status)
			patch.Error = &msg
		}
		patch.Status = &status
	}

	if _, err := p.UpdateRoomInfo(ctx, info.RoomID, patch); err != nil {
		return info, err
	}
	return p.GetRoomInfo(ctx, info.RoomID)
}

func (p *Provider) DeleteRoom(ctx context.Context, roomID string) error {
	info, err := p.GetRoomInfo(ctx, roomID)
	if err != nil {
		return err
	}
	if info == nil {
		return nil
	}
	if info.ContainerID != "" {
		if err := p.cli.ContainerStop(ctx, info.ContainerID, container.StopOptions{}); err != nil {
			log.Warn().Str("module", "provider.docker").Str("room", roomID).Err(err).Msg("container stop failed")
		}
		if err := p.cli.ContainerRemove(ctx, info.ContainerID, types.ContainerRemoveOptions{Force: true}); err != nil {
			log.Warn().Str("module", "provider.docker").Str("room", roomID).Err(err).Msg("container remove failed")
		}
	}
	return p.Registry.DeleteRoom(ctx, roomID)
}

func (p *Provider) GetRoomStatus(ctx context.Context, roomID string) (*rooms.RoomInfo, error) {
	info, err := p.GetRoomInfo(ctx, roomID)
	if err != nil || info == nil {
		return info, err
	}
	if info.ContainerID == "" {
		return info, nil
	}
	refreshed, err := p.refreshStatus(ctx, info)
	if err != nil {
		// The daemon lost the container; surface that on the record.
		errMsg := err.Error()
		errStatus := rooms.StatusError
		_, _ = p.UpdateRoomInfo(ctx, roomID, rooms.Patch{Status: &errStatus, Error: &errMsg})
		return p.GetRoomInfo(ctx, roomID)
	}
	return refreshed, nil
}

func (p *Provider) ListRooms(ctx context.Context) ([]*rooms.RoomInfo, error) {
	return p.Registry.ListRooms(ctx)
}

func (p *Provider) Cleanup(ctx context.Context) error {
	return p.ReapStale(ctx, p.DeleteRoom)
}
