// Package provider defines the contract every room execution backend
// satisfies, plus the registry helpers they share.
package provider

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ets-cfuhrman-pfe/EvalueTonSavoir-sub003/internal/registry"
	"github.com/ets-cfuhrman-pfe/EvalueTonSavoir-sub003/internal/rooms"
)

// RoomProvider creates and destroys the execution unit backing one room:
// a worker process, a container, or a scheduled deployment. The registry
// schema is identical across implementations.
type RoomProvider interface {
	CreateRoom(ctx context.Context, opts rooms.Options) (*rooms.RoomInfo, error)
	DeleteRoom(ctx context.Context, roomID string) error
	GetRoomStatus(ctx context.Context, roomID string) (*rooms.RoomInfo, error)
	ListRooms(ctx context.Context) ([]*rooms.RoomInfo, error)
	Cleanup(ctx context.Context) error
}

// Base carries what every concrete provider shares: the registry handle and
// the staleness rule Cleanup applies. Concrete providers go through these
// helpers for all registry access so the schema stays uniform.
type Base struct {
	Registry       *registry.Registry
	StaleThreshold time.Duration
}

func (b *Base) GetRoomInfo(ctx context.Context, roomID string) (*rooms.RoomInfo, error) {
	return b.Registry.GetRoomInfo(ctx, roomID)
}

func (b *Base) UpdateRoomInfo(ctx context.Context, roomID string, patch rooms.Patch) (bool, error) {
	return b.Registry.UpdateRoomInfo(ctx, roomID, patch)
}

// ReapStale walks the registry and force-deletes every room whose heartbeat
// is older than the stale threshold, using the provider's own deleteFn so
// the backing execution unit is torn down too. Individual failures are
// collected, not fatal to the sweep.
func (b *Base) ReapStale(ctx context.Context, deleteFn func(context.Context, string) error) error {
	list, err := b.Registry.ListRooms(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	var errs []error
	for _, info := range list {
		if !info.Stale(now, b.StaleThreshold) {
			continue
		}
		log.Info().Str("module", "provider").Str("room", info.RoomID).
			Time("touched", info.Touched()).Msg("reclaiming stale room")
		if err := deleteFn(ctx, info.RoomID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
