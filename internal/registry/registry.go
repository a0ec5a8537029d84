// Package registry is the shared room registry: one Redis record per live
// room, the single source of truth across processes and containers.
package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/ets-cfuhrman-pfe/EvalueTonSavoir-sub003/internal/rooms"
)

const keyPrefix = "room:"

// Key returns the registry key for a room id.
func Key(roomID string) string { return keyPrefix + roomID }

type Registry struct {
	rdb *redis.Client
}

func New(addr, password string, db int) *Registry {
	return &Registry{rdb: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

// NewWithClient wraps an existing client; used by tests.
func NewWithClient(rdb *redis.Client) *Registry {
	return &Registry{rdb: rdb}
}

func (r *Registry) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *Registry) Close() error {
	return r.rdb.Close()
}

// GetRoomInfo reads and deserializes one record. A missing record is not an
// error: it returns (nil, nil).
func (r *Registry) GetRoomInfo(ctx context.Context, roomID string) (*rooms.RoomInfo, error) {
	data, err := r.rdb.Get(ctx, Key(roomID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("registry get %s: %w", roomID, err)
	}
	var info rooms.RoomInfo
	if err := info.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("registry decode %s: %w", roomID, err)
	}
	return &info, nil
}

func (r *Registry) PutRoomInfo(ctx context.Context, info *rooms.RoomInfo) error {
	if err := r.rdb.Set(ctx, Key(info.RoomID), info, 0).Err(); err != nil {
		return fmt.Errorf("registry put %s: %w", info.RoomID, err)
	}
	return nil
}

// UpdateRoomInfo merges the patch into an existing record. It returns false
// and performs no write when the room does not exist.
func (r *Registry) UpdateRoomInfo(ctx context.Context, roomID string, patch rooms.Patch) (bool, error) {
	info, err := r.GetRoomInfo(ctx, roomID)
	if err != nil {
		return false, err
	}
	if info == nil {
		return false, nil
	}
	info.Merge(patch)
	if err := r.PutRoomInfo(ctx, info); err != nil {
		return false, err
	}
	return true, nil
}

// DeleteRoom removes a record; deleting an absent room is a no-op.
func (r *Registry) DeleteRoom(ctx context.Context, roomID string) error {
	if err := r.rdb.Del(ctx, Key(roomID)).Err(); err != nil {
		return fmt.Errorf("registry delete %s: %w", roomID, err)
	}
	return nil
}

// ListRooms scans every room:* key and decodes the records. Records that
// vanish between the scan and the read are skipped.
func (r *Registry) ListRooms(ctx context.Context) ([]*rooms.RoomInfo, error) {
	var out []*rooms.RoomInfo
	iter := r.rdb.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := r.rdb.Get(ctx, iter.Val()).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("registry list: %w", err)
		}
		var info rooms.RoomInfo
		if err := info.UnmarshalBinary(data); err != nil {
			log.Warn().Str("module", "registry").Str("key", iter.Val()).Err(err).Msg("skipping undecodable record")
			continue
		}
		out = append(out, &info)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("registry scan: %w", err)
	}
	return out, nil
}

// Heartbeat refreshes a room's lastUpdate, optionally advancing its status.
// The owning execution unit must call this at least as often as the cleanup
// sweep interval or the room is reclaimed as stale.
func (r *Registry) Heartbeat(ctx context.Context, roomID string, status rooms.Status) (bool, error) {
	now := time.Now()
	patch := rooms.Patch{LastUpdate: &now}
	if status != "" {
		patch.Status = &status
	}
	return r.UpdateRoomInfo(ctx, roomID, patch)
}
