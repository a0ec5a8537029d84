package provider

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/ets-cfuhrman-pfe/EvalueTonSavoir-sub003/internal/registry"
	"github.com/ets-cfuhrman-pfe/EvalueTonSavoir-sub003/internal/rooms"
)

func newTestBase(t *testing.T) *Base {
	t.Helper()
	mr := miniredis.RunT(t)
	reg := registry.New(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = reg.Close() })
	return &Base{Registry: reg, StaleThreshold: 30 * time.Second}
}

func TestReapStale(t *testing.T) {
	base := newTestBase(t)
	ctx := context.Background()

	old := time.Now().Add(-2 * time.Minute)
	stale := &rooms.RoomInfo{
		RoomID:    "room-staleeeee",
		Status:    rooms.StatusRunning,
		Provider:  rooms.ProviderCluster,
		CreatedAt: old,
	}
	fresh := &rooms.RoomInfo{
		RoomID:    "room-freshhhhh",
		Status:    rooms.StatusRunning,
		Provider:  rooms.ProviderCluster,
		CreatedAt: time.Now(),
	}
	// An old record whose heartbeat is recent must survive too.
	beat := time.Now()
	rescued := &rooms.RoomInfo{
		RoomID:     "room-rescueddd",
		Status:     rooms.StatusRunning,
		Provider:   rooms.ProviderCluster,
		CreatedAt:  old,
		LastUpdate: &beat,
	}
	for _, info := range []*rooms.RoomInfo{stale, fresh, rescued} {
		if err := base.Registry.PutRoomInfo(ctx, info); err != nil {
			t.Fatal(err)
		}
	}

	var deleted []string
	err := base.ReapStale(ctx, func(ctx context.Context, roomID string) error {
		deleted = append(deleted, roomID)
		return base.Registry.DeleteRoom(ctx, roomID)
	})
	if err != nil {
		t.Fatalf("ReapStale: %v", err)
	}

	if len(deleted) != 1 || deleted[0] != "room-staleeeee" {
		t.Errorf("deleted = %v, want only the stale room", deleted)
	}

	list, err := base.Registry.ListRooms(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("len(list) = %d after reap, want 2", len(list))
	}
	for _, info := range list {
		if info.RoomID == "room-staleeeee" {
			t.Error("stale room still listed after cleanup")
		}
	}
}

func TestReapStale_EmptyRegistry(t *testing.T) {
	base := newTestBase(t)
	err := base.ReapStale(context.Background(), func(context.Context, string) error {
		t.Fatal("deleteFn called on empty registry")
		return nil
	})
	if err != nil {
		t.Fatalf("ReapStale: %v", err)
	}
}
