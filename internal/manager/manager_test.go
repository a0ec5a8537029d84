package manager

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ets-cfuhrman-pfe/EvalueTonSavoir-sub003/internal/config"
	"github.com/ets-cfuhrman-pfe/EvalueTonSavoir-sub003/internal/rooms"
)

type fakeProvider struct {
	mu       sync.Mutex
	created  []rooms.Options
	deleted  []string
	cleanups int
	block    chan struct{}
}

func (f *fakeProvider) CreateRoom(_ context.Context, opts rooms.Options) (*rooms.RoomInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, opts)
	return &rooms.RoomInfo{RoomID: opts.RoomID, Status: rooms.StatusCreating, Provider: rooms.ProviderCluster, CreatedAt: time.Now()}, nil
}

func (f *fakeProvider) DeleteRoom(_ context.Context, roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, roomID)
	return nil
}

func (f *fakeProvider) GetRoomStatus(context.Context, string) (*rooms.RoomInfo, error) {
	return nil, nil
}

func (f *fakeProvider) ListRooms(context.Context) ([]*rooms.RoomInfo, error) {
	return nil, nil
}

func (f *fakeProvider) Cleanup(context.Context) error {
	f.mu.Lock()
	f.cleanups++
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	return nil
}

func (f *fakeProvider) cleanupCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cleanups
}

func TestNew_UnknownProviderFailsFast(t *testing.T) {
	cfg := &config.Config{Provider: "mainframe"}
	if _, err := New(context.Background(), cfg, nil); err == nil {
		t.Fatal("unknown provider selector must refuse construction")
	}
}

func TestCreateRoom_GeneratesID(t *testing.T) {
	fake := &fakeProvider{}
	mgr := NewWithProvider(fake, time.Minute)

	info, err := mgr.CreateRoom(context.Background(), rooms.Options{})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if !strings.HasPrefix(info.RoomID, "room-") || len(info.RoomID) != len("room-")+9 {
		t.Errorf("generated id %q doesn't match room-<9 chars>", info.RoomID)
	}
}

func TestCreateRoom_KeepsCallerID(t *testing.T) {
	fake := &fakeProvider{}
	mgr := NewWithProvider(fake, time.Minute)

	info, err := mgr.CreateRoom(context.Background(), rooms.Options{RoomID: "room-explicit1"})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if info.RoomID != "room-explicit1" {
		t.Errorf("RoomID = %q, want the caller's id", info.RoomID)
	}
}

func TestDeleteRoom_Delegates(t *testing.T) {
	fake := &fakeProvider{}
	mgr := NewWithProvider(fake, time.Minute)

	if err := mgr.DeleteRoom(context.Background(), "room-abc123def"); err != nil {
		t.Fatalf("DeleteRoom: %v", err)
	}
	if len(fake.deleted) != 1 || fake.deleted[0] != "room-abc123def" {
		t.Errorf("provider not delegated to: %v", fake.deleted)
	}
}

func TestSweep_SkipsWhileRunning(t *testing.T) {
	fake := &fakeProvider{block: make(chan struct{})}
	mgr := NewWithProvider(fake, time.Minute)

	ctx := context.Background()
	mgr.sweep(ctx)

	// Wait for the first sweep to be inside Cleanup, then fire again: the
	// second tick must be skipped, not stacked.
	deadline := time.After(2 * time.Second)
	for fake.cleanupCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("first sweep never started")
		case <-time.After(5 * time.Millisecond):
		}
	}
	mgr.sweep(ctx)
	mgr.sweep(ctx)

	close(fake.block)
	// Let the in-flight sweep wind down.
	for i := 0; i < 100 && mgr.sweeping.Load(); i++ {
		time.Sleep(5 * time.Millisecond)
	}
	if got := fake.cleanupCount(); got != 1 {
		t.Errorf("cleanup ran %d times, want 1 (overlapping ticks skipped)", got)
	}
}
