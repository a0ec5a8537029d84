package rooms

import (
	"testing"
	"time"
)

func TestStatusCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusCreating, StatusRunning, true},
		{StatusRunning, StatusTerminated, true},
		{StatusCreating, StatusError, true},
		{StatusRunning, StatusError, true},
		{StatusTerminated, StatusError, true},
		{StatusCreating, StatusTerminated, false},
		{StatusRunning, StatusCreating, false},
		{StatusTerminated, StatusRunning, false},
		{StatusError, StatusRunning, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("CanTransition(%s → %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestParseProviderKind(t *testing.T) {
	for _, valid := range []string{"cluster", "docker", "kubernetes"} {
		if _, err := ParseProviderKind(valid); err != nil {
			t.Errorf("ParseProviderKind(%q) error: %v", valid, err)
		}
	}
	if _, err := ParseProviderKind("lambda"); err == nil {
		t.Error("ParseProviderKind(\"lambda\") should fail")
	}
}

func TestMerge_OnlySuppliedFields(t *testing.T) {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	wid := 3
	info := RoomInfo{
		RoomID:    "room-abc123def",
		Status:    StatusCreating,
		Provider:  ProviderCluster,
		CreatedAt: created,
		WorkerID:  &wid,
	}

	running := StatusRunning
	now := time.Now()
	info.Merge(Patch{Status: &running, LastUpdate: &now})

	if info.Status != StatusRunning {
		t.Errorf("Status = %s, want running", info.Status)
	}
	if info.LastUpdate == nil || !info.LastUpdate.Equal(now) {
		t.Errorf("LastUpdate = %v, want %v", info.LastUpdate, now)
	}
	if info.WorkerID == nil || *info.WorkerID != 3 {
		t.Errorf("WorkerID changed by unrelated merge: %v", info.WorkerID)
	}
	if !info.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt changed by merge: %v", info.CreatedAt)
	}
	if info.RoomID != "room-abc123def" {
		t.Errorf("RoomID changed by merge: %v", info.RoomID)
	}
}

func TestStale(t *testing.T) {
	now := time.Now()
	threshold := 30 * time.Second

	fresh := RoomInfo{CreatedAt: now.Add(-10 * time.Second)}
	if fresh.Stale(now, threshold) {
		t.Error("room created 10s ago should not be stale")
	}

	old := RoomInfo{CreatedAt: now.Add(-2 * time.Minute)}
	if !old.Stale(now, threshold) {
		t.Error("room created 2m ago with no heartbeat should be stale")
	}

	// A heartbeat within the window rescues an old record.
	beat := now.Add(-5 * time.Second)
	old.LastUpdate = &beat
	if old.Stale(now, threshold) {
		t.Error("recently heartbeaten room should not be stale")
	}
}

func TestRoomInfo_BinaryRoundTrip(t *testing.T) {
	wid, pid := 2, 4242
	info := RoomInfo{
		RoomID:    "room-xyz987abc",
		Status:    StatusRunning,
		Provider:  ProviderCluster,
		CreatedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		WorkerID:  &wid,
		PID:       &pid,
	}
	data, err := info.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	var got RoomInfo
	if err := got.UnmarshalBinary(data); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	if got.RoomID != info.RoomID || got.Status != info.Status || *got.WorkerID != wid || *got.PID != pid {
		t.Errorf("round trip mismatch: %+v", got)
	}
}
