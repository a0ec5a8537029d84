package sysmetrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestSample_AllLayersUnreadable(t *testing.T) {
	s := &Sampler{CgroupRoot: t.TempDir(), ProcRoot: t.TempDir()}

	for i := 0; i < 3; i++ {
		u := s.Sample()
		if u.CPUUsedPercentage != 0 || u.MemoryUsedMB != 0 || u.MemoryUsedPercentage != 0 {
			t.Errorf("sample %d on an unreadable host = %+v, want zeroes", i, u)
		}
	}
}

func TestSample_NeverPanicsOnGarbage(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "cpu.stat"), "not at all the expected content")
	writeFile(t, filepath.Join(root, "memory.current"), "NaN")
	writeFile(t, filepath.Join(root, "cpuacct", "cpuacct.usage"), "")
	writeFile(t, filepath.Join(root, "memory", "memory.usage_in_bytes"), "-1")

	s := &Sampler{CgroupRoot: root, ProcRoot: t.TempDir()}
	u := s.Sample()
	if u.CPUUsedPercentage < 0 || u.MemoryUsedMB < 0 || u.MemoryUsedPercentage < 0 {
		t.Errorf("garbage input produced negative reading: %+v", u)
	}
}

func TestSample_CgroupV2(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "cpu.stat"), "usage_usec 1000000\nuser_usec 800000\nsystem_usec 200000\n")
	writeFile(t, filepath.Join(root, "memory.current"), "104857600\n")
	writeFile(t, filepath.Join(root, "memory.max"), "1073741824\n")

	s := &Sampler{CgroupRoot: root, ProcRoot: t.TempDir()}

	first := s.Sample()
	if first.CPUUsedPercentage != 0 {
		t.Errorf("first sample has no previous reading, CPU should be 0, got %f", first.CPUUsedPercentage)
	}
	if first.MemoryUsedMB != 100 {
		t.Errorf("MemoryUsedMB = %f, want 100", first.MemoryUsedMB)
	}
	wantPct := 100.0 / 1024.0 * 100.0
	if diff := first.MemoryUsedPercentage - wantPct; diff < -0.01 || diff > 0.01 {
		t.Errorf("MemoryUsedPercentage = %f, want about %f", first.MemoryUsedPercentage, wantPct)
	}

	// Burn 25ms of reported CPU over a ~50ms wall-clock window.
	time.Sleep(50 * time.Millisecond)
	writeFile(t, filepath.Join(root, "cpu.stat"), "usage_usec 1025000\n")

	second := s.Sample()
	if second.CPUUsedPercentage <= 0 {
		t.Errorf("second sample should report CPU from the delta, got %f", second.CPUUsedPercentage)
	}
	if second.CPUUsedPercentage > 100 {
		t.Errorf("CPU percentage above 100: %f", second.CPUUsedPercentage)
	}
}

func TestSample_CgroupV1Fallback(t *testing.T) {
	root := t.TempDir()
	// No v2 files at all; v1 hierarchy only.
	writeFile(t, filepath.Join(root, "cpuacct", "cpuacct.usage"), "2000000000\n")
	writeFile(t, filepath.Join(root, "memory", "memory.usage_in_bytes"), "52428800\n")
	writeFile(t, filepath.Join(root, "memory", "memory.limit_in_bytes"), "536870912\n")

	s := &Sampler{CgroupRoot: root, ProcRoot: t.TempDir()}
	u := s.Sample()
	if u.MemoryUsedMB != 50 {
		t.Errorf("MemoryUsedMB = %f, want 50 from the v1 layer", u.MemoryUsedMB)
	}
}

func TestSample_UnlimitedV1MemoryUsesHostTotal(t *testing.T) {
	root := t.TempDir()
	proc := t.TempDir()
	writeFile(t, filepath.Join(root, "cpuacct", "cpuacct.usage"), "1000000\n")
	writeFile(t, filepath.Join(root, "memory", "memory.usage_in_bytes"), "52428800\n")
	// The kernel's "unlimited" sentinel.
	writeFile(t, filepath.Join(root, "memory", "memory.limit_in_bytes"), "9223372036854771712\n")
	writeFile(t, filepath.Join(proc, "meminfo"), "MemTotal:       1048576 kB\nMemFree:         524288 kB\nMemAvailable:    524288 kB\n")

	s := &Sampler{CgroupRoot: root, ProcRoot: proc}
	u := s.Sample()
	// 50MB used of the 1GB host total.
	if diff := u.MemoryUsedPercentage - 4.8828125; diff < -0.01 || diff > 0.01 {
		t.Errorf("MemoryUsedPercentage = %f, want about 4.88", u.MemoryUsedPercentage)
	}
}
