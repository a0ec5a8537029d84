// Package sysmetrics reports the CPU and memory usage of the process's
// execution unit, with a layered fallback: cgroup v2 counters, then cgroup
// v1, then OS-level aggregates from /proc. Every layer swallows its own
// read errors; Sample never fails, it degrades to zeroed readings.
package sysmetrics

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/procfs"
)

// Usage is the snapshot returned to get-usage callers.
type Usage struct {
	MemoryUsedMB         float64 `json:"memoryUsedMB"`
	MemoryUsedPercentage float64 `json:"memoryUsedPercentage"`
	CPUUsedPercentage    float64 `json:"cpuUsedPercentage"`
}

// Sampler computes CPU percentages from the delta of cumulative usage time
// between two consecutive samples. It carries the previous reading
// explicitly instead of hiding it in package state; the zero value is ready
// to use and the first Sample reports zero CPU.
type Sampler struct {
	// CgroupRoot and ProcRoot exist so tests can point the sampler at
	// fabricated trees. Empty means the real mount points.
	CgroupRoot string
	ProcRoot   string

	prevUsec uint64
	prevAt   time.Time
	hasPrev  bool
}

func (s *Sampler) cgroupRoot() string {
	if s.CgroupRoot != "" {
		return s.CgroupRoot
	}
	return "/sys/fs/cgroup"
}

func (s *Sampler) procRoot() string {
	if s.ProcRoot != "" {
		return s.ProcRoot
	}
	return procfs.DefaultMountPoint
}

// Sample returns the current usage snapshot. It never panics and never
// returns an error: a layer that cannot be read falls through to the next,
// and a fully unreadable host yields zeroed fields.
func (s *Sampler) Sample() Usage {
	now := time.Now()

	usec, memUsed, memTotal, ok := s.readCgroupV2()
	// cgroup counters are already scoped to the unit; the /proc aggregate
	// spans every core and needs normalizing.
	cores := 1.0
	if !ok {
		usec, memUsed, memTotal, ok = s.readCgroupV1()
	}
	if !ok {
		usec, memUsed, memTotal, ok = s.readProc()
		cores = float64(runtime.NumCPU())
	}
	if !ok {
		s.hasPrev = false
		return Usage{}
	}

	// A reading below the process's own resident memory is implausible.
	if rss, rok := s.selfRSS(); rok && memUsed < rss {
		memUsed = rss
	}

	var u Usage
	u.MemoryUsedMB = float64(memUsed) / (1024 * 1024)
	if memTotal > 0 {
		u.MemoryUsedPercentage = float64(memUsed) / float64(memTotal) * 100
	}

	if s.hasPrev && usec >= s.prevUsec {
		elapsed := float64(now.Sub(s.prevAt).Microseconds())
		if elapsed > 0 {
			pct := float64(usec-s.prevUsec) / elapsed / cores * 100
			if pct < 0 {
				pct = 0
			}
			if pct > 100 {
				pct = 100
			}
			u.CPUUsedPercentage = pct
		}
	}
	s.prevUsec = usec
	s.prevAt = now
	s.hasPrev = true
	return u
}

func (s *Sampler) readCgroupV2() (usec, memUsed, memTotal uint64, ok bool) {
	root := s.cgroupRoot()

	stat, err := os.ReadFile(filepath.Join(root, "cpu.stat"))
	if err != nil {
		return 0, 0, 0, false
	}
	usec, found := parseKeyedValue(string(stat), "usage_usec")
	if !found {
		return 0, 0, 0, false
	}

	memUsed, err = readUintFile(filepath.Join(root, "memory.current"))
	if err != nil {
		return 0, 0, 0, false
	}

	// memory.max is "max" for an unlimited cgroup; fall back to the host
	// total in that case.
	raw, err := os.ReadFile(filepath.Join(root, "memory.max"))
	if err == nil {
		if v, perr := strconv.ParseUint(strings.TrimSpace(string(raw)), 10, 64); perr == nil {
			memTotal = v
		}
	}
	if memTotal == 0 {
		memTotal = s.hostMemTotal()
	}
	return usec, memUsed, memTotal, true
}

func (s *Sampler) readCgroupV1() (usec, memUsed, memTotal uint64, ok bool) {
	root := s.cgroupRoot()

	nanos, err := readUintFile(filepath.Join(root, "cpuacct", "cpuacct.usage"))
	if err != nil {
		return 0, 0, 0, false
	}
	memUsed, err = readUintFile(filepath.Join(root, "memory", "memory.usage_in_bytes"))
	if err != nil {
		return 0, 0, 0, false
	}
	memTotal, err = readUintFile(filepath.Join(root, "memory", "memory.limit_in_bytes"))
	// An effectively unlimited v1 cgroup reports a huge sentinel limit.
	if err != nil || memTotal > 1<<60 {
		memTotal = s.hostMemTotal()
	}
	return nanos / 1000, memUsed, memTotal, true
}

func (s *Sampler) readProc() (usec, memUsed, memTotal uint64, ok bool) {
	fs, err := procfs.NewFS(s.procRoot())
	if err != nil {
		return 0, 0, 0, false
	}
	stat, err := fs.Stat()
	if err != nil {
		return 0, 0, 0, false
	}
	c := stat.CPUTotal
	busySeconds := c.User + c.Nice + c.System + c.IRQ + c.SoftIRQ + c.Steal
	usec = uint64(busySeconds * 1e6)

	mi, err := fs.Meminfo()
	if err != nil || mi.MemTotal == nil {
		return 0, 0, 0, false
	}
	memTotal = *mi.MemTotal * 1024
	if mi.MemAvailable != nil {
		memUsed = memTotal - *mi.MemAvailable*1024
	}
	return usec, memUsed, memTotal, true
}

func (s *Sampler) hostMemTotal() uint64 {
	fs, err := procfs.NewFS(s.procRoot())
	if err != nil {
		return 0
	}
	mi, err := fs.Meminfo()
	if err != nil || mi.MemTotal == nil {
		return 0
	}
	return *mi.MemTotal * 1024
}

func (s *Sampler) selfRSS() (uint64, bool) {
	fs, err := procfs.NewFS(s.procRoot())
	if err != nil {
		return 0, false
	}
	proc, err := fs.Proc(os.Getpid())
	if err != nil {
		return 0, false
	}
	stat, err := proc.Stat()
	if err != nil {
		return 0, false
	}
	rss := stat.ResidentMemory()
	if rss < 0 {
		return 0, false
	}
	return uint64(rss), true
}

func readUintFile(path string) (uint64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(strings.TrimSpace(string(raw)), 10, 64)
}

func parseKeyedValue(content, key string) (uint64, bool) {
	for _, line := range strings.Split(content, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[0] == key {
			if v, err := strconv.ParseUint(fields[1], 10, 64); err == nil {
				return v, true
			}
		}
	}
	return 0, false
}
