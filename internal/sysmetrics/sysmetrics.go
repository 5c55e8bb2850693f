// Package sysmetrics reports container memory usage to the manager.
// Readings come from the cgroup the process runs in (v2 preferred, v1
// fallback); when the cgroup is unlimited the host total from
// /proc/meminfo is used instead.
package sysmetrics

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/tzafon/warmpool/internal/instancepb"
)

const (
	cgroupV2Current = "/sys/fs/cgroup/memory.current"
	cgroupV2Max     = "/sys/fs/cgroup/memory.max"
	cgroupV1Usage   = "/sys/fs/cgroup/memory/memory.usage_in_bytes"
	cgroupV1Limit   = "/sys/fs/cgroup/memory/memory.limit_in_bytes"
	procMeminfo     = "/proc/meminfo"
)

// ReadMemory reads current and total memory for this container.
func ReadMemory() (*instancepb.SystemMetrics, error) {
	return readMemory(memoryPaths{
		v2Current: cgroupV2Current,
		v2Max:     cgroupV2Max,
		v1Usage:   cgroupV1Usage,
		v1Limit:   cgroupV1Limit,
		meminfo:   procMeminfo,
	})
}

type memoryPaths struct {
	v2Current, v2Max string
	v1Usage, v1Limit string
	meminfo          string
}

func readMemory(p memoryPaths) (*instancepb.SystemMetrics, error) {
	if used, err := readUintFile(p.v2Current); err == nil {
		total, err := readLimit(p.v2Max, p.meminfo)
		if err != nil {
			return nil, err
		}
		return &instancepb.SystemMetrics{UsedMemoryBytes: used, TotalMemoryBytes: total}, nil
	}

	used, err := readUintFile(p.v1Usage)
	if err != nil {
		return nil, fmt.Errorf("no cgroup memory accounting found: %w", err)
	}
	total, err := readLimit(p.v1Limit, p.meminfo)
	if err != nil {
		return nil, err
	}
	return &instancepb.SystemMetrics{UsedMemoryBytes: used, TotalMemoryBytes: total}, nil
}

// readLimit reads a cgroup limit file. "max" (v2) and the v1 no-limit
// sentinel both fall back to the host's MemTotal.
func readLimit(limitPath, meminfoPath string) (uint64, error) {
	data, err := os.ReadFile(limitPath)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", limitPath, err)
	}
	s := strings.TrimSpace(string(data))
	if s == "max" {
		return readMemTotal(meminfoPath)
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", limitPath, err)
	}
	// v1 reports "no limit" as a page-rounded near-max int64.
	if v >= math.MaxInt64/4096*4096 {
		return readMemTotal(meminfoPath)
	}
	return v, nil
}

func readUintFile(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	return v, nil
}

// readMemTotal parses the MemTotal line of /proc/meminfo (value in kB).
func readMemTotal(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) >= 2 && fields[0] == "MemTotal:" {
			kb, err := strconv.ParseUint(fields[1], 10, 64)
			if err != nil {
				return 0, fmt.Errorf("parse MemTotal: %w", err)
			}
			return kb * 1024, nil
		}
	}
	if err := sc.Err(); err != nil {
		return 0, err
	}
	return 0, fmt.Errorf("MemTotal not found in %s", path)
}
