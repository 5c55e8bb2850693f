package sysmetrics

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"

	"github.com/tzafon/warmpool/internal/instancepb"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestReadMemoryCgroupV2(t *testing.T) {
	dir := t.TempDir()
	p := memoryPaths{
		v2Current: writeFile(t, dir, "memory.current", "1073741824\n"),
		v2Max:     writeFile(t, dir, "memory.max", "4294967296\n"),
	}

	m, err := readMemory(p)
	if err != nil {
		t.Fatalf("readMemory: %v", err)
	}
	if m.UsedMemoryBytes != 1<<30 {
		t.Errorf("used = %d, want %d", m.UsedMemoryBytes, 1<<30)
	}
	if m.TotalMemoryBytes != 4<<30 {
		t.Errorf("total = %d, want %d", m.TotalMemoryBytes, 4<<30)
	}
}

func TestReadMemoryCgroupV2Unlimited(t *testing.T) {
	dir := t.TempDir()
	p := memoryPaths{
		v2Current: writeFile(t, dir, "memory.current", "1024\n"),
		v2Max:     writeFile(t, dir, "memory.max", "max\n"),
		meminfo:   writeFile(t, dir, "meminfo", "MemTotal:       16384000 kB\nMemFree:         100 kB\n"),
	}

	m, err := readMemory(p)
	if err != nil {
		t.Fatalf("readMemory: %v", err)
	}
	if want := uint64(16384000) * 1024; m.TotalMemoryBytes != want {
		t.Errorf("total = %d, want MemTotal %d", m.TotalMemoryBytes, want)
	}
}

func TestReadMemoryCgroupV1Fallback(t *testing.T) {
	dir := t.TempDir()
	p := memoryPaths{
		v2Current: filepath.Join(dir, "missing"),
		v1Usage:   writeFile(t, dir, "memory.usage_in_bytes", "2048\n"),
		v1Limit:   writeFile(t, dir, "memory.limit_in_bytes", "9223372036854771712\n"), // v1 no-limit sentinel
		meminfo:   writeFile(t, dir, "meminfo", "MemTotal:       8192000 kB\n"),
	}

	m, err := readMemory(p)
	if err != nil {
		t.Fatalf("readMemory: %v", err)
	}
	if m.UsedMemoryBytes != 2048 {
		t.Errorf("used = %d, want 2048", m.UsedMemoryBytes)
	}
	if want := uint64(8192000) * 1024; m.TotalMemoryBytes != want {
		t.Errorf("total = %d, want %d", m.TotalMemoryBytes, want)
	}
}

func TestReadMemoryNoCgroup(t *testing.T) {
	dir := t.TempDir()
	p := memoryPaths{
		v2Current: filepath.Join(dir, "missing-v2"),
		v1Usage:   filepath.Join(dir, "missing-v1"),
	}
	if _, err := readMemory(p); err == nil {
		t.Error("readMemory without cgroup files succeeded, want error")
	}
}

type capturingPoster struct {
	mu    sync.Mutex
	descs []*instancepb.InstanceDescription
}

func (p *capturingPoster) PostInstanceDescription(ctx context.Context, desc *instancepb.InstanceDescription, _ ...grpc.CallOption) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.descs = append(p.descs, desc)
	return true, nil
}

func (p *capturingPoster) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.descs)
}

func TestLoopPostsReadings(t *testing.T) {
	poster := &capturingPoster{}
	l := NewLoop(poster, "browser-container-1", nil)
	l.period = 5 * time.Millisecond
	l.read = func() (*instancepb.SystemMetrics, error) {
		return &instancepb.SystemMetrics{UsedMemoryBytes: 7, TotalMemoryBytes: 70}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	deadline := time.After(3 * time.Second)
	for poster.count() < 3 {
		select {
		case <-deadline:
			t.Fatalf("only %d posts before deadline", poster.count())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run = %v, want nil", err)
	}

	poster.mu.Lock()
	defer poster.mu.Unlock()
	d := poster.descs[0]
	if d.InstanceID != "browser-container-1" {
		t.Errorf("instance_id = %q", d.InstanceID)
	}
	if d.SystemMetrics == nil || d.SystemMetrics.UsedMemoryBytes != 7 {
		t.Errorf("system_metrics = %+v", d.SystemMetrics)
	}
	if d.HealthCheck != nil || d.Services != nil {
		t.Error("metrics post carries lifecycle fields")
	}
}
