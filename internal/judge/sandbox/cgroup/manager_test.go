package cgroup

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"judgebox/pkg/errors"
)

func newTestManager(t *testing.T, nested bool) (*Manager, string) {
	t.Helper()
	root := t.TempDir()
	m, err := NewManager(Config{Root: root, Nested: nested})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m, root
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestNewManagerValidation(t *testing.T) {
	if _, err := NewManager(Config{}); !errors.IsConfigurationError(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	_, err := NewManager(Config{Root: filepath.Join(t.TempDir(), "missing")})
	if !errors.Is(err, errors.IsolationUnavailable) {
		t.Fatalf("expected isolation unavailable, got %v", err)
	}
}

func TestCreateEnablesAccounting(t *testing.T) {
	m, root := newTestManager(t, true)
	g, err := m.Create(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(root, subtreeControlFile))
	if err != nil {
		t.Fatalf("read subtree control: %v", err)
	}
	if string(data) != "+cpu +memory" {
		t.Fatalf("unexpected subtree control %q", data)
	}
	if _, err := os.Stat(filepath.Join(root, "run-1", subtreeControlFile)); err != nil {
		t.Fatalf("nested controllers not enabled: %v", err)
	}
	path, err := m.PathOf(g)
	if err != nil {
		t.Fatalf("path of: %v", err)
	}
	if path != filepath.Join(root, "run-1") {
		t.Fatalf("unexpected path %s", path)
	}
}

func TestCreateRejectsBadNamesAndReuse(t *testing.T) {
	m, _ := newTestManager(t, false)
	for _, name := range []string{"", "..", "a/b"} {
		if _, err := m.Create(context.Background(), name); !errors.Is(err, errors.IsolationUnavailable) {
			t.Fatalf("name %q: expected isolation unavailable, got %v", name, err)
		}
	}
	if _, err := m.Create(context.Background(), "dup"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := m.Create(context.Background(), "dup"); !errors.Is(err, errors.IsolationUnavailable) {
		t.Fatalf("expected reuse to fail, got %v", err)
	}
}

func TestReadMetrics(t *testing.T) {
	cases := []struct {
		name     string
		cpuStat  string
		peak     string
		wantErr  bool
		wantCPU  int64
		wantMem  int64
		skipPeak bool
	}{
		{name: "both counters", cpuStat: "usage_usec 2500000\nuser_usec 2000000\n", peak: "1048576\n", wantCPU: 2500, wantMem: 1024},
		{name: "memory absent", cpuStat: "usage_usec 1999\n", skipPeak: true, wantCPU: 1, wantMem: 0},
		{name: "cpu key absent", cpuStat: "user_usec 10\n", peak: "10", wantErr: true},
		{name: "cpu file absent", peak: "10", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, _ := newTestManager(t, false)
			g, err := m.Create(context.Background(), "metrics")
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			if tc.cpuStat != "" {
				writeFile(t, filepath.Join(g.path, cpuStatFile), tc.cpuStat)
			}
			if !tc.skipPeak {
				writeFile(t, filepath.Join(g.path, memoryPeakFile), tc.peak)
			}
			got, err := m.ReadMetrics(g.path)
			if tc.wantErr {
				if !errors.Is(err, errors.MissingCounters) {
					t.Fatalf("expected missing counters, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("read metrics: %v", err)
			}
			if got.CPUMs != tc.wantCPU || got.MemoryKB != tc.wantMem {
				t.Fatalf("unexpected metrics %+v", got)
			}
		})
	}
}

func TestDestroyThenPathOfFails(t *testing.T) {
	m, _ := newTestManager(t, false)
	g, err := m.Create(context.Background(), "gone")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	writeFile(t, filepath.Join(g.path, cpuStatFile), "usage_usec 1\n")
	writeFile(t, filepath.Join(g.path, killFile), "0")

	m.Destroy(context.Background(), g)
	if _, err := os.Stat(g.path); !os.IsNotExist(err) {
		t.Fatalf("expected group to be removed, got %v", err)
	}
	if _, err := m.PathOf(g); !errors.Is(err, errors.ResolutionError) {
		t.Fatalf("expected resolution error, got %v", err)
	}
	// second destroy is a logged no-op
	m.Destroy(context.Background(), g)
}

func TestEnableControllersToleratesExisting(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, subtreeControlFile)
	writeFile(t, target, "cpu io memory\n")
	if err := os.Chmod(target, 0444); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	if os.Geteuid() == 0 {
		t.Skip("root ignores file permissions")
	}
	if err := enableControllers(dir); err != nil {
		t.Fatalf("expected already enabled controllers to pass, got %v", err)
	}
}
