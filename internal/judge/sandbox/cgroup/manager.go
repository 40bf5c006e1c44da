// Package cgroup manages the per-run cgroup v2 group that accounts one sandboxed process tree.
package cgroup

import (
	"bufio"
	"bytes"
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"judgebox/internal/judge/sandbox/result"
	"judgebox/pkg/errors"
	"judgebox/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	subtreeControlFile = "cgroup.subtree_control"
	cpuStatFile        = "cpu.stat"
	memoryPeakFile     = "memory.peak"
	killFile           = "cgroup.kill"

	destroyAttempts = 5
	destroyBackoff  = 20 * time.Millisecond
)

var accountingControllers = []string{"cpu", "memory"}

// Config controls where run groups are created.
type Config struct {
	// Root is the parent cgroup directory, e.g. /sys/fs/cgroup/judge.
	Root string
	// VerifyFS requires Root to live on a cgroup2 mount.
	VerifyFS bool
	// Nested enables the controllers inside each run group too, for backends
	// that place their own child cgroup below it.
	Nested bool
}

// Group is a handle to one run group.
type Group struct {
	Name string
	path string
}

// Manager creates, reads and destroys run groups below Config.Root.
type Manager struct {
	cfg Config
}

// NewManager validates the root and returns a manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Root == "" {
		return nil, errors.ValidationError("cgroupRoot", "cgroup root is required")
	}
	info, err := os.Stat(cfg.Root)
	if err != nil {
		return nil, errors.Wrapf(err, errors.IsolationUnavailable, "stat cgroup root %s", cfg.Root)
	}
	if !info.IsDir() {
		return nil, errors.Newf(errors.IsolationUnavailable, "cgroup root %s is not a directory", cfg.Root)
	}
	if cfg.VerifyFS {
		if err := verifyCgroup2(cfg.Root); err != nil {
			return nil, errors.Wrapf(err, errors.IsolationUnavailable, "verify cgroup root %s", cfg.Root)
		}
	}
	return &Manager{cfg: cfg}, nil
}

// Create makes a fresh group with cpu and memory accounting enabled.
func (m *Manager) Create(ctx context.Context, name string) (Group, error) {
	if name == "" || strings.ContainsAny(name, "/\x00") || name == "." || name == ".." {
		return Group{}, errors.Newf(errors.IsolationUnavailable, "invalid group name %q", name)
	}
	if err := enableControllers(m.cfg.Root); err != nil {
		return Group{}, errors.Wrapf(err, errors.IsolationUnavailable, "enable accounting on %s", m.cfg.Root)
	}
	path := filepath.Join(m.cfg.Root, name)
	if err := os.Mkdir(path, 0750); err != nil {
		return Group{}, errors.Wrapf(err, errors.IsolationUnavailable, "create group %s", name)
	}
	if m.cfg.Nested {
		if err := enableControllers(path); err != nil {
			_ = os.Remove(path)
			return Group{}, errors.Wrapf(err, errors.IsolationUnavailable, "enable nested accounting on %s", name)
		}
	}
	logger.Debug(ctx, "resource group created", zap.String("group", name))
	return Group{Name: name, path: path}, nil
}

// PathOf returns the control directory of g, failing once it no longer exists.
func (m *Manager) PathOf(g Group) (string, error) {
	if g.path == "" {
		return "", errors.Newf(errors.ResolutionError, "group %q was never created", g.Name)
	}
	info, err := os.Stat(g.path)
	if err != nil {
		return "", errors.Wrapf(err, errors.ResolutionError, "resolve group %s", g.Name)
	}
	if !info.IsDir() {
		return "", errors.Newf(errors.ResolutionError, "group %s is not a directory", g.Name)
	}
	return g.path, nil
}

// ReadMetrics reads cumulative CPU time and peak memory of the group at path.
// A missing CPU counter is fatal; a missing memory counter reads as 0.
func (m *Manager) ReadMetrics(path string) (result.Metrics, error) {
	usec, err := readCPUUsage(filepath.Join(path, cpuStatFile))
	if err != nil {
		return result.Metrics{}, errors.Wrapf(err, errors.MissingCounters, "read cpu counters of %s", path)
	}
	metrics := result.Metrics{CPUMs: usec / 1000}

	peak, err := readInt(filepath.Join(path, memoryPeakFile))
	switch {
	case err == nil:
		metrics.MemoryKB = peak / 1024
	case stderrors.Is(err, os.ErrNotExist):
	default:
		return result.Metrics{}, errors.Wrapf(err, errors.MissingCounters, "read memory counters of %s", path)
	}
	return metrics, nil
}

// Destroy kills anything left in the group and removes it. Failures are logged only.
func (m *Manager) Destroy(ctx context.Context, g Group) {
	if g.path == "" {
		return
	}
	if _, err := os.Stat(filepath.Join(g.path, killFile)); err == nil {
		if err := os.WriteFile(filepath.Join(g.path, killFile), []byte("1"), 0600); err != nil {
			logger.Warn(ctx, "kill resource group failed", zap.String("group", g.Name), zap.Error(err))
		}
	}
	var err error
	for attempt := 0; attempt < destroyAttempts; attempt++ {
		if err = os.RemoveAll(g.path); err == nil {
			logger.Debug(ctx, "resource group destroyed", zap.String("group", g.Name))
			return
		}
		time.Sleep(destroyBackoff)
	}
	logger.Warn(ctx, "destroy resource group failed", zap.String("group", g.Name), zap.Error(err))
}

// enableControllers turns on cpu and memory for the children of dir.
// A write that fails is tolerated when the controllers are already enabled.
func enableControllers(dir string) error {
	target := filepath.Join(dir, subtreeControlFile)
	var b strings.Builder
	for i, c := range accountingControllers {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString("+" + c)
	}
	writeErr := os.WriteFile(target, []byte(b.String()), 0640)
	if writeErr == nil {
		return nil
	}
	data, err := os.ReadFile(target)
	if err != nil {
		return writeErr
	}
	enabled := strings.Fields(string(data))
	for _, c := range accountingControllers {
		found := false
		for _, e := range enabled {
			if e == c {
				found = true
				break
			}
		}
		if !found {
			return writeErr
		}
	}
	return nil
}

func readCPUUsage(path string) (int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 2 && fields[0] == "usage_usec" {
			return strconv.ParseInt(fields[1], 10, 64)
		}
	}
	return 0, stderrors.New("usage_usec not present")
}

func readInt(path string) (int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
}
