//go:build linux

package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"judgebox/internal/judge/sandbox/spec"
	"judgebox/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const (
	defaultHelperPath = "judge-init"
	defaultKillGrace  = 2 * time.Second
	helperStderrLimit = 4096
)

// LocalConfig controls the host backend.
type LocalConfig struct {
	// HelperPath is the judge-init binary.
	HelperPath string
	// ArtifactRoot holds per-run stdout/stderr files.
	ArtifactRoot  string
	KillGrace     time.Duration
	EnableSeccomp bool
}

type localBackend struct {
	cfg LocalConfig
}

// NewLocalBackend creates a backend that spawns judge-init directly inside the group.
func NewLocalBackend(cfg LocalConfig) (Backend, error) {
	if cfg.HelperPath == "" {
		cfg.HelperPath = defaultHelperPath
	}
	if cfg.ArtifactRoot == "" {
		cfg.ArtifactRoot = os.TempDir()
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = defaultKillGrace
	}
	if err := os.MkdirAll(cfg.ArtifactRoot, 0750); err != nil {
		return nil, fmt.Errorf("create artifact root: %w", err)
	}
	return &localBackend{cfg: cfg}, nil
}

func (b *localBackend) Start(ctx context.Context, groupPath string, ps spec.ProcessSpec) (Process, error) {
	if len(ps.BindMounts) > 0 {
		return nil, fmt.Errorf("bind mounts require the docker backend")
	}
	if err := applyGroupLimits(groupPath, ps.Limits); err != nil {
		return nil, err
	}
	dir, err := os.MkdirTemp(b.cfg.ArtifactRoot, "run-")
	if err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	p := &localProcess{
		dir:        dir,
		stdoutPath: filepath.Join(dir, "stdout"),
		stderrPath: filepath.Join(dir, "stderr"),
		groupPath:  groupPath,
		grace:      b.cfg.KillGrace,
		done:       make(chan struct{}),
	}

	payload, err := json.Marshal(spec.InitRequest{
		Process:       ps,
		StdoutPath:    p.stdoutPath,
		StderrPath:    p.stderrPath,
		EnableSeccomp: b.cfg.EnableSeccomp && ps.SeccompProfile != "",
	})
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("encode init request: %w", err)
	}

	groupFd, err := unix.Open(groupPath, unix.O_PATH|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("open resource group: %w", err)
	}
	defer unix.Close(groupFd)

	cmd := exec.Command(b.cfg.HelperPath)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = io.Discard
	cmd.Stderr = &p.helperStderr
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:     true,
		Pdeathsig:   syscall.SIGKILL,
		UseCgroupFD: true,
		CgroupFD:    groupFd,
	}
	if err := cmd.Start(); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("start helper: %w", err)
	}
	p.cmd = cmd
	go func() {
		_ = cmd.Wait()
		close(p.done)
	}()
	logger.Debug(ctx, "local process started", zap.Int("pid", cmd.Process.Pid), zap.String("dir", dir))
	return p, nil
}

type localProcess struct {
	cmd          *exec.Cmd
	dir          string
	stdoutPath   string
	stderrPath   string
	groupPath    string
	grace        time.Duration
	helperStderr limitedBuffer
	done         chan struct{}
	removeOnce   sync.Once
}

func (p *localProcess) Wait(ctx context.Context) (int, error) {
	select {
	case <-p.done:
		return p.exitCode(ctx), nil
	case <-ctx.Done():
		select {
		case <-p.done:
			return p.exitCode(ctx), nil
		default:
			return -1, ctx.Err()
		}
	}
}

func (p *localProcess) exitCode(ctx context.Context) int {
	state := p.cmd.ProcessState
	if state == nil {
		return -1
	}
	if msg := p.helperStderr.String(); msg != "" {
		logger.Warn(ctx, "judge-init reported an error", zap.String("stderr", msg))
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return state.ExitCode()
}

func (p *localProcess) Kill(ctx context.Context) error {
	if err := unix.Kill(-p.cmd.Process.Pid, unix.SIGKILL); err != nil && err != unix.ESRCH {
		return fmt.Errorf("kill process group: %w", err)
	}
	killPath := filepath.Join(p.groupPath, "cgroup.kill")
	if _, err := os.Stat(killPath); err == nil {
		_ = os.WriteFile(killPath, []byte("1"), 0600)
	}
	select {
	case <-p.done:
		return nil
	case <-time.After(p.grace):
		return fmt.Errorf("process %d still running after %s", p.cmd.Process.Pid, p.grace)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *localProcess) Logs(ctx context.Context, stdout, stderr io.Writer, tail int) error {
	if err := copyFileTail(stdout, p.stdoutPath, tail); err != nil {
		return fmt.Errorf("copy stdout: %w", err)
	}
	if err := copyFileTail(stderr, p.stderrPath, tail); err != nil {
		return fmt.Errorf("copy stderr: %w", err)
	}
	return nil
}

func (p *localProcess) Remove(ctx context.Context) error {
	var err error
	p.removeOnce.Do(func() {
		err = os.RemoveAll(p.dir)
	})
	return err
}

// applyGroupLimits caps the group's memory; the helper sets the rlimits.
func applyGroupLimits(groupPath string, limits spec.ResourceLimit) error {
	if limits.MemoryMB > 0 {
		value := strconv.FormatInt(limits.MemoryMB*1024*1024, 10)
		if err := os.WriteFile(filepath.Join(groupPath, "memory.max"), []byte(value), 0640); err != nil {
			return fmt.Errorf("set memory.max: %w", err)
		}
	}
	return nil
}

// limitedBuffer keeps the first helperStderrLimit bytes written to it.
type limitedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := helperStderrLimit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
