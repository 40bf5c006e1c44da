// Package engine runs one process inside a fresh resource group under a wall-clock timeout.
package engine

import (
	"context"
	stderrors "errors"
	"io"
	"time"

	"judgebox/internal/judge/sandbox/cgroup"
	"judgebox/internal/judge/sandbox/result"
	"judgebox/internal/judge/sandbox/spec"
	"judgebox/pkg/errors"
	"judgebox/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// GroupManager is the resource group lifecycle the runner drives.
type GroupManager interface {
	Create(ctx context.Context, name string) (cgroup.Group, error)
	PathOf(g cgroup.Group) (string, error)
	ReadMetrics(path string) (result.Metrics, error)
	Destroy(ctx context.Context, g cgroup.Group)
}

// Backend launches processes bound to a resource group.
type Backend interface {
	// Start launches ps without waiting for it; groupPath is the group's control directory.
	Start(ctx context.Context, groupPath string, ps spec.ProcessSpec) (Process, error)
}

// Process is one launched sandbox process.
type Process interface {
	// Wait blocks until exit or until ctx is done; an exit observed first wins.
	Wait(ctx context.Context) (int, error)
	// Kill forcibly terminates the process and waits briefly for it to go away.
	Kill(ctx context.Context) error
	// Logs copies captured output; tail > 0 keeps only the last tail lines of each stream.
	Logs(ctx context.Context, stdout, stderr io.Writer, tail int) error
	// Remove deletes run artifacts; the group is left alone.
	Remove(ctx context.Context) error
}

// RunRequest describes one sandbox run.
type RunRequest struct {
	// Timeout is mandatory.
	Timeout time.Duration
	// Stdout and Stderr receive captured output when either is set.
	Stdout    io.Writer
	Stderr    io.Writer
	TailLines int
	Process   spec.ProcessSpec
}

// Runner binds every run to its own resource group.
type Runner struct {
	groups  GroupManager
	backend Backend
	newName func() string
}

// NewRunner creates a runner.
func NewRunner(groups GroupManager, backend Backend) *Runner {
	return &Runner{
		groups:  groups,
		backend: backend,
		newName: func() string { return "judge-" + uuid.NewString() },
	}
}

// Run executes req and returns its exit code and group metrics.
// A timeout is reported as exit code 124 with metrics still populated.
func (r *Runner) Run(ctx context.Context, req RunRequest) (result.RunResult, error) {
	if req.Timeout <= 0 {
		return result.RunResult{}, errors.ValidationError("timeout", "a positive timeout is required")
	}
	if err := req.Process.Validate(); err != nil {
		return result.RunResult{}, err
	}

	name := r.newName()
	group, err := r.groups.Create(ctx, name)
	if err != nil {
		return result.RunResult{}, errors.Wrapf(err, errors.IsolationSetupFailed, "create resource group %s", name)
	}
	cleanupCtx := context.WithoutCancel(ctx)
	defer r.groups.Destroy(cleanupCtx, group)

	groupPath, err := r.groups.PathOf(group)
	if err != nil {
		return result.RunResult{}, errors.Wrapf(err, errors.IsolationSetupFailed, "resolve resource group %s", name)
	}

	start := time.Now()
	proc, err := r.backend.Start(ctx, groupPath, req.Process)
	if err != nil {
		return result.RunResult{}, errors.Wrapf(err, errors.LaunchFailed, "launch %s", req.Process.Cmd[0])
	}

	res := result.RunResult{}
	waitCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	exitCode, waitErr := proc.Wait(waitCtx)
	cancel()
	res.WallTime = time.Since(start)

	if waitErr != nil {
		if !stderrors.Is(waitErr, context.DeadlineExceeded) || ctx.Err() != nil {
			r.abandon(cleanupCtx, proc)
			return result.RunResult{}, errors.Wrapf(waitErr, errors.LaunchFailed, "wait for %s", req.Process.Cmd[0])
		}
		if err := proc.Kill(cleanupCtx); err != nil {
			logger.Warn(ctx, "kill timed out process failed", zap.String("group", name), zap.Error(err))
		}
		exitCode = result.TimeoutExitCode
		res.TimedOut = true
	}
	res.ExitCode = exitCode

	if req.Stdout != nil || req.Stderr != nil {
		stdout, stderr := req.Stdout, req.Stderr
		if stdout == nil {
			stdout = io.Discard
		}
		if stderr == nil {
			stderr = io.Discard
		}
		if err := proc.Logs(cleanupCtx, stdout, stderr, req.TailLines); err != nil {
			logger.Warn(ctx, "collect process output failed", zap.String("group", name), zap.Error(err))
		}
	}

	if err := proc.Remove(cleanupCtx); err != nil {
		logger.Warn(ctx, "remove run artifacts failed", zap.String("group", name), zap.Error(err))
	}

	path, err := r.groups.PathOf(group)
	if err != nil {
		return result.RunResult{}, err
	}
	metrics, err := r.groups.ReadMetrics(path)
	if err != nil {
		return result.RunResult{}, err
	}
	res.Metrics = metrics

	logger.Debug(ctx, "sandbox run finished",
		zap.String("group", name),
		zap.Int("exit_code", res.ExitCode),
		zap.Bool("timed_out", res.TimedOut),
		zap.Int64("cpu_ms", metrics.CPUMs),
		zap.Int64("memory_kb", metrics.MemoryKB),
		zap.Duration("wall", res.WallTime),
	)
	return res, nil
}

func (r *Runner) abandon(ctx context.Context, proc Process) {
	if err := proc.Kill(ctx); err != nil {
		logger.Warn(ctx, "kill abandoned process failed", zap.Error(err))
	}
	if err := proc.Remove(ctx); err != nil {
		logger.Warn(ctx, "remove abandoned process failed", zap.Error(err))
	}
}
