package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"judgebox/internal/judge/sandbox/spec"
	"judgebox/pkg/utils/logger"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"go.uber.org/zap"
)

const (
	defaultCgroupMount = "/sys/fs/cgroup"
	defaultWorkMount   = "/work"
)

// DockerConfig controls the container backend.
type DockerConfig struct {
	// Host overrides DOCKER_HOST.
	Host string
	// CgroupMount is where the cgroup2 hierarchy is mounted on the daemon host.
	CgroupMount string
	// WorkMount is the in-container path the run's WorkDir is bound to.
	WorkMount       string
	NetworkDisabled bool
	KillGrace       time.Duration
}

// containerAPI is the subset of the docker client the backend uses.
type containerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerAttach(ctx context.Context, containerID string, options types.ContainerAttachOptions) (types.HijackedResponse, error)
	ContainerStart(ctx context.Context, containerID string, options types.ContainerStartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerLogs(ctx context.Context, containerID string, options types.ContainerLogsOptions) (io.ReadCloser, error)
	ContainerRemove(ctx context.Context, containerID string, options types.ContainerRemoveOptions) error
}

type dockerBackend struct {
	cfg DockerConfig
	api containerAPI
}

// NewDockerBackend connects to the docker daemon.
func NewDockerBackend(cfg DockerConfig) (Backend, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return newDockerBackend(cfg, cli), nil
}

func newDockerBackend(cfg DockerConfig, api containerAPI) *dockerBackend {
	if cfg.CgroupMount == "" {
		cfg.CgroupMount = defaultCgroupMount
	}
	if cfg.WorkMount == "" {
		cfg.WorkMount = defaultWorkMount
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = defaultDockerKillGrace
	}
	return &dockerBackend{cfg: cfg, api: api}
}

const defaultDockerKillGrace = 5 * time.Second

func (b *dockerBackend) Start(ctx context.Context, groupPath string, ps spec.ProcessSpec) (Process, error) {
	if ps.Image == "" {
		return nil, fmt.Errorf("docker backend needs an image")
	}
	parent, err := cgroupParent(b.cfg.CgroupMount, groupPath)
	if err != nil {
		return nil, err
	}

	var stdin *os.File
	if ps.StdinPath != "" {
		stdin, err = os.Open(ps.StdinPath)
		if err != nil {
			return nil, fmt.Errorf("open stdin: %w", err)
		}
	}

	workDir := ""
	var binds []string
	if ps.WorkDir != "" {
		workDir = b.cfg.WorkMount
		binds = append(binds, ps.WorkDir+":"+b.cfg.WorkMount)
	}
	for _, m := range ps.BindMounts {
		bind := m.Source + ":" + m.Target
		if m.ReadOnly {
			bind += ":ro"
		}
		binds = append(binds, bind)
	}

	resources := container.Resources{CgroupParent: parent}
	if ps.Limits.MemoryMB > 0 {
		resources.Memory = ps.Limits.MemoryMB << 20
		resources.MemorySwap = resources.Memory
	}
	if ps.Limits.PIDs > 0 {
		pids := ps.Limits.PIDs
		resources.PidsLimit = &pids
	}
	hostConfig := &container.HostConfig{Binds: binds, Resources: resources}
	if b.cfg.NetworkDisabled {
		hostConfig.NetworkMode = "none"
	}

	config := &container.Config{
		Image:           ps.Image,
		Cmd:             ps.Cmd,
		Env:             ps.Env,
		WorkingDir:      workDir,
		NetworkDisabled: b.cfg.NetworkDisabled,
		AttachStdin:     stdin != nil,
		OpenStdin:       stdin != nil,
		StdinOnce:       stdin != nil,
	}

	created, err := b.api.ContainerCreate(ctx, config, hostConfig, nil, nil, "")
	if err != nil {
		closeFile(stdin)
		return nil, fmt.Errorf("create container: %w", err)
	}
	p := &dockerProcess{api: b.api, id: created.ID, grace: b.cfg.KillGrace}

	fail := func(err error) (Process, error) {
		closeFile(stdin)
		_ = p.Remove(context.WithoutCancel(ctx))
		return nil, err
	}

	var attached *types.HijackedResponse
	if stdin != nil {
		hijacked, err := b.api.ContainerAttach(ctx, created.ID, types.ContainerAttachOptions{Stream: true, Stdin: true})
		if err != nil {
			return fail(fmt.Errorf("attach stdin: %w", err))
		}
		attached = &hijacked
		p.stdin = attached
	}

	waitCtx, cancelWait := context.WithCancel(context.Background())
	p.cancelWait = cancelWait
	p.waitCh, p.errCh = b.api.ContainerWait(waitCtx, created.ID, container.WaitConditionNextExit)

	if err := b.api.ContainerStart(ctx, created.ID, types.ContainerStartOptions{}); err != nil {
		return fail(fmt.Errorf("start container: %w", err))
	}

	if attached != nil {
		go func() {
			defer closeFile(stdin)
			if _, err := io.Copy(attached.Conn, stdin); err != nil {
				logger.Warn(ctx, "feed container stdin failed", zap.String("container", created.ID), zap.Error(err))
			}
			_ = attached.CloseWrite()
		}()
	}
	logger.Debug(ctx, "container started", zap.String("container", created.ID), zap.String("cgroup_parent", parent))
	return p, nil
}

type dockerProcess struct {
	api        containerAPI
	id         string
	grace      time.Duration
	stdin      *types.HijackedResponse
	waitCh     <-chan container.WaitResponse
	errCh      <-chan error
	cancelWait context.CancelFunc

	mu       sync.Mutex
	exited   bool
	exitCode int
	removed  bool
}

func (p *dockerProcess) Wait(ctx context.Context) (int, error) {
	if code, ok := p.finished(); ok {
		return code, nil
	}
	select {
	case resp := <-p.waitCh:
		return p.observe(resp)
	case err := <-p.errCh:
		return -1, fmt.Errorf("wait container: %w", err)
	case <-ctx.Done():
		select {
		case resp := <-p.waitCh:
			return p.observe(resp)
		default:
			return -1, ctx.Err()
		}
	}
}

func (p *dockerProcess) observe(resp container.WaitResponse) (int, error) {
	if resp.Error != nil && resp.Error.Message != "" {
		return -1, fmt.Errorf("wait container: %s", resp.Error.Message)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exited = true
	p.exitCode = int(resp.StatusCode)
	return p.exitCode, nil
}

func (p *dockerProcess) finished() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode, p.exited
}

func (p *dockerProcess) Kill(ctx context.Context) error {
	if err := p.api.ContainerKill(ctx, p.id, "KILL"); err != nil && !errdefs.IsConflict(err) && !errdefs.IsNotFound(err) {
		return fmt.Errorf("kill container: %w", err)
	}
	if _, ok := p.finished(); ok {
		return nil
	}
	graceCtx, cancel := context.WithTimeout(ctx, p.grace)
	defer cancel()
	select {
	case resp := <-p.waitCh:
		_, _ = p.observe(resp)
		return nil
	case <-graceCtx.Done():
		return fmt.Errorf("container %s still running after kill", p.id)
	}
}

func (p *dockerProcess) Logs(ctx context.Context, stdout, stderr io.Writer, tail int) error {
	opts := types.ContainerLogsOptions{ShowStdout: true, ShowStderr: true, Tail: "all"}
	if tail > 0 {
		opts.Tail = strconv.Itoa(tail)
	}
	rc, err := p.api.ContainerLogs(ctx, p.id, opts)
	if err != nil {
		return fmt.Errorf("container logs: %w", err)
	}
	defer rc.Close()
	if _, err := stdcopy.StdCopy(stdout, stderr, rc); err != nil {
		return fmt.Errorf("demux container logs: %w", err)
	}
	return nil
}

func (p *dockerProcess) Remove(ctx context.Context) error {
	p.mu.Lock()
	if p.removed {
		p.mu.Unlock()
		return nil
	}
	p.removed = true
	p.mu.Unlock()

	if p.cancelWait != nil {
		p.cancelWait()
	}
	if p.stdin != nil {
		p.stdin.Close()
	}
	if err := p.api.ContainerRemove(ctx, p.id, types.ContainerRemoveOptions{Force: true}); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("remove container: %w", err)
	}
	return nil
}

// cgroupParent converts a group directory into the path docker expects below the cgroup mount.
func cgroupParent(mount, groupPath string) (string, error) {
	rel, err := filepath.Rel(mount, groupPath)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("resource group %s is outside cgroup mount %s", groupPath, mount)
	}
	return "/" + filepath.ToSlash(rel), nil
}

func closeFile(f *os.File) {
	if f != nil {
		_ = f.Close()
	}
}
