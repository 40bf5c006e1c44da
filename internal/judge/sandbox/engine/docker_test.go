package engine

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"judgebox/internal/judge/sandbox/spec"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

type fakeContainerAPI struct {
	config     *container.Config
	hostConfig *container.HostConfig
	started    bool
	killed     bool
	removed    bool
	logsOpts   types.ContainerLogsOptions
	waitCh     chan container.WaitResponse
	stdout     string
	stderr     string
}

func newFakeContainerAPI() *fakeContainerAPI {
	return &fakeContainerAPI{waitCh: make(chan container.WaitResponse, 1)}
}

func (f *fakeContainerAPI) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error) {
	f.config = config
	f.hostConfig = hostConfig
	return container.CreateResponse{ID: "c1"}, nil
}

func (f *fakeContainerAPI) ContainerAttach(ctx context.Context, containerID string, options types.ContainerAttachOptions) (types.HijackedResponse, error) {
	return types.HijackedResponse{}, nil
}

func (f *fakeContainerAPI) ContainerStart(ctx context.Context, containerID string, options types.ContainerStartOptions) error {
	f.started = true
	return nil
}

func (f *fakeContainerAPI) ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	return f.waitCh, make(chan error)
}

func (f *fakeContainerAPI) ContainerKill(ctx context.Context, containerID, signal string) error {
	f.killed = true
	f.waitCh <- container.WaitResponse{StatusCode: 137}
	return nil
}

func (f *fakeContainerAPI) ContainerLogs(ctx context.Context, containerID string, options types.ContainerLogsOptions) (io.ReadCloser, error) {
	f.logsOpts = options
	var buf bytes.Buffer
	_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stdout).Write([]byte(f.stdout))
	_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stderr).Write([]byte(f.stderr))
	return io.NopCloser(&buf), nil
}

func (f *fakeContainerAPI) ContainerRemove(ctx context.Context, containerID string, options types.ContainerRemoveOptions) error {
	f.removed = options.Force
	return nil
}

func TestDockerBackendRun(t *testing.T) {
	api := newFakeContainerAPI()
	api.stdout = "42\n"
	api.stderr = "note\n"
	backend := newDockerBackend(DockerConfig{CgroupMount: "/sys/fs/cgroup", NetworkDisabled: true}, api)

	ps := spec.ProcessSpec{
		Image:      "gcc:13",
		Cmd:        []string{"./main"},
		WorkDir:    "/tmp/build",
		BindMounts: []spec.MountSpec{{Source: "/opt/tc", Target: "/tc", ReadOnly: true}},
		Limits:     spec.ResourceLimit{MemoryMB: 256, PIDs: 64},
	}
	proc, err := backend.Start(context.Background(), "/sys/fs/cgroup/judge/judge-1", ps)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !api.started {
		t.Fatalf("container not started")
	}
	if api.hostConfig.Resources.CgroupParent != "/judge/judge-1" {
		t.Fatalf("unexpected cgroup parent %s", api.hostConfig.Resources.CgroupParent)
	}
	if api.hostConfig.Resources.Memory != 256<<20 || *api.hostConfig.Resources.PidsLimit != 64 {
		t.Fatalf("limits not applied: %+v", api.hostConfig.Resources)
	}
	wantBinds := []string{"/tmp/build:/work", "/opt/tc:/tc:ro"}
	for i, b := range wantBinds {
		if api.hostConfig.Binds[i] != b {
			t.Fatalf("bind %d: expected %s, got %s", i, b, api.hostConfig.Binds[i])
		}
	}
	if api.config.WorkingDir != "/work" || api.hostConfig.NetworkMode != "none" {
		t.Fatalf("unexpected config %+v", api.config)
	}

	api.waitCh <- container.WaitResponse{StatusCode: 7}
	code, err := proc.Wait(context.Background())
	if err != nil || code != 7 {
		t.Fatalf("expected exit 7, got %d %v", code, err)
	}

	var stdout, stderr bytes.Buffer
	if err := proc.Logs(context.Background(), &stdout, &stderr, 10); err != nil {
		t.Fatalf("logs: %v", err)
	}
	if stdout.String() != "42\n" || stderr.String() != "note\n" || api.logsOpts.Tail != "10" {
		t.Fatalf("unexpected logs %q %q tail=%s", stdout.String(), stderr.String(), api.logsOpts.Tail)
	}
	if err := proc.Remove(context.Background()); err != nil || !api.removed {
		t.Fatalf("expected forced removal, got %v", err)
	}
}

func TestDockerBackendTimeoutKill(t *testing.T) {
	api := newFakeContainerAPI()
	backend := newDockerBackend(DockerConfig{KillGrace: time.Second}, api)
	proc, err := backend.Start(context.Background(), "/sys/fs/cgroup/judge/judge-2", spec.ProcessSpec{Image: "img", Cmd: []string{"sleep", "100"}})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := proc.Wait(ctx); err != context.DeadlineExceeded {
		t.Fatalf("expected deadline, got %v", err)
	}
	if err := proc.Kill(context.Background()); err != nil {
		t.Fatalf("kill: %v", err)
	}
	if !api.killed {
		t.Fatalf("expected kill")
	}
}

func TestDockerBackendRequiresImage(t *testing.T) {
	backend := newDockerBackend(DockerConfig{}, newFakeContainerAPI())
	if _, err := backend.Start(context.Background(), "/sys/fs/cgroup/x", spec.ProcessSpec{Cmd: []string{"a"}}); err == nil {
		t.Fatalf("expected error without image")
	}
}

func TestCgroupParent(t *testing.T) {
	cases := []struct {
		mount, path, want string
		wantErr           bool
	}{
		{mount: "/sys/fs/cgroup", path: "/sys/fs/cgroup/judge/run", want: "/judge/run"},
		{mount: "/sys/fs/cgroup", path: "/tmp/run", wantErr: true},
		{mount: "/sys/fs/cgroup", path: "/sys/fs/cgroup", wantErr: true},
	}
	for _, tc := range cases {
		got, err := cgroupParent(tc.mount, tc.path)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%s: expected error", tc.path)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("%s: expected %s, got %s %v", tc.path, tc.want, got, err)
		}
	}
}
