//go:build !linux

package engine

import (
	"context"
	"fmt"
	"time"

	"judgebox/internal/judge/sandbox/spec"
)

// LocalConfig controls the host backend.
type LocalConfig struct {
	HelperPath    string
	ArtifactRoot  string
	KillGrace     time.Duration
	EnableSeccomp bool
}

type stubBackend struct{}

// NewLocalBackend returns a backend that refuses every launch off linux.
func NewLocalBackend(cfg LocalConfig) (Backend, error) {
	return stubBackend{}, nil
}

func (stubBackend) Start(ctx context.Context, groupPath string, ps spec.ProcessSpec) (Process, error) {
	return nil, fmt.Errorf("local sandbox backend is only supported on linux")
}
