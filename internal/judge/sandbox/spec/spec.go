// Package spec defines the process specification and resource limits of one sandbox run.
package spec

import (
	"judgebox/pkg/errors"
)

// ResourceLimit describes hard limits enforced by the sandbox.
type ResourceLimit struct {
	CPUTimeMs int64
	MemoryMB  int64
	StackMB   int64
	OutputMB  int64
	PIDs      int64
}

// MountSpec describes a bind mount inside the sandbox.
type MountSpec struct {
	Source   string
	Target   string
	ReadOnly bool
}

// ProcessSpec is the backend-neutral description of one sandboxed process.
type ProcessSpec struct {
	// Image is the container image; the local backend ignores it.
	Image   string
	Cmd     []string
	Env     []string
	WorkDir string
	// StdinPath is a host file fed to the process, empty for no input.
	StdinPath  string
	BindMounts []MountSpec
	Limits     ResourceLimit
	// SeccompProfile is a host path to a JSON syscall filter; local backend only.
	SeccompProfile string
}

// Validate checks the fields every backend needs.
func (p ProcessSpec) Validate() error {
	if len(p.Cmd) == 0 {
		return errors.ValidationError("cmd", "command is required")
	}
	for _, m := range p.BindMounts {
		if m.Source == "" || m.Target == "" {
			return errors.ValidationError("bindMounts", "source and target are required")
		}
	}
	return nil
}

// InitRequest is the JSON document the local backend hands to the judge-init helper on stdin.
type InitRequest struct {
	Process       ProcessSpec `json:"process"`
	StdoutPath    string      `json:"stdoutPath"`
	StderrPath    string      `json:"stderrPath"`
	EnableSeccomp bool        `json:"enableSeccomp"`
}
