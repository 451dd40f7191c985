// Package tools provides command execution helpers for worker-side
// collaborator shell-outs.
package tools

import (
	"errors"
	"os/exec"
)

// CommandRunner abstracts external command execution. Collaborators only
// need the interleaved output and the exit status; both end up inside
// the response payload.
type CommandRunner interface {
	Run(dir, name string, args ...string) (combined []byte, exitCode int32, err error)
}

// ExecRunner executes commands on the local host.
type ExecRunner struct{}

func (r ExecRunner) Run(dir, name string, args ...string) ([]byte, int32, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	combined, err := cmd.CombinedOutput()
	if err == nil {
		return combined, 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return combined, int32(exitErr.ExitCode()), err
	}

	exitCode := int32(1)
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		exitCode = 127
	}
	return combined, exitCode, err
}
