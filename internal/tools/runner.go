package tools

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
)

// CommandRunner runs an external program, such as the session manager a
// managed client hands control back to.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// Result is the captured output of one command.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// ExecRunner executes commands on the local host.
type ExecRunner struct{}

func (r ExecRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, err
	}

	res.ExitCode = 1
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		res.ExitCode = 127
	}
	return res, err
}

// RunnerFunc adapts a function to CommandRunner.
type RunnerFunc func(ctx context.Context, name string, args ...string) (Result, error)

func (f RunnerFunc) Run(ctx context.Context, name string, args ...string) (Result, error) {
	return f(ctx, name, args...)
}
