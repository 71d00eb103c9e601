package util

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// Output is the fully captured result of an external process.
type Output struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Process is a started external process.
type Process interface {
	// Wait blocks until the process exits and returns its captured output.
	Wait() (Output, error)
	Kill() error
}

// Executor runs external programs to completion. Implementations must not
// stream; callers receive everything once the process exits.
type Executor interface {
	Run(ctx context.Context, dir, name string, args ...string) (Output, error)
	Start(ctx context.Context, dir, name string, args ...string) (Process, error)
}

// OSExecutor runs programs with os/exec.
type OSExecutor struct{}

// Run executes name with args in dir. A non-zero exit is reported through
// Output.ExitCode and a wrapped *exec.ExitError.
func (OSExecutor) Run(ctx context.Context, dir, name string, args ...string) (Output, error) {
	p, err := OSExecutor{}.Start(ctx, dir, name, args...)
	if err != nil {
		return Output{}, err
	}
	return p.Wait()
}

func (OSExecutor) Start(ctx context.Context, dir, name string, args ...string) (Process, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	p := &osProcess{cmd: cmd}
	cmd.Stdout = &p.stdout
	cmd.Stderr = &p.stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}
	return p, nil
}

type osProcess struct {
	cmd    *exec.Cmd
	stdout bytes.Buffer
	stderr bytes.Buffer
}

func (p *osProcess) Wait() (Output, error) {
	err := p.cmd.Wait()
	out := Output{Stdout: p.stdout.Bytes(), Stderr: p.stderr.Bytes()}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		out.ExitCode = exitErr.ExitCode()
	}
	if err != nil {
		return out, fmt.Errorf("%s: %w", p.cmd.Path, err)
	}
	return out, nil
}

func (p *osProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}
