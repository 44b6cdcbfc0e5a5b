package device

import (
	"context"
	"io"
	"os/exec"
	"sync"

	"github.com/buckleypaul/certbench/internal/errors"
)

// Result bundles the output of a finished command.
type Result struct {
	Output   string
	ExitCode int
}

// Runner starts host processes. Tests swap in a fake.
type Runner interface {
	// Run executes a command to completion. A non-zero exit is reported in
	// Result, not as an error; errors mean the process could not run.
	Run(ctx context.Context, name string, args ...string) (Result, error)
	// Stream starts a long-lived command and returns its stdout. Closing
	// the reader terminates and reaps the process.
	Stream(ctx context.Context, name string, args ...string) (io.ReadCloser, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	// Env replaces the inherited environment when non-nil.
	Env []string
}

func (r ExecRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if r.Env != nil {
		cmd.Env = r.Env
	}

	output, err := cmd.CombinedOutput()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && ctx.Err() == nil {
			return Result{Output: string(output), ExitCode: exitErr.ExitCode()}, nil
		}
		if ctx.Err() != nil {
			return Result{Output: string(output), ExitCode: -1}, errors.Wrapf(ctx.Err(), errors.KindTimeout, "%s", name)
		}
		return Result{Output: string(output), ExitCode: -1}, errors.Wrapf(err, errors.KindTransport, "%s", name)
	}
	return Result{Output: string(output)}, nil
}

func (r ExecRunner) Stream(ctx context.Context, name string, args ...string) (io.ReadCloser, error) {
	cmd := exec.Command(name, args...)
	if r.Env != nil {
		cmd.Env = r.Env
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindTransport, "%s stdout", name)
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, errors.KindTransport, "start %s", name)
	}
	return &processReader{ReadCloser: stdout, cmd: cmd}, nil
}

// processReader kills and reaps its process on Close.
type processReader struct {
	io.ReadCloser
	cmd  *exec.Cmd
	once sync.Once
}

func (p *processReader) Close() error {
	p.once.Do(func() {
		if p.cmd.Process != nil {
			p.cmd.Process.Kill()
		}
		// Wait closes the stdout pipe, unblocking any pending Read.
		p.cmd.Wait()
	})
	return nil
}
