package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/michaelbrown/scriptforge/internal/sandbox"
)

// Mode selects how a script's stdio is handled.
type Mode int

const (
	// Captured pipes stdout/stderr into buffers and enforces the timeout.
	Captured Mode = iota
	// Interactive inherits the parent's terminal so the script can drive
	// a UI or prompt directly. No timeout applies.
	Interactive
)

// maxCaptured caps how much of each stream a captured run retains.
const maxCaptured = 1 << 20

// Result is the outcome of a completed (or killed) captured run.
// ExitCode is nil when the process was terminated before exiting on its
// own, e.g. by the timeout.
type Result struct {
	ScriptPath string
	Stdout     string
	Stderr     string
	ExitCode   *int
}

// Success reports whether the script ran to completion with exit code 0.
func (r *Result) Success() bool {
	return r.ExitCode != nil && *r.ExitCode == 0
}

// Runner executes provisioned scripts.
type Runner struct {
	Timeout time.Duration // captured-mode wall clock limit; 0 means no limit
}

func New(timeout time.Duration) *Runner {
	return &Runner{Timeout: timeout}
}

// Execute runs the script to completion under the environment's launch
// command. Candidate commands are tried in order; a command that cannot
// spawn (interpreter not installed) falls through to the next one.
func (r *Runner) Execute(ctx context.Context, env *sandbox.Env, scriptPath string, mode Mode) (*Result, error) {
	cmds, err := env.Commands(scriptPath, mode == Interactive)
	if err != nil {
		return nil, err
	}

	var spawnErr error
	for _, argv := range cmds {
		res, err := r.runOne(ctx, argv, scriptPath, mode)
		if err != nil {
			spawnErr = err
			continue
		}
		return res, nil
	}
	return nil, fmt.Errorf("starting script: %w", spawnErr)
}

func (r *Runner) runOne(ctx context.Context, argv []string, scriptPath string, mode Mode) (*Result, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)

	if mode == Interactive {
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Start(); err != nil {
			return nil, err
		}
		res := &Result{ScriptPath: scriptPath}
		code := 0
		if err := cmd.Wait(); err != nil {
			exitErr, ok := err.(*exec.ExitError)
			if !ok {
				return nil, fmt.Errorf("waiting for script: %w", err)
			}
			code = exitErr.ExitCode()
		}
		res.ExitCode = &code
		return res, nil
	}

	stdout := newLimitBuffer(maxCaptured)
	stderr := newLimitBuffer(maxCaptured)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	res := &Result{ScriptPath: scriptPath}

	var timeoutC <-chan time.Time
	if r.Timeout > 0 {
		timer := time.NewTimer(r.Timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case err := <-done:
		code := 0
		if err != nil {
			exitErr, ok := err.(*exec.ExitError)
			if !ok {
				return nil, fmt.Errorf("waiting for script: %w", err)
			}
			code = exitErr.ExitCode()
		}
		res.ExitCode = &code
	case <-timeoutC:
		cmd.Process.Kill()
		<-done // reap
		res.Stderr = fmt.Sprintf("Process timed out after %d seconds", int(r.Timeout.Seconds()))
	}

	res.Stdout += stdout.String()
	res.Stderr += stderr.String()
	return res, nil
}

// Process is a running script with piped stdio, for callers that stream
// output live instead of waiting for completion.
type Process struct {
	Cmd    *exec.Cmd
	Stdin  io.WriteCloser
	Stdout io.ReadCloser
	Stderr io.ReadCloser
}

// Spawn starts the script with all three stdio streams piped. The caller
// is responsible for draining Stdout/Stderr and calling Cmd.Wait.
func (r *Runner) Spawn(ctx context.Context, env *sandbox.Env, scriptPath string) (*Process, error) {
	cmds, err := env.Commands(scriptPath, false)
	if err != nil {
		return nil, err
	}

	var spawnErr error
	for _, argv := range cmds {
		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, err
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, err
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			return nil, err
		}
		if err := cmd.Start(); err != nil {
			spawnErr = err
			continue
		}
		return &Process{Cmd: cmd, Stdin: stdin, Stdout: stdout, Stderr: stderr}, nil
	}
	return nil, fmt.Errorf("starting script: %w", spawnErr)
}
