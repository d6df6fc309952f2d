package engine

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/michaelbrown/scriptforge/internal/diagnostics"
	"github.com/michaelbrown/scriptforge/internal/events"
	"github.com/michaelbrown/scriptforge/internal/pydeps"
	"github.com/michaelbrown/scriptforge/internal/runner"
)

// withTempScript writes source to a throwaway .py file for checkers that
// only operate on paths.
func withTempScript(source string, fn func(path string) error) error {
	f, err := os.CreateTemp("", "scriptforge-check-*.py")
	if err != nil {
		return fmt.Errorf("creating temp script: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)

	if _, err := f.WriteString(source); err != nil {
		f.Close()
		return fmt.Errorf("writing temp script: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return fn(path)
}

// CheckSyntax compiles source without running it. A *diagnostics.SyntaxError
// return means the code does not parse.
func (e *Engine) CheckSyntax(ctx context.Context, source string) error {
	return withTempScript(source, func(path string) error {
		return e.gate.Syntax(ctx, path)
	})
}

// CheckLint lints source without running it.
func (e *Engine) CheckLint(ctx context.Context, source string) (*diagnostics.LintResult, error) {
	var res *diagnostics.LintResult
	err := withTempScript(source, func(path string) error {
		var err error
		res, err = e.gate.Lint(ctx, path)
		return err
	})
	return res, err
}

// CheckSecurity scans source without running it.
func (e *Engine) CheckSecurity(ctx context.Context, source string) (*diagnostics.SecurityResult, error) {
	var res *diagnostics.SecurityResult
	err := withTempScript(source, func(path string) error {
		var err error
		res, err = e.gate.Security(ctx, path)
		return err
	})
	return res, err
}

// Dependencies returns the third-party packages source would need installed.
func (e *Engine) Dependencies(source string) []string {
	return pydeps.ThirdParty(source)
}

// Execute runs source to completion and returns the captured result. Unlike
// StartRun it blocks, but it occupies the same run slot and publishes the
// same events, so observers cannot tell the two apart. Sources that look
// interactive get the terminal instead of capture.
func (e *Engine) Execute(ctx context.Context, source string, opts Options) (*runner.Result, error) {
	e.mu.Lock()
	if e.active {
		e.mu.Unlock()
		return nil, ErrRunActive
	}
	e.active = true
	e.mu.Unlock()
	defer e.release()

	scr, err := e.ws.Write(source)
	if err != nil {
		return nil, err
	}
	if opts.Policy == "" {
		opts.Policy = e.policy
	}
	if opts.Timeout == 0 {
		opts.Timeout = e.timeout
	}

	started := time.Now()
	h := &Handle{ID: uuid.NewString(), ScriptPath: scr.Path}

	if !e.runChecks(ctx, scr, opts) {
		e.bus.Publish(events.Completed(false, nil))
		e.recordRun(ctx, h, scr, opts, OutcomeBlocked, false, nil, time.Since(started))
		return nil, fmt.Errorf("execution blocked by diagnostics")
	}
	e.bus.Publish(events.Started(scr.Path))

	deps := pydeps.ThirdParty(scr.Source)
	env, err := e.prov.Provision(ctx, opts.Policy, deps)
	if err != nil {
		e.bus.Publish(events.Completed(false, nil))
		e.recordRun(ctx, h, scr, opts, OutcomeFailed, false, nil, time.Since(started))
		return nil, err
	}
	defer env.Teardown()
	for _, w := range env.Warnings {
		e.info("Warning: " + w)
	}

	mode := runner.Captured
	if runner.NeedsInteractive(scr.Source) {
		mode = runner.Interactive
		opts.Timeout = 0
	}

	res, err := runner.New(opts.Timeout).Execute(ctx, env, scr.Path, mode)
	if err != nil {
		e.bus.Publish(events.Completed(false, nil))
		e.recordRun(ctx, h, scr, opts, OutcomeFailed, false, nil, time.Since(started))
		return nil, err
	}

	for _, line := range splitLines(res.Stdout) {
		e.bus.Publish(events.LogLine(events.StreamStdout, line))
	}
	for _, line := range splitLines(res.Stderr) {
		e.bus.Publish(events.LogLine(events.StreamStderr, line))
	}
	e.bus.Publish(events.Completed(res.Success(), res.ExitCode))

	outcome := OutcomeCompleted
	if res.ExitCode == nil {
		outcome = OutcomeTimedOut
	}
	e.recordRun(ctx, h, scr, opts, outcome, res.Success(), res.ExitCode, time.Since(started))
	return res, nil
}

func splitLines(s string) []string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
