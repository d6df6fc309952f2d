// Package engine coordinates script runs: diagnostics gating, dependency
// resolution, sandbox provisioning, process supervision, and live event
// broadcast. One run is active at a time; stdin injection and kill requests
// act on that run.
package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/michaelbrown/scriptforge/internal/diagnostics"
	"github.com/michaelbrown/scriptforge/internal/events"
	"github.com/michaelbrown/scriptforge/internal/pydeps"
	"github.com/michaelbrown/scriptforge/internal/runner"
	"github.com/michaelbrown/scriptforge/internal/sandbox"
	"github.com/michaelbrown/scriptforge/internal/script"
	"github.com/michaelbrown/scriptforge/internal/storage"
)

// ErrRunActive is returned when a run is requested while another script is
// still executing. Callers retry after the active run's terminal event.
var ErrRunActive = errors.New("a script is already running")

// Run outcomes persisted to storage.
const (
	OutcomeCompleted = "completed"
	OutcomeKilled    = "killed"
	OutcomeTimedOut  = "timed_out"
	OutcomeBlocked   = "blocked"
	OutcomeFailed    = "failed"
)

// NoTimeout requests an unbounded wait, as distinct from the zero value
// which takes the engine default.
const NoTimeout = time.Duration(-1)

// Options tune a single run. Zero values take the engine defaults.
type Options struct {
	Policy  sandbox.Policy // isolation policy; "" uses the engine default
	Timeout time.Duration  // wall clock limit; 0 uses the engine default, NoTimeout disables it
	// SkipChecks bypasses lint and security gating. Syntax checking and
	// the HIGH-severity security block cannot be bypassed.
	SkipChecks bool
}

// Handle identifies a run that has been accepted and started.
type Handle struct {
	ID         string `json:"run_id"`
	ScriptPath string `json:"script_path"`
}

// Config wires an Engine's collaborators.
type Config struct {
	Gate        *diagnostics.Gate
	Provisioner *sandbox.Provisioner
	Workspace   *script.Workspace
	Bus         *events.Bus
	Store       storage.Store // optional; nil disables run history
	Policy      sandbox.Policy
	Timeout     time.Duration
}

// Engine owns the single steerable run slot.
type Engine struct {
	gate    *diagnostics.Gate
	prov    *sandbox.Provisioner
	ws      *script.Workspace
	bus     *events.Bus
	store   storage.Store
	policy  sandbox.Policy
	timeout time.Duration

	mu     sync.Mutex
	active bool
	slot   runner.Slot
	killed atomic.Bool
}

func New(cfg Config) *Engine {
	if cfg.Policy == "" {
		cfg.Policy = sandbox.PolicyHostVenv
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Engine{
		gate:    cfg.Gate,
		prov:    cfg.Provisioner,
		ws:      cfg.Workspace,
		bus:     cfg.Bus,
		store:   cfg.Store,
		policy:  cfg.Policy,
		timeout: cfg.Timeout,
	}
}

// Active reports whether a run currently occupies the slot.
func (e *Engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// StartRun persists the source as a new script and launches its pipeline in
// the background. The returned Handle is valid immediately; progress arrives
// on the event bus. A second StartRun while one is active fails with
// ErrRunActive.
func (e *Engine) StartRun(ctx context.Context, source string, opts Options) (*Handle, error) {
	e.mu.Lock()
	if e.active {
		e.mu.Unlock()
		return nil, ErrRunActive
	}
	e.active = true
	e.mu.Unlock()

	scr, err := e.ws.Write(source)
	if err != nil {
		e.release()
		return nil, err
	}

	if opts.Policy == "" {
		opts.Policy = e.policy
	}
	if opts.Timeout == 0 {
		opts.Timeout = e.timeout
	}

	h := &Handle{ID: uuid.NewString(), ScriptPath: scr.Path}
	go e.pipeline(context.WithoutCancel(ctx), h, scr, opts)
	return h, nil
}

// SendInput injects one line into the running script's stdin and echoes it
// on the event stream so observers see what was typed.
func (e *Engine) SendInput(text string) error {
	if err := e.slot.SendInput(text); err != nil {
		return err
	}
	e.bus.Publish(events.LogLine(events.StreamStdin, text))
	return nil
}

// Kill force-terminates the running script. The pipeline emits the killed
// terminal event once the process is reaped.
func (e *Engine) Kill() error {
	e.killed.Store(true)
	if err := e.slot.Kill(); err != nil {
		e.killed.Store(false)
		return err
	}
	return nil
}

func (e *Engine) release() {
	e.mu.Lock()
	e.active = false
	e.mu.Unlock()
}

// pipeline is the full life of one run. It always publishes exactly one
// terminal event and always releases the slot and tears down the sandbox.
func (e *Engine) pipeline(ctx context.Context, h *Handle, scr *script.Script, opts Options) {
	defer e.release()
	e.killed.Store(false)

	started := time.Now()
	finish := func(outcome string, success bool, exitCode *int) {
		e.recordRun(ctx, h, scr, opts, outcome, success, exitCode, time.Since(started))
	}

	// The gate runs before Started: a blocked script never announces a run.
	if !e.runChecks(ctx, scr, opts) {
		e.bus.Publish(events.Completed(false, nil))
		finish(OutcomeBlocked, false, nil)
		return
	}

	e.bus.Publish(events.Started(scr.Path))

	deps := pydeps.ThirdParty(scr.Source)
	if len(deps) > 0 {
		e.info(fmt.Sprintf("Installing packages: %v", deps))
	}

	env, err := e.prov.Provision(ctx, opts.Policy, deps)
	if err != nil {
		e.info("Provisioning failed: " + err.Error())
		e.bus.Publish(events.Completed(false, nil))
		finish(OutcomeFailed, false, nil)
		return
	}
	defer env.Teardown()
	for _, w := range env.Warnings {
		e.info("Warning: " + w)
	}

	run := runner.New(0)
	proc, err := run.Spawn(ctx, env, scr.Path)
	if err != nil {
		e.info("Failed to start script: " + err.Error())
		e.bus.Publish(events.Completed(false, nil))
		finish(OutcomeFailed, false, nil)
		return
	}
	e.slot.Set(proc.Cmd.Process, proc.Stdin)
	defer e.slot.Clear()

	// Both output streams feed the bus line by line. The readers must
	// drain to EOF before Wait reaps the process.
	var wg sync.WaitGroup
	wg.Add(2)
	go e.readLines(&wg, proc.Stdout, events.StreamStdout)
	go e.readLines(&wg, proc.Stderr, events.StreamStderr)

	var timedOut atomic.Bool
	if opts.Timeout > 0 {
		timer := time.AfterFunc(opts.Timeout, func() {
			timedOut.Store(true)
			proc.Cmd.Process.Kill()
		})
		defer timer.Stop()
	}

	wg.Wait()
	waitErr := proc.Cmd.Wait()

	switch {
	case timedOut.Load():
		e.bus.Publish(events.LogLine(events.StreamStderr,
			fmt.Sprintf("Process timed out after %d seconds", int(opts.Timeout.Seconds()))))
		e.bus.Publish(events.Completed(false, nil))
		finish(OutcomeTimedOut, false, nil)
	case e.killed.Load():
		e.bus.Publish(events.Killed())
		finish(OutcomeKilled, false, nil)
	default:
		code := 0
		if waitErr != nil {
			var exitErr *exec.ExitError
			if errors.As(waitErr, &exitErr) {
				code = exitErr.ExitCode()
			} else {
				e.info("Wait failed: " + waitErr.Error())
			}
		}
		e.bus.Publish(events.Completed(code == 0, &code))
		finish(OutcomeCompleted, code == 0, &code)
	}
}

// runChecks applies the diagnostics gate. It returns false when the run
// must not proceed. Missing checkers skip their check; lint findings are
// advisory; HIGH-severity security findings block unconditionally.
func (e *Engine) runChecks(ctx context.Context, scr *script.Script, opts Options) bool {
	if err := e.gate.Syntax(ctx, scr.Path); err != nil {
		var synErr *diagnostics.SyntaxError
		switch {
		case errors.As(err, &synErr):
			e.bus.Publish(events.LogLine(events.StreamStderr, synErr.Output))
			return false
		case errors.Is(err, diagnostics.ErrUnavailable):
			e.info("Syntax check skipped: no python interpreter found")
		default:
			e.info("Syntax check failed: " + err.Error())
		}
	}

	if !opts.SkipChecks {
		lint, err := e.gate.Lint(ctx, scr.Path)
		switch {
		case errors.Is(err, diagnostics.ErrUnavailable):
			e.info("Lint check skipped: ruff not installed")
		case err != nil:
			e.info("Lint check failed: " + err.Error())
		default:
			e.bus.Publish(events.Diagnostics(events.KindLint, lint.Passed, diagnosticLines(lint)))
		}
	}

	sec, err := e.gate.Security(ctx, scr.Path)
	switch {
	case errors.Is(err, diagnostics.ErrUnavailable):
		if !opts.SkipChecks {
			e.info("Security check skipped: bandit not installed")
		}
	case err != nil:
		e.info("Security check failed: " + err.Error())
	default:
		if !opts.SkipChecks || sec.HasHighSeverity {
			e.bus.Publish(events.Diagnostics(events.KindSecurity, sec.Passed, securityLines(sec)))
		}
		if sec.HasHighSeverity {
			e.info("Execution blocked: high-severity security findings")
			return false
		}
	}
	return true
}

func (e *Engine) readLines(wg *sync.WaitGroup, r io.Reader, stream string) {
	defer wg.Done()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		e.bus.Publish(events.LogLine(stream, sc.Text()))
	}
	// A scan error (a line over the buffer cap) must not strand the pipe:
	// the child would block writing and never get reaped. Drain to EOF so
	// Wait can return.
	if err := sc.Err(); err != nil {
		e.info(fmt.Sprintf("Output on %s truncated: %v", stream, err))
		io.Copy(io.Discard, r)
	}
}

func (e *Engine) info(msg string) {
	e.bus.Publish(events.LogLine(events.StreamInfo, msg))
}

func (e *Engine) recordRun(ctx context.Context, h *Handle, scr *script.Script, opts Options, outcome string, success bool, exitCode *int, dur time.Duration) {
	if e.store == nil {
		return
	}
	rec := &storage.Run{
		ID:         h.ID,
		ScriptPath: scr.Path,
		Policy:     string(opts.Policy),
		Outcome:    outcome,
		Success:    success,
		ExitCode:   exitCode,
		DurationMS: dur.Milliseconds(),
		CreatedAt:  time.Now(),
	}
	if err := e.store.RecordRun(ctx, rec); err != nil {
		e.info("Recording run: " + err.Error())
	}
}

func diagnosticLines(r *diagnostics.LintResult) []string {
	lines := make([]string, 0, len(r.Diagnostics))
	for _, d := range r.Diagnostics {
		lines = append(lines, d.Message)
	}
	return lines
}

func securityLines(r *diagnostics.SecurityResult) []string {
	lines := make([]string, 0, len(r.Diagnostics))
	for _, d := range r.Diagnostics {
		lines = append(lines, d.Message)
	}
	return lines
}
