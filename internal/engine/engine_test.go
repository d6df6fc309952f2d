package engine

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/michaelbrown/scriptforge/internal/diagnostics"
	"github.com/michaelbrown/scriptforge/internal/events"
	"github.com/michaelbrown/scriptforge/internal/runner"
	"github.com/michaelbrown/scriptforge/internal/sandbox"
	"github.com/michaelbrown/scriptforge/internal/script"
	"github.com/michaelbrown/scriptforge/internal/storage"
	"github.com/michaelbrown/scriptforge/internal/storage/sqlite"
)

// newTestEngine builds an engine whose interpreter is /bin/sh and whose
// checkers do not exist, so the gate soft-skips and scripts are plain shell.
func newTestEngine(t *testing.T, store storage.Store) (*Engine, *events.Bus) {
	t.Helper()
	ws, err := script.NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	bus := events.NewBus()
	eng := New(Config{
		Gate: &diagnostics.Gate{
			Python:         "scriptforge-test-no-python",
			PythonFallback: "scriptforge-test-no-python-2",
			RuffBin:        "scriptforge-test-no-ruff",
			BanditBin:      "scriptforge-test-no-bandit",
		},
		Provisioner: sandbox.NewProvisioner(sandbox.Config{Python: "/bin/sh", PythonFallback: "sh"}),
		Workspace:   ws,
		Bus:         bus,
		Store:       store,
		Policy:      sandbox.PolicyHost,
		Timeout:     10 * time.Second,
	})
	return eng, bus
}

// collect drains events until the terminal one (completed or killed).
func collect(t *testing.T, ch <-chan events.Event) []events.Event {
	t.Helper()
	var got []events.Event
	deadline := time.After(15 * time.Second)
	for {
		select {
		case e := <-ch:
			got = append(got, e)
			if e.Type == events.TypeCompleted || e.Type == events.TypeKilled {
				return got
			}
		case <-deadline:
			t.Fatalf("no terminal event; got %d events: %v", len(got), got)
		}
	}
}

func findLine(evts []events.Event, stream, text string) bool {
	for _, e := range evts {
		if e.Type == events.TypeLogLine && e.Stream == stream && e.Text == text {
			return true
		}
	}
	return false
}

func TestStartRunCompletes(t *testing.T) {
	eng, bus := newTestEngine(t, nil)
	ch, cancel := bus.Subscribe()
	defer cancel()

	h, err := eng.StartRun(context.Background(), "echo hello\necho oops >&2\n", Options{})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if h.ID == "" || h.ScriptPath == "" {
		t.Errorf("incomplete handle: %+v", h)
	}

	evts := collect(t, ch)
	startedIdx := -1
	for i, e := range evts {
		if e.Type == events.TypeStarted {
			startedIdx = i
			break
		}
	}
	if startedIdx < 0 {
		t.Fatalf("no started event: %v", evts)
	}
	if evts[startedIdx].ScriptPath != h.ScriptPath {
		t.Errorf("started path = %q, want %q", evts[startedIdx].ScriptPath, h.ScriptPath)
	}
	for i := 0; i < startedIdx; i++ {
		if evts[i].Stream == events.StreamStdout || evts[i].Stream == events.StreamStderr {
			t.Errorf("process output before started: %+v", evts[i])
		}
	}
	if !findLine(evts, events.StreamStdout, "hello") {
		t.Errorf("missing stdout line: %v", evts)
	}
	if !findLine(evts, events.StreamStderr, "oops") {
		t.Errorf("missing stderr line: %v", evts)
	}

	last := evts[len(evts)-1]
	if last.Type != events.TypeCompleted || !last.Success {
		t.Errorf("terminal = %+v, want successful completed", last)
	}
	if last.ExitCode == nil || *last.ExitCode != 0 {
		t.Errorf("exit code = %v, want 0", last.ExitCode)
	}
}

func TestStartRunNonZeroExit(t *testing.T) {
	eng, bus := newTestEngine(t, nil)
	ch, cancel := bus.Subscribe()
	defer cancel()

	if _, err := eng.StartRun(context.Background(), "exit 4\n", Options{}); err != nil {
		t.Fatal(err)
	}

	evts := collect(t, ch)
	last := evts[len(evts)-1]
	if last.Type != events.TypeCompleted || last.Success {
		t.Errorf("terminal = %+v, want failed completed", last)
	}
	if last.ExitCode == nil || *last.ExitCode != 4 {
		t.Errorf("exit code = %v, want 4", last.ExitCode)
	}
}

func TestStartRunRejectsConcurrent(t *testing.T) {
	eng, bus := newTestEngine(t, nil)
	ch, cancel := bus.Subscribe()
	defer cancel()

	if _, err := eng.StartRun(context.Background(), "sleep 10\n", Options{}); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.StartRun(context.Background(), "echo nope\n", Options{}); !errors.Is(err, ErrRunActive) {
		t.Errorf("second StartRun = %v, want ErrRunActive", err)
	}

	killEventually(t, eng)
	evts := collect(t, ch)
	if evts[len(evts)-1].Type != events.TypeKilled {
		t.Errorf("terminal = %+v, want killed", evts[len(evts)-1])
	}
}

func TestStartRunTimeout(t *testing.T) {
	eng, bus := newTestEngine(t, nil)
	ch, cancel := bus.Subscribe()
	defer cancel()

	if _, err := eng.StartRun(context.Background(), "sleep 30\n", Options{Timeout: 200 * time.Millisecond}); err != nil {
		t.Fatal(err)
	}

	evts := collect(t, ch)
	last := evts[len(evts)-1]
	if last.Type != events.TypeCompleted || last.Success || last.ExitCode != nil {
		t.Errorf("terminal = %+v, want failed completed with nil exit", last)
	}

	found := false
	for _, e := range evts {
		if e.Type == events.TypeLogLine && e.Stream == events.StreamStderr && strings.Contains(e.Text, "timed out") {
			found = true
		}
	}
	if !found {
		t.Errorf("missing timeout notice: %v", evts)
	}
}

func TestSendInputEchoesAndReaches(t *testing.T) {
	eng, bus := newTestEngine(t, nil)
	ch, cancel := bus.Subscribe()
	defer cancel()

	if _, err := eng.StartRun(context.Background(), "read line\necho got:$line\n", Options{}); err != nil {
		t.Fatal(err)
	}

	// The process spawns asynchronously; retry until the slot fills.
	deadline := time.Now().Add(10 * time.Second)
	for {
		err := eng.SendInput("ping")
		if err == nil {
			break
		}
		if !errors.Is(err, runner.ErrNoProcess) || time.Now().After(deadline) {
			t.Fatalf("SendInput: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	evts := collect(t, ch)
	if !findLine(evts, events.StreamStdin, "ping") {
		t.Errorf("stdin echo missing: %v", evts)
	}
	if !findLine(evts, events.StreamStdout, "got:ping") {
		t.Errorf("script did not receive input: %v", evts)
	}
	last := evts[len(evts)-1]
	if last.Type != events.TypeCompleted || !last.Success {
		t.Errorf("terminal = %+v", last)
	}
}

func TestSendInputNoProcess(t *testing.T) {
	eng, _ := newTestEngine(t, nil)
	if err := eng.SendInput("x"); !errors.Is(err, runner.ErrNoProcess) {
		t.Errorf("SendInput = %v, want ErrNoProcess", err)
	}
	if err := eng.Kill(); !errors.Is(err, runner.ErrNoProcess) {
		t.Errorf("Kill = %v, want ErrNoProcess", err)
	}
}

func TestRunRecorded(t *testing.T) {
	store, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	eng, bus := newTestEngine(t, store)
	ch, cancel := bus.Subscribe()
	defer cancel()

	h, err := eng.StartRun(context.Background(), "echo done\n", Options{})
	if err != nil {
		t.Fatal(err)
	}
	collect(t, ch)

	runs, err := store.ListRuns(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}
	r := runs[0]
	if r.ID != h.ID || r.Outcome != OutcomeCompleted || !r.Success {
		t.Errorf("recorded run = %+v", r)
	}
	if r.ExitCode == nil || *r.ExitCode != 0 {
		t.Errorf("exit code = %v, want 0", r.ExitCode)
	}
}

func TestExecuteCapturedBlocking(t *testing.T) {
	eng, _ := newTestEngine(t, nil)

	res, err := eng.Execute(context.Background(), "echo sync\n", Options{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success() {
		t.Errorf("result = %+v", res)
	}
	if res.Stdout != "sync\n" {
		t.Errorf("stdout = %q", res.Stdout)
	}
	if eng.Active() {
		t.Error("slot should be free after Execute returns")
	}
}

func TestSlotFreedAfterRun(t *testing.T) {
	eng, bus := newTestEngine(t, nil)
	ch, cancel := bus.Subscribe()
	defer cancel()

	if _, err := eng.StartRun(context.Background(), "echo one\n", Options{}); err != nil {
		t.Fatal(err)
	}
	collect(t, ch)

	// The slot releases after the terminal event; a fresh run must succeed.
	deadline := time.Now().Add(5 * time.Second)
	for eng.Active() {
		if time.Now().After(deadline) {
			t.Fatal("slot never released")
		}
		time.Sleep(5 * time.Millisecond)
	}
	ch2, cancel2 := bus.Subscribe()
	defer cancel2()
	if _, err := eng.StartRun(context.Background(), "echo two\n", Options{}); err != nil {
		t.Fatalf("second run after completion: %v", err)
	}
	collect(t, ch2)
}

func TestLongLineDoesNotStallRun(t *testing.T) {
	eng, bus := newTestEngine(t, nil)
	ch, cancel := bus.Subscribe()
	defer cancel()

	// One stdout line well past the scanner cap. The run must still reach
	// its terminal event and free the slot, even with no timeout armed.
	src := `s=a
i=0
while [ $i -lt 21 ]; do s=$s$s; i=$((i+1)); done
echo $s
exit 0
`
	if _, err := eng.StartRun(context.Background(), src, Options{Timeout: NoTimeout}); err != nil {
		t.Fatal(err)
	}

	evts := collect(t, ch)
	last := evts[len(evts)-1]
	if last.Type != events.TypeCompleted {
		t.Fatalf("terminal = %+v, want completed", last)
	}
	if last.ExitCode == nil || *last.ExitCode != 0 {
		t.Errorf("exit code = %v, want 0", last.ExitCode)
	}

	found := false
	for _, e := range evts {
		if e.Stream == events.StreamInfo && strings.Contains(e.Text, "truncated") {
			found = true
		}
	}
	if !found {
		t.Errorf("missing truncation notice: %d events", len(evts))
	}

	deadline := time.Now().Add(5 * time.Second)
	for eng.Active() {
		if time.Now().After(deadline) {
			t.Fatal("slot never released")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// fakeTool writes an executable shell script standing in for a checker.
func fakeTool(t *testing.T, name, body string) string {
	t.Helper()
	path := t.TempDir() + "/" + name
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSyntaxErrorBlocksBeforeStart(t *testing.T) {
	eng, bus := newTestEngine(t, nil)
	eng.gate.Python = fakeTool(t, "python3", `echo "SyntaxError: invalid syntax (script.py, line 1)" >&2
exit 1
`)
	eng.gate.PythonFallback = ""
	ch, cancel := bus.Subscribe()
	defer cancel()

	if _, err := eng.StartRun(context.Background(), "def broken(:\n", Options{}); err != nil {
		t.Fatal(err)
	}

	evts := collect(t, ch)
	for _, e := range evts {
		if e.Type == events.TypeStarted {
			t.Fatalf("started event emitted for blocked script: %v", evts)
		}
	}
	last := evts[len(evts)-1]
	if last.Type != events.TypeCompleted || last.Success || last.ExitCode != nil {
		t.Errorf("terminal = %+v, want failed completed with nil exit", last)
	}

	found := false
	for _, e := range evts {
		if e.Stream == events.StreamStderr && strings.Contains(e.Text, "SyntaxError") {
			found = true
		}
	}
	if !found {
		t.Errorf("compiler output missing from stream: %v", evts)
	}
}

func TestHighSeverityBlocksDespiteSkip(t *testing.T) {
	eng, bus := newTestEngine(t, nil)
	eng.gate.Python = fakeTool(t, "python3", "exit 0\n")
	eng.gate.BanditBin = fakeTool(t, "bandit", `echo '{"results":[{"issue_text":"subprocess call with shell=True","issue_severity":"HIGH","issue_confidence":"HIGH","test_id":"B602","line_number":1}]}'
exit 1
`)
	ch, cancel := bus.Subscribe()
	defer cancel()

	// SkipChecks must not bypass the high-severity gate.
	if _, err := eng.StartRun(context.Background(), "import subprocess\n", Options{SkipChecks: true}); err != nil {
		t.Fatal(err)
	}

	evts := collect(t, ch)
	for _, e := range evts {
		if e.Type == events.TypeStarted {
			t.Fatalf("started event emitted for blocked script: %v", evts)
		}
	}

	var diag *events.Event
	for i, e := range evts {
		if e.Type == events.TypeDiagnostics && e.Kind == events.KindSecurity {
			diag = &evts[i]
		}
	}
	if diag == nil {
		t.Fatalf("no security diagnostics event: %v", evts)
	}
	if diag.Passed {
		t.Errorf("security diagnostics passed = true, want false")
	}

	last := evts[len(evts)-1]
	if last.Type != events.TypeCompleted || last.Success || last.ExitCode != nil {
		t.Errorf("terminal = %+v, want failed completed with nil exit", last)
	}
}

func killEventually(t *testing.T, eng *Engine) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		err := eng.Kill()
		if err == nil {
			return
		}
		if !errors.Is(err, runner.ErrNoProcess) || time.Now().After(deadline) {
			t.Fatalf("Kill: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
