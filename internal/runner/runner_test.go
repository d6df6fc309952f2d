package runner

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/michaelbrown/scriptforge/internal/sandbox"
)

// shellEnv provisions a host environment whose "interpreter" is /bin/sh,
// so tests exercise the full launch path without a Python toolchain.
func shellEnv(t *testing.T) *sandbox.Env {
	t.Helper()
	p := sandbox.NewProvisioner(sandbox.Config{Python: "/bin/sh", PythonFallback: "sh"})
	env, err := p.Provision(context.Background(), sandbox.PolicyHost, nil)
	if err != nil {
		t.Fatal(err)
	}
	return env
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "s.sh")
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestExecuteCaptured(t *testing.T) {
	r := New(10 * time.Second)
	path := writeScript(t, "echo out line\necho err line >&2\n")

	res, err := r.Execute(context.Background(), shellEnv(t), path, Captured)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success() {
		t.Errorf("expected success, exit=%v stderr=%q", res.ExitCode, res.Stderr)
	}
	if !strings.Contains(res.Stdout, "out line") {
		t.Errorf("stdout = %q", res.Stdout)
	}
	if !strings.Contains(res.Stderr, "err line") {
		t.Errorf("stderr = %q", res.Stderr)
	}
}

func TestExecuteNonZeroExit(t *testing.T) {
	r := New(10 * time.Second)
	path := writeScript(t, "exit 3\n")

	res, err := r.Execute(context.Background(), shellEnv(t), path, Captured)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success() {
		t.Error("exit 3 should not be a success")
	}
	if res.ExitCode == nil || *res.ExitCode != 3 {
		t.Errorf("exit code = %v, want 3", res.ExitCode)
	}
}

func TestExecuteTimeout(t *testing.T) {
	r := New(100 * time.Millisecond)
	path := writeScript(t, "sleep 10\n")

	start := time.Now()
	res, err := r.Execute(context.Background(), shellEnv(t), path, Captured)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("timeout did not fire promptly")
	}
	if res.ExitCode != nil {
		t.Errorf("timed-out run must have nil exit code, got %d", *res.ExitCode)
	}
	if res.Success() {
		t.Error("timed-out run must not be a success")
	}
	if !strings.Contains(res.Stderr, "timed out") {
		t.Errorf("stderr = %q, want timeout notice", res.Stderr)
	}
}

func TestExecuteFallbackInterpreter(t *testing.T) {
	p := sandbox.NewProvisioner(sandbox.Config{Python: "definitely-not-a-binary", PythonFallback: "/bin/sh"})
	env, err := p.Provision(context.Background(), sandbox.PolicyHost, nil)
	if err != nil {
		t.Fatal(err)
	}

	r := New(10 * time.Second)
	path := writeScript(t, "echo ok\n")
	res, err := r.Execute(context.Background(), env, path, Captured)
	if err != nil {
		t.Fatalf("Execute should fall through to second interpreter: %v", err)
	}
	if !res.Success() {
		t.Errorf("fallback run failed: %v", res)
	}
}

func TestExecuteNoInterpreter(t *testing.T) {
	p := sandbox.NewProvisioner(sandbox.Config{Python: "nope-1", PythonFallback: "nope-2"})
	env, err := p.Provision(context.Background(), sandbox.PolicyHost, nil)
	if err != nil {
		t.Fatal(err)
	}

	r := New(time.Second)
	path := writeScript(t, "echo ok\n")
	if _, err := r.Execute(context.Background(), env, path, Captured); err == nil {
		t.Error("expected spawn error when no interpreter exists")
	}
}

func TestSpawnStreamAndStdin(t *testing.T) {
	r := New(0)
	path := writeScript(t, "echo ready\nread line\necho got:$line\n")

	proc, err := r.Spawn(context.Background(), shellEnv(t), path)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	out := bufio.NewScanner(proc.Stdout)
	if !out.Scan() || out.Text() != "ready" {
		t.Fatalf("first line = %q", out.Text())
	}
	if _, err := proc.Stdin.Write([]byte("hello\n")); err != nil {
		t.Fatalf("writing stdin: %v", err)
	}
	if !out.Scan() || out.Text() != "got:hello" {
		t.Fatalf("second line = %q", out.Text())
	}
	if err := proc.Cmd.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestSlotLifecycle(t *testing.T) {
	var s Slot
	if s.Active() {
		t.Error("empty slot reported active")
	}
	if err := s.SendInput("x"); err != ErrNoProcess {
		t.Errorf("SendInput on empty slot = %v, want ErrNoProcess", err)
	}
	if err := s.Kill(); err != ErrNoProcess {
		t.Errorf("Kill on empty slot = %v, want ErrNoProcess", err)
	}
}

func TestSlotKillRunningProcess(t *testing.T) {
	r := New(0)
	path := writeScript(t, "sleep 30\n")
	proc, err := r.Spawn(context.Background(), shellEnv(t), path)
	if err != nil {
		t.Fatal(err)
	}

	var s Slot
	s.Set(proc.Cmd.Process, proc.Stdin)
	if !s.Active() {
		t.Fatal("slot should be active after Set")
	}
	if err := s.Kill(); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if err := proc.Cmd.Wait(); err == nil {
		t.Error("killed process should not exit cleanly")
	}
	s.Clear()
	if s.Active() {
		t.Error("slot should be empty after Clear")
	}
}

func TestNeedsInteractive(t *testing.T) {
	cases := []struct {
		source string
		want   bool
	}{
		{"print('hello')", false},
		{"name = input('your name: ')", true},
		{"import pygame\npygame.init()", true},
		{"import matplotlib.pyplot as plt\nplt.show()", true},
		{"import turtle", true},
		{"import json\nprint(json.dumps({}))", false},
	}
	for _, tc := range cases {
		if got := NeedsInteractive(tc.source); got != tc.want {
			t.Errorf("NeedsInteractive(%q) = %v, want %v", tc.source, got, tc.want)
		}
	}
}

func TestLimitBufferTruncates(t *testing.T) {
	b := newLimitBuffer(8)
	b.Write([]byte("12345678"))
	b.Write([]byte("overflow"))
	got := b.String()
	if !strings.HasPrefix(got, "12345678") {
		t.Errorf("prefix lost: %q", got)
	}
	if !strings.Contains(got, "truncated") {
		t.Errorf("missing truncation marker: %q", got)
	}
}
