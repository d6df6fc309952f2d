package sandbox

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

func TestParsePolicy(t *testing.T) {
	cases := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{"host", PolicyHost, false},
		{"host-venv", PolicyHostVenv, false},
		{"container", PolicyContainer, false},
		{"container-venv", PolicyContainerVenv, false},
		{"", PolicyHostVenv, false},
		{"chroot", "", true},
	}
	for _, tc := range cases {
		got, err := ParsePolicy(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParsePolicy(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParsePolicy(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("ParsePolicy(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestPolicyContainerized(t *testing.T) {
	if PolicyHost.Containerized() || PolicyHostVenv.Containerized() {
		t.Error("host policies should not be containerized")
	}
	if !PolicyContainer.Containerized() || !PolicyContainerVenv.Containerized() {
		t.Error("container policies should be containerized")
	}
}

func TestVenvInterpreterPosixLayout(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "bin")
	if err := os.MkdirAll(bin, 0o755); err != nil {
		t.Fatal(err)
	}
	py := filepath.Join(bin, "python3")
	if err := os.WriteFile(py, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := venvInterpreter(dir)
	if err != nil {
		t.Fatalf("venvInterpreter: %v", err)
	}
	if got != py {
		t.Errorf("interpreter = %s, want %s", got, py)
	}
}

func TestVenvInterpreterWindowsLayout(t *testing.T) {
	dir := t.TempDir()
	scripts := filepath.Join(dir, "Scripts")
	if err := os.MkdirAll(scripts, 0o755); err != nil {
		t.Fatal(err)
	}
	py := filepath.Join(scripts, "python.exe")
	if err := os.WriteFile(py, []byte{}, 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := venvInterpreter(dir)
	if err != nil {
		t.Fatalf("venvInterpreter: %v", err)
	}
	if got != py {
		t.Errorf("interpreter = %s, want %s", got, py)
	}
}

func TestVenvInterpreterMissing(t *testing.T) {
	if _, err := venvInterpreter(t.TempDir()); err == nil {
		t.Error("expected error for empty venv dir")
	}
}

func TestContainerRunArgs(t *testing.T) {
	cfg := DefaultConfig()
	args := containerRunArgs(cfg, "/work/scripts/script_a.py", false, false)

	if args[0] != "docker" || args[1] != "run" || args[2] != "--rm" {
		t.Fatalf("unexpected prefix: %v", args[:3])
	}
	joined := strings.Join(args, " ")
	for _, want := range []string{
		"--cap-drop=ALL",
		"--security-opt no-new-privileges",
		"--network none",
		"--pids-limit 128",
		"-v /work/scripts:" + scriptMount + ":ro",
		"python3 " + scriptMount + "/script_a.py",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("args missing %q: %s", want, joined)
		}
	}
	if slices.Contains(args, "-i") {
		t.Error("non-interactive run should not pass -i")
	}
}

func TestContainerRunArgsInteractive(t *testing.T) {
	args := containerRunArgs(DefaultConfig(), "/w/s.py", true, false)
	if !slices.Contains(args, "-i") {
		t.Error("interactive run should pass -i")
	}
}

func TestContainerVenvArgs(t *testing.T) {
	cfg := DefaultConfig()

	args := containerVenvArgs(cfg, "/work/scripts/s.py", []string{"requests", "rich"}, false)
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "--network bridge") {
		t.Errorf("venv run with deps needs network: %s", joined)
	}
	shell := args[len(args)-1]
	if !strings.Contains(shell, "python3 -m venv /tmp/venv") {
		t.Errorf("missing venv creation: %s", shell)
	}
	if !strings.Contains(shell, "pip install --quiet requests rich") {
		t.Errorf("missing install step: %s", shell)
	}
	if !strings.Contains(shell, "/tmp/venv/bin/python "+scriptMount+"/s.py") {
		t.Errorf("missing exec step: %s", shell)
	}

	// No deps: no install step, no network.
	args = containerVenvArgs(cfg, "/work/scripts/s.py", nil, false)
	joined = strings.Join(args, " ")
	if !strings.Contains(joined, "--network none") {
		t.Errorf("venv run without deps must stay offline: %s", joined)
	}
	if strings.Contains(joined, "pip install") {
		t.Errorf("unexpected install step: %s", joined)
	}
}

func TestEnvCommandsHost(t *testing.T) {
	p := NewProvisioner(Config{Python: "python3", PythonFallback: "python"})
	env := &Env{Policy: PolicyHost, cfg: p.cfg, interpret: []string{"python3", "python"}}

	cmds, err := env.Commands("/tmp/s.py", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(cmds) != 2 {
		t.Fatalf("want 2 interpreter candidates, got %d", len(cmds))
	}
	if cmds[0][0] != "python3" || cmds[1][0] != "python" {
		t.Errorf("candidate order wrong: %v", cmds)
	}
	if cmds[0][1] != "/tmp/s.py" {
		t.Errorf("script path not passed: %v", cmds[0])
	}
}

func TestTeardownRemovesVenv(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "venv")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	env := &Env{Policy: PolicyHostVenv, venvDir: dir}
	env.Teardown()
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("venv dir should be removed")
	}
	env.Teardown() // second call is a no-op
}
