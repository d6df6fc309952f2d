package sandbox

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
)

// Config holds the knobs for provisioning execution environments.
type Config struct {
	Python         string // preferred host interpreter, e.g. "python3"
	PythonFallback string // tried when Python is not on PATH
	VenvBase       string // directory for ephemeral venvs; "" means os.TempDir()
	Image          string // docker image used by container policies
	Memory         string // docker memory limit, e.g. "512m"
	PidsLimit      int    // docker --pids-limit
}

// DefaultConfig returns conservative limits for untrusted scripts.
func DefaultConfig() Config {
	return Config{
		Python:         "python3",
		PythonFallback: "python",
		Image:          "scriptforge-sandbox:latest",
		Memory:         "512m",
		PidsLimit:      128,
	}
}

// Env is a provisioned execution environment for one run. Commands returns
// the candidate argument vectors for launching the script; Teardown releases
// anything ephemeral the run created. Env values are not reused across runs.
type Env struct {
	Policy   Policy
	Warnings []string // provisioning fallbacks the user should see

	venvDir   string   // non-empty only for host-venv
	venvPy    string   // resolved interpreter inside venvDir
	deps      []string // container-venv installs these at run time
	cfg       Config
	interpret []string // host interpreter candidates, in order
}

// Provisioner builds execution environments according to an isolation policy.
type Provisioner struct {
	cfg Config
}

func NewProvisioner(cfg Config) *Provisioner {
	if cfg.Python == "" {
		cfg.Python = "python3"
	}
	if cfg.PythonFallback == "" {
		cfg.PythonFallback = "python"
	}
	return &Provisioner{cfg: cfg}
}

// Provision prepares an environment for the requested policy, installing
// deps where the policy calls for it. Provisioning degrades rather than
// aborts: if a venv cannot be created or docker is missing, it falls back
// to a weaker policy and records a warning on the returned Env.
func (p *Provisioner) Provision(ctx context.Context, policy Policy, deps []string) (*Env, error) {
	env := &Env{
		Policy:    policy,
		cfg:       p.cfg,
		interpret: []string{p.cfg.Python, p.cfg.PythonFallback},
	}

	if policy.Containerized() {
		if err := CheckDocker(ctx, p.cfg.Image); err != nil {
			env.warnf("container isolation unavailable (%v), falling back to host venv", err)
			env.Policy = PolicyHostVenv
			policy = PolicyHostVenv
		}
	}

	switch policy {
	case PolicyHost:
		if len(deps) > 0 {
			if err := p.hostInstall(ctx, env.interpret, deps); err != nil {
				env.warnf("installing packages on host: %v", err)
			}
		}

	case PolicyHostVenv:
		dir, py, err := p.createVenv(ctx)
		if err != nil {
			env.warnf("creating venv (%v), running directly on host", err)
			env.Policy = PolicyHost
			if len(deps) > 0 {
				if err := p.hostInstall(ctx, env.interpret, deps); err != nil {
					env.warnf("installing packages on host: %v", err)
				}
			}
			break
		}
		env.venvDir = dir
		env.venvPy = py
		if len(deps) > 0 {
			if err := pipInstall(ctx, py, deps); err != nil {
				env.warnf("installing packages into venv: %v", err)
			}
		}

	case PolicyContainer:
		if len(deps) > 0 {
			if err := p.installCommit(ctx, deps); err != nil {
				env.warnf("installing packages into image: %v", err)
			}
		}

	case PolicyContainerVenv:
		// Nothing to provision up front. The install happens inside the
		// ephemeral container at run time.
		env.deps = deps
	}

	return env, nil
}

// Commands returns the candidate argv lists for executing scriptPath under
// this environment, tried in order until one spawns. Container policies
// produce a single docker invocation; host policies produce one entry per
// interpreter candidate.
func (e *Env) Commands(scriptPath string, interactive bool) ([][]string, error) {
	switch e.Policy {
	case PolicyHost:
		cmds := make([][]string, 0, len(e.interpret))
		for _, py := range e.interpret {
			cmds = append(cmds, []string{py, scriptPath})
		}
		return cmds, nil
	case PolicyHostVenv:
		return [][]string{{e.venvPy, scriptPath}}, nil
	case PolicyContainer:
		return [][]string{containerRunArgs(e.cfg, scriptPath, interactive, false)}, nil
	case PolicyContainerVenv:
		return [][]string{containerVenvArgs(e.cfg, scriptPath, e.deps, interactive)}, nil
	}
	return nil, fmt.Errorf("no launch strategy for policy %q", e.Policy)
}

// Teardown removes whatever the provisioning step created. It is safe to
// call exactly once per Env, including after a failed or killed run.
func (e *Env) Teardown() {
	if e.venvDir == "" {
		return
	}
	if err := os.RemoveAll(e.venvDir); err != nil {
		log.Printf("removing venv %s: %v", e.venvDir, err)
	}
	e.venvDir = ""
}

func (e *Env) warnf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Printf("sandbox: %s", msg)
	e.Warnings = append(e.Warnings, msg)
}

// hostInstall runs pip install against the first interpreter on PATH.
func (p *Provisioner) hostInstall(ctx context.Context, interpreters, deps []string) error {
	py, err := resolveInterpreter(interpreters)
	if err != nil {
		return err
	}
	return pipInstall(ctx, py, deps)
}

func resolveInterpreter(candidates []string) (string, error) {
	for _, py := range candidates {
		if _, err := exec.LookPath(py); err == nil {
			return py, nil
		}
	}
	return "", fmt.Errorf("no python interpreter found (tried %s)", strings.Join(candidates, ", "))
}

func pipInstall(ctx context.Context, interpreter string, deps []string) error {
	args := append([]string{"-m", "pip", "install", "--quiet"}, deps...)
	cmd := exec.CommandContext(ctx, interpreter, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if msg := strings.TrimSpace(string(out)); msg != "" {
			return fmt.Errorf("pip install: %s", firstLine(msg))
		}
		return fmt.Errorf("pip install: %w", err)
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
