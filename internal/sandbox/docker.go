package sandbox

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// scriptMount is where the script directory appears inside containers.
const scriptMount = "/home/sandbox/scripts"

// CheckDocker verifies that the docker daemon is reachable and the sandbox
// image exists. Run this before offering container policies.
func CheckDocker(ctx context.Context, image string) error {
	if _, err := exec.LookPath("docker"); err != nil {
		return fmt.Errorf("docker not installed")
	}
	if err := exec.CommandContext(ctx, "docker", "version", "--format", "{{.Server.Version}}").Run(); err != nil {
		return fmt.Errorf("docker daemon not running")
	}
	if err := exec.CommandContext(ctx, "docker", "image", "inspect", image).Run(); err != nil {
		return fmt.Errorf("sandbox image %q not found (build it first)", image)
	}
	return nil
}

// installCommit installs packages by running pip in a named container on
// the sandbox image, then committing the result back over the same tag.
// Later container runs see the installed packages. This mutates shared
// state: a bad package stays in the image until it is rebuilt.
func (p *Provisioner) installCommit(ctx context.Context, deps []string) error {
	name := "scriptforge-pip-" + uuid.NewString()[:8]

	args := []string{
		"run", "--name", name,
		"--memory", p.cfg.Memory,
		"--pids-limit", strconv.Itoa(p.cfg.PidsLimit),
		p.cfg.Image,
		"pip", "install", "--quiet",
	}
	args = append(args, deps...)

	out, err := exec.CommandContext(ctx, "docker", args...).CombinedOutput()
	if err != nil {
		exec.Command("docker", "rm", "-f", name).Run()
		if msg := strings.TrimSpace(string(out)); msg != "" {
			return fmt.Errorf("pip install in container: %s", firstLine(msg))
		}
		return fmt.Errorf("pip install in container: %w", err)
	}

	if out, err := exec.CommandContext(ctx, "docker", "commit", name, p.cfg.Image).CombinedOutput(); err != nil {
		exec.Command("docker", "rm", "-f", name).Run()
		return fmt.Errorf("docker commit: %s", firstLine(strings.TrimSpace(string(out))))
	}
	if err := exec.CommandContext(ctx, "docker", "rm", name).Run(); err != nil {
		return fmt.Errorf("docker rm %s: %w", name, err)
	}
	return nil
}

// hardeningArgs are the restrictions applied to every script container.
func hardeningArgs(cfg Config, network bool) []string {
	args := []string{
		"--cap-drop=ALL",
		"--security-opt", "no-new-privileges",
		"--memory", cfg.Memory,
		"--memory-swap", cfg.Memory,
		"--pids-limit", strconv.Itoa(cfg.PidsLimit),
	}
	if network {
		args = append(args, "--network", "bridge")
	} else {
		args = append(args, "--network", "none")
	}
	return args
}

// containerRunArgs builds the docker invocation for PolicyContainer: the
// script's directory is mounted read-only and the image's interpreter runs
// it directly.
func containerRunArgs(cfg Config, scriptPath string, interactive, network bool) []string {
	dir := filepath.Dir(scriptPath)
	inner := scriptMount + "/" + filepath.Base(scriptPath)

	args := []string{"docker", "run", "--rm"}
	if interactive {
		args = append(args, "-i")
	}
	args = append(args, hardeningArgs(cfg, network)...)
	args = append(args,
		"-v", dir+":"+scriptMount+":ro",
		cfg.Image,
		"python3", inner,
	)
	return args
}

// containerVenvArgs builds the docker invocation for PolicyContainerVenv:
// a single shell command creates a venv under /tmp, installs the run's
// packages into it, and executes the script. Everything vanishes with the
// container. Network is enabled only when there are packages to fetch.
func containerVenvArgs(cfg Config, scriptPath string, deps []string, interactive bool) []string {
	dir := filepath.Dir(scriptPath)
	inner := scriptMount + "/" + filepath.Base(scriptPath)

	var sb strings.Builder
	sb.WriteString("python3 -m venv /tmp/venv")
	if len(deps) > 0 {
		sb.WriteString(" && /tmp/venv/bin/pip install --quiet ")
		sb.WriteString(strings.Join(deps, " "))
	}
	sb.WriteString(" && /tmp/venv/bin/python ")
	sb.WriteString(inner)

	args := []string{"docker", "run", "--rm"}
	if interactive {
		args = append(args, "-i")
	}
	args = append(args, hardeningArgs(cfg, len(deps) > 0)...)
	args = append(args,
		"--tmpfs", "/tmp:rw,exec,size=512m",
		"-v", dir+":"+scriptMount+":ro",
		cfg.Image,
		"sh", "-c", sb.String(),
	)
	return args
}
