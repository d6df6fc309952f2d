package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// createVenv builds a uniquely named virtualenv and returns its directory
// and the interpreter path inside it. The caller owns removal of the
// directory, even when this function returns an error after mkdir.
func (p *Provisioner) createVenv(ctx context.Context) (dir, interpreter string, err error) {
	base := p.cfg.VenvBase
	if base == "" {
		base = os.TempDir()
	}
	dir = filepath.Join(base, "scriptforge-venv-"+uuid.NewString()[:8])

	py, err := resolveInterpreter([]string{p.cfg.Python, p.cfg.PythonFallback})
	if err != nil {
		return "", "", err
	}

	cmd := exec.CommandContext(ctx, py, "-m", "venv", dir)
	if out, err := cmd.CombinedOutput(); err != nil {
		os.RemoveAll(dir)
		if msg := strings.TrimSpace(string(out)); msg != "" {
			return "", "", fmt.Errorf("python -m venv: %s", firstLine(msg))
		}
		return "", "", fmt.Errorf("python -m venv: %w", err)
	}

	interpreter, err = venvInterpreter(dir)
	if err != nil {
		os.RemoveAll(dir)
		return "", "", err
	}
	return dir, interpreter, nil
}

// venvInterpreter locates the python binary inside a venv, handling both
// the POSIX bin/ layout and the Windows Scripts/ layout.
func venvInterpreter(dir string) (string, error) {
	candidates := []string{
		filepath.Join(dir, "bin", "python3"),
		filepath.Join(dir, "bin", "python"),
		filepath.Join(dir, "Scripts", "python.exe"),
		filepath.Join(dir, "Scripts", "python"),
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c, nil
		}
	}
	return "", fmt.Errorf("no interpreter found inside venv %s", dir)
}
