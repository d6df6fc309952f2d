// Package diagnostics gates generated scripts through external checkers
// before they run: a syntax check (py_compile), a style check (ruff), and a
// security scan (bandit). The checkers themselves are delegated tools; this
// package owns invoking them, parsing their findings, and the pass/block
// policy around the results.
package diagnostics

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrUnavailable marks a checker that could not be invoked at all (binary
// missing or crashed before producing output). Callers treat the check as
// skipped, never as a block.
var ErrUnavailable = errors.New("checker unavailable")

// LintSeverity classifies a style finding.
type LintSeverity string

const (
	LintInfo    LintSeverity = "info"
	LintWarning LintSeverity = "warning"
	LintError   LintSeverity = "error"
)

// SecuritySeverity is bandit's severity/confidence scale.
type SecuritySeverity string

const (
	SeverityLow    SecuritySeverity = "LOW"
	SeverityMedium SecuritySeverity = "MEDIUM"
	SeverityHigh   SecuritySeverity = "HIGH"
)

// LintDiagnostic is one style finding.
type LintDiagnostic struct {
	Message  string       `json:"message"`
	Severity LintSeverity `json:"severity"`
	Code     string       `json:"code"`
	Line     int          `json:"line"`
}

// LintResult is the outcome of a lint check. Passed means no findings at
// all. HasErrors means at least one finding in the fatal rule family; even
// then the result is advisory — the caller decides whether to proceed.
type LintResult struct {
	Passed      bool             `json:"passed"`
	HasErrors   bool             `json:"has_errors"`
	Diagnostics []LintDiagnostic `json:"diagnostics"`
	Summary     string           `json:"summary"`
}

// SecurityDiagnostic is one security finding.
type SecurityDiagnostic struct {
	Message    string           `json:"message"`
	Severity   SecuritySeverity `json:"severity"`
	Confidence SecuritySeverity `json:"confidence"`
	RuleID     string           `json:"rule_id"`
	Line       int              `json:"line"`
}

// SecurityResult is the outcome of a security scan. HasHighSeverity is a
// hard block: the script must not run, regardless of caller preference.
type SecurityResult struct {
	Passed          bool                 `json:"passed"`
	HasHighSeverity bool                 `json:"has_high_severity"`
	Diagnostics     []SecurityDiagnostic `json:"diagnostics"`
	Summary         string               `json:"summary"`
}

// SyntaxError is the compiler output for a script that failed to parse.
// Its text is shaped to be fed straight back to the model for a retry.
type SyntaxError struct {
	Output string
}

func (e *SyntaxError) Error() string {
	return "syntax error: " + strings.TrimSpace(e.Output)
}

// Gate runs the pre-execution checks. Binary names resolve via PATH; the
// interpreter gets a fallback name tried when the primary cannot spawn.
type Gate struct {
	Python         string // primary interpreter, e.g. "python3"
	PythonFallback string // secondary interpreter, e.g. "python"
	RuffBin        string
	BanditBin      string
}

// NewGate returns a Gate with the conventional binary names.
func NewGate(python string) *Gate {
	if python == "" {
		python = "python3"
	}
	return &Gate{
		Python:         python,
		PythonFallback: "python",
		RuffBin:        "ruff",
		BanditBin:      "bandit",
	}
}

// Syntax compiles the script without executing it. A nil return means the
// script parses. A *SyntaxError carries the compiler output and is a hard
// block — always, regardless of policy. ErrUnavailable means no interpreter
// could be spawned.
func (g *Gate) Syntax(ctx context.Context, scriptPath string) error {
	var lastErr error
	for _, interp := range []string{g.Python, g.PythonFallback} {
		if interp == "" {
			continue
		}
		cmd := exec.CommandContext(ctx, interp, "-m", "py_compile", scriptPath)
		var stderr bytes.Buffer
		cmd.Stderr = &stderr

		err := cmd.Run()
		if err == nil {
			return nil
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &SyntaxError{Output: stderr.String()}
		}
		lastErr = err // spawn failure, try the fallback
	}
	return fmt.Errorf("%w: running syntax check: %v", ErrUnavailable, lastErr)
}

// runChecker invokes an external checker and returns its stdout. A non-zero
// exit is normal for checkers that found issues; only a spawn failure maps
// to ErrUnavailable.
func runChecker(ctx context.Context, bin string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%w: running %s: %v", ErrUnavailable, bin, err)
		}
	}
	return stdout.Bytes(), nil
}
