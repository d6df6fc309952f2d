package diagnostics

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// fatalLintCodes is the undefined-name / import-error rule family. Findings
// here usually mean the script will crash at runtime, so they are classified
// Error; everything else ruff reports is a Warning.
var fatalLintCodes = map[string]bool{
	"F821": true, // undefined name
	"F822": true, // undefined name in __all__
	"F823": true, // local variable referenced before assignment
	"E999": true, // syntax error reported by the linter
}

// ruffFinding is one entry of `ruff check --output-format json`.
type ruffFinding struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Filename string `json:"filename"`
	Location struct {
		Row    int `json:"row"`
		Column int `json:"column"`
	} `json:"location"`
}

// Lint runs ruff against the script and classifies its findings.
func (g *Gate) Lint(ctx context.Context, scriptPath string) (*LintResult, error) {
	out, err := runChecker(ctx, g.RuffBin, "check", "--output-format", "json", scriptPath)
	if err != nil {
		return nil, err
	}
	return parseRuffOutput(out)
}

func parseRuffOutput(out []byte) (*LintResult, error) {
	var findings []ruffFinding
	if len(out) > 0 {
		if err := json.Unmarshal(out, &findings); err != nil {
			return nil, fmt.Errorf("parsing ruff output: %w", err)
		}
	}

	result := &LintResult{Passed: len(findings) == 0}
	errorCount := 0
	for _, f := range findings {
		severity := LintWarning
		if fatalLintCodes[f.Code] {
			severity = LintError
			errorCount++
		}
		result.Diagnostics = append(result.Diagnostics, LintDiagnostic{
			Message:  fmt.Sprintf("line %d: %s %s", f.Location.Row, f.Code, f.Message),
			Severity: severity,
			Code:     f.Code,
			Line:     f.Location.Row,
		})
	}
	result.HasErrors = errorCount > 0

	switch {
	case result.Passed:
		result.Summary = "no lint findings"
	case result.HasErrors:
		result.Summary = fmt.Sprintf("%d findings (%d errors)", len(findings), errorCount)
	default:
		result.Summary = fmt.Sprintf("%d warnings", len(findings))
	}
	return result, nil
}

// Text renders the findings one per line, reusable as model feedback.
func (r *LintResult) Text() string {
	lines := make([]string, 0, len(r.Diagnostics))
	for _, d := range r.Diagnostics {
		lines = append(lines, d.Message)
	}
	return strings.Join(lines, "\n")
}
