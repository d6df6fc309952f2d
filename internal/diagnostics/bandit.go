package diagnostics

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// banditReport is the top-level JSON structure of `bandit -f json`.
type banditReport struct {
	Results []banditResult `json:"results"`
}

type banditResult struct {
	IssueText       string `json:"issue_text"`
	IssueSeverity   string `json:"issue_severity"`
	IssueConfidence string `json:"issue_confidence"`
	TestID          string `json:"test_id"`
	LineNumber      int    `json:"line_number"`
}

// Security runs bandit against the script and parses its findings.
func (g *Gate) Security(ctx context.Context, scriptPath string) (*SecurityResult, error) {
	out, err := runChecker(ctx, g.BanditBin, "-f", "json", "-q", scriptPath)
	if err != nil {
		return nil, err
	}
	return parseBanditOutput(out)
}

func parseBanditOutput(out []byte) (*SecurityResult, error) {
	var report banditReport
	if len(out) > 0 {
		if err := json.Unmarshal(out, &report); err != nil {
			return nil, fmt.Errorf("parsing bandit output: %w", err)
		}
	}

	result := &SecurityResult{Passed: len(report.Results) == 0}
	highCount := 0
	for _, r := range report.Results {
		severity := SecuritySeverity(strings.ToUpper(r.IssueSeverity))
		if severity == SeverityHigh {
			highCount++
		}
		result.Diagnostics = append(result.Diagnostics, SecurityDiagnostic{
			Message:    fmt.Sprintf("line %d: [%s severity, %s confidence] %s (%s)", r.LineNumber, r.IssueSeverity, r.IssueConfidence, r.IssueText, r.TestID),
			Severity:   severity,
			Confidence: SecuritySeverity(strings.ToUpper(r.IssueConfidence)),
			RuleID:     r.TestID,
			Line:       r.LineNumber,
		})
	}
	result.HasHighSeverity = highCount > 0

	switch {
	case result.Passed:
		result.Summary = "no security findings"
	case result.HasHighSeverity:
		result.Summary = fmt.Sprintf("%d findings (%d HIGH severity)", len(report.Results), highCount)
	default:
		result.Summary = fmt.Sprintf("%d low/medium findings", len(report.Results))
	}
	return result, nil
}

// Text renders the findings one per line, reusable as model feedback.
func (r *SecurityResult) Text() string {
	lines := make([]string, 0, len(r.Diagnostics))
	for _, d := range r.Diagnostics {
		lines = append(lines, d.Message)
	}
	return strings.Join(lines, "\n")
}
