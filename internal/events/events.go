// Package events carries a run's lifecycle and output to any number of
// observers. One producer (the engine's run pipeline) publishes; the terminal
// display, the websocket feed, and the MCP tools each subscribe independently.
package events

import "time"

// Type identifies the kind of an execution event.
type Type string

const (
	// TypeStarted is emitted once, before any process output.
	TypeStarted Type = "started"
	// TypeLogLine is one line of process output (or a pipeline notice).
	TypeLogLine Type = "log_line"
	// TypeDiagnostics reports a completed lint or security check.
	TypeDiagnostics Type = "diagnostics"
	// TypeGenerated announces freshly generated code written to disk.
	TypeGenerated Type = "code_generated"
	// TypeCompleted is the terminal event for a run that ran to an end.
	TypeCompleted Type = "completed"
	// TypeKilled is the terminal event for an explicitly killed run.
	TypeKilled Type = "killed"
)

// Log streams for TypeLogLine events.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
	StreamStdin  = "stdin"
	StreamInfo   = "info"
)

// Diagnostic check kinds for TypeDiagnostics events.
const (
	KindLint     = "lint"
	KindSecurity = "security"
)

// Event is a single broadcast message. Only the fields relevant to its Type
// are populated; the zero values are omitted on the wire.
type Event struct {
	Type      Type   `json:"type"`
	Timestamp string `json:"timestamp,omitempty"`

	// TypeStarted, TypeGenerated
	ScriptPath string `json:"script_path,omitempty"`

	// TypeLogLine
	Stream string `json:"stream,omitempty"`
	Text   string `json:"text,omitempty"`

	// TypeDiagnostics
	Kind        string   `json:"kind,omitempty"`
	Passed      bool     `json:"passed,omitempty"`
	Diagnostics []string `json:"diagnostics,omitempty"`

	// TypeCompleted
	Success  bool `json:"success,omitempty"`
	ExitCode *int `json:"exit_code,omitempty"`
}

// Started builds the run-start event.
func Started(scriptPath string) Event {
	return Event{Type: TypeStarted, Timestamp: now(), ScriptPath: scriptPath}
}

// LogLine builds a timestamped output line on the given stream.
func LogLine(stream, text string) Event {
	return Event{Type: TypeLogLine, Timestamp: now(), Stream: stream, Text: text}
}

// Diagnostics builds a check-completed event.
func Diagnostics(kind string, passed bool, diagnostics []string) Event {
	return Event{Type: TypeDiagnostics, Timestamp: now(), Kind: kind, Passed: passed, Diagnostics: diagnostics}
}

// Generated builds a code-generated event.
func Generated(scriptPath string) Event {
	return Event{Type: TypeGenerated, Timestamp: now(), ScriptPath: scriptPath}
}

// Completed builds the terminal event for a finished run. exitCode nil means
// abnormal termination (timeout or spawn failure).
func Completed(success bool, exitCode *int) Event {
	return Event{Type: TypeCompleted, Timestamp: now(), Success: success, ExitCode: exitCode}
}

// Killed builds the terminal event for an explicitly killed run.
func Killed() Event {
	return Event{Type: TypeKilled, Timestamp: now()}
}

func now() string {
	return time.Now().Format("15:04:05")
}
