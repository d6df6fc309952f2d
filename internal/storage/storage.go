package storage

import (
	"context"
	"time"

	"github.com/michaelbrown/scriptforge/internal/llm"
)

// SessionStatus represents the lifecycle state of a session.
type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusRunning   SessionStatus = "running"
	StatusCompleted SessionStatus = "completed"
	StatusFailed    SessionStatus = "failed"
)

// Session is the metadata for a saved conversation.
type Session struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Status    SessionStatus `json:"status"`
	Provider  string        `json:"provider"`
	Model     string        `json:"model"`
	Profile   string        `json:"profile"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// SessionListOptions controls filtering and pagination for ListSessions.
type SessionListOptions struct {
	Status SessionStatus
	Limit  int
	Offset int
}

// Run is the persisted record of one script execution. ExitCode is nil for
// runs that were killed, timed out, or never spawned.
type Run struct {
	ID         string    `json:"id"`
	ScriptPath string    `json:"script_path"`
	Policy     string    `json:"policy"`
	Outcome    string    `json:"outcome"`
	Success    bool      `json:"success"`
	ExitCode   *int      `json:"exit_code"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// Stats aggregates run history by outcome.
type Stats struct {
	TotalRuns int            `json:"total_runs"`
	Succeeded int            `json:"succeeded"`
	ByOutcome map[string]int `json:"by_outcome"`
}

// Store is the persistence interface for sessions, messages, and runs.
type Store interface {
	// CreateSession inserts a new session. The ID field must be set by the caller.
	CreateSession(ctx context.Context, s *Session) error

	// GetSession returns a session by ID or ID prefix.
	GetSession(ctx context.Context, id string) (*Session, error)

	// ListSessions returns sessions ordered by updated_at descending.
	ListSessions(ctx context.Context, opts SessionListOptions) ([]Session, error)

	// UpdateSession updates mutable fields (title, status, updated_at).
	UpdateSession(ctx context.Context, s *Session) error

	// DeleteSession removes a session and its messages.
	DeleteSession(ctx context.Context, id string) error

	// SaveMessages overwrites the full message history for a session.
	SaveMessages(ctx context.Context, sessionID string, messages []llm.Message) error

	// LoadMessages returns the message history for a session.
	LoadMessages(ctx context.Context, sessionID string) ([]llm.Message, error)

	// RecordRun inserts a completed run.
	RecordRun(ctx context.Context, r *Run) error

	// ListRuns returns runs ordered by created_at descending.
	ListRuns(ctx context.Context, limit int) ([]Run, error)

	// Stats aggregates the run history.
	Stats(ctx context.Context) (*Stats, error)

	// Close releases resources.
	Close() error
}
