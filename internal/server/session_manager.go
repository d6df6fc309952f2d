package server

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/michaelbrown/scriptforge/internal/config"
	"github.com/michaelbrown/scriptforge/internal/llm"
	"github.com/michaelbrown/scriptforge/internal/storage"
)

// ActiveSession is the in-memory conversation state for a session: the
// provider client plus the message history fed to each generation.
type ActiveSession struct {
	Client   llm.Client
	Messages []llm.Message
	mu       sync.Mutex // one generation at a time per session
}

// SessionManager tracks which sessions are resident in memory.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*ActiveSession
}

// NewSessionManager creates a new SessionManager.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*ActiveSession),
	}
}

// Get returns an active session if it exists.
func (sm *SessionManager) Get(sessionID string) (*ActiveSession, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	as, ok := sm.sessions[sessionID]
	return as, ok
}

// GetOrCreate returns an existing active session or hydrates one from
// storage: provider client, generation profile, and saved history.
func (sm *SessionManager) GetOrCreate(
	ctx context.Context,
	sess *storage.Session,
	cfg *config.Config,
	store storage.Store,
) (*ActiveSession, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if as, ok := sm.sessions[sess.ID]; ok {
		return as, nil
	}

	// Resolve provider
	providerName := sess.Provider
	if providerName == "" {
		providerName = cfg.DefaultProvider
	}
	provider, err := cfg.Provider(providerName)
	if err != nil {
		return nil, fmt.Errorf("resolving provider: %w", err)
	}

	// Resolve model
	model := sess.Model
	if model == "" {
		model = provider.Models["default"]
	}

	// System prompt comes from the profile when one is set.
	systemPrompt := llm.DefaultSystemPrompt
	if sess.Profile != "" {
		profilePath := filepath.Join(cfg.Engine.ProfilesDir, sess.Profile+".yaml")
		profile, err := llm.LoadProfile(profilePath)
		if err != nil {
			return nil, fmt.Errorf("loading profile: %w", err)
		}
		systemPrompt = profile.SystemPrompt
		if profile.Model != "" && sess.Model == "" {
			model = profile.Model
		}
	}

	as := &ActiveSession{
		Client:   llm.NewClient(provider.BaseURL, provider.APIKey, model),
		Messages: []llm.Message{llm.SystemMessage(systemPrompt)},
	}

	// Load existing history if any
	messages, err := store.LoadMessages(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("loading messages: %w", err)
	}
	if len(messages) > 0 {
		as.Messages = messages
	}

	sm.sessions[sess.ID] = as
	return as, nil
}

// Remove removes an active session.
func (sm *SessionManager) Remove(sessionID string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.sessions, sessionID)
}

// CloseAll drops all active sessions.
func (sm *SessionManager) CloseAll() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	for id := range sm.sessions {
		delete(sm.sessions, id)
	}
}
