package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/michaelbrown/scriptforge/internal/diagnostics"
	"github.com/michaelbrown/scriptforge/internal/engine"
	"github.com/michaelbrown/scriptforge/internal/runner"
	"github.com/michaelbrown/scriptforge/internal/sandbox"
	"github.com/michaelbrown/scriptforge/internal/script"
	"github.com/michaelbrown/scriptforge/internal/storage"
)

type executeRequest struct {
	Source         string `json:"source"`
	Script         string `json:"script"` // filename of a previous script
	Policy         string `json:"policy"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// handleExecute accepts a run and returns immediately; output streams over
// /api/events. 409 means a run is already occupying the slot.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	source := req.Source
	if source == "" && req.Script != "" {
		var err error
		source, err = s.engine.ReadScript(req.Script)
		if err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
	}
	if strings.TrimSpace(source) == "" {
		writeError(w, http.StatusBadRequest, "source or script is required")
		return
	}

	opts, err := s.runOptions(req.Policy, req.TimeoutSeconds)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h, err := s.engine.StartRun(r.Context(), source, opts)
	if errors.Is(err, engine.ErrRunActive) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, h)
}

type inputRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleExecuteInput(w http.ResponseWriter, r *http.Request) {
	var req inputRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	if err := s.engine.SendInput(req.Text); err != nil {
		if errors.Is(err, runner.ErrNoProcess) {
			writeError(w, http.StatusNotFound, err.Error())
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func (s *Server) handleExecuteKill(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Kill(); err != nil {
		if errors.Is(err, runner.ErrNoProcess) {
			writeError(w, http.StatusNotFound, err.Error())
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "killed"})
}

// --- Check handlers ---

type checkRequest struct {
	Source string `json:"source"`
}

func (s *Server) handleCheckLint(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	res, err := s.engine.CheckLint(r.Context(), req.Source)
	if errors.Is(err, diagnostics.ErrUnavailable) {
		writeError(w, http.StatusServiceUnavailable, "ruff is not installed")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCheckSecurity(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	res, err := s.engine.CheckSecurity(r.Context(), req.Source)
	if errors.Is(err, diagnostics.ErrUnavailable) {
		writeError(w, http.StatusServiceUnavailable, "bandit is not installed")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- Script history & run records ---

func (s *Server) handleListScripts(w http.ResponseWriter, r *http.Request) {
	entries, err := s.engine.History()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []script.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleGetScript(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	source, err := s.engine.ReadScript(name)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"filename": name, "source": source})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil {
			limit = n
		}
	}

	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []storage.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// --- Settings handlers ---

type settingsPayload struct {
	Policy         string `json:"policy"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	SkipChecks     *bool  `json:"skip_checks,omitempty"`
	RunActive      bool   `json:"run_active,omitempty"`
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	policy, timeout, skip := s.settings.Get()
	writeJSON(w, http.StatusOK, settingsPayload{
		Policy:         string(policy),
		TimeoutSeconds: timeout,
		SkipChecks:     &skip,
		RunActive:      s.engine.Active(),
	})
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsPayload
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	var policy sandbox.Policy
	if req.Policy != "" {
		var err error
		policy, err = sandbox.ParsePolicy(req.Policy)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	s.settings.Set(policy, req.TimeoutSeconds, req.SkipChecks)
	newPolicy, newTimeout, newSkip := s.settings.Get()
	writeJSON(w, http.StatusOK, settingsPayload{
		Policy:         string(newPolicy),
		TimeoutSeconds: newTimeout,
		SkipChecks:     &newSkip,
	})
}

// runOptions resolves per-request overrides against the runtime settings.
func (s *Server) runOptions(policyStr string, timeoutSeconds int) (engine.Options, error) {
	policy, timeout, skip := s.settings.Get()
	if policyStr != "" {
		p, err := sandbox.ParsePolicy(policyStr)
		if err != nil {
			return engine.Options{}, err
		}
		policy = p
	}
	if timeoutSeconds > 0 {
		timeout = timeoutSeconds
	}
	opts := engine.Options{Policy: policy, Timeout: time.Duration(timeout) * time.Second, SkipChecks: skip}
	// A zero setting means no wall clock limit at all.
	if timeout == 0 || timeoutSeconds < 0 {
		opts.Timeout = engine.NoTimeout
	}
	return opts, nil
}
