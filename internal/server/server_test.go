package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/michaelbrown/scriptforge/internal/diagnostics"
	"github.com/michaelbrown/scriptforge/internal/engine"
	"github.com/michaelbrown/scriptforge/internal/events"
	"github.com/michaelbrown/scriptforge/internal/sandbox"
	"github.com/michaelbrown/scriptforge/internal/script"
	"github.com/michaelbrown/scriptforge/internal/storage/sqlite"
)

// newTestServer wires a server whose engine runs /bin/sh with no checkers,
// so handler tests need no python toolchain.
func newTestServer(t *testing.T) *Server {
	t.Helper()

	store, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	ws, err := script.NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	bus := events.NewBus()
	eng := engine.New(engine.Config{
		Gate: &diagnostics.Gate{
			Python:         "scriptforge-test-no-python",
			PythonFallback: "scriptforge-test-no-python-2",
			RuffBin:        "scriptforge-test-no-ruff",
			BanditBin:      "scriptforge-test-no-bandit",
		},
		Provisioner: sandbox.NewProvisioner(sandbox.Config{Python: "/bin/sh", PythonFallback: "sh"}),
		Workspace:   ws,
		Bus:         bus,
		Store:       store,
		Policy:      sandbox.PolicyHost,
		Timeout:     10 * time.Second,
	})

	cfg := testConfig()
	cfg.Engine.Policy = "host"
	cfg.Engine.TimeoutSeconds = 10
	return New(cfg, store, eng, bus)
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestExecuteAcceptedAndConflict(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/execute", map[string]string{"source": "sleep 10\n"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("execute = %d, body %s", rec.Code, rec.Body)
	}
	var h engine.Handle
	if err := json.Unmarshal(rec.Body.Bytes(), &h); err != nil {
		t.Fatal(err)
	}
	if h.ID == "" || h.ScriptPath == "" {
		t.Errorf("incomplete handle: %+v", h)
	}

	rec = doJSON(t, s, http.MethodPost, "/api/execute", map[string]string{"source": "echo hi\n"})
	if rec.Code != http.StatusConflict {
		t.Errorf("second execute = %d, want 409", rec.Code)
	}

	// Kill the sleeping run; the slot may not be filled yet, so retry.
	deadline := time.Now().Add(10 * time.Second)
	for {
		rec = doJSON(t, s, http.MethodPost, "/api/execute/kill", nil)
		if rec.Code == http.StatusOK {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("kill = %d, body %s", rec.Code, rec.Body)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestExecuteRequiresSource(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/api/execute", map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("got %d, want 400", rec.Code)
	}
}

func TestExecuteRejectsBadPolicy(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/api/execute", map[string]string{
		"source": "echo hi\n",
		"policy": "chroot",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("got %d, want 400", rec.Code)
	}
}

func TestKillWithNoProcess(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/api/execute/kill", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("got %d, want 404", rec.Code)
	}
	rec = doJSON(t, s, http.MethodPost, "/api/execute/input", map[string]string{"text": "hi"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("input got %d, want 404", rec.Code)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/settings", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get settings = %d", rec.Code)
	}
	var got settingsPayload
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Policy != "host" || got.TimeoutSeconds != 10 {
		t.Errorf("initial settings = %+v", got)
	}

	rec = doJSON(t, s, http.MethodPut, "/api/settings", settingsPayload{Policy: "container-venv", TimeoutSeconds: 60})
	if rec.Code != http.StatusOK {
		t.Fatalf("put settings = %d, body %s", rec.Code, rec.Body)
	}
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Policy != "container-venv" || got.TimeoutSeconds != 60 {
		t.Errorf("updated settings = %+v", got)
	}

	skip := true
	rec = doJSON(t, s, http.MethodPut, "/api/settings", settingsPayload{SkipChecks: &skip})
	if rec.Code != http.StatusOK {
		t.Fatalf("put skip_checks = %d", rec.Code)
	}
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.SkipChecks == nil || !*got.SkipChecks {
		t.Errorf("skip_checks not persisted: %+v", got)
	}
	if got.Policy != "container-venv" {
		t.Errorf("partial update clobbered policy: %+v", got)
	}

	rec = doJSON(t, s, http.MethodPut, "/api/settings", settingsPayload{Policy: "nonsense"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad policy = %d, want 400", rec.Code)
	}
}

func TestCheckLintUnavailable(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/api/check/lint", map[string]string{"source": "print('x')\n"})
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("got %d, want 503 when ruff is absent", rec.Code)
	}
}

func TestListScriptsEmpty(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/api/scripts", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d", rec.Code)
	}
	var entries []script.Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decoding: %v (%s)", err, rec.Body)
	}
	if len(entries) != 0 {
		t.Errorf("expected no scripts, got %d", len(entries))
	}
}

func TestStatsEmpty(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/api/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d", rec.Code)
	}
}
