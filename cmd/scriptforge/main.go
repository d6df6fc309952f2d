package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/scriptforge/internal/config"
	"github.com/michaelbrown/scriptforge/internal/diagnostics"
	"github.com/michaelbrown/scriptforge/internal/engine"
	"github.com/michaelbrown/scriptforge/internal/events"
	"github.com/michaelbrown/scriptforge/internal/sandbox"
	"github.com/michaelbrown/scriptforge/internal/script"
	"github.com/michaelbrown/scriptforge/internal/storage"
)

var (
	providerFlag string
	modelFlag    string
	profileFlag  string
	policyFlag   string
	timeoutFlag  int
)

var rootCmd = &cobra.Command{
	Use:   "scriptforge",
	Short: "scriptforge - generate and safely run Python scripts",
	Long: `scriptforge turns natural-language prompts into Python scripts and runs
them under configurable isolation: bare host, ephemeral virtualenv, or a
locked-down container. Generated code is syntax-checked, linted, and
security-scanned before it executes.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&providerFlag, "provider", "", "LLM provider (overrides config)")
	rootCmd.PersistentFlags().StringVar(&modelFlag, "model", "", "Model to use (overrides config)")
	rootCmd.PersistentFlags().StringVar(&profileFlag, "profile", "", "Generation profile (e.g. default, data)")
	rootCmd.PersistentFlags().StringVar(&policyFlag, "policy", "", "Isolation policy: host, host-venv, container, container-venv")
	rootCmd.PersistentFlags().IntVar(&timeoutFlag, "timeout", 0, "Run timeout in seconds (overrides config)")
}

// buildEngine assembles the execution engine from config plus CLI overrides.
func buildEngine(cfg *config.Config, store storage.Store, bus *events.Bus) (*engine.Engine, error) {
	policyStr := cfg.Engine.Policy
	if policyFlag != "" {
		policyStr = policyFlag
	}
	policy, err := sandbox.ParsePolicy(policyStr)
	if err != nil {
		return nil, err
	}

	timeout := cfg.Engine.TimeoutSeconds
	if timeoutFlag > 0 {
		timeout = timeoutFlag
	}

	ws, err := script.NewWorkspace(cfg.Engine.ScriptsDir)
	if err != nil {
		return nil, err
	}

	gate := diagnostics.NewGate(cfg.Engine.Python)
	gate.PythonFallback = cfg.Engine.PythonFallback

	prov := sandbox.NewProvisioner(sandbox.Config{
		Python:         cfg.Engine.Python,
		PythonFallback: cfg.Engine.PythonFallback,
		VenvBase:       cfg.Sandbox.VenvDir,
		Image:          cfg.Sandbox.Image,
		Memory:         cfg.Sandbox.Memory,
		PidsLimit:      cfg.Sandbox.PidsLimit,
	})

	return engine.New(engine.Config{
		Gate:        gate,
		Provisioner: prov,
		Workspace:   ws,
		Bus:         bus,
		Store:       store,
		Policy:      policy,
		Timeout:     time.Duration(timeout) * time.Second,
	}), nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
