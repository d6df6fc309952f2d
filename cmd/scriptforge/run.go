package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/scriptforge/internal/config"
	"github.com/michaelbrown/scriptforge/internal/engine"
	"github.com/michaelbrown/scriptforge/internal/events"
	"github.com/michaelbrown/scriptforge/internal/llm"
	"github.com/michaelbrown/scriptforge/internal/storage/sqlite"
)

var promptFlag string

var runCmd = &cobra.Command{
	Use:   "run [script.py]",
	Short: "Run a script once and exit",
	Long: `Execute a Python file (or a freshly generated script) under the
configured isolation policy, with the same diagnostics gating as the
interactive modes.

Examples:
  scriptforge run hello.py
  scriptforge run --prompt "scrape example.com and print the title"
  scriptforge run hello.py --policy container`,
	Args: cobra.MaximumNArgs(1),
	RunE: runOnce,
}

func init() {
	runCmd.Flags().StringVarP(&promptFlag, "prompt", "p", "", "Generate the script from a prompt instead of a file")
	rootCmd.AddCommand(runCmd)
}

func runOnce(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && promptFlag == "" {
		return fmt.Errorf("pass a script file or --prompt")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	store, err := sqlite.Open(cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	bus := events.NewBus()
	eng, err := buildEngine(cfg, store, bus)
	if err != nil {
		return err
	}

	var source string
	if len(args) > 0 {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading script: %w", err)
		}
		source = string(data)
	} else {
		provider, err := cfg.Provider(providerFlag)
		if err != nil {
			return err
		}
		model := modelFlag
		if model == "" {
			model = provider.Models["default"]
		}
		client := llm.NewClient(provider.BaseURL, provider.APIKey, model)
		scr, err := eng.Generate(cmd.Context(), client, []llm.Message{
			llm.SystemMessage(llm.DefaultSystemPrompt),
			llm.UserMessage(promptFlag),
		})
		if err != nil {
			return fmt.Errorf("generating script: %w", err)
		}
		fmt.Fprintf(os.Stderr, "generated %s\n", scr.Path)
		source = scr.Source
	}

	res, err := eng.Execute(cmd.Context(), source, engine.Options{})
	if err != nil {
		return err
	}

	fmt.Print(res.Stdout)
	if res.Stderr != "" {
		fmt.Fprint(os.Stderr, res.Stderr)
	}

	if res.ExitCode == nil {
		os.Exit(1)
	}
	if *res.ExitCode != 0 {
		os.Exit(*res.ExitCode)
	}
	return nil
}
