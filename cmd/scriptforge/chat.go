package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/michaelbrown/scriptforge/internal/config"
	"github.com/michaelbrown/scriptforge/internal/diagnostics"
	"github.com/michaelbrown/scriptforge/internal/engine"
	"github.com/michaelbrown/scriptforge/internal/events"
	"github.com/michaelbrown/scriptforge/internal/llm"
	"github.com/michaelbrown/scriptforge/internal/runner"
	"github.com/michaelbrown/scriptforge/internal/script"
	"github.com/michaelbrown/scriptforge/internal/storage/sqlite"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive script generation and execution",
	Long: `Start an interactive session. Plain input is a generation prompt;
follow-up prompts refine the last script. Slash commands run, check, and
steer scripts.

Examples:
  scriptforge chat
  scriptforge chat --policy container-venv
  scriptforge chat --provider ollama --model qwen3:8b`,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

// chatState is the REPL's working set: the conversation, the last script,
// and the engine driving runs.
type chatState struct {
	eng      *engine.Engine
	client   llm.Client
	messages []llm.Message
	last     *script.Script
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	systemPrompt := llm.DefaultSystemPrompt
	providerName := providerFlag
	model := modelFlag
	if profileFlag != "" {
		profile, err := llm.LoadProfile(cfg.Engine.ProfilesDir + "/" + profileFlag + ".yaml")
		if err != nil {
			return fmt.Errorf("loading profile: %w", err)
		}
		systemPrompt = profile.SystemPrompt
		if providerName == "" {
			providerName = profile.Provider
		}
		if model == "" {
			model = profile.Model
		}
	}
	if providerName == "" {
		providerName = cfg.DefaultProvider
	}
	provider, err := cfg.Provider(providerName)
	if err != nil {
		return err
	}
	if model == "" {
		model = provider.Models["default"]
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

	fmt.Printf("scriptforge - Interactive Script Runner\n")
	fmt.Printf("Provider: %s | Model: %s | Policy: %s\n", providerName, model, cfg.Engine.Policy)
	fmt.Printf("Type /help for commands, /quit to exit\n\n")

	st := &chatState{
		eng:      eng,
		client:   llm.NewClient(provider.BaseURL, provider.APIKey, model),
		messages: []llm.Message{llm.SystemMessage(systemPrompt)},
	}

	// One printer for the whole session; run output interleaves with the
	// prompt, which is what you want while steering a live script.
	ch, cancelSub := bus.Subscribe()
	defer cancelSub()
	go printEvents(ch)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "\033[36myou>\033[0m ",
		HistoryFile:     "/tmp/scriptforge_history",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("readline: %w", err)
	}
	defer rl.Close()

	for {
		input, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nGoodbye!")
				return nil
			}
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			if st.handleCommand(input) {
				continue
			}
		}

		st.generate(input)
	}
}

// generate sends a prompt (or refinement) and shows the resulting script.
func (st *chatState) generate(prompt string) {
	st.messages = llm.CompactHistory(context.Background(), st.client, st.messages, llm.DefaultMaxHistoryTokens)
	st.messages = append(st.messages, llm.UserMessage(prompt))

	fmt.Printf("\033[90mgenerating...\033[0m\n")
	scr, err := st.eng.Generate(context.Background(), st.client, st.messages)
	if err != nil {
		// Drop the failed prompt so a retry does not double it.
		st.messages = st.messages[:len(st.messages)-1]
		fmt.Printf("\033[31merror: %s\033[0m\n\n", err)
		return
	}
	st.messages = append(st.messages, llm.AssistantMessage(scr.Source))
	st.last = scr

	fmt.Printf("\033[32m%s\033[0m\n", scr.Name())
	for _, line := range strings.Split(strings.TrimRight(scr.Source, "\n"), "\n") {
		fmt.Printf("  %s\n", line)
	}
	fmt.Printf("(/run to execute, or refine with another prompt)\n\n")
}

func (st *chatState) handleCommand(input string) bool {
	fields := strings.Fields(input)
	switch strings.ToLower(fields[0]) {
	case "/quit", "/exit", "/q":
		fmt.Println("Goodbye!")
		os.Exit(0)

	case "/run":
		if st.last == nil {
			fmt.Println("Nothing to run yet; describe a script first.")
			break
		}
		_, err := st.eng.StartRun(context.Background(), st.last.Source, engine.Options{})
		if errors.Is(err, engine.ErrRunActive) {
			fmt.Println("A script is already running (/kill to stop it).")
		} else if err != nil {
			fmt.Printf("\033[31merror: %s\033[0m\n", err)
		}

	case "/input":
		if len(fields) < 2 {
			fmt.Println("Usage: /input <text>")
			break
		}
		text := strings.TrimSpace(strings.TrimPrefix(input, fields[0]))
		if err := st.eng.SendInput(text); err != nil {
			if errors.Is(err, runner.ErrNoProcess) {
				fmt.Println("No script is running.")
			} else {
				fmt.Printf("\033[31merror: %s\033[0m\n", err)
			}
		}

	case "/kill":
		if err := st.eng.Kill(); err != nil {
			if errors.Is(err, runner.ErrNoProcess) {
				fmt.Println("No script is running.")
			} else {
				fmt.Printf("\033[31merror: %s\033[0m\n", err)
			}
		}

	case "/refine":
		if len(fields) < 2 {
			fmt.Println("Usage: /refine <changes to make>")
			break
		}
		st.generate(strings.TrimSpace(strings.TrimPrefix(input, fields[0])))

	case "/lint":
		st.check("lint")

	case "/security":
		st.check("security")

	case "/deps":
		if st.last == nil {
			fmt.Println("No script yet.")
			break
		}
		deps := st.eng.Dependencies(st.last.Source)
		if len(deps) == 0 {
			fmt.Println("No third-party dependencies.")
		} else {
			fmt.Printf("Dependencies: %s\n", strings.Join(deps, ", "))
		}
		fmt.Println()

	case "/history":
		entries, err := st.eng.History()
		if err != nil {
			fmt.Printf("\033[31merror: %s\033[0m\n", err)
			break
		}
		if len(entries) == 0 {
			fmt.Println("No scripts yet.")
		}
		for _, e := range entries {
			fmt.Printf("  %s  %s\n", e.Timestamp, e.Filename)
		}
		fmt.Println()

	case "/show":
		if len(fields) < 2 {
			fmt.Println("Usage: /show <filename>")
			break
		}
		source, err := st.eng.ReadScript(fields[1])
		if err != nil {
			fmt.Printf("\033[31merror: %s\033[0m\n", err)
			break
		}
		fmt.Print(source)
		fmt.Println()

	case "/reset":
		st.messages = st.messages[:1]
		st.last = nil
		fmt.Println("Conversation reset.")
		fmt.Println()

	case "/help":
		fmt.Println("Commands:")
		fmt.Println("  /run           - Execute the current script")
		fmt.Println("  /refine <text> - Revise the current script")
		fmt.Println("  /input <text>  - Send a line to the running script's stdin")
		fmt.Println("  /kill          - Stop the running script")
		fmt.Println("  /lint          - Lint the current script")
		fmt.Println("  /security      - Security-scan the current script")
		fmt.Println("  /deps          - Show third-party dependencies")
		fmt.Println("  /history       - List generated scripts")
		fmt.Println("  /show <name>   - Print a previous script")
		fmt.Println("  /reset         - Clear the conversation")
		fmt.Println("  /quit          - Exit")
		fmt.Println()

	default:
		fmt.Printf("Unknown command: %s (try /help)\n\n", input)
	}
	return true
}

func (st *chatState) check(kind string) {
	if st.last == nil {
		fmt.Println("No script yet.")
		return
	}
	ctx := context.Background()
	switch kind {
	case "lint":
		res, err := st.eng.CheckLint(ctx, st.last.Source)
		if errors.Is(err, diagnostics.ErrUnavailable) {
			fmt.Println("ruff is not installed.")
			return
		}
		if err != nil {
			fmt.Printf("\033[31merror: %s\033[0m\n", err)
			return
		}
		if res.Passed {
			fmt.Println("Lint: clean.")
		} else {
			fmt.Print(res.Text())
		}
	case "security":
		res, err := st.eng.CheckSecurity(ctx, st.last.Source)
		if errors.Is(err, diagnostics.ErrUnavailable) {
			fmt.Println("bandit is not installed.")
			return
		}
		if err != nil {
			fmt.Printf("\033[31merror: %s\033[0m\n", err)
			return
		}
		if res.Passed {
			fmt.Println("Security: clean.")
		} else {
			fmt.Print(res.Text())
		}
	}
	fmt.Println()
}

// printEvents renders the run stream to the terminal.
func printEvents(ch <-chan events.Event) {
	for e := range ch {
		switch e.Type {
		case events.TypeStarted:
			fmt.Printf("\033[32m[%s] running %s\033[0m\n", e.Timestamp, e.ScriptPath)
		case events.TypeLogLine:
			switch e.Stream {
			case events.StreamStderr:
				fmt.Printf("\033[31m%s\033[0m\n", e.Text)
			case events.StreamStdin:
				fmt.Printf("\033[36m> %s\033[0m\n", e.Text)
			case events.StreamInfo:
				fmt.Printf("\033[90m%s\033[0m\n", e.Text)
			default:
				fmt.Println(e.Text)
			}
		case events.TypeDiagnostics:
			if e.Passed {
				fmt.Printf("\033[90m%s: passed\033[0m\n", e.Kind)
			} else {
				fmt.Printf("\033[33m%s findings:\033[0m\n", e.Kind)
				for _, d := range e.Diagnostics {
					fmt.Printf("  \033[33m%s\033[0m\n", d)
				}
			}
		case events.TypeCompleted:
			if e.Success {
				fmt.Printf("\033[32m[%s] completed (exit 0)\033[0m\n\n", e.Timestamp)
			} else if e.ExitCode != nil {
				fmt.Printf("\033[31m[%s] failed (exit %d)\033[0m\n\n", e.Timestamp, *e.ExitCode)
			} else {
				fmt.Printf("\033[31m[%s] failed\033[0m\n\n", e.Timestamp)
			}
		case events.TypeKilled:
			fmt.Printf("\033[33m[%s] killed\033[0m\n\n", e.Timestamp)
		}
	}
}
