package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/scriptforge/internal/config"
	"github.com/michaelbrown/scriptforge/internal/events"
	"github.com/michaelbrown/scriptforge/internal/sandbox"
	"github.com/michaelbrown/scriptforge/internal/server"
	"github.com/michaelbrown/scriptforge/internal/storage/sqlite"
)

var portFlag int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scriptforge web server",
	Long: `Start the HTTP server with REST API and a WebSocket event stream.

The built-in console is available at the root URL. API endpoints are under
/api; live run output streams over /api/events.

Examples:
  scriptforge serve
  scriptforge serve --port 9090 --policy container-venv`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&portFlag, "port", 0, "Port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Open storage
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

	// Container policies need a working docker setup; say so up front
	// instead of failing on the first run.
	policy, _ := sandbox.ParsePolicy(cfg.Engine.Policy)
	if policyFlag != "" {
		policy, _ = sandbox.ParsePolicy(policyFlag)
	}
	if policy.Containerized() {
		if err := sandbox.CheckDocker(cmd.Context(), cfg.Sandbox.Image); err != nil {
			log.Printf("Warning: %v; container runs will fall back to host venv", err)
		}
	}

	// Determine port
	port := cfg.Server.Port
	if portFlag > 0 {
		port = portFlag
	}

	srv := server.New(cfg, store, eng, bus)

	// Graceful shutdown on SIGINT/SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		srv.Shutdown(context.Background())
	}()

	return srv.Start(port)
}
