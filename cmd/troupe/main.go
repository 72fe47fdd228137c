// Command troupe runs a tabletop scene with LLM-driven characters: the game
// master narrates in a terminal UI, the characters answer in turn, and their
// lines are voiced through the configured speech backends.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/troupe/internal/app"
	"github.com/MrWong99/troupe/internal/config"
	"github.com/MrWong99/troupe/internal/observe"
)

// shutdownTimeout bounds how long the app may take to release its devices
// and files after the UI exits.
const shutdownTimeout = 15 * time.Second

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "troupe",
	Short: "Voiced LLM characters for tabletop sessions",
	Long: `troupe keeps a session log of narration, player lines and character
replies. Characters answer through language models, and every spoken line is
rendered and played in order through the configured voice actors.

Run without a subcommand to open the session UI.`,
	SilenceUsage: true,
	RunE:         runSession,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "troupe.yaml", "path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log_level (debug, info, warn, error)")

	rootCmd.AddCommand(runCmd, sayCmd, transcribeCmd, validateCmd, summariseCmd, voicesCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// loadConfig reads --config and applies --log-level.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file %q not found; pass --config or create troupe.yaml", configPath)
		}
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = config.LogLevel(logLevel)
		if !cfg.LogLevel.IsValid() {
			return nil, fmt.Errorf("--log-level %q is invalid; valid values: debug, info, warn, error", logLevel)
		}
	}
	return cfg, nil
}

// newRegistry returns a registry holding every built-in backend.
func newRegistry() *config.Registry {
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	return reg
}

// startTelemetry installs the Prometheus bridge when the operational server
// is enabled. It must run before the app creates its metric instruments.
func startTelemetry(ctx context.Context, cfg *config.Config) (func(context.Context) error, error) {
	if cfg.Metrics.ListenAddr == "" {
		return func(context.Context) error { return nil }, nil
	}
	return observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "troupe"})
}

// shutdown releases a with a fresh deadline, since the command context is
// usually already cancelled by then.
func shutdown(a *app.App) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return a.Shutdown(ctx)
}
