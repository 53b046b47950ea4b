package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/openfroyo/agent/pkg/config"
	"github.com/openfroyo/agent/pkg/drivers"
	"github.com/openfroyo/agent/pkg/engine"
	"github.com/openfroyo/agent/pkg/telemetry"
)

// app carries the state shared by all commands.
type app struct {
	version  string
	registry *engine.Registry

	// isTerminal reports whether a reader or writer is an interactive
	// terminal.
	isTerminal func(any) bool

	// Global flags
	settingsPath string
	verbose      bool
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	registry := engine.NewRegistry()
	if err := drivers.RegisterBuiltins(registry); err != nil {
		return err
	}
	rootCmd := newRootCommand(&app{
		version:    version,
		registry:   registry,
		isTerminal: isTerminal,
	}, fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate))
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(a *app, version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "froyo-agent",
		Short: "Bring a host in line with its desired-state document",
		Long: `froyo-agent verifies every entry of a desired-state document against the
host, decides which incorrect entries may be changed, and has its tool drivers
install or remove them.

Documents are YAML or CUE. Operator settings are read from
` + config.DefaultSettingsPath + ` when present and can be overridden by flags.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&a.settingsPath, "config", "c", "", "settings file path (default "+config.DefaultSettingsPath+" when present)")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(newRunCommand(a))
	rootCmd.AddCommand(newValidateCommand(a))
	rootCmd.AddCommand(newDriversCommand(a))
	rootCmd.AddCommand(newHistoryCommand(a))

	return rootCmd
}

// loadSettings reads the settings file. The default location may be absent;
// an explicitly named file may not.
func (a *app) loadSettings() (*config.Settings, error) {
	path := a.settingsPath
	if path == "" {
		s, err := config.LoadSettings(config.DefaultSettingsPath)
		if errors.Is(err, os.ErrNotExist) {
			return config.DefaultSettings(), nil
		}
		return s, err
	}
	return config.LoadSettings(path)
}

// newTelemetry builds the telemetry of a command. Logs written to stdout or
// stderr follow the command's writers.
func (a *app) newTelemetry(cmd *cobra.Command, s *config.Settings) (*telemetry.Telemetry, error) {
	cfg := s.TelemetryConfig(a.version)
	switch cfg.Logging.Output {
	case "", "stderr":
		cfg.Logging.Writer = cmd.ErrOrStderr()
		cfg.Logging.NoColor = !a.isTerminal(cmd.ErrOrStderr())
	case "stdout":
		cfg.Logging.Writer = cmd.OutOrStdout()
		cfg.Logging.NoColor = !a.isTerminal(cmd.OutOrStdout())
	}
	if a.verbose {
		cfg.Logging.Level = "debug"
	}
	return telemetry.NewTelemetry(cfg)
}

func isTerminal(v any) bool {
	f, ok := v.(interface{ Fd() uintptr })
	return ok && term.IsTerminal(int(f.Fd()))
}
