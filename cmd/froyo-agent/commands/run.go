package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/openfroyo/agent/pkg/config"
	"github.com/openfroyo/agent/pkg/engine"
	"github.com/openfroyo/agent/pkg/lock"
	"github.com/openfroyo/agent/pkg/policy"
	"github.com/openfroyo/agent/pkg/stores"
	"github.com/openfroyo/agent/pkg/telemetry"
)

// runFlags are the operator flags of the run command. Each one overrides
// the matching setting only when given.
type runFlags struct {
	file          string
	jsonOutput    bool
	dryRun        bool
	interactive   bool
	cached        bool
	decision      string
	decisionList  []string
	bundles       []string
	skipBundles   []string
	indep         bool
	skipIndep     bool
	quick         bool
	remove        string
	extra         bool
	kevlar        bool
	onlyImportant bool
	serviceMode   string
	driverTimeout time.Duration
	drivers       []string
	policies      []string
	noLock        bool
}

func newRunCommand(a *app) *cobra.Command {
	f := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run -f DOCUMENT",
		Short: "Run the agent against a desired-state document",
		Long: `Inventory every entry of the document, decide which incorrect entries to
change, install and remove them, and report the result.

The run exits zero when it completes, even when entries remain incorrect.
Loading, validation and lock failures exit non-zero.`,
		Example: `  # Show what would change
  froyo-agent run -f /var/cache/froyo/host.yaml --dry-run

  # Only touch the ssh bundle, asking before each change
  froyo-agent run -f host.cue -b ssh --quick --interactive

  # Never touch packages matching telnet*
  froyo-agent run -f host.yaml --decision blacklist --decision-list 'Package:telnet*'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.loadSettings()
			if err != nil {
				return err
			}
			if err := f.apply(cmd.Flags(), s); err != nil {
				return err
			}
			return a.run(cmd, f, s)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.file, "file", "f", "", "desired-state document (.yaml, .yml or .cue)")
	flags.BoolVar(&f.jsonOutput, "json", false, "print the JSON report instead of the summary")
	flags.BoolVarP(&f.dryRun, "dry-run", "n", false, "decide but change nothing")
	flags.BoolVarP(&f.interactive, "interactive", "I", false, "ask before each change")
	flags.BoolVar(&f.cached, "cached", false, "the document is a cached copy; decision lists are not applied")
	flags.StringVarP(&f.decision, "decision", "l", "", "decision mode: whitelist, blacklist or none")
	flags.StringSliceVar(&f.decisionList, "decision-list", nil, "Kind:Name patterns for the decision mode")
	flags.StringSliceVarP(&f.bundles, "bundle", "b", nil, "only run the named bundles")
	flags.StringSliceVarP(&f.skipBundles, "skip-bundle", "B", nil, "skip the named bundles")
	flags.BoolVar(&f.indep, "indep", false, "only run independent bundles")
	flags.BoolVar(&f.skipIndep, "skip-indep", false, "skip independent bundles")
	flags.BoolVarP(&f.quick, "quick", "Q", false, "inventory only the selected bundles")
	flags.StringVarP(&f.remove, "remove", "r", "", "remove extra entries: all, services, packages, users or none")
	flags.BoolVarP(&f.extra, "extra", "e", false, "list unmanaged entries")
	flags.BoolVarP(&f.kevlar, "kevlar", "k", false, "re-inventory after changes")
	flags.BoolVar(&f.onlyImportant, "only-important", false, "only install important entries")
	flags.StringVar(&f.serviceMode, "service-mode", "", "service handling: default, disabled or build")
	flags.DurationVar(&f.driverTimeout, "driver-timeout", 0, "bound each driver call (0 disables)")
	flags.StringSliceVarP(&f.drivers, "drivers", "D", nil, "tool drivers to load, in order")
	flags.StringSliceVar(&f.policies, "policy", nil, "rego policy files or directories")
	flags.BoolVar(&f.noLock, "no-lock", false, "do not take the run lock")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

// apply overlays the flags that were given on the settings and validates the
// result.
func (f *runFlags) apply(flags *pflag.FlagSet, s *config.Settings) error {
	set := func(name string, apply func()) {
		if flags.Changed(name) {
			apply()
		}
	}
	set("dry-run", func() { s.DryRun = f.dryRun })
	set("interactive", func() { s.Interactive = f.interactive })
	set("cached", func() { s.FromFile = f.cached })
	set("decision", func() { s.Decision = f.decision })
	set("decision-list", func() { s.DecisionList = f.decisionList })
	set("bundle", func() { s.Bundles = f.bundles })
	set("skip-bundle", func() { s.SkipBundles = f.skipBundles })
	set("indep", func() { s.Indep = f.indep })
	set("skip-indep", func() { s.SkipIndep = f.skipIndep })
	set("quick", func() { s.BundleQuick = f.quick })
	set("remove", func() { s.Remove = f.remove })
	set("extra", func() { s.ShowExtra = f.extra })
	set("kevlar", func() { s.Kevlar = f.kevlar })
	set("only-important", func() { s.OnlyImportant = f.onlyImportant })
	set("service-mode", func() { s.ServiceMode = f.serviceMode })
	set("driver-timeout", func() { s.DriverTimeout = f.driverTimeout })
	set("drivers", func() { s.Drivers = f.drivers })
	set("policy", func() { s.PolicyPaths = f.policies })
	set("no-lock", func() { s.NoLock = f.noLock })
	return s.Validate()
}

func (a *app) run(cmd *cobra.Command, f *runFlags, s *config.Settings) error {
	ctx := cmd.Context()

	tel, err := a.newTelemetry(cmd, s)
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()
	log := tel.Logger.NewComponentLogger("agent").Zerolog()
	s.LogWarnings(log)

	opts, err := s.EngineOptions()
	if err != nil {
		return err
	}
	if opts.Interactive && !opts.DryRun && !a.isTerminal(cmd.InOrStdin()) {
		return fmt.Errorf("interactive mode requires a terminal on stdin")
	}

	if !s.NoLock {
		l, err := lock.Acquire(s.LockFile)
		if err != nil {
			return err
		}
		defer func() { _ = l.Release() }()
	}

	loader, err := config.NewDocumentLoader()
	if err != nil {
		return err
	}
	doc, err := loader.Load(f.file)
	if err != nil {
		return err
	}

	prompter := engine.NewTextPrompter(cmd.InOrStdin(), cmd.OutOrStdout())
	drivers := a.registry.Load(s.Drivers, engine.DriverEnv{
		Logger:   tel.Logger.Zerolog(),
		Options:  opts,
		Prompter: prompter,
	}, log)
	if len(drivers) == 0 {
		return fmt.Errorf("no tool drivers could be loaded from %v", s.Drivers)
	}

	cfg := engine.Config{
		Options:  opts,
		Logger:   tel.Logger.Zerolog(),
		Prompter: prompter,
		Observer: tel,
	}
	if len(s.PolicyPaths) > 0 {
		gate, err := policy.LoadGate(ctx, log, s.PolicyPaths, opts.DecisionMode)
		if err != nil {
			return fmt.Errorf("failed to load policies: %w", err)
		}
		cfg.Gate = gate
	}

	eng, err := engine.New(doc, drivers, cfg)
	if err != nil {
		return err
	}

	runLog := tel.Logger.NewComponentLogger("agent").WithRunID(eng.RunID())
	if addr, err := tel.Metrics.StartServer(ctx); err != nil {
		runLog.WithError(err).Error("Failed to start metrics server")
	} else if addr != "" {
		runLog.WithField("address", addr).Info("Serving metrics")
	}

	runCtx, endRun := tel.StartRun(ctx, eng.RunID(), doc.Revision)
	report, err := eng.Execute(runCtx)
	endRun(report)
	if err != nil {
		return err
	}
	if n := len(report.DriverFailures); n > 0 {
		runLog.Warnf("%d driver calls failed during the run", n)
	}

	if err := tel.FinishRun(report); err != nil {
		runLog.WithError(err).Warn("Failed to export run metrics")
	}
	a.saveHistory(ctx, runLog, s.Store, report)

	out := cmd.OutOrStdout()
	if f.jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	_, err = report.Summary(s.ShowExtra).WriteTo(out)
	return err
}

// saveHistory records the report in the run history. Failures are logged;
// they never fail a finished run.
func (a *app) saveHistory(ctx context.Context, log *telemetry.Logger, cfg config.StoreSettings, report *engine.Report) {
	if cfg.Path == "" {
		return
	}
	log = log.WithField("store", cfg.Path)

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.WithError(err).Error("Failed to open run history")
		return
	}
	defer store.Close()

	if err := store.SaveReport(ctx, report); err != nil {
		log.WithError(err).Error("Failed to save run")
		return
	}
	pruned, err := store.Prune(ctx, cfg.KeepRuns)
	if err != nil {
		log.WithError(err).Error("Failed to prune run history")
		return
	}
	if pruned > 0 {
		log.Infof("Pruned %d runs from history", pruned)
	}
}

func openStore(ctx context.Context, cfg config.StoreSettings) (*stores.SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, errors.New("run history is disabled: store.path is empty")
	}
	store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.Path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}
