package commands

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openfroyo/agent/pkg/config"
	"github.com/openfroyo/agent/pkg/engine"
	"github.com/openfroyo/agent/pkg/policy"
)

func newValidateCommand(a *app) *cobra.Command {
	var (
		file   string
		strict bool
	)

	cmd := &cobra.Command{
		Use:   "validate -f DOCUMENT",
		Short: "Validate a desired-state document",
		Long: `Validate a desired-state document without touching the host.

This command checks:
  - YAML or CUE syntax and the document schema
  - that the configured tool drivers handle every entry
  - that the configured policies compile`,
		Example: `  # Validate a CUE document
  froyo-agent validate -f host.cue

  # Fail when an entry has no driver
  froyo-agent validate -f host.yaml --strict`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.loadSettings()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			loader, err := config.NewDocumentLoader()
			if err != nil {
				return err
			}
			doc, err := loader.Load(file)
			var derr *config.DocumentError
			if errors.As(err, &derr) {
				for _, ve := range derr.Errors {
					fmt.Fprintln(out, ve.String())
				}
				return fmt.Errorf("document %s is invalid", file)
			}
			if err != nil {
				return err
			}

			log := zerolog.Nop()
			if a.verbose {
				log = zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), NoColor: true})
			}
			opts, err := s.EngineOptions()
			if err != nil {
				return err
			}
			// Validation never changes anything.
			opts.DryRun = true
			opts.Interactive = false

			drivers := a.registry.Load(s.Drivers, engine.DriverEnv{Logger: log, Options: opts}, log)
			eng, err := engine.New(doc, drivers, engine.Config{Options: opts, Logger: log})
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "Document %s: revision %s, %d bundles, %d entries\n",
				file, revisionOf(doc), len(doc.Bundles), len(doc.Entries()))

			unhandled := eng.Unhandled()
			for _, e := range unhandled {
				fmt.Fprintf(out, "Unhandled entry %s\n", e.ID())
			}

			if len(s.PolicyPaths) > 0 {
				gate, err := policy.LoadGate(cmd.Context(), log, s.PolicyPaths, opts.DecisionMode)
				if err != nil {
					return fmt.Errorf("failed to load policies: %w", err)
				}
				fmt.Fprintf(out, "Policies: %d compiled\n", len(gate.Policies()))
			}

			if strict && len(unhandled) > 0 {
				return fmt.Errorf("%d entries are not handled by any driver", len(unhandled))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "desired-state document (.yaml, .yml or .cue)")
	cmd.Flags().BoolVar(&strict, "strict", false, "fail when an entry is not handled by any driver")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func revisionOf(doc *engine.Document) string {
	if doc.Revision == "" {
		return "-1"
	}
	return doc.Revision
}
