package commands

import (
	"fmt"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openfroyo/agent/pkg/engine"
)

func newDriversCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "drivers",
		Short: "List the registered tool drivers",
		Long: `List every registered tool driver, whether it is available on this host,
whether the settings load it, and the drivers it supersedes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.loadSettings()
			if err != nil {
				return err
			}
			opts, err := s.EngineOptions()
			if err != nil {
				return err
			}
			env := engine.DriverEnv{Logger: zerolog.Nop(), Options: opts}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tAVAILABLE\tENABLED\tFLAGS\tCONFLICTS")
			for _, name := range a.registry.Names() {
				available, flags, conflicts := "no", "-", "-"
				if loaded := a.registry.Load([]string{name}, env, zerolog.Nop()); len(loaded) == 1 {
					d := loaded[0]
					available = "yes"
					var fl []string
					if d.Deprecated() {
						fl = append(fl, "deprecated")
					}
					if d.Experimental() {
						fl = append(fl, "experimental")
					}
					if len(fl) > 0 {
						flags = strings.Join(fl, ",")
					}
					if len(d.Conflicts()) > 0 {
						conflicts = strings.Join(d.Conflicts(), ",")
					}
				}
				enabled := "no"
				if slices.Contains(s.Drivers, name) {
					enabled = "yes"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", name, available, enabled, flags, conflicts)
			}
			return w.Flush()
		},
	}
}
