package commands

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newHistoryCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect the run history",
		Long:  `Read back the runs recorded in the run history database (store.path).`,
	}
	cmd.AddCommand(newHistoryListCommand(a))
	cmd.AddCommand(newHistoryShowCommand(a))
	cmd.AddCommand(newHistoryEntryCommand(a))
	return cmd
}

func newHistoryListCommand(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.loadSettings()
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), s.Store)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(cmd.Context(), limit, 0)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RUN ID\tSTARTED\tDURATION\tREVISION\tSTATE\tTOTAL\tGOOD\tBAD\tMODIFIED\tEXTRA\tFAILURES\tDRY RUN")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%t\n",
					r.ID, r.StartedAt.Local().Format(time.DateTime), r.Duration().Round(time.Millisecond),
					r.Revision, r.State, r.Total, r.Good, r.Bad, r.Modified, r.Extra, r.Failures, r.DryRun)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs (0 for all)")
	return cmd
}

func newHistoryShowCommand(a *app) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Print the report of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "json" && format != "yaml" {
				return fmt.Errorf("unsupported format %q (must be json or yaml)", format)
			}
			s, err := a.loadSettings()
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), s.Store)
			if err != nil {
				return err
			}
			defer store.Close()

			report, err := store.GetReport(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if format == "yaml" {
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				if err := enc.Encode(report); err != nil {
					return err
				}
				return enc.Close()
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "o", "json", "output format: json or yaml")
	return cmd
}

func newHistoryEntryCommand(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "entry Kind:Name",
		Short: "Show how an entry was classified in recent runs",
		Example: `  froyo-agent history entry Package:openssh-server
  froyo-agent history entry Path:/etc/ssh/sshd_config --limit 5`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, name, ok := strings.Cut(args[0], ":")
			if !ok || kind == "" || name == "" {
				return fmt.Errorf("entry must be Kind:Name, got %q", args[0])
			}
			s, err := a.loadSettings()
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), s.Store)
			if err != nil {
				return err
			}
			defer store.Close()

			rows, err := store.EntryHistory(cmd.Context(), kind, name, limit)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No runs recorded %s\n", args[0])
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RUN ID\tCLASS")
			for _, r := range rows {
				fmt.Fprintf(w, "%s\t%s\n", r.RunID, r.Class)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of rows (0 for all)")
	return cmd
}
