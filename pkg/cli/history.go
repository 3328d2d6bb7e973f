package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"dev/bravebird/uiverify/pkg/config"
	"dev/bravebird/uiverify/pkg/database"
	"dev/bravebird/uiverify/pkg/models"
)

func newHistoryCommand(opts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent runs recorded with --history",
		Example: `  uiverify --history runs.db --scenario search-filter
  uiverify history --history runs.db --limit 5`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.ConfigPath)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load config", err)
			}
			path := cfg.History
			if opts.History != "" {
				path = opts.History
			}
			if path == "" {
				return NewExitError(ExitCommandError, "no history file: pass --history or set history in the config")
			}

			db, err := database.Open(database.DriverSQLite, path)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open history", err)
			}
			defer db.Close()

			runs, err := db.ListRuns(cmd.Context(), limit)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to list runs", err)
			}
			if runs == nil {
				runs = []models.VerificationRun{}
			}

			out := cmd.OutOrStdout()
			if opts.Format == "json" {
				return json.NewEncoder(out).Encode(runs)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tSTATUS\tCREATED\tSCENARIOS")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.Status, r.CreatedAt.Local().Format(time.DateTime), strings.Join(r.Scenarios, ","))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")
	return cmd
}
