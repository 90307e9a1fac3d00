// Package maintaincmder provides the maintain command running one pass of
// the maintenance schedule.
package maintaincmder

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/recall/cmd/recall/cmdutil"
	"github.com/papercomputeco/recall/pkg/cliui"
	"github.com/papercomputeco/recall/pkg/config"
	"github.com/papercomputeco/recall/pkg/maintenance"
)

type maintainCommander struct {
	jsonOut bool
}

const maintainLongDesc string = `Run maintenance once.

Performs the same pass "recall serve" runs on its maintenance schedule:
  - recomputes relevance scores with temporal decay
  - deletes memories older than memory.cleanup_days with low relevance
  - embeds memories missing from the vector index

Examples:
  recall maintain
  recall maintain --json`

const maintainShortDesc string = "Run relevance decay, cleanup and reindexing once"

func NewMaintainCmd() *cobra.Command {
	cmder := &maintainCommander{}

	cmd := &cobra.Command{
		Use:   "maintain",
		Short: maintainShortDesc,
		Long:  maintainLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd)
		},
	}

	cmd.Flags().BoolVar(&cmder.jsonOut, "json", false, "Print the report as JSON")
	cmdutil.AddStoreFlags(cmd)

	return cmd
}

func (c *maintainCommander) run(cmd *cobra.Command) error {
	log := cmdutil.Logger(cmd)
	cfg, _, err := cmdutil.LoadConfig(cmd, config.StoreFlags)
	if err != nil {
		return err
	}

	e, err := cmdutil.OpenEngine(cmd.Context(), cmd, cfg, log)
	if err != nil {
		return err
	}
	defer e.Close()

	w := cmd.OutOrStdout()
	var report maintenance.Report
	if c.jsonOut {
		report, err = e.Maintenance.RunOnce(cmd.Context())
	} else {
		err = cliui.Step(w, "running maintenance", func() error {
			var runErr error
			report, runErr = e.Maintenance.RunOnce(cmd.Context())
			return runErr
		})
	}

	if c.jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(report); encErr != nil {
			return encErr
		}
		return err
	}

	fmt.Fprintf(w, "  %s %d  %s %d  %s %d\n",
		cliui.KeyStyle.Render("decayed:"), report.Decayed,
		cliui.KeyStyle.Render("deleted:"), report.Deleted,
		cliui.KeyStyle.Render("reindexed:"), report.Reindexed,
	)
	return err
}
