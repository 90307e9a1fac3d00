// Package sessioncmder provides the session command for managing sessions
// and the active session pointer in the .recall/ directory.
package sessioncmder

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/recall/cmd/recall/cmdutil"
	"github.com/papercomputeco/recall/pkg/cliui"
	"github.com/papercomputeco/recall/pkg/config"
	"github.com/papercomputeco/recall/pkg/dotdir"
	"github.com/papercomputeco/recall/pkg/engine"
)

const sessionLongDesc string = `Manage sessions.

The active session is stored in session.json in the .recall/ directory and
is used by "recall context", "recall compress" and the message commands
when no --session flag is given.

Examples:
  recall session new "billing migration"
  recall session list
  recall session use session_0193...
  recall session add user "How do I rotate the API keys?"
  recall session remember "the user prefers dark mode" --type context
  recall session clear`

const sessionShortDesc string = "Manage sessions and the active session"

func NewSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: sessionShortDesc,
		Long:  sessionLongDesc,
	}

	cmd.AddCommand(newNewCmd())
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newShowCmd())
	cmd.AddCommand(newUseCmd())
	cmd.AddCommand(newClearCmd())
	cmd.AddCommand(newRenameCmd())
	cmd.AddCommand(newDeleteCmd())
	cmd.AddCommand(newAddCmd())
	cmd.AddCommand(newRememberCmd())

	return cmd
}

// withEngine opens the engine for cmd, runs fn and closes the engine.
func withEngine(cmd *cobra.Command, fn func(e *engine.Engine) error) error {
	log := cmdutil.Logger(cmd)
	cfg, _, err := cmdutil.LoadConfig(cmd, config.StoreFlags)
	if err != nil {
		return err
	}

	e, err := cmdutil.OpenEngine(cmd.Context(), cmd, cfg, log)
	if err != nil {
		return err
	}

	fnErr := fn(e)
	if err := e.Close(); err != nil && fnErr == nil {
		return fmt.Errorf("closing engine: %w", err)
	}
	return fnErr
}

func setActive(cmd *cobra.Command, id, title string) error {
	return dotdir.NewManager().SaveActiveSession(&dotdir.ActiveSession{
		SessionID: id,
		Title:     title,
	}, cmdutil.ConfigDir(cmd))
}

func activeID(cmd *cobra.Command) string {
	active, err := dotdir.NewManager().LoadActiveSession(cmdutil.ConfigDir(cmd))
	if err != nil || active == nil {
		return ""
	}
	return active.SessionID
}

func printKV(cmd *cobra.Command, key, value string) {
	fmt.Fprintf(cmd.OutOrStdout(), "  %s  %s\n", cliui.KeyStyle.Render(key), cliui.ValueStyle.Render(value))
}

func formatTime(t time.Time) string {
	return t.Local().Format(time.DateTime)
}
