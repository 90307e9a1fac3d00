package sessioncmder

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/recall/cmd/recall/cmdutil"
	"github.com/papercomputeco/recall/pkg/cliui"
	"github.com/papercomputeco/recall/pkg/engine"
	"github.com/papercomputeco/recall/pkg/memory"
)

func newAddCmd() *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "add <role> <content>",
		Short: "Save a message to a session",
		Long: `Save a message to a session.

The message is stored as a conversation memory and may trigger
compression once the session exceeds its token threshold.

Roles: user, assistant, system, tool`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			role := memory.Role(args[0])
			if !role.Valid() {
				return fmt.Errorf("invalid role %q: must be one of user, assistant, system, tool", args[0])
			}

			id, err := cmdutil.ResolveSession(cmd, sessionID)
			if err != nil {
				return err
			}

			return withEngine(cmd, func(e *engine.Engine) error {
				if _, err := e.GetSession(cmd.Context(), id); err != nil {
					return err
				}

				msg := memory.NewMessage(role, args[1])
				if !e.SaveMessage(cmd.Context(), id, msg) {
					return errors.New("failed to save message")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s Saved %s message %s\n", cliui.SuccessMark, role, cliui.KeyStyle.Render(msg.ID))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "Session id (default: the active session)")
	cmdutil.AddStoreFlags(cmd)

	return cmd
}

func newRememberCmd() *cobra.Command {
	var (
		sessionID string
		typ       string
	)

	cmd := &cobra.Command{
		Use:   "remember <content>",
		Short: "Store a memory in a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := memory.ParseType(typ)
			if err != nil {
				return err
			}

			id, err := cmdutil.ResolveSession(cmd, sessionID)
			if err != nil {
				return err
			}

			return withEngine(cmd, func(e *engine.Engine) error {
				if _, err := e.GetSession(cmd.Context(), id); err != nil {
					return err
				}

				m, err := e.StoreMemory(cmd.Context(), id, args[0], t, nil)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s Stored %s memory %s\n", cliui.SuccessMark, m.Type, cliui.KeyStyle.Render(m.ID))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "Session id (default: the active session)")
	cmd.Flags().StringVar(&typ, "type", string(memory.TypeContext), "Memory type (conversation, summary, tool_output, context)")
	cmdutil.AddStoreFlags(cmd)

	return cmd
}
