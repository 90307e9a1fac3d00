package sessioncmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/recall/cmd/recall/cmdutil"
	"github.com/papercomputeco/recall/pkg/cliui"
	"github.com/papercomputeco/recall/pkg/dotdir"
	"github.com/papercomputeco/recall/pkg/engine"
	"github.com/papercomputeco/recall/pkg/git"
	"github.com/papercomputeco/recall/pkg/memory"
)

func newNewCmd() *cobra.Command {
	var (
		noUse   bool
		project string
	)

	cmd := &cobra.Command{
		Use:   "new [title]",
		Short: "Create a session and make it active",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			title := ""
			if len(args) == 1 {
				title = args[0]
			}

			return withEngine(cmd, func(e *engine.Engine) error {
				s, err := e.CreateSession(cmd.Context(), title)
				if err != nil {
					return err
				}

				if project == "" {
					project = git.RepoName(cmd.Context(), "")
				}
				if project != "" {
					s.Metadata[memory.MetaProject] = project
					if err := e.Store.UpdateSession(cmd.Context(), s); err != nil {
						return fmt.Errorf("tagging session: %w", err)
					}
				}

				fmt.Fprintf(cmd.OutOrStdout(), "%s Created session %s\n", cliui.SuccessMark, cliui.KeyStyle.Render(s.ID))
				if noUse {
					return nil
				}
				return setActive(cmd, s.ID, s.Title)
			})
		},
	}

	cmd.Flags().BoolVar(&noUse, "no-use", false, "Do not make the new session active")
	cmd.Flags().StringVar(&project, "project", "", "Project to tag the session with (default: auto-detect from git)")
	cmdutil.AddStoreFlags(cmd)

	return cmd
}

func newListCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions by most recent activity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd, func(e *engine.Engine) error {
				sessions, err := e.ListSessions(cmd.Context(), limit)
				if err != nil {
					return err
				}

				w := cmd.OutOrStdout()
				if len(sessions) == 0 {
					fmt.Fprintln(w, "No sessions found.")
					return nil
				}

				active := activeID(cmd)
				for _, s := range sessions {
					marker := " "
					if s.ID == active {
						marker = "*"
					}
					project, _ := s.Metadata[memory.MetaProject].(string)
					fmt.Fprintf(w, "%s %s  %s  %s %s\n",
						cliui.RankStyle.Render(marker),
						cliui.KeyStyle.Render(s.ID),
						cliui.ValueStyle.Render(s.Title),
						cliui.DimStyle.Render(formatTime(s.UpdatedAt)),
						cliui.DimStyle.Render(project),
					)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of sessions")
	cmdutil.AddStoreFlags(cmd)

	return cmd
}

func newShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show [id]",
		Short: "Show a session and its memory statistics",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			explicit := ""
			if len(args) == 1 {
				explicit = args[0]
			}
			id, err := cmdutil.ResolveSession(cmd, explicit)
			if err != nil {
				return err
			}

			return withEngine(cmd, func(e *engine.Engine) error {
				s, err := e.GetSession(cmd.Context(), id)
				if err != nil {
					return err
				}
				stats, err := e.Store.SessionStats(cmd.Context(), id)
				if err != nil {
					return err
				}

				printKV(cmd, "id:        ", s.ID)
				printKV(cmd, "title:     ", s.Title)
				if project, ok := s.Metadata[memory.MetaProject].(string); ok {
					printKV(cmd, "project:   ", project)
				}
				printKV(cmd, "created:   ", formatTime(s.CreatedAt))
				printKV(cmd, "updated:   ", formatTime(s.UpdatedAt))
				printKV(cmd, "messages:  ", fmt.Sprint(len(s.Messages)))
				printKV(cmd, "memories:  ", fmt.Sprint(stats.TotalMemories))
				printKV(cmd, "tokens:    ", fmt.Sprintf("%d / %d", stats.TotalTokens, e.Summarizer.Threshold()))
				printKV(cmd, "relevance: ", fmt.Sprintf("%.2f", stats.AvgRelevance))
				return nil
			})
		},
	}

	cmdutil.AddStoreFlags(cmd)

	return cmd
}

func newUseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "use <id>",
		Short: "Make a session the active session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(e *engine.Engine) error {
				s, err := e.GetSession(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if err := setActive(cmd, s.ID, s.Title); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s Active session is now %s\n", cliui.SuccessMark, cliui.KeyStyle.Render(s.ID))
				return nil
			})
		},
	}

	cmdutil.AddStoreFlags(cmd)

	return cmd
}

func newClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Clear the active session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := dotdir.NewManager().ClearActiveSession(cmdutil.ConfigDir(cmd)); err != nil {
				return fmt.Errorf("clearing active session: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Active session cleared.")
			return nil
		},
	}
}

func newRenameCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rename <id> <title>",
		Short: "Change a session's title",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(e *engine.Engine) error {
				s, err := e.UpdateSessionTitle(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				if activeID(cmd) == s.ID {
					if err := setActive(cmd, s.ID, s.Title); err != nil {
						return err
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s Renamed %s to %q\n", cliui.SuccessMark, s.ID, s.Title)
				return nil
			})
		},
	}

	cmdutil.AddStoreFlags(cmd)

	return cmd
}

func newDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a session with its messages and memories",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(e *engine.Engine) error {
				if err := e.DeleteSession(cmd.Context(), args[0]); err != nil {
					return err
				}
				if activeID(cmd) == args[0] {
					if err := dotdir.NewManager().ClearActiveSession(cmdutil.ConfigDir(cmd)); err != nil {
						return err
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s Deleted session %s\n", cliui.SuccessMark, args[0])
				return nil
			})
		},
	}

	cmdutil.AddStoreFlags(cmd)

	return cmd
}
