// Package contextcmder provides the context command printing the context
// the engine would assemble for a turn.
package contextcmder

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	apisearch "github.com/papercomputeco/recall/api/search"
	"github.com/papercomputeco/recall/cmd/recall/cmdutil"
	"github.com/papercomputeco/recall/pkg/cliui"
	"github.com/papercomputeco/recall/pkg/config"
)

type contextCommander struct {
	query     string
	sessionID string
	maxTokens int
	render    bool
	jsonOut   bool
}

const contextLongDesc string = `Print the assembled context for a session.

Combines the session's most recent conversation with the memories most
relevant to --query, packed oldest first into --max-tokens. Without
--session the active session (see "recall session use") is used.

Examples:
  recall context --query "what did we decide about billing"
  recall context --session session_0193... --max-tokens 2000 --render`

const contextShortDesc string = "Print the assembled context for a session"

func NewContextCmd() *cobra.Command {
	cmder := &contextCommander{}

	cmd := &cobra.Command{
		Use:   "context",
		Short: contextShortDesc,
		Long:  contextLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd)
		},
	}

	cmd.Flags().StringVarP(&cmder.query, "query", "q", "", "Text of the current turn")
	cmd.Flags().StringVar(&cmder.sessionID, "session", "", "Session id (default: the active session)")
	cmd.Flags().IntVar(&cmder.maxTokens, "max-tokens", apisearch.DefaultMaxTokens, "Token budget of the context")
	cmd.Flags().BoolVar(&cmder.render, "render", false, "Render the context as markdown")
	cmd.Flags().BoolVar(&cmder.jsonOut, "json", false, "Print the context and its memories as JSON")
	cmdutil.AddStoreFlags(cmd)

	return cmd
}

func (c *contextCommander) run(cmd *cobra.Command) error {
	if c.maxTokens <= 0 {
		return fmt.Errorf("--max-tokens must be positive, got %d", c.maxTokens)
	}

	sessionID, err := cmdutil.ResolveSession(cmd, c.sessionID)
	if err != nil {
		return err
	}

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

	if _, err := e.GetSession(cmd.Context(), sessionID); err != nil {
		return err
	}

	out := apisearch.Context(cmd.Context(), e.Manager, apisearch.ContextInput{
		Query:     c.query,
		SessionID: sessionID,
		MaxTokens: c.maxTokens,
	}, log)

	w := cmd.OutOrStdout()
	switch {
	case c.jsonOut:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)

	case out.Context == "":
		fmt.Fprintln(w, cliui.DimStyle.Render("No memories for this session yet."))
		return nil

	case c.render:
		rendered, err := cliui.RenderContext(out.Context)
		if err != nil {
			log.Debug("markdown rendering failed", "error", err)
		}
		fmt.Fprint(w, rendered)

	default:
		fmt.Fprintln(w, out.Context)
	}

	fmt.Fprintf(w, "\n%s\n", cliui.DimStyle.Render(fmt.Sprintf("%d memories, %d tokens, %.1fms",
		len(out.Memories), out.Tokens, out.ElapsedMs)))
	return nil
}
