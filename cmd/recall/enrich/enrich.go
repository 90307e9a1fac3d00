// Package enrichcmder provides the enrich command: model-assisted tagging,
// relevance rescoring and merging of stored memories.
package enrichcmder

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/recall/cmd/recall/cmdutil"
	"github.com/papercomputeco/recall/pkg/cliui"
	"github.com/papercomputeco/recall/pkg/config"
	"github.com/papercomputeco/recall/pkg/engine"
)

const enrichLongDesc string = `Enrich stored memories with the configured LLM.

  tags     store up to five topic tags in a memory's metadata
  rescore  blend the model's view of relevance to a query into the
           newest memories of a session
  merge    consolidate a memory and its nearest neighbours into one
           summary; the originals are decayed like compressed memories

Examples:
  recall enrich tags memory_0193...
  recall enrich rescore --query "billing migration" --limit 20
  recall enrich merge memory_0193... --limit 3`

var enrichFlags = append([]string{
	config.FlagLLMProvider,
	config.FlagLLMTarget,
	config.FlagLLMModel,
}, config.StoreFlags...)

func NewEnrichCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Tag, rescore or merge memories with the LLM",
		Long:  enrichLongDesc,
	}

	cmd.AddCommand(newTagsCmd())
	cmd.AddCommand(newRescoreCmd())
	cmd.AddCommand(newMergeCmd())

	return cmd
}

// addFlags registers the LLM and store flags every subcommand reads.
func addFlags(cmd *cobra.Command) {
	var prov, target, model string
	config.AddStringFlag(cmd, config.Flags, config.FlagLLMProvider, &prov)
	config.AddStringFlag(cmd, config.Flags, config.FlagLLMTarget, &target)
	config.AddStringFlag(cmd, config.Flags, config.FlagLLMModel, &model)
	cmdutil.AddStoreFlags(cmd)
}

func withEngine(cmd *cobra.Command, fn func(e *engine.Engine) error) error {
	log := cmdutil.Logger(cmd)
	cfg, _, err := cmdutil.LoadConfig(cmd, enrichFlags)
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

func newTagsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tags <memory-id>",
		Short: "Generate and store tags for a memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(e *engine.Engine) error {
				tags, err := e.TagMemory(cmd.Context(), args[0])
				if err != nil {
					return err
				}

				w := cmd.OutOrStdout()
				if len(tags) == 0 {
					fmt.Fprintln(w, cliui.DimStyle.Render("No tags generated."))
					return nil
				}
				fmt.Fprintf(w, "%s %s %s\n", cliui.SuccessMark, cliui.KeyStyle.Render(args[0]), cliui.ValueStyle.Render(strings.Join(tags, ", ")))
				return nil
			})
		},
	}
	addFlags(cmd)
	return cmd
}

func newRescoreCmd() *cobra.Command {
	var (
		sessionID string
		query     string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "rescore",
		Short: "Rescore a session's newest memories against a query",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(query) == "" {
				return errors.New("--query is required")
			}
			id, err := cmdutil.ResolveSession(cmd, sessionID)
			if err != nil {
				return err
			}

			return withEngine(cmd, func(e *engine.Engine) error {
				var n int
				err := cliui.Step(cmd.OutOrStdout(), "rescoring "+id, func() error {
					var err error
					n, err = e.RescoreMemories(cmd.Context(), id, query, limit)
					return err
				})
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), cliui.DimStyle.Render(fmt.Sprintf("  %d memories rescored", n)))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "Session id (default: the active session)")
	cmd.Flags().StringVar(&query, "query", "", "Query the memories are judged against")
	cmd.Flags().IntVar(&limit, "limit", 0, "Number of newest memories to rescore (default 10)")
	addFlags(cmd)
	return cmd
}

func newMergeCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "merge <memory-id>",
		Short: "Merge a memory with its nearest neighbours",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(e *engine.Engine) error {
				merged, err := e.MergeSimilar(cmd.Context(), args[0], limit)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s  %s\n",
					cliui.SuccessMark,
					cliui.KeyStyle.Render(merged.ID),
					cliui.DimStyle.Render(fmt.Sprintf("%d tokens", merged.TokenCount)),
				)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 3, "Number of neighbours to merge")
	addFlags(cmd)
	return cmd
}
