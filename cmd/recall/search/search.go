// Package searchcmder provides the search command for hybrid search over
// stored memories.
package searchcmder

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	apisearch "github.com/papercomputeco/recall/api/search"
	"github.com/papercomputeco/recall/cmd/recall/cmdutil"
	"github.com/papercomputeco/recall/pkg/cliui"
	"github.com/papercomputeco/recall/pkg/config"
	"github.com/papercomputeco/recall/pkg/utils"
)

type searchCommander struct {
	query        string
	sessionID    string
	topK         int
	minRelevance float64
	mode         string
	jsonOut      bool
}

const searchLongDesc string = `Search stored memories.

Runs a hybrid search over the local memory store: vector similarity from
the configured embedder and vector store, fused with keyword matches and
weighted by relevance and recency. --mode keyword skips the embedder and
keeps recent memories that contain a query word, ranked by stored relevance.

Use --json to print the raw results, e.g. for piping into jq.

Examples:
  recall search "how do I rotate the API keys"
  recall search "deploy schedule" --session session_0193... --top 3
  recall search "billing" --min-relevance 0.5 --json
  recall search "kafka" --mode keyword`

const searchShortDesc string = "Search stored memories"

func NewSearchCmd() *cobra.Command {
	cmder := &searchCommander{}

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: searchShortDesc,
		Long:  searchLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmder.query = args[0]
			return cmder.run(cmd)
		},
	}

	cmd.Flags().StringVar(&cmder.sessionID, "session", "", "Restrict results to one session")
	cmd.Flags().IntVarP(&cmder.topK, "top", "k", apisearch.DefaultLimit, "Number of results to return")
	cmd.Flags().Float64Var(&cmder.minRelevance, "min-relevance", 0, "Minimum fused score of a result")
	cmd.Flags().StringVar(&cmder.mode, "mode", apisearch.ModeHybrid, "Search mode: hybrid or keyword")
	cmd.Flags().BoolVar(&cmder.jsonOut, "json", false, "Print results as JSON")
	cmdutil.AddStoreFlags(cmd)

	return cmd
}

func (c *searchCommander) run(cmd *cobra.Command) error {
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

	output, err := apisearch.Search(cmd.Context(), e.Manager, apisearch.SearchInput{
		Query:        c.query,
		SessionID:    c.sessionID,
		Limit:        c.topK,
		MinRelevance: c.minRelevance,
		Mode:         c.mode,
	})
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if c.jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(output)
	}

	PrintResults(w, output)
	return nil
}

// PrintResults writes a ranked, styled listing of output to w.
func PrintResults(w io.Writer, output *apisearch.SearchOutput) {
	if output.Count == 0 {
		fmt.Fprintln(w, "No results found.")
		return
	}

	fmt.Fprintf(w, "\n%s %s\n\n",
		cliui.HeaderStyle.Render("Search Results for:"),
		cliui.KeyStyle.Render(fmt.Sprintf("%q", output.Query)),
	)

	for i, r := range output.Results {
		preview := utils.Truncate(strings.ReplaceAll(r.Preview, "\n", " "), 77)

		fmt.Fprintf(w, "  %s  %s  %s\n",
			cliui.RankStyle.Render(fmt.Sprintf("#%d", i+1)),
			cliui.StepStyle.Render(fmt.Sprintf("score: %.4f", r.Score)),
			cliui.KeyStyle.Render(r.ID),
		)
		fmt.Fprintf(w, "  %s %s\n", cliui.DimStyle.Render("["+string(r.Type)+"]"), cliui.ValueStyle.Render(preview))
		fmt.Fprintf(w, "  %s\n\n", cliui.DimStyle.Render(fmt.Sprintf("session %s, %d tokens, relevance %.2f, %s",
			r.SessionID, r.Tokens, r.Relevance, r.Timestamp)))
	}
}
