// Package recallcmder
package recallcmder

import (
	"github.com/spf13/cobra"

	"github.com/papercomputeco/recall/cmd/recall/cmdutil"
	compresscmder "github.com/papercomputeco/recall/cmd/recall/compress"
	configcmder "github.com/papercomputeco/recall/cmd/recall/config"
	contextcmder "github.com/papercomputeco/recall/cmd/recall/context"
	enrichcmder "github.com/papercomputeco/recall/cmd/recall/enrich"
	initcmder "github.com/papercomputeco/recall/cmd/recall/init"
	maintaincmder "github.com/papercomputeco/recall/cmd/recall/maintain"
	searchcmder "github.com/papercomputeco/recall/cmd/recall/search"
	servecmder "github.com/papercomputeco/recall/cmd/recall/serve"
	sessioncmder "github.com/papercomputeco/recall/cmd/recall/session"
	versioncmder "github.com/papercomputeco/recall/cmd/version"
)

const recallLongDesc string = `Recall is long-term memory for conversational agents.

It stores session messages as memories, retrieves the most relevant ones
with hybrid semantic and keyword search, and compresses old conversation
into summaries once a session grows past its token budget.

Run the engine using:
  recall serve          Run the API, MCP endpoint and maintenance schedule

Work with the local store directly:
  recall session        Manage sessions and the active session
  recall search         Hybrid search over stored memories
  recall context        Print the assembled context for a turn
  recall compress       Compress a session now
  recall maintain       Run relevance decay, cleanup and reindexing once
  recall enrich         Tag, rescore or merge memories with the LLM`

const recallShortDesc string = "Recall - Agent Memory Engine"

func NewRecallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "recall",
		Short:        recallShortDesc,
		Long:         recallLongDesc,
		SilenceUsage: true,
	}

	// Global flags
	cmd.PersistentFlags().BoolP(cmdutil.FlagDebug, "d", false, "Enable debug logging")
	cmd.PersistentFlags().String(cmdutil.FlagConfigDir, "", "Override path to the .recall/ config directory")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(searchcmder.NewSearchCmd())
	cmd.AddCommand(contextcmder.NewContextCmd())
	cmd.AddCommand(sessioncmder.NewSessionCmd())
	cmd.AddCommand(compresscmder.NewCompressCmd())
	cmd.AddCommand(maintaincmder.NewMaintainCmd())
	cmd.AddCommand(enrichcmder.NewEnrichCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(initcmder.NewInitCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
