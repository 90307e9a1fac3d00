// Package compresscmder provides the compress command, an operator trigger
// for adaptive compression of one session.
package compresscmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/recall/cmd/recall/cmdutil"
	"github.com/papercomputeco/recall/pkg/cliui"
	"github.com/papercomputeco/recall/pkg/config"
	"github.com/papercomputeco/recall/pkg/memory"
)

type compressCommander struct {
	sessionID string
	llmTarget string
	llmModel  string
	llmProv   string
}

const compressLongDesc string = `Compress a session now.

Runs adaptive compression for the session regardless of whether it has
crossed the compression threshold: older conversation memories are
grouped into batches and replaced by LLM summaries. The most recent
conversation is always kept verbatim.

Without --session the active session is compressed.

Examples:
  recall compress
  recall compress --session session_0193... --llm-provider openai --llm-model gpt-4o-mini`

const compressShortDesc string = "Compress a session now"

var compressFlags = append([]string{
	config.FlagLLMProvider,
	config.FlagLLMTarget,
	config.FlagLLMModel,
}, config.StoreFlags...)

func NewCompressCmd() *cobra.Command {
	cmder := &compressCommander{}

	cmd := &cobra.Command{
		Use:   "compress",
		Short: compressShortDesc,
		Long:  compressLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd)
		},
	}

	cmd.Flags().StringVar(&cmder.sessionID, "session", "", "Session id (default: the active session)")
	config.AddStringFlag(cmd, config.Flags, config.FlagLLMProvider, &cmder.llmProv)
	config.AddStringFlag(cmd, config.Flags, config.FlagLLMTarget, &cmder.llmTarget)
	config.AddStringFlag(cmd, config.Flags, config.FlagLLMModel, &cmder.llmModel)
	cmdutil.AddStoreFlags(cmd)

	return cmd
}

func (c *compressCommander) run(cmd *cobra.Command) error {
	id, err := cmdutil.ResolveSession(cmd, c.sessionID)
	if err != nil {
		return err
	}

	log := cmdutil.Logger(cmd)
	cfg, _, err := cmdutil.LoadConfig(cmd, compressFlags)
	if err != nil {
		return err
	}

	e, err := cmdutil.OpenEngine(cmd.Context(), cmd, cfg, log)
	if err != nil {
		return err
	}
	defer e.Close()

	if _, err := e.GetSession(cmd.Context(), id); err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	var summaries []*memory.Memory
	_ = cliui.Step(w, "compressing "+id, func() error {
		summaries = e.Compress(cmd.Context(), id)
		return nil
	})

	if len(summaries) == 0 {
		fmt.Fprintln(w, cliui.DimStyle.Render("  Nothing to compress."))
		return nil
	}

	for _, s := range summaries {
		fmt.Fprintf(w, "  %s %s  %s\n",
			cliui.SuccessMark,
			cliui.KeyStyle.Render(s.ID),
			cliui.DimStyle.Render(fmt.Sprintf("%d memories -> %d tokens", len(s.CompressedIDs()), s.TokenCount)),
		)
	}
	return nil
}
