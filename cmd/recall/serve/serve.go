// Package servecmder provides the serve command running the memory engine
// behind the HTTP API and the MCP endpoint.
package servecmder

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/recall/api"
	"github.com/papercomputeco/recall/api/mcp"
	"github.com/papercomputeco/recall/cmd/recall/cmdutil"
	"github.com/papercomputeco/recall/pkg/config"
	"github.com/papercomputeco/recall/pkg/engine"
)

type serveCommander struct {
	listen       string
	llmProvider  string
	llmTarget    string
	llmModel     string
	schedule     string
	kafkaBrokers string
	threshold    int

	logger *slog.Logger
}

const serveLongDesc string = `Run the recall memory engine.

Starts the HTTP API on --listen with the MCP endpoint mounted at /mcp,
the compression worker pool and the maintenance schedule (relevance decay,
cleanup of stale memories and reindexing of missing embeddings).

Logs go to the terminal and, as JSON lines, to recall.log in the .recall
directory.

Changes to compression_threshold in config.toml are applied without a
restart.

Examples:
  recall serve
  recall serve --listen :9000 --llm-provider anthropic --llm-model claude-sonnet-4-5
  recall serve --storage-provider postgres --postgres postgres://localhost/recall`

const serveShortDesc string = "Run the recall API, MCP and maintenance services"

var serveFlags = append([]string{
	config.FlagListen,
	config.FlagLLMProvider,
	config.FlagLLMTarget,
	config.FlagLLMModel,
	config.FlagThreshold,
	config.FlagSchedule,
	config.FlagKafkaBrokers,
}, config.StoreFlags...)

func NewServeCmd() *cobra.Command {
	cmder := &serveCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd)
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagListen, &cmder.listen)
	config.AddStringFlag(cmd, config.Flags, config.FlagLLMProvider, &cmder.llmProvider)
	config.AddStringFlag(cmd, config.Flags, config.FlagLLMTarget, &cmder.llmTarget)
	config.AddStringFlag(cmd, config.Flags, config.FlagLLMModel, &cmder.llmModel)
	config.AddIntFlag(cmd, config.Flags, config.FlagThreshold, &cmder.threshold)
	config.AddStringFlag(cmd, config.Flags, config.FlagSchedule, &cmder.schedule)
	config.AddStringFlag(cmd, config.Flags, config.FlagKafkaBrokers, &cmder.kafkaBrokers)
	cmdutil.AddStoreFlags(cmd)

	return cmd
}

func (c *serveCommander) run(cmd *cobra.Command) error {
	log, closeLog, err := cmdutil.ServiceLogger(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()
	c.logger = log

	cfg, v, err := cmdutil.LoadConfig(cmd, serveFlags)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := cmdutil.OpenEngine(ctx, cmd, cfg, c.logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := e.Close(); err != nil {
			c.logger.Error("closing engine", "error", err)
		}
	}()

	return c.serve(ctx, e, func() {
		config.WatchConfig(v, c.logger, e.ApplyConfig)
	})
}

// serve runs the API until ctx is done or the server fails.
func (c *serveCommander) serve(ctx context.Context, e *engine.Engine, watch func()) error {
	mcpServer, err := mcp.NewServer(mcp.Config{
		Engine: e.Manager,
		Logger: c.logger.With("component", "mcp"),
	})
	if err != nil {
		return fmt.Errorf("creating MCP server: %w", err)
	}

	apiServer, err := api.NewServer(api.Config{
		ListenAddr: e.Config.API.Listen,
		MCP:        mcpServer.Handler(),
	}, e.Manager, c.logger.With("component", "api"))
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	if err := e.Maintenance.Start(ctx); err != nil {
		return fmt.Errorf("starting maintenance: %w", err)
	}
	if watch != nil {
		watch()
	}

	errChan := make(chan error, 1)
	go func() {
		if err := apiServer.Run(); err != nil {
			errChan <- fmt.Errorf("API server error: %w", err)
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		c.logger.Info("shutting down")
		return apiServer.Shutdown()
	}
}
