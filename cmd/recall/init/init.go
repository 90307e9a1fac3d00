// Package initcmder provides the init command for initializing a local
// .recall directory in the current working directory.
package initcmder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/recall/pkg/config"
)

const (
	dirName    = ".recall"
	configFile = "config.toml"

	remoteTimeout = 10 * time.Second
)

const initLongDesc string = `Initialize a new .recall/ directory in the current working directory.

Creates a local .recall/ directory that takes precedence over the default
~/.recall/ directory for configuration, the SQLite memory store, the
vector index and the active session.

Use --preset to write a provider preset or a remote config.toml:
  ollama      local Ollama embeddings and completions (default)
  openai      OpenAI embeddings and completions
  anthropic   Anthropic completions with local Ollama embeddings
  gemini      Gemini embeddings and completions through gollem

Examples:
  recall init
  recall init --preset anthropic
  recall init --preset https://example.com/recall/config.toml`

const initShortDesc string = "Initialize a local .recall/ directory"

func NewInitCmd() *cobra.Command {
	var preset string

	cmd := &cobra.Command{
		Use:   "init",
		Short: initShortDesc,
		Long:  initLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInit(cmd, preset)
		},
		ValidArgsFunction: cobra.NoFileCompletions,
	}

	cmd.Flags().StringVar(&preset, "preset", "", "Provider preset name or URL of a config.toml")
	_ = cmd.RegisterFlagCompletionFunc("preset", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return config.ValidPresetNames(), cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func runInit(cmd *cobra.Command, preset string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting current directory: %w", err)
	}

	dir := filepath.Join(cwd, dirName)
	existed := false
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		existed = true
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating .recall directory: %w", err)
	}

	path := filepath.Join(dir, configFile)
	w := cmd.OutOrStdout()

	switch {
	case isURL(preset):
		data, err := fetchRemoteConfig(cmd.Context(), preset)
		if err != nil {
			return err
		}
		if _, err := config.ParseConfigTOML(data); err != nil {
			return fmt.Errorf("parsing remote config: %w", err)
		}
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}
		fmt.Fprintf(w, "Wrote config from %s to %s\n", preset, path)

	case preset != "":
		cfg, err := config.PresetConfig(preset)
		if err != nil {
			return err
		}
		if err := saveConfig(dir, cfg); err != nil {
			return err
		}
		fmt.Fprintf(w, "Wrote %s preset to %s\n", preset, path)

	default:
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			if err := saveConfig(dir, config.NewDefaultConfig()); err != nil {
				return err
			}
		}
	}

	if existed {
		fmt.Fprintf(w, "Already initialized: %s\n", dir)
	} else {
		fmt.Fprintf(w, "Initialized .recall directory: %s\n", dir)
	}
	return nil
}

func saveConfig(dir string, cfg *config.Config) error {
	cfger, err := config.NewConfiger(dir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	return cfger.SaveConfig(cfg)
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func fetchRemoteConfig(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, remoteTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching remote config: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching remote config: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching remote config: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("fetching remote config: %w", err)
	}
	return data, nil
}
