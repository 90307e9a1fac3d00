// Package cmdutil holds the config, logger and engine plumbing shared by the
// recall subcommands.
package cmdutil

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/papercomputeco/recall/pkg/config"
	"github.com/papercomputeco/recall/pkg/dotdir"
	"github.com/papercomputeco/recall/pkg/engine"
	"github.com/papercomputeco/recall/pkg/logger"
)

// Persistent flag names registered on the root command.
const (
	FlagDebug     = "debug"
	FlagConfigDir = "config-dir"
)

// ErrNoSession is returned when a command needs a session and neither
// --session nor an active session is set.
var ErrNoSession = errors.New("no session given: pass --session or run \"recall session use <id>\"")

// StoreFlagValues receives the values of the registered store flags. Viper
// reads them through the bound pflags, so commands never read these fields.
type StoreFlagValues struct {
	strings map[string]*string
	dims    uint
}

// AddStoreFlags registers config.StoreFlags on cmd.
func AddStoreFlags(cmd *cobra.Command) *StoreFlagValues {
	vals := &StoreFlagValues{strings: map[string]*string{}}
	for _, key := range config.StoreFlags {
		if key == config.FlagEmbeddingDims {
			config.AddUintFlag(cmd, config.Flags, key, &vals.dims)
			continue
		}
		target := new(string)
		vals.strings[key] = target
		config.AddStringFlag(cmd, config.Flags, key, target)
	}
	return vals
}

// ConfigDir returns the --config-dir flag value.
func ConfigDir(cmd *cobra.Command) string {
	dir, _ := cmd.Flags().GetString(FlagConfigDir)
	return dir
}

// Logger returns the CLI logger honoring --debug.
func Logger(cmd *cobra.Command) *slog.Logger {
	debug, _ := cmd.Flags().GetBool(FlagDebug)
	return logger.New(
		logger.WithDebug(debug),
		logger.WithFormat(logger.FormatPretty),
		logger.WithWriter(cmd.ErrOrStderr()),
	)
}

// ServiceLogger is Logger joined with a JSON logger appending to
// .recall/recall.log. With --debug the file records carry their source
// line. The returned close func closes the log file.
func ServiceLogger(cmd *cobra.Command) (*slog.Logger, func() error, error) {
	f, err := dotdir.NewManager().OpenLog(ConfigDir(cmd))
	if err != nil {
		return nil, nil, err
	}

	debug, _ := cmd.Flags().GetBool(FlagDebug)
	file := logger.New(
		logger.WithDebug(debug),
		logger.WithFormat(logger.FormatJSON),
		logger.WithSource(debug),
		logger.WithWriter(f),
	)
	return logger.Multi(Logger(cmd), file), f.Close, nil
}

// LoadConfig resolves the configuration for cmd with flag > env > file >
// default precedence, binding the given flag registry keys.
func LoadConfig(cmd *cobra.Command, flagKeys []string) (*config.Config, *viper.Viper, error) {
	v, err := config.InitViper(ConfigDir(cmd))
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	config.BindRegisteredFlags(v, cmd, config.Flags, flagKeys)
	return config.FromViper(v), v, nil
}

// OpenEngine builds the engine for cfg with its data files under the
// resolved .recall directory.
func OpenEngine(ctx context.Context, cmd *cobra.Command, cfg *config.Config, log *slog.Logger) (*engine.Engine, error) {
	dataDir, err := dotdir.NewManager().Target(ConfigDir(cmd))
	if err != nil {
		return nil, err
	}

	e, err := engine.New(ctx, engine.Options{
		Config:  cfg,
		DataDir: dataDir,
		Logger:  log,
	})
	if err != nil {
		return nil, fmt.Errorf("starting engine: %w", err)
	}
	return e, nil
}

// ResolveSession returns explicit when set, else the active session id.
func ResolveSession(cmd *cobra.Command, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	active, err := dotdir.NewManager().LoadActiveSession(ConfigDir(cmd))
	if err != nil {
		return "", err
	}
	if active == nil {
		return "", ErrNoSession
	}
	return active.SessionID, nil
}
