package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/papercomputeco/recall/pkg/dotdir"
)

// EnvPrefix prefixes every environment variable override.
const EnvPrefix = "RECALL"

// InitViper creates and returns a configured *viper.Viper.
// It sets defaults from NewDefaultConfig(), reads the config.toml file
// (if found via dotdir resolution), and binds environment variables
// with the RECALL_ prefix.
//
// Config precedence (highest to lowest):
//  1. CLI flags (once bound via BindRegisteredFlags)
//  2. Environment variables (RECALL_API_LISTEN, RECALL_LLM_PROVIDER, etc.)
//  3. config.toml file values
//  4. Defaults from NewDefaultConfig()
func InitViper(configDir string) (*viper.Viper, error) {
	v := viper.New()

	// 1. Register all defaults from NewDefaultConfig().
	setViperDefaults(v)

	// 2. Config file discovery via dotdir resolution.
	v.SetConfigName("config")
	v.SetConfigType("toml")

	ddm := dotdir.NewManager()
	target, err := ddm.Target(configDir)
	if err != nil {
		return nil, fmt.Errorf("resolving config dir: %w", err)
	}

	if target != "" {
		v.AddConfigPath(target)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found errors are fine, defaults will apply.
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	// 3. Environment variables: RECALL_STORAGE_SQLITE_PATH, RECALL_MEMORY_WORKERS, etc.
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

// setViperDefaults registers defaults from NewDefaultConfig() into viper
// using dotted-key notation. This keeps defaults.go as the single source of truth.
func setViperDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("version", d.Version)

	// Storage
	v.SetDefault("storage.provider", d.Storage.Provider)
	v.SetDefault("storage.sqlite_path", d.Storage.SQLitePath)
	v.SetDefault("storage.postgres_dsn", d.Storage.PostgresDSN)

	// Vector store
	v.SetDefault("vector_store.provider", d.VectorStore.Provider)
	v.SetDefault("vector_store.target", d.VectorStore.Target)
	v.SetDefault("vector_store.path", d.VectorStore.Path)

	// Embedding
	v.SetDefault("embedding.provider", d.Embedding.Provider)
	v.SetDefault("embedding.target", d.Embedding.Target)
	v.SetDefault("embedding.model", d.Embedding.Model)
	v.SetDefault("embedding.dimensions", d.Embedding.Dimensions)
	v.SetDefault("embedding.cache_size", d.Embedding.CacheSize)

	// LLM
	v.SetDefault("llm.provider", d.LLM.Provider)
	v.SetDefault("llm.target", d.LLM.Target)
	v.SetDefault("llm.model", d.LLM.Model)
	v.SetDefault("llm.api_key_env", d.LLM.APIKeyEnv)
	v.SetDefault("llm.timeout", d.LLM.Timeout)
	v.SetDefault("llm.rate_per_minute", d.LLM.RatePerMinute)
	v.SetDefault("llm.breaker_threshold", d.LLM.BreakerThreshold)
	v.SetDefault("llm.breaker_recovery", d.LLM.BreakerRecovery)

	// Memory
	v.SetDefault("memory.compression_threshold", d.Memory.CompressionThreshold)
	v.SetDefault("memory.relevance_threshold", d.Memory.RelevanceThreshold)
	v.SetDefault("memory.retrieval_limit", d.Memory.RetrievalLimit)
	v.SetDefault("memory.cleanup_days", d.Memory.CleanupDays)
	v.SetDefault("memory.batch_delay", d.Memory.BatchDelay)
	v.SetDefault("memory.workers", d.Memory.Workers)
	v.SetDefault("memory.queue_size", d.Memory.QueueSize)
	v.SetDefault("memory.maintenance_schedule", d.Memory.MaintenanceSchedule)
	v.SetDefault("memory.token_counter", d.Memory.TokenCounter)

	// API
	v.SetDefault("api.listen", d.API.Listen)

	// Event stream
	v.SetDefault("eventstream.provider", d.EventStream.Provider)
	v.SetDefault("eventstream.brokers", d.EventStream.Brokers)
	v.SetDefault("eventstream.topic", d.EventStream.Topic)
}

// FromViper resolves the effective Config from v, honouring the full
// flag > env > file > default precedence chain.
func FromViper(v *viper.Viper) *Config {
	var brokers []string
	for _, b := range v.GetStringSlice("eventstream.brokers") {
		brokers = append(brokers, splitList(b)...)
	}

	return &Config{
		Version: v.GetInt("version"),
		Storage: StorageConfig{
			Provider:    v.GetString("storage.provider"),
			SQLitePath:  v.GetString("storage.sqlite_path"),
			PostgresDSN: v.GetString("storage.postgres_dsn"),
		},
		VectorStore: VectorStoreConfig{
			Provider: v.GetString("vector_store.provider"),
			Target:   v.GetString("vector_store.target"),
			Path:     v.GetString("vector_store.path"),
		},
		Embedding: EmbeddingConfig{
			Provider:   v.GetString("embedding.provider"),
			Target:     v.GetString("embedding.target"),
			Model:      v.GetString("embedding.model"),
			Dimensions: v.GetUint("embedding.dimensions"),
			CacheSize:  v.GetInt64("embedding.cache_size"),
		},
		LLM: LLMConfig{
			Provider:         v.GetString("llm.provider"),
			Target:           v.GetString("llm.target"),
			Model:            v.GetString("llm.model"),
			APIKeyEnv:        v.GetString("llm.api_key_env"),
			Timeout:          v.GetDuration("llm.timeout"),
			RatePerMinute:    v.GetInt("llm.rate_per_minute"),
			BreakerThreshold: v.GetInt("llm.breaker_threshold"),
			BreakerRecovery:  v.GetDuration("llm.breaker_recovery"),
		},
		Memory: MemoryConfig{
			CompressionThreshold: v.GetInt("memory.compression_threshold"),
			RelevanceThreshold:   v.GetFloat64("memory.relevance_threshold"),
			RetrievalLimit:       v.GetInt("memory.retrieval_limit"),
			CleanupDays:          v.GetInt("memory.cleanup_days"),
			BatchDelay:           v.GetDuration("memory.batch_delay"),
			Workers:              v.GetInt("memory.workers"),
			QueueSize:            v.GetInt("memory.queue_size"),
			MaintenanceSchedule:  v.GetString("memory.maintenance_schedule"),
			TokenCounter:         v.GetString("memory.token_counter"),
		},
		API: APIConfig{
			Listen: v.GetString("api.listen"),
		},
		EventStream: EventStreamConfig{
			Provider: v.GetString("eventstream.provider"),
			Brokers:  brokers,
			Topic:    v.GetString("eventstream.topic"),
		},
	}
}

// WatchConfig re-reads config.toml whenever it changes on disk and hands the
// resolved Config to onChange. It is a no-op when no config file was found.
func WatchConfig(v *viper.Viper, logger *slog.Logger, onChange func(*Config)) {
	if v.ConfigFileUsed() == "" {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		logger.Info("config changed", "path", e.Name, "op", e.Op.String())
		onChange(FromViper(v))
	})
	v.WatchConfig()
}
