package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/papercomputeco/recall/pkg/dotdir"
)

const (
	configFile = "config.toml"

	// v0 is the alpha version of the config
	v0 = 0

	// CurrentV is the currently supported version, points to v0
	CurrentV = v0
)

type Configer struct {
	ddm        *dotdir.Manager
	targetPath string
}

func NewConfiger(override string) (*Configer, error) {
	cfger := &Configer{}

	cfger.ddm = dotdir.NewManager()
	target, err := cfger.ddm.Target(override)
	if err != nil {
		return nil, err
	}

	// If no .recall/ directory was resolved, targetPath stays empty;
	// LoadConfig will return defaults and SaveConfig will error clearly.
	if target == "" {
		return cfger, nil
	}

	path := filepath.Join(target, configFile)
	_, err = os.Stat(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	// Always set targetPath when the directory exists so SaveConfig
	// can create or overwrite the file.
	cfger.targetPath = path

	return cfger, nil
}

// ValidConfigKeys returns the sorted list of all supported configuration key names.
func ValidConfigKeys() []string {
	keys := make([]string, 0, len(configKeys))
	for k := range configKeys {
		keys = append(keys, k)
	}

	// Return in a stable, logical order matching the TOML section layout.
	ordered := []string{
		"storage.provider",
		"storage.sqlite_path",
		"storage.postgres_dsn",
		"vector_store.provider",
		"vector_store.target",
		"vector_store.path",
		"embedding.provider",
		"embedding.target",
		"embedding.model",
		"embedding.dimensions",
		"embedding.cache_size",
		"llm.provider",
		"llm.target",
		"llm.model",
		"llm.api_key_env",
		"llm.timeout",
		"llm.rate_per_minute",
		"llm.breaker_threshold",
		"llm.breaker_recovery",
		"memory.compression_threshold",
		"memory.relevance_threshold",
		"memory.retrieval_limit",
		"memory.cleanup_days",
		"memory.batch_delay",
		"memory.workers",
		"memory.queue_size",
		"memory.maintenance_schedule",
		"memory.token_counter",
		"api.listen",
		"eventstream.provider",
		"eventstream.brokers",
		"eventstream.topic",
	}

	// Sanity: only return keys that actually exist in the map.
	result := make([]string, 0, len(ordered))
	for _, k := range ordered {
		if _, ok := configKeys[k]; ok {
			result = append(result, k)
		}
	}

	// Append any keys in the map that we missed in the ordered list.
	seen := make(map[string]bool, len(result))
	for _, k := range result {
		seen[k] = true
	}
	for _, k := range keys {
		if !seen[k] {
			result = append(result, k)
		}
	}

	return result
}

// IsValidConfigKey returns true if the given key is a supported configuration key.
func IsValidConfigKey(key string) bool {
	_, ok := configKeys[key]
	return ok
}

func (c *Configer) GetTarget() string {
	return c.targetPath
}

// LoadConfig loads the configuration from config.toml in the target .recall/ directory.
// If the file does not exist, returns DefaultConfig() so callers always receive
// a fully-populated Config with sane defaults. Fields explicitly set in the file
// override the defaults.
func (c *Configer) LoadConfig() (*Config, error) {
	if c.targetPath == "" {
		return NewDefaultConfig(), nil
	}

	data, err := os.ReadFile(c.targetPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewDefaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg, err := ParseConfigTOML(data)
	if err != nil {
		return nil, err
	}

	// Merge in defaults: fill in any zero-value fields from the loaded config
	applyDefaults(cfg)

	return cfg, nil
}

// applyDefaults fills zero-value fields in cfg with values from DefaultConfig().
func applyDefaults(cfg *Config) {
	d := NewDefaultConfig()

	if cfg.Version == 0 {
		cfg.Version = d.Version
	}

	if cfg.Storage.Provider == "" {
		cfg.Storage.Provider = d.Storage.Provider
	}

	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = d.VectorStore.Provider
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = d.Embedding.Provider
	}
	// Target and model defaults only make sense for the default provider.
	if cfg.Embedding.Target == "" && cfg.Embedding.Provider == d.Embedding.Provider {
		cfg.Embedding.Target = d.Embedding.Target
	}
	if cfg.Embedding.Model == "" && cfg.Embedding.Provider == d.Embedding.Provider {
		cfg.Embedding.Model = d.Embedding.Model
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = d.Embedding.Dimensions
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = d.Embedding.CacheSize
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = d.LLM.Provider
	}
	if cfg.LLM.Target == "" && cfg.LLM.Provider == d.LLM.Provider {
		cfg.LLM.Target = d.LLM.Target
	}
	if cfg.LLM.Model == "" && cfg.LLM.Provider == d.LLM.Provider {
		cfg.LLM.Model = d.LLM.Model
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = d.LLM.Timeout
	}
	if cfg.LLM.RatePerMinute == 0 {
		cfg.LLM.RatePerMinute = d.LLM.RatePerMinute
	}
	if cfg.LLM.BreakerThreshold == 0 {
		cfg.LLM.BreakerThreshold = d.LLM.BreakerThreshold
	}
	if cfg.LLM.BreakerRecovery == 0 {
		cfg.LLM.BreakerRecovery = d.LLM.BreakerRecovery
	}

	if cfg.Memory.CompressionThreshold == 0 {
		cfg.Memory.CompressionThreshold = d.Memory.CompressionThreshold
	}
	if cfg.Memory.RelevanceThreshold == 0 {
		cfg.Memory.RelevanceThreshold = d.Memory.RelevanceThreshold
	}
	if cfg.Memory.RetrievalLimit == 0 {
		cfg.Memory.RetrievalLimit = d.Memory.RetrievalLimit
	}
	if cfg.Memory.CleanupDays == 0 {
		cfg.Memory.CleanupDays = d.Memory.CleanupDays
	}
	if cfg.Memory.BatchDelay == 0 {
		cfg.Memory.BatchDelay = d.Memory.BatchDelay
	}
	if cfg.Memory.Workers == 0 {
		cfg.Memory.Workers = d.Memory.Workers
	}
	if cfg.Memory.QueueSize == 0 {
		cfg.Memory.QueueSize = d.Memory.QueueSize
	}
	if cfg.Memory.MaintenanceSchedule == "" {
		cfg.Memory.MaintenanceSchedule = d.Memory.MaintenanceSchedule
	}
	if cfg.Memory.TokenCounter == "" {
		cfg.Memory.TokenCounter = d.Memory.TokenCounter
	}

	if cfg.API.Listen == "" {
		cfg.API.Listen = d.API.Listen
	}

	if cfg.EventStream.Provider == "" {
		cfg.EventStream.Provider = d.EventStream.Provider
	}
	if cfg.EventStream.Topic == "" {
		cfg.EventStream.Topic = d.EventStream.Topic
	}
}

// SaveConfig persists the configuration to config.toml in the target .recall/ directory.
func (c *Configer) SaveConfig(cfg *Config) error {
	if cfg == nil {
		return errors.New("cannot save nil config")
	}

	if c.targetPath == "" {
		return errors.New("cannot save empty target path")
	}

	var buf bytes.Buffer
	encoder := toml.NewEncoder(&buf)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.WriteFile(c.targetPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}

// SetConfigValue loads the config, sets the given key to the given value, and saves it.
// Returns an error if the key is not a valid config key.
func (c *Configer) SetConfigValue(key string, value string) error {
	info, ok := configKeys[key]
	if !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}

	cfg, err := c.LoadConfig()
	if err != nil {
		return err
	}

	if err := info.set(cfg, value); err != nil {
		return err
	}

	return c.SaveConfig(cfg)
}

// GetConfigValue loads the config and returns the string representation of the given key.
// Returns an error if the key is not a valid config key.
func (c *Configer) GetConfigValue(key string) (string, error) {
	info, ok := configKeys[key]
	if !ok {
		return "", fmt.Errorf("unknown config key: %q", key)
	}

	cfg, err := c.LoadConfig()
	if err != nil {
		return "", err
	}

	return info.get(cfg), nil
}

// PresetConfig returns the defaults with the embedding and completion
// providers switched to the named preset.
// Supported presets: "openai", "anthropic", "ollama", "gemini".
// Returns an error if the preset name is not recognized.
func PresetConfig(name string) (*Config, error) {
	cfg := NewDefaultConfig()

	switch strings.ToLower(name) {
	case "ollama":
		// The defaults already target a local Ollama server.

	case "openai":
		cfg.Embedding = EmbeddingConfig{
			Provider:   "openai",
			Model:      "text-embedding-3-small",
			Dimensions: 1536,
			CacheSize:  defaultEmbeddingCacheSize,
		}
		cfg.LLM.Provider = "openai"
		cfg.LLM.Target = ""
		cfg.LLM.Model = "gpt-4o-mini"
		cfg.LLM.APIKeyEnv = "OPENAI_API_KEY"

	case "anthropic":
		// Anthropic has no embedding endpoint, keep local Ollama embeddings.
		cfg.LLM.Provider = "anthropic"
		cfg.LLM.Target = ""
		cfg.LLM.Model = "claude-3-5-haiku-latest"
		cfg.LLM.APIKeyEnv = "ANTHROPIC_API_KEY"

	case "gemini":
		cfg.Embedding = EmbeddingConfig{
			Provider:   "gollem",
			Dimensions: 768,
			CacheSize:  defaultEmbeddingCacheSize,
		}
		cfg.LLM.Provider = "gollem"
		cfg.LLM.Target = ""
		cfg.LLM.Model = ""

	default:
		return nil, fmt.Errorf("unknown preset: %q (available: %s)", name, strings.Join(ValidPresetNames(), ", "))
	}

	return cfg, nil
}

// ValidPresetNames returns the list of recognized preset names.
func ValidPresetNames() []string {
	return []string{"ollama", "openai", "anthropic", "gemini"}
}

// ParseConfigTOML parses raw TOML bytes into a Config.
// Returns an error if the version field is present and not equal to CurrentConfigVersion.
func ParseConfigTOML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config TOML: %w", err)
	}

	if cfg.Version != 0 && cfg.Version != CurrentV {
		return nil, fmt.Errorf("unsupported config version %d (expected %d)", cfg.Version, CurrentV)
	}

	return cfg, nil
}
