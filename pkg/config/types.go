package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config represents the persistent recall configuration stored as config.toml
// in the .recall/ directory. The TOML layout uses sections for logical grouping.
type Config struct {
	Version     int               `toml:"version"`
	Storage     StorageConfig     `toml:"storage"`
	VectorStore VectorStoreConfig `toml:"vector_store"`
	Embedding   EmbeddingConfig   `toml:"embedding"`
	LLM         LLMConfig         `toml:"llm"`
	Memory      MemoryConfig      `toml:"memory"`
	API         APIConfig         `toml:"api"`
	EventStream EventStreamConfig `toml:"eventstream"`
}

// StorageConfig selects the persistent memory store.
type StorageConfig struct {
	// Provider is one of sqlite, postgres or inmemory.
	Provider string `toml:"provider,omitempty"`

	// SQLitePath defaults to recall.db inside the resolved .recall/ directory.
	SQLitePath  string `toml:"sqlite_path,omitempty"`
	PostgresDSN string `toml:"postgres_dsn,omitempty"`
}

// VectorStoreConfig holds vector store settings.
type VectorStoreConfig struct {
	// Provider is one of sqlitevec, chromem or chroma.
	Provider string `toml:"provider,omitempty"`

	// Target is the chroma server URL.
	Target string `toml:"target,omitempty"`

	// Path is the on-disk location for sqlitevec and chromem. Empty keeps
	// chromem in memory.
	Path string `toml:"path,omitempty"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider   string `toml:"provider,omitempty"`
	Target     string `toml:"target,omitempty"`
	Model      string `toml:"model,omitempty"`
	Dimensions uint   `toml:"dimensions,omitempty"`
	CacheSize  int64  `toml:"cache_size,omitempty"`
}

// LLMConfig holds the completion provider used for summaries and
// relevance scoring, plus the guard applied around it.
type LLMConfig struct {
	Provider  string `toml:"provider,omitempty"`
	Target    string `toml:"target,omitempty"`
	Model     string `toml:"model,omitempty"`
	APIKeyEnv string `toml:"api_key_env,omitempty"`

	Timeout          time.Duration `toml:"timeout,omitempty"`
	RatePerMinute    int           `toml:"rate_per_minute,omitempty"`
	BreakerThreshold int           `toml:"breaker_threshold,omitempty"`
	BreakerRecovery  time.Duration `toml:"breaker_recovery,omitempty"`
}

// MemoryConfig holds memory manager and compression settings.
type MemoryConfig struct {
	CompressionThreshold int           `toml:"compression_threshold,omitempty"`
	RelevanceThreshold   float64       `toml:"relevance_threshold,omitempty"`
	RetrievalLimit       int           `toml:"retrieval_limit,omitempty"`
	CleanupDays          int           `toml:"cleanup_days,omitempty"`
	BatchDelay           time.Duration `toml:"batch_delay,omitempty"`
	Workers              int           `toml:"workers,omitempty"`
	QueueSize            int           `toml:"queue_size,omitempty"`
	MaintenanceSchedule  string        `toml:"maintenance_schedule,omitempty"`

	// TokenCounter is approx or tiktoken.
	TokenCounter string `toml:"token_counter,omitempty"`
}

// APIConfig holds API server settings.
type APIConfig struct {
	Listen string `toml:"listen,omitempty"`
}

// EventStreamConfig selects where memory lifecycle events are published.
type EventStreamConfig struct {
	// Provider is nop or kafka.
	Provider string   `toml:"provider,omitempty"`
	Brokers  []string `toml:"brokers,omitempty"`
	Topic    string   `toml:"topic,omitempty"`
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

func stringKey(field func(c *Config) *string) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return *field(c) },
		set: func(c *Config, v string) error { *field(c) = v; return nil },
	}
}

func intKey(name string, field func(c *Config) *int) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string {
			if *field(c) == 0 {
				return ""
			}
			return strconv.Itoa(*field(c))
		},
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			if n < 0 {
				return fmt.Errorf("invalid value for %s: must not be negative", name)
			}
			*field(c) = n
			return nil
		},
	}
}

func durationKey(name string, field func(c *Config) *time.Duration) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string {
			if *field(c) == 0 {
				return ""
			}
			return field(c).String()
		},
		set: func(c *Config, v string) error {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*field(c) = d
			return nil
		},
	}
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"storage.provider":     stringKey(func(c *Config) *string { return &c.Storage.Provider }),
	"storage.sqlite_path":  stringKey(func(c *Config) *string { return &c.Storage.SQLitePath }),
	"storage.postgres_dsn": stringKey(func(c *Config) *string { return &c.Storage.PostgresDSN }),

	"vector_store.provider": stringKey(func(c *Config) *string { return &c.VectorStore.Provider }),
	"vector_store.target":   stringKey(func(c *Config) *string { return &c.VectorStore.Target }),
	"vector_store.path":     stringKey(func(c *Config) *string { return &c.VectorStore.Path }),

	"embedding.provider": stringKey(func(c *Config) *string { return &c.Embedding.Provider }),
	"embedding.target":   stringKey(func(c *Config) *string { return &c.Embedding.Target }),
	"embedding.model":    stringKey(func(c *Config) *string { return &c.Embedding.Model }),
	"embedding.dimensions": {
		get: func(c *Config) string {
			if c.Embedding.Dimensions == 0 {
				return ""
			}
			return strconv.FormatUint(uint64(c.Embedding.Dimensions), 10)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value for embedding.dimensions: %w", err)
			}
			c.Embedding.Dimensions = uint(n)
			return nil
		},
	},
	"embedding.cache_size": {
		get: func(c *Config) string {
			if c.Embedding.CacheSize == 0 {
				return ""
			}
			return strconv.FormatInt(c.Embedding.CacheSize, 10)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value for embedding.cache_size: %w", err)
			}
			c.Embedding.CacheSize = n
			return nil
		},
	},

	"llm.provider":          stringKey(func(c *Config) *string { return &c.LLM.Provider }),
	"llm.target":            stringKey(func(c *Config) *string { return &c.LLM.Target }),
	"llm.model":             stringKey(func(c *Config) *string { return &c.LLM.Model }),
	"llm.api_key_env":       stringKey(func(c *Config) *string { return &c.LLM.APIKeyEnv }),
	"llm.timeout":           durationKey("llm.timeout", func(c *Config) *time.Duration { return &c.LLM.Timeout }),
	"llm.rate_per_minute":   intKey("llm.rate_per_minute", func(c *Config) *int { return &c.LLM.RatePerMinute }),
	"llm.breaker_threshold": intKey("llm.breaker_threshold", func(c *Config) *int { return &c.LLM.BreakerThreshold }),
	"llm.breaker_recovery":  durationKey("llm.breaker_recovery", func(c *Config) *time.Duration { return &c.LLM.BreakerRecovery }),

	"memory.compression_threshold": intKey("memory.compression_threshold", func(c *Config) *int { return &c.Memory.CompressionThreshold }),
	"memory.relevance_threshold": {
		get: func(c *Config) string {
			if c.Memory.RelevanceThreshold == 0 {
				return ""
			}
			return strconv.FormatFloat(c.Memory.RelevanceThreshold, 'f', -1, 64)
		},
		set: func(c *Config, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("invalid value for memory.relevance_threshold: %w", err)
			}
			if f < 0 || f > 1 {
				return fmt.Errorf("invalid value for memory.relevance_threshold: %v is outside [0, 1]", f)
			}
			c.Memory.RelevanceThreshold = f
			return nil
		},
	},
	"memory.retrieval_limit":      intKey("memory.retrieval_limit", func(c *Config) *int { return &c.Memory.RetrievalLimit }),
	"memory.cleanup_days":         intKey("memory.cleanup_days", func(c *Config) *int { return &c.Memory.CleanupDays }),
	"memory.batch_delay":          durationKey("memory.batch_delay", func(c *Config) *time.Duration { return &c.Memory.BatchDelay }),
	"memory.workers":              intKey("memory.workers", func(c *Config) *int { return &c.Memory.Workers }),
	"memory.queue_size":           intKey("memory.queue_size", func(c *Config) *int { return &c.Memory.QueueSize }),
	"memory.maintenance_schedule": stringKey(func(c *Config) *string { return &c.Memory.MaintenanceSchedule }),
	"memory.token_counter":        stringKey(func(c *Config) *string { return &c.Memory.TokenCounter }),

	"api.listen": stringKey(func(c *Config) *string { return &c.API.Listen }),

	"eventstream.provider": stringKey(func(c *Config) *string { return &c.EventStream.Provider }),
	"eventstream.brokers": {
		get: func(c *Config) string { return strings.Join(c.EventStream.Brokers, ",") },
		set: func(c *Config, v string) error {
			c.EventStream.Brokers = splitList(v)
			return nil
		},
	},
	"eventstream.topic": stringKey(func(c *Config) *string { return &c.EventStream.Topic }),
}

// splitList parses a comma separated list, dropping empty entries.
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
