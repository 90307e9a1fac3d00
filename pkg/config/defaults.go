package config

import "time"

const (
	defaultStorageProvider = "sqlite"

	defaultVectorProvider = "chromem"

	defaultOllamaTarget        = "http://localhost:11434"
	defaultEmbeddingProvider   = "ollama"
	defaultEmbeddingModel      = "nomic-embed-text"
	defaultEmbeddingDimensions = 768
	defaultEmbeddingCacheSize  = 10_000

	defaultLLMProvider         = "ollama"
	defaultLLMModel            = "llama3.2"
	defaultLLMTimeout          = 30 * time.Second
	defaultLLMRatePerMinute    = 50
	defaultLLMBreakerThreshold = 3
	defaultLLMBreakerRecovery  = 30 * time.Second

	defaultCompressionThreshold = 8000
	defaultRelevanceThreshold   = 0.7
	defaultRetrievalLimit       = 10
	defaultCleanupDays          = 30
	defaultBatchDelay           = 500 * time.Millisecond
	defaultWorkers              = 2
	defaultQueueSize            = 256
	defaultMaintenanceSchedule  = "0 0 3 * * *"
	defaultTokenCounter         = "approx"

	defaultAPIListen = ":8081"

	defaultEventStreamProvider = "nop"
	defaultEventStreamTopic    = "recall.memory-events"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Storage: StorageConfig{
			Provider: defaultStorageProvider,
		},
		VectorStore: VectorStoreConfig{
			Provider: defaultVectorProvider,
		},
		Embedding: EmbeddingConfig{
			Provider:   defaultEmbeddingProvider,
			Target:     defaultOllamaTarget,
			Model:      defaultEmbeddingModel,
			Dimensions: defaultEmbeddingDimensions,
			CacheSize:  defaultEmbeddingCacheSize,
		},
		LLM: LLMConfig{
			Provider:         defaultLLMProvider,
			Target:           defaultOllamaTarget,
			Model:            defaultLLMModel,
			Timeout:          defaultLLMTimeout,
			RatePerMinute:    defaultLLMRatePerMinute,
			BreakerThreshold: defaultLLMBreakerThreshold,
			BreakerRecovery:  defaultLLMBreakerRecovery,
		},
		Memory: MemoryConfig{
			CompressionThreshold: defaultCompressionThreshold,
			RelevanceThreshold:   defaultRelevanceThreshold,
			RetrievalLimit:       defaultRetrievalLimit,
			CleanupDays:          defaultCleanupDays,
			BatchDelay:           defaultBatchDelay,
			Workers:              defaultWorkers,
			QueueSize:            defaultQueueSize,
			MaintenanceSchedule:  defaultMaintenanceSchedule,
			TokenCounter:         defaultTokenCounter,
		},
		API: APIConfig{
			Listen: defaultAPIListen,
		},
		EventStream: EventStreamConfig{
			Provider: defaultEventStreamProvider,
			Topic:    defaultEventStreamTopic,
		},
	}
}
