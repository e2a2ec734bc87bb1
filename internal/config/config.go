package config

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"github.com/xxxsen/common/logger"
)

// Config is the process-wide configuration surface (spec.md §6). Every field
// has a JSON tag matching its config-file key; defaults are applied in Load.
type Config struct {
	DBPath      string             `json:"db_path"`
	LogConfig   logger.LogConfig   `json:"log_config"`
	FileStore   FileStoreConfig    `json:"file_store"`
	Embedding   EmbeddingConfig    `json:"embedding"`
	VectorStore VectorStoreConfig  `json:"vector_store"`
	Chunking    ChunkingConfig     `json:"chunking"`
	Parallel    ParallelConfig     `json:"parallel"`
	Incremental IncrementalConfig  `json:"incremental"`
	Retrieval   RetrievalConfig    `json:"retrieval"`
	Broker      BrokerConfig       `json:"broker"`
}

type FileStoreConfig struct {
	Type      string   `json:"type"`
	Dir       string   `json:"dir"`
	PublicURL string   `json:"public_url"`
	S3        S3Config `json:"s3"`
}

type S3Config struct {
	Endpoint  string `json:"endpoint"`
	SecretID  string `json:"secret_id"`
	SecretKey string `json:"secret_key"`
	Bucket    string `json:"bucket"`
	Region    string `json:"region"`
	Prefix    string `json:"prefix"`
	PublicURL string `json:"public_url"`
	UseSSL    bool   `json:"use_ssl"`
}

// EmbeddingConfig configures the Embedder Client (C4).
type EmbeddingConfig struct {
	Provider     string  `json:"embedding_provider"` // openai | dashscope | gemini | openrouter
	Model        string  `json:"embed_model"`
	Dim          int     `json:"embed_dim"`
	BatchMax     int     `json:"embed_batch_max"`
	APIKey       string  `json:"api_key"`
	BaseURL      string  `json:"base_url"`
	RateLimitRPS float64 `json:"rate_limit_rps"`
	CacheSize    int     `json:"cache_size"`
	// FallbackProviders names additional providers, tried in order, when
	// Provider's embed/generate call fails (ai.NewGroupEmbedder /
	// ai.NewGroupGenerator). Each fallback decodes the same EmbeddingConfig
	// blob as Provider, so an API key/base_url shared across providers
	// (or provider-specific env vars a given provider's factory reads
	// instead) both work.
	FallbackProviders []string `json:"fallback_providers"`
}

// VectorStoreConfig configures the Vector Index Adapter (C5).
type VectorStoreConfig struct {
	Type             string `json:"vector_store_type"` // pgvector | sqlite_vec | qdrant | memory
	Endpoint         string `json:"endpoint"`
	Collection       string `json:"collection"`
	IndexManagement  string `json:"index_management"` // CREATE_IF_NOT_EXISTS | NO_VALIDATION
	Overwrite        bool   `json:"overwrite"`
	PostgresDSN      string `json:"postgres_dsn"`
	SqliteVecPath    string `json:"sqlite_vec_path"`
	QdrantAPIKey     string `json:"qdrant_api_key"`
}

// ChunkingConfig configures the default Chunker Family (C3) selection.
type ChunkingConfig struct {
	ChunkSize               int    `json:"chunk_size"`
	ChunkOverlap            int    `json:"chunk_overlap"`
	ChunkingType            string `json:"chunking_type"`
	RespectMarkdown         bool   `json:"respect_markdown"`
	CodeSummaryTokenCeiling int    `json:"code_summary_token_ceiling"`
}

// ParallelConfig configures the Parallel/Segmented Executor (C7) and the
// use_parallel gate the Document Analyzer (C2) evaluates per spec.md §4.1:
// a plan sets use_parallel when size_bytes >= ByteThreshold or
// estimated_tokens >= TokenThreshold.
type ParallelConfig struct {
	Enabled         bool   `json:"parallel_enabled"`
	MaxWorkers      int    `json:"parallel_max_workers"`
	ChunkSize       int    `json:"parallel_chunk_size"`
	ChunkStrategy   string `json:"parallel_chunk_strategy"` // fixed_size | sentence | paragraph | semantic
	UseDistributed  bool   `json:"parallel_use_distributed"`
	MemoryEfficient bool   `json:"parallel_memory_efficient"`
	BatchSize       int    `json:"parallel_batch_size"`
	ByteThreshold   int64  `json:"parallel_byte_threshold"`
	TokenThreshold  int    `json:"parallel_token_threshold"`
}

// IncrementalConfig configures the Incremental Update Manager (C8).
type IncrementalConfig struct {
	Enabled                bool    `json:"incremental_enabled"`
	ForceReprocessThreshold float64 `json:"force_reprocess_threshold"`
}

// RetrievalConfig configures the Hybrid Retriever & Reranker (C10).
type RetrievalConfig struct {
	RerankModel  string  `json:"rerank_model"`
	RerankTopN   int     `json:"rerank_top_n"`
	WVector      float64 `json:"w_vector"`
	WLexical     float64 `json:"w_lexical"`
	QueryRewrite bool    `json:"query_rewrite"`
	RewriteCount int     `json:"rewrite_count"`
}

// BrokerConfig configures the Task Broker Interface (C9).
type BrokerConfig struct {
	BrokerURL               string `json:"broker_url"`
	ResultBackendURL        string `json:"result_backend_url"`
	TaskTimeLimitSeconds     int    `json:"task_time_limit"`
	TaskSoftTimeLimitSeconds int    `json:"task_soft_time_limit"`
	WorkerPrefetchMultiplier int    `json:"worker_prefetch_multiplier"`
	WorkerMaxTasksPerChild   int    `json:"worker_max_tasks_per_child"`
	TaskAcksLate             bool   `json:"task_acks_late"`
	MaxRetries               int    `json:"max_retries"`
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("db_path is required")
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if err := cfg.applyFileStoreDefaults(); err != nil {
		return nil, err
	}
	cfg.applyEmbeddingDefaults()
	if err := cfg.applyVectorStoreDefaults(); err != nil {
		return nil, err
	}
	cfg.applyChunkingDefaults()
	cfg.applyParallelDefaults()
	cfg.applyIncrementalDefaults()
	cfg.applyRetrievalDefaults()
	cfg.applyBrokerDefaults()
	return &cfg, nil
}

func (c *Config) applyFileStoreDefaults() error {
	if c.FileStore.Type == "" {
		c.FileStore.Type = "local"
	}
	switch c.FileStore.Type {
	case "local":
		if c.FileStore.Dir == "" {
			return fmt.Errorf("file_store.dir is required for local store")
		}
	case "s3":
		if c.FileStore.S3.Endpoint == "" || c.FileStore.S3.Bucket == "" || c.FileStore.S3.SecretID == "" || c.FileStore.S3.SecretKey == "" {
			return fmt.Errorf("file_store.s3 endpoint/bucket/secret_id/secret_key are required for s3 store")
		}
		if c.FileStore.S3.Region == "" {
			c.FileStore.S3.Region = "cn"
		}
	default:
		return fmt.Errorf("file_store.type must be local or s3")
	}
	return nil
}

func (c *Config) applyEmbeddingDefaults() {
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "openai"
	}
	if c.Embedding.BatchMax == 0 {
		c.Embedding.BatchMax = 64
	}
	if c.Embedding.RateLimitRPS == 0 {
		c.Embedding.RateLimitRPS = 10
	}
	if c.Embedding.CacheSize == 0 {
		c.Embedding.CacheSize = 4096
	}
}

func (c *Config) applyVectorStoreDefaults() error {
	if c.VectorStore.Type == "" {
		c.VectorStore.Type = "sqlite_vec"
	}
	if c.VectorStore.IndexManagement == "" {
		c.VectorStore.IndexManagement = "CREATE_IF_NOT_EXISTS"
	}
	switch c.VectorStore.Type {
	case "pgvector", "sqlite_vec", "qdrant", "memory":
	default:
		return fmt.Errorf("vector_store.vector_store_type must be one of pgvector, sqlite_vec, qdrant, memory")
	}
	if c.VectorStore.Collection == "" {
		c.VectorStore.Collection = "kbengine_chunks"
	}
	return nil
}

func (c *Config) applyChunkingDefaults() {
	if c.Chunking.ChunkSize == 0 {
		c.Chunking.ChunkSize = 512
	}
	if c.Chunking.ChunkingType == "" {
		c.Chunking.ChunkingType = "recursive_markdown"
	}
	if c.Chunking.CodeSummaryTokenCeiling == 0 {
		c.Chunking.CodeSummaryTokenCeiling = 300
	}
}

func (c *Config) applyParallelDefaults() {
	if c.Parallel.MaxWorkers == 0 {
		if n := runtime.NumCPU() * 2; n < 32 {
			c.Parallel.MaxWorkers = n
		} else {
			c.Parallel.MaxWorkers = 32
		}
	}
	if c.Parallel.ChunkSize == 0 {
		c.Parallel.ChunkSize = 1 << 20
	}
	if c.Parallel.ChunkStrategy == "" {
		c.Parallel.ChunkStrategy = "sentence"
	}
	if c.Parallel.BatchSize == 0 {
		c.Parallel.BatchSize = 16
	}
	if c.Parallel.ByteThreshold == 0 {
		c.Parallel.ByteThreshold = 1 << 20 // 1MiB
	}
	if c.Parallel.TokenThreshold == 0 {
		c.Parallel.TokenThreshold = 100_000
	}
}

func (c *Config) applyIncrementalDefaults() {
	if c.Incremental.ForceReprocessThreshold == 0 {
		c.Incremental.ForceReprocessThreshold = 0.5
	}
}

func (c *Config) applyRetrievalDefaults() {
	if c.Retrieval.RerankTopN == 0 {
		c.Retrieval.RerankTopN = 20
	}
	if c.Retrieval.WVector == 0 && c.Retrieval.WLexical == 0 {
		c.Retrieval.WVector = 0.7
		c.Retrieval.WLexical = 0.3
	}
	if c.Retrieval.RewriteCount == 0 {
		c.Retrieval.RewriteCount = 3
	}
}

func (c *Config) applyBrokerDefaults() {
	if c.Broker.TaskTimeLimitSeconds == 0 {
		c.Broker.TaskTimeLimitSeconds = 300
	}
	if c.Broker.TaskSoftTimeLimitSeconds == 0 {
		c.Broker.TaskSoftTimeLimitSeconds = 240
	}
	if c.Broker.WorkerPrefetchMultiplier == 0 {
		c.Broker.WorkerPrefetchMultiplier = 1
	}
	if c.Broker.MaxRetries == 0 {
		c.Broker.MaxRetries = 3
	}
}
