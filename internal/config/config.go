// Package config loads conductor configuration from YAML and environment.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Backend selector modes.
const (
	ModeAuto      = "auto"
	ModePrimary   = "primary"
	ModeSecondary = "secondary"
)

// Config holds the complete conductor configuration.
type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Logging      LoggingConfig      `koanf:"logging"`
	Telemetry    TelemetryConfig    `koanf:"telemetry"`
	Embeddings   EmbeddingsConfig   `koanf:"embeddings"`
	Memory       MemoryConfig       `koanf:"memory"`
	Graph        GraphConfig        `koanf:"graph"`
	Queue        QueueConfig        `koanf:"queue"`
	Worker       WorkerConfig       `koanf:"worker"`
	Orchestrator OrchestratorConfig `koanf:"orchestrator"`
	Workflow     WorkflowConfig     `koanf:"workflow"`
	Qdrant       QdrantConfig       `koanf:"qdrant"`
	Chromem      ChromemConfig      `koanf:"chromem"`
	SQLite       SQLiteConfig       `koanf:"sqlite"`
	Redis        RedisConfig        `koanf:"redis"`
	NATS         NATSConfig         `koanf:"nats"`
	Temporal     TemporalConfig     `koanf:"temporal"`
	Anthropic    AnthropicConfig    `koanf:"anthropic"`
	Secrets      SecretsConfig      `koanf:"secrets"`
}

// ServerConfig holds HTTP status server configuration.
type ServerConfig struct {
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig is the flat logging section; logging.FromSettings expands it.
type LoggingConfig struct {
	Level    string `koanf:"level"`
	Format   string `koanf:"format"`
	OTEL     bool   `koanf:"otel"`
	Sampling bool   `koanf:"sampling"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	Enabled      bool    `koanf:"enabled"`
	Endpoint     string  `koanf:"endpoint"`
	Protocol     string  `koanf:"protocol"` // grpc or http
	Insecure     bool    `koanf:"insecure"`
	ServiceName  string  `koanf:"service_name"`
	SamplingRate float64 `koanf:"sampling_rate"`
}

// EmbeddingsConfig selects and tunes the embedding provider.
type EmbeddingsConfig struct {
	Provider  string   `koanf:"provider"` // hash, remote, fastembed
	Dimension int      `koanf:"dimension"`
	RemoteURL string   `koanf:"remote_url"`
	Timeout   Duration `koanf:"timeout"`
	RateLimit float64  `koanf:"rate_limit"` // requests per second, 0 disables
	CacheSize int64    `koanf:"cache_size"` // entries, 0 disables
	Model     string   `koanf:"model"`
	CacheDir  string   `koanf:"cache_dir"`
}

// MemoryConfig configures the memory store.
type MemoryConfig struct {
	Primary      string `koanf:"primary"` // qdrant or chromem
	Mode         string `koanf:"mode"`
	Collection   string `koanf:"collection"`
	ScrubSecrets bool   `koanf:"scrub_secrets"`
}

// GraphConfig configures the graph link layer.
type GraphConfig struct {
	Mode string `koanf:"mode"`
}

// QueueConfig configures the task queue backend.
type QueueConfig struct {
	Backend string `koanf:"backend"` // memory, sqlite, redis
}

// WorkerConfig configures background queue workers.
type WorkerConfig struct {
	Enabled      bool     `koanf:"enabled"`
	TaskTypes    []string `koanf:"task_types"`
	PollInterval Duration `koanf:"poll_interval"`
	TaskTimeout  Duration `koanf:"task_timeout"`
}

// OrchestratorConfig tunes orchestration runs.
type OrchestratorConfig struct {
	MaxEnrichment    int      `koanf:"max_enrichment"`
	MemoryTopK       int      `koanf:"memory_top_k"`
	HistorySize      int      `koanf:"history_size"`
	ParallelTools    int      `koanf:"parallel_tools"` // concurrent tool calls per step, <= 1 is sequential
	AgentTimeout     Duration `koanf:"agent_timeout"`
	ToolTimeout      Duration `koanf:"tool_timeout"`
	DisableWriteBack bool     `koanf:"disable_write_back"`
}

// WorkflowConfig tunes the local step executor.
type WorkflowConfig struct {
	StepTimeout Duration `koanf:"step_timeout"`
	MaxSteps    int      `koanf:"max_steps"`
	Durable     bool     `koanf:"durable"` // route workflow tasks through Temporal
}

// QdrantConfig holds the Qdrant gRPC endpoint.
type QdrantConfig struct {
	Host   string `koanf:"host"`
	Port   int    `koanf:"port"`
	UseTLS bool   `koanf:"use_tls"`
	APIKey Secret `koanf:"api_key"`
}

// ChromemConfig holds the embedded vector DB location.
type ChromemConfig struct {
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// SQLiteConfig holds the durable store path.
type SQLiteConfig struct {
	Path string `koanf:"path"`
}

// RedisConfig holds the Redis queue connection.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password Secret `koanf:"password"`
	DB       int    `koanf:"db"`
	Prefix   string `koanf:"prefix"`
}

// NATSConfig holds the task event bus connection. Empty URL disables it.
type NATSConfig struct {
	URL string `koanf:"url"`
}

// TemporalConfig holds the Temporal frontend and task queue.
type TemporalConfig struct {
	HostPort  string `koanf:"host_port"`
	Namespace string `koanf:"namespace"`
	TaskQueue string `koanf:"task_queue"`
}

// AnthropicConfig enables Claude-backed agents when an API key is set.
type AnthropicConfig struct {
	APIKey    Secret `koanf:"api_key"`
	Model     string `koanf:"model"`
	MaxTokens int64  `koanf:"max_tokens"`
	BaseURL   string `koanf:"base_url"`
}

// SecretsConfig configures scrubbing of memory text before it is stored.
type SecretsConfig struct {
	Allowlist string `koanf:"allowlist"`
}

// Validate checks cross-field constraints. Defaults must already be applied.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Embeddings.Dimension <= 0 {
		errs = append(errs, fmt.Errorf("embeddings.dimension must be > 0"))
	}
	switch c.Embeddings.Provider {
	case "hash", "fastembed":
	case "remote":
		if c.Embeddings.RemoteURL == "" {
			errs = append(errs, fmt.Errorf("embeddings.remote_url required for remote provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown embeddings.provider %q", c.Embeddings.Provider))
	}
	switch c.Memory.Primary {
	case "qdrant", "chromem":
	default:
		errs = append(errs, fmt.Errorf("unknown memory.primary %q", c.Memory.Primary))
	}
	for name, mode := range map[string]string{"memory.mode": c.Memory.Mode, "graph.mode": c.Graph.Mode} {
		if mode != ModeAuto && mode != ModePrimary && mode != ModeSecondary {
			errs = append(errs, fmt.Errorf("%s must be auto, primary or secondary, got %q", name, mode))
		}
	}
	switch c.Queue.Backend {
	case "memory", "sqlite":
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, fmt.Errorf("redis.addr required for redis queue"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown queue.backend %q", c.Queue.Backend))
	}
	if c.Worker.Enabled && c.Worker.PollInterval.Duration() <= 0 {
		errs = append(errs, fmt.Errorf("worker.poll_interval must be > 0"))
	}
	if c.Orchestrator.MaxEnrichment <= 0 || c.Orchestrator.HistorySize <= 0 {
		errs = append(errs, fmt.Errorf("orchestrator.max_enrichment and history_size must be > 0"))
	}

	return errors.Join(errs...)
}

// applyDefaults fills zero values.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9090
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "conductor"
	}
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.SamplingRate == 0 {
		cfg.Telemetry.SamplingRate = 1.0
	}
	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = "hash"
	}
	if cfg.Embeddings.Dimension == 0 {
		cfg.Embeddings.Dimension = 256
	}
	if cfg.Embeddings.Timeout == 0 {
		cfg.Embeddings.Timeout = Duration(5 * time.Second)
	}
	if cfg.Memory.Primary == "" {
		cfg.Memory.Primary = "chromem"
	}
	if cfg.Memory.Mode == "" {
		cfg.Memory.Mode = ModeAuto
	}
	if cfg.Memory.Collection == "" {
		cfg.Memory.Collection = "conductor_memories"
	}
	if cfg.Graph.Mode == "" {
		cfg.Graph.Mode = ModeAuto
	}
	if cfg.Queue.Backend == "" {
		cfg.Queue.Backend = "sqlite"
	}
	if len(cfg.Worker.TaskTypes) == 0 {
		cfg.Worker.TaskTypes = []string{"workflow", "orchestrate"}
	}
	if cfg.Worker.PollInterval == 0 {
		cfg.Worker.PollInterval = Duration(2 * time.Second)
	}
	if cfg.Worker.TaskTimeout == 0 {
		cfg.Worker.TaskTimeout = Duration(5 * time.Minute)
	}
	if cfg.Orchestrator.MaxEnrichment == 0 {
		cfg.Orchestrator.MaxEnrichment = 20
	}
	if cfg.Orchestrator.MemoryTopK == 0 {
		cfg.Orchestrator.MemoryTopK = 5
	}
	if cfg.Orchestrator.HistorySize == 0 {
		cfg.Orchestrator.HistorySize = 10
	}
	if cfg.Orchestrator.AgentTimeout == 0 {
		cfg.Orchestrator.AgentTimeout = Duration(2 * time.Minute)
	}
	if cfg.Orchestrator.ToolTimeout == 0 {
		cfg.Orchestrator.ToolTimeout = Duration(30 * time.Second)
	}
	if cfg.Workflow.StepTimeout == 0 {
		cfg.Workflow.StepTimeout = Duration(time.Minute)
	}
	if cfg.Workflow.MaxSteps == 0 {
		cfg.Workflow.MaxSteps = 1000
	}
	if cfg.Qdrant.Host == "" {
		cfg.Qdrant.Host = "localhost"
	}
	if cfg.Qdrant.Port == 0 {
		cfg.Qdrant.Port = 6334
	}
	if cfg.SQLite.Path == "" {
		cfg.SQLite.Path = "conductor.db"
	}
	if cfg.Chromem.Path == "" {
		cfg.Chromem.Path = "chromem"
	}
	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "conductor"
	}
	if cfg.Temporal.HostPort == "" {
		cfg.Temporal.HostPort = "localhost:7233"
	}
	if cfg.Temporal.Namespace == "" {
		cfg.Temporal.Namespace = "default"
	}
	if cfg.Temporal.TaskQueue == "" {
		cfg.Temporal.TaskQueue = "conductor-workflows"
	}
	if cfg.Anthropic.MaxTokens == 0 {
		cfg.Anthropic.MaxTokens = 2048
	}
}
