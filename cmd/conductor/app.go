package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/conductor/internal/config"
	"github.com/fyrsmithlabs/conductor/internal/embeddings"
	"github.com/fyrsmithlabs/conductor/internal/failover"
	"github.com/fyrsmithlabs/conductor/internal/graph"
	"github.com/fyrsmithlabs/conductor/internal/logging"
	"github.com/fyrsmithlabs/conductor/internal/memory"
	"github.com/fyrsmithlabs/conductor/internal/orchestrator"
	"github.com/fyrsmithlabs/conductor/internal/queue"
	"github.com/fyrsmithlabs/conductor/internal/secrets"
	"github.com/fyrsmithlabs/conductor/internal/sqlitedb"
	"github.com/fyrsmithlabs/conductor/internal/telemetry"
	"github.com/fyrsmithlabs/conductor/internal/worker"
	"github.com/fyrsmithlabs/conductor/internal/workflow"
)

// app holds every wired component. Build it with newApp and release it with
// Close.
type app struct {
	cfg    *config.Config
	logger *logging.Logger

	telemetry    *telemetry.Telemetry
	db           *sql.DB
	embedder     embeddings.Provider
	memory       *memory.Store
	graph        *graph.Layer
	queue        *queue.Queue
	nats         *nats.Conn
	temporal     client.Client
	orchestrator *orchestrator.Orchestrator
	engine       *workflow.Engine
	workflows    worker.WorkflowRunner
}

// appOptions adjust wiring per command.
type appOptions struct {
	// claude selects Anthropic-backed agents; it needs anthropic.api_key.
	claude bool
	// durable routes workflow tasks through Temporal.
	durable bool
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	logCfg, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		return nil, err
	}
	return logging.NewLogger(logCfg, nil)
}

// newApp initializes dependencies in order:
//  1. Telemetry and the SQLite database
//  2. Embeddings, the graph layer and the memory store
//  3. The task queue with optional Redis backend and NATS events
//  4. Agents, the orchestrator and the workflow engine
//  5. The Temporal client when durable workflows are enabled
//
// On error every component created so far is released.
func newApp(ctx context.Context, cfg *config.Config, logger *logging.Logger, opts appOptions) (a *app, err error) {
	a = &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
			a = nil
		}
	}()
	zl := logger.Underlying()

	if a.telemetry, err = telemetry.New(ctx, cfg.Telemetry); err != nil {
		return a, err
	}
	if h := a.telemetry.Health(); h.Degraded {
		logger.Warn(ctx, "telemetry degraded, continuing without export", zap.String("reason", h.Reason))
	}

	if a.db, err = sqlitedb.Open(cfg.SQLite.Path); err != nil {
		return a, err
	}

	if a.embedder, err = embeddings.NewProvider(cfg.Embeddings, zl); err != nil {
		return a, fmt.Errorf("embeddings: %w", err)
	}

	if a.graph, err = newGraph(cfg, a.db, zl); err != nil {
		return a, err
	}
	if a.memory, err = newMemory(cfg, a.db, a.embedder, a.graph, zl); err != nil {
		return a, err
	}
	logger.Info(ctx, "memory store ready",
		zap.String("primary", cfg.Memory.Primary),
		zap.String("mode", cfg.Memory.Mode),
		zap.Int("dimension", cfg.Embeddings.Dimension),
	)

	queueOpts := []queue.Option{queue.WithLogger(zl)}
	if cfg.NATS.URL != "" {
		a.nats, err = nats.Connect(cfg.NATS.URL,
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(5),
			nats.ReconnectWait(1*time.Second),
		)
		if err != nil {
			return a, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
		}
		queueOpts = append(queueOpts, queue.WithPublisher(queue.NewNATSPublisher(a.nats)))
		logger.Info(ctx, "publishing task events", zap.String("url", cfg.NATS.URL))
	}
	backend, err := newQueueBackend(cfg, a.db)
	if err != nil {
		return a, err
	}
	a.queue = queue.New(backend, queueOpts...)

	agents := orchestrator.EchoAgents()
	if opts.claude {
		if !cfg.Anthropic.APIKey.IsSet() {
			return a, errors.New("anthropic.api_key is required for claude agents")
		}
		agents, err = orchestrator.ClaudeAgents(orchestrator.ClaudeConfig{
			APIKey:     cfg.Anthropic.APIKey.Value(),
			Model:      cfg.Anthropic.Model,
			MaxTokens:  cfg.Anthropic.MaxTokens,
			BaseURL:    cfg.Anthropic.BaseURL,
			MaxRetries: 2,
		})
		if err != nil {
			return a, err
		}
	}
	orchOpts := []orchestrator.Option{
		orchestrator.WithLogger(zl),
		orchestrator.WithMemory(a.memory),
		orchestrator.WithTools(orchestrator.MemoryTools(a.memory)),
		orchestrator.WithHistory(orchestrator.NewHistory(cfg.Orchestrator.HistorySize)),
		orchestrator.WithMaxEnrichment(cfg.Orchestrator.MaxEnrichment),
		orchestrator.WithMemoryTopK(cfg.Orchestrator.MemoryTopK),
		orchestrator.WithParallelTools(cfg.Orchestrator.ParallelTools),
		orchestrator.WithAgentTimeout(cfg.Orchestrator.AgentTimeout.Duration()),
		orchestrator.WithToolTimeout(cfg.Orchestrator.ToolTimeout.Duration()),
	}
	if cfg.Orchestrator.DisableWriteBack {
		orchOpts = append(orchOpts, orchestrator.WithoutWriteBack())
	}
	if a.orchestrator, err = orchestrator.New(agents, orchOpts...); err != nil {
		return a, err
	}

	a.engine = workflow.NewEngine(
		workflow.WithLogger(zl),
		workflow.WithTaskRunner(workflow.NewQueueTaskRunner(a.queue)),
		workflow.WithAgentRunner(orchestrator.NewStepRunner(a.orchestrator)),
		workflow.WithStepTimeout(cfg.Workflow.StepTimeout.Duration()),
		workflow.WithMaxSteps(cfg.Workflow.MaxSteps),
	)
	a.workflows = a.engine

	if opts.durable {
		a.temporal, err = client.Dial(client.Options{
			HostPort:  cfg.Temporal.HostPort,
			Namespace: cfg.Temporal.Namespace,
		})
		if err != nil {
			return a, fmt.Errorf("unable to create Temporal client: %w", err)
		}
		a.workflows = workflow.NewDurableRunner(a.temporal, cfg.Temporal.TaskQueue,
			cfg.Workflow.StepTimeout.Duration(), cfg.Workflow.MaxSteps)
		logger.Info(ctx, "temporal client connected",
			zap.String("host", cfg.Temporal.HostPort),
			zap.String("task_queue", cfg.Temporal.TaskQueue),
		)
	}
	return a, nil
}

func newGraph(cfg *config.Config, db *sql.DB, zl *zap.Logger) (*graph.Layer, error) {
	mode, err := failover.ParseMode(cfg.Graph.Mode)
	if err != nil {
		return nil, err
	}
	return graph.NewLayer(
		graph.NewSQLiteBackend(db),
		graph.NewMemoryBackend(),
		failover.NewSelector("graph", mode, zl),
		graph.WithLogger(zl),
	), nil
}

func newMemory(cfg *config.Config, db *sql.DB, embedder embeddings.Embedder, linker memory.Linker, zl *zap.Logger) (*memory.Store, error) {
	mode, err := failover.ParseMode(cfg.Memory.Mode)
	if err != nil {
		return nil, err
	}

	var primary memory.Backend
	if mode != failover.ModeSecondary {
		switch cfg.Memory.Primary {
		case "qdrant":
			primary, err = memory.NewQdrantBackend(memory.QdrantConfig{
				Host:       cfg.Qdrant.Host,
				Port:       cfg.Qdrant.Port,
				UseTLS:     cfg.Qdrant.UseTLS,
				APIKey:     cfg.Qdrant.APIKey.Value(),
				Collection: cfg.Memory.Collection,
				Dimension:  cfg.Embeddings.Dimension,
			})
		case "chromem":
			primary, err = memory.NewChromemBackend(cfg.Chromem.Path, cfg.Chromem.Compress,
				cfg.Memory.Collection, cfg.Embeddings.Dimension)
		default:
			err = fmt.Errorf("unknown memory.primary %q", cfg.Memory.Primary)
		}
		if err != nil {
			return nil, fmt.Errorf("memory primary: %w", err)
		}
	}

	opts := []memory.Option{
		memory.WithLogger(zl),
		memory.WithSelector(failover.NewSelector("memory", mode, zl)),
		memory.WithLinker(linker),
	}
	if cfg.Memory.ScrubSecrets {
		allow, err := secrets.LoadAllowlist(cfg.Secrets.Allowlist)
		if err != nil {
			return nil, fmt.Errorf("secrets allowlist: %w", err)
		}
		redactor, err := secrets.NewRedactor(allow, zl)
		if err != nil {
			return nil, err
		}
		opts = append(opts, memory.WithScrubber(redactor))
	}

	secondary := memory.NewScanBackend("sqlite", memory.NewSQLiteLog(db))
	return memory.NewStore(embedder, primary, secondary, opts...)
}

func newQueueBackend(cfg *config.Config, db *sql.DB) (queue.Backend, error) {
	switch cfg.Queue.Backend {
	case "memory":
		return queue.NewMemoryBackend(), nil
	case "sqlite":
		return queue.NewSQLiteBackend(db), nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password.Value(),
			DB:       cfg.Redis.DB,
		})
		return queue.NewRedisBackend(rdb, cfg.Redis.Prefix), nil
	}
	return nil, fmt.Errorf("unknown queue.backend %q", cfg.Queue.Backend)
}

// Close releases resources in reverse order of creation.
func (a *app) Close() {
	ctx := context.Background()
	if a.temporal != nil {
		a.temporal.Close()
	}
	if a.queue != nil {
		if err := a.queue.Close(); err != nil {
			a.logger.Warn(ctx, "closing queue", zap.Error(err))
		}
	}
	if a.nats != nil {
		a.nats.Close()
	}
	if a.memory != nil {
		if err := a.memory.Close(); err != nil {
			a.logger.Warn(ctx, "closing memory store", zap.Error(err))
		}
	}
	if a.embedder != nil {
		_ = a.embedder.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
	if a.telemetry != nil {
		_ = a.telemetry.Shutdown(ctx)
	}
}
