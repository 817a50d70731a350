package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/conductor/internal/config"
	httpserver "github.com/fyrsmithlabs/conductor/internal/http"
	"github.com/fyrsmithlabs/conductor/internal/logging"
	"github.com/fyrsmithlabs/conductor/internal/queue"
	conductorworker "github.com/fyrsmithlabs/conductor/internal/worker"
	"github.com/fyrsmithlabs/conductor/internal/workflow"
)

var (
	serveClaude bool
	servePort   int
)

func init() {
	serveCmd.Flags().BoolVar(&serveClaude, "claude", false, "use Anthropic-backed agents (needs anthropic.api_key)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "override server.port")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve status endpoints and process queued tasks",
	Long: `Start the HTTP status surface (/health, /status, /metrics) and, when
worker.enabled is set, one queue worker per configured task type.

With workflow.durable set, workflow tasks run on Temporal and this process
also hosts the Temporal worker for them.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if servePort > 0 {
			cfg.Server.Port = servePort
		}
		logger, err := newLogger(cfg)
		if err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}
		defer func() { _ = logger.Sync() }()

		return serve(ctx, cfg, logger)
	},
}

// serve blocks until ctx is cancelled or the HTTP server fails.
func serve(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	a, err := newApp(ctx, cfg, logger, appOptions{claude: serveClaude, durable: cfg.Workflow.Durable})
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer a.Close()
	zl := logger.Underlying()

	if a.temporal != nil {
		w := worker.New(a.temporal, cfg.Temporal.TaskQueue, worker.Options{})
		workflow.Register(w, a.engine)
		if err := w.Start(); err != nil {
			return fmt.Errorf("temporal worker: %w", err)
		}
		defer w.Stop()
		logger.Info(ctx, "temporal worker started", zap.String("task_queue", cfg.Temporal.TaskQueue))
	}

	var workerTypes []string
	if cfg.Worker.Enabled {
		pool := newPool(a, cfg)
		if err := pool.Start(ctx); err != nil {
			return fmt.Errorf("worker pool: %w", err)
		}
		defer pool.Stop()
		workerTypes = pool.Types()
	}

	srv, err := httpserver.NewServer(httpserver.Sources{
		Memory:  a.memory,
		Graph:   a.graph,
		Queue:   a.queue,
		Workers: workerTypes,
	}, zl, &httpserver.Config{Host: "", Port: cfg.Server.Port, Version: version})
	if err != nil {
		return err
	}

	logger.Info(ctx, "conductor serving",
		zap.Int("port", cfg.Server.Port),
		zap.Strings("workers", workerTypes),
		zap.String("queue_backend", a.queue.Backend()),
	)
	return srv.Start(ctx, cfg.Server.ShutdownTimeout.Duration())
}

// newPool registers the built-in handlers for the configured task types.
// Types without a built-in handler are still claimed and failed, so a
// misconfiguration is visible on the tasks themselves.
func newPool(a *app, cfg *config.Config) *conductorworker.Pool {
	zl := a.logger.Underlying()
	opts := []conductorworker.Option{
		conductorworker.WithLogger(zl),
		conductorworker.WithLinker(a.graph),
		conductorworker.WithPollInterval(cfg.Worker.PollInterval.Duration()),
		conductorworker.WithTaskTimeout(cfg.Worker.TaskTimeout.Duration()),
	}
	for _, t := range cfg.Worker.TaskTypes {
		switch t {
		case conductorworker.TypeWorkflow:
			opts = append(opts, conductorworker.WithHandler(t, conductorworker.WorkflowHandler(a.workflows)))
		case conductorworker.TypeOrchestrate:
			opts = append(opts, conductorworker.WithHandler(t, conductorworker.OrchestrateHandler(a.orchestrator)))
		default:
			opts = append(opts, conductorworker.WithHandler(t, conductorworker.HandlerFunc(unhandled)))
		}
	}
	return conductorworker.NewPool(a.queue, opts...)
}

func unhandled(_ context.Context, t queue.Task) error {
	return fmt.Errorf("%w: %s", conductorworker.ErrNoHandler, t.Type)
}
