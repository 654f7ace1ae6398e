package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/ghostwriter/internal/api"
	"github.com/hugo-lorenzo-mato/ghostwriter/internal/cache"
	"github.com/hugo-lorenzo-mato/ghostwriter/internal/config"
	"github.com/hugo-lorenzo-mato/ghostwriter/internal/logging"
	"github.com/hugo-lorenzo-mato/ghostwriter/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the GitHub webhook server",
	Long: `Start an HTTP server that reviews pull requests as GitHub reports them.

Point a repository webhook at /webhooks/github with content type
application/json and the "Pull requests" event. Deliveries are verified with
the shared secret from the environment variable named by
github.webhook_secret_env; the server will not start without it.

Other endpoints:
  GET    /health
  GET    /metrics                      (when metrics.enabled)
  GET    /api/v1/cache/stats
  DELETE /api/v1/cache[?agent=ID]
  DELETE /api/v1/cache/agents/{agentID}
  POST   /api/v1/cache/expired
  GET    /api/v1/limits
  GET    /api/v1/queue

Examples:
  ghostwriter serve
  ghostwriter serve --addr 127.0.0.1:9000`,
	RunE: runServe,
}

var serveAddr string

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "",
		"address to listen on (default: server.addr)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, loader, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	secret := cfg.GitHub.WebhookSecret()
	if secret == "" {
		return fmt.Errorf("webhook secret is not set (export %s)", cfg.GitHub.WebhookSecretEnv)
	}

	a, err := newApp(cfg, logger, appOptions{metrics: cfg.Metrics.Enabled})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	client, err := a.githubClient()
	if err != nil {
		return err
	}
	guard, err := a.newGuard(sinkOptions{kind: "github", gh: client})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	queue := api.NewQueue(client, service.NewReviewer(a.engine, guard, logger),
		api.WithWorkers(cfg.Server.Workers),
		api.WithQueueSize(cfg.Server.QueueSize),
		api.WithQueueLogger(logger),
		api.WithJobTimeout(cfg.Pipeline.Timeout+cfg.Pipeline.SynthesisTimeout+time.Minute),
	)
	queue.Start(ctx)

	var janitor *cache.Janitor
	if a.cache != nil {
		janitor = cache.NewJanitor(a.cache, cfg.Cache.SweepInterval)
		janitor.Start(ctx)
	}

	loader.Watch(func(next *config.Config) {
		applyReload(logger, a.cache, next)
	}, func(err error) {
		logger.Warn("config reload rejected", "error", err)
	})

	server := api.NewServer(
		api.WithLogger(logger),
		api.WithCache(a.cache),
		api.WithRateLimits(a.pipeline.Limits),
		api.WithMetrics(a.metrics),
		api.WithQueue(queue),
		api.WithWebhookSecret(secret),
	)

	addr := serveAddr
	if addr == "" {
		addr = cfg.Server.Addr
	}
	serveErr := server.ListenAndServe(ctx, addr)
	stop()

	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := queue.Stop(drainCtx); err != nil {
		logger.Warn("review queue did not drain", "pending", queue.Len(), "error", err)
	}
	if janitor != nil {
		janitor.Stop()
	}
	logger.Info("server stopped")
	return serveErr
}

// applyReload applies the settings that can change without a restart.
// Pipeline and backend changes need a restart.
func applyReload(logger *logging.Logger, c *cache.Cache, next *config.Config) {
	logger.SetLevel(next.Log.Level)
	if c != nil {
		c.SetDefaultTTL(next.Cache.DefaultTTL)
	}
	logger.Info("config reloaded", "log_level", next.Log.Level, "cache_default_ttl", next.Cache.DefaultTTL)
}
