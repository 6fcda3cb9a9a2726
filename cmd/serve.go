// cmd/serve.go
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/totemscrape/internal/api"
	"github.com/xkilldash9x/totemscrape/internal/observability"
	"github.com/xkilldash9x/totemscrape/internal/service"
)

const (
	apiName    = "PACS Imago Radiologia API"
	apiVersion = "1.0.0"
)

// componentFactory is replaced in tests.
var componentFactory = service.NewComponentFactory

// newServeCmd creates and configures the `serve` command.
func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Starts the HTTP task service",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return bindFlags(cmd, map[string]string{
				"listen":              "service.listen_addr",
				"max-concurrent-runs": "service.max_concurrent_runs",
				"task-backend":        "service.task_backend",
				"redis-addr":          "redis.addr",
				"export-dir":          "export.dir",
			})
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()
			svcCfg := cfg.Service()

			metrics := api.NewMetrics()
			components, err := componentFactory().Create(ctx, cfg, logger, service.WithObserver(metrics))
			if err != nil {
				return fmt.Errorf("failed to initialize service components: %w", err)
			}
			shutdownTimeout := svcCfg.ShutdownTimeout
			if shutdownTimeout <= 0 {
				shutdownTimeout = browserShutdownTimeout
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				components.Shutdown(shutdownCtx)
			}()

			logger.Info("Task service ready.",
				zap.String("listen_addr", svcCfg.ListenAddr),
				zap.String("task_backend", svcCfg.TaskBackend),
				zap.Int("max_concurrent_runs", svcCfg.MaxConcurrentRuns),
				zap.Bool("archive", components.DBPool != nil),
			)
			server := api.NewServer(svcCfg, api.Info{Name: apiName, Version: apiVersion}, components.Service, metrics, logger)
			if components.Archive != nil {
				server.WithRunArchive(components.Archive)
			}
			return server.Start(ctx)
		},
	}

	serveCmd.Flags().String("listen", ":8000", "address the HTTP API listens on")
	serveCmd.Flags().Int("max-concurrent-runs", 2, "maximum number of extractions running at once")
	serveCmd.Flags().String("task-backend", "memory", "task store backend (memory or redis)")
	serveCmd.Flags().String("redis-addr", "localhost:6379", "redis address for the redis task backend")
	serveCmd.Flags().String("export-dir", "artifacts", "directory for run artifacts")
	return serveCmd
}
