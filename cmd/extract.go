// cmd/extract.go
package cmd

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/totemscrape/api/schemas"
	"github.com/xkilldash9x/totemscrape/internal/browser"
	"github.com/xkilldash9x/totemscrape/internal/config"
	"github.com/xkilldash9x/totemscrape/internal/observability"
	"github.com/xkilldash9x/totemscrape/internal/service"
)

const browserShutdownTimeout = 30 * time.Second

// newExtractRunner builds the engine for one local run and the function that
// releases its browser. Tests replace it.
var newExtractRunner = func(cfg config.Interface, logger *zap.Logger) (service.Runner, func(context.Context) error) {
	mgr := browser.NewManager(cfg.Browser(), logger)
	return service.NewEngine(cfg, mgr, logger), mgr.Shutdown
}

// newExtractCmd creates and configures the `extract` command.
func newExtractCmd() *cobra.Command {
	extractCmd := &cobra.Command{
		Use:   "extract",
		Short: "Runs one extraction in a local browser and prints the result",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			keys := map[string]string{
				"headless":        "browser.headless",
				"viewport-width":  "browser.viewport_width",
				"viewport-height": "browser.viewport_height",
				"max-pages":       "extraction.max_pages",
				"export-dir":      "export.dir",
			}
			for flag, key := range credentialKeys {
				keys[flag] = key
			}
			return bindFlags(cmd, keys)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			v, cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			creds, err := credentials(v)
			if err != nil {
				return err
			}
			filters, err := filterSelection(cmd)
			if err != nil {
				return err
			}
			output, _ := cmd.Flags().GetString("output")

			runID := uuid.NewString()
			logger := observability.RunLogger(observability.GetLogger(), runID, "")
			logger.Info("Starting local extraction.", schemas.CredentialsField(creds))

			runner, release := newExtractRunner(cfg, logger)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), browserShutdownTimeout)
				defer cancel()
				if err := release(shutdownCtx); err != nil {
					logger.Warn("Browser shutdown did not complete.", zap.Error(err))
				}
			}()

			b := cfg.Browser()
			sc := schemas.SessionConfig{
				Headless:       b.Headless,
				ViewportWidth:  b.ViewportWidth,
				ViewportHeight: b.ViewportHeight,
			}.Normalize()

			result := runner.Run(ctx, creds, filters, sc)
			if err := writeResult(cmd, output, result); err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			return checkResult(result)
		},
	}

	addCredentialFlags(extractCmd)
	addSessionFlags(extractCmd, true, schemas.DefaultViewportWidth, schemas.DefaultViewportHeight)
	addFilterFlags(extractCmd)
	extractCmd.Flags().Int("max-pages", 50, "maximum number of table pages to read")
	extractCmd.Flags().String("export-dir", "artifacts", "directory for CSV, JSON, HTML, and screenshot artifacts")
	extractCmd.Flags().StringP("output", "o", "", "write the result JSON to this file instead of stdout")
	return extractCmd
}
