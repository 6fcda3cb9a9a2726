// cmd/inspect.go
package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/totemscrape/api/schemas"
	"github.com/xkilldash9x/totemscrape/internal/browser"
	"github.com/xkilldash9x/totemscrape/internal/config"
	"github.com/xkilldash9x/totemscrape/internal/extraction"
	"github.com/xkilldash9x/totemscrape/internal/observability"
	"github.com/xkilldash9x/totemscrape/internal/service"
)

const (
	inspectViewportWidth  = 800
	inspectViewportHeight = 600
)

type inspector interface {
	Inspect(ctx context.Context, creds schemas.Credentials, sc schemas.SessionConfig, hold func(context.Context) error) (extraction.InspectReport, error)
}

// newInspector is replaced in tests.
var newInspector = func(cfg config.Interface, logger *zap.Logger) (inspector, func(context.Context) error) {
	mgr := browser.NewManager(cfg.Browser(), logger)
	return service.NewEngine(cfg, mgr, logger), mgr.Shutdown
}

// newInspectCmd creates and configures the `inspect` command.
func newInspectCmd() *cobra.Command {
	inspectCmd := &cobra.Command{
		Use:   "inspect",
		Short: "Logs in with a visible browser and reports which selectors match the totem view",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return bindFlags(cmd, credentialKeys)
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
			headless, _ := cmd.Flags().GetBool("headless")
			width, _ := cmd.Flags().GetInt("viewport-width")
			height, _ := cmd.Flags().GetInt("viewport-height")
			wait, _ := cmd.Flags().GetBool("wait")
			output, _ := cmd.Flags().GetString("output")

			logger := observability.RunLogger(observability.GetLogger(), uuid.NewString(), "")
			insp, release := newInspector(cfg, logger)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), browserShutdownTimeout)
				defer cancel()
				if err := release(shutdownCtx); err != nil {
					logger.Warn("Browser shutdown did not complete.", zap.Error(err))
				}
			}()

			var hold func(context.Context) error
			if wait {
				hold = waitForEnter(cmd.InOrStdin(), cmd.ErrOrStderr())
			}
			sc := schemas.SessionConfig{Headless: headless, ViewportWidth: width, ViewportHeight: height}.Normalize()
			report, err := insp.Inspect(ctx, creds, sc, hold)
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("inspection failed: %w", err)
			}
			if report.Probes == nil {
				return err
			}
			logger.Info("Inspection finished.",
				zap.Int("filters_matched", len(report.Matched(extraction.ProbeFilter))),
				zap.Int("next_controls_matched", len(report.Matched(extraction.ProbeNext))),
				zap.Int("header_selectors_matched", len(report.Matched(extraction.ProbeHeader))),
				zap.Int("row_selectors_matched", len(report.Matched(extraction.ProbeRow))),
				zap.String("pagination", report.Pagination),
			)
			if werr := writeResult(cmd, output, report); werr != nil {
				return werr
			}
			return err
		},
	}

	addCredentialFlags(inspectCmd)
	addSessionFlags(inspectCmd, false, inspectViewportWidth, inspectViewportHeight)
	inspectCmd.Flags().Bool("wait", true, "keep the browser open until Enter is pressed")
	inspectCmd.Flags().StringP("output", "o", "", "write the probe report JSON to this file instead of stdout")
	return inspectCmd
}

// waitForEnter blocks until a line is read from in or ctx ends.
func waitForEnter(in io.Reader, prompt io.Writer) func(context.Context) error {
	return func(ctx context.Context) error {
		fmt.Fprintln(prompt, "Press Enter to close the browser...")
		done := make(chan error, 1)
		go func() {
			_, err := bufio.NewReader(in).ReadString('\n')
			done <- err
		}()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-done:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
