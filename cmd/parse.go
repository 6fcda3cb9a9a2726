// cmd/parse.go
package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/totemscrape/internal/extraction"
	"github.com/xkilldash9x/totemscrape/internal/observability"
)

// newParseCmd creates and configures the `parse` command.
func newParseCmd() *cobra.Command {
	parseCmd := &cobra.Command{
		Use:   "parse <table_html_file>",
		Short: "Re-extracts rows from a saved table HTML artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			format, _ := cmd.Flags().GetString("format")
			format = strings.ToLower(format)
			if format != "json" && format != "csv" {
				return fmt.Errorf("unsupported format %q (want json or csv)", format)
			}
			output, _ := cmd.Flags().GetString("output")

			in, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open table markup: %w", err)
			}
			defer in.Close()

			header, rows, err := extraction.ParseTableHTML(in, cfg.Extraction().Selectors)
			if err != nil {
				return fmt.Errorf("failed to parse %s: %w", args[0], err)
			}
			observability.GetLogger().Info("Parsed saved table.",
				zap.String("file", args[0]),
				zap.Strings("columns", header),
				zap.Int("rows", len(rows)),
			)

			var w io.Writer = cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create output file: %w", err)
				}
				defer f.Close()
				w = f
			}
			if format == "csv" {
				err = extraction.WriteCSV(w, header, rows)
			} else {
				err = extraction.WriteJSON(w, rows)
			}
			if err != nil {
				return fmt.Errorf("failed to write %s output: %w", format, err)
			}
			return nil
		},
	}

	parseCmd.Flags().StringP("format", "f", "json", "output format (json or csv)")
	parseCmd.Flags().StringP("output", "o", "", "write to this file instead of stdout")
	return parseCmd
}
