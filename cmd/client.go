// cmd/client.go
package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/totemscrape/api/schemas"
	"github.com/xkilldash9x/totemscrape/internal/client"
	"github.com/xkilldash9x/totemscrape/internal/observability"
)

// newClientCmd creates and configures the `client` command.
func newClientCmd() *cobra.Command {
	clientCmd := &cobra.Command{
		Use:   "client",
		Short: "Submits an extraction to a running service and waits for the result",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			keys := map[string]string{
				"api-url":     "client.api_url",
				"max-retries": "client.max_retries",
				"delay":       "client.poll_delay",
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
			headless, _ := cmd.Flags().GetBool("headless")
			width, _ := cmd.Flags().GetInt("viewport-width")
			height, _ := cmd.Flags().GetInt("viewport-height")
			output, _ := cmd.Flags().GetString("output")

			clientCfg := cfg.Client()
			logger := observability.GetLogger()
			logger.Info("Submitting extraction.", zap.String("api_url", clientCfg.APIURL), schemas.CredentialsField(creds))

			c := client.New(clientCfg, logger)
			result := c.Scrape(ctx, schemas.ScrapeRequest{
				Credentials:    creds,
				FilterOptions:  filters,
				Headless:       &headless,
				ViewportWidth:  width,
				ViewportHeight: height,
			}, clientCfg.MaxRetries, clientCfg.PollDelay)

			if err := writeResult(cmd, output, result); err != nil {
				return err
			}
			return checkResult(result)
		},
	}

	clientCmd.Flags().String("api-url", "http://localhost:8000", "base URL of the task service")
	addCredentialFlags(clientCmd)
	addSessionFlags(clientCmd, true, schemas.DefaultViewportWidth, schemas.DefaultViewportHeight)
	addFilterFlags(clientCmd)
	clientCmd.Flags().StringP("output", "o", "", "write the result JSON to this file instead of stdout")
	clientCmd.Flags().Int("max-retries", client.DefaultMaxRetries, "maximum number of status polls")
	clientCmd.Flags().Duration("delay", client.DefaultPollDelay, "delay between status polls")
	return clientCmd
}
