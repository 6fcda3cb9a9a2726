// cmd/root.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/totemscrape/internal/config"
	"github.com/xkilldash9x/totemscrape/internal/observability"
)

const envPrefix = "TOTEM"

type contextKey string

const viperKey contextKey = "viper"

// NewRootCommand builds a fresh command tree. Every call owns its own viper
// instance, so tests can execute it repeatedly without shared state.
func NewRootCommand() *cobra.Command {
	v := viper.New()
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:           "totemscrape",
		Short:         "totemscrape extracts the patient queue of the Netris PACS totem view.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config.SetDefaults(v)
			if err := initializeConfig(v, cfgFile); err != nil {
				observability.InitializeLogger(fallbackLoggerConfig())
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}
			if err := v.BindPFlag("logger.level", cmd.Root().PersistentFlags().Lookup("log-level")); err != nil {
				return err
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(fallbackLoggerConfig())
				return fmt.Errorf("failed to load or validate config: %w", err)
			}
			observability.InitializeLogger(cfg.Logger())
			observability.GetLogger().Debug("Starting totemscrape", zap.String("version", Version), zap.String("command", cmd.Name()))

			cmd.SetContext(context.WithValue(cmd.Context(), viperKey, v))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			observability.Sync()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.SetVersionTemplate(`{{printf "%s version %s\n" .Name .Version}}`)

	rootCmd.AddCommand(newExtractCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newClientCmd())
	rootCmd.AddCommand(newInspectCmd())
	rootCmd.AddCommand(newParseCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

// Execute runs the command tree with a signal-aware context.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger := observability.GetLogger()
		switch {
		case errors.Is(err, context.Canceled):
			logger.Warn("Command aborted.")
		case errors.As(err, new(*ResultError)):
			logger.Warn("Command finished without a successful extraction.", zap.Error(err))
		default:
			logger.Error("Command execution failed", zap.Error(err))
		}
		observability.Sync()
		return err
	}
	return nil
}

// initializeConfig reads the config file and TOTEM_* environment variables.
func initializeConfig(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

func fallbackLoggerConfig() config.LoggerConfig {
	return config.LoggerConfig{Level: "info", Format: "console", ServiceName: "totemscrape"}
}

// viperFrom returns the instance installed by the root command.
func viperFrom(cmd *cobra.Command) (*viper.Viper, error) {
	if cmd.Context() != nil {
		if v, ok := cmd.Context().Value(viperKey).(*viper.Viper); ok {
			return v, nil
		}
	}
	return nil, errors.New("configuration not initialized")
}

// loadConfig resolves the configuration once the command's flags are bound.
func loadConfig(cmd *cobra.Command) (*viper.Viper, *config.Config, error) {
	v, err := viperFrom(cmd)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.NewConfigFromViper(v)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load or validate config: %w", err)
	}
	return v, cfg, nil
}

// bindFlags maps flag names to viper keys.
func bindFlags(cmd *cobra.Command, keys map[string]string) error {
	v, err := viperFrom(cmd)
	if err != nil {
		return err
	}
	for flag, key := range keys {
		f := cmd.Flags().Lookup(flag)
		if f == nil {
			return fmt.Errorf("unknown flag %q", flag)
		}
		if err := v.BindPFlag(key, f); err != nil {
			return err
		}
	}
	return nil
}
