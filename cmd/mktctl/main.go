package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/bidlink/marketplace-core/internal/app"
	"github.com/bidlink/marketplace-core/internal/config"
)

var (
	envFile  string
	logLevel string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mktctl",
		Short: "Drive the marketplace client core from the command line",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
			level, err := zerolog.ParseLevel(logLevel)
			if err != nil || logLevel == "" {
				level = zerolog.WarnLevel
			}
			zerolog.SetGlobalLevel(level)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(newLoginCmd())
	rootCmd.AddCommand(newLogoutCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newPreviewCmd())
	rootCmd.AddCommand(newContactCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newBalanceCmd())
	rootCmd.AddCommand(newChatCmd())
	rootCmd.AddCommand(newBridgeTokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openCore loads configuration and assembles the core. The caller closes it.
func openCore(ctx context.Context) (*app.App, error) {
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return app.New(ctx, cfg)
}

// withCore runs fn against a freshly opened core and closes it afterwards.
func withCore(cmd *cobra.Command, fn func(ctx context.Context, core *app.App) error) error {
	ctx := cmd.Context()
	core, err := openCore(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := core.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close client core")
		}
	}()
	return fn(ctx, core)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
