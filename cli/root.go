package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/mixx99/file-transfer/internal"
	"github.com/spf13/cobra"
)

type ctxKey string

const (
	clientCfgKey     ctxKey = "clientConfig"
	clientCfgPathKey ctxKey = "clientConfigPath"
)

func NewRootCommand() *cobra.Command {
	var clientConfigPath string
	var logLevel string

	rootCmd := &cobra.Command{
		Use:   "ftransfer",
		Short: "ftransfer moves a single file over a TCP control and UDP data channel",
		Long: `ftransfer sends one file from a client to a server. Chunks travel as UDP
datagrams and are acknowledged one at a time over a TCP control connection;
unacknowledged chunks are resent after a fixed delay and the server checks the
assembled file against the sender's digest.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := internal.LoadClientConfig(clientConfigPath)
			if err != nil {
				return fmt.Errorf("failed to load client config: %w", err)
			}

			level := cfg.LogLevel
			if strings.TrimSpace(logLevel) != "" {
				level = logLevel
			}
			if err := internal.ConfigureLogger(level); err != nil {
				internal.Warn("invalid log level, defaulting to info", internal.Fields{
					internal.FieldError: err.Error(),
				})
			}

			cfgPath := clientConfigPath
			if strings.TrimSpace(cfgPath) == "" {
				cfgPath = internal.DefaultClientConfigPath()
			}

			ctx := context.WithValue(cmd.Context(), clientCfgKey, cfg)
			ctx = context.WithValue(ctx, clientCfgPathKey, cfgPath)
			cmd.SetContext(ctx)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&clientConfigPath, "client-config", "", "Path to the client config file (TOML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level (trace, debug, info, warn, error)")

	rootCmd.AddCommand(SendCommand())
	rootCmd.AddCommand(ServeCommand())
	rootCmd.AddCommand(ConfigCommand())
	rootCmd.AddCommand(ReceiptCommand())

	return rootCmd
}

// GetClientConfig returns the client config loaded by the root command.
func GetClientConfig(cmd *cobra.Command) *internal.ClientConfig {
	if v := cmd.Context().Value(clientCfgKey); v != nil {
		if cfg, ok := v.(*internal.ClientConfig); ok {
			return cfg
		}
	}
	return nil
}

func getClientConfigPath(cmd *cobra.Command) string {
	if v := cmd.Context().Value(clientCfgPathKey); v != nil {
		if path, ok := v.(string); ok {
			return path
		}
	}
	return ""
}
