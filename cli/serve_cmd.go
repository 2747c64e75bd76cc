package cli

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/mixx99/file-transfer/cli/output"
	"github.com/mixx99/file-transfer/internal"
	"github.com/mixx99/file-transfer/pkg/metrics"
	"github.com/mixx99/file-transfer/pkg/xferserver"
	"github.com/spf13/cobra"
)

type ServeOpts struct {
	serverConfigPath string
	receiptDir       string
	metricsAddr      string
	showMetrics      bool
}

func ServeCommand() *cobra.Command {
	var opts ServeOpts

	cmd := &cobra.Command{
		Use:   "serve [<bind-addr> <control-port> <directory>]",
		Short: "Wait for one client and receive its file",
		Long: `Listen on the control port, accept a single client, receive its file into
the destination directory and exit. Without arguments the bind address, port
and directory come from the server config.`,
		Aliases: []string{"server", "recv"},
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 && len(args) != 3 {
				return fmt.Errorf("expected no args or <bind-addr> <control-port> <directory>, got %d", len(args))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := internal.LoadServerConfig(opts.serverConfigPath)
			if err != nil {
				return fmt.Errorf("load server config: %w", err)
			}
			if !cmd.Flags().Changed("log-level") {
				if err := internal.ConfigureLogger(cfg.LogLevel); err != nil {
					internal.Warn("invalid log level in server config, defaulting to info", internal.Fields{
						internal.FieldError: err.Error(),
					})
				}
			}

			if len(args) == 3 {
				port, err := parsePort("control-port", args[1])
				if err != nil {
					return err
				}
				cfg.BindAddr = args[0]
				cfg.ControlPort = port
				cfg.Directory = args[2]
			}
			if cmd.Flags().Changed("receipt-dir") {
				cfg.ReceiptDir = opts.receiptDir
			}
			if cmd.Flags().Changed("metrics-addr") {
				cfg.MetricsAddr = opts.metricsAddr
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			collector := metrics.NewTransferCollector("", metrics.RoleReceiver)
			if cfg.MetricsAddr != "" {
				if _, err := metrics.Serve(ctx, cfg.MetricsAddr, collector); err != nil {
					internal.Warn("metrics endpoint unavailable", internal.Fields{
						internal.MetricsAddress: cfg.MetricsAddr,
						internal.FieldError:     err.Error(),
					})
				}
			}

			printer := output.NewPrinter()
			srvOpts := xferserver.OptionsFromConfig(cfg)
			srvOpts.Metrics = collector
			srvOpts.OnListening = func(addr net.Addr) {
				printer.Info("waiting for a client", map[string]any{
					"control":   addr.String(),
					"directory": cfg.Directory,
				})
			}

			res, err := xferserver.New(srvOpts).Run(ctx)
			printer.ReceiveResult(res, err)
			if err != nil {
				return err
			}
			if opts.showMetrics {
				output.NewMetricsDisplay("Receive Metrics", collector).PrintSummary()
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.serverConfigPath, "server-config", "", "Path to the server config file (TOML)")
	cmd.Flags().StringVar(&opts.receiptDir, "receipt-dir", "", "Write a TOML receipt for the transfer into this directory")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	cmd.Flags().BoolVar(&opts.showMetrics, "metrics", false, "Print a metrics summary after the transfer")
	return cmd
}
