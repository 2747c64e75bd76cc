package cli

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/mixx99/file-transfer/cli/output"
	"github.com/mixx99/file-transfer/internal"
	"github.com/mixx99/file-transfer/pkg/chunker"
	"github.com/mixx99/file-transfer/pkg/metrics"
	"github.com/mixx99/file-transfer/pkg/xferclient"
	"github.com/spf13/cobra"
)

type SendOpts struct {
	chunkSize    int
	maxRetries   int
	startGraceMs int
	metricsAddr  string
	noProgress   bool
	showMetrics  bool
}

func SendCommand() *cobra.Command {
	var opts SendOpts

	cmd := &cobra.Command{
		Use:   "send [<server-addr> <control-port> <data-port>] <file> [<resend-delay-ms>]",
		Short: "Send a file to a waiting server",
		Long: `Send a file to a server started with "ftransfer serve".

With a single argument the server address, ports and resend delay come from
the client config. The five argument form names them all explicitly:

  ftransfer send 10.0.0.5 40000 40001 ./hello.txt 50`,
		Aliases: []string{"s", "put"},
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 && len(args) != 5 {
				return fmt.Errorf("expected <file> or <server-addr> <control-port> <data-port> <file> <resend-delay-ms>, got %d args", len(args))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg := GetClientConfig(cmd)
			if cfg == nil {
				return fmt.Errorf("client config unavailable")
			}
			runCfg := *cfg

			file := args[0]
			if len(args) == 5 {
				if err := applyPositional(&runCfg, args); err != nil {
					return err
				}
				file = args[3]
			}
			if cmd.Flags().Changed("chunk-size") {
				runCfg.ChunkSize = opts.chunkSize
			}
			if cmd.Flags().Changed("max-retries") {
				runCfg.MaxRetries = opts.maxRetries
			}
			if cmd.Flags().Changed("start-grace-ms") {
				runCfg.StartGraceMs = opts.startGraceMs
			}
			if cmd.Flags().Changed("metrics-addr") {
				runCfg.MetricsAddr = opts.metricsAddr
			}
			if err := runCfg.Validate(); err != nil {
				return err
			}

			collector := metrics.NewTransferCollector("", metrics.RoleSender)
			if runCfg.MetricsAddr != "" {
				if _, err := metrics.Serve(ctx, runCfg.MetricsAddr, collector); err != nil {
					internal.Warn("metrics endpoint unavailable", internal.Fields{
						internal.MetricsAddress: runCfg.MetricsAddr,
						internal.FieldError:     err.Error(),
					})
				}
			}

			sendOpts := xferclient.OptionsFromConfig(&runCfg, file)
			sendOpts.Metrics = collector

			printer := output.NewPrinter()
			var progress *output.TransferProgress
			if !opts.noProgress {
				if plan, err := planFor(file, runCfg.ChunkSize); err == nil {
					progress = output.NewTransferProgress(filepath.Base(file), int64(plan.Count()))
					if err := progress.Start(); err != nil {
						progress = nil
					} else {
						internal.SetLogOutput(os.Stderr)
						defer internal.SetLogOutput(os.Stdout)
						sendOpts.OnProgress = progress.Update
					}
				}
			}

			internal.Info("sending file", internal.Fields{
				internal.FieldPath: file,
				internal.FieldAddr: runCfg.ServerAddr,
				internal.FieldPort: runCfg.ControlPort,
			})
			res, err := xferclient.Send(ctx, sendOpts)
			progress.Stop()

			printer.SendResult(res, err)
			if err != nil {
				return err
			}
			if opts.showMetrics {
				output.NewMetricsDisplay("Send Metrics", collector).PrintSummary()
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&opts.chunkSize, "chunk-size", 4096, "Payload bytes per datagram")
	cmd.Flags().IntVar(&opts.maxRetries, "max-retries", 0, "Resends allowed per chunk before giving up (0 = unlimited)")
	cmd.Flags().IntVar(&opts.startGraceMs, "start-grace-ms", 500, "Wait after START before the first chunk")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during the transfer")
	cmd.Flags().BoolVar(&opts.noProgress, "no-progress", false, "Disable the progress bar")
	cmd.Flags().BoolVar(&opts.showMetrics, "metrics", false, "Print a metrics summary after the transfer")
	return cmd
}

func applyPositional(cfg *internal.ClientConfig, args []string) error {
	cfg.ServerAddr = args[0]

	controlPort, err := parsePort("control-port", args[1])
	if err != nil {
		return err
	}
	dataPort, err := parsePort("data-port", args[2])
	if err != nil {
		return err
	}
	delay, err := strconv.Atoi(args[4])
	if err != nil || delay <= 0 {
		return fmt.Errorf("resend-delay-ms must be a positive integer, got %q", args[4])
	}

	cfg.ControlPort = controlPort
	cfg.DataPort = dataPort
	cfg.ResendDelayMs = delay
	return nil
}

func parsePort(name, raw string) (int, error) {
	port, err := strconv.Atoi(raw)
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("%s must be between 1 and 65535, got %q", name, raw)
	}
	return port, nil
}

func planFor(path string, chunkSize int) (*chunker.Plan, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	return chunker.NewPlan(info.Size(), chunkSize)
}
