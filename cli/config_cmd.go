package cli

import (
	"fmt"
	"strings"

	"github.com/mixx99/file-transfer/cli/output"
	"github.com/mixx99/file-transfer/internal"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func ConfigCommand() *cobra.Command {
	var serverConfigPath string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View or update ftransfer configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.PersistentFlags().StringVar(&serverConfigPath, "server-config", "", "Path to the server config file")
	cmd.AddCommand(configSetCommand(&serverConfigPath))
	cmd.AddCommand(configShowCommand(&serverConfigPath))
	return cmd
}

type clientFlags struct {
	serverAddr       string
	controlPort      int
	dataPort         int
	chunkSize        int
	resendDelayMs    int
	startGraceMs     int
	maxRetries       int
	maxFileSize      int64
	socketBufferSize int
	dataTOS          int
	logLevel         string
	metricsAddr      string
}

// serverFlags holds server-only settings; control-port, level and metrics
// are shared with the client flags and read back from the flag set.
type serverFlags struct {
	bindAddr      string
	directory     string
	readTimeoutMs int
	receiptDir    string
}

func configSetCommand(serverConfigPath *string) *cobra.Command {
	var target string
	var cf clientFlags
	var sf serverFlags

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Update the client or server configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			scope := strings.ToLower(strings.TrimSpace(target))
			if scope == "" {
				scope = "client"
			}
			switch scope {
			case "client":
				return updateClientConfig(cmd, cmd.Flags(), cf)
			case "server":
				return updateServerConfig(*serverConfigPath, cmd.Flags(), sf)
			default:
				return fmt.Errorf("--target must be either client or server")
			}
		},
	}

	cmd.Flags().StringVar(&target, "target", "client", "Which config to update: client or server")

	cmd.Flags().StringVar(&cf.serverAddr, "server-addr", "", "Client: default server address")
	cmd.Flags().IntVar(&cf.controlPort, "control-port", 0, "Client/server: TCP control port")
	cmd.Flags().IntVar(&cf.dataPort, "data-port", 0, "Client: UDP data port announced to the server")
	cmd.Flags().IntVar(&cf.chunkSize, "chunk-size", 0, "Client: payload bytes per datagram")
	cmd.Flags().IntVar(&cf.resendDelayMs, "resend-delay-ms", 0, "Client: wait for an ack before resending")
	cmd.Flags().IntVar(&cf.startGraceMs, "start-grace-ms", 0, "Client: wait after START before the first chunk")
	cmd.Flags().IntVar(&cf.maxRetries, "max-retries", 0, "Client: resends per chunk before failing (0 = unlimited)")
	cmd.Flags().Int64Var(&cf.maxFileSize, "max-file-size", 0, "Client: largest file accepted for sending, in bytes")
	cmd.Flags().IntVar(&cf.socketBufferSize, "socket-buffer-size", 0, "Client: UDP socket buffer size")
	cmd.Flags().IntVar(&cf.dataTOS, "data-tos", 0, "Client: IPv4 TOS byte for data datagrams")

	cmd.Flags().StringVar(&sf.bindAddr, "bind-addr", "", "Server: address to listen on")
	cmd.Flags().StringVar(&sf.directory, "directory", "", "Server: destination directory")
	cmd.Flags().IntVar(&sf.readTimeoutMs, "read-timeout-ms", 0, "Server: control and data read poll interval")
	cmd.Flags().StringVar(&sf.receiptDir, "receipt-dir", "", "Server: receipt directory (empty disables receipts)")

	cmd.Flags().StringVar(&cf.logLevel, "level", "", "Client/server: log level (info, debug, ...)")
	cmd.Flags().StringVar(&cf.metricsAddr, "metrics", "", "Client/server: Prometheus listen address (empty disables)")
	return cmd
}

func updateClientConfig(cmd *cobra.Command, flagSet *pflag.FlagSet, f clientFlags) error {
	cfg := GetClientConfig(cmd)
	if cfg == nil {
		return fmt.Errorf("client config unavailable")
	}

	changed := 0
	setString := func(name string, dst *string, v string) {
		if flagSet.Changed(name) {
			*dst = v
			changed++
		}
	}
	setInt := func(name string, dst *int, v int) {
		if flagSet.Changed(name) {
			*dst = v
			changed++
		}
	}

	setString("server-addr", &cfg.ServerAddr, f.serverAddr)
	setInt("control-port", &cfg.ControlPort, f.controlPort)
	setInt("data-port", &cfg.DataPort, f.dataPort)
	setInt("chunk-size", &cfg.ChunkSize, f.chunkSize)
	setInt("resend-delay-ms", &cfg.ResendDelayMs, f.resendDelayMs)
	setInt("start-grace-ms", &cfg.StartGraceMs, f.startGraceMs)
	setInt("max-retries", &cfg.MaxRetries, f.maxRetries)
	setInt("socket-buffer-size", &cfg.SocketBufferSize, f.socketBufferSize)
	setInt("data-tos", &cfg.DataTOS, f.dataTOS)
	setString("level", &cfg.LogLevel, f.logLevel)
	setString("metrics", &cfg.MetricsAddr, f.metricsAddr)
	if flagSet.Changed("max-file-size") {
		cfg.MaxFileSize = f.maxFileSize
		changed++
	}

	if changed == 0 {
		return fmt.Errorf("client config: no client settings given")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	path := getClientConfigPath(cmd)
	if _, err := cfg.Save(path); err != nil {
		return fmt.Errorf("saving client config: %w", err)
	}
	internal.Info("client configuration updated", internal.Fields{
		internal.ConfigPath: path,
	})
	return nil
}

func updateServerConfig(path string, flagSet *pflag.FlagSet, f serverFlags) error {
	path = strings.TrimSpace(path)
	if path == "" {
		path = internal.DefaultServerConfigPath()
	}

	cfg, err := internal.LoadServerConfig(path)
	if err != nil {
		return fmt.Errorf("load server config: %w", err)
	}

	if flagSet.Changed("bind-addr") {
		cfg.BindAddr = f.bindAddr
	}
	if flagSet.Changed("control-port") {
		port, _ := flagSet.GetInt("control-port")
		cfg.ControlPort = port
	}
	if flagSet.Changed("directory") {
		cfg.Directory = f.directory
	}
	if flagSet.Changed("read-timeout-ms") {
		if f.readTimeoutMs <= 0 {
			return fmt.Errorf("read timeout must be > 0")
		}
		cfg.ControlReadTimeoutMs = f.readTimeoutMs
		cfg.DataReadTimeoutMs = f.readTimeoutMs
	}
	if flagSet.Changed("receipt-dir") {
		cfg.ReceiptDir = f.receiptDir
	}
	if flagSet.Changed("level") {
		cfg.LogLevel, _ = flagSet.GetString("level")
	}
	if flagSet.Changed("metrics") {
		cfg.MetricsAddr, _ = flagSet.GetString("metrics")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if _, err := cfg.Save(path); err != nil {
		return fmt.Errorf("saving server config: %w", err)
	}
	internal.Info("server configuration updated", internal.Fields{
		internal.ConfigPath: path,
	})
	return nil
}

func configShowCommand(serverConfigPath *string) *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective client or server configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch strings.ToLower(strings.TrimSpace(target)) {
			case "", "client":
				cfg := GetClientConfig(cmd)
				if cfg == nil {
					return fmt.Errorf("client config unavailable")
				}
				return output.PrintSettings(getClientConfigPath(cmd), cfg)
			case "server":
				cfg, err := internal.LoadServerConfig(*serverConfigPath)
				if err != nil {
					return fmt.Errorf("load server config: %w", err)
				}
				path := *serverConfigPath
				if path == "" {
					path = internal.DefaultServerConfigPath()
				}
				return output.PrintSettings(path, cfg)
			default:
				return fmt.Errorf("--target must be either client or server")
			}
		},
	}
	cmd.Flags().StringVar(&target, "target", "client", "Which config to show: client or server")
	return cmd
}
