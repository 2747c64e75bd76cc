package internal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mixx99/file-transfer/pkg/wire"
	"github.com/spf13/viper"
)

const configDirName = ".ftransfer"

type ClientConfig struct {
	ServerAddr           string `mapstructure:"server_addr"`
	ControlPort          int    `mapstructure:"control_port"`
	DataPort             int    `mapstructure:"data_port"`
	ChunkSize            int    `mapstructure:"chunk_size"`
	ResendDelayMs        int    `mapstructure:"resend_delay_ms"`
	StartGraceMs         int    `mapstructure:"start_grace_ms"`
	ControlReadTimeoutMs int    `mapstructure:"control_read_timeout_ms"`
	MaxRetries           int    `mapstructure:"max_retries"`
	MaxFileSize          int64  `mapstructure:"max_file_size"`
	SocketBufferSize     int    `mapstructure:"socket_buffer_size"`
	DataTOS              int    `mapstructure:"data_tos"`
	LogLevel             string `mapstructure:"log_level"`
	MetricsAddr          string `mapstructure:"metrics_addr"`
}

type ServerConfig struct {
	BindAddr             string `mapstructure:"bind_addr"`
	ControlPort          int    `mapstructure:"control_port"`
	Directory            string `mapstructure:"directory"`
	ControlReadTimeoutMs int    `mapstructure:"control_read_timeout_ms"`
	DataReadTimeoutMs    int    `mapstructure:"data_read_timeout_ms"`
	UDPReadBufferSize    int    `mapstructure:"udp_read_buffer_size"`
	UDPWriteBufferSize   int    `mapstructure:"udp_write_buffer_size"`
	ReceiptDir           string `mapstructure:"receipt_dir"`
	LogLevel             string `mapstructure:"log_level"`
	MetricsAddr          string `mapstructure:"metrics_addr"`
}

func (c *ClientConfig) ResendDelay() time.Duration {
	return time.Duration(c.ResendDelayMs) * time.Millisecond
}

func (c *ClientConfig) StartGrace() time.Duration {
	return time.Duration(c.StartGraceMs) * time.Millisecond
}

func (c *ClientConfig) ControlReadTimeout() time.Duration {
	return time.Duration(c.ControlReadTimeoutMs) * time.Millisecond
}

func (c *ServerConfig) ControlReadTimeout() time.Duration {
	return time.Duration(c.ControlReadTimeoutMs) * time.Millisecond
}

func (c *ServerConfig) DataReadTimeout() time.Duration {
	return time.Duration(c.DataReadTimeoutMs) * time.Millisecond
}

func clientDefaults(v *viper.Viper) {
	v.SetDefault("server_addr", "127.0.0.1")
	v.SetDefault("control_port", 40000)
	v.SetDefault("data_port", 40001)
	v.SetDefault("chunk_size", 4096)
	v.SetDefault("resend_delay_ms", 50)
	v.SetDefault("start_grace_ms", 500)
	v.SetDefault("control_read_timeout_ms", 1000)
	v.SetDefault("max_retries", 0)
	v.SetDefault("max_file_size", int64(1<<30))
	v.SetDefault("socket_buffer_size", 256*1024)
	v.SetDefault("data_tos", 0)
	v.SetDefault("log_level", "info")
	v.SetDefault("metrics_addr", "")
}

func serverDefaults(v *viper.Viper) {
	v.SetDefault("bind_addr", "0.0.0.0")
	v.SetDefault("control_port", 40000)
	v.SetDefault("directory", "received")
	v.SetDefault("control_read_timeout_ms", 1000)
	v.SetDefault("data_read_timeout_ms", 1000)
	v.SetDefault("udp_read_buffer_size", 256*1024)
	v.SetDefault("udp_write_buffer_size", 64*1024)
	v.SetDefault("receipt_dir", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("metrics_addr", "")
}

func LoadClientConfig(configPath string) (*ClientConfig, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	v, found, err := initViper(configPath, filepath.Join(home, configDirName), "client_config", "toml", "FTRANSFER_CLIENT")
	if err != nil {
		return nil, err
	}
	clientDefaults(v)

	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Create-on-first-run only: nothing was read, so persist the defaults.
	if !found {
		writePath := configPath
		if writePath == "" {
			writePath = filepath.Join(home, configDirName, "client_config.toml")
		}
		if _, statErr := os.Stat(writePath); errors.Is(statErr, os.ErrNotExist) {
			if _, err := cfg.Save(writePath); err != nil {
				return nil, fmt.Errorf("persist default client config: %w", err)
			}
			Info("client config written", Fields{
				ConfigPath: writePath,
			})
		}
	}
	return &cfg, nil
}

func LoadServerConfig(configPath string) (*ServerConfig, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New("failed to load users home directory: " + err.Error())
	}
	v, found, err := initViper(configPath, filepath.Join(home, configDirName), "server_config", "toml", "FTRANSFER_SERVER")
	if err != nil {
		return nil, errors.New("failed to load server config: " + err.Error())
	}
	serverDefaults(v)

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Directory = expandPath(cfg.Directory)
	cfg.ReceiptDir = expandPath(cfg.ReceiptDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if !found {
		writePath := configPath
		if writePath == "" {
			writePath = filepath.Join(home, configDirName, "server_config.toml")
		}
		if _, statErr := os.Stat(writePath); errors.Is(statErr, os.ErrNotExist) {
			if _, err := cfg.Save(writePath); err != nil {
				return nil, fmt.Errorf("persist default server config: %w", err)
			}
			Info("server config written", Fields{
				ConfigPath: writePath,
			})
		}
	}

	return &cfg, nil
}

func (c *ClientConfig) Validate() error {
	switch {
	case c.ChunkSize <= 0:
		return fmt.Errorf("chunk_size must be > 0, got %d", c.ChunkSize)
	case c.ChunkSize > wire.MaxChunkSize:
		return fmt.Errorf("chunk_size %d exceeds datagram limit %d", c.ChunkSize, wire.MaxChunkSize)
	case c.ResendDelayMs <= 0:
		return fmt.Errorf("resend_delay_ms must be > 0, got %d", c.ResendDelayMs)
	case c.ControlPort <= 0 || c.ControlPort > 65535:
		return fmt.Errorf("control_port out of range: %d", c.ControlPort)
	case c.DataPort <= 0 || c.DataPort > 65535:
		return fmt.Errorf("data_port out of range: %d", c.DataPort)
	case c.MaxRetries < 0:
		return fmt.Errorf("max_retries must be >= 0, got %d", c.MaxRetries)
	}
	return nil
}

func (c *ServerConfig) Validate() error {
	switch {
	case c.ControlPort <= 0 || c.ControlPort > 65535:
		return fmt.Errorf("control_port out of range: %d", c.ControlPort)
	case strings.TrimSpace(c.Directory) == "":
		return errors.New("directory is required")
	}
	return nil
}

// initViper reports found=false when no config file exists yet, which is not
// an error.
func initViper(configPath, defaultDir, defaultName, defaultType, envPrefix string) (*viper.Viper, bool, error) {
	v := viper.New()
	v.SetConfigType(defaultType)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(defaultDir)
		v.AddConfigPath(".")
		v.SetConfigName(defaultName)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return v, false, nil
		}
		if configPath != "" && errors.Is(err, os.ErrNotExist) {
			return v, false, nil
		}
		Error("config file unreadable", Fields{
			ConfigPath: configPath,
			FieldError: err.Error(),
		})
		return nil, false, fmt.Errorf("read config: %w", err)
	}
	return v, true, nil
}

func (c *ClientConfig) Save(path string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	if path == "" {
		path = filepath.Join(home, configDirName, "client_config.toml")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}

	v := viper.New()
	v.SetConfigType("toml")
	v.Set("server_addr", c.ServerAddr)
	v.Set("control_port", c.ControlPort)
	v.Set("data_port", c.DataPort)
	v.Set("chunk_size", c.ChunkSize)
	v.Set("resend_delay_ms", c.ResendDelayMs)
	v.Set("start_grace_ms", c.StartGraceMs)
	v.Set("control_read_timeout_ms", c.ControlReadTimeoutMs)
	v.Set("max_retries", c.MaxRetries)
	v.Set("max_file_size", c.MaxFileSize)
	v.Set("socket_buffer_size", c.SocketBufferSize)
	v.Set("data_tos", c.DataTOS)
	v.Set("log_level", c.LogLevel)
	v.Set("metrics_addr", c.MetricsAddr)

	if err := v.WriteConfigAs(path); err != nil {
		return "", fmt.Errorf("write client config: %w", err)
	}
	_ = os.Chmod(path, 0o600)
	return path, nil
}

func (c *ServerConfig) Save(path string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	if path == "" {
		path = filepath.Join(home, configDirName, "server_config.toml")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}

	v := viper.New()
	v.SetConfigType("toml")
	v.Set("bind_addr", c.BindAddr)
	v.Set("control_port", c.ControlPort)
	v.Set("directory", c.Directory)
	v.Set("control_read_timeout_ms", c.ControlReadTimeoutMs)
	v.Set("data_read_timeout_ms", c.DataReadTimeoutMs)
	v.Set("udp_read_buffer_size", c.UDPReadBufferSize)
	v.Set("udp_write_buffer_size", c.UDPWriteBufferSize)
	v.Set("receipt_dir", c.ReceiptDir)
	v.Set("log_level", c.LogLevel)
	v.Set("metrics_addr", c.MetricsAddr)

	if err := v.WriteConfigAs(path); err != nil {
		return "", fmt.Errorf("write server config: %w", err)
	}
	_ = os.Chmod(path, 0o600)
	return path, nil
}

func DefaultClientConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "client_config.toml"
	}
	return filepath.Join(home, configDirName, "client_config.toml")
}

func DefaultServerConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "server_config.toml"
	}
	return filepath.Join(home, configDirName, "server_config.toml")
}

func expandPath(p string) string {
	if p == "" {
		return p
	}
	if strings.HasPrefix(p, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return os.ExpandEnv(p)
}
