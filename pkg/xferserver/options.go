package xferserver

import (
	"net"
	"time"

	"github.com/mixx99/file-transfer/internal"
	"github.com/mixx99/file-transfer/pkg/metrics"
	"github.com/mixx99/file-transfer/pkg/transport"
)

const (
	DefaultControlReadTimeout = time.Second
	DefaultDataReadTimeout    = time.Second
)

type Options struct {
	BindAddr    string
	ControlPort int
	// Directory receives the assembled file.
	Directory string

	ControlReadTimeout time.Duration
	DataReadTimeout    time.Duration
	Transport          transport.Options

	// ReceiptDir, when set, gets a TOML receipt per finished transfer.
	ReceiptDir string
	Metrics    *metrics.TransferCollector

	// OnListening is told the bound control address before Accept.
	OnListening func(net.Addr)
}

func OptionsFromConfig(cfg *internal.ServerConfig) Options {
	topts := transport.DefaultOptions()
	if cfg.UDPReadBufferSize > 0 {
		topts.ReadBufferSize = cfg.UDPReadBufferSize
	}
	if cfg.UDPWriteBufferSize > 0 {
		topts.WriteBufferSize = cfg.UDPWriteBufferSize
	}
	return Options{
		BindAddr:           cfg.BindAddr,
		ControlPort:        cfg.ControlPort,
		Directory:          cfg.Directory,
		ControlReadTimeout: cfg.ControlReadTimeout(),
		DataReadTimeout:    cfg.DataReadTimeout(),
		Transport:          topts,
		ReceiptDir:         cfg.ReceiptDir,
	}
}

func (o Options) withDefaults() Options {
	if o.BindAddr == "" {
		o.BindAddr = "0.0.0.0"
	}
	if o.ControlReadTimeout <= 0 {
		o.ControlReadTimeout = DefaultControlReadTimeout
	}
	if o.DataReadTimeout <= 0 {
		o.DataReadTimeout = DefaultDataReadTimeout
	}
	if o.Transport.DialTimeout <= 0 {
		o.Transport = transport.DefaultOptions()
	}
	if o.Directory == "" {
		o.Directory = "."
	}
	return o
}
