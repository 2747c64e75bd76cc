package xferclient

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/mixx99/file-transfer/internal"
	"github.com/mixx99/file-transfer/pkg/metrics"
	"github.com/mixx99/file-transfer/pkg/transport"
	"github.com/mixx99/file-transfer/pkg/wire"
)

const (
	DefaultChunkSize          = 4096
	DefaultResendDelay        = 50 * time.Millisecond
	DefaultStartGrace         = 500 * time.Millisecond
	DefaultControlReadTimeout = time.Second
	DefaultMaxFileSize        = int64(1 << 30)
)

var ErrFileTooLarge = errors.New("file too large")

// ProgressFunc is called from the sending goroutine after every acknowledged
// chunk.
type ProgressFunc func(acked, total uint32)

type Options struct {
	ServerAddr  string
	ControlPort int
	// DataPort is the UDP port announced in Start and targeted by chunks.
	DataPort int
	FilePath string

	ChunkSize          int
	ResendDelay        time.Duration
	StartGrace         time.Duration
	ControlReadTimeout time.Duration
	// MaxRetries bounds resends of a single chunk; 0 resends forever.
	MaxRetries  int
	MaxFileSize int64

	Transport  transport.Options
	Metrics    *metrics.TransferCollector
	OnProgress ProgressFunc
}

// OptionsFromConfig maps a loaded client config onto session options.
func OptionsFromConfig(cfg *internal.ClientConfig, filePath string) Options {
	topts := transport.DefaultOptions()
	if cfg.SocketBufferSize > 0 {
		topts.ReadBufferSize = cfg.SocketBufferSize
		topts.WriteBufferSize = cfg.SocketBufferSize
	}
	topts.TOS = cfg.DataTOS

	return Options{
		ServerAddr:         cfg.ServerAddr,
		ControlPort:        cfg.ControlPort,
		DataPort:           cfg.DataPort,
		FilePath:           filePath,
		ChunkSize:          cfg.ChunkSize,
		ResendDelay:        cfg.ResendDelay(),
		StartGrace:         cfg.StartGrace(),
		ControlReadTimeout: cfg.ControlReadTimeout(),
		MaxRetries:         cfg.MaxRetries,
		MaxFileSize:        cfg.MaxFileSize,
		Transport:          topts,
	}
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.ResendDelay <= 0 {
		o.ResendDelay = DefaultResendDelay
	}
	if o.StartGrace < 0 {
		o.StartGrace = 0
	}
	if o.ControlReadTimeout <= 0 {
		o.ControlReadTimeout = DefaultControlReadTimeout
	}
	if o.MaxFileSize <= 0 {
		o.MaxFileSize = DefaultMaxFileSize
	}
	if o.Transport.DialTimeout <= 0 {
		o.Transport = transport.DefaultOptions()
	}
	return o
}

func (o Options) validate() error {
	if o.FilePath == "" {
		return errors.New("file path is required")
	}
	if o.ChunkSize > wire.MaxChunkSize {
		return fmt.Errorf("chunk size %d exceeds datagram limit %d", o.ChunkSize, wire.MaxChunkSize)
	}
	if o.DataPort <= 0 || o.DataPort > math.MaxUint16 {
		return fmt.Errorf("data port out of range: %d", o.DataPort)
	}
	return nil
}
