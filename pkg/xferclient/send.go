package xferclient

import (
	"context"
	"fmt"
	"os"

	"github.com/mixx99/file-transfer/internal"
	"github.com/mixx99/file-transfer/pkg/transport"
)

// Send uploads opts.FilePath to the server: it loads the file, opens the TCP
// control and UDP data channels and runs a Session over them. Connection
// failures are not retried.
func Send(ctx context.Context, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	file, err := loadFile(opts.FilePath, opts.MaxFileSize)
	if err != nil {
		return nil, err
	}

	control, err := transport.DialControl(ctx, opts.ServerAddr, opts.ControlPort, opts.Transport)
	if err != nil {
		internal.Error("control connect failed", internal.Fields{
			internal.FieldAddr:  opts.ServerAddr,
			internal.FieldPort:  opts.ControlPort,
			internal.FieldError: err.Error(),
		})
		return nil, err
	}
	defer control.Close()

	data, err := transport.DialData(ctx, opts.ServerAddr, opts.DataPort, opts.Transport)
	if err != nil {
		internal.Error("data socket setup failed", internal.Fields{
			internal.FieldAddr:  opts.ServerAddr,
			internal.FieldPort:  opts.DataPort,
			internal.FieldError: err.Error(),
		})
		return nil, err
	}
	defer data.Close()

	internal.Info("connected", internal.Fields{
		internal.FieldAddr: control.RemoteAddr().String(),
		internal.FieldPort: opts.DataPort,
	})

	sess, err := NewSession(control, data, opts, file)
	if err != nil {
		return nil, err
	}
	return sess.Run(ctx)
}

func loadFile(path string, limit int64) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	if info.Size() > limit {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrFileTooLarge, path, info.Size(), limit)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}
