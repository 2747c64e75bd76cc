package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/mixx99/file-transfer/internal"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Serve exposes the collector on addr under /metrics until ctx is done.
// The returned address is the bound one, useful when addr asks for port 0.
func Serve(ctx context.Context, addr string, c *TransferCollector) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.Registry(), promhttp.HandlerOpts{}))
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			internal.Warn("metrics endpoint stopped", internal.Fields{
				internal.MetricsAddress: ln.Addr().String(),
				internal.FieldError:     err.Error(),
			})
		}
	}()

	internal.Info("metrics endpoint listening", internal.Fields{
		internal.MetricsAddress: ln.Addr().String(),
	})
	return ln.Addr(), nil
}
