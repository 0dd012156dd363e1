package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/uqdispatch/uqdispatch/internal/common/health"
	"github.com/uqdispatch/uqdispatch/internal/common/uqcontext"
)

// NewHandler serves the metrics of gatherer on /metrics and checker on /health.
func NewHandler(gatherer prometheus.Gatherer, checker health.Checker) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/health", health.NewHealthCheckHttpHandler(checker))
	return mux
}

// Serve listens on port until ctx is cancelled.
func Serve(ctx *uqcontext.Context, port uint16, handler http.Handler) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := uqcontext.WithTimeout(uqcontext.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			ctx.Log.WithError(err).Warn("metrics server did not shut down cleanly")
		}
	}()
	ctx.Log.Infof("serving metrics on port %d", port)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.WithStack(err)
	}
	return nil
}
