package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/uqdispatch/uqdispatch/internal/common/uqcontext"
)

// CreateContextWithShutdown returns a context that is cancelled on SIGINT or SIGTERM. A second signal
// exits the process straight away, e.g. when jobs are stuck in a slow shutdown.
func CreateContextWithShutdown(log *logrus.Entry) *uqcontext.Context {
	ctx, cancel := context.WithCancel(context.Background())
	c := make(chan os.Signal, 2)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-c:
			log.Warnf("received %s, stopping; signal again to exit immediately", sig)
			cancel()
		case <-ctx.Done():
			return
		}
		sig := <-c
		log.Errorf("received %s again, exiting", sig)
		os.Exit(130)
	}()
	return uqcontext.New(ctx, log)
}
