package task

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/uqdispatch/uqdispatch/internal/common/uqcontext"
)

// Func is a unit of periodic work. The context is cancelled once the manager is stopped.
type Func func(ctx *uqcontext.Context)

// BackgroundTaskManager runs functions on a fixed interval until StopAll is called.
// Register and StopAll must be called from the same goroutine.
type BackgroundTaskManager struct {
	ctx           *uqcontext.Context
	cancel        context.CancelFunc
	metricsPrefix string
	registerer    prometheus.Registerer
	wg            sync.WaitGroup
}

// NewBackgroundTaskManager returns a manager whose tasks run under ctx. Per-task latency histograms are
// registered with registerer; a nil registerer disables them.
func NewBackgroundTaskManager(ctx *uqcontext.Context, metricsPrefix string, registerer prometheus.Registerer) *BackgroundTaskManager {
	taskCtx, cancel := uqcontext.WithCancel(ctx)
	return &BackgroundTaskManager{
		ctx:           taskCtx,
		cancel:        cancel,
		metricsPrefix: metricsPrefix,
		registerer:    registerer,
	}
}

// Register starts fn immediately and then once every interval.
func (m *BackgroundTaskManager) Register(fn Func, interval time.Duration, name string) {
	observe := func(time.Duration) {}
	if m.registerer != nil {
		histogram := promauto.With(m.registerer).NewHistogram(prometheus.HistogramOpts{
			Name:    m.metricsPrefix + name + "_latency_seconds",
			Help:    "Latency of the " + name + " background task in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
		})
		observe = func(d time.Duration) { histogram.Observe(d.Seconds()) }
	}
	ctx := uqcontext.WithLogField(m.ctx, "task", name)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			start := time.Now()
			runSafely(ctx, fn)
			observe(time.Since(start))
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
}

// StopAll cancels every task and waits up to timeout for them to exit. It returns true on timeout.
func (m *BackgroundTaskManager) StopAll(timeout time.Duration) bool {
	m.cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.wg.Wait()
	}()
	select {
	case <-done:
		return false
	case <-time.After(timeout):
		return true
	}
}

func runSafely(ctx *uqcontext.Context, fn Func) {
	defer func() {
		if r := recover(); r != nil {
			ctx.Log.Errorf("background task panicked: %v", r)
		}
	}()
	fn(ctx)
}
