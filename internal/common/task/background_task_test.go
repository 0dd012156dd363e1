package task

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uqdispatch/uqdispatch/internal/common/uqcontext"
)

func TestBackgroundTaskManager_RunsUntilStopped(t *testing.T) {
	registry := prometheus.NewRegistry()
	manager := NewBackgroundTaskManager(uqcontext.Background(), "uq_test_", registry)

	var calls int32
	manager.Register(func(*uqcontext.Context) { atomic.AddInt32(&calls, 1) }, 10*time.Millisecond, "counter")

	time.Sleep(55 * time.Millisecond)
	assert.False(t, manager.StopAll(time.Second))

	stopped := atomic.LoadInt32(&calls)
	assert.GreaterOrEqual(t, stopped, int32(2))

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, atomic.LoadInt32(&calls))

	families, err := registry.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	assert.Equal(t, "uq_test_counter_latency_seconds", families[0].GetName())
}

func TestBackgroundTaskManager_CancelsTaskContext(t *testing.T) {
	manager := NewBackgroundTaskManager(uqcontext.Background(), "", nil)
	started := make(chan struct{})
	manager.Register(func(ctx *uqcontext.Context) {
		close(started)
		<-ctx.Done()
	}, time.Hour, "blocking")

	<-started
	assert.False(t, manager.StopAll(time.Second))
}

func TestBackgroundTaskManager_SurvivesPanic(t *testing.T) {
	manager := NewBackgroundTaskManager(uqcontext.Background(), "", nil)
	var calls int32
	manager.Register(func(*uqcontext.Context) {
		if atomic.AddInt32(&calls, 1) == 1 {
			panic("boom")
		}
	}, 5*time.Millisecond, "flaky")

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 2 }, time.Second, 5*time.Millisecond)
	assert.False(t, manager.StopAll(time.Second))
}
