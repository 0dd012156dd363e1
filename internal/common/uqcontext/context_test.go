package uqcontext

import (
	"context"
	"testing"
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/logrus/ctxlogrus"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var defaultLogger = logrus.NewEntry(logrus.New()).WithField("foo", "bar")

func TestNew(t *testing.T) {
	ctx := New(context.Background(), defaultLogger)
	require.Equal(t, defaultLogger, ctx.Log)
	require.Equal(t, context.Background(), ctx.Context)
}

func TestBackground(t *testing.T) {
	ctx := Background()
	require.Equal(t, ctx.Context, context.Background())
}

func TestFromContext(t *testing.T) {
	plain := ctxlogrus.ToContext(context.Background(), defaultLogger)
	ctx := FromContext(plain)
	assert.Equal(t, "bar", ctx.Log.Data["foo"])

	same := FromContext(ctx)
	assert.Same(t, ctx, same)

	bare := FromContext(context.Background())
	require.NotNil(t, bare.Log)
	assert.NotPanics(t, func() { bare.Log.Info("dropped") })
}

func TestWithLogField(t *testing.T) {
	ctx := WithLogField(Background(), "fish", "chips")
	require.Equal(t, context.Background(), ctx.Context)
	require.Equal(t, logrus.Fields{"fish": "chips"}, ctx.Log.Data)
}

func TestWithLogFields(t *testing.T) {
	ctx := WithLogFields(Background(), logrus.Fields{"fish": "chips", "salt": "pepper"})
	require.Equal(t, context.Background(), ctx.Context)
	require.Equal(t, logrus.Fields{"fish": "chips", "salt": "pepper"}, ctx.Log.Data)
}

func TestWithTimeout(t *testing.T) {
	ctx, cancel := WithTimeout(Background(), 100*time.Millisecond)
	defer cancel()
	testDeadline(t, ctx)
}

func TestWithCancel_KeepsLogger(t *testing.T) {
	parent := New(context.Background(), defaultLogger)
	ctx, cancel := WithCancel(parent)
	assert.Same(t, defaultLogger, ctx.Log)
	cancel()
	assert.Equal(t, context.Canceled, ctx.Err())
	assert.NoError(t, parent.Err())
}

func TestErrGroup_CancelsOnFailure(t *testing.T) {
	g, ctx := ErrGroup(Background())
	g.Go(func() error {
		return errors.New("boom")
	})
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})
	err := g.Wait()
	require.EqualError(t, err, "boom")
	assert.Error(t, ctx.Err())
}

func testDeadline(t *testing.T, c *Context) {
	t.Helper()
	timer := time.NewTimer(5 * time.Second)
	defer timer.Stop()
	select {
	case <-timer.C:
		t.Fatalf("context not timed out")
	case <-c.Done():
	}
	assert.Equal(t, context.DeadlineExceeded, c.Err())
}
