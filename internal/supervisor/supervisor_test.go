package supervisor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobService_RunsOnStartAndOnTick(t *testing.T) {
	var runs atomic.Int32
	svc := NewJobService(func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}, JobConfig{Name: "derive", Interval: 10 * time.Millisecond, RunOnStart: true}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, "derive", svc.String())
}

func TestJobService_FailureDoesNotStopService(t *testing.T) {
	var runs atomic.Int32
	svc := NewJobService(func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("boom")
	}, JobConfig{Name: "retrain", Interval: 5 * time.Millisecond}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Serve(ctx) }()

	require.Eventually(t, func() bool { return runs.Load() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestJobService_TimeoutBoundsRun(t *testing.T) {
	deadline := make(chan bool, 1)
	svc := NewJobService(func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		deadline <- ok
		return nil
	}, JobConfig{Name: "retrain", Interval: time.Hour, Timeout: time.Minute, RunOnStart: true}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Serve(ctx) }()

	select {
	case ok := <-deadline:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("job did not run on start")
	}
}

type fakeServer struct {
	mu       sync.Mutex
	addr     string
	stop     chan struct{}
	shutdown bool
}

func (f *fakeServer) ListenAndServe(addr string) error {
	f.mu.Lock()
	f.addr = addr
	f.mu.Unlock()
	<-f.stop
	return nil
}

func (f *fakeServer) ShutdownWithContext(context.Context) error {
	f.mu.Lock()
	f.shutdown = true
	f.mu.Unlock()
	close(f.stop)
	return nil
}

func TestHTTPService_GracefulShutdown(t *testing.T) {
	srv := &fakeServer{stop: make(chan struct{})}
	svc := NewHTTPService(srv, ":9999", time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	require.Eventually(t, func() bool {
		srv.mu.Lock()
		defer srv.mu.Unlock()
		return srv.addr == ":9999"
	}, time.Second, 5*time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.True(t, srv.shutdown)
}

func TestTree_RunsJobs(t *testing.T) {
	tree := NewTree(zerolog.Nop(), TreeConfig{})
	var runs atomic.Int32
	tree.AddJob(NewJobService(func(context.Context) error {
		runs.Add(1)
		return nil
	}, JobConfig{Name: "refresh", Interval: time.Hour, RunOnStart: true}, zerolog.Nop()))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)
	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-errCh
}
