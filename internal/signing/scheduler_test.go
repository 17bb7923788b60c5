package signing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

type countingResyncer struct {
	calls atomic.Int32
	err   error
}

func (c *countingResyncer) ResyncPending(context.Context) (int, error) {
	c.calls.Inc()
	return 0, c.err
}

func TestSchedulerRunsRepeatedly(t *testing.T) {
	r := &countingResyncer{err: errors.New("broker down")}

	s := NewScheduler(context.Background(), r, 5*time.Millisecond, 0)
	require.Eventually(t, func() bool { return r.calls.Load() >= 3 }, time.Second, time.Millisecond)
	s.Stop()

	stopped := r.calls.Load()
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, stopped, r.calls.Load())
}

func TestSchedulerWaitsInitialDelay(t *testing.T) {
	r := &countingResyncer{}

	s := NewScheduler(context.Background(), r, time.Millisecond, time.Hour)
	time.Sleep(20 * time.Millisecond)
	s.Stop()

	require.Zero(t, r.calls.Load())
}

func TestSchedulerStopsWithContext(t *testing.T) {
	r := &countingResyncer{}
	ctx, cancel := context.WithCancel(context.Background())

	s := NewScheduler(ctx, r, time.Hour, time.Hour)
	cancel()

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
