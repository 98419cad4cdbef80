package framework

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func runLoop(t *testing.T, l *Loop) func() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()
	return func() {
		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("loop did not stop")
		}
	}
}

func TestLoopTimers(t *testing.T) {
	l := NewLoop()
	l.Interval = 10 * time.Millisecond
	stop := runLoop(t, l)
	defer stop()

	var lock sync.Mutex
	var order []string
	record := func(s string) func() {
		return func() {
			lock.Lock()
			order = append(order, s)
			lock.Unlock()
		}
	}
	done := make(chan struct{})
	l.AfterFunc(60*time.Millisecond, func() {
		record("late")()
		close(done)
	})
	l.AfterFunc(20*time.Millisecond, record("early"))
	cancelled := l.AfterFunc(30*time.Millisecond, record("cancelled"))
	require.True(t, cancelled.Stop())
	require.False(t, cancelled.Stop())
	l.Post(record("posted"))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer not fired")
	}
	lock.Lock()
	defer lock.Unlock()
	require.Equal(t, []string{"posted", "early", "late"}, order)
}

func TestLoopControllersShareGoroutineWithTimers(t *testing.T) {
	l := NewLoop()
	l.Interval = 5 * time.Millisecond
	var inCtl int
	ticks := make(chan struct{}, 100)
	l.AddController(PrLvSense, ControlFunc(func(ctx ControlContext) error {
		inCtl++
		select {
		case ticks <- struct{}{}:
		default:
		}
		return nil
	}))
	stop := runLoop(t, l)
	defer stop()

	fired := make(chan int, 1)
	l.AfterFunc(15*time.Millisecond, func() {
		fired <- inCtl
	})
	select {
	case n := <-fired:
		require.True(t, n > 0)
	case <-time.After(time.Second):
		t.Fatal("timer not fired")
	}
	require.NotEmpty(t, ticks)
}

func TestLoopDropsTimersOnStop(t *testing.T) {
	l := NewLoop()
	stop := runLoop(t, l)
	tm := l.AfterFunc(time.Hour, func() {})
	stop()
	require.False(t, tm.Stop())
}

func TestAggregatedError(t *testing.T) {
	var errs AggregatedError
	require.NoError(t, errs.Add(nil, nil).Aggregate())
	errs.Add(context.Canceled, nil, context.DeadlineExceeded)
	require.Len(t, errs.Errors, 2)
	require.Contains(t, errs.Aggregate().Error(), "context canceled")
}

func TestRunner(t *testing.T) {
	r := NewRunner()
	failure := errors.New("port gone")
	r.Go(
		NamedRun("waiter", RunnableFunc(func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})),
		RunnableFunc(func(context.Context) error { return failure }),
	)
	require.Equal(t, "waiter", r.Runners[0].(Named).Name())
	r.Stop()
	err := r.Wait()
	require.Error(t, err)
	require.Equal(t, []error{failure}, err.(*AggregatedError).Errors)
}

func TestAggregatedErrorUnwrap(t *testing.T) {
	var errs AggregatedError
	errs.Add(errors.New("journal closed"), context.DeadlineExceeded)
	require.True(t, errors.Is(errs.Aggregate(), context.DeadlineExceeded))
	require.Equal(t, "multiple errors:\n  journal closed\n  context deadline exceeded", errs.Error())
}
