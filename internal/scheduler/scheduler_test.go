package scheduler

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/nounsdev/nouners-farcaster/pkg/logging"
	"github.com/nounsdev/nouners-farcaster/pkg/monitoring"
)

func TestDispatchRunsStepsInOrder(t *testing.T) {
	var order []string
	step := func(name string, err error) Step {
		return Step{Name: name, Run: func(context.Context) error {
			order = append(order, name)
			return err
		}}
	}
	s := New(Table{
		Hourly: {step("identity", errors.New("subgraph down")), step("channel", nil)},
	}, logging.NewDiscardLogger(), nil)

	err := s.Dispatch(context.Background(), Hourly)
	require.ErrorContains(t, err, "identity: subgraph down")
	require.Equal(t, []string{"identity", "channel"}, order)
}

func TestDispatchUnknownPattern(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)

	s := New(Table{}, logger, nil)
	require.NoError(t, s.Dispatch(context.Background(), "*/5 * * * *"))
	require.Contains(t, buf.String(), "No handler for the cron schedule")
}

func TestDispatchRecordsMetrics(t *testing.T) {
	mc := monitoring.NewMetricsCollector("radar", "test", "abc")
	metrics := NewMetrics(mc)
	s := New(Table{DailyAt14: {
		{Name: "proposals", Run: func(context.Context) error { return nil }},
	}}, logging.NewDiscardLogger(), metrics)

	require.NoError(t, s.Dispatch(context.Background(), DailyAt14))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.Runs.WithLabelValues("proposals", "ok")))
}

func TestStepTimeout(t *testing.T) {
	s := New(Table{Hourly: {{Name: "slow", Run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}}}, logging.NewDiscardLogger(), nil)
	s.StepTimeout = 10 * time.Millisecond

	require.ErrorIs(t, s.Dispatch(context.Background(), Hourly), context.DeadlineExceeded)
}

func TestStartRejectsBadPattern(t *testing.T) {
	s := New(Table{"not a cron": nil}, logging.NewDiscardLogger(), nil)
	require.Error(t, s.Start(context.Background()))
}

func TestStartStopsOnCancel(t *testing.T) {
	s := New(Table{Hourly: nil}, logging.NewDiscardLogger(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, s.Start(ctx))
}

func TestTriggerDoesNotOverlapRunningSchedule(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	runs := 0
	s := New(Table{TwiceDaily: {{Name: "direct-casts", Run: func(context.Context) error {
		runs++
		close(started)
		<-release
		return nil
	}}}}, logging.NewDiscardLogger(), nil)

	dispatched := make(chan error, 1)
	go func() { dispatched <- s.Dispatch(context.Background(), TwiceDaily) }()
	<-started

	require.ErrorIs(t, s.Trigger(context.Background(), TwiceDaily), ErrAlreadyRunning)
	require.ErrorIs(t, s.Dispatch(context.Background(), TwiceDaily), ErrAlreadyRunning)

	close(release)
	require.NoError(t, <-dispatched)
	require.Equal(t, 1, runs)
}

func TestStopWaitsForTriggeredRun(t *testing.T) {
	release := make(chan struct{})
	var finished bool
	s := New(Table{Hourly: {{Name: "identity", Run: func(context.Context) error {
		<-release
		finished = true
		return nil
	}}}}, logging.NewDiscardLogger(), nil)

	require.NoError(t, s.Trigger(context.Background(), Hourly))
	require.ErrorIs(t, s.Trigger(context.Background(), "5 4 * * *"), ErrUnknownSchedule)

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()
	s.Stop()
	require.True(t, finished)
	require.ErrorIs(t, s.Trigger(context.Background(), Hourly), ErrStopped)
}
