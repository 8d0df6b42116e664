package aggregation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	testclock "k8s.io/utils/clock/testing"
)

func TestScheduler_ClosesElapsedPeriodsOnWallClock(t *testing.T) {
	clk := testclock.NewFakeClock(epoch.Add(time.Second))
	prof := compile(t, avgLengthDefinition())
	store := NewStore(4)
	sink := &recordingSink{}
	p := NewProcessor([]*Profile{prof}, store, ProcessorOptions{Clock: clk})
	s := NewScheduler([]*Profile{prof}, store, sink, SchedulerOptions{TimeSource: WallTime, Clock: clk})
	ctx := context.Background()

	require.NoError(t, p.Process(ctx, message("a", int64(10))))
	require.NoError(t, p.Process(ctx, message("a", int64(30))))

	s.Tick(ctx)
	require.Empty(t, sink.windows(), "period still open")

	clk.Step(4 * time.Second) // epoch+5s: period end is exclusive
	s.Tick(ctx)
	closed := sink.windows()
	require.Len(t, closed, 1)
	require.Equal(t, "a", closed[0].Entity)
	require.Equal(t, epoch, closed[0].PeriodStart)
	require.Equal(t, []Result{{Qualifier: "value", Value: 20.0}}, closed[0].Results)
	require.Equal(t, 0, store.Len())

	// The closed period never reopens.
	err := p.Ingest(ctx, prof, "a", message("a", int64(1)), epoch.Add(time.Second))
	require.True(t, errors.Is(err, ErrLateEvent))
	require.NoError(t, p.Process(ctx, map[string]any{"ip_src_addr": "a", "length": int64(1)}))
	require.Equal(t, 1, store.Len(), "current period accepts events")
}

func TestScheduler_EventTimeWithLateness(t *testing.T) {
	clk := testclock.NewFakeClock(epoch)
	prof := compile(t, avgLengthDefinition())
	store := NewStore(4)
	sink := &recordingSink{}
	p := NewProcessor([]*Profile{prof}, store, ProcessorOptions{TimestampField: "timestamp", Clock: clk})
	s := NewScheduler([]*Profile{prof}, store, sink, SchedulerOptions{
		TimeSource: EventTime,
		Lateness:   2 * time.Second,
		Clock:      clk,
	})
	ctx := context.Background()

	at := func(host string, offset time.Duration) map[string]any {
		m := message(host, int64(4))
		m["timestamp"] = epoch.Add(offset).UnixMilli()
		return m
	}

	s.Tick(ctx)
	require.Empty(t, sink.windows(), "no events observed yet")

	require.NoError(t, p.Process(ctx, at("a", time.Second)))
	require.NoError(t, p.Process(ctx, at("b", 6*time.Second)))
	s.Tick(ctx)
	require.Empty(t, sink.windows(), "first period still within lateness")

	require.NoError(t, p.Process(ctx, at("a", 3*time.Second)), "late but within lateness")
	require.NoError(t, p.Process(ctx, at("b", 7*time.Second)))
	s.Tick(ctx)
	closed := sink.byEntity()
	require.Len(t, closed, 1)
	require.Equal(t, []Result{{Qualifier: "value", Value: 4.0}}, closed["a"].Results)

	require.NoError(t, p.Process(ctx, at("a", 2*time.Second)), "late events are dropped, not returned")
	require.Len(t, sink.windows(), 1)
}

func TestScheduler_ExpiresIdleWindowsWithoutOutput(t *testing.T) {
	clk := testclock.NewFakeClock(epoch)
	def := avgLengthDefinition()
	def.TTL = 10 * time.Second
	prof := compile(t, def)
	store := NewStore(4)
	sink := &recordingSink{}
	p := NewProcessor([]*Profile{prof}, store, ProcessorOptions{TimestampField: "timestamp", Clock: clk})
	s := NewScheduler([]*Profile{prof}, store, sink, SchedulerOptions{TimeSource: EventTime, Clock: clk})
	ctx := context.Background()

	m := message("quiet", int64(1))
	m["timestamp"] = epoch.UnixMilli()
	require.NoError(t, p.Process(ctx, m))

	clk.Step(10 * time.Second)
	s.Tick(ctx)
	require.Equal(t, 1, store.Len(), "idle for exactly the ttl")

	clk.Step(time.Second)
	s.Tick(ctx)
	require.Equal(t, 0, store.Len())
	require.Empty(t, sink.windows())
}

func TestScheduler_RunClosesOpenWindowsOnShutdown(t *testing.T) {
	clk := testclock.NewFakeClock(epoch)
	prof := compile(t, avgLengthDefinition())
	store := NewStore(4)
	sink := &recordingSink{}
	p := NewProcessor([]*Profile{prof}, store, ProcessorOptions{Clock: clk})
	s := NewScheduler([]*Profile{prof}, store, sink, SchedulerOptions{
		Interval:        time.Second,
		FlushOnShutdown: true,
		Clock:           clk,
	})

	require.NoError(t, p.Process(context.Background(), message("a", int64(8))))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	require.Len(t, sink.windows(), 1)
	require.Equal(t, 1, sink.flushes)
	require.ErrorIs(t, p.Process(context.Background(), message("a", int64(8))), ErrStopped)
}

func TestScheduler_RunTicksOnClock(t *testing.T) {
	clk := testclock.NewFakeClock(epoch)
	prof := compile(t, avgLengthDefinition())
	store := NewStore(4)
	sink := &recordingSink{}
	p := NewProcessor([]*Profile{prof}, store, ProcessorOptions{Clock: clk})
	s := NewScheduler([]*Profile{prof}, store, sink, SchedulerOptions{Interval: time.Second, Clock: clk})
	require.NoError(t, p.Process(context.Background(), message("a", int64(8))))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	require.Eventually(t, clk.HasWaiters, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		clk.Step(time.Second)
		return len(sink.windows()) == 1
	}, 5*time.Second, 10*time.Millisecond)
}
