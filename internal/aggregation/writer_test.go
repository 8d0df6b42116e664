package aggregation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aevon-lab/aevon-profiler/internal/core/profile"
	"github.com/aevon-lab/aevon-profiler/internal/core/serde"
	"github.com/aevon-lab/aevon-profiler/internal/core/storage"
	"github.com/aevon-lab/aevon-profiler/internal/core/storage/memory"
	"github.com/stretchr/testify/require"
	testclock "k8s.io/utils/clock/testing"
)

// flakyStore fails the first failures Puts, then delegates.
type flakyStore struct {
	storage.Store

	mu       sync.Mutex
	failures int
	puts     int
}

func (s *flakyStore) Put(ctx context.Context, cells []storage.Cell) error {
	s.mu.Lock()
	s.puts++
	fail := s.puts <= s.failures
	s.mu.Unlock()
	if fail {
		return errors.New("region server unavailable")
	}
	return s.Store.Put(ctx, cells)
}

func (s *flakyStore) attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}

func closedWindow(p *Profile, entity string, results ...Result) ClosedWindow {
	return ClosedWindow{
		Profile:     p,
		Entity:      entity,
		PeriodID:    profile.PeriodID(epoch, p.Period()),
		PeriodStart: epoch,
		Results:     results,
	}
}

func TestWriter_PersistBuildsSaltedCells(t *testing.T) {
	clk := testclock.NewFakeClock(epoch.Add(5 * time.Second))
	store := memory.New(clk)
	prof := compile(t, avgLengthDefinition())
	w := NewWriter(store, WriterOptions{SaltDivisor: 1000, Clock: clk})
	ctx := context.Background()

	require.NoError(t, w.Persist(ctx, closedWindow(prof, "10.0.0.1", Result{Qualifier: "value", Value: 20.0})))
	require.Equal(t, 1, w.Pending())
	require.NoError(t, w.Flush(ctx))
	require.Equal(t, 0, w.Pending())

	key := storage.RowKeyBuilder{SaltDivisor: 1000}.Build("avg-length", "10.0.0.1", profile.PeriodID(epoch, 5*time.Second))
	cells, err := store.Get(ctx, "P", key)
	require.NoError(t, err)
	require.Len(t, cells, 1)
	require.Equal(t, "value", cells[0].Qualifier)
	require.Equal(t, clk.Now().Add(time.Minute), cells[0].ExpiresAt)

	v, err := serde.Decode(cells[0].Value)
	require.NoError(t, err)
	require.Equal(t, 20.0, v)
}

func TestWriter_SkipsNullAndRejectsBadValues(t *testing.T) {
	def := avgLengthDefinition()
	def.ValueType = profile.ValueInteger
	prof := compile(t, def)
	w := NewWriter(memory.New(testclock.NewFakeClock(epoch)), WriterOptions{})
	ctx := context.Background()

	require.NoError(t, w.Persist(ctx, closedWindow(prof, "a", Result{Qualifier: "value", Value: nil})))
	require.Equal(t, 0, w.Pending())

	require.Error(t, w.Persist(ctx, closedWindow(prof, "a", Result{Qualifier: "value", Value: 2.5})))
	require.Equal(t, 0, w.Pending())
}

func TestWriter_BatchSizeWakesFlushLoop(t *testing.T) {
	prof := compile(t, avgLengthDefinition())
	w := NewWriter(memory.New(testclock.NewFakeClock(epoch)), WriterOptions{BatchSize: 2})
	ctx := context.Background()

	require.NoError(t, w.Persist(ctx, closedWindow(prof, "a", Result{Qualifier: "value", Value: 1.0})))
	require.Len(t, w.flushCh, 0)
	require.NoError(t, w.Persist(ctx, closedWindow(prof, "b", Result{Qualifier: "value", Value: 1.0})))
	require.Len(t, w.flushCh, 1)
}

func TestWriter_RetriesSameBatch(t *testing.T) {
	clk := testclock.NewFakeClock(epoch)
	store := &flakyStore{Store: memory.New(clk), failures: 2}
	prof := compile(t, avgLengthDefinition())
	w := NewWriter(store, WriterOptions{MaxRetries: 3, RetryInterval: time.Millisecond, Clock: clk})
	ctx := context.Background()

	require.NoError(t, w.Persist(ctx, closedWindow(prof, "a", Result{Qualifier: "value", Value: 1.0})))
	require.NoError(t, w.Flush(ctx))
	require.Equal(t, 3, store.attempts())
	require.Equal(t, 1, store.Store.(*memory.Store).Len())
}

func TestWriter_DropsAndReportsAfterRetries(t *testing.T) {
	clk := testclock.NewFakeClock(epoch)
	store := &flakyStore{Store: memory.New(clk), failures: 100}
	prof := compile(t, avgLengthDefinition())
	w := NewWriter(store, WriterOptions{MaxRetries: 2, RetryInterval: time.Millisecond, Clock: clk})
	ctx := context.Background()

	require.NoError(t, w.Persist(ctx, closedWindow(prof, "a", Result{Qualifier: "value", Value: 1.0})))
	err := w.Flush(ctx)
	var ferr *FlushError
	require.ErrorAs(t, err, &ferr)
	require.Equal(t, 1, ferr.Cells)
	require.Equal(t, 3, store.attempts(), "first attempt plus two retries")
	require.Equal(t, 0, w.Pending())

	select {
	case reported := <-w.Errors():
		require.ErrorAs(t, reported, &ferr)
	default:
		t.Fatal("dropped batch was not reported")
	}
}

func TestWriter_RunFlushesOnShutdown(t *testing.T) {
	clk := testclock.NewFakeClock(epoch)
	store := memory.New(clk)
	prof := compile(t, avgLengthDefinition())
	w := NewWriter(store, WriterOptions{FlushInterval: time.Hour, Clock: clk})
	require.NoError(t, w.Persist(context.Background(), closedWindow(prof, "a", Result{Qualifier: "value", Value: 1.0})))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("writer did not stop")
	}
	require.Equal(t, 1, store.Len())
}

func TestWriter_RunFlushesWhenBatchFills(t *testing.T) {
	clk := testclock.NewFakeClock(epoch)
	store := memory.New(clk)
	prof := compile(t, avgLengthDefinition())
	w := NewWriter(store, WriterOptions{BatchSize: 2, FlushInterval: time.Hour, Clock: clk})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	require.NoError(t, w.Persist(ctx, closedWindow(prof, "a", Result{Qualifier: "value", Value: 1.0})))
	require.NoError(t, w.Persist(ctx, closedWindow(prof, "b", Result{Qualifier: "value", Value: 2.0})))
	require.Eventually(t, func() bool { return store.Len() == 2 }, 5*time.Second, 10*time.Millisecond)
}
