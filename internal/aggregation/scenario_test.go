package aggregation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aevon-lab/aevon-profiler/internal/core/profile"
	"github.com/aevon-lab/aevon-profiler/internal/core/serde"
	"github.com/aevon-lab/aevon-profiler/internal/core/storage"
	"github.com/aevon-lab/aevon-profiler/internal/core/storage/memory"
	"github.com/aevon-lab/aevon-profiler/internal/expression/celexpr"
	"github.com/aevon-lab/aevon-profiler/internal/function"
	"github.com/aevon-lab/aevon-profiler/internal/function/builtin"
	"github.com/aevon-lab/aevon-profiler/internal/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testclock "k8s.io/utils/clock/testing"
)

// countingStore records every row key written.
type countingStore struct {
	storage.Store

	mu     sync.Mutex
	writes map[string]int
}

func (s *countingStore) Put(ctx context.Context, cells []storage.Cell) error {
	s.mu.Lock()
	for _, c := range cells {
		s.writes[string(c.RowKey)+"/"+c.Qualifier]++
	}
	s.mu.Unlock()
	return s.Store.Put(ctx, cells)
}

func TestAverageLengthPerHost(t *testing.T) {
	clk := testclock.NewFakeClock(epoch.Add(500 * time.Millisecond))
	store := &countingStore{Store: memory.New(clk), writes: make(map[string]int)}
	prof := compile(t, avgLengthDefinition())
	windows := NewStore(16)
	writer := NewWriter(store, WriterOptions{SaltDivisor: 1000, BatchSize: 100, Clock: clk})
	proc := NewProcessor([]*Profile{prof}, windows, ProcessorOptions{Clock: clk})
	sched := NewScheduler([]*Profile{prof}, windows, writer, SchedulerOptions{TimeSource: WallTime, Clock: clk})
	ctx := context.Background()

	lengths := map[string]float64{"10.0.0.1": 20, "10.0.0.2": 5, "10.0.0.3": 100}
	var wg sync.WaitGroup
	for host, length := range lengths {
		wg.Add(1)
		go func(host string, length float64) {
			defer wg.Done()
			for i := 0; i < 5; i++ {
				assert.NoError(t, proc.Process(ctx, message(host, length)))
			}
		}(host, length)
	}
	wg.Wait()

	clk.Step(5 * time.Second)
	sched.Tick(ctx)
	require.NoError(t, writer.Flush(ctx))

	keys := storage.RowKeyBuilder{SaltDivisor: 1000}
	periodID := profile.PeriodID(epoch, 5*time.Second)
	for host, length := range lengths {
		row := keys.Build("avg-length", host, periodID)
		cells, err := store.Get(ctx, "P", row)
		require.NoError(t, err)
		require.Len(t, cells, 1, host)

		v, err := serde.Decode(cells[0].Value)
		require.NoError(t, err)
		require.Equal(t, length, v, host)
		require.Equal(t, 1, store.writes[string(row)+"/value"], host)
	}

	// A second tick writes nothing new.
	sched.Tick(ctx)
	require.NoError(t, writer.Flush(ctx))
	require.Len(t, store.writes, 3)
}

func TestSketchProfileWithStatsFunctions(t *testing.T) {
	reg := function.NewRegistry(nil)
	require.NoError(t, builtin.RegisterStats(reg))
	def := profile.Definition{
		Name:      "length-distribution",
		Foreach:   "message.ip_src_addr",
		Init:      profile.Assignments{{Name: "s", Expr: "STATS_INIT()"}},
		Update:    profile.Assignments{{Name: "s", Expr: "STATS_ADD(s, message.length)"}},
		Result:    profile.Assignments{{Name: "value", Expr: "s"}},
		ValueType: profile.ValueSketch,
		Period:    5 * time.Second,
		TTL:       time.Minute,
	}
	prof, err := Compile(celexpr.NewCompiler(reg), def)
	require.NoError(t, err)

	clk := testclock.NewFakeClock(epoch)
	mem := memory.New(clk)
	windows := NewStore(4)
	writer := NewWriter(mem, WriterOptions{Clock: clk})
	proc := NewProcessor([]*Profile{prof}, windows, ProcessorOptions{Clock: clk})
	sched := NewScheduler([]*Profile{prof}, windows, writer, SchedulerOptions{Clock: clk})
	ctx := context.Background()

	for i := 1; i <= 100; i++ {
		require.NoError(t, proc.Process(ctx, message("h", float64(i))))
	}
	clk.Step(5 * time.Second)
	sched.Tick(ctx)
	require.NoError(t, writer.Flush(ctx))

	row := storage.RowKeyBuilder{}.Build("length-distribution", "h", profile.PeriodID(epoch, 5*time.Second))
	cells, err := mem.Get(ctx, "P", row)
	require.NoError(t, err)
	require.Len(t, cells, 1)
	v, err := serde.Decode(cells[0].Value)
	require.NoError(t, err)
	sketch := v.(*stats.Sketch)
	require.Equal(t, 100.0, sketch.Count())
	median, err := sketch.Percentile(50)
	require.NoError(t, err)
	require.InDelta(t, 50.5, median, 2)
}
