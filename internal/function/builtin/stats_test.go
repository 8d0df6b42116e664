package builtin

import (
	"context"
	"testing"

	"github.com/aevon-lab/aevon-profiler/internal/function"
	"github.com/aevon-lab/aevon-profiler/internal/stats"
	"github.com/stretchr/testify/require"
)

func apply(t *testing.T, r *function.Registry, name string, args ...any) (any, error) {
	t.Helper()
	fn, err := r.Resolve(context.Background(), name)
	require.NoError(t, err)
	return fn.Apply(context.Background(), args)
}

func TestStatsFunctions(t *testing.T) {
	r := function.NewRegistry(nil)
	require.NoError(t, RegisterStats(r))

	s, err := apply(t, r, "STATS_INIT")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		s, err = apply(t, r, "STATS_ADD", s, int64(20))
		require.NoError(t, err)
	}

	p, err := apply(t, r, "STATS_PERCENTILE", s, int64(70))
	require.NoError(t, err)
	require.InDelta(t, 20.0, p, 1e-9)

	mean, err := apply(t, r, "STATS_MEAN", s)
	require.NoError(t, err)
	require.InDelta(t, 20.0, mean, 1e-9)

	count, err := apply(t, r, "STATS_COUNT", s)
	require.NoError(t, err)
	require.Equal(t, int64(5), count)
}

func TestStatsAdd_NullStartsSketch(t *testing.T) {
	r := function.NewRegistry(nil)
	require.NoError(t, RegisterStats(r))

	out, err := apply(t, r, "STATS_ADD", nil, 1.5, int64(2))
	require.NoError(t, err)
	s, ok := out.(*stats.Sketch)
	require.True(t, ok)
	require.Equal(t, 2.0, s.Count())
}

func TestStatsFunctions_Errors(t *testing.T) {
	r := function.NewRegistry(nil)
	require.NoError(t, RegisterStats(r))

	_, err := apply(t, r, "STATS_ADD", "not a sketch", 1.0)
	require.Error(t, err)

	_, err = apply(t, r, "STATS_ADD", nil, "20")
	require.Error(t, err)

	_, err = apply(t, r, "STATS_PERCENTILE", stats.NewSketch(0))
	require.Error(t, err)

	out, err := apply(t, r, "STATS_MEAN", nil)
	require.NoError(t, err)
	require.Nil(t, out)

	require.Error(t, RegisterStats(r), "second registration collides")
}
