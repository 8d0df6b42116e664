// Package builtin registers the functions every profiler ships with.
package builtin

import (
	"context"
	"fmt"

	"github.com/aevon-lab/aevon-profiler/internal/capability"
	"github.com/aevon-lab/aevon-profiler/internal/function"
	"github.com/aevon-lab/aevon-profiler/internal/stats"
)

// pure adapts a stateless func into a function.Handle.
type pure func(args []any) (any, error)

func (p pure) Apply(_ context.Context, args []any) (any, error) { return p(args) }

func (pure) Initialize(context.Context, *capability.Set) error { return nil }

func factory(fn func(args []any) (any, error)) function.Factory {
	return func() function.Handle { return pure(fn) }
}

// RegisterStats adds the STATS_* sketch functions.
func RegisterStats(r *function.Registry) error {
	entries := []struct {
		info function.Info
		fn   func(args []any) (any, error)
	}{
		{
			info: function.Info{Namespace: "STATS", Name: "STATS_INIT", Description: "Creates an empty distribution sketch.", Params: []string{"compression?"}, Returns: "sketch"},
			fn:   statsInit,
		},
		{
			info: function.Info{Namespace: "STATS", Name: "STATS_ADD", Description: "Adds values to a sketch, creating it when null.", Params: []string{"sketch", "value..."}, Returns: "sketch"},
			fn:   statsAdd,
		},
		{
			info: function.Info{Namespace: "STATS", Name: "STATS_PERCENTILE", Description: "Approximate percentile, p in [0, 100].", Params: []string{"sketch", "p"}, Returns: "double"},
			fn:   statsPercentile,
		},
		{
			info: function.Info{Namespace: "STATS", Name: "STATS_MEAN", Description: "Mean of the values added to a sketch.", Params: []string{"sketch"}, Returns: "double"},
			fn:   statsMean,
		},
		{
			info: function.Info{Namespace: "STATS", Name: "STATS_COUNT", Description: "Number of values added to a sketch.", Params: []string{"sketch"}, Returns: "int"},
			fn:   statsCount,
		},
	}
	for _, e := range entries {
		if err := r.Register(e.info, factory(e.fn)); err != nil {
			return err
		}
	}
	return nil
}

func statsInit(args []any) (any, error) {
	if len(args) > 1 {
		return nil, fmt.Errorf("expected at most 1 argument, got %d", len(args))
	}
	compression := 0.0
	if len(args) == 1 {
		c, err := toFloat(args[0])
		if err != nil {
			return nil, fmt.Errorf("compression: %w", err)
		}
		compression = c
	}
	return stats.NewSketch(compression), nil
}

func statsAdd(args []any) (any, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("expected a sketch")
	}
	var s *stats.Sketch
	if args[0] == nil {
		s = stats.NewSketch(0)
	} else {
		var err error
		if s, err = sketchArg(args[0]); err != nil {
			return nil, err
		}
	}
	for i, a := range args[1:] {
		x, err := toFloat(a)
		if err != nil {
			return nil, fmt.Errorf("value %d: %w", i+1, err)
		}
		if err := s.Add(x); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func statsPercentile(args []any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("expected 2 arguments, got %d", len(args))
	}
	if args[0] == nil {
		return nil, nil
	}
	s, err := sketchArg(args[0])
	if err != nil {
		return nil, err
	}
	p, err := toFloat(args[1])
	if err != nil {
		return nil, fmt.Errorf("percentile: %w", err)
	}
	return s.Percentile(p)
}

func statsMean(args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("expected 1 argument, got %d", len(args))
	}
	if args[0] == nil {
		return nil, nil
	}
	s, err := sketchArg(args[0])
	if err != nil {
		return nil, err
	}
	return s.Mean(), nil
}

func statsCount(args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("expected 1 argument, got %d", len(args))
	}
	if args[0] == nil {
		return int64(0), nil
	}
	s, err := sketchArg(args[0])
	if err != nil {
		return nil, err
	}
	return int64(s.Count()), nil
}

func sketchArg(v any) (*stats.Sketch, error) {
	s, ok := v.(*stats.Sketch)
	if !ok {
		return nil, fmt.Errorf("expected a sketch, got %T", v)
	}
	return s, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case int:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
}
