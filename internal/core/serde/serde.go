// Package serde encodes profile results for storage.
//
// Values are wrapped in a protobuf Any so a reader can decode a cell without
// knowing the profile that wrote it.
package serde

import (
	"fmt"
	"math"

	"github.com/aevon-lab/aevon-profiler/internal/core/profile"
	"github.com/aevon-lab/aevon-profiler/internal/stats"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Encode converts v to the wire form of the given value type.
// Integer encoding rejects values with a fractional part.
func Encode(vt profile.ValueType, v any) ([]byte, error) {
	var msg proto.Message
	switch vt {
	case profile.ValueInteger:
		n, err := toInt64(v)
		if err != nil {
			return nil, err
		}
		msg = wrapperspb.Int64(n)
	case profile.ValueDouble:
		f, err := toFloat64(v)
		if err != nil {
			return nil, err
		}
		msg = wrapperspb.Double(f)
	case profile.ValueSketch:
		s, ok := v.(*stats.Sketch)
		if !ok {
			return nil, fmt.Errorf("serde: sketch value type requires a sketch, got %T", v)
		}
		st, err := sketchToStruct(s)
		if err != nil {
			return nil, err
		}
		msg = st
	default:
		return nil, fmt.Errorf("serde: unknown value type %q", vt)
	}

	wrapped, err := anypb.New(msg)
	if err != nil {
		return nil, fmt.Errorf("serde: wrap: %w", err)
	}
	out, err := proto.Marshal(wrapped)
	if err != nil {
		return nil, fmt.Errorf("serde: marshal: %w", err)
	}
	return out, nil
}

// Decode returns an int64, float64 or *stats.Sketch.
func Decode(data []byte) (any, error) {
	var wrapped anypb.Any
	if err := proto.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("serde: unmarshal: %w", err)
	}
	msg, err := wrapped.UnmarshalNew()
	if err != nil {
		return nil, fmt.Errorf("serde: unwrap: %w", err)
	}
	switch m := msg.(type) {
	case *wrapperspb.Int64Value:
		return m.GetValue(), nil
	case *wrapperspb.DoubleValue:
		return m.GetValue(), nil
	case *structpb.Struct:
		return sketchFromStruct(m)
	default:
		return nil, fmt.Errorf("serde: unsupported payload %s", wrapped.GetTypeUrl())
	}
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint32:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, fmt.Errorf("serde: %d overflows integer", n)
		}
		return int64(n), nil
	case float64:
		if math.Trunc(n) != n || n > math.MaxInt64 || n < math.MinInt64 {
			return 0, fmt.Errorf("serde: %v is not an integer", n)
		}
		return int64(n), nil
	case nil:
		return 0, fmt.Errorf("serde: cannot encode null as integer")
	default:
		return 0, fmt.Errorf("serde: cannot encode %T as integer", v)
	}
}

func toFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case nil:
		return 0, fmt.Errorf("serde: cannot encode null as double")
	default:
		return 0, fmt.Errorf("serde: cannot encode %T as double", v)
	}
}

func sketchToStruct(s *stats.Sketch) (*structpb.Struct, error) {
	means, weights := s.Centroids()
	st, err := structpb.NewStruct(map[string]any{
		"compression": s.Compression(),
		"sum":         s.Sum(),
		"means":       floatsToAny(means),
		"weights":     floatsToAny(weights),
	})
	if err != nil {
		return nil, fmt.Errorf("serde: sketch: %w", err)
	}
	return st, nil
}

func sketchFromStruct(st *structpb.Struct) (*stats.Sketch, error) {
	f := st.GetFields()
	means, err := anyToFloats(f["means"].GetListValue())
	if err != nil {
		return nil, err
	}
	weights, err := anyToFloats(f["weights"].GetListValue())
	if err != nil {
		return nil, err
	}
	return stats.FromCentroids(f["compression"].GetNumberValue(), f["sum"].GetNumberValue(), means, weights)
}

func floatsToAny(in []float64) []any {
	out := make([]any, len(in))
	for i, f := range in {
		out[i] = f
	}
	return out
}

func anyToFloats(l *structpb.ListValue) ([]float64, error) {
	out := make([]float64, 0, len(l.GetValues()))
	for _, v := range l.GetValues() {
		n, ok := v.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return nil, fmt.Errorf("serde: sketch centroid is not a number")
		}
		out = append(out, n.NumberValue)
	}
	return out, nil
}
