package celexpr

import (
	"fmt"
	"reflect"

	"github.com/aevon-lab/aevon-profiler/internal/stats"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
)

// sketchType is the CEL type of a *stats.Sketch. Expressions can only pass
// sketches around; they are manipulated through STATS_* functions.
var sketchType = types.NewOpaqueType("profiler.Sketch")

type sketchValue struct {
	sketch *stats.Sketch
}

func (v sketchValue) ConvertToNative(typeDesc reflect.Type) (any, error) {
	if reflect.TypeOf(v.sketch).AssignableTo(typeDesc) {
		return v.sketch, nil
	}
	return nil, fmt.Errorf("cannot convert sketch to %v", typeDesc)
}

func (v sketchValue) ConvertToType(typeVal ref.Type) ref.Val {
	if typeVal == types.TypeType {
		return sketchType
	}
	return types.NewErr("cannot convert sketch to %s", typeVal.TypeName())
}

func (v sketchValue) Equal(other ref.Val) ref.Val {
	o, ok := other.(sketchValue)
	return types.Bool(ok && o.sketch == v.sketch)
}

func (v sketchValue) Type() ref.Type { return sketchType }
func (v sketchValue) Value() any     { return v.sketch }

// adapter extends the default CEL adapter with sketches and Go nil.
type adapter struct{}

func (adapter) NativeToValue(value any) ref.Val {
	switch v := value.(type) {
	case nil:
		return types.NullValue
	case ref.Val:
		return v
	case *stats.Sketch:
		if v == nil {
			return types.NullValue
		}
		return sketchValue{sketch: v}
	case []any:
		return types.NewDynamicList(adapter{}, v)
	case map[string]any:
		return types.NewStringInterfaceMap(adapter{}, v)
	}
	return types.DefaultTypeAdapter.NativeToValue(value)
}

// toNative converts a CEL value into plain Go: nil, bool, int64, uint64,
// float64, string, []byte, []any, map[string]any or *stats.Sketch.
func toNative(v ref.Val) any {
	switch val := v.(type) {
	case types.Null:
		return nil
	case sketchValue:
		return val.sketch
	case traits.Mapper:
		out := make(map[string]any)
		it := val.Iterator()
		for it.HasNext() == types.True {
			k := it.Next()
			out[fmt.Sprint(toNative(k))] = toNative(val.Get(k))
		}
		return out
	case traits.Lister:
		size, _ := val.Size().(types.Int)
		out := make([]any, 0, int(size))
		for i := types.Int(0); i < size; i++ {
			out = append(out, toNative(val.Get(i)))
		}
		return out
	default:
		return v.Value()
	}
}
