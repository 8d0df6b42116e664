package projection

import (
	"context"
	"fmt"
	"time"

	"github.com/aevon-lab/aevon-profiler/internal/capability"
	"github.com/aevon-lab/aevon-profiler/internal/core/profile"
	"github.com/aevon-lab/aevon-profiler/internal/function"
)

// profileGet implements PROFILE_GET(profile, entity, lookback_seconds, [qualifier]).
type profileGet struct {
	svc *Service
}

func (g profileGet) Initialize(context.Context, *capability.Set) error { return nil }

func (g profileGet) Apply(ctx context.Context, args []any) (any, error) {
	if len(args) < 3 || len(args) > 4 {
		return nil, fmt.Errorf("expected (profile, entity, lookback_seconds, [qualifier]), got %d arguments", len(args))
	}
	name, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("profile must be a string, got %T", args[0])
	}
	entity, ok := args[1].(string)
	if !ok {
		return nil, fmt.Errorf("entity must be a string, got %T", args[1])
	}
	var seconds float64
	switch v := args[2].(type) {
	case int64:
		seconds = float64(v)
	case uint64:
		seconds = float64(v)
	case float64:
		seconds = v
	default:
		return nil, fmt.Errorf("lookback_seconds must be a number, got %T", args[2])
	}
	qualifier := profile.DefaultQualifier
	if len(args) == 4 {
		if qualifier, ok = args[3].(string); !ok {
			return nil, fmt.Errorf("qualifier must be a string, got %T", args[3])
		}
	}
	return g.svc.Lookback(ctx, name, entity, qualifier, time.Duration(seconds*float64(time.Second)))
}

// RegisterFunctions adds PROFILE_GET, reading through svc.
func RegisterFunctions(r *function.Registry, svc *Service) error {
	return r.Register(function.Info{
		Namespace:   "PROFILE",
		Name:        "PROFILE_GET",
		Description: "Stored values of a profile for an entity over the trailing lookback window, oldest first.",
		Params:      []string{"profile", "entity", "lookback_seconds", "qualifier?"},
		Returns:     "list",
	}, func() function.Handle { return profileGet{svc: svc} })
}
