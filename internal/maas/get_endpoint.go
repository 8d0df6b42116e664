package maas

import (
	"context"
	"fmt"

	"github.com/aevon-lab/aevon-profiler/internal/capability"
	"github.com/aevon-lab/aevon-profiler/internal/discovery"
)

// GetEndpoint implements MAAS_GET_ENDPOINT(name, [version]).
type GetEndpoint struct {
	opts       Options
	discoverer discovery.Client
}

func NewGetEndpoint(opts Options) *GetEndpoint {
	return &GetEndpoint{opts: opts.withDefaults()}
}

func (g *GetEndpoint) Initialize(ctx context.Context, caps *capability.Set) error {
	d, err := resolveDiscoverer(ctx, caps, g.opts)
	if err != nil {
		return err
	}
	g.discoverer = d
	return nil
}

// Apply returns the endpoint map, or nil when no usable instance is registered.
func (g *GetEndpoint) Apply(_ context.Context, args []any) (any, error) {
	if len(args) < 1 || len(args) > 2 {
		return nil, fmt.Errorf("expected (name, [version]), got %d arguments", len(args))
	}
	name, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("name must be a string, got %T", args[0])
	}

	var (
		ep    discovery.Endpoint
		found bool
	)
	if len(args) == 2 && args[1] != nil {
		version, ok := args[1].(string)
		if !ok {
			return nil, fmt.Errorf("version must be a string, got %T", args[1])
		}
		ep, found = g.discoverer.GetEndpointVersion(name, version)
	} else {
		ep, found = g.discoverer.GetEndpoint(name)
	}
	if !found {
		return nil, nil
	}
	return ep.ToMap(), nil
}
