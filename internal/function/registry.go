// Package function resolves the named functions profile expressions call.
//
// Each Registry is scoped to one processing run: its functions are built and
// initialized lazily, at most once, against the registry's capability set.
package function

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/aevon-lab/aevon-profiler/internal/capability"
	"github.com/aevon-lab/aevon-profiler/internal/expression"
)

// ErrNotFound is returned when no function is registered under a name.
var ErrNotFound = errors.New("function not found")

var validName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Handle is the implementation behind a registered name.
type Handle interface {
	// Apply evaluates the function. A nil result with a nil error means "absent".
	Apply(ctx context.Context, args []any) (any, error)
	// Initialize acquires whatever the function needs from caps.
	Initialize(ctx context.Context, caps *capability.Set) error
}

// Factory builds a fresh Handle for one registry.
type Factory func() Handle

// Info is the metadata listed for a function.
type Info struct {
	Namespace   string   `json:"namespace,omitempty"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Params      []string `json:"params"`
	Returns     string   `json:"returns"`
}

// State is the lifecycle of a registered function.
type State int32

const (
	StateUninitialized State = iota
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "uninitialized"
	}
}

// Function is a registered function bound to one registry.
type Function struct {
	info    Info
	factory Factory

	once   sync.Once
	state  atomic.Int32
	handle Handle
	err    error
}

func (f *Function) Info() Info   { return f.info }
func (f *Function) State() State { return State(f.state.Load()) }

// Err returns the initialization failure, if any.
func (f *Function) Err() error {
	if f.State() != StateFailed {
		return nil
	}
	return f.err
}

// Apply runs the function. Uninitialized or failed functions are inert and
// yield absent.
func (f *Function) Apply(ctx context.Context, args []any) (any, error) {
	if f.State() != StateReady {
		return nil, nil
	}
	return f.handle.Apply(ctx, args)
}

func (f *Function) initialize(ctx context.Context, caps *capability.Set) {
	f.once.Do(func() {
		h := f.factory()
		if err := h.Initialize(ctx, caps); err != nil {
			f.err = err
			f.state.Store(int32(StateFailed))
			slog.Error("[Functions] Initialization failed; function is inert", "function", f.info.Name, "error", err)
			return
		}
		f.handle = h
		f.state.Store(int32(StateReady))
		slog.Info("[Functions] Initialized", "function", f.info.Name)
	})
}

// Registry maps names to functions. It implements expression.FunctionResolver.
type Registry struct {
	mu        sync.RWMutex
	functions map[string]*Function
	caps      *capability.Set
}

// NewRegistry returns an empty registry bound to caps.
func NewRegistry(caps *capability.Set) *Registry {
	if caps == nil {
		caps = capability.New(nil)
	}
	return &Registry{
		functions: make(map[string]*Function),
		caps:      caps,
	}
}

// Register adds a function. Names must be unique identifiers.
func (r *Registry) Register(info Info, factory Factory) error {
	if !validName.MatchString(info.Name) {
		return fmt.Errorf("invalid function name %q", info.Name)
	}
	if factory == nil {
		return fmt.Errorf("function %q: nil factory", info.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.functions[info.Name]; exists {
		return fmt.Errorf("function %q already registered", info.Name)
	}
	r.functions[info.Name] = &Function{info: info, factory: factory}
	return nil
}

// Lookup returns the registered function without initializing it.
func (r *Registry) Lookup(name string) (*Function, error) {
	r.mu.RLock()
	f, ok := r.functions[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return f, nil
}

// Resolve returns the named function, initializing it on first use.
func (r *Registry) Resolve(ctx context.Context, name string) (expression.Function, error) {
	f, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	f.initialize(ctx, r.caps)
	return f, nil
}

// Initialize eagerly initializes every registered function.
func (r *Registry) Initialize(ctx context.Context) {
	for _, name := range r.Functions() {
		if f, err := r.Lookup(name); err == nil {
			f.initialize(ctx, r.caps)
		}
	}
}

// Functions returns the registered names, sorted.
func (r *Registry) Functions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.functions))
	for name := range r.functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FunctionInfo returns metadata for every function, sorted by name.
func (r *Registry) FunctionInfo() []Info {
	names := r.Functions()
	out := make([]Info, 0, len(names))
	for _, name := range names {
		if f, err := r.Lookup(name); err == nil {
			out = append(out, f.info)
		}
	}
	return out
}
