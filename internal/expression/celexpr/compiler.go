// Package celexpr compiles profile expressions with CEL.
//
// Every profile variable and every registered function is declared as dyn,
// so type errors surface at evaluation time rather than being coerced.
package celexpr

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aevon-lab/aevon-profiler/internal/expression"
	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// MaxArity is the largest number of arguments a registered function accepts.
const MaxArity = 4

// Compiler builds CEL programs. Environments are cached per variable set.
type Compiler struct {
	resolver expression.FunctionResolver

	mu   sync.Mutex
	envs map[string]*cel.Env
}

// NewCompiler returns a compiler whose expressions may call every function
// resolver lists. resolver may be nil.
func NewCompiler(resolver expression.FunctionResolver) *Compiler {
	return &Compiler{
		resolver: resolver,
		envs:     make(map[string]*cel.Env),
	}
}

// Compile parses and type-checks source.
func (c *Compiler) Compile(source string, vars []string) (expression.Expression, error) {
	env, declared, err := c.env(vars)
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(source)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile %q: %w", source, issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program %q: %w", source, err)
	}
	return &program{source: source, prg: prg, vars: declared}, nil
}

func (c *Compiler) env(vars []string) (*cel.Env, []string, error) {
	declared := append([]string(nil), vars...)
	sort.Strings(declared)
	key := strings.Join(declared, ",")

	c.mu.Lock()
	defer c.mu.Unlock()
	if env, ok := c.envs[key]; ok {
		return env, declared, nil
	}

	opts := []cel.EnvOption{
		cel.CustomTypeAdapter(adapter{}),
		cel.Variable("message", cel.MapType(cel.StringType, cel.DynType)),
	}
	for _, v := range declared {
		if v == "message" {
			continue
		}
		opts = append(opts, cel.Variable(v, cel.DynType))
	}
	if c.resolver != nil {
		for _, name := range c.resolver.Functions() {
			opts = append(opts, c.declare(name))
		}
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("cel environment: %w", err)
	}
	c.envs[key] = env
	return env, declared, nil
}

// declare exposes a registered function with one dyn overload per arity.
func (c *Compiler) declare(name string) cel.EnvOption {
	impl := cel.FunctionBinding(c.call(name))
	overloads := make([]cel.FunctionOpt, 0, MaxArity+1)
	for arity := 0; arity <= MaxArity; arity++ {
		args := make([]*cel.Type, arity)
		for i := range args {
			args[i] = cel.DynType
		}
		overloads = append(overloads, cel.Overload(
			fmt.Sprintf("%s_%d", strings.ToLower(name), arity),
			args, cel.DynType, impl,
		))
	}
	return cel.Function(name, overloads...)
}

func (c *Compiler) call(name string) func(args ...ref.Val) ref.Val {
	return func(args ...ref.Val) ref.Val {
		// CEL bindings carry no context; functions bound their own calls.
		ctx := context.Background()
		fn, err := c.resolver.Resolve(ctx, name)
		if err != nil {
			return types.NewErr("%s: %v", name, err)
		}
		native := make([]any, len(args))
		for i, a := range args {
			native[i] = toNative(a)
		}
		out, err := fn.Apply(ctx, native)
		if err != nil {
			return types.NewErr("%s: %v", name, err)
		}
		return adapter{}.NativeToValue(out)
	}
}

type program struct {
	source string
	prg    cel.Program
	vars   []string
}

func (p *program) Source() string { return p.source }

// Eval runs the program. Declared variables missing from env.Vars are null.
func (p *program) Eval(ctx context.Context, env expression.Env) (any, error) {
	act := make(map[string]any, len(p.vars)+1)
	for _, v := range p.vars {
		act[v] = nil
	}
	for k, v := range env.Vars {
		act[k] = v
	}
	msg := env.Message
	if msg == nil {
		msg = map[string]any{}
	}
	act["message"] = msg

	out, _, err := p.prg.ContextEval(ctx, act)
	if err != nil {
		return nil, fmt.Errorf("evaluate %q: %w", p.source, err)
	}
	return toNative(out), nil
}
