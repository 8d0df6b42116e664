// Package expression defines the contract between the profiler and the
// expression language its profiles are written in.
package expression

import "context"

// Env is what an expression can see while it runs.
type Env struct {
	Message map[string]any
	Vars    map[string]any
}

// Expression is a compiled expression. Implementations are safe for
// concurrent use.
type Expression interface {
	Eval(ctx context.Context, env Env) (any, error)
	Source() string
}

// Compiler turns source text into an Expression. vars lists the names the
// expression may reference in addition to "message".
type Compiler interface {
	Compile(source string, vars []string) (Expression, error)
}

// Function is a callable an expression can invoke by name.
// A nil result with a nil error means "absent".
type Function interface {
	Apply(ctx context.Context, args []any) (any, error)
}

// FunctionResolver supplies the functions an expression may call.
type FunctionResolver interface {
	Functions() []string
	Resolve(ctx context.Context, name string) (Function, error)
}
