// Package aggregation maintains per-entity profile windows, closes them at
// period boundaries and hands their results to a writer.
package aggregation

import (
	"context"
	"fmt"
	"time"

	"github.com/aevon-lab/aevon-profiler/internal/core/profile"
	"github.com/aevon-lab/aevon-profiler/internal/expression"
)

type compiledAssignment struct {
	name string
	expr expression.Expression
}

// Profile is a definition with its expressions compiled.
type Profile struct {
	def     profile.Definition
	foreach expression.Expression
	onlyIf  expression.Expression // nil means always
	init    []compiledAssignment
	update  []compiledAssignment
	result  []compiledAssignment
}

// Compile validates def and compiles every expression it declares.
func Compile(c expression.Compiler, def profile.Definition) (*Profile, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	vars := append(def.Variables(), "entity", "profile", "period_start", "period_end")

	p := &Profile{def: def}
	var err error
	if p.foreach, err = c.Compile(def.Foreach, vars); err != nil {
		return nil, fmt.Errorf("profile %q: foreach: %w", def.Name, err)
	}
	if def.OnlyIf != "" {
		if p.onlyIf, err = c.Compile(def.OnlyIf, vars); err != nil {
			return nil, fmt.Errorf("profile %q: onlyif: %w", def.Name, err)
		}
	}
	for _, group := range []struct {
		label string
		src   profile.Assignments
		dst   *[]compiledAssignment
	}{
		{"init", def.Init, &p.init},
		{"update", def.Update, &p.update},
		{"result", def.Result, &p.result},
	} {
		for _, as := range group.src {
			expr, err := c.Compile(as.Expr, vars)
			if err != nil {
				return nil, fmt.Errorf("profile %q: %s %q: %w", def.Name, group.label, as.Name, err)
			}
			*group.dst = append(*group.dst, compiledAssignment{name: as.Name, expr: expr})
		}
	}
	return p, nil
}

// CompileAll compiles every definition, failing on the first error.
func CompileAll(c expression.Compiler, defs []profile.Definition) ([]*Profile, error) {
	out := make([]*Profile, 0, len(defs))
	for _, def := range defs {
		p, err := Compile(c, def)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (p *Profile) Name() string                   { return p.def.Name }
func (p *Profile) Definition() profile.Definition { return p.def }
func (p *Profile) Period() time.Duration          { return p.def.Period }
func (p *Profile) TTL() time.Duration             { return p.def.TTL }

// applies evaluates the onlyif predicate. A non-boolean result is an error.
func (p *Profile) applies(ctx context.Context, msg map[string]any) (bool, error) {
	if p.onlyIf == nil {
		return true, nil
	}
	out, err := p.onlyIf.Eval(ctx, expression.Env{Message: msg})
	if err != nil {
		return false, fmt.Errorf("profile %q: onlyif: %w", p.def.Name, err)
	}
	ok, isBool := out.(bool)
	if !isBool {
		return false, fmt.Errorf("profile %q: onlyif must be a bool, got %T", p.def.Name, out)
	}
	return ok, nil
}

// entity evaluates foreach. Strings and numbers are accepted as entity keys.
func (p *Profile) entity(ctx context.Context, msg map[string]any) (string, error) {
	out, err := p.foreach.Eval(ctx, expression.Env{Message: msg})
	if err != nil {
		return "", fmt.Errorf("profile %q: foreach: %w", p.def.Name, err)
	}
	switch v := out.(type) {
	case string:
		if v == "" {
			return "", fmt.Errorf("profile %q: foreach yielded an empty entity", p.def.Name)
		}
		return v, nil
	case int64, uint64, float64, bool:
		return fmt.Sprint(v), nil
	case nil:
		return "", fmt.Errorf("profile %q: foreach yielded null", p.def.Name)
	default:
		return "", fmt.Errorf("profile %q: foreach must yield a string, got %T", p.def.Name, out)
	}
}

// assign runs assignments in order against vars. Each assignment sees the
// ones before it. vars is modified in place.
func assign(ctx context.Context, list []compiledAssignment, msg map[string]any, vars map[string]any) error {
	for _, as := range list {
		v, err := as.expr.Eval(ctx, expression.Env{Message: msg, Vars: vars})
		if err != nil {
			return fmt.Errorf("%s: %w", as.name, err)
		}
		vars[as.name] = v
	}
	return nil
}
