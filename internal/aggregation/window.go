package aggregation

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aevon-lab/aevon-profiler/internal/core/profile"
	"github.com/aevon-lab/aevon-profiler/internal/expression"
	"github.com/aevon-lab/aevon-profiler/internal/stats"
)

// Key identifies one window.
type Key struct {
	Profile string
	Entity  string
	Period  int64 // period id, see profile.PeriodID
}

// Window is the accumulator for one (profile, entity, period).
type Window struct {
	key     Key
	profile *Profile
	created time.Time

	lastUpdated atomic.Int64 // unix nanos

	mu          sync.Mutex
	initialized bool
	closed      bool
	vars        map[string]any
}

func newWindow(p *Profile, key Key, now time.Time) *Window {
	w := &Window{
		key:     key,
		profile: p,
		created: now,
		vars:    make(map[string]any),
	}
	w.lastUpdated.Store(now.UnixNano())
	return w
}

func (w *Window) Key() Key { return w.key }

// PeriodStart is the inclusive start of the window's period.
func (w *Window) PeriodStart() time.Time {
	return profile.StartOf(w.key.Period, w.profile.Period())
}

func (w *Window) idleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, w.lastUpdated.Load()))
}

// bindings are the engine-provided variables every expression can read.
func (w *Window) bindings(vars map[string]any) {
	start := w.PeriodStart()
	vars["entity"] = w.key.Entity
	vars["profile"] = w.key.Profile
	vars["period_start"] = start.UnixMilli()
	vars["period_end"] = start.Add(w.profile.Period()).UnixMilli()
}

// update applies msg. The caller must hold w.mu. On error the window keeps
// its previous state, sketches included.
func (w *Window) update(ctx context.Context, msg map[string]any, now time.Time) error {
	next := cloneVars(w.vars)
	w.bindings(next)
	if !w.initialized {
		if err := assign(ctx, w.profile.init, msg, next); err != nil {
			return fmt.Errorf("profile %q: init %w", w.key.Profile, err)
		}
	}
	if err := assign(ctx, w.profile.update, msg, next); err != nil {
		return fmt.Errorf("profile %q: update %w", w.key.Profile, err)
	}
	w.vars = next
	w.initialized = true
	w.lastUpdated.Store(now.UnixNano())
	return nil
}

// cloneVars copies vars deeply enough that functions mutating a sketch in
// place cannot leak into the committed state.
func cloneVars(vars map[string]any) map[string]any {
	out := maps.Clone(vars)
	for k, v := range out {
		if s, ok := v.(*stats.Sketch); ok && s != nil {
			out[k] = s.Clone()
		}
	}
	return out
}

// Result is one named value produced when a window closes.
type Result struct {
	Qualifier string
	Value     any
}

// ClosedWindow is a window's final output.
type ClosedWindow struct {
	Profile     *Profile
	Entity      string
	PeriodID    int64
	PeriodStart time.Time
	Results     []Result
}

// close marks the window closed and evaluates the result expressions once.
// Updates racing with close observe closed and are rejected.
func (w *Window) close(ctx context.Context) (ClosedWindow, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true

	vars := maps.Clone(w.vars)
	w.bindings(vars)
	out := ClosedWindow{
		Profile:     w.profile,
		Entity:      w.key.Entity,
		PeriodID:    w.key.Period,
		PeriodStart: w.PeriodStart(),
		Results:     make([]Result, 0, len(w.profile.result)),
	}
	for _, r := range w.profile.result {
		v, err := r.expr.Eval(ctx, expression.Env{Vars: vars})
		if err != nil {
			return ClosedWindow{}, fmt.Errorf("profile %q entity %q: result %s: %w", w.key.Profile, w.key.Entity, r.name, err)
		}
		out.Results = append(out.Results, Result{Qualifier: r.name, Value: v})
	}
	return out, nil
}

// discard marks the window closed without producing output.
func (w *Window) discard() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
}
