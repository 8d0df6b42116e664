package aggregation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aevon-lab/aevon-profiler/internal/core/profile"
	"github.com/aevon-lab/aevon-profiler/internal/expression/celexpr"
	"github.com/stretchr/testify/require"
)

// epoch is aligned to every period used in these tests.
var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func avgLengthDefinition() profile.Definition {
	return profile.Definition{
		Name:    "avg-length",
		Foreach: "message.ip_src_addr",
		OnlyIf:  "'length' in message",
		Init: profile.Assignments{
			{Name: "sum", Expr: "0.0"},
			{Name: "count", Expr: "0"},
		},
		Update: profile.Assignments{
			{Name: "sum", Expr: "sum + double(message.length)"},
			{Name: "count", Expr: "count + 1"},
		},
		Result:    profile.Assignments{{Name: profile.DefaultQualifier, Expr: "sum / double(count)"}},
		ValueType: profile.ValueDouble,
		Period:    5 * time.Second,
		TTL:       time.Minute,
	}
}

func compile(t *testing.T, def profile.Definition) *Profile {
	t.Helper()
	p, err := Compile(celexpr.NewCompiler(nil), def)
	require.NoError(t, err)
	return p
}

func message(host string, length any) map[string]any {
	return map[string]any{"ip_src_addr": host, "length": length}
}

// recordingSink keeps every closed window.
type recordingSink struct {
	mu      sync.Mutex
	closed  []ClosedWindow
	flushes int
}

func (s *recordingSink) Persist(_ context.Context, w ClosedWindow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = append(s.closed, w)
	return nil
}

func (s *recordingSink) Flush(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
	return nil
}

func (s *recordingSink) windows() []ClosedWindow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ClosedWindow(nil), s.closed...)
}

func (s *recordingSink) byEntity() map[string]ClosedWindow {
	out := make(map[string]ClosedWindow)
	for _, w := range s.windows() {
		out[w.Entity] = w
	}
	return out
}
