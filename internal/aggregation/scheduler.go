package aggregation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aevon-lab/aevon-profiler/internal/core/profile"
	"github.com/aevon-lab/aevon-profiler/internal/metrics"
	"k8s.io/utils/clock"
)

// TimeSource selects the clock periods are closed against.
type TimeSource string

const (
	// EventTime closes periods as the latest observed event time passes them.
	EventTime TimeSource = "event"
	// WallTime closes periods as the local clock passes them.
	WallTime TimeSource = "wall"
)

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	Interval        time.Duration
	TimeSource      TimeSource
	Lateness        time.Duration // how long a period stays open past its end
	FlushOnShutdown bool
	Clock           clock.WithTicker
	Metrics         *metrics.Metrics
}

// Scheduler closes windows whose period has elapsed and expires idle ones.
type Scheduler struct {
	profiles []*Profile
	store    *Store
	sink     Sink
	opts     SchedulerOptions
}

func NewScheduler(profiles []*Profile, store *Store, sink Sink, opts SchedulerOptions) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.TimeSource == "" {
		opts.TimeSource = WallTime
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	return &Scheduler{profiles: profiles, store: store, sink: sink, opts: opts}
}

// Run ticks until ctx is cancelled, then closes every open window when
// configured to and flushes the sink.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := s.opts.Clock.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	slog.Info("[Scheduler] Starting",
		"interval", s.opts.Interval,
		"time_source", s.opts.TimeSource,
		"lateness", s.opts.Lateness,
		"profiles", len(s.profiles),
	)

	for {
		select {
		case <-ticker.C():
			s.Tick(ctx)
		case <-ctx.Done():
			slog.Info("[Scheduler] Stopping (context cancelled)")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			windows := s.store.Drain()
			if s.opts.FlushOnShutdown {
				slog.Info("[Scheduler] Closing open windows before shutdown...", "windows", len(windows))
				s.closeAll(shutdownCtx, windows)
			} else if len(windows) > 0 {
				slog.Warn("[Scheduler] Discarding open windows on shutdown", "windows", len(windows))
			}
			if err := s.sink.Flush(shutdownCtx); err != nil {
				return fmt.Errorf("final flush: %w", err)
			}
			slog.Info("[Scheduler] Final flush complete")
			return nil
		}
	}
}

// Tick closes due periods for every profile, then drops windows idle past
// their TTL. A closure in progress always runs to completion.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.opts.Clock.Now()
	for _, p := range s.profiles {
		current, ok := s.periodClock(p, now)
		if !ok {
			continue
		}
		watermark := profile.PeriodID(current.Add(-s.opts.Lateness), p.Period())
		s.closeAll(ctx, s.store.Advance(p.Name(), watermark))
	}

	for _, w := range s.store.Expire(now) {
		w.discard()
		s.opts.Metrics.WindowExpired(w.key.Profile)
		slog.Info("[Scheduler] Expired idle window",
			"profile", w.key.Profile,
			"entity", w.key.Entity,
			"period_start", w.PeriodStart(),
			"idle", w.idleSince(now),
		)
	}
	s.opts.Metrics.SetOpenWindows(s.store.Len())
}

func (s *Scheduler) periodClock(p *Profile, now time.Time) (time.Time, bool) {
	if s.opts.TimeSource == EventTime {
		return s.store.EventTime(p.Name())
	}
	return now, true
}

func (s *Scheduler) closeAll(ctx context.Context, windows []*Window) {
	for _, w := range windows {
		closed, err := w.close(ctx)
		if err != nil {
			s.opts.Metrics.EvaluationFailed(w.key.Profile)
			slog.Error("[Scheduler] Result evaluation failed", "error", err)
			continue
		}
		if err := s.sink.Persist(ctx, closed); err != nil {
			slog.Error("[Scheduler] Persist failed",
				"profile", w.key.Profile,
				"entity", w.key.Entity,
				"error", err,
			)
			continue
		}
		s.opts.Metrics.WindowClosed(w.key.Profile)
	}
}
