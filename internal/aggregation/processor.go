package aggregation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/aevon-lab/aevon-profiler/internal/core/profile"
	"github.com/aevon-lab/aevon-profiler/internal/metrics"
	"go.uber.org/multierr"
	"k8s.io/utils/clock"
)

// maxWindowRetries bounds how often an update is retried against a window
// that was expired between lookup and lock.
const maxWindowRetries = 3

// ProcessorOptions configures a Processor.
type ProcessorOptions struct {
	// TimestampField names the message field holding the event time. Empty
	// means processing time.
	TimestampField string
	Clock          clock.PassiveClock
	Metrics        *metrics.Metrics
}

// Processor routes messages to every profile's windows.
type Processor struct {
	profiles []*Profile
	store    *Store
	opts     ProcessorOptions
}

func NewProcessor(profiles []*Profile, store *Store, opts ProcessorOptions) *Processor {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	return &Processor{profiles: profiles, store: store, opts: opts}
}

func (p *Processor) Profiles() []*Profile { return p.profiles }

// Process applies msg to every profile whose predicate it satisfies. Errors
// from individual profiles are combined; one failing profile does not stop
// the others. Late events are counted, not returned.
func (p *Processor) Process(ctx context.Context, msg map[string]any) error {
	eventTime, err := p.eventTime(msg)
	if err != nil {
		return err
	}

	var errs error
	for _, prof := range p.profiles {
		ok, err := prof.applies(ctx, msg)
		if err != nil {
			p.opts.Metrics.EvaluationFailed(prof.Name())
			errs = multierr.Append(errs, err)
			continue
		}
		if !ok {
			continue
		}
		entity, err := prof.entity(ctx, msg)
		if err != nil {
			p.opts.Metrics.EvaluationFailed(prof.Name())
			errs = multierr.Append(errs, err)
			continue
		}
		err = p.apply(ctx, prof, entity, msg, eventTime)
		if errors.Is(err, ErrLateEvent) {
			continue
		}
		errs = multierr.Append(errs, err)
	}
	return errs
}

// Ingest applies msg to the window of (prof, entity) for the period holding
// eventTime. It is a no-op when the predicate is false.
func (p *Processor) Ingest(ctx context.Context, prof *Profile, entity string, msg map[string]any, eventTime time.Time) error {
	ok, err := prof.applies(ctx, msg)
	if err != nil {
		p.opts.Metrics.EvaluationFailed(prof.Name())
		return err
	}
	if !ok {
		return nil
	}
	return p.apply(ctx, prof, entity, msg, eventTime)
}

func (p *Processor) apply(ctx context.Context, prof *Profile, entity string, msg map[string]any, eventTime time.Time) error {
	key := Key{
		Profile: prof.Name(),
		Entity:  entity,
		Period:  profile.PeriodID(eventTime, prof.Period()),
	}
	p.store.observe(key.Profile, eventTime)

	for attempt := 0; attempt < maxWindowRetries; attempt++ {
		w, err := p.store.getOrCreate(prof, key, p.opts.Clock.Now())
		if errors.Is(err, ErrLateEvent) {
			p.opts.Metrics.LateEvent(key.Profile)
			slog.Debug("[Processor] Dropped late event", "profile", key.Profile, "entity", entity, "event_time", eventTime)
			return err
		}
		if err != nil {
			return err
		}

		w.mu.Lock()
		if w.closed {
			// Closed or expired after lookup; look again.
			w.mu.Unlock()
			continue
		}
		err = w.update(ctx, msg, p.opts.Clock.Now())
		w.mu.Unlock()
		if err != nil {
			p.opts.Metrics.EvaluationFailed(key.Profile)
			return err
		}
		p.opts.Metrics.MessageApplied(key.Profile)
		return nil
	}
	return fmt.Errorf("profile %q entity %q: window kept closing under update", key.Profile, entity)
}

// eventTime reads the configured timestamp field, or the clock when none is set.
func (p *Processor) eventTime(msg map[string]any) (time.Time, error) {
	if p.opts.TimestampField == "" {
		return p.opts.Clock.Now(), nil
	}
	raw, ok := msg[p.opts.TimestampField]
	if !ok || raw == nil {
		return time.Time{}, fmt.Errorf("message has no %q field", p.opts.TimestampField)
	}
	switch v := raw.(type) {
	case time.Time:
		return v, nil
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse %q: %w", p.opts.TimestampField, err)
		}
		return t, nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return time.Time{}, fmt.Errorf("%q is not a finite number", p.opts.TimestampField)
		}
		return time.UnixMilli(int64(v)), nil
	case int64:
		return time.UnixMilli(v), nil
	case int:
		return time.UnixMilli(int64(v)), nil
	default:
		return time.Time{}, fmt.Errorf("%q must be epoch millis or RFC3339, got %T", p.opts.TimestampField, raw)
	}
}
