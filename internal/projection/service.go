// Package projection serves stored profile values: over HTTP and to profile
// expressions through PROFILE_GET.
package projection

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aevon-lab/aevon-profiler/internal/core/profile"
	"github.com/aevon-lab/aevon-profiler/internal/core/serde"
	"github.com/aevon-lab/aevon-profiler/internal/core/storage"
	"k8s.io/utils/clock"
)

// maxPeriods bounds how many periods a single read may span.
const maxPeriods = 10000

var (
	// ErrInvalidQuery marks request validation errors that should return HTTP 400.
	ErrInvalidQuery = errors.New("invalid profile query")
	// ErrUnknownProfile is returned for profiles that are not loaded.
	ErrUnknownProfile = errors.New("unknown profile")
)

// Options configures a Service. Family and SaltDivisor must match the writer's.
type Options struct {
	Family      string
	SaltDivisor int
	Clock       clock.PassiveClock
}

// Service reads persisted profile cells.
type Service struct {
	store    storage.Store
	keys     storage.RowKeyBuilder
	family   string
	profiles map[string]profile.Definition
	clock    clock.PassiveClock
}

// NewService creates a new projection service.
func NewService(store storage.Store, defs []profile.Definition, opts Options) *Service {
	if opts.Family == "" {
		opts.Family = "P"
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	profiles := make(map[string]profile.Definition, len(defs))
	for _, def := range defs {
		profiles[def.Name] = def
	}
	return &Service{
		store:    store,
		keys:     storage.RowKeyBuilder{SaltDivisor: opts.SaltDivisor},
		family:   opts.Family,
		profiles: profiles,
		clock:    opts.Clock,
	}
}

// Profiles lists the loaded definitions, sorted by name.
func (s *Service) Profiles() []ProfileSummary {
	out := make([]ProfileSummary, 0, len(s.profiles))
	for _, def := range s.profiles {
		out = append(out, ProfileSummary{
			Name:        def.Name,
			ValueType:   string(def.ValueType),
			Period:      def.Period.String(),
			TTL:         def.TTL.String(),
			Fingerprint: def.Fingerprint,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Fetch returns the stored values of every period intersecting [start, end),
// oldest first. Periods with nothing stored are omitted.
func (s *Service) Fetch(ctx context.Context, profileName, entity string, start, end time.Time) ([]PeriodValues, error) {
	def, ok := s.profiles[profileName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProfile, profileName)
	}
	if entity == "" {
		return nil, invalidQueryf("entity is required")
	}
	if !end.After(start) {
		return nil, invalidQueryf("end time must be after start time")
	}
	if n := profile.PeriodID(end, def.Period) - profile.PeriodID(start, def.Period); n > maxPeriods {
		return nil, invalidQueryf("range spans %d periods (max %d)", n, maxPeriods)
	}

	rows := s.keys.Range(profileName, entity, def.Period, start, end)
	cells, err := s.store.Get(ctx, s.family, rows...)
	if err != nil {
		return nil, fmt.Errorf("read profile %q entity %q: %w", profileName, entity, err)
	}

	byPeriod := make(map[int64]*PeriodValues)
	for _, c := range cells {
		id, ok := storage.PeriodIDOf(c.RowKey)
		if !ok {
			return nil, fmt.Errorf("malformed row key for profile %q", profileName)
		}
		v, err := serde.Decode(c.Value)
		if err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", profileName, c.Qualifier, err)
		}
		pv, ok := byPeriod[id]
		if !ok {
			periodStart := profile.StartOf(id, def.Period)
			pv = &PeriodValues{
				PeriodStart: periodStart,
				PeriodEnd:   periodStart.Add(def.Period),
				Values:      make(map[string]any),
			}
			byPeriod[id] = pv
		}
		pv.Values[c.Qualifier] = v
	}

	ids := make([]int64, 0, len(byPeriod))
	for id := range byPeriod {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]PeriodValues, 0, len(ids))
	for _, id := range ids {
		out = append(out, *byPeriod[id])
	}
	return out, nil
}

// Query runs a read API request.
func (s *Service) Query(ctx context.Context, req ProfileQueryRequest) (*ProfileQueryResponse, error) {
	periods, err := s.Fetch(ctx, req.Profile, req.Entity, req.Start, req.End)
	if err != nil {
		return nil, err
	}
	for i := range periods {
		for q, v := range periods[i].Values {
			periods[i].Values[q] = render(v)
		}
	}
	return &ProfileQueryResponse{
		Profile:   req.Profile,
		Entity:    req.Entity,
		ValueType: string(s.profiles[req.Profile].ValueType),
		Start:     req.Start,
		End:       req.End,
		Periods:   periods,
	}, nil
}

// Lookback returns one qualifier's values for the periods covering the last
// lookback up to now, oldest first.
func (s *Service) Lookback(ctx context.Context, profileName, entity, qualifier string, lookback time.Duration) ([]any, error) {
	if lookback <= 0 {
		return nil, invalidQueryf("lookback must be positive")
	}
	now := s.clock.Now()
	periods, err := s.Fetch(ctx, profileName, entity, now.Add(-lookback), now)
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(periods))
	for _, p := range periods {
		if v, ok := p.Values[qualifier]; ok {
			out = append(out, v)
		}
	}
	return out, nil
}

func invalidQueryf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidQuery, fmt.Sprintf(format, args...))
}
