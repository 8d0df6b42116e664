package aggregation

import (
	"errors"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

var (
	// ErrLateEvent is returned for messages whose period has already closed.
	ErrLateEvent = errors.New("late event: period already closed")
	// ErrStopped is returned once the store has been drained for shutdown.
	ErrStopped = errors.New("window store stopped")
)

const defaultShards = 64

type shard struct {
	mu      sync.Mutex
	windows map[Key]*Window
}

// Store holds the open windows. Map operations lock one shard; evaluation
// locks only the window being updated.
type Store struct {
	shards []*shard

	mu         sync.RWMutex
	watermarks map[string]int64     // per profile: every period id below is closed
	eventTimes map[string]time.Time // per profile: latest event time observed
	stopped    bool
}

// NewStore returns a store with n shards (a default when n <= 0).
func NewStore(n int) *Store {
	if n <= 0 {
		n = defaultShards
	}
	s := &Store{
		shards:     make([]*shard, n),
		watermarks: make(map[string]int64),
		eventTimes: make(map[string]time.Time),
	}
	for i := range s.shards {
		s.shards[i] = &shard{windows: make(map[Key]*Window)}
	}
	return s
}

func (s *Store) shardFor(k Key) *shard {
	d := xxhash.New()
	_, _ = d.WriteString(k.Profile)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(k.Entity)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(strconv.FormatInt(k.Period, 10))
	return s.shards[d.Sum64()%uint64(len(s.shards))]
}

// getOrCreate returns the live window for k, creating it when absent.
func (s *Store) getOrCreate(p *Profile, k Key, now time.Time) (*Window, error) {
	sh := s.shardFor(k)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	s.mu.RLock()
	stopped := s.stopped
	wm, seen := s.watermarks[k.Profile]
	s.mu.RUnlock()
	if stopped {
		return nil, ErrStopped
	}
	if seen && k.Period < wm {
		return nil, ErrLateEvent
	}

	if w, ok := sh.windows[k]; ok {
		return w, nil
	}
	w := newWindow(p, k, now)
	sh.windows[k] = w
	return w, nil
}

// observe records an event time for profile.
func (s *Store) observe(profile string, t time.Time) {
	s.mu.RLock()
	newer := t.After(s.eventTimes[profile])
	s.mu.RUnlock()
	if !newer {
		return
	}
	s.mu.Lock()
	if t.After(s.eventTimes[profile]) {
		s.eventTimes[profile] = t
	}
	s.mu.Unlock()
}

// EventTime is the latest event time observed for profile.
func (s *Store) EventTime(profile string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.eventTimes[profile]
	return t, ok
}

// Advance closes every period of profile below watermark: it raises the
// profile's watermark, then removes and returns the windows it covers.
// Watermarks never move backwards.
func (s *Store) Advance(profile string, watermark int64) []*Window {
	s.mu.Lock()
	if cur, ok := s.watermarks[profile]; !ok || watermark > cur {
		s.watermarks[profile] = watermark
	} else {
		watermark = cur
	}
	s.mu.Unlock()

	return s.remove(func(w *Window) bool {
		return w.key.Profile == profile && w.key.Period < watermark
	})
}

// Expire removes windows idle for longer than their profile's TTL.
func (s *Store) Expire(now time.Time) []*Window {
	return s.remove(func(w *Window) bool {
		return w.idleSince(now) > w.profile.TTL()
	})
}

// Drain stops the store and removes every window. Later ingestion fails with ErrStopped.
func (s *Store) Drain() []*Window {
	s.mu.Lock()
	s.stopped = true
	for name := range s.watermarks {
		s.watermarks[name] = math.MaxInt64
	}
	s.mu.Unlock()
	return s.remove(func(*Window) bool { return true })
}

func (s *Store) remove(match func(*Window) bool) []*Window {
	var out []*Window
	for _, sh := range s.shards {
		sh.mu.Lock()
		for k, w := range sh.windows {
			if match(w) {
				out = append(out, w)
				delete(sh.windows, k)
			}
		}
		sh.mu.Unlock()
	}
	return out
}

// Len is the number of open windows.
func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.windows)
		sh.mu.Unlock()
	}
	return n
}
