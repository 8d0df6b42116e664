// Package capability carries the shared clients a function may need during
// initialization. A Set is scoped to one processing run.
package capability

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/aevon-lab/aevon-profiler/internal/discovery"
	"github.com/nats-io/nats.go/jetstream"
)

// Set is the typed capability context handed to function initializers.
type Set struct {
	mu          sync.Mutex
	coordinator jetstream.JetStream
	discoverer  discovery.Client
	closers     []func()
	closed      bool
}

// New returns a Set. coordinator may be nil when no coordination service is configured.
func New(coordinator jetstream.JetStream) *Set {
	return &Set{coordinator: coordinator}
}

// Coordinator returns the coordination client, if any.
func (s *Set) Coordinator() (jetstream.JetStream, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coordinator, s.coordinator != nil
}

// Discoverer returns the shared discovery client, if one has been set.
func (s *Set) Discoverer() (discovery.Client, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.discoverer, s.discoverer != nil
}

// SetDiscoverer installs an externally owned discovery client.
func (s *Set) SetDiscoverer(d discovery.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discoverer = d
}

// LoadOrCreateDiscoverer returns the shared discovery client, building it
// with create when absent. create runs at most once per successful call and
// its stop func runs on Close.
func (s *Set) LoadOrCreateDiscoverer(create func() (discovery.Client, func(), error)) (discovery.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.discoverer != nil {
		return s.discoverer, nil
	}
	if s.closed {
		return nil, fmt.Errorf("capability set closed")
	}
	d, stop, err := create()
	if err != nil {
		return nil, err
	}
	s.discoverer = d
	if stop != nil {
		s.closers = append(s.closers, stop)
	}
	return d, nil
}

// OnClose registers teardown for something created on behalf of the set.
func (s *Set) OnClose(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		fn()
		return
	}
	s.closers = append(s.closers, fn)
}

// Close runs registered teardown in reverse order.
func (s *Set) Close() {
	s.mu.Lock()
	closers := s.closers
	s.closers = nil
	s.closed = true
	s.mu.Unlock()

	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
	if len(closers) > 0 {
		slog.Info("[Capability] Released shared clients", "count", len(closers))
	}
}
