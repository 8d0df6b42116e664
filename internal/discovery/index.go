package discovery

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Client resolves model endpoints. Implementations are safe for concurrent use.
type Client interface {
	// GetEndpoint returns an instance of the latest version of name that
	// has a usable (not blacklisted) instance.
	GetEndpoint(name string) (Endpoint, bool)
	// GetEndpointVersion returns a usable instance of exactly name@version.
	GetEndpointVersion(name, version string) (Endpoint, bool)
	// Blacklist excludes an instance URL from lookups for a while.
	Blacklist(url string)
}

// index is the in-memory view of registered instances shared by every Client.
type index struct {
	mu        sync.Mutex
	instances map[string]Endpoint // keyed by registration key
	cursor    map[string]uint64   // round-robin position per name@version
	blacklist *ttlcache.Cache[string, struct{}]
}

func newIndex(blacklistTTL time.Duration) *index {
	return &index{
		instances: make(map[string]Endpoint),
		cursor:    make(map[string]uint64),
		blacklist: ttlcache.New(
			ttlcache.WithTTL[string, struct{}](blacklistTTL),
			ttlcache.WithDisableTouchOnHit[string, struct{}](),
		),
	}
}

// put registers or replaces an instance. Re-registering a URL lifts its blacklisting.
func (ix *index) put(key string, ep Endpoint) {
	ix.mu.Lock()
	ix.instances[key] = ep
	ix.mu.Unlock()
	ix.blacklist.Delete(normalizeURL(ep.URL))
}

func (ix *index) remove(key string) {
	ix.mu.Lock()
	delete(ix.instances, key)
	ix.mu.Unlock()
}

func (ix *index) Blacklist(url string) {
	ix.blacklist.Set(normalizeURL(url), struct{}{}, ttlcache.DefaultTTL)
	slog.Warn("[Discovery] Blacklisted endpoint", "url", url)
}

func (ix *index) blacklisted(url string) bool {
	return ix.blacklist.Get(normalizeURL(url)) != nil
}

func (ix *index) GetEndpoint(name string) (Endpoint, bool) {
	return ix.lookup(name, "")
}

func (ix *index) GetEndpointVersion(name, version string) (Endpoint, bool) {
	return ix.lookup(name, version)
}

func (ix *index) lookup(name, version string) (Endpoint, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	var usable []Endpoint
	for _, ep := range ix.instances {
		if ep.Name != name || (version != "" && ep.Version != version) {
			continue
		}
		if ix.blacklisted(ep.URL) {
			continue
		}
		usable = append(usable, ep)
	}
	if len(usable) == 0 {
		return Endpoint{}, false
	}

	if version == "" {
		version = usable[0].Version
		for _, ep := range usable[1:] {
			if compareVersions(ep.Version, version) > 0 {
				version = ep.Version
			}
		}
		latest := usable[:0]
		for _, ep := range usable {
			if ep.Version == version {
				latest = append(latest, ep)
			}
		}
		usable = latest
	}

	sort.Slice(usable, func(i, j int) bool { return usable[i].URL < usable[j].URL })
	slot := name + "@" + version
	pos := ix.cursor[slot]
	ix.cursor[slot] = pos + 1
	return usable[pos%uint64(len(usable))], true
}

// Static is a Client over a fixed set of endpoints.
type Static struct {
	*index
}

// NewStatic registers eps under synthetic keys.
func NewStatic(blacklistTTL time.Duration, eps ...Endpoint) *Static {
	s := &Static{index: newIndex(blacklistTTL)}
	for i, ep := range eps {
		s.put(fmt.Sprintf("static.%d", i), ep)
	}
	return s
}
