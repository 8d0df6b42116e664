package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
)

// KeyPrefix namespaces endpoint registrations inside the bucket.
const KeyPrefix = "endpoints."

const stopTimeout = 5 * time.Second

// Options configures a Discoverer.
type Options struct {
	// BlacklistTTL bounds how long a failed instance is skipped. Zero means
	// until it re-registers.
	BlacklistTTL time.Duration
}

// Discoverer keeps an index of model endpoints in sync with a JetStream
// key-value bucket.
type Discoverer struct {
	*index
	kv jetstream.KeyValue

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// Open binds to bucket, creating it if it does not exist.
func Open(ctx context.Context, js jetstream.JetStream, bucket string, opts Options) (*Discoverer, error) {
	kv, err := js.KeyValue(ctx, bucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      bucket,
			Description: "model endpoint registrations",
		})
	}
	if err != nil {
		return nil, fmt.Errorf("discovery: open bucket %q: %w", bucket, err)
	}
	return NewDiscoverer(kv, opts), nil
}

// NewDiscoverer returns a Discoverer over kv. Call Start before lookups.
func NewDiscoverer(kv jetstream.KeyValue, opts Options) *Discoverer {
	return &Discoverer{
		index: newIndex(opts.BlacklistTTL),
		kv:    kv,
	}
}

// Start loads the current registrations and keeps following changes until
// Stop. It returns once the initial values are loaded.
func (d *Discoverer) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return nil
	}
	watchCtx, cancel := context.WithCancel(context.Background())
	w, err := d.kv.Watch(watchCtx, KeyPrefix+">")
	if err != nil {
		d.mu.Unlock()
		cancel()
		return fmt.Errorf("discovery: watch: %w", err)
	}
	d.cancel = cancel
	d.done = make(chan struct{})
	d.started = true
	d.mu.Unlock()

	ready := make(chan struct{})
	go d.follow(w, ready)
	go d.blacklist.Start()

	select {
	case <-ready:
		slog.Info("[Discovery] Endpoint index loaded", "bucket", d.kv.Bucket())
		return nil
	case <-ctx.Done():
		d.Stop()
		return ctx.Err()
	}
}

func (d *Discoverer) follow(w jetstream.KeyWatcher, ready chan struct{}) {
	defer close(d.done)
	defer w.Stop() //nolint:errcheck

	synced := false
	for e := range w.Updates() {
		if e == nil {
			// End of initial values.
			if !synced {
				synced = true
				close(ready)
			}
			continue
		}
		switch e.Operation() {
		case jetstream.KeyValuePut:
			var ep Endpoint
			if err := json.Unmarshal(e.Value(), &ep); err != nil {
				slog.Warn("[Discovery] Ignoring malformed registration", "key", e.Key(), "error", err)
				continue
			}
			if err := ep.Validate(); err != nil {
				slog.Warn("[Discovery] Ignoring invalid registration", "key", e.Key(), "error", err)
				continue
			}
			d.put(e.Key(), ep)
			slog.Debug("[Discovery] Endpoint registered", "key", e.Key(), "name", ep.Name, "version", ep.Version, "url", ep.URL)
		case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
			d.remove(e.Key())
			slog.Debug("[Discovery] Endpoint removed", "key", e.Key())
		}
	}
}

// Stop ends the watch. It is safe to call more than once.
func (d *Discoverer) Stop() {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	d.started = false
	cancel, done := d.cancel, d.done
	d.mu.Unlock()

	cancel()
	d.blacklist.Stop()
	select {
	case <-done:
	case <-time.After(stopTimeout):
		slog.Warn("[Discovery] Watcher did not stop in time")
	}
}

// Register publishes ep under a key derived from instanceID and returns the key.
func Register(ctx context.Context, kv jetstream.KeyValue, instanceID uuid.UUID, ep Endpoint) (string, error) {
	if err := ep.Validate(); err != nil {
		return "", err
	}
	data, err := json.Marshal(ep)
	if err != nil {
		return "", fmt.Errorf("discovery: encode endpoint: %w", err)
	}
	key := KeyPrefix + instanceID.String()
	if _, err := kv.Put(ctx, key, data); err != nil {
		return "", fmt.Errorf("discovery: register %s: %w", key, err)
	}
	return key, nil
}

// Deregister removes a registration made by Register.
func Deregister(ctx context.Context, kv jetstream.KeyValue, key string) error {
	if !strings.HasPrefix(key, KeyPrefix) {
		return fmt.Errorf("discovery: %q is not an endpoint key", key)
	}
	if err := kv.Delete(ctx, key); err != nil {
		return fmt.Errorf("discovery: deregister %s: %w", key, err)
	}
	return nil
}
