// Package maas implements the model-as-a-service functions: MAAS_MODEL_APPLY
// invokes a discovered model over HTTP, MAAS_GET_ENDPOINT looks one up.
package maas

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aevon-lab/aevon-profiler/internal/capability"
	"github.com/aevon-lab/aevon-profiler/internal/discovery"
	"github.com/aevon-lab/aevon-profiler/internal/function"
	"github.com/aevon-lab/aevon-profiler/internal/metrics"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	DefaultConfigBucket = "maas-config"
	DefaultConfigKey    = "config"
	DefaultServiceRoot  = "maas-endpoints"
)

// Options configures both functions.
type Options struct {
	CacheTTL         time.Duration // expire-after-write
	CacheSize        uint64
	Timeout          time.Duration
	FailureThreshold uint32 // consecutive failures before an instance is blacklisted
	BreakerReset     time.Duration
	Method           string // http.MethodGet or http.MethodPost
	ConfigBucket     string
	ConfigKey        string
	BlacklistTTL     time.Duration
	HTTPClient       *http.Client
	Metrics          *metrics.Metrics
}

func (o Options) withDefaults() Options {
	if o.CacheTTL <= 0 {
		o.CacheTTL = 10 * time.Minute
	}
	if o.CacheSize == 0 {
		o.CacheSize = 100000
	}
	if o.Timeout <= 0 {
		o.Timeout = 2 * time.Second
	}
	if o.FailureThreshold == 0 {
		o.FailureThreshold = 1
	}
	if o.BreakerReset <= 0 {
		o.BreakerReset = 30 * time.Second
	}
	if o.Method == "" {
		o.Method = http.MethodGet
	}
	if o.ConfigBucket == "" {
		o.ConfigBucket = DefaultConfigBucket
	}
	if o.ConfigKey == "" {
		o.ConfigKey = DefaultConfigKey
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{}
	}
	return o
}

// Register adds MAAS_MODEL_APPLY and MAAS_GET_ENDPOINT to r.
func Register(r *function.Registry, opts Options) error {
	opts = opts.withDefaults()
	if err := r.Register(function.Info{
		Namespace:   "MAAS",
		Name:        "MAAS_MODEL_APPLY",
		Description: "Invokes a model endpoint and returns its JSON response. Results are cached; failed instances are blacklisted.",
		Params:      []string{"endpoint", "method?", "args?"},
		Returns:     "map",
	}, func() function.Handle { return NewModelApply(opts) }); err != nil {
		return err
	}
	return r.Register(function.Info{
		Namespace:   "MAAS",
		Name:        "MAAS_GET_ENDPOINT",
		Description: "Looks up a model endpoint by name and optional version.",
		Params:      []string{"name", "version?"},
		Returns:     "map",
	}, func() function.Handle { return NewGetEndpoint(opts) })
}

// serviceConfig is the document stored under the well-known config key.
type serviceConfig struct {
	ServiceRoot string `json:"service_root"`
}

// resolveDiscoverer returns the shared discovery client, building it from
// the coordination client when no one has yet.
func resolveDiscoverer(ctx context.Context, caps *capability.Set, opts Options) (discovery.Client, error) {
	if d, ok := caps.Discoverer(); ok {
		return d, nil
	}
	js, ok := caps.Coordinator()
	if !ok {
		return nil, fmt.Errorf("maas: no discovery client and no coordination client available")
	}
	return caps.LoadOrCreateDiscoverer(func() (discovery.Client, func(), error) {
		root, err := loadServiceRoot(ctx, js, opts.ConfigBucket, opts.ConfigKey)
		if err != nil {
			return nil, nil, err
		}
		d, err := discovery.Open(ctx, js, root, discovery.Options{BlacklistTTL: opts.BlacklistTTL})
		if err != nil {
			return nil, nil, err
		}
		if err := d.Start(ctx); err != nil {
			return nil, nil, err
		}
		return d, d.Stop, nil
	})
}

func loadServiceRoot(ctx context.Context, js jetstream.JetStream, bucket, key string) (string, error) {
	kv, err := js.KeyValue(ctx, bucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		return DefaultServiceRoot, nil
	}
	if err != nil {
		return "", fmt.Errorf("maas: open config bucket %q: %w", bucket, err)
	}
	entry, err := kv.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return DefaultServiceRoot, nil
	}
	if err != nil {
		return "", fmt.Errorf("maas: read config %s/%s: %w", bucket, key, err)
	}
	var cfg serviceConfig
	if err := json.Unmarshal(entry.Value(), &cfg); err != nil {
		return "", fmt.Errorf("maas: decode config %s/%s: %w", bucket, key, err)
	}
	if cfg.ServiceRoot == "" {
		return DefaultServiceRoot, nil
	}
	return cfg.ServiceRoot, nil
}
