package maas

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/aevon-lab/aevon-profiler/internal/capability"
	"github.com/aevon-lab/aevon-profiler/internal/discovery"
	"github.com/jellydator/ttlcache/v3"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"
)

// DefaultMethod is invoked when no method is named.
const DefaultMethod = "apply"

// maxResponseBytes bounds the model response body read into memory.
const maxResponseBytes = 4 << 20

// ModelApply implements MAAS_MODEL_APPLY(endpoint, [method], args).
type ModelApply struct {
	opts       Options
	cache      *ttlcache.Cache[string, map[string]any]
	group      singleflight.Group
	discoverer discovery.Client

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewModelApply returns an uninitialized handle.
func NewModelApply(opts Options) *ModelApply {
	opts = opts.withDefaults()
	return &ModelApply{
		opts: opts,
		cache: ttlcache.New(
			ttlcache.WithTTL[string, map[string]any](opts.CacheTTL),
			ttlcache.WithCapacity[string, map[string]any](opts.CacheSize),
			ttlcache.WithDisableTouchOnHit[string, map[string]any](),
		),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (m *ModelApply) Initialize(ctx context.Context, caps *capability.Set) error {
	d, err := resolveDiscoverer(ctx, caps, m.opts)
	if err != nil {
		return err
	}
	m.discoverer = d
	go m.cache.Start()
	caps.OnClose(m.cache.Stop)
	return nil
}

// request is one resolved model invocation.
type request struct {
	model   string
	version string
	baseURL string
	path    string
	args    map[string]any
}

func (r request) cacheKey() (string, error) {
	// encoding/json sorts map keys, so equal maps yield equal keys.
	args, err := json.Marshal(r.args)
	if err != nil {
		return "", fmt.Errorf("encode model args: %w", err)
	}
	return r.model + "|" + r.version + "|" + r.path + "|" + string(args), nil
}

// Apply returns the model's response map, or nil when the model could not be
// reached or the call is malformed. Only a wrong argument count is an error.
func (m *ModelApply) Apply(ctx context.Context, args []any) (any, error) {
	if len(args) < 2 || len(args) > 3 {
		return nil, fmt.Errorf("expected (endpoint, [method], args), got %d arguments", len(args))
	}
	req, ok, err := parseRequest(args)
	if !ok && err == nil {
		return nil, nil
	}
	var key string
	if err == nil {
		key, err = req.cacheKey()
	}
	if err != nil {
		slog.Warn("[MaaS] Malformed model call", "model", req.model, "error", err)
		m.opts.Metrics.ModelFailed(req.model)
		return nil, nil
	}
	if item := m.cache.Get(key); item != nil {
		m.opts.Metrics.CacheLookup(true)
		return item.Value(), nil
	}
	m.opts.Metrics.CacheLookup(false)

	v, err, _ := m.group.Do(key, func() (any, error) {
		out, err := m.breaker(req.baseURL).Execute(func() (interface{}, error) {
			return m.invoke(ctx, req)
		})
		if err != nil {
			return nil, err
		}
		result := out.(map[string]any)
		m.cache.Set(key, result, ttlcache.DefaultTTL)
		return result, nil
	})
	if err != nil {
		slog.Warn("[MaaS] Model call failed",
			"model", req.model,
			"version", req.version,
			"url", req.baseURL,
			"path", req.path,
			"error", err,
		)
		m.opts.Metrics.ModelFailed(req.model)
		return nil, nil
	}
	return v, nil
}

// parseRequest reads (endpoint, args) or (endpoint, method, args).
// ok is false when the endpoint is null. The returned request carries the
// model name even on error.
func parseRequest(args []any) (request, bool, error) {
	if args[0] == nil {
		return request{}, false, nil
	}
	ep, ok := args[0].(map[string]any)
	if !ok {
		return request{}, false, fmt.Errorf("endpoint must be a map, got %T", args[0])
	}

	req := request{}
	req.model, _ = ep["name"].(string)
	req.version, _ = ep["version"].(string)
	req.baseURL, _ = ep["url"].(string)
	if req.baseURL == "" {
		return req, false, fmt.Errorf("endpoint %q has no url", req.model)
	}

	method := ""
	modelArgs := args[len(args)-1]
	if len(args) == 3 && args[1] != nil {
		s, ok := args[1].(string)
		if !ok {
			return req, false, fmt.Errorf("method must be a string, got %T", args[1])
		}
		method = s
	}
	req.path = resolvePath(ep, method)

	if modelArgs != nil {
		m, ok := modelArgs.(map[string]any)
		if !ok {
			return req, false, fmt.Errorf("args must be a map, got %T", modelArgs)
		}
		req.args = m
	} else {
		req.args = map[string]any{}
	}
	return req, true, nil
}

// resolvePath picks the remote path for method. An "endpoint:<method>"
// override wins over the literal method name.
func resolvePath(ep map[string]any, method string) string {
	if method == "" {
		method = DefaultMethod
	}
	if p, ok := ep[discovery.FunctionKeyPrefix+method].(string); ok && p != "" {
		return p
	}
	return method
}

// joinURL joins base and path with exactly one slash between them.
func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

func (m *ModelApply) invoke(ctx context.Context, req request) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	defer cancel()

	target, err := url.Parse(joinURL(req.baseURL, req.path))
	if err != nil {
		return nil, fmt.Errorf("parse model url: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("model url %q is not absolute", target.String())
	}

	var httpReq *http.Request
	switch m.opts.Method {
	case http.MethodPost:
		body, err := json.Marshal(req.args)
		if err != nil {
			return nil, fmt.Errorf("encode model args: %w", err)
		}
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
	default:
		q := target.Query()
		for k, v := range req.args {
			q.Set(k, fmt.Sprint(v))
		}
		target.RawQuery = q.Encode()
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
		if err != nil {
			return nil, err
		}
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := m.opts.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call model: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("model returned status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read model response: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode model response: %w", err)
	}
	if out == nil {
		return nil, fmt.Errorf("model response is not an object")
	}
	return out, nil
}

// breaker returns the circuit breaker guarding one instance URL. Tripping it
// blacklists the URL with the discovery client.
func (m *ModelApply) breaker(baseURL string) *gobreaker.CircuitBreaker {
	key := strings.TrimRight(baseURL, "/")
	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok := m.breakers[key]; ok {
		return cb
	}
	threshold := m.opts.FailureThreshold
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    key,
		Timeout: m.opts.BreakerReset,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, _, to gobreaker.State) {
			if to == gobreaker.StateOpen && m.discoverer != nil {
				m.discoverer.Blacklist(name)
			}
		},
	})
	m.breakers[key] = cb
	return cb
}
