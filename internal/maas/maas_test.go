package maas

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aevon-lab/aevon-profiler/internal/capability"
	"github.com/aevon-lab/aevon-profiler/internal/discovery"
	"github.com/aevon-lab/aevon-profiler/internal/function"
	"github.com/aevon-lab/aevon-profiler/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

// modelServer answers every request with the path and query it saw.
func modelServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"path":  r.URL.Path,
			"query": r.URL.RawQuery,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newModelApply(t *testing.T, opts Options, eps ...discovery.Endpoint) (*ModelApply, *discovery.Static) {
	t.Helper()
	static := discovery.NewStatic(time.Minute, eps...)
	caps := capability.New(nil)
	caps.SetDiscoverer(static)
	t.Cleanup(caps.Close)

	m := NewModelApply(opts)
	require.NoError(t, m.Initialize(context.Background(), caps))
	return m, static
}

func TestModelApply_CachesByArgumentValue(t *testing.T) {
	var calls atomic.Int32
	srv := modelServer(t, &calls)
	ep := discovery.Endpoint{Name: "dga", Version: "1.0", URL: srv.URL}
	m, _ := newModelApply(t, Options{}, ep)

	first, err := m.Apply(context.Background(), []any{ep.ToMap(), map[string]any{"a": int64(1)}})
	require.NoError(t, err)
	second, err := m.Apply(context.Background(), []any{ep.ToMap(), map[string]any{"a": int64(1)}})
	require.NoError(t, err)

	require.Equal(t, int32(1), calls.Load())
	require.Equal(t, first, second)
	require.Equal(t, "/apply", first.(map[string]any)["path"])
	require.Equal(t, "a=1", first.(map[string]any)["query"])

	_, err = m.Apply(context.Background(), []any{ep.ToMap(), map[string]any{"a": int64(2)}})
	require.NoError(t, err)
	require.Equal(t, int32(2), calls.Load())
}

func TestModelApply_ResolvesPath(t *testing.T) {
	var calls atomic.Int32
	srv := modelServer(t, &calls)

	tests := []struct {
		name   string
		url    string
		funcs  map[string]string
		method any
		want   string
	}{
		{name: "override wins over literal", url: srv.URL, funcs: map[string]string{"score": "/v2/score"}, method: "score", want: "/v2/score"},
		{name: "literal method", url: srv.URL, method: "score", want: "/score"},
		{name: "default override", url: srv.URL, funcs: map[string]string{"apply": "predict"}, method: nil, want: "/predict"},
		{name: "trailing and leading slashes", url: srv.URL + "/", funcs: map[string]string{"score": "/v2/score"}, method: "score", want: "/v2/score"},
		{name: "no slashes", url: srv.URL + "/models", method: "score", want: "/models/score"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep := discovery.Endpoint{Name: "m", Version: "1", URL: tt.url, Functions: tt.funcs}
			m, _ := newModelApply(t, Options{}, ep)

			out, err := m.Apply(context.Background(), []any{ep.ToMap(), tt.method, map[string]any{}})
			require.NoError(t, err)
			require.NotNil(t, out)
			require.Equal(t, tt.want, out.(map[string]any)["path"])
		})
	}
}

func TestJoinURL(t *testing.T) {
	for _, base := range []string{"http://h:1/m", "http://h:1/m/", "http://h:1/m//"} {
		for _, path := range []string{"x", "/x", "//x"} {
			require.Equal(t, "http://h:1/m/x", joinURL(base, path))
		}
	}
}

func TestModelApply_PostsJSON(t *testing.T) {
	var (
		method string
		got    map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"is_malicious":"legit"}`))
	}))
	defer srv.Close()
	ep := discovery.Endpoint{Name: "dga", Version: "1", URL: srv.URL}
	m, _ := newModelApply(t, Options{Method: http.MethodPost}, ep)

	out, err := m.Apply(context.Background(), []any{ep.ToMap(), map[string]any{"host": "example.com"}})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"is_malicious": "legit"}, out)
	require.Equal(t, http.MethodPost, method)
	require.Equal(t, map[string]any{"host": "example.com"}, got)
}

func TestModelApply_FailureBlacklistsAndReturnsAbsent(t *testing.T) {
	var calls atomic.Int32
	good := modelServer(t, &calls)
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer bad.Close()

	badEp := discovery.Endpoint{Name: "dga", Version: "1", URL: bad.URL}
	goodEp := discovery.Endpoint{Name: "dga", Version: "1", URL: good.URL}
	m, static := newModelApply(t, Options{}, badEp, goodEp)

	out, err := m.Apply(context.Background(), []any{badEp.ToMap(), map[string]any{}})
	require.NoError(t, err)
	require.Nil(t, out)

	for i := 0; i < 4; i++ {
		ep, ok := static.GetEndpoint("dga")
		require.True(t, ok)
		require.Equal(t, good.URL, ep.URL)
	}
}

func TestModelApply_FailureThreshold(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	ep := discovery.Endpoint{Name: "m", Version: "1", URL: srv.URL}
	m, static := newModelApply(t, Options{FailureThreshold: 2}, ep)

	out, err := m.Apply(context.Background(), []any{ep.ToMap(), map[string]any{"n": int64(1)}})
	require.NoError(t, err)
	require.Nil(t, out)
	_, ok := static.GetEndpoint("m")
	require.True(t, ok, "one failure is below the threshold")

	_, err = m.Apply(context.Background(), []any{ep.ToMap(), map[string]any{"n": int64(2)}})
	require.NoError(t, err)
	_, ok = static.GetEndpoint("m")
	require.False(t, ok)
}

func TestModelApply_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ep := discovery.Endpoint{Name: "slow", Version: "1", URL: srv.URL}
	m, static := newModelApply(t, Options{Timeout: 50 * time.Millisecond}, ep)

	start := time.Now()
	out, err := m.Apply(context.Background(), []any{ep.ToMap(), map[string]any{}})
	require.NoError(t, err)
	require.Nil(t, out)
	require.Less(t, time.Since(start), 2*time.Second)
	_, ok := static.GetEndpoint("slow")
	require.False(t, ok)
}

func TestModelApply_Arguments(t *testing.T) {
	m, _ := newModelApply(t, Options{})

	_, err := m.Apply(context.Background(), []any{map[string]any{"url": "http://h"}})
	require.Error(t, err)
	_, err = m.Apply(context.Background(), []any{nil, "apply", map[string]any{}, map[string]any{}})
	require.Error(t, err)

	out, err := m.Apply(context.Background(), []any{nil, map[string]any{}})
	require.NoError(t, err)
	require.Nil(t, out)
}

func TestModelApply_MalformedCallIsAbsent(t *testing.T) {
	tests := []struct {
		name string
		args []any
	}{
		{"endpoint not a map", []any{"not a map", map[string]any{}}},
		{"endpoint without url", []any{map[string]any{"name": "m"}, map[string]any{}}},
		{"method not a string", []any{map[string]any{"name": "m", "url": "http://h"}, int64(3), map[string]any{}}},
		{"args not a map", []any{map[string]any{"name": "m", "url": "http://h"}, "score", []any{int64(1)}}},
		{"relative url", []any{map[string]any{"name": "m", "url": "not-a-host"}, map[string]any{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := metrics.New()
			m, _ := newModelApply(t, Options{Metrics: reg})

			out, err := m.Apply(context.Background(), tt.args)
			require.NoError(t, err)
			require.Nil(t, out)

			n, err := testutil.GatherAndCount(reg.Registry(), "profiler_model_failures_total")
			require.NoError(t, err)
			require.Equal(t, 1, n)
		})
	}
}

func TestRegister_InertWithoutDiscovery(t *testing.T) {
	r := function.NewRegistry(capability.New(nil))
	require.NoError(t, Register(r, Options{}))

	fn, err := r.Resolve(context.Background(), "MAAS_MODEL_APPLY")
	require.NoError(t, err)
	out, err := fn.Apply(context.Background(), []any{map[string]any{"url": "http://h"}, map[string]any{}})
	require.NoError(t, err)
	require.Nil(t, out)

	f, err := r.Lookup("MAAS_MODEL_APPLY")
	require.NoError(t, err)
	require.Equal(t, function.StateFailed, f.State())
	require.Error(t, f.Err())
}

func TestGetEndpoint(t *testing.T) {
	static := discovery.NewStatic(time.Minute,
		discovery.Endpoint{Name: "dga", Version: "1.0", URL: "http://a:1"},
		discovery.Endpoint{Name: "dga", Version: "2.0", URL: "http://b:1", Functions: map[string]string{"score": "/v2/score"}},
	)
	caps := capability.New(nil)
	caps.SetDiscoverer(static)
	defer caps.Close()

	r := function.NewRegistry(caps)
	require.NoError(t, Register(r, Options{}))
	fn, err := r.Resolve(context.Background(), "MAAS_GET_ENDPOINT")
	require.NoError(t, err)

	out, err := fn.Apply(context.Background(), []any{"dga"})
	require.NoError(t, err)
	require.Equal(t, map[string]any{
		"name":           "dga",
		"version":        "2.0",
		"url":            "http://b:1",
		"endpoint:score": "/v2/score",
	}, out)

	out, err = fn.Apply(context.Background(), []any{"dga", "1.0"})
	require.NoError(t, err)
	require.Equal(t, "http://a:1", out.(map[string]any)["url"])

	out, err = fn.Apply(context.Background(), []any{"missing"})
	require.NoError(t, err)
	require.Nil(t, out)

	_, err = fn.Apply(context.Background(), []any{int64(1)})
	require.Error(t, err)
}
