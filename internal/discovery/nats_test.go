package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"
)

// startJetStream runs an in-process NATS server with JetStream enabled.
func startJetStream(t *testing.T) jetstream.JetStream {
	t.Helper()

	ns, err := server.NewServer(&server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
		NoLog:     true,
		NoSigs:    true,
	})
	require.NoError(t, err)
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats server not ready")
	}
	t.Cleanup(ns.Shutdown)

	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	js, err := jetstream.New(nc)
	require.NoError(t, err)
	return js
}

func TestDiscoverer_FollowsRegistrations(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	js := startJetStream(t)

	d, err := Open(ctx, js, "maas-endpoints", Options{})
	require.NoError(t, err)

	// Registered before Start: part of the initial load.
	key1, err := Register(ctx, d.kv, uuid.New(), Endpoint{Name: "dga", Version: "1.0", URL: "http://a:1"})
	require.NoError(t, err)

	require.NoError(t, d.Start(ctx))
	defer d.Stop()

	ep, ok := d.GetEndpoint("dga")
	require.True(t, ok)
	require.Equal(t, "http://a:1", ep.URL)

	// Registered after Start: arrives through the watch.
	_, err = Register(ctx, d.kv, uuid.New(), Endpoint{Name: "dga", Version: "2.0", URL: "http://b:1"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		ep, ok := d.GetEndpoint("dga")
		return ok && ep.Version == "2.0"
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, Deregister(ctx, d.kv, key1))
	require.Eventually(t, func() bool {
		_, ok := d.GetEndpointVersion("dga", "1.0")
		return !ok
	}, 5*time.Second, 20*time.Millisecond)
}

func TestDiscoverer_EmptyBucketStarts(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	js := startJetStream(t)

	d, err := Open(ctx, js, "empty", Options{})
	require.NoError(t, err)
	require.NoError(t, d.Start(ctx))
	d.Stop()
	d.Stop()

	_, ok := d.GetEndpoint("anything")
	require.False(t, ok)
}

func TestRegister_Validates(t *testing.T) {
	_, err := Register(context.Background(), nil, uuid.New(), Endpoint{Name: "m"})
	require.ErrorContains(t, err, "url is required")

	require.Error(t, Deregister(context.Background(), nil, "config.x"))
}
